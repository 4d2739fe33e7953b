// Package goartnet is the public library surface: a single Client
// wires together interface resolution, the UDP transport, the node and
// universe registries, and the scheduler loop, and exposes the small set
// of operations an integrator needs (configure a local port, get/set DMX,
// list discovered peers, subscribe to change notifications).
package goartnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/TeaEngineering/goartnet/internal/config"
	"github.com/TeaEngineering/goartnet/internal/iface"
	"github.com/TeaEngineering/goartnet/internal/node"
	"github.com/TeaEngineering/goartnet/internal/pubsub"
	"github.com/TeaEngineering/goartnet/internal/scheduler"
	"github.com/TeaEngineering/goartnet/internal/transport"
	"github.com/TeaEngineering/goartnet/internal/universe"
	"github.com/TeaEngineering/goartnet/pkg/artnet"
)

// ErrConflictingIPConfig is returned by New when a Config names both a
// specific Interface and an explicit UnicastIP/BroadcastIP override:
// there is no way to honor both, so resolveAddresses refuses to silently
// pick one over the other.
var ErrConflictingIPConfig = errors.New("goartnet: both Interface and UnicastIP/BroadcastIP configured")

// sweepInterval is the fixed cadence of the scheduler's TTL sweep
// task; unlike the poll and DMX intervals, this is not tunable.
const sweepInterval = time.Second

// Client is one Art-Net participant: a bound socket, its own advertised
// identity, and the single scheduler loop that owns all mutable state.
type Client struct {
	loop      *scheduler.Loop
	transport *transport.Transport
	events    *pubsub.PubSub
	cfg       *config.Config
}

// Stats is the public alias for the scheduler's codec counters.
type Stats = scheduler.CodecStats

// New resolves the bind interface (or honors cfg.Interface/UnicastIP/
// BroadcastIP overrides), binds the UDP transport, and constructs the
// scheduler loop. Call Run to start processing; the Client is otherwise
// idle until Run's goroutine begins ticking.
func New(cfg *config.Config) (*Client, error) {
	bindIP, broadcastIP, ifaceName, err := resolveAddresses(cfg)
	if err != nil {
		return nil, fmt.Errorf("goartnet: resolve bind address: %w", err)
	}

	tr, err := transport.Listen(fmt.Sprintf("%s:%d", bindIP, cfg.Port), broadcastIP, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("goartnet: listen: %w", err)
	}

	identity := scheduler.Identity{
		ShortName: cfg.ShortName,
		LongName:  cfg.LongName,
		EstaMan:   cfg.EstaMan,
		OemCode:   cfg.OemCode,
		Style:     cfg.Style,
	}
	copy(identity.IP[:], bindIP.To4())
	if hw, ok := hardwareAddr(ifaceName); ok {
		copy(identity.MAC[:], hw)
	}

	timing := scheduler.Timing{
		PollInterval:   cfg.PollInterval,
		NodeTTL:        cfg.NodeTTL,
		SweepInterval:  sweepInterval,
		DMXMinInterval: cfg.DMXMinInterval,
		DMXKeepAlive:   cfg.DMXKeepAlive,
	}

	events := pubsub.New()
	nodes := node.NewRegistry(cfg.NodeTTL)
	universes := universe.NewRegistry(cfg.Passive)
	loop := scheduler.NewLoop(tr, nodes, universes, events, identity, timing)

	return &Client{loop: loop, transport: tr, events: events, cfg: cfg}, nil
}

// resolveAddresses honors an explicit manual-IP override, or a forced
// Interface name, or else falls back to iface.Resolve's ranked interface
// policy. Manual IPs and a forced Interface name are mutually
// exclusive: there is no single answer for "bind to this IP, but also
// this named interface" if they disagree, so resolveAddresses refuses the
// ambiguity outright rather than silently preferring one. ifaceName is
// the name of the resolved interface, empty for the manual-IP path.
func resolveAddresses(cfg *config.Config) (bindIP, broadcastIP net.IP, ifaceName string, err error) {
	manualIP := cfg.UnicastIP != "" || cfg.BroadcastIP != ""
	if cfg.Interface != "" && manualIP {
		return nil, nil, "", ErrConflictingIPConfig
	}

	if manualIP {
		if cfg.UnicastIP == "" || cfg.BroadcastIP == "" {
			return nil, nil, "", fmt.Errorf("goartnet: ARTNET_UNICAST_IP and ARTNET_BROADCAST_IP must both be set")
		}
		bindIP = net.ParseIP(cfg.UnicastIP)
		broadcastIP = net.ParseIP(cfg.BroadcastIP)
		if bindIP == nil || broadcastIP == nil {
			return nil, nil, "", fmt.Errorf("goartnet: invalid ARTNET_UNICAST_IP/ARTNET_BROADCAST_IP")
		}
		return bindIP, broadcastIP, "", nil
	}

	if cfg.Interface != "" {
		candidate, err := iface.ResolveNamed(cfg.Interface)
		if err != nil {
			return nil, nil, "", err
		}
		return candidate.Address, candidate.Broadcast, candidate.InterfaceName, nil
	}

	candidate, err := iface.Resolve(iface.DefaultRanking)
	if err != nil {
		return nil, nil, "", err
	}
	return candidate.Address, candidate.Broadcast, candidate.InterfaceName, nil
}

func hardwareAddr(name string) (net.HardwareAddr, bool) {
	if name == "" {
		return nil, false
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, false
	}
	return ifi.HardwareAddr, len(ifi.HardwareAddr) == 6
}

// Run drives the scheduler loop until ctx is cancelled, and returns only
// then. A receive error, including one from a closed transport, is logged
// and does not end Run. It blocks; integrators call it from its own
// goroutine.
func (c *Client) Run(ctx context.Context) error {
	return c.loop.Run(ctx)
}

// Close releases the bound UDP socket.
func (c *Client) Close() error {
	return c.transport.Close()
}

// ConfigurePort adopts addr as a local input, output, or both. Safe
// to call concurrently with Run.
func (c *Client) ConfigurePort(addr artnet.PortAddress, isInput, isOutput bool) error {
	errCh := make(chan error, 1)
	c.loop.Submit(func() {
		errCh <- c.loop.SetLocalPort(addr, isInput, isOutput)
	})
	return <-errCh
}

// SetDMX updates the outbound payload for a locally-adopted universe.
// Safe to call concurrently with Run.
func (c *Client) SetDMX(addr artnet.PortAddress, payload []byte) error {
	errCh := make(chan error, 1)
	c.loop.Submit(func() {
		errCh <- c.loop.SetDMX(addr, payload)
	})
	return <-errCh
}

// GetDMX returns the last known payload for a locally-adopted universe,
// zero-padded to 512 bytes. Safe to call concurrently with Run.
func (c *Client) GetDMX(addr artnet.PortAddress) ([]byte, error) {
	type result struct {
		payload []byte
		err     error
	}
	resCh := make(chan result, 1)
	c.loop.Submit(func() {
		payload, err := c.loop.GetDMX(addr)
		resCh <- result{payload, err}
	})
	res := <-resCh
	return res.payload, res.err
}

// ListNodes returns a snapshot of discovered peers. Safe to call
// concurrently with Run.
func (c *Client) ListNodes() []node.Node {
	resCh := make(chan []node.Node, 1)
	c.loop.Submit(func() { resCh <- c.loop.ListNodes() })
	return <-resCh
}

// ListUniverses returns a snapshot of every known universe, keyed by
// packed PortAddress. The snapshot is copied onto value types inside the
// scheduler loop before it is handed back, so it stays valid to read no
// matter what the loop does to its live state afterward. Safe to call
// concurrently with Run.
func (c *Client) ListUniverses() map[uint16]universe.Snapshot {
	resCh := make(chan map[uint16]universe.Snapshot, 1)
	c.loop.Submit(func() { resCh <- c.loop.ListUniverses() })
	return <-resCh
}

// Notifications returns a new subscription to node and universe change
// events. Callers must eventually Unsubscribe.
func (c *Client) Notifications(bufferSize int) *pubsub.Subscriber {
	return c.events.Subscribe(bufferSize)
}

// Unsubscribe cancels a subscription obtained from Notifications.
func (c *Client) Unsubscribe(sub *pubsub.Subscriber) {
	c.events.Unsubscribe(sub)
}

// Stats returns lifetime protocol counters. Safe to call concurrently
// with Run.
func (c *Client) Stats() Stats {
	resCh := make(chan Stats, 1)
	c.loop.Submit(func() { resCh <- c.loop.Stats() })
	return <-resCh
}
