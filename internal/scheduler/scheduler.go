// Package scheduler is the single logical executor: one loop owns the
// transport, the node and universe registries, and the four periodic
// tasks (poll broadcast, reply burst, DMX-tx pacing, TTL sweep). All
// registry mutation happens on this loop; external callers reach it
// only through Submit, a channel used in place of a mutex, because
// there is only the one loop and no other lock to take.
package scheduler

import (
	"context"
	"errors"
	"log"
	"net"
	"time"

	"github.com/TeaEngineering/goartnet/internal/node"
	"github.com/TeaEngineering/goartnet/internal/pubsub"
	"github.com/TeaEngineering/goartnet/internal/transport"
	"github.com/TeaEngineering/goartnet/internal/universe"
	"github.com/TeaEngineering/goartnet/pkg/artnet"
)

// CodecStats accumulates inbound decode outcomes: every dropped
// datagram has no synchronous caller to report an error to, so counters
// are where it goes instead.
type CodecStats struct {
	Dropped       uint64
	BadMagic      uint64
	Truncated     uint64
	UnknownOpCode uint64
}

// Identity is this process's own advertised Art-Net node identity.
type Identity struct {
	IP        [4]byte
	MAC       [6]byte
	ShortName string
	LongName  string
	EstaMan   uint16
	OemCode   uint16
	Style     byte
}

// LocalPort is one port this process has adopted locally.
type LocalPort struct {
	Address  artnet.PortAddress
	IsInput  bool
	IsOutput bool
}

// Timing bundles the scheduler's periodic-task intervals.
type Timing struct {
	PollInterval   time.Duration
	NodeTTL        time.Duration
	SweepInterval  time.Duration
	DMXMinInterval time.Duration
	DMXKeepAlive   time.Duration
}

// maxPortsPerReply mirrors ArtPollReply's fixed PortTypes/SwIn/SwOut
// array size; a local node advertising more than 4 ports spans
// additional bindIndex records at the same IP.
const maxPortsPerReply = 4

// Loop is the participant core's single event loop.
type Loop struct {
	transport *transport.Transport
	codec     artnet.Codec
	nodes     *node.Registry
	universes *universe.Registry
	events    *pubsub.PubSub
	identity  Identity
	timing    Timing

	ports []LocalPort

	submit  chan func()
	inbound chan transport.Datagram

	lastPoll      time.Time
	lastHeartbeat time.Time
	lastSweep     time.Time

	stats CodecStats
}

// NewLoop constructs a Loop ready for Run.
func NewLoop(tr *transport.Transport, nodes *node.Registry, universes *universe.Registry, events *pubsub.PubSub, identity Identity, timing Timing) *Loop {
	return &Loop{
		transport: tr,
		nodes:     nodes,
		universes: universes,
		events:    events,
		identity:  identity,
		timing:    timing,
		submit:    make(chan func(), 32),
		inbound:   make(chan transport.Datagram, 64),
	}
}

// Submit posts fn to run on the loop goroutine; it is the only safe
// entry point for callers on other goroutines. Do not call Submit from
// inside a function already running on the loop.
func (l *Loop) Submit(fn func()) {
	l.submit <- fn
}

// Run drives the receive goroutine and the scheduler tick until ctx is
// cancelled. Node-registry reconciliation from one inbound ArtPollReply
// always completes before the next datagram is processed, because both
// run on this one goroutine.
func (l *Loop) Run(ctx context.Context) error {
	go l.receiveLoop(ctx)

	tick := time.NewTicker(l.timing.DMXMinInterval)
	defer tick.Stop()

	now := time.Now()
	l.lastPoll = now
	l.lastHeartbeat = now
	l.lastSweep = now

	// Announce ourselves and solicit the network's current population
	// right away rather than sitting silent for the first poll interval.
	l.sendPoll()
	l.sendReplyBurst()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.submit:
			fn()
		case dg := <-l.inbound:
			l.handleDatagram(dg)
		case now := <-tick.C:
			l.onTick(now)
		}
	}
}

func (l *Loop) receiveLoop(ctx context.Context) {
	for {
		dg, err := l.transport.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("artnet: recv: %v", err)
			continue
		}
		select {
		case l.inbound <- dg:
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) handleDatagram(dg transport.Datagram) {
	frame, err := l.codec.Decode(dg.Payload)
	if err != nil {
		l.stats.Dropped++
		switch {
		case errors.Is(err, artnet.ErrBadMagic):
			l.stats.BadMagic++
		case errors.Is(err, artnet.ErrTruncatedFrame):
			l.stats.Truncated++
		}
		return
	}
	switch f := frame.(type) {
	case artnet.Poll:
		l.sendReplyBurst()
	case artnet.PollReply:
		id := node.ID{IP: dg.SrcIP, BindIndex: f.BindIndex}
		_, known := l.nodes.Get(id)
		delta := l.nodes.UpsertFromReply(f, dg.SrcIP, time.Now())
		l.universes.ApplyDelta(delta)
		kind := pubsub.NodeUpdated
		if !known {
			kind = pubsub.NodeAdded
		}
		l.events.Publish(pubsub.Event{Kind: kind, Payload: delta.NodeID})
	case artnet.DMX:
		if l.universes.OnDMX(f.Address, f.Sequence, f.Data) {
			l.events.Publish(pubsub.Event{Kind: pubsub.UniverseChanged, Payload: f.Address})
		}
	case artnet.Unknown:
		// unhandled OpCode: tolerated, never processed.
		l.stats.UnknownOpCode++
	}
}

func (l *Loop) onTick(now time.Time) {
	if now.Sub(l.lastPoll) >= l.timing.PollInterval {
		l.sendPoll()
		l.lastPoll = now
	}
	if now.Sub(l.lastHeartbeat) >= l.timing.PollInterval {
		l.sendReplyBurst()
		l.lastHeartbeat = now
	}
	l.transmitDMX(now)
	if now.Sub(l.lastSweep) >= l.timing.SweepInterval {
		for _, d := range l.nodes.Sweep(now) {
			l.universes.ApplyDelta(d)
			l.events.Publish(pubsub.Event{Kind: pubsub.NodeRemoved, Payload: d.NodeID})
		}
		l.lastSweep = now
	}
}

func (l *Loop) sendPoll() {
	frame := artnet.Poll{TalkToMe: artnet.TalkToMeReplyOnChange, Priority: artnet.PriorityDefault}
	buf, err := l.codec.Encode(frame)
	if err != nil {
		return
	}
	if err := l.transport.Send(nil, buf); err != nil {
		log.Printf("artnet: send poll: %v", err)
	}
}

// sendReplyBurst emits one ArtPollReply per local bindIndex, in
// ascending order, so a peer observing sequential replies reconstructs
// this node deterministically.
func (l *Loop) sendReplyBurst() {
	groups := chunkPorts(l.ports, maxPortsPerReply)
	if len(groups) == 0 {
		groups = [][]LocalPort{nil}
	}
	for i, group := range groups {
		reply := l.buildReply(byte(i), group)
		buf, err := l.codec.Encode(reply)
		if err != nil {
			continue
		}
		if err := l.transport.Send(nil, buf); err != nil {
			log.Printf("artnet: send poll reply: %v", err)
		}
	}
}

func chunkPorts(ports []LocalPort, size int) [][]LocalPort {
	var out [][]LocalPort
	for i := 0; i < len(ports); i += size {
		end := i + size
		if end > len(ports) {
			end = len(ports)
		}
		out = append(out, ports[i:end])
	}
	return out
}

func (l *Loop) buildReply(bindIndex byte, group []LocalPort) artnet.PollReply {
	r := artnet.PollReply{
		IP:        l.identity.IP,
		Oem:       l.identity.OemCode,
		EstaMan:   l.identity.EstaMan,
		ShortName: l.identity.ShortName,
		LongName:  l.identity.LongName,
		Style:     l.identity.Style,
		MAC:       l.identity.MAC,
		BindIp:    l.identity.IP,
		BindIndex: bindIndex,
		NumPorts:  uint8(len(group)),
	}
	if len(group) > 0 {
		r.NetSwitch = group[0].Address.Net & 0x7F
		r.SubSwitch = group[0].Address.SubNet & 0x0F
	}
	for i, p := range group {
		if p.IsInput {
			r.PortTypes[i] |= artnet.PortTypeCanInput
			r.SwIn[i] = p.Address.Universe & 0x0F
		}
		if p.IsOutput {
			r.PortTypes[i] |= artnet.PortTypeCanOutput
			r.SwOut[i] = p.Address.Universe & 0x0F
		}
	}
	return r
}

// transmitDMX applies the DMX pacing rule on each tick: one scan over
// every local-input universe, sending whatever is dirty or due for a
// keep-alive, rather than running a goroutine per universe.
func (l *Loop) transmitDMX(now time.Time) {
	for _, u := range l.universes.All() {
		if u.LocalRole != universe.RolePublisher && u.LocalRole != universe.RoleBoth {
			continue
		}
		if u.LastTxTime.IsZero() && !u.Dirty {
			continue // nothing was ever set on this universe
		}
		due := u.Dirty || now.Sub(u.LastTxTime) >= l.timing.DMXKeepAlive
		if !due {
			continue
		}
		if !u.LastTxTime.IsZero() && now.Sub(u.LastTxTime) < l.timing.DMXMinInterval {
			continue // rate-limited; reconsidered next tick
		}
		l.sendDMX(u.Address, now)
	}
}

func (l *Loop) sendDMX(addr artnet.PortAddress, now time.Time) {
	payload, seq, ok := l.universes.PrepareTransmit(addr, now)
	if !ok {
		return
	}
	buf, err := l.codec.Encode(artnet.DMX{Sequence: seq, Address: addr, Data: payload})
	if err != nil {
		return
	}

	ips := l.universes.SubscriberIPs(addr)
	if len(ips) == 0 {
		if err := l.transport.Send(nil, buf); err != nil {
			log.Printf("artnet: send dmx broadcast: %v", err)
		}
		return
	}
	for _, ip := range ips {
		dst := &net.UDPAddr{IP: net.IPv4(ip[0], ip[1], ip[2], ip[3]), Port: artnet.DefaultPort}
		if err := l.transport.Send(dst, buf); err != nil {
			log.Printf("artnet: send dmx to %s: %v", dst.IP, err)
		}
	}
}

// SetLocalPort adopts addr as a local port, merging directions if the
// address was already adopted, and triggers an immediate reply burst so
// peers learn of the configuration change. Must be called on the loop
// goroutine, or via Submit.
func (l *Loop) SetLocalPort(addr artnet.PortAddress, isInput, isOutput bool) error {
	if err := l.universes.ConfigureLocal(addr, isInput, isOutput); err != nil {
		return err
	}
	for i, p := range l.ports {
		if p.Address == addr {
			l.ports[i].IsInput = l.ports[i].IsInput || isInput
			l.ports[i].IsOutput = l.ports[i].IsOutput || isOutput
			l.sendReplyBurst()
			return nil
		}
	}
	l.ports = append(l.ports, LocalPort{Address: addr, IsInput: isInput, IsOutput: isOutput})
	l.sendReplyBurst()
	return nil
}

// SetDMX updates addr's outbound payload; the next tick's DMX-tx task
// picks it up per the pacing rule. Must be called on the loop goroutine,
// or via Submit.
func (l *Loop) SetDMX(addr artnet.PortAddress, payload []byte) error {
	return l.universes.SetDMX(addr, payload)
}

// GetDMX returns addr's last known payload, zero-padded to 512 bytes.
func (l *Loop) GetDMX(addr artnet.PortAddress) ([]byte, error) {
	return l.universes.GetDMX(addr)
}

// ListNodes returns a snapshot of discovered Nodes.
func (l *Loop) ListNodes() []node.Node {
	return l.nodes.List()
}

// ListUniverses returns a value-type snapshot of all known Universes,
// keyed by packed PortAddress, copied while still on the loop goroutine
// so the caller never observes a Universe the scheduler is concurrently
// mutating.
func (l *Loop) ListUniverses() map[uint16]universe.Snapshot {
	return l.universes.Snapshot()
}

// Stats returns the lifetime CodecStats counters.
func (l *Loop) Stats() CodecStats {
	return l.stats
}
