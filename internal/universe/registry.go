package universe

import (
	"errors"
	"time"

	"github.com/TeaEngineering/goartnet/internal/node"
	"github.com/TeaEngineering/goartnet/pkg/artnet"
)

// ErrUniverseNotConfigured is returned by GetDMX/SetDMX for a PortAddress
// that has not been adopted locally.
var ErrUniverseNotConfigured = errors.New("universe: address not configured locally")

// ErrPayloadSize is returned by SetDMX for a payload outside the 1..512
// byte range a DMX-512 universe can carry.
var ErrPayloadSize = errors.New("universe: payload must be 1..512 bytes")

// ErrInvalidPortAddress is returned by ConfigureLocal when a second
// local input port is configured at an address that already has one.
var ErrInvalidPortAddress = errors.New("universe: address already has a local input port")

// Registry is the PortAddress -> Universe map. Like node.Registry, it
// is mutated only from the single scheduler loop.
type Registry struct {
	universes map[uint16]*Universe
	passive   bool
}

// NewRegistry constructs an empty registry. When passive is true, ArtDMX
// for universes with no local role still updates LastDMX; otherwise
// such packets are ignored.
func NewRegistry(passive bool) *Registry {
	return &Registry{universes: make(map[uint16]*Universe), passive: passive}
}

func (r *Registry) getOrCreate(addr artnet.PortAddress) *Universe {
	key := addr.Packed()
	u, ok := r.universes[key]
	if !ok {
		u = newUniverse(addr)
		r.universes[key] = u
	}
	return u
}

func (r *Registry) gc(addr artnet.PortAddress) {
	key := addr.Packed()
	if u, ok := r.universes[key]; ok && u.empty() {
		delete(r.universes, key)
	}
}

// ConfigureLocal adopts addr into the local node's ports, creating the
// Universe if absent, and idempotently sets its LocalRole. A second local
// input port at an address that already has a local input role is
// rejected with ErrInvalidPortAddress rather than silently merged.
func (r *Registry) ConfigureLocal(addr artnet.PortAddress, isInput, isOutput bool) error {
	u := r.getOrCreate(addr)
	if isInput && u.LocalRole.isInput() {
		return ErrInvalidPortAddress
	}
	u.LocalRole = addRole(u.LocalRole, isInput, isOutput)
	return nil
}

// ApplyDelta reconciles the publisher/subscriber sets of every affected
// Universe against a node-registry Delta: table rewriting keyed by
// NodeID and PortAddress, never pointers between the two registries.
func (r *Registry) ApplyDelta(d node.Delta) {
	for _, p := range d.Added {
		u := r.getOrCreate(p.Address)
		switch p.Direction {
		case node.Input:
			u.Publishers[d.NodeID] = struct{}{}
		case node.Output:
			u.Subscribers[d.NodeID] = struct{}{}
		}
	}
	for _, p := range d.Removed {
		key := p.Address.Packed()
		u, ok := r.universes[key]
		if !ok {
			continue
		}
		switch p.Direction {
		case node.Input:
			delete(u.Publishers, d.NodeID)
		case node.Output:
			delete(u.Subscribers, d.NodeID)
		}
		r.gc(p.Address)
	}
}

// OnDMX applies an inbound ArtDMX frame: sequence acceptance then,
// on acceptance, replaces LastDMX, provided this process actually
// subscribes (LocalRole is Subscriber/Both) or passive monitoring is
// enabled and the universe has no local role. Returns true if the frame
// was accepted and applied.
func (r *Registry) OnDMX(addr artnet.PortAddress, seq byte, payload []byte) bool {
	key := addr.Packed()
	u, ok := r.universes[key]
	if !ok {
		if !r.passive {
			return false
		}
		u = r.getOrCreate(addr)
	}
	// Passive monitoring only applies where we have no role at all: a
	// universe we publish must never have its shadow buffer overwritten
	// by inbound traffic (including our own looped-back broadcasts).
	if !u.LocalRole.isOutput() && !(r.passive && u.LocalRole == RoleNone) {
		return false
	}
	if !u.acceptSequence(seq) {
		return false
	}
	u.LastDMX = append(u.LastDMX[:0], payload...)
	return true
}

// SetDMX replaces LastDMX for a locally-adopted universe and marks it
// dirty so the scheduler's pacing rule transmits it. Returns
// ErrUniverseNotConfigured if addr was never adopted locally.
func (r *Registry) SetDMX(addr artnet.PortAddress, payload []byte) error {
	if len(payload) == 0 || len(payload) > artnet.DMXUniverseSize {
		return ErrPayloadSize
	}
	u, ok := r.universes[addr.Packed()]
	if !ok || u.LocalRole == RoleNone {
		return ErrUniverseNotConfigured
	}
	u.LastDMX = append(u.LastDMX[:0], payload...)
	u.Dirty = true
	return nil
}

// GetDMX returns the logically zero-padded 512-byte payload for a
// locally-adopted universe.
func (r *Registry) GetDMX(addr artnet.PortAddress) ([]byte, error) {
	u, ok := r.universes[addr.Packed()]
	if !ok || u.LocalRole == RoleNone {
		return nil, ErrUniverseNotConfigured
	}
	return zeroPadded(u.LastDMX), nil
}

// Get returns the live Universe for addr, if any (used by the scheduler
// for pacing).
func (r *Registry) Get(addr artnet.PortAddress) (*Universe, bool) {
	u, ok := r.universes[addr.Packed()]
	return u, ok
}

// All returns the registry's live internal map, keyed by packed
// PortAddress. For internal scheduler use only (transmitDMX's scan):
// the returned *Universe pointers keep mutating after this call returns,
// so nothing outside the loop goroutine may retain or read them. External
// callers want Snapshot instead.
func (r *Registry) All() map[uint16]*Universe {
	return r.universes
}

// Snapshot copies every live Universe into a value-type Snapshot, keyed
// by packed PortAddress. Must be called on the loop goroutine; the
// result is then safe to hand to any caller, including one running on
// another goroutine.
func (r *Registry) Snapshot() map[uint16]Snapshot {
	out := make(map[uint16]Snapshot, len(r.universes))
	for k, u := range r.universes {
		out[k] = u.snapshot()
	}
	return out
}

// PrepareTransmit performs the state transition the scheduler's DMX-tx
// task needs before sending: advance TxSequence, clear Dirty and
// stamp LastTxTime, returning a copy of the payload to send and the
// sequence to stamp it with. The scheduler owns the decision of whether
// to transmit at all (dirty/keepalive/pacing); this only performs the
// bookkeeping once that decision is made.
func (r *Registry) PrepareTransmit(addr artnet.PortAddress, now time.Time) (payload []byte, seq byte, ok bool) {
	u, exists := r.universes[addr.Packed()]
	if !exists {
		return nil, 0, false
	}
	seq = u.nextSequence()
	u.Dirty = false
	u.LastTxTime = now
	out := make([]byte, len(u.LastDMX))
	copy(out, u.LastDMX)
	return out, seq, true
}

// SubscriberIPs returns the deduplicated set of IPs among addr's
// Universe's subscribers, the destination set for the DMX-tx task's
// unicast fan-out.
func (r *Registry) SubscriberIPs(addr artnet.PortAddress) [][4]byte {
	u, ok := r.universes[addr.Packed()]
	if !ok {
		return nil
	}
	seen := make(map[[4]byte]struct{}, len(u.Subscribers))
	var ips [][4]byte
	for id := range u.Subscribers {
		if _, dup := seen[id.IP]; dup {
			continue
		}
		seen[id.IP] = struct{}{}
		ips = append(ips, id.IP)
	}
	return ips
}
