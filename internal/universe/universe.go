// Package universe implements the per-PortAddress registry of
// publishers, subscribers and DMX shadow buffers, including the inbound
// sequence-acceptance rule.
package universe

import (
	"time"

	"github.com/TeaEngineering/goartnet/internal/node"
	"github.com/TeaEngineering/goartnet/pkg/artnet"
)

// LocalRole describes how this process participates in a Universe.
type LocalRole int

const (
	RoleNone LocalRole = iota
	RolePublisher
	RoleSubscriber
	RoleBoth
)

func (r LocalRole) isInput() bool  { return r == RolePublisher || r == RoleBoth }
func (r LocalRole) isOutput() bool { return r == RoleSubscriber || r == RoleBoth }

func addRole(r LocalRole, isInput, isOutput bool) LocalRole {
	in := r.isInput() || isInput
	out := r.isOutput() || isOutput
	switch {
	case in && out:
		return RoleBoth
	case in:
		return RolePublisher
	case out:
		return RoleSubscriber
	default:
		return RoleNone
	}
}

// Universe is one DMX-512 universe as seen by this process: who publishes
// into it, who subscribes to it, and the last payload observed or sent.
type Universe struct {
	Address     artnet.PortAddress
	Publishers  map[node.ID]struct{}
	Subscribers map[node.ID]struct{}
	LastDMX     []byte
	TxSequence  byte
	RxSequence  byte
	LastTxTime  time.Time
	LocalRole   LocalRole
	Dirty       bool
}

// Snapshot is a value-type copy of a Universe's externally-visible
// state, safe to read after the scheduler loop that produced it has
// moved on to mutate the live Universe. ListUniverses returns these,
// never *Universe.
type Snapshot struct {
	Address     artnet.PortAddress
	Publishers  []node.ID
	Subscribers []node.ID
	LastDMX     []byte
	TxSequence  byte
	RxSequence  byte
	LastTxTime  time.Time
	LocalRole   LocalRole
	Dirty       bool
}

// snapshot copies u's fields into a Snapshot. Must be called on the loop
// goroutine, before the live Universe can be mutated again.
func (u *Universe) snapshot() Snapshot {
	lastDMX := make([]byte, len(u.LastDMX))
	copy(lastDMX, u.LastDMX)
	publishers := make([]node.ID, 0, len(u.Publishers))
	for id := range u.Publishers {
		publishers = append(publishers, id)
	}
	subscribers := make([]node.ID, 0, len(u.Subscribers))
	for id := range u.Subscribers {
		subscribers = append(subscribers, id)
	}
	return Snapshot{
		Address:     u.Address,
		Publishers:  publishers,
		Subscribers: subscribers,
		LastDMX:     lastDMX,
		TxSequence:  u.TxSequence,
		RxSequence:  u.RxSequence,
		LastTxTime:  u.LastTxTime,
		LocalRole:   u.LocalRole,
		Dirty:       u.Dirty,
	}
}

func newUniverse(addr artnet.PortAddress) *Universe {
	return &Universe{
		Address:     addr,
		Publishers:  make(map[node.ID]struct{}),
		Subscribers: make(map[node.ID]struct{}),
	}
}

// empty reports whether this Universe has no reason to exist any more
// (no publishers, no subscribers, and no local role).
func (u *Universe) empty() bool {
	return len(u.Publishers) == 0 && len(u.Subscribers) == 0 && u.LocalRole == RoleNone
}

// nextSequence advances TxSequence, skipping 0 on wrap.
func (u *Universe) nextSequence() byte {
	u.TxSequence++
	if u.TxSequence == 0 {
		u.TxSequence = 1
	}
	return u.TxSequence
}

// acceptSequence applies the signed-delta acceptance rule and, on
// acceptance, advances RxSequence. Sequence 0 always means "unsequenced,
// always accept" and never updates RxSequence.
func (u *Universe) acceptSequence(seq byte) bool {
	if seq == 0 {
		return true
	}
	if u.RxSequence == 0 {
		u.RxSequence = seq
		return true
	}
	delta := int8(seq - u.RxSequence)
	if delta > 0 || delta <= -128 {
		u.RxSequence = seq
		return true
	}
	return false
}

// zeroPadded returns LastDMX logically extended to 512 bytes.
func zeroPadded(b []byte) []byte {
	out := make([]byte, artnet.DMXUniverseSize)
	copy(out, b)
	return out
}
