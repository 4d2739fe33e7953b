package node

import (
	"time"

	"github.com/TeaEngineering/goartnet/pkg/artnet"
)

// DefaultTTL is the default node liveness window.
const DefaultTTL = 30 * time.Second

// Delta describes the port memberships a registry mutation added or
// removed for one Node, so a caller can reconcile the universe registry
// without the two registries holding pointers into each other.
type Delta struct {
	NodeID  ID
	Added   []Port
	Removed []Port
}

// Registry is the set of known peers keyed by (ip, bindIndex). It is
// not safe for concurrent use: all mutation happens on the single
// scheduler loop.
type Registry struct {
	nodes map[ID]Node
	ttl   time.Duration
}

// NewRegistry constructs an empty registry with the given liveness TTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{nodes: make(map[ID]Node), ttl: ttl}
}

// UpsertFromReply creates or updates the Node this reply describes,
// replacing its port list wholesale, and returns the port-set delta for
// universe-registry reconciliation.
func (r *Registry) UpsertFromReply(reply artnet.PollReply, srcIP [4]byte, now time.Time) Delta {
	next := fromReply(reply, srcIP, now)
	prev, existed := r.nodes[next.ID]
	r.nodes[next.ID] = next

	if !existed {
		return Delta{NodeID: next.ID, Added: next.Ports}
	}
	return diffPorts(next.ID, prev.PortSet(), next.PortSet())
}

// Sweep removes every Node whose LastSeen is older than the registry's
// TTL as of now, returning one Delta per removed Node describing the
// ports that must be dropped from the universe registry.
func (r *Registry) Sweep(now time.Time) []Delta {
	var deltas []Delta
	for id, n := range r.nodes {
		if now.Sub(n.LastSeen) > r.ttl {
			delete(r.nodes, id)
			deltas = append(deltas, Delta{NodeID: id, Removed: n.Ports})
		}
	}
	return deltas
}

// List returns a stable snapshot of all known nodes.
func (r *Registry) List() []Node {
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// Get returns the Node for id, if known.
func (r *Registry) Get(id ID) (Node, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

// Len returns the number of known nodes.
func (r *Registry) Len() int { return len(r.nodes) }

// diffPorts computes the symmetric difference between a Node's previous
// and new port sets.
func diffPorts(id ID, prev, next map[Port]struct{}) Delta {
	d := Delta{NodeID: id}
	for p := range next {
		if _, ok := prev[p]; !ok {
			d.Added = append(d.Added, p)
		}
	}
	for p := range prev {
		if _, ok := next[p]; !ok {
			d.Removed = append(d.Removed, p)
		}
	}
	return d
}
