// Package iface resolves which local network interface and broadcast
// address to bind Art-Net transport to, ranking candidates by an
// overridable policy.
package iface

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrUnknownInterface is returned by ResolveNamed when the caller forced
// a specific interface name and no enumerated candidate carries it.
var ErrUnknownInterface = errors.New("iface: unknown interface")

// Candidate is one usable IPv4 interface: its address, broadcast address,
// and owning interface name.
type Candidate struct {
	InterfaceName string
	Address       net.IP
	Broadcast     net.IP
}

// RankRule scores a Candidate; Resolve picks the candidate with the
// lowest matching rule index (first rule wins across all candidates).
// A RankRule that does not apply to a candidate returns false.
type RankRule func(Candidate) bool

// DefaultRanking is the four-tier policy: an address inside 2.0.0.0/8
// (the convention some Art-Net fixtures use for a dedicated lighting
// VLAN; only the first octet is checked, the interface's netmask is not
// compared), then wired (enp*) interfaces, then wireless
// (wlp*) interfaces, then any other IPv4 interface. Integrators
// override this slice wholesale to change the policy.
var DefaultRanking = []RankRule{
	func(c Candidate) bool { return c.Address.To4() != nil && c.Address.To4()[0] == 2 },
	func(c Candidate) bool { return strings.HasPrefix(c.InterfaceName, "enp") },
	func(c Candidate) bool { return strings.HasPrefix(c.InterfaceName, "wlp") },
	func(Candidate) bool { return true },
}

// Resolve enumerates net.Interfaces(), skipping down and loopback
// interfaces and non-IPv4 addresses, computes each address's broadcast
// address from its netmask, and returns the candidate matched by the
// first RankRule (in order) that applies to at least one candidate.
func Resolve(ranking []RankRule) (Candidate, error) {
	candidates, err := enumerate()
	if err != nil {
		return Candidate{}, err
	}
	if len(candidates) == 0 {
		return Candidate{}, fmt.Errorf("iface: no usable IPv4 interface found")
	}
	for _, rule := range ranking {
		for _, c := range candidates {
			if rule(c) {
				return c, nil
			}
		}
	}
	return Candidate{}, fmt.Errorf("iface: no candidate matched the ranking policy")
}

// ResolveNamed enumerates candidates and returns the one whose
// InterfaceName is an exact match for name. Unlike Resolve's ranked
// policy, a forced name that matches nothing is distinguishable as
// ErrUnknownInterface rather than the generic ranking-exhausted error,
// since callers need to tell "you typo'd an interface name" apart from
// "no interface anywhere matched the default policy".
func ResolveNamed(name string) (Candidate, error) {
	candidates, err := enumerate()
	if err != nil {
		return Candidate{}, err
	}
	for _, c := range candidates {
		if c.InterfaceName == name {
			return c, nil
		}
	}
	return Candidate{}, fmt.Errorf("%w: %s", ErrUnknownInterface, name)
}

func enumerate() ([]Candidate, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("iface: enumerate interfaces: %w", err)
	}

	var out []Candidate
	for _, i := range ifaces {
		if i.Flags&net.FlagUp == 0 || i.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := i.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			broadcast := calculateBroadcast(ip4, ipNet.Mask)
			if broadcast == nil || broadcast.Equal(ip4) {
				continue
			}
			out = append(out, Candidate{
				InterfaceName: i.Name,
				Address:       ip4,
				Broadcast:     broadcast,
			})
		}
	}
	return out, nil
}

// calculateBroadcast computes the broadcast address from an IPv4 address
// and netmask (address OR the mask's complement).
func calculateBroadcast(ip net.IP, mask net.IPMask) net.IP {
	ip4 := ip.To4()
	if ip4 == nil || mask == nil {
		return nil
	}
	if len(mask) == 16 {
		mask = mask[12:16]
	}
	if len(mask) != 4 {
		return nil
	}
	broadcast := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		broadcast[i] = ip4[i] | ^mask[i]
	}
	return broadcast
}
