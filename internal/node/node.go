// Package node implements the registry of observed Art-Net peers: the
// discovery half of the participant's state machine.
package node

import (
	"time"

	"github.com/TeaEngineering/goartnet/pkg/artnet"
)

// ID identifies a Node by (ip, bindIndex): the IP is the source address
// of the ArtPollReply datagram and BindIndex is the reply's BindIndex
// field (see fromReply).
type ID struct {
	IP        [4]byte
	BindIndex byte
}

// Direction of a Port as advertised by a peer.
type Direction int

const (
	Input Direction = iota
	Output
)

// Port is one advertised port on a peer, restricted to the DMX ports this
// core tracks (non-DMX ports are dropped at ArtPollReply decode time, see
// pkg/artnet.PollReply.Ports).
type Port struct {
	Address   artnet.PortAddress
	Direction Direction
}

// Node is an observed Art-Net peer, built from the most recent
// ArtPollReply for its (ip, bindIndex).
type Node struct {
	ID         ID
	MAC        [6]byte
	ShortName  string
	LongName   string
	EstaMan    uint16
	OemCode    uint16
	Style      byte
	NodeReport string
	Ports      []Port
	LastSeen   time.Time
}

// PortSet returns Ports as a set keyed by (Address, Direction), used by the
// registry to diff a Node's previous and new port lists.
func (n Node) PortSet() map[Port]struct{} {
	set := make(map[Port]struct{}, len(n.Ports))
	for _, p := range n.Ports {
		set[p] = struct{}{}
	}
	return set
}

// fromReply builds the Node this ArtPollReply describes. srcIP is the
// datagram's source address, used as ID.IP (the reply's own IP field is
// not trusted for identity since Art-Net gateways sometimes misreport it).
func fromReply(reply artnet.PollReply, srcIP [4]byte, now time.Time) Node {
	inputs, outputs := reply.Ports()
	ports := make([]Port, 0, len(inputs)+len(outputs))
	for _, a := range inputs {
		ports = append(ports, Port{Address: a, Direction: Input})
	}
	for _, a := range outputs {
		ports = append(ports, Port{Address: a, Direction: Output})
	}
	return Node{
		ID:         ID{IP: srcIP, BindIndex: reply.BindIndex},
		MAC:        reply.MAC,
		ShortName:  reply.ShortName,
		LongName:   reply.LongName,
		EstaMan:    reply.EstaMan,
		OemCode:    reply.Oem,
		Style:      reply.Style,
		NodeReport: reply.NodeReport,
		Ports:      ports,
		LastSeen:   now,
	}
}
