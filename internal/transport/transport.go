// Package transport binds the Art-Net UDP socket, including the
// broadcast and address-reuse socket options a listener needs to
// coexist with other Art-Net software on the same host.
package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// maxDatagram is larger than any Art-Net frame (the biggest, ArtDMX, tops
// out at 18+512 bytes) but generous enough to tolerate a misbehaving peer
// without a second read.
const maxDatagram = 2048

// Datagram is one received UDP packet paired with its source IP.
type Datagram struct {
	SrcIP   [4]byte
	Payload []byte
}

// Transport owns the bound Art-Net UDP socket.
type Transport struct {
	conn      *net.UDPConn
	broadcast *net.UDPAddr
}

// Listen binds a UDP socket to bindAddr (normally "0.0.0.0:6454") with
// SO_BROADCAST and SO_REUSEADDR set so multiple Art-Net processes can
// share the port the way reference nodes do. broadcastIP is the address
// Send uses when it is not given an explicit destination.
func Listen(bindAddr string, broadcastIP net.IP, port int) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr("udp4", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", bindAddr, err)
	}

	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(context.Background(), "udp4", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", bindAddr, err)
	}

	return &Transport{
		conn:      conn.(*net.UDPConn),
		broadcast: &net.UDPAddr{IP: broadcastIP, Port: port},
	}, nil
}

// reuseControl sets SO_BROADCAST so ArtPoll/ArtPollReply can go out to the
// limited broadcast address, and SO_REUSEADDR so a second process (or a
// restart racing the OS's TIME_WAIT) can rebind the same port, matching
// reference Art-Net node behaviour.
func reuseControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			opErr = fmt.Errorf("set SO_BROADCAST: %w", err)
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			opErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
			return
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// Send writes payload to dst, or to the configured broadcast address if
// dst is nil.
func (t *Transport) Send(dst *net.UDPAddr, payload []byte) error {
	if dst == nil {
		dst = t.broadcast
	}
	_, err := t.conn.WriteToUDP(payload, dst)
	return err
}

// Recv blocks until ctx is cancelled or a datagram arrives, returning the
// source IP and a copy of the payload. Per-packet read errors (other than
// context cancellation) are returned to the caller to log and continue;
// they never stop the loop.
func (t *Transport) Recv(ctx context.Context) (Datagram, error) {
	if err := ctx.Err(); err != nil {
		return Datagram{}, err
	}
	// A previous Recv whose context expired leaves its deadline armed on
	// the shared socket; clear it so this call blocks normally.
	_ = t.conn.SetReadDeadline(time.Time{})

	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = t.conn.SetReadDeadline(time.Now())
		case <-readDone:
		}
	}()

	buf := make([]byte, maxDatagram)
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if ctx.Err() != nil {
			return Datagram{}, ctx.Err()
		}
		return Datagram{}, fmt.Errorf("transport: read: %w", err)
	}

	var ip [4]byte
	if ip4 := addr.IP.To4(); ip4 != nil {
		copy(ip[:], ip4)
	}
	payload := make([]byte, n)
	copy(payload, buf[:n])
	return Datagram{SrcIP: ip, Payload: payload}, nil
}

// LocalAddr returns the transport's bound local address.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Close releases the underlying socket.
func (t *Transport) Close() error { return t.conn.Close() }
