package scheduler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/TeaEngineering/goartnet/internal/node"
	"github.com/TeaEngineering/goartnet/internal/pubsub"
	"github.com/TeaEngineering/goartnet/internal/transport"
	"github.com/TeaEngineering/goartnet/internal/universe"
	"github.com/TeaEngineering/goartnet/pkg/artnet"
)

func newTestLoop(t *testing.T) (*Loop, *transport.Transport) {
	t.Helper()

	// remote stands in for the rest of the Art-Net segment: the loop's
	// "broadcast" address is wired to remote's bound address so every
	// broadcast the loop emits lands there.
	remote, err := transport.Listen("127.0.0.1:0", net.IPv4(127, 255, 255, 255), 0)
	if err != nil {
		t.Fatalf("Listen remote: %v", err)
	}
	t.Cleanup(func() { remote.Close() })
	remoteAddr := remote.LocalAddr().(*net.UDPAddr)

	own, err := transport.Listen("127.0.0.1:0", remoteAddr.IP, remoteAddr.Port)
	if err != nil {
		t.Fatalf("Listen own: %v", err)
	}
	t.Cleanup(func() { own.Close() })

	timing := Timing{
		PollInterval:   2500 * time.Millisecond,
		NodeTTL:        30 * time.Second,
		SweepInterval:  time.Second,
		DMXMinInterval: 25 * time.Millisecond,
		DMXKeepAlive:   time.Second,
	}
	identity := Identity{IP: [4]byte{192, 168, 1, 100}, ShortName: "test", LongName: "test node"}
	loop := NewLoop(own, node.NewRegistry(timing.NodeTTL), universe.NewRegistry(false), pubsub.New(), identity, timing)
	return loop, remote
}

func recvFrame(t *testing.T, remote *transport.Transport) artnet.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	dg, err := remote.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	frame, err := artnet.Decode(dg.Payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return frame
}

func TestSendPollBroadcastsWithExpectedFlags(t *testing.T) {
	loop, remote := newTestLoop(t)
	loop.sendPoll()

	frame := recvFrame(t, remote)
	poll, ok := frame.(artnet.Poll)
	if !ok {
		t.Fatalf("frame = %T, want artnet.Poll", frame)
	}
	if poll.TalkToMe != artnet.TalkToMeReplyOnChange {
		t.Errorf("TalkToMe = 0x%02x, want 0x%02x", poll.TalkToMe, artnet.TalkToMeReplyOnChange)
	}
	if poll.Priority != artnet.PriorityDefault {
		t.Errorf("Priority = 0x%02x, want 0x%02x", poll.Priority, artnet.PriorityDefault)
	}
}

func TestSendReplyBurstOrdersByAscendingBindIndex(t *testing.T) {
	loop, remote := newTestLoop(t)

	addrs := []artnet.PortAddress{
		{Net: 0, SubNet: 0, Universe: 1},
		{Net: 0, SubNet: 0, Universe: 2},
		{Net: 0, SubNet: 0, Universe: 3},
		{Net: 0, SubNet: 0, Universe: 4},
		{Net: 0, SubNet: 0, Universe: 5},
	}
	for _, a := range addrs {
		if err := loop.SetLocalPort(a, true, false); err != nil {
			t.Fatalf("SetLocalPort(%v): %v", a, err)
		}
	}

	// Each SetLocalPort call triggers its own reply burst; drain all of
	// them and keep only the final (5-port) burst's two replies.
	var last []artnet.PollReply
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		dg, err := remote.Recv(ctx)
		cancel()
		if err != nil {
			break
		}
		frame, err := artnet.Decode(dg.Payload)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		reply, ok := frame.(artnet.PollReply)
		if !ok {
			t.Fatalf("frame = %T, want artnet.PollReply", frame)
		}
		if reply.BindIndex == 0 {
			last = []artnet.PollReply{reply}
		} else {
			last = append(last, reply)
		}
	}

	if len(last) != 2 {
		t.Fatalf("got %d replies in the final burst, want 2 (5 ports over 4-port groups)", len(last))
	}
	if last[0].BindIndex != 0 || last[1].BindIndex != 1 {
		t.Errorf("BindIndex order = [%d, %d], want [0, 1]", last[0].BindIndex, last[1].BindIndex)
	}
	if last[0].NumPorts != 4 {
		t.Errorf("first reply NumPorts = %d, want 4", last[0].NumPorts)
	}
	if last[1].NumPorts != 1 {
		t.Errorf("second reply NumPorts = %d, want 1", last[1].NumPorts)
	}
}

func TestHandleDatagramPollReplyUpdatesRegistries(t *testing.T) {
	loop, _ := newTestLoop(t)

	reply := artnet.PollReply{
		BindIndex: 1,
		NumPorts:  1,
	}
	reply.PortTypes[0] = artnet.PortTypeCanInput
	reply.SwIn[0] = 1
	buf, err := artnet.Encode(reply)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	loop.handleDatagram(transport.Datagram{SrcIP: [4]byte{192, 168, 1, 238}, Payload: buf})

	nodes := loop.ListNodes()
	if len(nodes) != 1 {
		t.Fatalf("ListNodes() = %d, want 1", len(nodes))
	}

	universes := loop.ListUniverses()
	u, ok := universes[artnet.PortAddress{Net: 0, SubNet: 0, Universe: 1}.Packed()]
	if !ok {
		t.Fatal("universe 0:0:1 was not created by reconciliation")
	}
	if len(u.Publishers) != 1 {
		t.Errorf("Publishers = %+v, want 1 entry", u.Publishers)
	}
}

func TestHandleDatagramPollTriggersReplyBurst(t *testing.T) {
	loop, remote := newTestLoop(t)
	if err := loop.SetLocalPort(artnet.PortAddress{Universe: 1}, true, false); err != nil {
		t.Fatalf("SetLocalPort: %v", err)
	}
	// Drain the burst SetLocalPort itself triggered.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	remote.Recv(ctx)
	cancel()

	pollBuf, err := artnet.Encode(artnet.Poll{TalkToMe: artnet.TalkToMeReplyOnChange, Priority: artnet.PriorityDefault})
	if err != nil {
		t.Fatalf("Encode poll: %v", err)
	}
	loop.handleDatagram(transport.Datagram{Payload: pollBuf})

	frame := recvFrame(t, remote)
	if _, ok := frame.(artnet.PollReply); !ok {
		t.Fatalf("frame = %T, want artnet.PollReply in response to ArtPoll", frame)
	}
}

func TestHandleDatagramDMXUpdatesSubscribedUniverse(t *testing.T) {
	loop, _ := newTestLoop(t)
	addr := artnet.PortAddress{Universe: 1}
	if err := loop.SetLocalPort(addr, false, true); err != nil {
		t.Fatalf("SetLocalPort: %v", err)
	}

	dmxBuf, err := artnet.Encode(artnet.DMX{Sequence: 1, Address: addr, Data: []byte{9, 9}})
	if err != nil {
		t.Fatalf("Encode dmx: %v", err)
	}
	loop.handleDatagram(transport.Datagram{Payload: dmxBuf})

	got, err := loop.GetDMX(addr)
	if err != nil {
		t.Fatalf("GetDMX: %v", err)
	}
	if got[0] != 9 {
		t.Errorf("GetDMX()[0] = %d, want 9", got[0])
	}
}

func TestTransmitDMXSendsImmediatelyOnFirstSet(t *testing.T) {
	loop, remote := newTestLoop(t)
	addr := artnet.PortAddress{Universe: 1}
	if err := loop.SetLocalPort(addr, true, false); err != nil {
		t.Fatalf("SetLocalPort: %v", err)
	}
	// Drain the reply burst from SetLocalPort.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	remote.Recv(ctx)
	cancel()

	payload := make([]byte, 128)
	if err := loop.SetDMX(addr, payload); err != nil {
		t.Fatalf("SetDMX: %v", err)
	}
	loop.transmitDMX(time.Now())

	frame := recvFrame(t, remote)
	dmx, ok := frame.(artnet.DMX)
	if !ok {
		t.Fatalf("frame = %T, want artnet.DMX", frame)
	}
	if dmx.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", dmx.Sequence)
	}
	if len(dmx.Data) != 128 {
		t.Errorf("len(Data) = %d, want 128", len(dmx.Data))
	}
}

func TestTransmitDMXRespectsMinInterval(t *testing.T) {
	loop, remote := newTestLoop(t)
	addr := artnet.PortAddress{Universe: 1}
	if err := loop.SetLocalPort(addr, true, false); err != nil {
		t.Fatalf("SetLocalPort: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	remote.Recv(ctx)
	cancel()

	now := time.Now()
	if err := loop.SetDMX(addr, []byte{1}); err != nil {
		t.Fatalf("SetDMX: %v", err)
	}
	loop.transmitDMX(now)
	recvFrame(t, remote) // first send, sequence 1

	if err := loop.SetDMX(addr, []byte{2}); err != nil {
		t.Fatalf("SetDMX: %v", err)
	}
	loop.transmitDMX(now.Add(5 * time.Millisecond)) // well under DMXMinInterval

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, err := remote.Recv(ctx2); err == nil {
		t.Error("transmitDMX sent again before DMXMinInterval elapsed")
	}
}

func TestTransmitDMXKeepAlive(t *testing.T) {
	loop, remote := newTestLoop(t)
	addr := artnet.PortAddress{Universe: 1}
	if err := loop.SetLocalPort(addr, true, false); err != nil {
		t.Fatalf("SetLocalPort: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	remote.Recv(ctx)
	cancel()

	now := time.Now()
	if err := loop.SetDMX(addr, []byte{1}); err != nil {
		t.Fatalf("SetDMX: %v", err)
	}
	loop.transmitDMX(now)
	recvFrame(t, remote) // sequence 1

	loop.transmitDMX(now.Add(2 * time.Second)) // past DMXKeepAlive, unchanged payload
	frame := recvFrame(t, remote)
	dmx, ok := frame.(artnet.DMX)
	if !ok {
		t.Fatalf("frame = %T, want artnet.DMX", frame)
	}
	if dmx.Sequence != 2 {
		t.Errorf("keep-alive Sequence = %d, want 2", dmx.Sequence)
	}
}

func TestHandleDatagramCountsCodecStats(t *testing.T) {
	loop, _ := newTestLoop(t)

	loop.handleDatagram(transport.Datagram{Payload: []byte("not art-net")})
	loop.handleDatagram(transport.Datagram{Payload: []byte("Art-Net\x00")}) // too short after magic

	unknownBuf := append([]byte("Art-Net\x00"), 0x00, 0x00, 0x99, 0x00)
	loop.handleDatagram(transport.Datagram{Payload: unknownBuf})

	stats := loop.Stats()
	if stats.BadMagic != 1 {
		t.Errorf("BadMagic = %d, want 1", stats.BadMagic)
	}
	if stats.Truncated != 1 {
		t.Errorf("Truncated = %d, want 1", stats.Truncated)
	}
	if stats.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", stats.Dropped)
	}
	if stats.UnknownOpCode != 1 {
		t.Errorf("UnknownOpCode = %d, want 1", stats.UnknownOpCode)
	}
}

func TestSweepRemovesExpiredNodesAndGCsUniverse(t *testing.T) {
	loop, _ := newTestLoop(t)

	reply := artnet.PollReply{BindIndex: 1, NumPorts: 1}
	reply.PortTypes[0] = artnet.PortTypeCanInput
	reply.SwIn[0] = 1
	buf, _ := artnet.Encode(reply)
	loop.handleDatagram(transport.Datagram{SrcIP: [4]byte{10, 0, 0, 1}, Payload: buf})

	if len(loop.ListNodes()) != 1 {
		t.Fatal("expected one node after discovery")
	}

	loop.onTick(time.Now().Add(31 * time.Second))

	if len(loop.ListNodes()) != 0 {
		t.Error("node should be swept after exceeding NodeTTL")
	}
	if _, ok := loop.ListUniverses()[artnet.PortAddress{Universe: 1}.Packed()]; ok {
		t.Error("universe should be GC'd once its only publisher is swept")
	}
}

func TestTransmitDMXUnicastsToDiscoveredSubscriber(t *testing.T) {
	loop, remote := newTestLoop(t)

	// The unicast destination port is fixed at 6454; stand a subscriber
	// socket up there, or skip when another Art-Net process owns it.
	subscriber, err := transport.Listen("127.0.0.1:6454", net.IPv4(127, 255, 255, 255), 0)
	if err != nil {
		t.Skipf("cannot bind 127.0.0.1:6454: %v", err)
	}
	t.Cleanup(func() { subscriber.Close() })

	addr := artnet.PortAddress{Universe: 1}
	if err := loop.SetLocalPort(addr, true, false); err != nil {
		t.Fatalf("SetLocalPort: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	remote.Recv(ctx) // drain the reply burst
	cancel()

	reply := artnet.PollReply{BindIndex: 1, NumPorts: 1}
	reply.PortTypes[0] = artnet.PortTypeCanOutput
	reply.SwOut[0] = 1
	buf, err := artnet.Encode(reply)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	loop.handleDatagram(transport.Datagram{SrcIP: [4]byte{127, 0, 0, 1}, Payload: buf})

	if err := loop.SetDMX(addr, []byte{1, 2}); err != nil {
		t.Fatalf("SetDMX: %v", err)
	}
	loop.transmitDMX(time.Now())

	frame := recvFrame(t, subscriber)
	dmx, ok := frame.(artnet.DMX)
	if !ok {
		t.Fatalf("frame = %T, want artnet.DMX unicast to the subscriber", frame)
	}
	if dmx.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", dmx.Sequence)
	}

	// With a known subscriber there must be no broadcast copy.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, err := remote.Recv(ctx2); err == nil {
		t.Error("DMX was broadcast despite a discovered subscriber")
	}
}
