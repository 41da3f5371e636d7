package acp

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"ballplate-go/pkg/arena"
	"ballplate-go/pkg/link"
	"ballplate-go/pkg/log"
)

func quietLogger() *log.Logger {
	l := log.New("test")
	l.SetWriter(io.Discard)
	return l
}

// testNode wires one transport onto a shared in-memory fabric with a
// self-draining arena, the way a plain goroutine deployment would.
func testNode(t *testing.T, net *link.Network, table map[NodeID]string, self NodeID, rxLen, txLen int) (*Transport, *link.MemLink) {
	t.Helper()
	a := arena.New(8192)
	a.SetDeferredRelease(func(b *arena.Buffer) { a.Release(b) })
	l := net.Attach(table[self])
	tr, err := New(Config{
		Link:         l,
		Arena:        a,
		Logger:       quietLogger(),
		AddressTable: table,
		RxQueueLen:   rxLen,
		TxQueueLen:   txLen,
	})
	if err != nil {
		t.Fatalf("New(%s): %v", self, err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, l
}

func defaultTable() map[NodeID]string {
	return map[NodeID]string{
		NodePlant:      "plant",
		NodeController: "controller",
		NodePC:         "pc",
	}
}

func TestIdentityResolution(t *testing.T) {
	net := link.NewNetwork()
	table := defaultTable()

	tr, _ := testNode(t, net, table, NodeController, 4, 4)
	if tr.OwnID() != NodeController {
		t.Errorf("OwnID() = %s, want controller", tr.OwnID())
	}
}

func TestIdentityResolutionFailsClosed(t *testing.T) {
	net := link.NewNetwork()
	a := arena.New(1024)
	l := net.Attach("stranger")
	_, err := New(Config{
		Link:         l,
		Arena:        a,
		Logger:       quietLogger(),
		AddressTable: defaultTable(),
		RxQueueLen:   1,
		TxQueueLen:   1,
	})
	if err == nil {
		t.Fatal("New with unlisted local address should fail")
	}
}

func TestSendReceive(t *testing.T) {
	net := link.NewNetwork()
	table := defaultTable()
	plant, _ := testNode(t, net, table, NodePlant, 4, 4)
	pc, _ := testNode(t, net, table, NodePC, 4, 4)

	msg, ok := pc.CreateMessage(NodePlant, KindSetPidSettingsReq, SetPidSettingsReqSize)
	if !ok {
		t.Fatal("CreateMessage failed")
	}
	req := SetPidSettingsReq{AxisID: AxisY, ProportionalGain: 1.5, IntegralGain: 0.25, DerivativeGain: 0.75}
	req.Marshal(msg.Payload())
	pc.Send(msg)

	got := plant.Receive(time.Second)
	if got == nil {
		t.Fatal("Receive timed out")
	}
	defer plant.Destroy(got)

	if got.Kind() != KindSetPidSettingsReq {
		t.Errorf("kind = 0x%02X, want 0x%02X", uint8(got.Kind()), uint8(KindSetPidSettingsReq))
	}
	if got.Sender() != NodePC || got.Receiver() != NodePlant {
		t.Errorf("route = %s -> %s, want pc -> plant", got.Sender(), got.Receiver())
	}
	var decoded SetPidSettingsReq
	if err := decoded.Unmarshal(got.Payload()); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != req {
		t.Errorf("payload = %+v, want %+v", decoded, req)
	}
}

func TestReceiveTimeout(t *testing.T) {
	net := link.NewNetwork()
	plant, _ := testNode(t, net, defaultTable(), NodePlant, 4, 4)
	if msg := plant.Receive(10 * time.Millisecond); msg != nil {
		t.Error("Receive on an idle transport should time out to nil")
	}
}

func TestCreateMessageRejectsOversizePayload(t *testing.T) {
	net := link.NewNetwork()
	plant, _ := testNode(t, net, defaultTable(), NodePlant, 4, 4)
	if _, ok := plant.CreateMessage(NodePC, KindLogCommit, MaxPayload+1); ok {
		t.Error("payload over the MTU budget should fail")
	}
	if _, ok := plant.CreateMessage(NodePC, KindLogCommit, MaxPayload); !ok {
		t.Error("payload at the MTU budget should succeed")
	}
}

func TestDuplicateIsDeepCopy(t *testing.T) {
	net := link.NewNetwork()
	plant, _ := testNode(t, net, defaultTable(), NodePlant, 4, 4)

	msg, _ := plant.CreateMessage(NodePC, KindBallTraceEnable, BallTraceEnableSize)
	msg.Payload()[0] = 1

	dup, ok := plant.Duplicate(msg)
	if !ok {
		t.Fatal("Duplicate failed")
	}
	msg.Payload()[0] = 0
	if dup.Payload()[0] != 1 {
		t.Error("duplicate shares the original's buffer")
	}
	plant.Destroy(msg)
	plant.Destroy(dup)
}

func TestEchoSwapsRoute(t *testing.T) {
	net := link.NewNetwork()
	table := defaultTable()
	plant, _ := testNode(t, net, table, NodePlant, 4, 4)
	pc, _ := testNode(t, net, table, NodePC, 4, 4)

	msg, _ := pc.CreateMessage(NodePlant, KindBallTraceEnable, BallTraceEnableSize)
	(&BallTraceEnable{Enable: true}).Marshal(msg.Payload())
	pc.Send(msg)

	req := plant.Receive(time.Second)
	if req == nil {
		t.Fatal("request not delivered")
	}
	plant.Echo(req)

	resp := pc.Receive(time.Second)
	if resp == nil {
		t.Fatal("echo not delivered")
	}
	defer pc.Destroy(resp)
	if resp.Sender() != NodePlant || resp.Receiver() != NodePC {
		t.Errorf("echo route = %s -> %s, want plant -> pc", resp.Sender(), resp.Receiver())
	}
	if resp.Kind() != KindBallTraceEnable {
		t.Errorf("echo kind = 0x%02X, want request kind", uint8(resp.Kind()))
	}
}

func TestInvalidReceiverDrop(t *testing.T) {
	net := link.NewNetwork()
	// Two-node deployment: the PC is not routable.
	table := map[NodeID]string{
		NodePlant:      "plant",
		NodeController: "controller",
	}
	plant, _ := testNode(t, net, table, NodePlant, 4, 4)

	drops := make(chan TxDropReason, 1)
	plant.OnTxDrop(func(receiver NodeID, reason TxDropReason) {
		if receiver == NodePC {
			drops <- reason
		}
	})

	msg, _ := plant.CreateMessage(NodePC, KindPingReq, 0)
	plant.Send(msg)

	select {
	case reason := <-drops:
		if reason != TxDropInvalidReceiver {
			t.Errorf("drop reason = %s, want invalid receiver", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("tx drop hook never fired")
	}
}

func TestLinkSendFailureDrop(t *testing.T) {
	net := link.NewNetwork()
	table := defaultTable()
	plant, plantLink := testNode(t, net, table, NodePlant, 4, 4)
	testNode(t, net, table, NodePC, 4, 4)

	plantLink.SetSendError(errors.New("radio down"))
	drops := make(chan TxDropReason, 1)
	plant.OnTxDrop(func(receiver NodeID, reason TxDropReason) { drops <- reason })

	msg, _ := plant.CreateMessage(NodePC, KindPingReq, 0)
	plant.Send(msg)

	select {
	case reason := <-drops:
		if reason != TxDropLinkSendFailed {
			t.Errorf("drop reason = %s, want link send failed", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("tx drop hook never fired")
	}
}

func TestMalformedFramesDroppedSilently(t *testing.T) {
	net := link.NewNetwork()
	table := defaultTable()
	plant, _ := testNode(t, net, table, NodePlant, 4, 4)

	rxDrops := 0
	plant.OnRxDrop(func(NodeID, RxDropReason) { rxDrops++ })

	raw := net.Attach("raw")
	raw.RegisterPeer("plant")

	// Truncated header.
	raw.Send("plant", []byte{0x00, 0x02})
	// Length byte disagrees with the frame size.
	raw.Send("plant", []byte{0x00, 0x02, 0x00, 0x08, 0xAA})
	// Addressed to another node.
	raw.Send("plant", []byte{0x00, 0x02, byte(NodeController), 0x00})

	if msg := plant.Receive(20 * time.Millisecond); msg != nil {
		t.Error("malformed frame reached the receive queue")
	}
	if rxDrops != 0 {
		t.Errorf("silent drops fired the rx hook %d times", rxDrops)
	}
}

func TestRxQueueStarvation(t *testing.T) {
	net := link.NewNetwork()
	table := defaultTable()
	plant, _ := testNode(t, net, table, NodePlant, 1, 4)
	pc, _ := testNode(t, net, table, NodePC, 4, 4)

	drops := make(chan RxDropReason, 1)
	plant.OnRxDrop(func(sender NodeID, reason RxDropReason) { drops <- reason })

	// Fill the single-slot queue, then overflow it.
	for i := 0; i < 2; i++ {
		msg, _ := pc.CreateMessage(NodePlant, KindPingReq, 0)
		pc.Send(msg)
	}

	select {
	case reason := <-drops:
		if reason != RxDropQueueStarvation {
			t.Errorf("drop reason = %s, want queue starvation", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("rx drop hook never fired")
	}

	// The queued message is still deliverable.
	if msg := plant.Receive(time.Second); msg == nil {
		t.Error("first message lost")
	} else {
		plant.Destroy(msg)
	}
}

// wedgedLink parks the gateway inside its first Send until released, so
// the egress queue backs up behind it.
type wedgedLink struct {
	addr        string
	entered     chan struct{}
	release     chan struct{}
	enterOnce   sync.Once
	releaseOnce sync.Once
}

func newWedgedLink(addr string) *wedgedLink {
	return &wedgedLink{
		addr:    addr,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (l *wedgedLink) LocalAddr() string         { return l.addr }
func (l *wedgedLink) RegisterPeer(string) error { return nil }

func (l *wedgedLink) SetReceiveHandler(link.ReceiveHandler) {}

func (l *wedgedLink) Send(string, []byte) error {
	l.enterOnce.Do(func() { close(l.entered) })
	<-l.release
	return nil
}

func (l *wedgedLink) Close() error {
	l.releaseOnce.Do(func() { close(l.release) })
	return nil
}

func TestTxQueueStarvation(t *testing.T) {
	l := newWedgedLink("plant")
	a := arena.New(8192)
	tr, err := New(Config{
		Link:         l,
		Arena:        a,
		Logger:       quietLogger(),
		AddressTable: defaultTable(),
		RxQueueLen:   4,
		TxQueueLen:   1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { tr.Close() })

	// The hook runs synchronously in the sender's goroutine, so a plain
	// counter is race-free here.
	drops := 0
	tr.OnTxDrop(func(receiver NodeID, reason TxDropReason) {
		if reason != TxDropQueueStarvation {
			t.Errorf("drop reason = %s, want queue starvation", reason)
		}
		drops++
	})

	// The first message wedges the gateway inside the link.
	msg, _ := tr.CreateMessage(NodePC, KindPingReq, 0)
	tr.Send(msg)
	select {
	case <-l.entered:
	case <-time.After(time.Second):
		t.Fatal("gateway never picked up the first message")
	}

	// The second fills the single-slot queue without dropping.
	msg, _ = tr.CreateMessage(NodePC, KindPingReq, 0)
	tr.Send(msg)
	if drops != 0 {
		t.Fatalf("tx drop hook fired %d times before the queue overflowed", drops)
	}

	// Every further send overflows: one drop each, and the caller must
	// not block on the wedged gateway.
	for i := 0; i < 3; i++ {
		msg, _ = tr.CreateMessage(NodePC, KindPingReq, 0)
		start := time.Now()
		tr.Send(msg)
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Fatalf("Send blocked for %s on a full egress queue", elapsed)
		}
	}
	if drops != 3 {
		t.Errorf("tx drop hook fired %d times, want once per overflowing send (3)", drops)
	}
}

func TestTraceTapFiresBothDirections(t *testing.T) {
	net := link.NewNetwork()
	table := defaultTable()
	plant, _ := testNode(t, net, table, NodePlant, 4, 4)
	pc, _ := testNode(t, net, table, NodePC, 4, 4)

	sent := make(chan TraceDirection, 1)
	plant.SetTrace(KindBallTraceInd, func(dir TraceDirection, msg *Message) { sent <- dir })
	received := make(chan TraceDirection, 1)
	pc.SetTrace(KindBallTraceInd, func(dir TraceDirection, msg *Message) { received <- dir })

	msg, _ := plant.CreateMessage(NodePC, KindBallTraceInd, BallTraceIndSize)
	(&BallTraceInd{SampleNumber: 7}).Marshal(msg.Payload())
	plant.Send(msg)

	if dir := <-sent; dir != TraceSend {
		t.Errorf("plant tap direction = %d, want send", dir)
	}
	select {
	case dir := <-received:
		if dir != TraceReceive {
			t.Errorf("pc tap direction = %d, want receive", dir)
		}
	case <-time.After(time.Second):
		t.Fatal("receive tap never fired")
	}

	// Untraced kinds pass the taps untouched.
	plant.SetTrace(KindInvalid, nil)
	ping, _ := plant.CreateMessage(NodePC, KindPingReq, 0)
	plant.Send(ping)
	select {
	case <-sent:
		t.Error("disabled tap fired")
	case <-time.After(20 * time.Millisecond):
	}

	for {
		msg := pc.Receive(50 * time.Millisecond)
		if msg == nil {
			return
		}
		pc.Destroy(msg)
	}
}
