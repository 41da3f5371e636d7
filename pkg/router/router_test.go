package router

import (
	"io"
	"testing"
	"time"

	"ballplate-go/pkg/acp"
	"ballplate-go/pkg/arena"
	"ballplate-go/pkg/link"
	"ballplate-go/pkg/log"
)

// duplex is one end of an in-memory serial cable.
type duplex struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (d duplex) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d duplex) Write(p []byte) (int, error) { return d.w.Write(p) }

func (d duplex) close() {
	d.r.Close()
	d.w.Close()
}

func serialCable() (routerEnd, operatorEnd duplex) {
	upR, upW := io.Pipe()
	downR, downW := io.Pipe()
	return duplex{r: upR, w: downW}, duplex{r: downR, w: upW}
}

type fixture struct {
	router   *Router
	plant    *acp.Transport
	pc       *acp.Transport
	operator duplex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := log.New("test")
	logger.SetWriter(io.Discard)

	net := link.NewNetwork()
	addrs := map[acp.NodeID]string{
		acp.NodePlant: "plant",
		acp.NodePC:    "pc",
	}
	newTransport := func(self acp.NodeID) *acp.Transport {
		a := arena.New(16384)
		a.SetDeferredRelease(func(b *arena.Buffer) { a.Release(b) })
		tr, err := acp.New(acp.Config{
			Link:         net.Attach(addrs[self]),
			Arena:        a,
			Logger:       logger,
			AddressTable: addrs,
			RxQueueLen:   16,
			TxQueueLen:   16,
		})
		if err != nil {
			t.Fatalf("transport %s: %v", self, err)
		}
		t.Cleanup(func() { tr.Close() })
		return tr
	}

	routerEnd, operatorEnd := serialCable()
	t.Cleanup(routerEnd.close)
	t.Cleanup(operatorEnd.close)

	pc := newTransport(acp.NodePC)
	r, err := New(Config{Logger: logger, Transport: pc, Port: routerEnd})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Start()

	return &fixture{
		router:   r,
		plant:    newTransport(acp.NodePlant),
		pc:       pc,
		operator: operatorEnd,
	}
}

func readFrame(t *testing.T, from io.Reader) []byte {
	t.Helper()
	done := make(chan []byte, 1)
	go func() {
		header := make([]byte, acp.HeaderSize)
		if _, err := io.ReadFull(from, header); err != nil {
			return
		}
		body := make([]byte, int(header[3]))
		if _, err := io.ReadFull(from, body); err != nil {
			return
		}
		done <- append(header, body...)
	}()
	select {
	case frame := <-done:
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame arrived on the serial side")
		return nil
	}
}

func TestRequiresPCDeployment(t *testing.T) {
	logger := log.New("test")
	logger.SetWriter(io.Discard)

	net := link.NewNetwork()
	a := arena.New(1024)
	tr, err := acp.New(acp.Config{
		Link:         net.Attach("plant"),
		Arena:        a,
		Logger:       logger,
		AddressTable: map[acp.NodeID]string{acp.NodePlant: "plant", acp.NodePC: "pc"},
		RxQueueLen:   1,
		TxQueueLen:   1,
	})
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	defer tr.Close()

	if _, err := New(Config{Logger: logger, Transport: tr, Port: duplex{}}); err == nil {
		t.Fatal("router accepted a non-pc deployment")
	}
}

func TestDownlinkForwardsFramesVerbatim(t *testing.T) {
	f := newFixture(t)

	msg, _ := f.plant.CreateMessage(acp.NodePC, acp.KindBallTraceInd, acp.BallTraceIndSize)
	(&acp.BallTraceInd{SampleNumber: 9, PositionX: 1.5}).Marshal(msg.Payload())
	f.plant.Send(msg)

	frame := readFrame(t, f.operator)
	if acp.Kind(frame[0]) != acp.KindBallTraceInd {
		t.Errorf("kind = 0x%02X, want trace indication", frame[0])
	}
	if acp.NodeID(frame[1]) != acp.NodePlant || acp.NodeID(frame[2]) != acp.NodePC {
		t.Errorf("route = %d -> %d, want plant -> pc", frame[1], frame[2])
	}
	var ind acp.BallTraceInd
	if err := ind.Unmarshal(frame[acp.HeaderSize:]); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if ind.SampleNumber != 9 || ind.PositionX != 1.5 {
		t.Errorf("payload = %+v", ind)
	}
}

func TestUplinkReassemblesFragmentedStream(t *testing.T) {
	f := newFixture(t)

	req, _ := f.pc.CreateMessage(acp.NodePlant, acp.KindNewSetpointReq, acp.NewSetpointReqSize)
	(&acp.NewSetpointReq{SetpointX: 10, SetpointY: 20}).Marshal(req.Payload())
	frame := append([]byte(nil), req.Frame()...)
	f.pc.Destroy(req)

	// Deliver the frame in three fragments, as a serial stream would.
	go func() {
		f.operator.Write(frame[:2])
		time.Sleep(10 * time.Millisecond)
		f.operator.Write(frame[2:7])
		time.Sleep(10 * time.Millisecond)
		f.operator.Write(frame[7:])
	}()

	got := f.plant.Receive(time.Second)
	if got == nil {
		t.Fatal("uplinked frame never reached the plant")
	}
	defer f.plant.Destroy(got)

	if got.Kind() != acp.KindNewSetpointReq {
		t.Errorf("kind = 0x%02X, want new setpoint request", uint8(got.Kind()))
	}
	var payload acp.NewSetpointReq
	if err := payload.Unmarshal(got.Payload()); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if payload.SetpointX != 10 || payload.SetpointY != 20 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestLogSinkWrapsLinesIntoLogCommits(t *testing.T) {
	f := newFixture(t)

	sink := f.router.LogSink()
	// The sink writes through an unbuffered pipe, so it must run
	// concurrently with the reader below.
	go sink(log.INFO, "controller gains updated")

	frame := readFrame(t, f.operator)
	if acp.Kind(frame[0]) != acp.KindLogCommit {
		t.Fatalf("kind = 0x%02X, want log commit", frame[0])
	}
	var commit acp.LogCommit
	if err := commit.Unmarshal(frame[acp.HeaderSize:]); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if commit.Text() != "controller gains updated" {
		t.Errorf("text = %q", commit.Text())
	}
}
