package monitor

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ballplate-go/pkg/acp"
	"ballplate-go/pkg/log"
)

func dialBroadcaster(t *testing.T, b *Broadcaster) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func newTestBroadcaster(t *testing.T) *Broadcaster {
	logger := log.New("test")
	logger.SetWriter(io.Discard)
	b := New(logger)
	t.Cleanup(func() { b.Close() })
	return b
}

func waitForObserver(t *testing.T, b *Broadcaster) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		n := len(b.clients)
		b.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("observer never registered")
}

func TestTraceBroadcast(t *testing.T) {
	b := newTestBroadcaster(t)
	conn := dialBroadcaster(t, b)
	waitForObserver(t, b)

	b.BroadcastTrace(acp.BallTraceInd{SampleNumber: 42, SetpointX: 1, PositionX: 2, SetpointY: 3, PositionY: 4})

	var got TraceEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Type != "trace" || got.SampleNumber != 42 || got.PositionY != 4 {
		t.Errorf("event = %+v", got)
	}
}

func TestLogBroadcast(t *testing.T) {
	b := newTestBroadcaster(t)
	conn := dialBroadcaster(t, b)
	waitForObserver(t, b)

	b.BroadcastLog("plate levelled")

	var got LogEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Type != "log" || got.Line != "plate levelled" {
		t.Errorf("event = %+v", got)
	}
}

func TestBroadcastWithNoObservers(t *testing.T) {
	b := newTestBroadcaster(t)
	// Must not panic or block.
	b.BroadcastLog("nobody listening")
}
