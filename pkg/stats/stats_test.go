package stats

import (
	"strings"
	"sync"
	"testing"
	"time"

	"ballplate-go/pkg/log"
)

func TestSnapshot(t *testing.T) {
	tbl := New()
	tbl.TxMessagesDropped.Add(3)
	tbl.TimerFalseStarts.Add(1)

	s := tbl.Snapshot()
	if s.TxMessagesDropped != 3 {
		t.Errorf("TxMessagesDropped = %d, want 3", s.TxMessagesDropped)
	}
	if s.TimerFalseStarts != 1 {
		t.Errorf("TimerFalseStarts = %d, want 1", s.TimerFalseStarts)
	}
	if s.RxMessagesDropped != 0 {
		t.Errorf("RxMessagesDropped = %d, want 0", s.RxMessagesDropped)
	}
}

func TestHooks(t *testing.T) {
	tbl := New()
	tbl.AllocFailureHook(128)
	tbl.AllocFailureHook(64)
	tbl.TruncationHook(300, "...")

	if got := tbl.AllocationFailures.Load(); got != 2 {
		t.Errorf("AllocationFailures = %d, want 2", got)
	}
	if got := tbl.LogTruncations.Load(); got != 1 {
		t.Errorf("LogTruncations = %d, want 1", got)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	tbl := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tbl.EventsDispatched.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := tbl.EventsDispatched.Load(); got != 8000 {
		t.Errorf("EventsDispatched = %d, want 8000", got)
	}
}

func TestReporter(t *testing.T) {
	tbl := New()
	var mu sync.Mutex
	var sb strings.Builder
	logger := log.New("stats")
	logger.SetWriter(writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return sb.Write(p)
	}))

	tbl.RxMessagesDropped.Add(7)
	tbl.StartReporter(logger, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	tbl.Stop()

	mu.Lock()
	out := sb.String()
	mu.Unlock()
	if !strings.Contains(out, "rx dropped=7") {
		t.Errorf("reporter output missing counter: %q", out)
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
