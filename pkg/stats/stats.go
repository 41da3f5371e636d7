// Statistics collection for the ball-on-plate nodes.
//
// A fixed table of monotonically increasing counters covering the degraded
// modes the system is allowed to enter (queue starvation, allocation
// failure, timer false starts). Counters are incremented from hot paths and
// interrupt-like contexts, so everything here is lock-free.
package stats

import (
	"sync/atomic"
	"time"

	"ballplate-go/pkg/log"
)

// Table is the per-process statistics database. A single instance is shared
// by all services of a node via hook registrations at startup.
type Table struct {
	RxMessagesDropped     atomic.Uint64
	TxMessagesDropped     atomic.Uint64
	AllocationFailures    atomic.Uint64
	EventsDispatched      atomic.Uint64
	EventQueueStarvations atomic.Uint64
	LogTruncations        atomic.Uint64
	TimerFalseStarts      atomic.Uint64

	stop chan struct{}
}

// Snapshot is a point-in-time copy of the counter table.
type Snapshot struct {
	RxMessagesDropped     uint64 `json:"rx_messages_dropped"`
	TxMessagesDropped     uint64 `json:"tx_messages_dropped"`
	AllocationFailures    uint64 `json:"allocation_failures"`
	EventsDispatched      uint64 `json:"events_dispatched"`
	EventQueueStarvations uint64 `json:"event_queue_starvations"`
	LogTruncations        uint64 `json:"log_truncations"`
	TimerFalseStarts      uint64 `json:"timer_false_starts"`
}

// New creates an empty counter table.
func New() *Table {
	return &Table{stop: make(chan struct{})}
}

// Snapshot returns a copy of the current counter values.
func (t *Table) Snapshot() Snapshot {
	return Snapshot{
		RxMessagesDropped:     t.RxMessagesDropped.Load(),
		TxMessagesDropped:     t.TxMessagesDropped.Load(),
		AllocationFailures:    t.AllocationFailures.Load(),
		EventsDispatched:      t.EventsDispatched.Load(),
		EventQueueStarvations: t.EventQueueStarvations.Load(),
		LogTruncations:        t.LogTruncations.Load(),
		TimerFalseStarts:      t.TimerFalseStarts.Load(),
	}
}

// AllocFailureHook adapts the table to the arena's allocation failure hook.
func (t *Table) AllocFailureHook(size int) {
	t.AllocationFailures.Add(1)
}

// TruncationHook adapts the table to the logger's truncation hook.
func (t *Table) TruncationHook(originalLen int, truncated string) {
	t.LogTruncations.Add(1)
}

// StartReporter spawns a background goroutine logging a snapshot every
// interval. Call Stop to terminate it.
func (t *Table) StartReporter(logger *log.Logger, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s := t.Snapshot()
				logger.Info("rx dropped=%d tx dropped=%d alloc failures=%d events=%d starvations=%d truncations=%d false starts=%d",
					s.RxMessagesDropped, s.TxMessagesDropped, s.AllocationFailures,
					s.EventsDispatched, s.EventQueueStarvations, s.LogTruncations, s.TimerFalseStarts)
			case <-t.stop:
				return
			}
		}
	}()
}

// Stop terminates the reporter goroutine.
func (t *Table) Stop() {
	close(t.stop)
}
