// Package event implements the per-node event dispatcher. One goroutine
// owns all control state; timers, the transport and deferred buffer
// releases talk to it exclusively through non-blocking event sends.
package event

import (
	"errors"
	"runtime"
	"sync"

	"ballplate-go/pkg/log"
	"ballplate-go/pkg/stats"
)

// Kind identifies an event type.
type Kind uint32

const (
	KindTimerExpired Kind = iota
	KindMessagePending
	KindDeferredFree
)

// MaxKinds bounds the handler table.
const MaxKinds = 32

// ErrKindOutOfRange is returned when registering a handler for a kind
// outside the table.
var ErrKindOutOfRange = errors.New("event: kind out of range")

// Event pairs a kind with an opaque payload.
type Event struct {
	Kind    Kind
	Payload any
}

// Handler processes one event. Handlers run to completion on the
// dispatcher goroutine and must never block on the event queue.
type Handler func(e Event)

// Dispatcher serializes all control-state mutation onto one goroutine.
// The goroutine is started at construction but parks on a barrier until
// Start, so the node can finish wiring handlers first.
type Dispatcher struct {
	logger *log.Logger
	table  *stats.Table

	queue    chan Event
	handlers [MaxKinds]Handler

	start     chan struct{}
	startOnce sync.Once
	quit      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a dispatcher with the given queue depth and spawns its
// goroutine, parked until Start.
func New(queueLen int, logger *log.Logger, table *stats.Table) *Dispatcher {
	d := &Dispatcher{
		logger: logger,
		table:  table,
		queue:  make(chan Event, queueLen),
		start:  make(chan struct{}),
		quit:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

// RegisterHandler binds a handler to an event kind. Call before Start;
// the table is not synchronized against the running loop.
func (d *Dispatcher) RegisterHandler(kind Kind, h Handler) error {
	if kind >= MaxKinds {
		return ErrKindOutOfRange
	}
	d.handlers[kind] = h
	return nil
}

// Start releases the dispatcher goroutine. Events sent before Start
// queue up and are processed once the barrier drops.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() { close(d.start) })
}

// Send enqueues an event without blocking. Safe from any goroutine,
// including the dispatcher's own handlers and link receive contexts.
// Returns false and counts a starvation when the queue is full.
func (d *Dispatcher) Send(kind Kind, payload any) bool {
	select {
	case d.queue <- Event{Kind: kind, Payload: payload}:
		return true
	default:
		d.table.EventQueueStarvations.Add(1)
		return false
	}
}

// DeferRelease forwards a buffer release into the dispatcher context.
// Losing the event would leak the buffer for good, so a full queue here
// is fatal.
func (d *Dispatcher) DeferRelease(payload any) {
	if !d.Send(KindDeferredFree, payload) {
		panic("event: deferred free event lost, queue full")
	}
}

// Stop terminates the dispatcher goroutine and waits for it.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.quit) })
	d.wg.Wait()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	// All control state is confined to this goroutine; pinning it to an
	// OS thread keeps handler latency free of migration stalls.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	select {
	case <-d.start:
	case <-d.quit:
		return
	}

	for {
		select {
		case e := <-d.queue:
			d.dispatch(e)
		case <-d.quit:
			return
		}
	}
}

func (d *Dispatcher) dispatch(e Event) {
	if e.Kind >= MaxKinds || d.handlers[e.Kind] == nil {
		d.logger.Warn("discarding event of unknown kind %d", uint32(e.Kind))
		return
	}
	d.table.EventsDispatched.Add(1)
	d.handlers[e.Kind](e)
}
