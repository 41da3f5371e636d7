// Bounded buffer arena for message allocation.
//
// Message buffers are owned by exactly one party at a time: the arena hands
// ownership out on Alloc and takes it back on Release. Small buffers are
// recycled through a sync.Pool to keep the datagram hot path off the
// garbage collector.
//
// Release is legal only from contexts that own the control state (the
// dispatcher and ordinary tasks). Code running in a receive-completion
// context must use ReleaseDeferred, which forwards the buffer to the
// registered deferred-release hook; calling it with no hook registered is a
// programming error and panics.
package arena

import (
	"sync"
	"sync/atomic"
)

// pooledCap is the slice capacity recycled through the pool. Datagram
// buffers never exceed the link MTU, so one size class suffices; larger
// allocations fall through to the garbage collector.
const pooledCap = 256

// Buffer is an owned byte buffer allocated from an Arena.
type Buffer struct {
	data     []byte
	released bool
}

// Bytes returns the buffer contents.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the buffer length.
func (b *Buffer) Len() int {
	return len(b.data)
}

// AllocFailureHook is invoked with the requested size when Alloc fails.
type AllocFailureHook func(size int)

// DeferredReleaseHook forwards a buffer release to the owning context.
type DeferredReleaseHook func(b *Buffer)

// Arena is a byte-budget bounded allocator for message buffers.
type Arena struct {
	capacity int64
	used     atomic.Int64

	mu              sync.Mutex
	onAllocFailure  AllocFailureHook
	deferredRelease DeferredReleaseHook

	pool sync.Pool
}

// New creates an arena with the given byte capacity.
func New(capacity int) *Arena {
	a := &Arena{capacity: int64(capacity)}
	a.pool.New = func() any {
		return &Buffer{data: make([]byte, 0, pooledCap)}
	}
	return a
}

// OnAllocFailure registers a hook observing failed allocations.
func (a *Arena) OnAllocFailure(hook AllocFailureHook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onAllocFailure = hook
}

// SetDeferredRelease registers the hook backing ReleaseDeferred.
func (a *Arena) SetDeferredRelease(hook DeferredReleaseHook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deferredRelease = hook
}

// Alloc returns an owned, zeroed buffer of the given size, or false when
// the arena budget is exhausted. Never blocks, never retries.
func (a *Arena) Alloc(size int) (*Buffer, bool) {
	if size < 0 {
		return nil, false
	}
	for {
		used := a.used.Load()
		if used+int64(size) > a.capacity {
			a.mu.Lock()
			hook := a.onAllocFailure
			a.mu.Unlock()
			if hook != nil {
				hook(size)
			}
			return nil, false
		}
		if a.used.CompareAndSwap(used, used+int64(size)) {
			break
		}
	}

	var b *Buffer
	if size <= pooledCap {
		b = a.pool.Get().(*Buffer)
		b.released = false
		b.data = b.data[:size]
		for i := range b.data {
			b.data[i] = 0
		}
	} else {
		b = &Buffer{data: make([]byte, size)}
	}
	return b, true
}

// Release returns a buffer's ownership to the arena.
func (a *Arena) Release(b *Buffer) {
	if b == nil {
		return
	}
	if b.released {
		panic("arena: double release")
	}
	b.released = true
	a.used.Add(-int64(len(b.data)))
	if cap(b.data) == pooledCap {
		b.data = b.data[:0]
		a.pool.Put(b)
	}
}

// ReleaseDeferred forwards a release to the owning context via the
// registered hook. Panics if no hook is registered: the caller is in a
// context where a direct release is unsafe and there is nowhere to defer
// the buffer to.
func (a *Arena) ReleaseDeferred(b *Buffer) {
	a.mu.Lock()
	hook := a.deferredRelease
	a.mu.Unlock()
	if hook == nil {
		panic("arena: deferred release with no hook registered")
	}
	hook(b)
}

// Used returns the number of bytes currently allocated.
func (a *Arena) Used() int {
	return int(a.used.Load())
}

// Capacity returns the arena's byte budget.
func (a *Arena) Capacity() int {
	return int(a.capacity)
}
