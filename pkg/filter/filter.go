// Package filter implements a moving-average filter with an O(1)
// running-sum update over a fixed-order ring buffer.
package filter

// Filter is a moving-average filter of fixed order.
type Filter struct {
	order    int
	ring     []float64
	index    int
	previous float64
}

// New creates a filter of the given order with the ring pre-filled with
// the initial value. Returns false if order is zero or negative.
func New(order int, initial float64) (*Filter, bool) {
	if order <= 0 {
		return nil, false
	}
	f := &Filter{
		order:    order,
		ring:     make([]float64, order),
		previous: initial,
	}
	for i := range f.ring {
		f.ring[i] = initial
	}
	return f, true
}

// Sample feeds one input through the filter and returns the updated
// running mean of the last `order` inputs.
func (f *Filter) Sample(input float64) float64 {
	oldest := f.ring[f.index]
	f.previous += (input - oldest) / float64(f.order)
	f.ring[f.index] = input
	f.index = (f.index + 1) % f.order
	return f.previous
}

// Order returns the filter order.
func (f *Filter) Order() int {
	return f.order
}

// Reset overwrites every ring slot with fill, rewinds the ring index and
// sets the running average to fill.
func (f *Filter) Reset(fill float64) {
	for i := range f.ring {
		f.ring[i] = fill
	}
	f.index = 0
	f.previous = fill
}
