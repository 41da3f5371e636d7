package filter

import (
	"math"
	"testing"
)

const tolerance = 1e-9

func TestNewRejectsZeroOrder(t *testing.T) {
	if _, ok := New(0, 0); ok {
		t.Error("New(0) should fail")
	}
	if _, ok := New(-3, 0); ok {
		t.Error("New(-3) should fail")
	}
}

func TestRunningMeanFromZeroFill(t *testing.T) {
	// Order 5, zero-filled: outputs climb as the window fills.
	f, ok := New(5, 0)
	if !ok {
		t.Fatal("New(5) failed")
	}

	inputs := []float64{10, 10, 10, 10, 10, 30}
	want := []float64{2, 4, 6, 8, 10, 14}
	for i, in := range inputs {
		got := f.Sample(in)
		if math.Abs(got-want[i]) > tolerance {
			t.Errorf("sample %d: got %v, want %v", i, got, want[i])
		}
	}
}

func TestMeanOfLastKInputs(t *testing.T) {
	const order = 4
	f, _ := New(order, 0)

	inputs := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	var got float64
	for _, in := range inputs {
		got = f.Sample(in)
	}

	var sum float64
	for _, in := range inputs[len(inputs)-order:] {
		sum += in
	}
	want := sum / order
	if math.Abs(got-want) > tolerance {
		t.Errorf("after %d samples got %v, want mean of last %d = %v", len(inputs), got, order, want)
	}
}

func TestResetReachesSteadyStateImmediately(t *testing.T) {
	f, _ := New(7, 0)
	for i := 0; i < 20; i++ {
		f.Sample(float64(i))
	}

	f.Reset(42)
	for i := 0; i < 7; i++ {
		if got := f.Sample(42); math.Abs(got-42) > tolerance {
			t.Errorf("sample %d after reset: got %v, want 42", i, got)
		}
	}
}

func TestInitialFill(t *testing.T) {
	f, _ := New(3, 6)
	// Buffer holds {6,6,6}, average 6; feeding 6 keeps it there.
	if got := f.Sample(6); math.Abs(got-6) > tolerance {
		t.Errorf("got %v, want 6", got)
	}
}

func TestOrder(t *testing.T) {
	f, _ := New(11, 0)
	if f.Order() != 11 {
		t.Errorf("Order() = %d, want 11", f.Order())
	}
}
