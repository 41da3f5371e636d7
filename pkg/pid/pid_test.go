package pid

import (
	"math"
	"testing"
)

const tolerance = 1e-9

func TestProportionalOnly(t *testing.T) {
	// kp=1, ki=0, kd=0, Ts=0.05, sat=100, setpoint=0:
	// error = 0 - 5 = -5, output = kp*error = -5.
	r := New(0, 1, 0, 0, 0.05, 100)
	if got := r.Sample(5.0); math.Abs(got-(-5.0)) > tolerance {
		t.Errorf("Sample(5.0) = %v, want -5.0", got)
	}
}

func TestSaturation(t *testing.T) {
	r := New(0, 10, 0, 0, 0.05, 100)
	if got := r.Sample(50); got != -100 {
		t.Errorf("saturated output = %v, want -100", got)
	}
	if got := r.Sample(-50); got != 100 {
		t.Errorf("saturated output = %v, want 100", got)
	}
}

func TestSaturationBoundaryExact(t *testing.T) {
	// Unbounded output exactly at the threshold passes through unclamped.
	r := New(0, 1, 0, 0, 0.05, 5)
	if got := r.Sample(-5); got != 5 {
		t.Errorf("output at threshold = %v, want 5", got)
	}
}

func TestAntiWindupFreeze(t *testing.T) {
	// Drive hard into positive saturation with a large integral gain.
	r := New(0, 1, 10, 0, 0.1, 1)

	r.Sample(-100) // deep saturation, unbounded >> bounded
	sumAfterFirst := r.RunningSum()

	// While saturated in the same direction as the pending step, the
	// running sum must not grow.
	for i := 0; i < 5; i++ {
		r.Sample(-100)
		if r.RunningSum() != sumAfterFirst {
			t.Fatalf("running sum changed while frozen: %v -> %v", sumAfterFirst, r.RunningSum())
		}
	}

	// Error flips sign hard enough that the pending trapezoidal step goes
	// negative: the step now counteracts the windup and integration must
	// resume.
	r.Sample(300)
	if r.RunningSum() >= sumAfterFirst {
		t.Errorf("running sum did not resume accumulating: %v >= %v", r.RunningSum(), sumAfterFirst)
	}
}

func TestZeroProductAccumulates(t *testing.T) {
	// First sample: previousUnbounded == previousBounded == 0, so the
	// product is zero and the step accumulates.
	r := New(0, 0, 1, 0, 0.1, 100)
	r.Sample(-10)
	// step = ki*Ts*0.5*(err + prevErr) = 1*0.1*0.5*(10+0) = 0.5
	if math.Abs(r.RunningSum()-0.5) > tolerance {
		t.Errorf("running sum after first sample = %v, want 0.5", r.RunningSum())
	}
}

func TestTrapezoidalIntegration(t *testing.T) {
	r := New(0, 0, 2, 0, 0.5, 1000)
	r.Sample(-1) // err=1, step = 2*0.5*0.5*(1+0) = 0.5
	r.Sample(-3) // err=3, step = 2*0.5*0.5*(3+1) = 2.0
	if math.Abs(r.RunningSum()-2.5) > tolerance {
		t.Errorf("running sum = %v, want 2.5", r.RunningSum())
	}
}

func TestDerivativeOnMeasurement(t *testing.T) {
	r := New(0, 0, 0, 2, 0.1, 1000)
	// First sample: pv jumps 0 -> 1; derivative term = -kd*(1-0)/Ts = -20.
	if got := r.Sample(1); math.Abs(got-(-20)) > tolerance {
		t.Errorf("derivative output = %v, want -20", got)
	}
	// Steady measurement: derivative contribution vanishes.
	if got := r.Sample(1); math.Abs(got) > tolerance {
		t.Errorf("derivative output = %v, want 0", got)
	}
}

func TestResetClearsTransientsOnly(t *testing.T) {
	r := New(3, 1, 2, 3, 0.05, 100)
	r.Sample(10)
	r.Reset()

	if r.RunningSum() != 0 {
		t.Errorf("running sum after reset = %v, want 0", r.RunningSum())
	}
	if r.Setpoint() != 3 || r.ProportionalGain() != 1 || r.IntegralGain() != 2 || r.DerivativeGain() != 3 {
		t.Error("reset must not touch gains or setpoint")
	}
}

func TestMutatorsReturnOldValues(t *testing.T) {
	r := New(1, 2, 3, 4, 0.05, 6)
	if old := r.SetSetpoint(10); old != 1 {
		t.Errorf("SetSetpoint returned %v, want 1", old)
	}
	if old := r.SetProportionalGain(20); old != 2 {
		t.Errorf("SetProportionalGain returned %v, want 2", old)
	}
	if old := r.SetIntegralGain(30); old != 3 {
		t.Errorf("SetIntegralGain returned %v, want 3", old)
	}
	if old := r.SetDerivativeGain(40); old != 4 {
		t.Errorf("SetDerivativeGain returned %v, want 4", old)
	}
	if old := r.SetSamplingPeriod(0.5); old != 0.05 {
		t.Errorf("SetSamplingPeriod returned %v, want 0.05", old)
	}
	if old := r.SetSaturationThreshold(60); old != 6 {
		t.Errorf("SetSaturationThreshold returned %v, want 6", old)
	}
}
