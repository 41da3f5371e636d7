// Package pid implements a PID regulator with trapezoidal integration,
// derivative on measurement, symmetric output saturation and conditional
// (anti-windup) integration.
package pid

// Regulator holds the tuning parameters and transient state of one PID
// control loop.
type Regulator struct {
	// Settings
	setpoint            float64
	proportionalGain    float64
	integralGain        float64
	derivativeGain      float64
	samplingPeriod      float64
	saturationThreshold float64

	// State
	previousError       float64
	previousMeasurement float64
	runningSum          float64
	previousUnbounded   float64
	previousBounded     float64
}

// New creates a regulator with all transient state zeroed.
func New(setpoint, kp, ki, kd, samplingPeriod, saturationThreshold float64) *Regulator {
	return &Regulator{
		setpoint:            setpoint,
		proportionalGain:    kp,
		integralGain:        ki,
		derivativeGain:      kd,
		samplingPeriod:      samplingPeriod,
		saturationThreshold: saturationThreshold,
	}
}

// Sample advances the regulator by one sampling period and returns the
// bounded output for the given process value.
func (r *Regulator) Sample(processValue float64) float64 {
	err := r.setpoint - processValue
	integralStep := r.integralGain * r.samplingPeriod * 0.5 * (err + r.previousError)

	output := r.proportionalGain * err
	output += -r.derivativeGain * (processValue - r.previousMeasurement) / r.samplingPeriod

	// Keep integrating only while no windup is occurring or while the
	// integrator is counteracting it: a positive product of the pending
	// step and the saturation excess means the step would drive further
	// into saturation, so the sum is frozen (not clamped).
	if (r.previousUnbounded-r.previousBounded)*integralStep <= 0 {
		r.runningSum += integralStep
	}
	output += r.runningSum

	r.previousError = err
	r.previousMeasurement = processValue
	r.previousUnbounded = output

	if output > r.saturationThreshold {
		output = r.saturationThreshold
	} else if output < -r.saturationThreshold {
		output = -r.saturationThreshold
	}
	r.previousBounded = output

	return output
}

// Reset zeroes the transient state; gains and setpoint are untouched.
func (r *Regulator) Reset() {
	r.previousError = 0
	r.previousMeasurement = 0
	r.runningSum = 0
	r.previousUnbounded = 0
	r.previousBounded = 0
}

// Setpoint returns the current setpoint.
func (r *Regulator) Setpoint() float64 {
	return r.setpoint
}

// SetSetpoint changes the setpoint and returns the previous value.
func (r *Regulator) SetSetpoint(sp float64) float64 {
	old := r.setpoint
	r.setpoint = sp
	return old
}

// ProportionalGain returns the current proportional gain.
func (r *Regulator) ProportionalGain() float64 {
	return r.proportionalGain
}

// SetProportionalGain changes the proportional gain and returns the
// previous value.
func (r *Regulator) SetProportionalGain(kp float64) float64 {
	old := r.proportionalGain
	r.proportionalGain = kp
	return old
}

// IntegralGain returns the current integral gain.
func (r *Regulator) IntegralGain() float64 {
	return r.integralGain
}

// SetIntegralGain changes the integral gain and returns the previous value.
func (r *Regulator) SetIntegralGain(ki float64) float64 {
	old := r.integralGain
	r.integralGain = ki
	return old
}

// DerivativeGain returns the current derivative gain.
func (r *Regulator) DerivativeGain() float64 {
	return r.derivativeGain
}

// SetDerivativeGain changes the derivative gain and returns the previous
// value.
func (r *Regulator) SetDerivativeGain(kd float64) float64 {
	old := r.derivativeGain
	r.derivativeGain = kd
	return old
}

// SamplingPeriod returns the current sampling period.
func (r *Regulator) SamplingPeriod() float64 {
	return r.samplingPeriod
}

// SetSamplingPeriod changes the sampling period and returns the previous
// value.
func (r *Regulator) SetSamplingPeriod(ts float64) float64 {
	old := r.samplingPeriod
	r.samplingPeriod = ts
	return old
}

// SaturationThreshold returns the current saturation threshold.
func (r *Regulator) SaturationThreshold() float64 {
	return r.saturationThreshold
}

// SetSaturationThreshold changes the saturation threshold and returns the
// previous value.
func (r *Regulator) SetSaturationThreshold(sat float64) float64 {
	old := r.saturationThreshold
	r.saturationThreshold = sat
	return old
}

// RunningSum exposes the integral accumulator for diagnostics.
func (r *Regulator) RunningSum() float64 {
	return r.runningSum
}
