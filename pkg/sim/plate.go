// Package sim provides a simulated plate so the plant daemon runs
// end-to-end without hardware. The ball rolls under gravity on a tilted
// plate; the touchscreen adapter reads its position with a little
// measurement noise and the actuator adapters tilt the plate.
package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"ballplate-go/pkg/acp"
	"ballplate-go/pkg/control"
)

// Rolling-ball dynamics: a solid sphere on an incline accelerates at
// (5/7) g sin(theta).
const (
	gravityMmPerS2 = 9810.0
	rollingFactor  = 5.0 / 7.0
)

// Default plate dimensions, matching a 15" resistive panel.
const (
	DefaultDimensionXMm = 322.0
	DefaultDimensionYMm = 247.0
)

// Config parameterizes a Plate. Zero dimensions fall back to the
// defaults; zero noise means exact readings.
type Config struct {
	DimensionXMm float64
	DimensionYMm float64
	NoiseMm      float64
	Seed         int64
}

// Plate holds the simulated ball state. All methods are safe for
// concurrent use; the control loop and tests poke it from different
// goroutines.
type Plate struct {
	mu       sync.Mutex
	halfX    float64
	halfY    float64
	noiseMm  float64
	rng      *rand.Rand
	lastStep time.Time

	// Ball state: positions in mm from plate centre, velocities in
	// mm/s, plate angles in radians.
	x, y    float64
	vx, vy  float64
	angleX  float64
	angleY  float64
	onPlate bool
}

// NewPlate creates a plate with the ball resting at the centre.
func NewPlate(cfg Config) *Plate {
	if cfg.DimensionXMm == 0 {
		cfg.DimensionXMm = DefaultDimensionXMm
	}
	if cfg.DimensionYMm == 0 {
		cfg.DimensionYMm = DefaultDimensionYMm
	}
	return &Plate{
		halfX:    cfg.DimensionXMm / 2,
		halfY:    cfg.DimensionYMm / 2,
		noiseMm:  cfg.NoiseMm,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		lastStep: time.Now(),
		onPlate:  true,
	}
}

// PlaceBall puts the ball at the given position at rest.
func (p *Plate) PlaceBall(xMm, yMm float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.x, p.y = xMm, yMm
	p.vx, p.vy = 0, 0
	p.onPlate = true
}

// Step advances the physics by dt seconds.
func (p *Plate) Step(dt float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.step(dt)
}

func (p *Plate) step(dt float64) {
	if !p.onPlate {
		return
	}
	ax := rollingFactor * gravityMmPerS2 * math.Sin(p.angleX)
	ay := rollingFactor * gravityMmPerS2 * math.Sin(p.angleY)
	p.vx += ax * dt
	p.vy += ay * dt
	p.x += p.vx * dt
	p.y += p.vy * dt

	if math.Abs(p.x) > p.halfX || math.Abs(p.y) > p.halfY {
		p.onPlate = false
	}
}

// Read implements the touchscreen: it advances the physics by the wall
// time elapsed since the previous read and returns the measured
// position. No touch is registered once the ball rolls off.
func (p *Plate) Read(axis acp.Axis) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	dt := now.Sub(p.lastStep).Seconds()
	p.lastStep = now
	// Guard against clock hiccups and year-long test pauses.
	if dt > 0 && dt < 1 {
		p.step(dt)
	}

	if !p.onPlate {
		return 0, false
	}
	pos := p.x
	if axis == acp.AxisY {
		pos = p.y
	}
	if p.noiseMm > 0 {
		pos += p.rng.NormFloat64() * p.noiseMm
	}
	return pos, true
}

// OnPlate reports whether the ball is still on the plate.
func (p *Plate) OnPlate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onPlate
}

type actuator struct {
	plate *Plate
	axis  acp.Axis
}

func (a actuator) SetAngle(rad float64) {
	a.plate.mu.Lock()
	defer a.plate.mu.Unlock()
	if a.axis == acp.AxisX {
		a.plate.angleX = rad
	} else {
		a.plate.angleY = rad
	}
}

// ActuatorX returns the X-axis tilt actuator.
func (p *Plate) ActuatorX() control.Actuator {
	return actuator{plate: p, axis: acp.AxisX}
}

// ActuatorY returns the Y-axis tilt actuator.
func (p *Plate) ActuatorY() control.Actuator {
	return actuator{plate: p, axis: acp.AxisY}
}
