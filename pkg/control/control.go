// Package control implements the plant's sampling and regulation core.
//
// The core services the two plate axes round-robin: a periodic timer
// fires at half the sampling period and each expiry samples one axis,
// so every axis sees the full period between its own samples. All state
// mutation happens on the event dispatcher goroutine; the timer tick
// callback only counts and forwards.
package control

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"ballplate-go/pkg/acp"
	"ballplate-go/pkg/event"
	"ballplate-go/pkg/filter"
	"ballplate-go/pkg/log"
	"ballplate-go/pkg/pid"
	"ballplate-go/pkg/stats"
)

// Factory defaults, overridable at runtime over the protocol.
const (
	DefaultSamplingPeriod   = 0.05
	DefaultFilterOrder      = 5
	DefaultProportionalGain = 1.0
	DefaultIntegralGain     = 0.0
	DefaultDerivativeGain   = 0.5
	DefaultNoTouchTolerance = 0.25
)

// DefaultSaturationThreshold limits the actuator command to 30 degrees
// off level.
var DefaultSaturationThreshold = math.Asin(1) / 3.0

// Touchscreen reads the ball position along one axis. A false result
// means no touch was registered during the conversion.
type Touchscreen interface {
	Read(axis acp.Axis) (positionMm float64, touching bool)
}

// Actuator tilts the plate along one axis by the given angle in radians.
type Actuator interface {
	SetAngle(rad float64)
}

// Config parameterizes a Core. Zero-valued tuning fields fall back to
// the factory defaults.
type Config struct {
	Logger     *log.Logger
	Stats      *stats.Table
	Transport  *acp.Transport
	Dispatcher *event.Dispatcher

	Screen    Touchscreen
	ActuatorX Actuator
	ActuatorY Actuator

	// TraceReceiver is the node trace indications are addressed to.
	TraceReceiver acp.NodeID

	SamplingPeriod      float64 // seconds per axis
	FilterOrder         int
	ProportionalGain    float64
	IntegralGain        float64
	DerivativeGain      float64
	SaturationThreshold float64 // radians
	SetpointXMm         float64
	SetpointYMm         float64

	// NoTouchTolerance is the time window of consecutive missed
	// readings an axis rides out on its last known position.
	NoTouchTolerance float64 // seconds

	TraceEnabled bool
}

type axisContext struct {
	filter       *filter.Filter
	pid          *pid.Regulator
	actuator     Actuator
	noTouchCount int
	unfilteredMm float64
}

// Core is the sampling and regulation state machine. Except for the
// timer tick callback, all methods must run on the dispatcher goroutine.
type Core struct {
	logger     *log.Logger
	stats      *stats.Table
	transport  *acp.Transport
	dispatcher *event.Dispatcher
	screen     Touchscreen

	axes    [2]axisContext
	current acp.Axis

	samplingPeriod   float64
	noTouchTolerance float64
	toleranceSamples int

	traceEnabled  bool
	traceReceiver acp.NodeID

	// Trace context: the X-axis half-cycle saved for the Y half-cycle.
	xAsserted   bool
	xFilteredMm float64
	xSetpointMm float64

	inHandler  atomic.Bool
	timerTicks atomic.Uint64
	timerStop  chan struct{}
}

// New builds a core from the config and registers its handlers with the
// dispatcher. The sampling timer stays disarmed until Start.
func New(cfg Config) (*Core, error) {
	applyDefaults(&cfg)

	c := &Core{
		logger:           cfg.Logger,
		stats:            cfg.Stats,
		transport:        cfg.Transport,
		dispatcher:       cfg.Dispatcher,
		screen:           cfg.Screen,
		samplingPeriod:   cfg.SamplingPeriod,
		noTouchTolerance: cfg.NoTouchTolerance,
		traceEnabled:     cfg.TraceEnabled,
		traceReceiver:    cfg.TraceReceiver,
	}
	c.toleranceSamples = toleranceSamples(cfg.NoTouchTolerance, cfg.SamplingPeriod)

	setpoints := [2]float64{cfg.SetpointXMm, cfg.SetpointYMm}
	actuators := [2]Actuator{cfg.ActuatorX, cfg.ActuatorY}
	for axis := range c.axes {
		f, ok := filter.New(cfg.FilterOrder, 0)
		if !ok {
			return nil, fmt.Errorf("control: invalid filter order %d", cfg.FilterOrder)
		}
		c.axes[axis] = axisContext{
			filter: f,
			pid: pid.New(mmToM(setpoints[axis]), cfg.ProportionalGain, cfg.IntegralGain,
				cfg.DerivativeGain, cfg.SamplingPeriod, cfg.SaturationThreshold),
			actuator: actuators[axis],
		}
	}

	if err := cfg.Dispatcher.RegisterHandler(event.KindTimerExpired, func(event.Event) { c.tick() }); err != nil {
		return nil, err
	}
	err := cfg.Dispatcher.RegisterHandler(event.KindMessagePending, func(e event.Event) {
		c.handleMessage(e.Payload.(*acp.Message))
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("control core up: period %gs, filter order %d, tolerance %d sample(s)",
		c.samplingPeriod, cfg.FilterOrder, c.toleranceSamples)
	return c, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SamplingPeriod == 0 {
		cfg.SamplingPeriod = DefaultSamplingPeriod
	}
	if cfg.FilterOrder == 0 {
		cfg.FilterOrder = DefaultFilterOrder
	}
	if cfg.ProportionalGain == 0 {
		cfg.ProportionalGain = DefaultProportionalGain
	}
	if cfg.DerivativeGain == 0 {
		cfg.DerivativeGain = DefaultDerivativeGain
	}
	if cfg.SaturationThreshold == 0 {
		cfg.SaturationThreshold = DefaultSaturationThreshold
	}
	if cfg.NoTouchTolerance == 0 {
		cfg.NoTouchTolerance = DefaultNoTouchTolerance
	}
	if cfg.TraceReceiver == 0 {
		cfg.TraceReceiver = acp.NodePC
	}
}

// Start arms the sampling timer.
func (c *Core) Start() {
	c.armTimer()
	c.logger.Info("sampling timer armed, firing every %gs", c.samplingPeriod/2)
}

// Stop disarms the sampling timer.
func (c *Core) Stop() {
	c.disarmTimer()
}

func (c *Core) armTimer() {
	stop := make(chan struct{})
	c.timerStop = stop
	interval := time.Duration(c.samplingPeriod / 2 * float64(time.Second))
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.onTimerTick()
			case <-stop:
				return
			}
		}
	}()
}

func (c *Core) disarmTimer() {
	if c.timerStop != nil {
		close(c.timerStop)
		c.timerStop = nil
	}
}

// onTimerTick runs on the timer goroutine. A tick landing while the
// previous one is still being processed means the sampling period is
// too low; it is counted and dropped rather than queued up.
func (c *Core) onTimerTick() {
	c.timerTicks.Add(1)

	if c.inHandler.Load() {
		c.stats.TimerFalseStarts.Add(1)
		return
	}
	c.dispatcher.Send(event.KindTimerExpired, nil)
}

// sampleNumber counts full X+Y cycles: the timer fires twice per
// sampling period.
func (c *Core) sampleNumber() uint64 {
	return c.timerTicks.Load() / 2
}

// tick services one axis: sample, filter, regulate, actuate, then hand
// the round-robin to the other axis.
func (c *Core) tick() {
	c.inHandler.Store(true)

	ax := &c.axes[c.current]
	positionMm, touching := c.screen.Read(c.current)
	if touching {
		ax.noTouchCount = 0
		ax.unfilteredMm = positionMm
	} else {
		ax.noTouchCount++
	}

	if touching || ax.noTouchCount < c.toleranceSamples {

		// On a spurious no-touch the unfiltered position keeps its
		// previous value, so the axis rides out the glitch.
		filteredMm := ax.filter.Sample(ax.unfilteredMm)
		outputRad := ax.pid.Sample(mmToM(filteredMm))
		ax.actuator.SetAngle(outputRad)

		if c.current == acp.AxisY && c.traceEnabled && c.xAsserted {
			c.traceBallPosition(c.xSetpointMm, c.xFilteredMm,
				mToMm(ax.pid.Setpoint()), filteredMm)
		}

		// Overwriting the X-axis context on the Y half-cycle is fine:
		// the trace message for this pair is already out.
		c.xFilteredMm = filteredMm
		c.xAsserted = true
		c.xSetpointMm = mToMm(c.axes[acp.AxisX].pid.Setpoint())

	} else {

		// The ball genuinely left the plate. Level it and clear the
		// axis state so reacquisition starts clean.
		if c.current == acp.AxisX {
			c.xAsserted = false
		}
		ax.actuator.SetAngle(0)
		ax.filter.Reset(0)
		ax.pid.Reset()
	}

	c.current ^= 1
	c.inHandler.Store(false)
}

func (c *Core) traceBallPosition(xSetpointMm, xPositionMm, ySetpointMm, yPositionMm float64) {
	msg, ok := c.transport.CreateMessage(c.traceReceiver, acp.KindBallTraceInd, acp.BallTraceIndSize)
	if !ok {
		return
	}
	ind := acp.BallTraceInd{
		SampleNumber: c.sampleNumber(),
		SetpointX:    float32(xSetpointMm),
		PositionX:    float32(xPositionMm),
		SetpointY:    float32(ySetpointMm),
		PositionY:    float32(yPositionMm),
	}
	ind.Marshal(msg.Payload())
	c.transport.Send(msg)
}

func toleranceSamples(tolerance, period float64) int {
	// The epsilon keeps an exact multiple from flooring one short.
	return int(tolerance/period + 1e-9)
}

func mmToM(mm float64) float64 {
	return mm / 1000.0
}

func mToMm(m float64) float64 {
	return m * 1000.0
}
