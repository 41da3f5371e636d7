// Package controller implements the handheld setpoint source. A
// periodic timer polls the operator's touch panel and, whenever both
// axes register a touch, forwards the touched position to the plant as
// a setpoint request. The message pump answers pings and discards
// everything else.
package controller

import (
	"fmt"
	"sync"
	"time"

	"ballplate-go/pkg/acp"
	"ballplate-go/pkg/log"
)

// DefaultSamplingPeriod is the panel polling period in seconds.
const DefaultSamplingPeriod = 0.01

// Panel reads the operator's touch along one axis. A false result means
// no touch was registered during the conversion.
type Panel interface {
	Read(axis acp.Axis) (positionMm float64, touching bool)
}

// Config parameterizes a Controller. A zero SamplingPeriod falls back
// to the default.
type Config struct {
	Logger    *log.Logger
	Transport *acp.Transport
	Panel     Panel

	SamplingPeriod float64 // seconds
}

// Controller owns the panel timer and the message pump goroutines.
type Controller struct {
	logger    *log.Logger
	transport *acp.Transport
	panel     Panel
	period    float64

	timerStop chan struct{}
	wg        sync.WaitGroup
}

// New validates the deployment and builds an idle controller. The
// transport must be bound to the controller's link address.
func New(cfg Config) (*Controller, error) {
	if cfg.Transport.OwnID() != acp.NodeController {
		return nil, fmt.Errorf("controller: deployed on node %s, must be bound to the controller address",
			cfg.Transport.OwnID())
	}
	if cfg.SamplingPeriod == 0 {
		cfg.SamplingPeriod = DefaultSamplingPeriod
	}
	if cfg.SamplingPeriod < 0 {
		return nil, fmt.Errorf("controller: negative sampling period %g", cfg.SamplingPeriod)
	}
	return &Controller{
		logger:    cfg.Logger,
		transport: cfg.Transport,
		panel:     cfg.Panel,
		period:    cfg.SamplingPeriod,
	}, nil
}

// Start arms the panel timer and spawns the message pump.
func (c *Controller) Start() {
	stop := make(chan struct{})
	c.timerStop = stop

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(time.Duration(c.period * float64(time.Second)))
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.tick()
			case <-stop:
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		c.pump()
	}()

	c.logger.Info("controller up, polling the panel every %gs", c.period)
}

// Stop disarms the panel timer. The pump exits when the transport
// closes; Wait after closing it.
func (c *Controller) Stop() {
	if c.timerStop != nil {
		close(c.timerStop)
		c.timerStop = nil
	}
}

// Wait blocks until both goroutines have exited.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// tick polls both axes. A touch must register on both for the position
// to be meaningful; a half-touch is discarded like no touch at all.
func (c *Controller) tick() {
	xMm, xTouching := c.panel.Read(acp.AxisX)
	yMm, yTouching := c.panel.Read(acp.AxisY)
	if !xTouching || !yTouching {
		return
	}

	msg, ok := c.transport.CreateMessage(acp.NodePlant, acp.KindNewSetpointReq, acp.NewSetpointReqSize)
	if !ok {
		return
	}
	(&acp.NewSetpointReq{SetpointX: float32(xMm), SetpointY: float32(yMm)}).Marshal(msg.Payload())
	c.transport.Send(msg)
}

// pump answers ping requests and discards everything else.
func (c *Controller) pump() {
	for {
		req := c.transport.Receive(acp.WaitForever)
		if req == nil {
			return
		}
		if req.Kind() == acp.KindPingReq {
			if resp, ok := c.transport.CreateMessage(req.Sender(), acp.KindPingResp, 0); ok {
				c.transport.Send(resp)
			}
		}
		c.transport.Destroy(req)
	}
}

// LogSink returns a commit callback wrapping local log lines into
// messages bound for the PC, so the controller's logging shows up in
// the operator's stream.
func (c *Controller) LogSink() log.CommitCallback {
	return func(level log.Level, line string) {
		msg, ok := c.transport.CreateMessage(acp.NodePC, acp.KindLogCommit, acp.LogCommitSize)
		if !ok {
			return
		}
		var payload acp.LogCommit
		payload.SetText(line)
		payload.Marshal(msg.Payload())
		c.transport.Send(msg)
	}
}
