package control

import (
	"ballplate-go/pkg/acp"
	"ballplate-go/pkg/filter"
)

// handleMessage routes one inbound protocol message. Every request is
// consumed here: destroyed after processing, or handed back to the
// transport when the reply is an echo of the request itself.
func (c *Core) handleMessage(msg *acp.Message) {
	switch msg.Kind() {

	case acp.KindPingReq:
		c.handlePingReq(msg)

	case acp.KindBallTraceEnable:
		c.handleBallTraceEnable(msg)

	case acp.KindNewSetpointReq:
		c.handleNewSetpointReq(msg)

	case acp.KindGetPidSettingsReq:
		c.handleGetPidSettingsReq(msg)

	case acp.KindSetPidSettingsReq:
		c.handleSetPidSettingsReq(msg)

	case acp.KindGetSamplingPeriodReq:
		c.handleGetSamplingPeriodReq(msg)

	case acp.KindSetSamplingPeriodReq:
		c.handleSetSamplingPeriodReq(msg)

	case acp.KindGetFilterOrderReq:
		c.handleGetFilterOrderReq(msg)

	case acp.KindSetFilterOrderReq:
		c.handleSetFilterOrderReq(msg)

	default:
		c.logger.Warn("received unknown message 0x%02X from 0x%02X",
			uint8(msg.Kind()), uint8(msg.Sender()))
		c.transport.Destroy(msg)
	}
}

func (c *Core) handlePingReq(request *acp.Message) {
	defer c.transport.Destroy(request)

	response, ok := c.transport.CreateMessage(request.Sender(), acp.KindPingResp, 0)
	if !ok {
		c.logger.Error("failed to create the ping response")
		return
	}
	c.transport.Send(response)
}

func (c *Core) handleBallTraceEnable(request *acp.Message) {
	var payload acp.BallTraceEnable
	if err := payload.Unmarshal(request.Payload()); err != nil {
		c.logger.Warn("%v", err)
		c.transport.Destroy(request)
		return
	}

	c.traceEnabled = payload.Enable
	if payload.Enable {
		c.logger.Info("ball tracing enabled by 0x%02X", uint8(request.Sender()))
	} else {
		c.logger.Info("ball tracing disabled by 0x%02X", uint8(request.Sender()))
	}

	// The acknowledgement is the request itself, bounced back.
	c.transport.Echo(request)
}

func (c *Core) handleNewSetpointReq(request *acp.Message) {
	defer c.transport.Destroy(request)

	var payload acp.NewSetpointReq
	if err := payload.Unmarshal(request.Payload()); err != nil {
		c.logger.Warn("%v", err)
		return
	}

	c.axes[acp.AxisX].pid.SetSetpoint(mmToM(float64(payload.SetpointX)))
	c.axes[acp.AxisY].pid.SetSetpoint(mmToM(float64(payload.SetpointY)))
}

func (c *Core) handleGetPidSettingsReq(request *acp.Message) {
	defer c.transport.Destroy(request)

	var payload acp.GetPidSettingsReq
	if err := payload.Unmarshal(request.Payload()); err != nil {
		c.logger.Warn("%v", err)
		return
	}
	if !payload.AxisID.Valid() {
		c.logger.Warn("get PID settings request for invalid axis %d", uint32(payload.AxisID))
		return
	}

	response, ok := c.transport.CreateMessage(request.Sender(), acp.KindGetPidSettingsResp, acp.GetPidSettingsRespSize)
	if !ok {
		c.logger.Error("failed to create the get PID settings response")
		return
	}
	regulator := c.axes[payload.AxisID].pid
	resp := acp.GetPidSettingsResp{
		AxisID:           payload.AxisID,
		ProportionalGain: float32(regulator.ProportionalGain()),
		IntegralGain:     float32(regulator.IntegralGain()),
		DerivativeGain:   float32(regulator.DerivativeGain()),
	}
	resp.Marshal(response.Payload())
	c.transport.Send(response)
}

func (c *Core) handleSetPidSettingsReq(request *acp.Message) {
	defer c.transport.Destroy(request)

	var payload acp.SetPidSettingsReq
	if err := payload.Unmarshal(request.Payload()); err != nil {
		c.logger.Warn("%v", err)
		return
	}
	if !payload.AxisID.Valid() {
		c.logger.Warn("set PID settings request for invalid axis %d", uint32(payload.AxisID))
		return
	}

	regulator := c.axes[payload.AxisID].pid
	oldKp := regulator.SetProportionalGain(float64(payload.ProportionalGain))
	oldKi := regulator.SetIntegralGain(float64(payload.IntegralGain))
	oldKd := regulator.SetDerivativeGain(float64(payload.DerivativeGain))

	c.logger.Info("changed %s PID settings from (%g, %g, %g) to (%g, %g, %g)",
		payload.AxisID, oldKp, oldKi, oldKd,
		payload.ProportionalGain, payload.IntegralGain, payload.DerivativeGain)

	response, ok := c.transport.CreateMessage(request.Sender(), acp.KindSetPidSettingsResp, acp.SetPidSettingsRespSize)
	if !ok {
		c.logger.Error("failed to create the set PID settings response")
		return
	}
	resp := acp.SetPidSettingsResp{
		AxisID:              payload.AxisID,
		OldProportionalGain: float32(oldKp),
		OldIntegralGain:     float32(oldKi),
		OldDerivativeGain:   float32(oldKd),
		NewProportionalGain: payload.ProportionalGain,
		NewIntegralGain:     payload.IntegralGain,
		NewDerivativeGain:   payload.DerivativeGain,
	}
	resp.Marshal(response.Payload())
	c.transport.Send(response)
}

func (c *Core) handleGetSamplingPeriodReq(request *acp.Message) {
	defer c.transport.Destroy(request)

	response, ok := c.transport.CreateMessage(request.Sender(), acp.KindGetSamplingPeriodResp, acp.GetSamplingPeriodRespSize)
	if !ok {
		c.logger.Error("failed to create the get sampling period response")
		return
	}
	resp := acp.GetSamplingPeriodResp{SamplingPeriod: float32(c.samplingPeriod)}
	resp.Marshal(response.Payload())
	c.transport.Send(response)
}

func (c *Core) handleSetSamplingPeriodReq(request *acp.Message) {
	defer c.transport.Destroy(request)

	var payload acp.SetSamplingPeriodReq
	if err := payload.Unmarshal(request.Payload()); err != nil {
		c.logger.Warn("%v", err)
		return
	}
	newPeriod := float64(payload.SamplingPeriod)
	if newPeriod <= 0 {
		c.logger.Warn("rejecting non-positive sampling period %g", newPeriod)
		return
	}

	oldPeriod := c.samplingPeriod

	c.disarmTimer()
	c.axes[acp.AxisX].pid.SetSamplingPeriod(newPeriod)
	c.axes[acp.AxisY].pid.SetSamplingPeriod(newPeriod)
	c.samplingPeriod = newPeriod
	c.toleranceSamples = toleranceSamples(c.noTouchTolerance, newPeriod)
	c.armTimer()

	c.logger.Info("sampling period changed from %g to %g, tolerance now %d sample(s)",
		oldPeriod, newPeriod, c.toleranceSamples)

	response, ok := c.transport.CreateMessage(request.Sender(), acp.KindSetSamplingPeriodResp, acp.SetSamplingPeriodRespSize)
	if !ok {
		c.logger.Error("failed to create the set sampling period response")
		return
	}
	resp := acp.SetSamplingPeriodResp{
		OldSamplingPeriod: float32(oldPeriod),
		NewSamplingPeriod: payload.SamplingPeriod,
	}
	resp.Marshal(response.Payload())
	c.transport.Send(response)
}

func (c *Core) handleGetFilterOrderReq(request *acp.Message) {
	defer c.transport.Destroy(request)

	var payload acp.GetFilterOrderReq
	if err := payload.Unmarshal(request.Payload()); err != nil {
		c.logger.Warn("%v", err)
		return
	}
	if !payload.AxisID.Valid() {
		c.logger.Warn("get filter order request for invalid axis %d", uint32(payload.AxisID))
		return
	}

	response, ok := c.transport.CreateMessage(request.Sender(), acp.KindGetFilterOrderResp, acp.GetFilterOrderRespSize)
	if !ok {
		c.logger.Error("failed to create the get filter order response")
		return
	}
	resp := acp.GetFilterOrderResp{
		AxisID:      payload.AxisID,
		FilterOrder: uint32(c.axes[payload.AxisID].filter.Order()),
	}
	resp.Marshal(response.Payload())
	c.transport.Send(response)
}

func (c *Core) handleSetFilterOrderReq(request *acp.Message) {
	defer c.transport.Destroy(request)

	var payload acp.SetFilterOrderReq
	if err := payload.Unmarshal(request.Payload()); err != nil {
		c.logger.Warn("%v", err)
		return
	}
	if !payload.AxisID.Valid() {
		c.logger.Warn("set filter order request for invalid axis %d", uint32(payload.AxisID))
		return
	}

	ax := &c.axes[payload.AxisID]
	oldOrder := uint32(ax.filter.Order())
	newOrder := oldOrder
	status := acp.StatusOK

	// Build the replacement first; the old filter stays in place when
	// the requested order is unusable.
	if replacement, ok := newFilter(payload.FilterOrder); ok {
		ax.filter = replacement
		newOrder = payload.FilterOrder
		c.logger.Info("changed %s filter order from %d to %d", payload.AxisID, oldOrder, newOrder)
	} else {
		status = acp.StatusError
		c.logger.Error("cannot instantiate a filter of order %d for the %s, order remains %d",
			payload.FilterOrder, payload.AxisID, oldOrder)
	}

	response, ok := c.transport.CreateMessage(request.Sender(), acp.KindSetFilterOrderResp, acp.SetFilterOrderRespSize)
	if !ok {
		c.logger.Error("failed to create the set filter order response")
		return
	}
	resp := acp.SetFilterOrderResp{
		Status:         status,
		AxisID:         payload.AxisID,
		OldFilterOrder: oldOrder,
		NewFilterOrder: newOrder,
	}
	resp.Marshal(response.Payload())
	c.transport.Send(response)
}

// maxFilterOrder caps runtime reconfiguration so a single request cannot
// commit the node to an arbitrarily large ring buffer.
const maxFilterOrder = 4096

func newFilter(order uint32) (*filter.Filter, bool) {
	if order > maxFilterOrder {
		return nil, false
	}
	return filter.New(int(order), 0)
}
