package acp

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Axis selects one of the plate's two control axes. On the wire an axis
// travels as a 32-bit little-endian value.
type Axis uint32

const (
	AxisX Axis = 0
	AxisY Axis = 1
)

// Valid reports whether the axis is one of the two defined values.
func (a Axis) Valid() bool {
	return a == AxisX || a == AxisY
}

// String returns the axis name.
func (a Axis) String() string {
	switch a {
	case AxisX:
		return "X-axis"
	case AxisY:
		return "Y-axis"
	default:
		return fmt.Sprintf("axis(%d)", uint32(a))
	}
}

// Status reports request success on the wire.
type Status uint32

const (
	StatusOK    Status = 0
	StatusError Status = 1
)

// Payload sizes in bytes.
const (
	BallTraceIndSize          = 24
	BallTraceEnableSize       = 4
	NewSetpointReqSize        = 8
	GetPidSettingsReqSize     = 4
	GetPidSettingsRespSize    = 16
	SetPidSettingsReqSize     = 16
	SetPidSettingsRespSize    = 28
	GetSamplingPeriodRespSize = 4
	SetSamplingPeriodReqSize  = 4
	SetSamplingPeriodRespSize = 8
	GetFilterOrderReqSize     = 4
	GetFilterOrderRespSize    = 8
	SetFilterOrderReqSize     = 8
	SetFilterOrderRespSize    = 16
	LogCommitSize             = 200
)

type reader struct {
	b []byte
}

func (r *reader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.b)
	r.b = r.b[4:]
	return v
}

func (r *reader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.b)
	r.b = r.b[8:]
	return v
}

func (r *reader) f32() float32 {
	return math.Float32frombits(r.u32())
}

type writer struct {
	b []byte
}

func (w *writer) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.b, v)
	w.b = w.b[4:]
}

func (w *writer) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.b, v)
	w.b = w.b[8:]
}

func (w *writer) f32(v float32) {
	w.u32(math.Float32bits(v))
}

func payloadLenError(kind Kind, want, got int) error {
	return fmt.Errorf("acp: message 0x%02X: payload length %d, want %d", uint8(kind), got, want)
}

// BallTraceInd carries one closed-loop sample to the trace consumer.
// Positions and setpoints are in millimetres.
type BallTraceInd struct {
	SampleNumber uint64
	SetpointX    float32
	PositionX    float32
	SetpointY    float32
	PositionY    float32
}

func (p *BallTraceInd) Marshal(dst []byte) {
	w := writer{dst}
	w.u64(p.SampleNumber)
	w.f32(p.SetpointX)
	w.f32(p.PositionX)
	w.f32(p.SetpointY)
	w.f32(p.PositionY)
}

func (p *BallTraceInd) Unmarshal(src []byte) error {
	if len(src) != BallTraceIndSize {
		return payloadLenError(KindBallTraceInd, BallTraceIndSize, len(src))
	}
	r := reader{src}
	p.SampleNumber = r.u64()
	p.SetpointX = r.f32()
	p.PositionX = r.f32()
	p.SetpointY = r.f32()
	p.PositionY = r.f32()
	return nil
}

// BallTraceEnable toggles trace indications on the plant.
type BallTraceEnable struct {
	Enable bool
}

func (p *BallTraceEnable) Marshal(dst []byte) {
	w := writer{dst}
	var v uint32
	if p.Enable {
		v = 1
	}
	w.u32(v)
}

func (p *BallTraceEnable) Unmarshal(src []byte) error {
	if len(src) != BallTraceEnableSize {
		return payloadLenError(KindBallTraceEnable, BallTraceEnableSize, len(src))
	}
	r := reader{src}
	p.Enable = r.u32() != 0
	return nil
}

// NewSetpointReq moves the regulation target. Coordinates in millimetres.
type NewSetpointReq struct {
	SetpointX float32
	SetpointY float32
}

func (p *NewSetpointReq) Marshal(dst []byte) {
	w := writer{dst}
	w.f32(p.SetpointX)
	w.f32(p.SetpointY)
}

func (p *NewSetpointReq) Unmarshal(src []byte) error {
	if len(src) != NewSetpointReqSize {
		return payloadLenError(KindNewSetpointReq, NewSetpointReqSize, len(src))
	}
	r := reader{src}
	p.SetpointX = r.f32()
	p.SetpointY = r.f32()
	return nil
}

// GetPidSettingsReq asks for one axis' regulator gains.
type GetPidSettingsReq struct {
	AxisID Axis
}

func (p *GetPidSettingsReq) Marshal(dst []byte) {
	w := writer{dst}
	w.u32(uint32(p.AxisID))
}

func (p *GetPidSettingsReq) Unmarshal(src []byte) error {
	if len(src) != GetPidSettingsReqSize {
		return payloadLenError(KindGetPidSettingsReq, GetPidSettingsReqSize, len(src))
	}
	r := reader{src}
	p.AxisID = Axis(r.u32())
	return nil
}

// GetPidSettingsResp reports one axis' regulator gains.
type GetPidSettingsResp struct {
	AxisID           Axis
	ProportionalGain float32
	IntegralGain     float32
	DerivativeGain   float32
}

func (p *GetPidSettingsResp) Marshal(dst []byte) {
	w := writer{dst}
	w.u32(uint32(p.AxisID))
	w.f32(p.ProportionalGain)
	w.f32(p.IntegralGain)
	w.f32(p.DerivativeGain)
}

func (p *GetPidSettingsResp) Unmarshal(src []byte) error {
	if len(src) != GetPidSettingsRespSize {
		return payloadLenError(KindGetPidSettingsResp, GetPidSettingsRespSize, len(src))
	}
	r := reader{src}
	p.AxisID = Axis(r.u32())
	p.ProportionalGain = r.f32()
	p.IntegralGain = r.f32()
	p.DerivativeGain = r.f32()
	return nil
}

// SetPidSettingsReq replaces one axis' regulator gains.
type SetPidSettingsReq struct {
	AxisID           Axis
	ProportionalGain float32
	IntegralGain     float32
	DerivativeGain   float32
}

func (p *SetPidSettingsReq) Marshal(dst []byte) {
	w := writer{dst}
	w.u32(uint32(p.AxisID))
	w.f32(p.ProportionalGain)
	w.f32(p.IntegralGain)
	w.f32(p.DerivativeGain)
}

func (p *SetPidSettingsReq) Unmarshal(src []byte) error {
	if len(src) != SetPidSettingsReqSize {
		return payloadLenError(KindSetPidSettingsReq, SetPidSettingsReqSize, len(src))
	}
	r := reader{src}
	p.AxisID = Axis(r.u32())
	p.ProportionalGain = r.f32()
	p.IntegralGain = r.f32()
	p.DerivativeGain = r.f32()
	return nil
}

// SetPidSettingsResp confirms a gain change with both the displaced and
// the applied values.
type SetPidSettingsResp struct {
	AxisID              Axis
	OldProportionalGain float32
	OldIntegralGain     float32
	OldDerivativeGain   float32
	NewProportionalGain float32
	NewIntegralGain     float32
	NewDerivativeGain   float32
}

func (p *SetPidSettingsResp) Marshal(dst []byte) {
	w := writer{dst}
	w.u32(uint32(p.AxisID))
	w.f32(p.OldProportionalGain)
	w.f32(p.OldIntegralGain)
	w.f32(p.OldDerivativeGain)
	w.f32(p.NewProportionalGain)
	w.f32(p.NewIntegralGain)
	w.f32(p.NewDerivativeGain)
}

func (p *SetPidSettingsResp) Unmarshal(src []byte) error {
	if len(src) != SetPidSettingsRespSize {
		return payloadLenError(KindSetPidSettingsResp, SetPidSettingsRespSize, len(src))
	}
	r := reader{src}
	p.AxisID = Axis(r.u32())
	p.OldProportionalGain = r.f32()
	p.OldIntegralGain = r.f32()
	p.OldDerivativeGain = r.f32()
	p.NewProportionalGain = r.f32()
	p.NewIntegralGain = r.f32()
	p.NewDerivativeGain = r.f32()
	return nil
}

// GetSamplingPeriodResp reports the control loop period in seconds.
type GetSamplingPeriodResp struct {
	SamplingPeriod float32
}

func (p *GetSamplingPeriodResp) Marshal(dst []byte) {
	w := writer{dst}
	w.f32(p.SamplingPeriod)
}

func (p *GetSamplingPeriodResp) Unmarshal(src []byte) error {
	if len(src) != GetSamplingPeriodRespSize {
		return payloadLenError(KindGetSamplingPeriodResp, GetSamplingPeriodRespSize, len(src))
	}
	r := reader{src}
	p.SamplingPeriod = r.f32()
	return nil
}

// SetSamplingPeriodReq changes the control loop period in seconds.
type SetSamplingPeriodReq struct {
	SamplingPeriod float32
}

func (p *SetSamplingPeriodReq) Marshal(dst []byte) {
	w := writer{dst}
	w.f32(p.SamplingPeriod)
}

func (p *SetSamplingPeriodReq) Unmarshal(src []byte) error {
	if len(src) != SetSamplingPeriodReqSize {
		return payloadLenError(KindSetSamplingPeriodReq, SetSamplingPeriodReqSize, len(src))
	}
	r := reader{src}
	p.SamplingPeriod = r.f32()
	return nil
}

// SetSamplingPeriodResp confirms a period change.
type SetSamplingPeriodResp struct {
	OldSamplingPeriod float32
	NewSamplingPeriod float32
}

func (p *SetSamplingPeriodResp) Marshal(dst []byte) {
	w := writer{dst}
	w.f32(p.OldSamplingPeriod)
	w.f32(p.NewSamplingPeriod)
}

func (p *SetSamplingPeriodResp) Unmarshal(src []byte) error {
	if len(src) != SetSamplingPeriodRespSize {
		return payloadLenError(KindSetSamplingPeriodResp, SetSamplingPeriodRespSize, len(src))
	}
	r := reader{src}
	p.OldSamplingPeriod = r.f32()
	p.NewSamplingPeriod = r.f32()
	return nil
}

// GetFilterOrderReq asks for one axis' moving-average order.
type GetFilterOrderReq struct {
	AxisID Axis
}

func (p *GetFilterOrderReq) Marshal(dst []byte) {
	w := writer{dst}
	w.u32(uint32(p.AxisID))
}

func (p *GetFilterOrderReq) Unmarshal(src []byte) error {
	if len(src) != GetFilterOrderReqSize {
		return payloadLenError(KindGetFilterOrderReq, GetFilterOrderReqSize, len(src))
	}
	r := reader{src}
	p.AxisID = Axis(r.u32())
	return nil
}

// GetFilterOrderResp reports one axis' moving-average order.
type GetFilterOrderResp struct {
	AxisID      Axis
	FilterOrder uint32
}

func (p *GetFilterOrderResp) Marshal(dst []byte) {
	w := writer{dst}
	w.u32(uint32(p.AxisID))
	w.u32(p.FilterOrder)
}

func (p *GetFilterOrderResp) Unmarshal(src []byte) error {
	if len(src) != GetFilterOrderRespSize {
		return payloadLenError(KindGetFilterOrderResp, GetFilterOrderRespSize, len(src))
	}
	r := reader{src}
	p.AxisID = Axis(r.u32())
	p.FilterOrder = r.u32()
	return nil
}

// SetFilterOrderReq changes one axis' moving-average order.
type SetFilterOrderReq struct {
	AxisID      Axis
	FilterOrder uint32
}

func (p *SetFilterOrderReq) Marshal(dst []byte) {
	w := writer{dst}
	w.u32(uint32(p.AxisID))
	w.u32(p.FilterOrder)
}

func (p *SetFilterOrderReq) Unmarshal(src []byte) error {
	if len(src) != SetFilterOrderReqSize {
		return payloadLenError(KindSetFilterOrderReq, SetFilterOrderReqSize, len(src))
	}
	r := reader{src}
	p.AxisID = Axis(r.u32())
	p.FilterOrder = r.u32()
	return nil
}

// SetFilterOrderResp confirms or rejects a filter order change. The new
// order is meaningful only when Status is StatusOK.
type SetFilterOrderResp struct {
	Status         Status
	AxisID         Axis
	OldFilterOrder uint32
	NewFilterOrder uint32
}

func (p *SetFilterOrderResp) Marshal(dst []byte) {
	w := writer{dst}
	w.u32(uint32(p.Status))
	w.u32(uint32(p.AxisID))
	w.u32(p.OldFilterOrder)
	w.u32(p.NewFilterOrder)
}

func (p *SetFilterOrderResp) Unmarshal(src []byte) error {
	if len(src) != SetFilterOrderRespSize {
		return payloadLenError(KindSetFilterOrderResp, SetFilterOrderRespSize, len(src))
	}
	r := reader{src}
	p.Status = Status(r.u32())
	p.AxisID = Axis(r.u32())
	p.OldFilterOrder = r.u32()
	p.NewFilterOrder = r.u32()
	return nil
}

// LogCommit carries one formatted log line in a fixed-size field. Text
// shorter than the field is NUL-padded.
type LogCommit struct {
	Message [LogCommitSize]byte
}

// SetText copies a log line into the fixed field, truncating as needed.
func (p *LogCommit) SetText(s string) {
	for i := range p.Message {
		p.Message[i] = 0
	}
	copy(p.Message[:], s)
}

// Text returns the log line with trailing NUL padding stripped.
func (p *LogCommit) Text() string {
	end := len(p.Message)
	for end > 0 && p.Message[end-1] == 0 {
		end--
	}
	return string(p.Message[:end])
}

func (p *LogCommit) Marshal(dst []byte) {
	copy(dst, p.Message[:])
}

func (p *LogCommit) Unmarshal(src []byte) error {
	if len(src) != LogCommitSize {
		return payloadLenError(KindLogCommit, LogCommitSize, len(src))
	}
	copy(p.Message[:], src)
	return nil
}
