package acp

import (
	"encoding/binary"
	"testing"
)

func TestBallTraceIndWireLayout(t *testing.T) {
	p := BallTraceInd{SampleNumber: 0x0102030405060708, SetpointX: 1, PositionX: 2, SetpointY: 3, PositionY: 4}
	buf := make([]byte, BallTraceIndSize)
	p.Marshal(buf)

	if got := binary.LittleEndian.Uint64(buf[0:8]); got != p.SampleNumber {
		t.Errorf("sample number on the wire = %#x, want %#x", got, p.SampleNumber)
	}
	// float32(1.0) little-endian.
	if buf[8] != 0x00 || buf[9] != 0x00 || buf[10] != 0x80 || buf[11] != 0x3F {
		t.Errorf("setpoint X bytes = % x, want 00 00 80 3f", buf[8:12])
	}

	var back BallTraceInd
	if err := back.Unmarshal(buf); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != p {
		t.Errorf("round trip = %+v, want %+v", back, p)
	}
}

func TestUnmarshalRejectsWrongLength(t *testing.T) {
	var p SetFilterOrderResp
	if err := p.Unmarshal(make([]byte, SetFilterOrderRespSize-1)); err == nil {
		t.Error("short payload accepted")
	}
	var e BallTraceEnable
	if err := e.Unmarshal(make([]byte, BallTraceEnableSize+4)); err == nil {
		t.Error("long payload accepted")
	}
}

func TestLogCommitText(t *testing.T) {
	var p LogCommit
	p.SetText("plate levelled")
	if p.Text() != "plate levelled" {
		t.Errorf("Text() = %q", p.Text())
	}

	long := make([]byte, 2*LogCommitSize)
	for i := range long {
		long[i] = 'x'
	}
	p.SetText(string(long))
	if len(p.Text()) != LogCommitSize {
		t.Errorf("oversize line truncated to %d, want %d", len(p.Text()), LogCommitSize)
	}
}

func TestAxisValidation(t *testing.T) {
	if !AxisX.Valid() || !AxisY.Valid() {
		t.Error("defined axes must validate")
	}
	if Axis(2).Valid() {
		t.Error("axis 2 must not validate")
	}
	if AxisX.String() != "X-axis" || AxisY.String() != "Y-axis" {
		t.Errorf("axis names = %q, %q", AxisX.String(), AxisY.String())
	}
}
