package brc

import "testing"

func baseVideoParam() VideoParam {
	return VideoParam{
		CodecID:           AVC,
		RateControlMethod: CBR,
		TargetKbps:        1000,
		MaxKbps:           1000,
		Width:             640,
		Height:            480,
		FrameRate:         FrameRate{Num: 30, Den: 1},
		GopPicSize:        30,
		GopRefDist:        1,
	}
}

func TestNewParamsRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*VideoParam)
	}{
		{name: "bad rate control", mod: func(vp *VideoParam) { vp.RateControlMethod = 0 }},
		{name: "zero frame rate denominator", mod: func(vp *VideoParam) { vp.FrameRate.Den = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vp := baseVideoParam()
			tt.mod(&vp)
			if _, err := NewParams(vp, false); err == nil {
				t.Errorf("NewParams() error = nil, want non-nil")
			}
		})
	}
}

func TestNewParamsCBRForcesMaxEqualsTarget(t *testing.T) {
	vp := baseVideoParam()
	vp.MaxKbps = 5000
	p, err := NewParams(vp, false)
	if err != nil {
		t.Fatalf("NewParams() error = %v", err)
	}
	if p.maxBps != p.targetBps {
		t.Errorf("CBR maxBps = %d, targetBps = %d, want equal", p.maxBps, p.targetBps)
	}
}

func TestNewParamsVBRRaisesMaxToTarget(t *testing.T) {
	vp := baseVideoParam()
	vp.RateControlMethod = VBR
	vp.TargetKbps = 1000
	vp.MaxKbps = 500
	p, err := NewParams(vp, false)
	if err != nil {
		t.Fatalf("NewParams() error = %v", err)
	}
	if p.maxBps < p.targetBps {
		t.Errorf("VBR maxBps = %d, want >= targetBps = %d", p.maxBps, p.targetBps)
	}
}

func TestNewParamsDefaultQPRange(t *testing.T) {
	vp := baseVideoParam()
	p, err := NewParams(vp, false)
	if err != nil {
		t.Fatalf("NewParams() error = %v", err)
	}
	if p.quantMinI != 1 || p.quantMaxI != 51 {
		t.Errorf("default I QP range = [%d,%d], want [1,51]", p.quantMinI, p.quantMaxI)
	}
}

func TestResetTypeIdempotentOnNoChange(t *testing.T) {
	vp := baseVideoParam()
	p, err := NewParams(vp, false)
	if err != nil {
		t.Fatalf("NewParams() error = %v", err)
	}

	brcReset, swReset, err := p.ResetType(vp, false, false)
	if err != nil {
		t.Fatalf("ResetType() error = %v", err)
	}
	if brcReset || swReset {
		t.Errorf("ResetType() = (%v,%v), want (false,false) for identical params", brcReset, swReset)
	}
}

func TestResetTypeIncompatibleRateControl(t *testing.T) {
	vp := baseVideoParam()
	p, err := NewParams(vp, false)
	if err != nil {
		t.Fatalf("NewParams() error = %v", err)
	}

	vp2 := vp
	vp2.RateControlMethod = VBR
	if _, _, err := p.ResetType(vp2, false, false); err == nil {
		t.Errorf("ResetType() error = nil, want non-nil for incompatible rate control method")
	}
}

func TestResetTypeTargetBitrateChangeTriggersBrcReset(t *testing.T) {
	vp := baseVideoParam()
	p, err := NewParams(vp, false)
	if err != nil {
		t.Fatalf("NewParams() error = %v", err)
	}

	vp2 := vp
	vp2.TargetKbps = 2000
	vp2.MaxKbps = 2000
	brcReset, swReset, err := p.ResetType(vp2, false, false)
	if err != nil {
		t.Fatalf("ResetType() error = %v", err)
	}
	if !brcReset {
		t.Errorf("ResetType() brcReset = false, want true on target bitrate change")
	}
	if swReset {
		t.Errorf("ResetType() slidingWindowReset = true, want false")
	}
}

func TestResetTypeNewSequenceShortCircuits(t *testing.T) {
	vp := baseVideoParam()
	p, err := NewParams(vp, false)
	if err != nil {
		t.Fatalf("NewParams() error = %v", err)
	}

	vp2 := vp
	vp2.RateControlMethod = VBR
	brcReset, swReset, err := p.ResetType(vp2, false, true)
	if err != nil {
		t.Fatalf("ResetType() error = %v", err)
	}
	if brcReset || swReset {
		t.Errorf("ResetType() = (%v,%v), want (false,false) when newSequence is set", brcReset, swReset)
	}
}
