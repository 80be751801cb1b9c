package hrd

import "testing"

func TestNewInputDerivesScalars(t *testing.T) {
	in := NewInput(true, 1000000, 125000, 125000, 30)

	if in.ClockTick != 3000 {
		t.Errorf("ClockTick = %v, want 3000", in.ClockTick)
	}
	if in.MaxCpbRemovalDelay != 1<<24 {
		t.Errorf("MaxCpbRemovalDelay = %v, want 2^24", in.MaxCpbRemovalDelay)
	}
	if !in.CBR {
		t.Errorf("CBR = false, want true")
	}
}

func TestQuantLatchDefaultsWideOpen(t *testing.T) {
	var l quantLatch
	if got := l.MaxQuant(); got != quantLatchMax {
		t.Errorf("MaxQuant() = %d, want %d", got, quantLatchMax)
	}
	if got := l.MinQuant(); got != quantLatchMin {
		t.Errorf("MinQuant() = %d, want %d", got, quantLatchMin)
	}
}

func TestQuantLatchLatchesBothBoundsToSameQP(t *testing.T) {
	var l quantLatch
	l.SetUnderflowQuant(30)
	if got := l.MaxQuant(); got != 30 {
		t.Errorf("MaxQuant() = %d, want 30", got)
	}
	if got := l.MinQuant(); got != 30 {
		t.Errorf("MinQuant() = %d, want 30", got)
	}

	l.ResetQuant()
	if got := l.MaxQuant(); got != quantLatchMax {
		t.Errorf("MaxQuant() after ResetQuant = %d, want %d", got, quantLatchMax)
	}
}

func TestTargetDelay(t *testing.T) {
	tests := []struct {
		name                          string
		cpbSize90k, initDelay         float64
		vbr                           bool
		want                          float64
	}{
		{name: "CBR takes min", cpbSize90k: 100, initDelay: 40, vbr: false, want: 40},
		{name: "CBR caps at half", cpbSize90k: 100, initDelay: 1000, vbr: false, want: 50},
		{name: "VBR caps at three quarters", cpbSize90k: 100, initDelay: 1000, vbr: true, want: 75},
		{name: "VBR floors at half", cpbSize90k: 100, initDelay: 0, vbr: true, want: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := targetDelay(tt.cpbSize90k, tt.initDelay, tt.vbr); got != tt.want {
				t.Errorf("targetDelay(%v,%v,%v) = %v, want %v", tt.cpbSize90k, tt.initDelay, tt.vbr, got, tt.want)
			}
		})
	}
}

func TestH264SatisfiesModel(t *testing.T) {
	var _ Model = NewH264(NewInput(true, 1000000, 125000, 125000, 30))
}

func TestHEVCSatisfiesModel(t *testing.T) {
	var _ Model = NewHEVC(NewInput(true, 1000000, 125000, 125000, 30))
}

func TestH264UpdateAdvancesWithoutUnderflow(t *testing.T) {
	in := NewInput(true, 1000000, 125000, 125000, 30)
	h := NewH264(in)

	bitsPerFrame := uint32(1000000 / 30)
	for i := uint32(0); i < 60; i++ {
		h.Update(bitsPerFrame, i, i == 0)
	}

	if got := h.MinFrameSizeInBits(60, false); got > bitsPerFrame*2 {
		t.Errorf("MinFrameSizeInBits() = %d, want a modest bound under steady CBR input", got)
	}
}

func TestHEVCUpdateAdvancesWithoutUnderflow(t *testing.T) {
	in := NewInput(true, 1000000, 125000, 125000, 30)
	h := NewHEVC(in)

	bitsPerFrame := uint32(1000000 / 30)
	for i := uint32(0); i < 60; i++ {
		h.Update(bitsPerFrame, i, i == 0)
	}

	if got := h.MinFrameSizeInBits(60, false); got > bitsPerFrame*2 {
		t.Errorf("MinFrameSizeInBits() = %d, want a modest bound under steady CBR input", got)
	}
}
