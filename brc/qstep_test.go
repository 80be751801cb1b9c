package brc

import "testing"

func TestQstepToQPRoundTrip(t *testing.T) {
	for q := 0; q <= 51; q++ {
		got := qstepToQP(qpToQstep(q, 0), 0)
		if got != q {
			t.Errorf("qstepToQP(qpToQstep(%d,0),0) = %d, want %d", q, got, q)
		}
	}
}

func TestQstepToQPFloor(t *testing.T) {
	tests := []struct {
		name   string
		q      float64
		offset int
		want   int
	}{
		{name: "below table", q: 0.1, offset: 0, want: 0},
		{name: "exact entry", q: qstep[10], offset: 0, want: 10},
		{name: "between entries", q: (qstep[10] + qstep[11]) / 2, offset: 0, want: 10},
		{name: "above table", q: 1e9, offset: 0, want: 51},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := qstepToQPFloor(tt.q, tt.offset)
			if got != tt.want {
				t.Errorf("qstepToQPFloor(%v,%d) = %d, want %d", tt.q, tt.offset, got, tt.want)
			}
		})
	}
}

func TestQstepToQPSaturatesAtTableEnd(t *testing.T) {
	got := qstepToQP(1e12, 0)
	if got != 51 {
		t.Errorf("qstepToQP(huge,0) = %d, want saturation at 51", got)
	}
}

func TestQpToQstepClamps(t *testing.T) {
	tests := []struct {
		name   string
		qp     int
		offset int
		want   float64
	}{
		{name: "negative", qp: -5, offset: 0, want: qstep[0]},
		{name: "over limit", qp: 100, offset: 0, want: qstep[51]},
		{name: "with offset", qp: 60, offset: 12, want: qstep[60]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := qpToQstep(tt.qp, tt.offset)
			if got != tt.want {
				t.Errorf("qpToQstep(%d,%d) = %v, want %v", tt.qp, tt.offset, got, tt.want)
			}
		})
	}
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		name         string
		v, lo, hi    int
		want         int
	}{
		{name: "within range", v: 5, lo: 0, hi: 10, want: 5},
		{name: "below range", v: -5, lo: 0, hi: 10, want: 0},
		{name: "above range", v: 15, lo: 0, hi: 10, want: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampInt(tt.v, tt.lo, tt.hi); got != tt.want {
				t.Errorf("clampInt(%d,%d,%d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
			}
		})
	}
}
