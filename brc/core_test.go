package brc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func cbrVideoParam() VideoParam {
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

func TestNewCoreSeedsInitialQPWithinIRange(t *testing.T) {
	c, err := NewCore(cbrVideoParam())
	if err != nil {
		t.Fatalf("NewCore() error = %v", err)
	}
	if c.ctx.quant < c.params.quantMinI || c.ctx.quant > c.params.quantMaxI {
		t.Errorf("initial quant = %d, want within [%d,%d]", c.ctx.quant, c.params.quantMinI, c.params.quantMaxI)
	}
	if c.ctx.quantI != c.ctx.quant {
		t.Errorf("QuantI = %d, want %d (updateQpParams(qp,I,...) invariant)", c.ctx.quantI, c.ctx.quant)
	}
}

// TestCBRConstantInputNoRecode is scenario 1 from SPEC_FULL.md's end-to-end
// scenarios: steady 1000kbps/30fps input should settle without recoding and
// keep the cumulative deviation small.
func TestCBRConstantInputNoRecode(t *testing.T) {
	c, err := NewCore(cbrVideoParam())
	if err != nil {
		t.Fatalf("NewCore() error = %v", err)
	}

	const bitsPerFrame = 1000000 / 30
	initialQuant := c.ctx.quant

	for i := uint32(0); i < 300; i++ {
		ft := FrameP
		if i == 0 {
			ft = FrameI
		}
		fp := FrameParam{
			EncodedOrder:          i,
			DisplayOrder:          i,
			FrameType:             ft,
			CodedFrameSizeInBytes: bitsPerFrame / 8,
		}
		fc, err := c.GetFrameCtrl(fp)
		if err != nil {
			t.Fatalf("frame %d: GetFrameCtrl() error = %v", i, err)
		}
		status, err := c.Update(fp, fc.QpY)
		if err != nil {
			t.Fatalf("frame %d: Update() error = %v", i, err)
		}
		if status.BRCStatus != VerdictOK {
			t.Errorf("frame %d: BRCStatus = %v, want OK", i, status.BRCStatus)
		}
	}

	if d := c.ctx.totalDeviation; d < -10000 || d > 10000 {
		t.Errorf("totalDeviation = %v, want within +/-10000", d)
	}
	if diff := c.ctx.quant - initialQuant; diff < -2 || diff > 2 {
		t.Errorf("final quant drifted by %d from initial, want within +/-2", diff)
	}
}

func TestGetFrameCtrlSameEncOrderReturnsLatchedQP(t *testing.T) {
	c, err := NewCore(cbrVideoParam())
	if err != nil {
		t.Fatalf("NewCore() error = %v", err)
	}

	want := FrameCtrl{QpY: c.ctx.quant - c.params.quantOffset}
	got, err := c.GetFrameCtrl(FrameParam{EncodedOrder: c.ctx.encOrder, FrameType: FrameP})
	if err != nil {
		t.Fatalf("GetFrameCtrl() error = %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetFrameCtrl() mismatch (-want +got):\n%s", diff)
	}
}

func TestGetFrameCtrlQPWithinBounds(t *testing.T) {
	c, err := NewCore(cbrVideoParam())
	if err != nil {
		t.Fatalf("NewCore() error = %v", err)
	}
	fc, err := c.GetFrameCtrl(FrameParam{EncodedOrder: 0, FrameType: FrameI})
	if err != nil {
		t.Fatalf("GetFrameCtrl() error = %v", err)
	}
	min, max := c.params.quantMinI-c.params.quantOffset, c.params.quantMaxI-c.params.quantOffset
	if fc.QpY < min || fc.QpY > max {
		t.Errorf("QpY = %d, want within [%d,%d]", fc.QpY, min, max)
	}
}

func TestDeriveFrameType(t *testing.T) {
	tests := []struct {
		name       string
		ft         FrameType
		layer      int
		gopRefDist uint32
		want       PictureType
	}{
		{name: "IDR", ft: FrameIDR, layer: 0, gopRefDist: 1, want: PictureI},
		{name: "I", ft: FrameI, layer: 0, gopRefDist: 1, want: PictureI},
		{name: "P", ft: FrameP, layer: 0, gopRefDist: 1, want: PictureP},
		{name: "ref at layer 0 treated as P", ft: FrameRef, layer: 0, gopRefDist: 4, want: PictureP},
		{name: "ref with gopRefDist 1 treated as P", ft: FrameRef, layer: 2, gopRefDist: 1, want: PictureP},
		{name: "ref deep in pyramid is B", ft: FrameRef, layer: 2, gopRefDist: 4, want: PictureB},
		{name: "plain frame with no flags is B", ft: 0, layer: 1, gopRefDist: 4, want: PictureB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveFrameType(tt.ft, tt.layer, tt.gopRefDist); got != tt.want {
				t.Errorf("deriveFrameType(%v,%d,%d) = %v, want %v", tt.ft, tt.layer, tt.gopRefDist, got, tt.want)
			}
		})
	}
}

func TestUpdateQpParamsIInvariant(t *testing.T) {
	ctx := &Context{}
	p := &Params{quantMinI: 1, quantMaxI: 51, quantMinP: 1, quantMaxP: 51, quantMinB: 1, quantMaxB: 51}
	updateQpParams(ctx, p, 26, PictureI, 0)
	if ctx.quantI != 26 {
		t.Errorf("QuantI = %d, want 26", ctx.quantI)
	}
	if !(ctx.quantI <= ctx.quantP && ctx.quantP <= ctx.quantB) {
		t.Errorf("QuantI<=QuantP<=QuantB violated: %d,%d,%d", ctx.quantI, ctx.quantP, ctx.quantB)
	}
}

func TestGetAbPeriodCoeffSmallGop(t *testing.T) {
	if got := getAbPeriodCoeff(0, 1); got != 1.0 {
		t.Errorf("getAbPeriodCoeff(0,1) = %v, want 1.0", got)
	}
	if got := getAbPeriodCoeff(5, 0); got != 1.0 {
		t.Errorf("getAbPeriodCoeff(5,0) = %v, want 1.0", got)
	}
}

func TestGetAbPeriodCoeffAtOrPastGopEnd(t *testing.T) {
	if got := getAbPeriodCoeff(30, 30); got != 1.0 {
		t.Errorf("getAbPeriodCoeff(30,30) = %v, want 1.0", got)
	}
}

func TestIsFrameBeforeIntra(t *testing.T) {
	tests := []struct {
		name                          string
		encOrder, lastI, gop, refDist uint32
		want                          bool
	}{
		{name: "well within gop", encOrder: 2, lastI: 0, gop: 30, refDist: 1, want: false},
		{name: "near gop end", encOrder: 29, lastI: 0, gop: 30, refDist: 1, want: true},
		{name: "before last I", encOrder: 0, lastI: 5, gop: 30, refDist: 1, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isFrameBeforeIntra(tt.encOrder, tt.lastI, tt.gop, tt.refDist); got != tt.want {
				t.Errorf("isFrameBeforeIntra(%d,%d,%d,%d) = %v, want %v", tt.encOrder, tt.lastI, tt.gop, tt.refDist, got, tt.want)
			}
		})
	}
}

func TestNewQpFromSizesMonotonic(t *testing.T) {
	lowRatio := newQpFromSizes(1000, 2000, 1, 51, 26, 0, 1.0, false, false)
	highRatio := newQpFromSizes(4000, 2000, 1, 51, 26, 0, 1.0, false, false)
	if highRatio < lowRatio {
		t.Errorf("newQpFromSizes with higher produced/target = %d, want >= %d (monotonicity)", highRatio, lowRatio)
	}
}

func TestNewQpFromSizesClampedToRange(t *testing.T) {
	got := newQpFromSizes(1e9, 1, 1, 51, 26, 0, 1.0, false, false)
	if got != 51 {
		t.Errorf("newQpFromSizes() with extreme overflow = %d, want clamp to max 51", got)
	}
}

func TestRawFrameSizeBits(t *testing.T) {
	tests := []struct {
		name                string
		width, height       uint32
		chroma              ChromaFormat
		bitDepth            uint32
		want                uint32
	}{
		{name: "420 8-bit", width: 2, height: 2, chroma: Chroma420, bitDepth: 8, want: (4 + 2) * 8},
		{name: "444 8-bit", width: 2, height: 2, chroma: Chroma444, bitDepth: 8, want: (4 + 8) * 8},
		{name: "default bit depth", width: 2, height: 2, chroma: Chroma420, bitDepth: 0, want: (4 + 2) * 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rawFrameSizeBits(tt.width, tt.height, tt.chroma, tt.bitDepth); got != tt.want {
				t.Errorf("rawFrameSizeBits() = %d, want %d", got, tt.want)
			}
		})
	}
}
