/*
NAME
  core.go

DESCRIPTION
  core.go implements Core, the BRC decision engine: QP selection on
  request, post-encode size assessment, recode verdicts, scene-change
  detection, and the long/short bitrate EMAs that drive them.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package brc

import (
	"math"

	"github.com/pkg/errors"

	"github.com/ausocean/utils/logging"

	"github.com/ausocean/brc/brc/hrd"
	"github.com/ausocean/brc/brc/window"
)

const brcSceneChangeRatio2 = 6.0

// Core is the BRC decision engine. It owns a Params, a Context, and
// optionally an hrd.Model and a window.Limiter; none are shared outside
// the single control thread that drives GetFrameCtrl and Update in strict
// alternation (SPEC_FULL.md §5).
type Core struct {
	params *Params
	ctx    Context

	hrdModel hrd.Model
	limiter  *window.Limiter

	mbqp       [][]byte
	numBuffers uint32
	wBlk, hBlk uint32

	// Logger receives structured debug/info events for scene changes, panic
	// skips, recodes issued by the HRD/size-limit branch of Update, and
	// resets. Recode verdicts from the two overflow checks are not logged.
	// Left nil, logging is a no-op, the way revid.Config.Logger is optional
	// until wired by its caller.
	Logger logging.Logger
}

func (c *Core) logDebug(msg string, params ...interface{}) {
	if c.Logger != nil {
		c.Logger.Debug(msg, params...)
	}
}

func (c *Core) logInfo(msg string, params ...interface{}) {
	if c.Logger != nil {
		c.Logger.Info(msg, params...)
	}
}

// NewCore builds a Core from vp, deriving field mode from codec and picture
// structure, selecting an initial I-frame QP, and instantiating the
// optional HRD model, sliding-window limiter and MBQP buffers the
// extension bags request.
func NewCore(vp VideoParam) (*Core, error) {
	fieldMode := isFieldMode(vp)
	params, err := NewParams(vp, fieldMode)
	if err != nil {
		return nil, err
	}

	c := &Core{params: params}
	c.ctx.reset()

	raw := float64(rawFrameSizeBits(vp.Width, vp.Height, params.chromaFormat, params.bitDepthLuma))
	seed := clampInt((params.quantMinI+params.quantMaxI)/2, params.quantMinI, params.quantMaxI)
	qp := newQpFromSizes(raw, params.inputBitsPerFrame, params.quantMinI, params.quantMaxI, seed, params.quantOffset, 0.5, false, false)
	updateQpParams(&c.ctx, params, qp, PictureI, 0)

	c.ctx.quant = qp
	c.ctx.fAbLong = params.inputBitsPerFrame
	c.ctx.fAbShort = params.inputBitsPerFrame
	c.ctx.dQuantAb = 1.0 / float64(qp)
	c.ctx.quantMin, c.ctx.quantMax = params.quantMinI, params.quantMaxI

	if params.hrdConformance != HRDNone {
		c.hrdModel = newHRDModel(params)
	}
	if params.winBRCMaxAvgKbps != 0 {
		c.limiter = window.New(params.winBRCSize, float64(params.winBRCMaxAvgKbps)*1000, params.frameRate, params.inputBitsPerFrame)
	}
	if params.mbbrc {
		c.wBlk = (vp.Width + 15) / 16
		c.hBlk = (vp.Height + 15) / 16
		c.numBuffers = 1
		if vp.AsyncDepth > 1 {
			c.numBuffers = 2
		}
		c.mbqp = make([][]byte, c.numBuffers)
		for i := range c.mbqp {
			c.mbqp[i] = make([]byte, c.wBlk*c.hBlk)
		}
	}

	return c, nil
}

func newHRDModel(p *Params) hrd.Model {
	in := hrd.NewInput(p.rateControlMethod == CBR, float64(p.maxBps), p.bufferSizeInBytes, p.initialDelayInBytes, p.frameRate)
	if p.codecID == AVC {
		return hrd.NewH264(in)
	}
	return hrd.NewHEVC(in)
}

// Reset reconfigures Core for vp. If vp requests a new sequence it tears
// down and reinitializes from scratch; otherwise it consults
// Params.ResetType and rebuilds only what that reports as needing a reset;
// an incompatible change is returned as an error and nothing is rebuilt.
func (c *Core) Reset(vp VideoParam) error {
	newSequence := vp.EncoderResetOption != nil && vp.EncoderResetOption.StartNewSequence
	fieldMode := isFieldMode(vp)

	brcReset, slidingWindowReset, err := c.params.ResetType(vp, fieldMode, newSequence)
	if err != nil {
		return err
	}

	if newSequence {
		fresh, err := NewCore(vp)
		if err != nil {
			return err
		}
		fresh.Logger = c.Logger
		*c = *fresh
		c.logInfo("brc core reset for new sequence")
		return nil
	}

	if brcReset {
		newParams, err := NewParams(vp, fieldMode)
		if err != nil {
			return err
		}
		c.params = newParams
		c.logInfo("brc reset", "target bps", newParams.targetBps, "max bps", newParams.maxBps)

		qp := int(math.Round(1.0 / c.ctx.dQuantAb * math.Pow(c.ctx.fAbLong/newParams.inputBitsPerFrame, 0.32)))
		qp = clampInt(qp, newParams.quantMinI, newParams.quantMaxI)
		updateQpParams(&c.ctx, newParams, qp, PictureI, 0)
		c.ctx.quant = qp
		c.ctx.fAbLong = newParams.inputBitsPerFrame
		c.ctx.fAbShort = newParams.inputBitsPerFrame
		c.ctx.dQuantAb = 1.0 / float64(qp)

		switch {
		case newParams.hrdConformance == HRDNone:
			c.hrdModel = nil
		case c.hrdModel != nil:
			c.hrdModel.Reset(hrd.NewInput(newParams.rateControlMethod == CBR, float64(newParams.maxBps), newParams.bufferSizeInBytes, newParams.initialDelayInBytes, newParams.frameRate))
		default:
			c.hrdModel = newHRDModel(newParams)
		}
	}

	if slidingWindowReset {
		if c.params.winBRCMaxAvgKbps != 0 {
			c.limiter = window.New(c.params.winBRCSize, float64(c.params.winBRCMaxAvgKbps)*1000, c.params.frameRate, c.params.inputBitsPerFrame)
		} else {
			c.limiter = nil
		}
	}

	return nil
}

// GetFrameCtrl returns the QP (and, where configured, the HRD delays and
// MBQP map) for the frame described by fp.
func (c *Core) GetFrameCtrl(fp FrameParam) (FrameCtrl, error) {
	var qp int
	if fp.EncodedOrder == c.ctx.encOrder {
		qp = c.ctx.quant - c.params.quantOffset
	} else {
		t := deriveFrameType(fp.FrameType, fp.PyramidLayer, c.params.gopRefDist)
		qp = currentQpForType(&c.ctx, c.params, t, fp.PyramidLayer) - c.params.quantOffset
	}

	fc := FrameCtrl{QpY: qp}

	if c.hrdModel != nil {
		fc.InitialCpbRemovalDelay = c.hrdModel.InitCpbRemovalDelay(fp.EncodedOrder)
		fc.InitialCpbRemovalDelayOffset = c.hrdModel.InitCpbRemovalDelayOffset(fp.EncodedOrder)
	}

	if c.mbqp != nil {
		buf := c.mbqp[fp.EncodedOrder%c.numBuffers]
		for i := range buf {
			v := qp
			if qp < 51 {
				v += i & 1
			}
			buf[i] = byte(v)
		}
		fc.MBQP = buf
	}

	return fc, nil
}

// Update runs the recode state machine described in SPEC_FULL.md §4.6 for
// the frame described by fp, encoded with the QP fp previously received
// from GetFrameCtrl (carried in prevQp).
func (c *Core) Update(fp FrameParam, prevQp int) (FrameStatus, error) {
	var status FrameStatus

	bits := float64(fp.CodedFrameSizeInBytes) * 8
	typ := deriveFrameType(fp.FrameType, fp.PyramidLayer, c.params.gopRefDist)
	qpY := prevQp + c.params.quantOffset
	qstep := qpToQstep(qpY, c.params.quantOffset)

	isKey := fp.FrameType&(FrameI|FrameIDR) != 0
	isNewFrame := fp.NumRecode == 0 || fp.EncodedOrder != c.ctx.encOrder

	if c.ctx.bToRecode && fp.EncodedOrder != c.ctx.encOrder && fp.NumRecode != 0 {
		return status, errors.Wrap(StatusUndefinedBehavior, "recode of unexpected encode order")
	}

	if isNewFrame {
		if isKey {
			c.ctx.lastIEncOrder = fp.EncodedOrder
		}
		c.ctx.encOrder = fp.EncodedOrder
		c.ctx.poc = fp.DisplayOrder
		c.ctx.bToRecode = false
		c.ctx.bPanic = false

		minQ, maxQ := quantRange(c.params, typ)
		c.ctx.quantMin, c.ctx.quantMax = minQ, maxQ
		c.ctx.quant = qpY

		if c.ctx.persistentSinceRef && absInt64(int64(fp.DisplayOrder)-int64(c.ctx.schPoc)) > 2 {
			c.ctx.persistentSinceRef = false
		}
		if c.hrdModel != nil {
			c.hrdModel.ResetQuant()
		}
	}

	fAbLong := c.ctx.fAbLong + (bits-c.ctx.fAbLong)/fAbPeriodLong
	fAbShort := c.ctx.fAbShort + (bits-c.ctx.fAbShort)/fAbPeriodShort
	eRate := bits * math.Sqrt(qstep)

	prevRate := c.ctx.eRate
	if typ == PictureI {
		prevRate = c.ctx.eRateSH
	}
	e2pe := brcSceneChangeRatio2 + 1
	if prevRate != 0 {
		e2pe = eRate / prevRate
	}

	var hrdMin, hrdMax uint32
	hrdVerdict := VerdictOK
	if c.hrdModel != nil {
		hrdMin = c.hrdModel.MinFrameSizeInBits(fp.EncodedOrder, isKey)
		hrdMax = c.hrdModel.MaxFrameSizeInBits(fp.EncodedOrder, isKey)
		switch {
		case bits > float64(hrdMax):
			hrdVerdict = VerdictBigFrame
		case bits < float64(hrdMin):
			hrdVerdict = VerdictSmallFrame
		}
		if hrdVerdict != VerdictOK && c.ctx.bPanic {
			return status, errors.Wrap(StatusNotEnoughBuffer, "HRD violation while already panicking")
		}
		status.MinFrameSize = hrdMin
	}

	sceneHead := false
	if e2pe > brcSceneChangeRatio2 {
		fAbLong = c.params.inputBitsPerFrame
		fAbShort = c.params.inputBitsPerFrame
		c.ctx.inSceneChange = true
		if typ != PictureB {
			sceneHead = true
			c.ctx.persistentSinceRef = true
			c.ctx.eRateSH = eRate
			c.ctx.dQuantAb = 1.0 / float64(c.ctx.quant)
			c.ctx.schPoc = fp.DisplayOrder
			c.logDebug("scene change detected", "enc order", fp.EncodedOrder, "e2pe", e2pe)
		}
	}

	frameSizeLim := uint32(math.MaxUint32)
	if c.limiter != nil {
		w := c.limiter.MaxFrameSize(c.ctx.bPanic, sceneHead, fp.NumRecode)
		frameSizeLim = minUint32(frameSizeLim, w)
	}
	if c.params.maxFrameSizeInBits != 0 {
		frameSizeLim = minUint32(frameSizeLim, c.params.maxFrameSizeInBits)
	}

	if fp.NumRecode < 2 {
		target := maxFloat(c.params.inputBitsPerFrame, fAbLong)
		mult := 4.0
		switch {
		case c.ctx.encOrder == 0:
			mult = 6.0
		case sceneHead || typ == PictureI:
			mult = 8.0
		}
		if c.params.bPyr {
			mult *= 1.5
		}
		softCap := target * mult

		if c.hrdModel != nil {
			wHrd, wTarget := 2.5, 6.5
			if sceneHead || typ == PictureI {
				wHrd, wTarget = 3.5, 5.5
			}
			hrdCap := float64(hrdMax)
			softCap = minFloat(softCap, (wHrd*hrdCap+wTarget*target)/9.0)
			minQ := maxInt(c.ctx.quantMin, c.hrdModel.MinQuant())
			maxQ := minInt(c.ctx.quantMax, c.hrdModel.MaxQuant())
			c.ctx.quantMin, c.ctx.quantMax = minQ, maxQ
		}
		maxFrameSize := maxFloat(softCap, target)

		if bits > maxFrameSize && c.ctx.quant < c.ctx.quantMax {
			qpNew := newQpFromSizes(bits, maxFrameSize, c.ctx.quantMin, c.ctx.quantMax, c.ctx.quant, c.params.quantOffset, 1.0, false, true)
			if qpNew > c.ctx.quant {
				fAbLong = c.params.inputBitsPerFrame
				fAbShort = c.params.inputBitsPerFrame

				if c.params.panicEnabled && typ != PictureI && isFrameBeforeIntra(fp.EncodedOrder, c.ctx.lastIEncOrder, c.params.gopPicSize, c.params.gopRefDist) {
					c.ctx.bPanic = true
					status.BRCStatus = VerdictPanicBigFrame
					c.ctx.fAbLong, c.ctx.fAbShort = fAbLong, fAbShort
					c.logDebug("panic skip before intra", "enc order", fp.EncodedOrder, "bits", bits)
					return status, nil
				}

				if c.params.recodeEnabled {
					err := setRecodeParams(&c.ctx, &status, c.ctx.quant, qpNew, maxInt(c.ctx.quant+1, c.ctx.quantMin), c.ctx.quantMax, VerdictBigFrame)
					c.ctx.fAbLong, c.ctx.fAbShort = fAbLong, fAbShort
					return status, err
				}
				c.ctx.quant = qpNew
				updateQpParams(&c.ctx, c.params, qpNew, typ, fp.PyramidLayer)
			}
		}
	}

	if fp.NumRecode == 0 && c.hrdModel != nil {
		faMax := (1.0/9.0)*float64(hrdMax) + (8.0/9.0)*fAbLong
		if fAbShort > faMax {
			qpNew := newQpFromSizes(fAbShort, faMax, c.ctx.quantMin, c.ctx.quantMax, c.ctx.quant, c.params.quantOffset, 0.5, false, false)
			if qpNew > c.ctx.quant {
				if c.params.recodeEnabled {
					err := setRecodeParams(&c.ctx, &status, c.ctx.quant, qpNew, maxInt(c.ctx.quant+1, c.ctx.quantMin), c.ctx.quantMax, VerdictBigFrame)
					c.ctx.fAbLong, c.ctx.fAbShort = fAbLong, fAbShort
					return status, err
				}
				c.ctx.quant = qpNew
				updateQpParams(&c.ctx, c.params, qpNew, typ, fp.PyramidLayer)
			}
		}
	}

	needUnderflowRecode := (hrdVerdict != VerdictOK) || bits > float64(frameSizeLim)
	if needUnderflowRecode && c.params.recodeEnabled {
		var qpNew int
		verdict := VerdictSmallFrame
		switch {
		case bits > float64(frameSizeLim):
			qpNew = newQpFromSizes(bits, float64(frameSizeLim), c.ctx.quantMin, c.ctx.quantMax, c.ctx.quant, c.params.quantOffset, 1.0, true, false)
			verdict = VerdictBigFrame
		case hrdVerdict == VerdictBigFrame:
			target := 0.75 * float64(hrdMax)
			if target == 0 {
				return status, errors.Wrap(StatusInvalidVideoParam, "zero HRD target size")
			}
			qpNew = newQpFromSizes(bits, target, c.ctx.quantMin, c.ctx.quantMax, c.ctx.quant, c.params.quantOffset, 1.0, true, false)
			verdict = VerdictBigFrame
		default: // hrdVerdict == VerdictSmallFrame
			target := 1.25 * float64(hrdMin)
			if target == 0 {
				return status, errors.Wrap(StatusInvalidVideoParam, "zero HRD target size")
			}
			qpNew = newQpFromSizes(bits, target, c.ctx.quantMin, c.ctx.quantMax, c.ctx.quant, c.params.quantOffset, 1.0, true, false)
			qpNew = maxInt(qpNew, c.ctx.quant-2)
			verdict = VerdictPanicSmallFrame
		}

		curForType := currentQpForType(&c.ctx, c.params, typ, fp.PyramidLayer)
		if sign(qpNew-qpY) == sign(qpNew-curForType) {
			c.ctx.quant = qpNew
			updateQpParams(&c.ctx, c.params, qpNew, typ, fp.PyramidLayer)
		}

		var min, max int
		if verdict == VerdictBigFrame || verdict == VerdictPanicBigFrame {
			min, max = maxInt(qpNew, qpY+1), c.ctx.quantMax
		} else {
			min, max = c.ctx.quantMin, minInt(qpNew, qpY-1)
		}
		err := setRecodeParams(&c.ctx, &status, qpY, qpNew, min, max, verdict)
		c.ctx.fAbLong, c.ctx.fAbShort = fAbLong, fAbShort
		c.logDebug("recode", "enc order", fp.EncodedOrder, "verdict", status.BRCStatus.String(), "qp new", qpNew)
		return status, err
	}

	// Accept path.
	period := 25.0
	if 1.0/float64(c.ctx.quant) > c.ctx.dQuantAb {
		period = 16.0
	}
	c.ctx.dQuantAb += (1.0/float64(c.ctx.quant) - c.ctx.dQuantAb) / period
	c.ctx.fAbLong, c.ctx.fAbShort = fAbLong, fAbShort

	oldScene := c.ctx.persistentSinceRef &&
		int64(fp.DisplayOrder) < int64(c.ctx.schPoc) &&
		e2pe < 0.01 &&
		bits < 1.5*c.ctx.fAbLong

	if typ != PictureB {
		c.ctx.eRate = eRate
		c.ctx.eRateSH = eRate
		c.ctx.lastNonBFrameSize = uint32(bits)
	}
	if c.limiter != nil {
		c.limiter.Update(uint32(bits), fp.EncodedOrder, c.ctx.bPanic, sceneHead, fp.NumRecode)
	}
	c.ctx.totalDeviation += bits - c.params.inputBitsPerFrame

	if !c.ctx.bPanic && !oldScene {
		dequant := c.ctx.dQuantAb * math.Pow(c.params.inputBitsPerFrame/c.ctx.fAbLong, 1.2)

		bAbP := bAbPeriod
		totDev := c.ctx.totalDeviation
		if c.hrdModel != nil {
			hrdDev := c.hrdModel.BufferDeviation(fp.EncodedOrder)
			if c.params.rateControlMethod == VBR && c.params.maxBps > c.params.targetBps {
				totDev = maxFloat(totDev, hrdDev)
			} else {
				totDev = hrdDev
			}
			if totDev > 0 {
				mult := 3.0
				if c.params.bPyr {
					mult = 4.0
				}
				coeff := getAbPeriodCoeff(fp.EncodedOrder-c.ctx.lastIEncOrder, c.params.gopPicSize)
				bAbP = clampFloat(mult*float64(hrdMax)/c.ctx.fAbShort*coeff, bAbPeriod/10.0, bAbPeriod)
			}
		}

		bo := totDev / bAbP / c.params.inputBitsPerFrame
		qpNew := newQpFromDeviation(bo, dequant, c.ctx.quantMin, c.ctx.quantMax, c.ctx.quant, c.params.bPyr && c.params.recodeEnabled, sceneHead && !c.ctx.bToRecode)

		if c.params.maxFrameSizeInBits != 0 && c.params.rateControlMethod == VBR &&
			float64(c.params.maxFrameSizeInBits) < 2*c.params.inputBitsPerFrame &&
			c.ctx.totalDeviation < -c.params.inputBitsPerFrame*c.params.frameRate {
			hardCap := float64(c.params.maxFrameSizeInBits)
			qpNew = clampTowardCap(qpNew, c.ctx.quant, c.ctx.quantMin, c.ctx.quantMax, c.params.quantOffset, hardCap, 0.95, 0.9, 1)
			qpNew = clampTowardCap(qpNew, c.ctx.quant, c.ctx.quantMin, c.ctx.quantMax, c.params.quantOffset, hardCap, 0.9, 0.8, 2)
		}

		curForType := currentQpForType(&c.ctx, c.params, typ, fp.PyramidLayer)
		if sign(qpNew-c.ctx.quant) == sign(qpNew-curForType) {
			c.ctx.quant = qpNew
			updateQpParams(&c.ctx, c.params, qpNew, typ, fp.PyramidLayer)
		}
	}

	c.ctx.bToRecode = false
	if c.hrdModel != nil {
		c.hrdModel.Update(uint32(bits), fp.EncodedOrder, isKey)
	}

	status.BRCStatus = VerdictOK
	return status, nil
}

// clampTowardCap nudges qpNew by at most stepSize toward the QP a
// newQpFromSizes call against the [loFrac,hiFrac] band of hardCap would
// pick, per the two-stage max-frame-size-mode clamp in SPEC_FULL.md §4.6.
func clampTowardCap(qpNew, quant, minQP, maxQP, offset int, hardCap, loFrac, hiFrac float64, stepSize int) int {
	target := (loFrac + hiFrac) / 2 * hardCap
	bandQp := newQpFromSizes(hardCap, target, minQP, maxQP, quant, offset, 1.0, false, false)

	switch {
	case bandQp > qpNew:
		qpNew = minInt(bandQp, qpNew+stepSize)
	case bandQp < qpNew:
		qpNew = maxInt(bandQp, qpNew-stepSize)
	}
	return clampInt(qpNew, minQP, maxQP)
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// quantRange returns the configured [min,max] QP bound for picture type t.
func quantRange(p *Params, t PictureType) (int, int) {
	switch t {
	case PictureI:
		return p.quantMinI, p.quantMaxI
	case PictureP:
		return p.quantMinP, p.quantMaxP
	default:
		return p.quantMinB, p.quantMaxB
	}
}

// deriveFrameType classifies a coded frame into the controller's internal
// I/P/B distinction, folding low-delay reference B-frames into P.
func deriveFrameType(ft FrameType, layer int, gopRefDist uint32) PictureType {
	switch {
	case ft&(FrameIDR|FrameI) != 0:
		return PictureI
	case ft&FrameP != 0:
		return PictureP
	case ft&FrameRef != 0 && (layer == 0 || gopRefDist == 1):
		return PictureP
	default:
		return PictureB
	}
}

// currentQpForType returns the QP the controller would currently issue for
// a fresh frame of type t at pyramid layer.
func currentQpForType(ctx *Context, p *Params, t PictureType, layer int) int {
	var base, bias int
	switch t {
	case PictureI:
		base, bias = ctx.quantI, 0
	case PictureP:
		base, bias = ctx.quantP, layer
	default:
		base, bias = ctx.quantB, maxInt(layer-1, 0)
	}
	min, max := quantRange(p, t)
	return clampInt(base+bias, min, max)
}

// updateQpParams propagates a just-selected QP for a frame of type t at
// pyramid layer into the per-type predictions QuantI/P/B.
func updateQpParams(ctx *Context, p *Params, qp int, t PictureType, layer int) {
	switch t {
	case PictureI:
		ctx.quantI = qp
		ctx.quantP = qp + 1
		ctx.quantB = qp + 2
	case PictureP:
		q := qp - layer
		ctx.quantI = q - 1
		ctx.quantP = q
		ctx.quantB = q + 1
	case PictureB:
		lp := maxInt(layer-1, 0)
		q := qp - lp
		ctx.quantI = q - 2
		ctx.quantP = q - 1
		ctx.quantB = q
	}
	ctx.quantI = clampInt(ctx.quantI, p.quantMinI, p.quantMaxI)
	ctx.quantP = clampInt(ctx.quantP, p.quantMinP, p.quantMaxP)
	ctx.quantB = clampInt(ctx.quantB, p.quantMinB, p.quantMaxB)
}

// newQpFromSizes is the fundamental QP update law: scale the current qstep
// by (produced/target)^power, convert back to QP, then apply the
// strict/limit guard bands.
func newQpFromSizes(produced, target float64, minQP, maxQP, qp, offset int, power float64, strict, limit bool) int {
	qstep := qpToQstep(qp, offset)
	qstepNew := qstep * math.Pow(produced/target, power)
	qpNew := qstepToQP(qstepNew, offset)

	if produced < target {
		if qp == minQP {
			return qp
		}
		if limit {
			qpNew = maxInt(qpNew, (minQP+qp+1)>>1)
		}
		if strict {
			qpNew = minInt(qpNew, qp-1)
		}
	} else {
		if qp == maxQP {
			return qp
		}
		if limit {
			qpNew = minInt(qpNew, (maxQP+qp+1)>>1)
		}
		if strict {
			qpNew = maxInt(qpNew, qp+1)
		}
	}
	return clampInt(qpNew, minQP, maxQP)
}

// newQpFromDeviation derives a QP from normalized buffer occupancy bo and
// a reciprocal-QP target dQP, used outside the recode path.
func newQpFromDeviation(bo, dQP float64, minQP, maxQP, qp int, pyramid, sceneChange bool) int {
	invMax := 1.0 / float64(maxQP)
	invMin := 1.0 / float64(minQP)
	dQPNew := clampFloat(dQP+(invMax-dQP)*bo, invMax, invMin)
	q := int(math.Round(1.0 / dQPNew))

	switch {
	case sceneChange:
		q = clampInt(q, qp-5, qp+5)
	case !pyramid:
		q = constrainStep(q, qp, 2)
	default:
		q = constrainStep(q, qp, 3)
	}
	return clampInt(q, minQP, maxQP)
}

// constrainStep bounds q-qp to [-maxDelta,maxDelta], tightening further as
// the raw deviation grows past the ±3/±5 thresholds. This resolves an
// underspecified piecewise rule (see DESIGN.md) with a monotonic staircase
// rather than guessing the original's exact breakpoints.
func constrainStep(q, qp, maxDelta int) int {
	delta := q - qp
	bound := maxDelta
	switch {
	case delta > 5 || delta < -5:
		bound = minInt(maxDelta, 1)
	case delta > 3 || delta < -3:
		bound = maxInt(maxDelta-1, 1)
	}
	return qp + clampInt(delta, -bound, bound)
}

// getAbPeriodCoeff scales bAbPeriod based on distance into the current GOP.
func getAbPeriodCoeff(numInGop, gopPicSize uint32) float64 {
	if numInGop >= gopPicSize || gopPicSize < 2 {
		return 1.0
	}
	n := minUint32(gopPicSize/2, 30)
	if n == 0 {
		return 1.0
	}
	kAt := func(i uint32) float64 { return 1.5 - 0.5*float64(i)/float64(n) }

	if numInGop < gopPicSize/2 {
		return kAt(minUint32(numInGop, n-1))
	}
	return 1.0 / kAt(minUint32(gopPicSize-1-numInGop, n-1))
}

// isFrameBeforeIntra reports whether encOrder falls in the pre-intra region
// near the end of a GOP, where panic-skip is permitted in place of a
// recode the next I-frame would make moot anyway.
func isFrameBeforeIntra(encOrder, lastIEncOrder, gopPicSize, gopRefDist uint32) bool {
	if encOrder < lastIEncOrder {
		return false
	}
	dist := int64(encOrder) - int64(lastIEncOrder)
	threshold := maxInt64(3*int64(gopPicSize)/4, int64(gopPicSize)-3*int64(gopRefDist))
	return dist > threshold
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// rawFrameSizeBits estimates the uncompressed frame size in bits, the
// "produced" signal NewCore feeds to newQpFromSizes before any frame has
// actually been coded. Supplements GetRawFrameSize from the original
// implementation, not named in spec.md's distillation.
func rawFrameSizeBits(width, height uint32, chroma ChromaFormat, bitDepth uint32) uint32 {
	luma := width * height
	var chromaSamples uint32
	switch chroma {
	case Chroma422:
		chromaSamples = luma
	case Chroma444:
		chromaSamples = luma * 2
	default:
		chromaSamples = luma / 2
	}
	bps := bitDepth
	if bps == 0 {
		bps = 8
	}
	return (luma + chromaSamples) * bps
}

// setRecodeParams records a recode verdict into ctx and status, narrowing
// the next recode's QP range per SPEC_FULL.md §4.7.
func setRecodeParams(ctx *Context, status *FrameStatus, qp, qpNew, min, max int, verdict Verdict) error {
	switch verdict {
	case VerdictBigFrame, VerdictPanicBigFrame:
		if qpNew < qp {
			return errors.Wrap(StatusUndefinedBehavior, "BIG recode verdict requires qpNew >= qp")
		}
		if qpNew == qp {
			verdict = VerdictPanicBigFrame
			ctx.bPanic = true
		}
	case VerdictSmallFrame, VerdictPanicSmallFrame:
		if qpNew > qp {
			return errors.Wrap(StatusUndefinedBehavior, "SMALL recode verdict requires qpNew <= qp")
		}
		if qpNew == qp {
			verdict = VerdictPanicSmallFrame
			ctx.bPanic = true
		}
	}

	ctx.quantMin, ctx.quantMax = min, max
	ctx.bToRecode = true

	status.BRCStatus = verdict
	status.RecodeQuantMin = min
	status.RecodeQuantMax = max
	status.RecodeQp = qpNew
	return nil
}
