/*
NAME
  params.go

DESCRIPTION
  params.go implements Params, the normalized, HRD-quantized configuration
  derived once per reconfiguration epoch from a caller-supplied VideoParam,
  and the reset-compatibility check used by Core.Reset.

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

import "github.com/pkg/errors"

// Fixed EMA periods used throughout the decision engine (§3).
const (
	fAbPeriodLong  = 100.0
	fAbPeriodShort = 6.0
	dqAbPeriod     = 100.0
	bAbPeriod      = 100.0
)

const h264BitRateScale = 4
const h264CpbSizeScale = 2

// Params holds the normalized, HRD-quantized BRC configuration, immutable
// within a reconfiguration epoch.
type Params struct {
	rateControlMethod RateControlMethod
	codecID           CodecID
	fieldMode         bool

	targetBps uint32
	maxBps    uint32

	frameRate float64

	width, height uint32
	chromaFormat  ChromaFormat
	bitDepthLuma  uint32
	quantOffset   int

	hrdConformance      HRDConformance
	bufferSizeInBytes   uint32
	initialDelayInBytes uint32

	inputBitsPerFrame    float64
	maxInputBitsPerFrame float64

	gopPicSize uint32
	gopRefDist uint32

	bPyr               bool
	maxFrameSizeInBits uint32

	quantMinI, quantMaxI int
	quantMinP, quantMaxP int
	quantMinB, quantMaxB int

	winBRCSize       uint32
	winBRCMaxAvgKbps uint32
	mbbrc            bool

	recodeEnabled bool
	panicEnabled  bool
}

// hevcBitRateScale counts k up from 0 while bitrate is divisible by
// 2^(7+k), stopping at 16, and returns the first k that fails (so a nonzero
// result means bitrate is a multiple of 2^(6+k)).
func hevcBitRateScale(bitrate uint32) uint32 {
	var k uint32
	for k < 16 && (bitrate&((1<<(6+k+1))-1)) == 0 {
		k++
	}
	return k
}

// hevcCpbSizeScale counts k up from 2 while v is divisible by 2^(5+k),
// stopping at 16, and returns the first k that fails.
func hevcCpbSizeScale(v uint32) uint32 {
	k := uint32(2)
	for k < 16 && (v&((1<<(4+k+1))-1)) == 0 {
		k++
	}
	return k
}

// NewParams validates vp and derives a normalized Params, rescaling
// bitrates to HRD-quantized units and computing derived constants.
func NewParams(vp VideoParam, fieldMode bool) (*Params, error) {
	if vp.RateControlMethod != CBR && vp.RateControlMethod != VBR {
		return nil, errors.Wrap(StatusInvalidVideoParam, "unsupported rate control method")
	}
	if vp.FrameRate.Den == 0 || vp.FrameRate.Num == 0 {
		return nil, errors.Wrap(StatusInvalidVideoParam, "zero frame rate")
	}

	p := &Params{
		rateControlMethod: vp.RateControlMethod,
		codecID:           vp.CodecID,
		fieldMode:         fieldMode,
	}

	mult := vp.BRCParamMultiplier
	if mult == 0 {
		mult = 1
	}
	targetBps := mult * vp.TargetKbps * 1000
	maxBps := mult * vp.MaxKbps * 1000

	if vp.RateControlMethod == CBR {
		maxBps = targetBps
	} else if maxBps < targetBps {
		maxBps = targetBps
	}

	var bitRateScale, cpbSizeScale uint32
	if vp.CodecID == AVC {
		bitRateScale = h264BitRateScale
		cpbSizeScale = h264CpbSizeScale
	} else {
		bitRateScale = hevcBitRateScale(maxBps)
		cpbSizeScale = hevcCpbSizeScale(maxBps)
	}

	targetBps = (targetBps >> (6 + bitRateScale)) << (6 + bitRateScale)
	maxBps = (maxBps >> (6 + bitRateScale)) << (6 + bitRateScale)

	p.targetBps = targetBps
	p.maxBps = maxBps

	p.hrdConformance = HRDNone
	if vp.CodingOption != nil {
		switch {
		case vp.CodingOption.NalHrdConformance && vp.CodingOption.VuiNalHrdParameters:
			p.hrdConformance = HRDStrong
		case vp.CodingOption.NalHrdConformance && !vp.CodingOption.VuiNalHrdParameters:
			p.hrdConformance = HRDWeak
		}
	}

	if p.hrdConformance != HRDNone {
		k := mult
		p.bufferSizeInBytes = ((k * vp.BufferSizeInKB * 1000) >> (cpbSizeScale + 1)) << (cpbSizeScale + 1)
		p.initialDelayInBytes = ((k * vp.InitialDelayInKB * 1000) >> (cpbSizeScale + 1)) << (cpbSizeScale + 1)
		p.recodeEnabled = true
		p.panicEnabled = p.hrdConformance == HRDStrong
	}

	p.frameRate = vp.FrameRate.Float64()
	p.width = vp.Width
	p.height = vp.Height

	p.chromaFormat = vp.ChromaFormat
	if p.chromaFormat == 0 {
		p.chromaFormat = Chroma420
	}
	p.bitDepthLuma = vp.BitDepthLuma
	if p.bitDepthLuma == 0 {
		p.bitDepthLuma = 8
	}
	p.quantOffset = 6 * (int(p.bitDepthLuma) - 8)

	p.inputBitsPerFrame = float64(p.targetBps) / p.frameRate
	p.maxInputBitsPerFrame = float64(p.maxBps) / p.frameRate

	fieldMult := uint32(1)
	if fieldMode {
		fieldMult = 2
	}
	p.gopPicSize = vp.GopPicSize * fieldMult
	p.gopRefDist = vp.GopRefDist * fieldMult

	if vp.CodingOption2 != nil {
		p.bPyr = vp.CodingOption2.BPyramid
		p.maxFrameSizeInBits = vp.CodingOption2.MaxFrameSizeInBytes * 8
	}

	if p.maxFrameSizeInBits != 0 {
		p.recodeEnabled = true
		p.panicEnabled = true
	}

	if vp.CodingOption2 != nil && validQPRange(*vp.CodingOption2) {
		co2 := vp.CodingOption2
		p.quantMinI, p.quantMaxI = co2.MinQPI, co2.MaxQPI+p.quantOffset
		p.quantMinP, p.quantMaxP = co2.MinQPP, co2.MaxQPP+p.quantOffset
		p.quantMinB, p.quantMaxB = co2.MinQPB, co2.MaxQPB+p.quantOffset
	} else {
		p.quantMinI, p.quantMaxI = 1, 51+p.quantOffset
		p.quantMinP, p.quantMaxP = 1, 51+p.quantOffset
		p.quantMinB, p.quantMaxB = 1, 51+p.quantOffset
	}

	if vp.CodingOption3 != nil {
		p.winBRCMaxAvgKbps = vp.CodingOption3.WinBRCMaxAvgKbps * mult
		p.winBRCSize = vp.CodingOption3.WinBRCSize
		p.mbbrc = vp.CodingOption3.EnableMBQP
	}

	return p, nil
}

// validQPRange reports whether co2 carries a self-consistent set of QP
// bounds (min < max, min >= 1, max <= 51) for all three frame types.
func validQPRange(co2 CodingOption2) bool {
	valid := func(min, max int) bool {
		return max <= 51 && max > min && min >= 1
	}
	return valid(co2.MinQPI, co2.MaxQPI) &&
		valid(co2.MinQPP, co2.MaxQPP) &&
		valid(co2.MinQPB, co2.MaxQPB)
}

// ResetType compares p against the Params freshly derived from newVP and
// reports whether a full BRC reset and/or sliding-window reset is required.
// newSequence short-circuits both to false, signalling that Core.Reset
// should instead tear down and reinitialize from scratch.
func (p *Params) ResetType(newVP VideoParam, fieldMode, newSequence bool) (brcReset, slidingWindowReset bool, err error) {
	if newSequence {
		return false, false, nil
	}

	newP, err := NewParams(newVP, fieldMode)
	if err != nil {
		return false, false, err
	}

	incompatible := newP.rateControlMethod != p.rateControlMethod ||
		newP.hrdConformance != p.hrdConformance ||
		newP.frameRate != p.frameRate ||
		newP.width != p.width ||
		newP.height != p.height ||
		newP.chromaFormat != p.chromaFormat ||
		newP.bitDepthLuma != p.bitDepthLuma
	if incompatible {
		return false, false, errors.Wrap(StatusIncompatibleVideoParam, "incompatible core video parameters")
	}

	if p.hrdConformance == HRDStrong {
		if newP.bufferSizeInBytes != p.bufferSizeInBytes ||
			newP.initialDelayInBytes != p.initialDelayInBytes ||
			newP.targetBps != p.targetBps ||
			newP.maxBps != p.maxBps {
			return false, false, errors.Wrap(StatusIncompatibleVideoParam, "incompatible HRD parameters under strong conformance")
		}
	} else if newP.targetBps != p.targetBps || newP.maxBps != p.maxBps {
		brcReset = true
	}

	if newP.winBRCMaxAvgKbps != p.winBRCMaxAvgKbps {
		brcReset = true
		slidingWindowReset = true
	}

	if newP.maxFrameSizeInBits != p.maxFrameSizeInBits ||
		newP.gopPicSize != p.gopPicSize ||
		newP.gopRefDist != p.gopRefDist ||
		newP.bPyr != p.bPyr ||
		newP.quantMinI != p.quantMinI || newP.quantMaxI != p.quantMaxI ||
		newP.quantMinP != p.quantMinP || newP.quantMaxP != p.quantMaxP ||
		newP.quantMinB != p.quantMinB || newP.quantMaxB != p.quantMaxB {
		brcReset = true
	}

	return brcReset, slidingWindowReset, nil
}

// isFieldMode reports whether vp describes field-coded HEVC content; this
// is the sole codec family for which field coding is modeled (§4.1).
func isFieldMode(vp VideoParam) bool {
	return vp.CodecID == HEVC && vp.PicStruct != PicStructProgressive
}
