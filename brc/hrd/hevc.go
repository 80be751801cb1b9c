/*
NAME
  hevc.go

DESCRIPTION
  hevc.go implements the HEVC HRD timing model: discrete buffering-period
  accounting of nominal removal time and final arrival time, following the
  HEVC Annex C equations referenced in SPEC_FULL.md §4.3.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package hrd

// HEVC implements Model for HEVC bitstreams.
type HEVC struct {
	in Input

	prevAuCpbRemovalDelayMinus1 int64
	prevAuCpbRemovalDelayMsb    uint32
	prevAuFinalArrivalTime      float64
	prevBpAuNominalRemovalTime  float64
	prevBpEncOrder              uint32

	quantLatch
}

// NewHEVC constructs a HEVC HRD model from in.
func NewHEVC(in Input) *HEVC {
	h := &HEVC{
		in:                          in,
		prevAuCpbRemovalDelayMinus1: -1,
		prevBpAuNominalRemovalTime:  in.InitCpbRemovalDelay,
	}
	return h
}

func (h *HEVC) Reset(in Input) {
	h.in.Bitrate = in.Bitrate
	h.in.CpbSize90k = in.CpbSize90k
}

func (h *HEVC) Update(sizeInBits uint32, eo uint32, isKey bool) {
	var auNominalRemovalTime float64

	if eo > 0 {
		auCpbRemovalDelayMinus1 := int64(eo) - int64(h.prevBpEncOrder) - 1
		var auCpbRemovalDelayMsb uint32

		if !isKey && (eo-h.prevBpEncOrder) != 1 {
			if auCpbRemovalDelayMinus1 <= h.prevAuCpbRemovalDelayMinus1 {
				auCpbRemovalDelayMsb = h.prevAuCpbRemovalDelayMsb + h.in.MaxCpbRemovalDelay
			} else {
				auCpbRemovalDelayMsb = h.prevAuCpbRemovalDelayMsb
			}
		}

		h.prevAuCpbRemovalDelayMsb = auCpbRemovalDelayMsb
		h.prevAuCpbRemovalDelayMinus1 = auCpbRemovalDelayMinus1

		auCpbRemovalDelayValMinus1 := uint64(auCpbRemovalDelayMsb) + uint64(auCpbRemovalDelayMinus1)
		auNominalRemovalTime = h.prevBpAuNominalRemovalTime + h.in.ClockTick*float64(auCpbRemovalDelayValMinus1+1)
	} else {
		auNominalRemovalTime = h.in.InitCpbRemovalDelay
	}

	initArrivalTime := h.prevAuFinalArrivalTime
	if !h.in.CBR {
		var earliest float64
		if isKey {
			earliest = auNominalRemovalTime - float64(h.InitCpbRemovalDelay(eo))
		} else {
			earliest = auNominalRemovalTime - h.in.CpbSize90k
		}
		initArrivalTime = maxFloat(h.prevAuFinalArrivalTime, earliest*h.in.Bitrate)
	}

	auFinalArrivalTime := initArrivalTime + float64(sizeInBits)*90000
	h.prevAuFinalArrivalTime = auFinalArrivalTime

	if isKey {
		h.prevBpAuNominalRemovalTime = auNominalRemovalTime
		h.prevBpEncOrder = eo
	}
}

func (h *HEVC) InitCpbRemovalDelay(eo uint32) uint32 {
	if eo > 0 {
		auCpbRemovalDelayMinus1 := int64(eo) - int64(h.prevBpEncOrder) - 1
		auCpbRemovalDelayValMinus1 := uint64(auCpbRemovalDelayMinus1)
		auNominalRemovalTime := h.prevBpAuNominalRemovalTime + h.in.ClockTick*float64(auCpbRemovalDelayValMinus1+1)

		deltaTime90k := auNominalRemovalTime - h.prevAuFinalArrivalTime/h.in.Bitrate

		if h.in.CBR {
			return uint32(deltaTime90k)
		}
		return uint32(minFloat(deltaTime90k, h.in.CpbSize90k))
	}
	return uint32(h.in.InitCpbRemovalDelay)
}

func (h *HEVC) InitCpbRemovalDelayOffset(eo uint32) uint32 { return 0 }

func (h *HEVC) BufferDeviation(eo uint32) float64 {
	delay := float64(h.InitCpbRemovalDelay(eo))
	target := targetDelay(h.in.CpbSize90k, h.in.InitCpbRemovalDelay, !h.in.CBR)
	return (target - delay) / 90000.0 * h.in.Bitrate
}

func (h *HEVC) BufferDeviationFactor(eo uint32) float64 {
	delay := float64(h.InitCpbRemovalDelay(eo))
	target := targetDelay(h.in.CpbSize90k, h.in.InitCpbRemovalDelay, !h.in.CBR)
	return abs((target - delay) / target)
}

func (h *HEVC) MaxFrameSizeInBits(eo uint32, isKey bool) uint32 {
	return uint32(float64(h.InitCpbRemovalDelay(eo)) / 90000.0 * h.in.Bitrate)
}

func (h *HEVC) MinFrameSizeInBits(eo uint32, isKey bool) uint32 {
	delay := float64(h.InitCpbRemovalDelay(eo))
	if !h.in.CBR || (delay+h.in.ClockTick+16.0) < h.in.CpbSize90k {
		return 0
	}
	return uint32((delay+h.in.ClockTick+16.0-h.in.CpbSize90k)/90000.0*h.in.Bitrate + 0.99999)
}
