/*
NAME
  h264.go

DESCRIPTION
  h264.go implements the AVC HRD timing model: continuous-time tracking of
  nominal removal time (trnCur) and previous final arrival time (tafPrv),
  following the H.264 Annex C equations referenced in SPEC_FULL.md §4.3.

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

// H264 implements Model for AVC bitstreams.
type H264 struct {
	in Input

	trn0, trnCur float64
	tafPrv       float64

	quantLatch
}

// NewH264 constructs an AVC HRD model from in.
func NewH264(in Input) *H264 {
	return &H264{
		in:     in,
		tafPrv: 0,
		trn0:   in.InitCpbRemovalDelay,
	}
}

func (h *H264) Reset(in Input) {
	h.in.Bitrate = in.Bitrate
	h.in.CpbSize90k = in.CpbSize90k
}

func (h *H264) trnCurFor(eo uint32, isKey bool) float64 {
	if isKey {
		return h.trn0
	}
	return h.trn0 + h.in.ClockTick*float64(eo)
}

func (h *H264) Update(sizeInBits uint32, eo uint32, isKey bool) {
	if isKey {
		h.trn0 = h.tafPrv
		if eo == 0 {
			h.trn0 = h.in.InitCpbRemovalDelay
		}
	}
	trnCur := h.trnCurFor(eo, isKey)

	tafCur := trnCur
	if !h.in.CBR {
		tafCur = maxFloat(h.tafPrv, trnCur)
	}

	tafCur += float64(sizeInBits) * 90000.0 / h.in.Bitrate

	h.tafPrv = tafCur
	h.trnCur = trnCur
}

func (h *H264) InitCpbRemovalDelay(eo uint32) uint32 {
	trnCur := h.trnCurFor(eo, eo == 0)
	delay := trnCur - h.tafPrv
	if delay < 0 {
		delay = 0
	}
	return uint32(delay)
}

func (h *H264) InitCpbRemovalDelayOffset(eo uint32) uint32 {
	delay := h.InitCpbRemovalDelay(eo)
	cpb := uint32(h.in.CpbSize90k)
	if delay > cpb {
		return 0
	}
	return cpb - delay
}

func (h *H264) BufferDeviation(eo uint32) float64 {
	delay := float64(h.InitCpbRemovalDelay(eo))
	target := targetDelay(h.in.CpbSize90k, h.in.InitCpbRemovalDelay, !h.in.CBR)
	return (target - delay) / 90000.0 * h.in.Bitrate
}

func (h *H264) BufferDeviationFactor(eo uint32) float64 {
	delay := float64(h.InitCpbRemovalDelay(eo))
	target := targetDelay(h.in.CpbSize90k, h.in.InitCpbRemovalDelay, !h.in.CBR)
	return abs((target - delay) / target)
}

func (h *H264) MaxFrameSizeInBits(eo uint32, isKey bool) uint32 {
	trnCur := h.trnCurFor(eo, isKey)
	avail := trnCur - h.tafPrv
	if !h.in.CBR {
		avail += h.in.CpbSize90k
	}
	if avail < 0 {
		avail = 0
	}
	return uint32(avail / 90000.0 * h.in.Bitrate)
}

func (h *H264) MinFrameSizeInBits(eo uint32, isKey bool) uint32 {
	if !h.in.CBR {
		return 0
	}
	trnCur := h.trnCurFor(eo, isKey)
	overflow := h.tafPrv - trnCur - h.in.CpbSize90k
	if overflow < 0 {
		return 0
	}
	return uint32(overflow/90000.0*h.in.Bitrate + 0.99999)
}
