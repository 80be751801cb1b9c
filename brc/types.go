/*
NAME
  types.go

DESCRIPTION
  types.go defines the external interface types that a controlling encoder
  uses to configure and drive a Core: the video parameter bag and its
  optional extension bags, per-frame inputs and outputs, and the status and
  verdict enums returned across the boundary.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package brc implements a per-frame bitrate controller for AVC and HEVC
// encoders: QP selection, post-encode size assessment, recode decisions,
// scene-change detection, and optional HRD conformance and sliding-window
// average-bitrate limiting.
package brc

import "fmt"

// RateControlMethod selects the rate-control strategy.
type RateControlMethod uint8

const (
	CBR RateControlMethod = iota + 1
	VBR
)

func (m RateControlMethod) String() string {
	switch m {
	case CBR:
		return "CBR"
	case VBR:
		return "VBR"
	default:
		return "unknown rate control method"
	}
}

// CodecID identifies the bitstream family the controller is tuned for.
type CodecID uint8

const (
	AVC CodecID = iota + 1
	HEVC
)

func (c CodecID) String() string {
	switch c {
	case AVC:
		return "AVC"
	case HEVC:
		return "HEVC"
	default:
		return "unknown codec"
	}
}

// ChromaFormat identifies the chroma subsampling of the source.
type ChromaFormat uint8

const (
	Chroma420 ChromaFormat = iota + 1
	Chroma422
	Chroma444
)

// HRDConformance selects the level of HRD conformance enforced.
type HRDConformance uint8

const (
	HRDNone HRDConformance = iota
	HRDWeak
	HRDStrong
)

// PicStruct describes field/frame structure, used only to detect field mode
// for HEVC (see isFieldMode in params.go).
type PicStruct uint8

const (
	PicStructProgressive PicStruct = iota
	PicStructFieldTFF
	PicStructFieldBFF
)

// CodingOption mirrors mfxExtCodingOption: the two NAL-HRD toggles that
// together determine HRDConformance.
type CodingOption struct {
	NalHrdConformance   bool
	VuiNalHrdParameters bool
}

// CodingOption2 mirrors mfxExtCodingOption2: max frame size, per-type QP
// bounds, and the B-pyramid flag.
type CodingOption2 struct {
	MaxFrameSizeInBytes uint32
	MinQPI, MaxQPI      int
	MinQPP, MaxQPP      int
	MinQPB, MaxQPB      int
	BPyramid            bool
}

// CodingOption3 mirrors mfxExtCodingOption3: sliding-window bitrate limiter
// configuration and MBBRC enable.
type CodingOption3 struct {
	WinBRCSize       uint32
	WinBRCMaxAvgKbps uint32
	EnableMBQP       bool
}

// EncoderResetOption mirrors mfxExtEncoderResetOption.
type EncoderResetOption struct {
	StartNewSequence bool
}

// FrameRate is a rational frame rate (numerator/denominator), matching
// mfxFrameInfo.FrameRateExtN/D.
type FrameRate struct {
	Num, Den uint32
}

// Float64 returns the frame rate as a real number.
func (f FrameRate) Float64() float64 {
	return float64(f.Num) / float64(f.Den)
}

// VideoParam is the video parameter bag consumed by NewCore and
// Core.Reset; it corresponds to mfxVideoParam plus its BRC-relevant
// extension buffers.
type VideoParam struct {
	CodecID            CodecID
	RateControlMethod  RateControlMethod
	TargetKbps         uint32
	MaxKbps            uint32
	BRCParamMultiplier uint32 // 0 means 1.
	InitialDelayInKB   uint32
	BufferSizeInKB     uint32
	Width, Height      uint32
	FrameRate          FrameRate
	ChromaFormat       ChromaFormat
	BitDepthLuma       uint32 // 0 means 8.
	GopPicSize         uint32
	GopRefDist         uint32
	PicStruct          PicStruct
	AsyncDepth         uint32

	CodingOption       *CodingOption
	CodingOption2      *CodingOption2
	CodingOption3      *CodingOption3
	EncoderResetOption *EncoderResetOption
}

// FrameType is a bitfield describing a coded frame's role, mirroring
// mfxFrameType: IDR|I|P|B|REF bits may be combined.
type FrameType uint16

const (
	FrameI   FrameType = 1 << 0
	FrameP   FrameType = 1 << 1
	FrameB   FrameType = 1 << 2
	FrameIDR FrameType = 1 << 3
	FrameRef FrameType = 1 << 4
)

// PictureType is the derived, unambiguous frame classification used
// internally by the controller (I, P, or low-delay-B-as-P, or B).
type PictureType uint8

const (
	PictureI PictureType = iota
	PictureP
	PictureB
)

func (t PictureType) String() string {
	switch t {
	case PictureI:
		return "I"
	case PictureP:
		return "P"
	case PictureB:
		return "B"
	default:
		return "unknown picture type"
	}
}

// FrameParam is the per-frame input to Update, corresponding to
// mfxBRCFrameParam.
type FrameParam struct {
	EncodedOrder          uint32
	DisplayOrder          uint32
	FrameType             FrameType
	PyramidLayer          int
	CodedFrameSizeInBytes uint32
	NumRecode             uint32
}

// FrameCtrl is the per-frame output of GetFrameCtrl together with the
// QpY previously issued, which Update needs back; it corresponds to
// mfxBRCFrameCtrl.
type FrameCtrl struct {
	QpY                          int
	InitialCpbRemovalDelay       uint32
	InitialCpbRemovalDelayOffset uint32
	MBQP                         []byte // one byte per 16x16 block, raster order; nil unless MBBRC enabled.
}

// Verdict is the BRC decision reported in FrameStatus.BRCStatus after Update.
type Verdict uint8

const (
	VerdictOK Verdict = iota
	VerdictBigFrame
	VerdictSmallFrame
	VerdictPanicBigFrame
	VerdictPanicSmallFrame
)

func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "OK"
	case VerdictBigFrame:
		return "BIG_FRAME"
	case VerdictSmallFrame:
		return "SMALL_FRAME"
	case VerdictPanicBigFrame:
		return "PANIC_BIG_FRAME"
	case VerdictPanicSmallFrame:
		return "PANIC_SMALL_FRAME"
	default:
		return "unknown verdict"
	}
}

// FrameStatus is the per-frame output of Update.
type FrameStatus struct {
	BRCStatus    Verdict
	MinFrameSize uint32

	// RecodeQuantMin/Max describe the QP range the caller must use for the
	// next recode attempt of the same frame, valid only when BRCStatus is
	// not VerdictOK.
	RecodeQuantMin, RecodeQuantMax int
	RecodeQp                      int
}

// Status is a controller-level status code, returned as an error.
type Status uint8

const (
	StatusOK Status = iota
	StatusNotInitialized
	StatusNullPointer
	StatusUndefinedBehavior
	StatusIncompatibleVideoParam
	StatusNotEnoughBuffer
	StatusInvalidVideoParam
)

func (s Status) Error() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotInitialized:
		return "not initialized"
	case StatusNullPointer:
		return "null pointer"
	case StatusUndefinedBehavior:
		return "undefined behavior"
	case StatusIncompatibleVideoParam:
		return "incompatible video param"
	case StatusNotEnoughBuffer:
		return "not enough buffer"
	case StatusInvalidVideoParam:
		return "invalid video param"
	default:
		return fmt.Sprintf("unknown brc status (%d)", uint8(s))
	}
}
