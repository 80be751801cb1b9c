/*
NAME
  context.go

DESCRIPTION
  context.go defines Context, the mutable running state owned and exclusively
  mutated by a Core between Init/Reset and successive Update calls.

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

import "math"

// noEncOrder is the sentinel "no frame processed yet" encode order.
const noEncOrder = math.MaxUint32

// Context holds the mutable BRC state that survives across frames. The
// recode protocol is modeled explicitly as bToRecode/bPanic latches rather
// than a nominal state machine type, mirroring the original's BRC_Ctx, but
// the two booleans are kept distinct from the packed sceneChange bits per
// the scene-change design note (§9): inSceneChange and persistentSinceRef
// replace the single packed integer.
type Context struct {
	encOrder      uint32
	poc           uint32
	lastIEncOrder uint32

	quant                  int
	quantI, quantP, quantB int
	quantMin, quantMax     int

	fAbLong, fAbShort float64
	dQuantAb          float64

	eRate, eRateSH float64

	totalDeviation float64

	inSceneChange      bool
	persistentSinceRef bool
	schPoc             uint32

	bToRecode bool
	bPanic    bool

	lastNonBFrameSize uint32
}

// reset zeroes the context and sets encOrder to the noEncOrder sentinel,
// preparing it for NewCore.
func (c *Context) reset() {
	*c = Context{encOrder: noEncOrder}
}
