/*
NAME
  window.go

DESCRIPTION
  window.go implements Limiter, the sliding-window average-bitrate
  constraint: a ring of recent coded frame sizes spanning a configurable
  number of frames, capping the size any one frame may consume without
  pushing the windowed average over a configured ceiling.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package window implements the sliding-window average-bitrate limiter: no
// equivalent class was retained in the reference implementation this
// package is grounded on, so its ring-buffer behavior follows the prose
// contract in SPEC_FULL.md §4.4 (updateSlidingWindow/getMaxFrameSize)
// directly.
package window

// Limiter enforces a maximum average bitrate over a trailing window of
// frames. It is not safe for concurrent use; a Core drives it from its own
// single control thread (SPEC_FULL.md §5).
type Limiter struct {
	size                uint32
	maxBitsPerFrame     float64
	defaultBitsPerFrame float64

	ring []uint32
	head int
	n    uint32
	sum  uint64
}

// New constructs a Limiter spanning windowFrames frames, capping the
// windowed average at maxAvgBitsPerSec over frameRate frames per second;
// defaultBitsPerFrame seeds the cap estimate before the window fills.
func New(windowFrames uint32, maxAvgBitsPerSec, frameRate, defaultBitsPerFrame float64) *Limiter {
	if windowFrames == 0 {
		windowFrames = 1
	}
	return &Limiter{
		size:                windowFrames,
		maxBitsPerFrame:     maxAvgBitsPerSec / frameRate,
		defaultBitsPerFrame: defaultBitsPerFrame,
		ring:                make([]uint32, windowFrames),
	}
}

// Update records a just-accepted frame of codedBits in the window. encOrder,
// isPanic, isSceneHead and numRecode are accepted for symmetry with
// MaxFrameSize's signature and the original's combined update/query call pattern, but the
// ring itself is order-insensitive: every accepted frame counts once,
// regardless of recode history.
func (l *Limiter) Update(codedBits uint32, encOrder uint32, isPanic, isSceneHead bool, numRecode uint32) {
	evicted := l.ring[l.head]
	l.ring[l.head] = codedBits
	l.head = (l.head + 1) % len(l.ring)

	l.sum += uint64(codedBits)
	if l.n < l.size {
		l.n++
	} else {
		l.sum -= uint64(evicted)
	}
}

// MaxFrameSize returns the largest coded size, in bits, the current frame
// may consume without pushing the trailing window's sum over its cap.
// Panic frames are unconstrained; scene-head and first-recode frames get a
// relaxed cap of twice the remaining budget, since the window has not yet
// absorbed the new scene's true cost.
func (l *Limiter) MaxFrameSize(isPanic, isSceneHead bool, numRecode uint32) uint32 {
	if isPanic {
		return 1<<32 - 1
	}

	budget := l.maxBitsPerFrame*float64(l.size) - float64(l.sum)
	if l.n < l.size {
		// Window not yet full: the unseen entries other than this frame's
		// own slot default to defaultBitsPerFrame rather than 0, so an
		// empty window does not grant an artificially huge initial
		// allowance.
		budget -= l.defaultBitsPerFrame * float64(l.size-l.n-1)
	} else {
		// Window full: this frame evicts the oldest entry.
		budget += float64(l.ring[l.head])
	}
	if budget < 0 {
		budget = 0
	}

	if isSceneHead || numRecode == 0 {
		budget *= 2
	}

	return uint32(budget)
}

// Reset clears the window's history, preserving its configured cap.
func (l *Limiter) Reset() {
	for i := range l.ring {
		l.ring[i] = 0
	}
	l.head = 0
	l.n = 0
	l.sum = 0
}
