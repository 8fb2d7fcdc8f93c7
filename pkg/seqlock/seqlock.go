// Package seqlock implements the access-guard protocol the producer expects
// every reader of the shared statistics segment to follow: capture the
// segment's epoch, wait out any in-progress rewrite, read whatever you need,
// then confirm the epoch didn't move and no rewrite started while you were
// reading. It is the Go analogue of the busy-wait/atomic-word dance used by
// other single-writer/multi-reader shared-memory structures (lock-free ring
// buffers, perf-event rings) to avoid ever taking a real lock on memory a
// separate process also touches.
package seqlock

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"
)

// ErrAccessStartFailed is returned by Start when a timeout was configured
// and the producer's in_progress flag never cleared within it.
var ErrAccessStartFailed = errors.New("seqlock: timed out waiting for producer to finish writing")

// ErrSegmentChanged is returned by (*Guard).End when the segment's epoch
// moved, or a rewrite was in progress, between Start and End — the data
// read under the guard may be torn and must be discarded.
var ErrSegmentChanged = errors.New("seqlock: segment directory changed during read")

// Header exposes atomic access to the two mutable words of the shared
// segment header the guard protocol depends on. Implementations read
// through sync/atomic on addresses inside the live mmap'd segment, the
// same technique used elsewhere in this module (and in comparable
// shared-memory ring buffers) to stand in for a true volatile load.
type Header interface {
	Epoch() uint64
	InProgress() uint64
}

// AtomicHeader is a Header backed directly by pointers into a mapped
// segment, via sync/atomic on the raw words.
type AtomicHeader struct {
	EpochAddr      *uint64
	InProgressAddr *uint64
}

func (h AtomicHeader) Epoch() uint64      { return atomic.LoadUint64(h.EpochAddr) }
func (h AtomicHeader) InProgress() uint64 { return atomic.LoadUint64(h.InProgressAddr) }

// Guard represents one open read window against the segment.
type Guard struct {
	hdr        Header
	startEpoch uint64
}

// Start opens a read window. It captures the segment's epoch first, then
// waits out any in-progress producer rewrite, matching the order the
// producer's own access-start routine expects readers to observe: a
// rewrite that begins after the epoch is captured but before in_progress
// clears still leaves the guard holding the pre-rewrite epoch, so End
// correctly rejects it as torn. If timeout is zero, Start spins
// indefinitely waiting for in_progress to clear; a positive timeout bounds
// that wait and returns ErrAccessStartFailed if it elapses.
func Start(hdr Header, timeout time.Duration) (*Guard, error) {
	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	startEpoch := hdr.Epoch()

	for hdr.InProgress() != 0 {
		if hasDeadline && time.Now().After(deadline) {
			return nil, ErrAccessStartFailed
		}
		runtime.Gosched()
	}

	return &Guard{hdr: hdr, startEpoch: startEpoch}, nil
}

// End closes the read window. It returns ErrSegmentChanged if the epoch
// moved or a rewrite is in progress, meaning anything read during the
// window may be inconsistent and must be discarded by the caller.
func (g *Guard) End() error {
	if g.hdr.InProgress() != 0 || g.hdr.Epoch() != g.startEpoch {
		return ErrSegmentChanged
	}
	return nil
}

// DataChanged reports, without closing the guard, whether a rewrite has
// started or the epoch has already moved since Start. Useful for bailing
// out of expensive decode work early.
func (g *Guard) DataChanged() bool {
	return g.hdr.InProgress() != 0 || g.hdr.Epoch() != g.startEpoch
}

// Epoch returns the epoch value captured when the guard was opened.
func (g *Guard) Epoch() uint64 {
	return g.startEpoch
}
