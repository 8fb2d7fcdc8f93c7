package statseg

import (
	"errors"
	"fmt"

	"github.com/simeonmiteff/statseg/pkg/decoder"
	"github.com/simeonmiteff/statseg/pkg/segmap"
	"github.com/simeonmiteff/statseg/pkg/segtransport"
	"github.com/simeonmiteff/statseg/pkg/seqlock"
)

// Connect-time errors, surfaced directly from the lower-level packages that
// detect them; re-exported here so callers only need to import this
// package to errors.Is against any of them.
var (
	ErrCouldNotOpenSocket = segtransport.ErrCouldNotOpenSocket
	ErrCouldNotConnect    = segtransport.ErrCouldNotConnect
	ErrReceivingFdFailed  = segtransport.ErrReceivingFdFailed
	ErrMmapFstatFailed    = segmap.ErrFstatFailed
	ErrMmapFailed         = segmap.ErrMmapFailed
)

// Query-time and coherence errors.
var (
	// ErrRegexCompile is returned by Ls when one of the supplied patterns
	// fails to compile; no entries are scanned in that case.
	ErrRegexCompile = errors.New("statseg: invalid pattern")

	// ErrAccessStartFailed is returned when an access guard timed out
	// waiting for an in-progress producer rewrite to finish.
	ErrAccessStartFailed = seqlock.ErrAccessStartFailed

	// ErrStatSegmentChanged is returned when a read was torn by a
	// concurrent producer rewrite and must be retried by the caller.
	ErrStatSegmentChanged = seqlock.ErrSegmentChanged

	// ErrObsoleteDirData is returned by Dump when the directory snapshot
	// it was asked to decode no longer matches the live segment (the
	// caller should call Ls again).
	ErrObsoleteDirData = errors.New("statseg: directory snapshot is obsolete, call Ls again")

	// ErrClientClosed is returned by any operation on a Client after
	// Close has been called.
	ErrClientClosed = errors.New("statseg: client is closed")
)

// Decode-time errors, re-exported from pkg/decoder.
var (
	ErrUnrecognizedTag  = decoder.ErrUnrecognizedTag
	ErrCorruptPointer   = decoder.ErrCorruptPointer
	ErrSymlinkTooDeep   = decoder.ErrSymlinkTooDeep
	ErrInvalidUTF8Entry = decoder.ErrInvalidUTF8
)

// DecodeError wraps a decode-time failure with the name and tag of the
// offending directory entry, so a caller inspecting a failed Dump can
// identify which stat broke the walk.
type DecodeError struct {
	Name string
	Tag  uint32
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("statseg: decoding entry %q (tag %d): %v", e.Name, e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
