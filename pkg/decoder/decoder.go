// Package decoder turns raw directory entries plus their rebased vector
// data into typed Go values: scalars, per-thread counter tables, name
// tables, and symlink projections onto another entry.
package decoder

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/simeonmiteff/statseg/pkg/rebase"
	"github.com/simeonmiteff/statseg/pkg/wire"
)

// ErrUnrecognizedTag is returned for any directory entry tag the decoder
// does not recognize (tag > KindSymlink, the last known kind).
var ErrUnrecognizedTag = errors.New("decoder: unrecognized entry tag")

// ErrCorruptPointer is returned when a producer pointer rebases outside the
// bounds of the mapped segment.
var ErrCorruptPointer = errors.New("decoder: producer pointer out of bounds")

// ErrSymlinkTooDeep is returned when a symlink entry's target is itself a
// symlink; chained symlinks are not supported.
var ErrSymlinkTooDeep = errors.New("decoder: symlink chains are not supported")

// ErrInvalidUTF8 is returned by a strict-mode decode of a name vector entry
// whose string is not valid UTF-8. See WithLossyNames to tolerate this.
var ErrInvalidUTF8 = errors.New("decoder: name vector entry is not valid UTF-8")

// CombinedCounter is one (packets, bytes) pair from a COUNTER_VECTOR_COMBINED
// entry.
type CombinedCounter struct {
	Packets uint64
	Bytes   uint64
}

// Value is the decoded payload of one directory entry.
type Value struct {
	Kind wire.EntryKind

	Scalar float64

	// Simple holds one []uint64 per producer thread, for
	// COUNTER_VECTOR_SIMPLE entries.
	Simple [][]uint64

	// Combined holds one []CombinedCounter per producer thread, for
	// COUNTER_VECTOR_COMBINED entries.
	Combined [][]CombinedCounter

	// Names holds the decoded strings of a NAME_VECTOR entry, in index
	// order; an empty string marks an unset slot (null producer pointer).
	Names []string

	// SymlinkDirIndex/SymlinkElementIndex are only set on Value results
	// that were produced by following a SYMLINK entry, recording what was
	// followed for diagnostic purposes.
	SymlinkDirIndex, SymlinkElementIndex uint32
}

// Options configures decoding behavior.
type Options struct {
	lossyNames bool
}

// Option configures a Decoder.
type Option func(*Options)

// WithLossyNames makes name-vector decoding replace invalid UTF-8 with the
// Unicode replacement character instead of failing the whole dump.
func WithLossyNames() Option {
	return func(o *Options) { o.lossyNames = true }
}

// EntryLookup resolves a directory index to its raw entry, used to follow
// SYMLINK entries. It returns ok=false for an out-of-range index.
type EntryLookup func(index int) (wire.Entry, bool)

// Decoder decodes directory entries against one live segment mapping.
type Decoder struct {
	seg           []byte
	consumerBase  uint64
	producerBase  uint64
	opts          Options
}

// New constructs a Decoder bound to one mapped segment. producerBase is the
// producer-side base address read (atomically) from the live header at the
// moment of the enclosing access guard; consumerBase is the address the
// segment is mapped at locally.
func New(seg []byte, consumerBase, producerBase uint64, opts ...Option) *Decoder {
	d := &Decoder{seg: seg, consumerBase: consumerBase, producerBase: producerBase}
	for _, opt := range opts {
		opt(&d.opts)
	}
	return d
}

// Decode decodes one directory entry. lookup is consulted only for SYMLINK
// entries and may be nil if the caller knows none will be encountered.
func (d *Decoder) Decode(e wire.Entry, lookup EntryLookup) (Value, error) {
	return d.decode(e, lookup, false)
}

func (d *Decoder) decode(e wire.Entry, lookup EntryLookup, followedSymlink bool) (Value, error) {
	switch e.Tag {
	case wire.KindIllegal:
		return Value{Kind: wire.KindIllegal}, fmt.Errorf("decoder: entry %q has ILLEGAL tag", e.NameString())
	case wire.KindEmpty:
		return Value{Kind: wire.KindEmpty}, nil
	case wire.KindScalarIndex:
		return Value{Kind: wire.KindScalarIndex, Scalar: e.Scalar()}, nil
	case wire.KindCounterVectorSimple:
		simple, err := d.decodeSimpleVector(e.Pointer())
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: wire.KindCounterVectorSimple, Simple: simple}, nil
	case wire.KindCounterVectorCombined:
		combined, err := d.decodeCombinedVector(e.Pointer())
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: wire.KindCounterVectorCombined, Combined: combined}, nil
	case wire.KindNameVector:
		names, err := d.decodeNameVector(e.Pointer())
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: wire.KindNameVector, Names: names}, nil
	case wire.KindSymlink:
		if followedSymlink {
			return Value{}, ErrSymlinkTooDeep
		}
		dirIndex, elemIndex := e.SymlinkTarget()
		if lookup == nil {
			return Value{}, fmt.Errorf("%w: no lookup function given", ErrCorruptPointer)
		}
		target, ok := lookup(int(dirIndex))
		if !ok {
			return Value{}, fmt.Errorf("%w: symlink target index %d out of range", ErrCorruptPointer, dirIndex)
		}
		v, err := d.decode(target, lookup, true)
		if err != nil {
			return Value{}, err
		}
		projectColumn(&v, elemIndex)
		v.SymlinkDirIndex, v.SymlinkElementIndex = dirIndex, elemIndex
		return v, nil
	default:
		return Value{}, fmt.Errorf("%w: %d", ErrUnrecognizedTag, e.Tag)
	}
}

// projectColumn restricts a symlink target's inner dimension to the single
// element index the symlink names, turning an L-thread by M-element table
// into an L by 1 table holding just that column. A row with no element at
// elementIndex (or an absent row) projects to nil, the same way an absent
// per-thread row already reads.
func projectColumn(v *Value, elementIndex uint32) {
	switch v.Kind {
	case wire.KindCounterVectorSimple:
		projected := make([][]uint64, len(v.Simple))
		for i, row := range v.Simple {
			if int(elementIndex) < len(row) {
				projected[i] = []uint64{row[elementIndex]}
			}
		}
		v.Simple = projected
	case wire.KindCounterVectorCombined:
		projected := make([][]CombinedCounter, len(v.Combined))
		for i, row := range v.Combined {
			if int(elementIndex) < len(row) {
				projected[i] = []CombinedCounter{row[elementIndex]}
			}
		}
		v.Combined = projected
	}
}

func (d *Decoder) rebase(p uint64) (uintptr, error) {
	addr, ok := rebase.Rebase(d.consumerBase, d.producerBase, p, len(d.seg))
	if !ok {
		return 0, fmt.Errorf("%w: producer pointer %#x", ErrCorruptPointer, p)
	}
	return addr, nil
}

func (d *Decoder) decodeOuterVector(p uint64) ([]uint64, error) {
	if p == 0 {
		return nil, nil
	}
	addr, err := d.rebase(p)
	if err != nil {
		return nil, err
	}
	n := wire.VecLen(d.consumerBase_uintptr(), addr)
	raw, ok := wire.ReadAtBounded(d.seg, addr, int(n)*8)
	if !ok {
		return nil, fmt.Errorf("%w: outer vector length %d runs past segment end", ErrCorruptPointer, n)
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = leUint64(raw[i*8 : i*8+8])
	}
	return out, nil
}

func (d *Decoder) consumerBase_uintptr() uintptr {
	return uintptr(d.consumerBase)
}

func (d *Decoder) decodeSimpleVector(p uint64) ([][]uint64, error) {
	outerPtrs, err := d.decodeOuterVector(p)
	if err != nil {
		return nil, err
	}
	result := make([][]uint64, len(outerPtrs))
	for i, innerP := range outerPtrs {
		if innerP == 0 {
			continue
		}
		addr, err := d.rebase(innerP)
		if err != nil {
			return nil, err
		}
		n := wire.VecLen(d.consumerBase_uintptr(), addr)
		raw, ok := wire.ReadAtBounded(d.seg, addr, int(n)*8)
		if !ok {
			return nil, fmt.Errorf("%w: per-thread vector length %d runs past segment end", ErrCorruptPointer, n)
		}
		vals := make([]uint64, n)
		for j := range vals {
			vals[j] = leUint64(raw[j*8 : j*8+8])
		}
		result[i] = vals
	}
	return result, nil
}

func (d *Decoder) decodeCombinedVector(p uint64) ([][]CombinedCounter, error) {
	outerPtrs, err := d.decodeOuterVector(p)
	if err != nil {
		return nil, err
	}
	result := make([][]CombinedCounter, len(outerPtrs))
	for i, innerP := range outerPtrs {
		if innerP == 0 {
			continue
		}
		addr, err := d.rebase(innerP)
		if err != nil {
			return nil, err
		}
		n := wire.VecLen(d.consumerBase_uintptr(), addr)
		raw, ok := wire.ReadAtBounded(d.seg, addr, int(n)*16)
		if !ok {
			return nil, fmt.Errorf("%w: combined counter vector length %d runs past segment end", ErrCorruptPointer, n)
		}
		vals := make([]CombinedCounter, n)
		for j := range vals {
			off := j * 16
			vals[j] = CombinedCounter{
				Packets: leUint64(raw[off : off+8]),
				Bytes:   leUint64(raw[off+8 : off+16]),
			}
		}
		result[i] = vals
	}
	return result, nil
}

func (d *Decoder) decodeNameVector(p uint64) ([]string, error) {
	outerPtrs, err := d.decodeOuterVector(p)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(outerPtrs))
	for i, strP := range outerPtrs {
		if strP == 0 {
			continue
		}
		addr, err := d.rebase(strP)
		if err != nil {
			return nil, err
		}
		names[i], err = d.readCString(addr)
		if err != nil {
			return nil, err
		}
	}
	return names, nil
}

func (d *Decoder) readCString(addr uintptr) (string, error) {
	segEnd := uintptr(d.consumerBase) + uintptr(len(d.seg))
	if addr >= segEnd {
		return "", fmt.Errorf("%w: name pointer runs past segment end", ErrCorruptPointer)
	}
	raw, ok := wire.ReadAtBounded(d.seg, addr, int(segEnd-addr))
	if !ok {
		return "", fmt.Errorf("%w: name pointer runs past segment end", ErrCorruptPointer)
	}
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	s := string(raw[:n])
	if !d.opts.lossyNames && !utf8.ValidString(s) {
		return "", ErrInvalidUTF8
	}
	if d.opts.lossyNames && !utf8.ValidString(s) {
		s = string([]rune(s))
	}
	return s, nil
}

func leUint64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
