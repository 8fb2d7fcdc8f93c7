// Package synthseg builds an in-process byte buffer laid out exactly like
// the real shared statistics segment, so pkg/seqlock, pkg/decoder, and the
// top-level statseg package can all be exercised against one definition of
// the wire format without a real producer process.
//
// Because everything lives in one Go-owned byte slice, the synthetic
// segment's "producer base" and "consumer base" are the same address: there
// is no second address space to rebase from. Tests that want to exercise
// rebase.Rebase's translation arithmetic do so directly against
// pkg/rebase, not through this fixture.
//
// Builder tracks every producer-pointer field by the byte offset it should
// eventually hold, not by address: the backing buffer keeps growing via
// append while entries are added, so any address taken mid-build would be
// invalidated by a later reallocation. Offsets are converted to real
// addresses only once in Finalize, after the buffer stops growing.
package synthseg

import (
	"encoding/binary"
	"unsafe"

	"github.com/simeonmiteff/statseg/pkg/wire"
)

type patch struct {
	// at is the byte offset, within the finished buffer, of the 8-byte
	// pointer field to fill in.
	at int
	// target is the byte offset the pointer field should resolve to, or
	// -1 for a null pointer.
	target int
}

// Builder assembles a synthetic segment: a header, directory entries, and
// the vector bodies those entries point at.
type Builder struct {
	buf     []byte
	entries []entryOffsets
	patches []patch
}

// entryOffsets mirrors wire.Entry but stores a pointer-field target offset
// (or -1) instead of an address, for the same reason patch does.
type entryOffsets struct {
	tag         wire.EntryKind
	name        [128]byte
	ptrTarget   int // only meaningful when usesPointer; -1 encodes a null pointer
	rawUnion    [16]byte
	usesPointer bool
}

// NewBuilder starts a new synthetic segment with a reserved header.
func NewBuilder() *Builder {
	b := &Builder{}
	b.buf = make([]byte, wire.SharedHeaderSize)
	return b
}

func (b *Builder) alloc(n int) (offset int) {
	offset = len(b.buf)
	b.buf = append(b.buf, make([]byte, n)...)
	return offset
}

// allocVector reserves an 8-byte vector-length header followed by
// elemSize*n zero bytes, writes the length now (safe: it's written via
// direct indexing into the current b.buf, not a cached subslice), and
// returns the offset of the first element, i.e. just past the length
// header.
func (b *Builder) allocVector(n, elemSize int) (elemsOffset int) {
	headerOffset := b.alloc(wire.VecHeaderSize)
	binary.LittleEndian.PutUint32(b.buf[headerOffset:headerOffset+4], uint32(n))
	bodyOffset := b.alloc(elemSize * n)
	return bodyOffset
}

// AddEmpty appends an EMPTY entry.
func (b *Builder) AddEmpty(name string) int {
	return b.addEntry(entryOffsets{tag: wire.KindEmpty, name: fixedName(name)})
}

// AddIllegal appends an ILLEGAL entry.
func (b *Builder) AddIllegal(name string) int {
	return b.addEntry(entryOffsets{tag: wire.KindIllegal, name: fixedName(name)})
}

// AddScalar appends a SCALAR_INDEX entry with the given value.
func (b *Builder) AddScalar(name string, value float64) int {
	e := entryOffsets{tag: wire.KindScalarIndex, name: fixedName(name)}
	binary.LittleEndian.PutUint64(e.rawUnion[0:8], float64bits(value))
	return b.addEntry(e)
}

// AddSimpleCounterVector appends a COUNTER_VECTOR_SIMPLE entry with one
// []uint64 slice per thread.
func (b *Builder) AddSimpleCounterVector(name string, perThread [][]uint64) int {
	outerTargets := make([]int, len(perThread))
	for i, vals := range perThread {
		if vals == nil {
			outerTargets[i] = -1
			continue
		}
		innerOffset := b.allocVector(len(vals), 8)
		for j, v := range vals {
			binary.LittleEndian.PutUint64(b.buf[innerOffset+j*8:innerOffset+j*8+8], v)
		}
		outerTargets[i] = innerOffset
	}
	outerOffset := b.writeOuterPointerVector(outerTargets)

	e := entryOffsets{tag: wire.KindCounterVectorSimple, name: fixedName(name), ptrTarget: outerOffset, usesPointer: true}
	return b.addEntry(e)
}

// AddCombinedCounterVector appends a COUNTER_VECTOR_COMBINED entry with one
// [](packets,bytes) slice per thread.
func (b *Builder) AddCombinedCounterVector(name string, perThread [][][2]uint64) int {
	outerTargets := make([]int, len(perThread))
	for i, vals := range perThread {
		if vals == nil {
			outerTargets[i] = -1
			continue
		}
		innerOffset := b.allocVector(len(vals), 16)
		for j, v := range vals {
			off := innerOffset + j*16
			binary.LittleEndian.PutUint64(b.buf[off:off+8], v[0])
			binary.LittleEndian.PutUint64(b.buf[off+8:off+16], v[1])
		}
		outerTargets[i] = innerOffset
	}
	outerOffset := b.writeOuterPointerVector(outerTargets)

	e := entryOffsets{tag: wire.KindCounterVectorCombined, name: fixedName(name), ptrTarget: outerOffset, usesPointer: true}
	return b.addEntry(e)
}

// AddNameVector appends a NAME_VECTOR entry. An empty string at index i
// encodes a null (unset) slot.
func (b *Builder) AddNameVector(name string, names []string) int {
	outerTargets := make([]int, len(names))
	for i, s := range names {
		if s == "" {
			outerTargets[i] = -1
			continue
		}
		strOffset := b.alloc(len(s) + 1)
		copy(b.buf[strOffset:strOffset+len(s)], s)
		outerTargets[i] = strOffset
	}
	outerOffset := b.writeOuterPointerVector(outerTargets)

	e := entryOffsets{tag: wire.KindNameVector, name: fixedName(name), ptrTarget: outerOffset, usesPointer: true}
	return b.addEntry(e)
}

// AddSymlink appends a SYMLINK entry projecting entry dirIndex's elemIndex'th
// column.
func (b *Builder) AddSymlink(name string, dirIndex, elemIndex uint32) int {
	e := entryOffsets{tag: wire.KindSymlink, name: fixedName(name)}
	binary.LittleEndian.PutUint32(e.rawUnion[0:4], dirIndex)
	binary.LittleEndian.PutUint32(e.rawUnion[4:8], elemIndex)
	return b.addEntry(e)
}

// writeOuterPointerVector allocates an outer pointer vector now (recording
// its own pointer fields as deferred patches) and returns its element
// offset.
func (b *Builder) writeOuterPointerVector(targets []int) int {
	outerOffset := b.allocVector(len(targets), 8)
	for i, target := range targets {
		at := outerOffset + i*8
		b.patches = append(b.patches, patch{at: at, target: target})
	}
	return outerOffset
}

func (b *Builder) addEntry(e entryOffsets) int {
	b.entries = append(b.entries, e)
	return len(b.entries) - 1
}

// Segment is the finished synthetic segment: its byte buffer plus the
// consumer/producer base addresses to pass to pkg/seqlock/pkg/rebase/pkg/decoder.
type Segment struct {
	Bytes           []byte
	Base            uint64 // equals consumer base: identity-mapped
	DirectoryVector uint64
	NumEntries      int
}

// Finalize lays out the directory vector after every other allocation,
// then converts every deferred offset-based pointer into a real address
// now that the buffer has stopped growing, and fills in the header. Epoch
// starts at 1 and InProgress at 0.
func (b *Builder) Finalize() *Segment {
	dirOffset := b.allocVector(len(b.entries), wire.EntrySize)
	for i, e := range b.entries {
		off := dirOffset + i*wire.EntrySize
		binary.LittleEndian.PutUint32(b.buf[off:off+4], uint32(e.tag))
		if e.usesPointer {
			b.patches = append(b.patches, patch{at: off + 4, target: e.ptrTarget})
		} else {
			copy(b.buf[off+4:off+20], e.rawUnion[:])
		}
		copy(b.buf[off+20:off+148], e.name[:])
	}

	// The buffer no longer grows past this point: taking its address now
	// and patching in offset-derived pointers is safe.
	base := uint64(uintptr(unsafe.Pointer(&b.buf[0])))

	for _, p := range b.patches {
		var addr uint64
		if p.target >= 0 {
			addr = base + uint64(p.target)
		}
		binary.LittleEndian.PutUint64(b.buf[p.at:p.at+8], addr)
	}

	dirAddr := base + uint64(dirOffset)

	binary.LittleEndian.PutUint64(b.buf[0:8], 1) // version
	binary.LittleEndian.PutUint64(b.buf[8:16], base)
	binary.LittleEndian.PutUint64(b.buf[16:24], 1) // epoch
	binary.LittleEndian.PutUint64(b.buf[24:32], 0) // in_progress
	binary.LittleEndian.PutUint64(b.buf[32:40], dirAddr)

	return &Segment{
		Bytes:           b.buf,
		Base:            base,
		DirectoryVector: dirAddr,
		NumEntries:      len(b.entries),
	}
}

// Entry returns the i'th directory entry decoded from the finished segment.
func (s *Segment) Entry(i int) wire.Entry {
	off := int(s.DirectoryVector-s.Base) + i*wire.EntrySize
	return wire.DecodeEntry(s.Bytes[off : off+wire.EntrySize])
}

// SetEpoch overwrites the header's epoch word, for seqlock coherence tests.
func (s *Segment) SetEpoch(v uint64) {
	binary.LittleEndian.PutUint64(s.Bytes[16:24], v)
}

// SetInProgress overwrites the header's in_progress word.
func (s *Segment) SetInProgress(v uint64) {
	binary.LittleEndian.PutUint64(s.Bytes[24:32], v)
}

func fixedName(s string) [128]byte {
	var out [128]byte
	copy(out[:], s)
	return out
}

func float64bits(f float64) uint64 {
	return *(*uint64)(unsafe.Pointer(&f))
}
