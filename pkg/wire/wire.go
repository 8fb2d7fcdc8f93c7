// Package wire defines the on-disk layout of the shared-memory statistics
// segment: the fixed header at offset zero, the directory entry format, and
// the length-prefix header that precedes every producer-allocated vector.
//
// File format (segment):
//
//	offset 0   SharedHeader (40 bytes)
//	  version           uint64
//	  base              uint64  (producer-side address the segment is mapped at)
//	  epoch             uint64  (bumped by the producer before and after a rewrite)
//	  inProgress        uint64  (nonzero while the producer is rewriting)
//	  directoryVector   uint64  (producer pointer to the directory's vector header)
//	...
//	somewhere          vecHeader (8 bytes) + N * Entry (148 bytes each)
//	  vecHeader.len     uint32
//	  vecHeader._pad    uint32
//	  Entry.tag         uint32
//	  Entry.union       [16]byte
//	  Entry.name        [128]byte, NUL-padded
//
// All multi-byte fields are little-endian; the segment is only ever mapped
// by a consumer on the same host and architecture as the producer.
package wire

import (
	"encoding/binary"
	"math"
)

// EntryKind identifies the shape of the value held by one directory entry.
type EntryKind uint32

const (
	KindIllegal EntryKind = iota
	KindScalarIndex
	KindCounterVectorSimple
	KindCounterVectorCombined
	KindNameVector
	KindEmpty
	KindSymlink
)

func (k EntryKind) String() string {
	switch k {
	case KindIllegal:
		return "illegal"
	case KindScalarIndex:
		return "scalar_index"
	case KindCounterVectorSimple:
		return "counter_vector_simple"
	case KindCounterVectorCombined:
		return "counter_vector_combined"
	case KindNameVector:
		return "name_vector"
	case KindEmpty:
		return "empty"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

const (
	// SharedHeaderSize is the byte size of SharedHeader as laid out by the producer.
	SharedHeaderSize = 40
	// EntrySize is the byte size of one directory Entry, tag + union + name.
	EntrySize = 4 + 16 + 128
	// VecHeaderSize is the byte size of the length prefix before a producer vector.
	VecHeaderSize = 8
	// NameSize is the fixed width of an Entry's NUL-padded name field.
	NameSize = 128
)

// SharedHeader is the fixed-offset-zero header of the segment.
type SharedHeader struct {
	Version         uint64
	Base            uint64
	Epoch           uint64
	InProgress      uint64
	DirectoryVector uint64
}

// DecodeSharedHeader reads a SharedHeader from the first SharedHeaderSize
// bytes of seg. It does not synchronize with a concurrent producer; callers
// needing coherent reads of the mutable fields (Epoch, InProgress, Base,
// DirectoryVector) must use pkg/seqlock and LoadUint64's atomic loads
// instead of this function, which is only safe on a quiescent/test segment.
func DecodeSharedHeader(seg []byte) SharedHeader {
	_ = seg[SharedHeaderSize-1]
	return SharedHeader{
		Version:         binary.LittleEndian.Uint64(seg[0:8]),
		Base:            binary.LittleEndian.Uint64(seg[8:16]),
		Epoch:           binary.LittleEndian.Uint64(seg[16:24]),
		InProgress:      binary.LittleEndian.Uint64(seg[24:32]),
		DirectoryVector: binary.LittleEndian.Uint64(seg[32:40]),
	}
}

// Entry is one element of the producer's directory vector.
type Entry struct {
	Tag   EntryKind
	Union [16]byte
	Name  [128]byte
}

// DecodeEntry reads one Entry from b, which must have at least EntrySize bytes.
func DecodeEntry(b []byte) Entry {
	_ = b[EntrySize-1]
	var e Entry
	e.Tag = EntryKind(binary.LittleEndian.Uint32(b[0:4]))
	copy(e.Union[:], b[4:20])
	copy(e.Name[:], b[20:148])
	return e
}

// NameString returns the entry's name, trimmed at the first NUL byte.
func (e Entry) NameString() string {
	for i, c := range e.Name {
		if c == 0 {
			return string(e.Name[:i])
		}
	}
	return string(e.Name[:])
}

// Scalar interprets the union as a float64 scalar value (SCALAR_INDEX entries).
func (e Entry) Scalar() float64 {
	bits := binary.LittleEndian.Uint64(e.Union[0:8])
	return math.Float64frombits(bits)
}

// Pointer interprets the union as a producer-side pointer (vector-bearing entries).
func (e Entry) Pointer() uint64 {
	return binary.LittleEndian.Uint64(e.Union[0:8])
}

// SymlinkTarget interprets the union as a symlink projection: the index of
// the target directory entry and, for two-dimensional entries, the element
// index within each of its rows (the inner, per-object dimension).
func (e Entry) SymlinkTarget() (dirIndex, elementIndex uint32) {
	dirIndex = binary.LittleEndian.Uint32(e.Union[0:4])
	elementIndex = binary.LittleEndian.Uint32(e.Union[4:8])
	return
}
