// Package rebase translates producer-side addresses embedded in the shared
// segment into addresses valid in the consumer's own address space. The
// producer and consumer map the same segment at (almost always) different
// base addresses, so every pointer the producer writes into the segment —
// the directory vector pointer, a counter vector's per-thread pointers, a
// name vector's per-entry string pointers — needs the same translation
// before it can be dereferenced locally.
package rebase

// Rebase converts a producer-side address p into the equivalent address in
// the consumer's mapping, given the consumer's own mapping base and the
// producer's mapping base (itself read out of the live header with an
// atomic/volatile-style load by the caller, since the producer may in
// principle remap and change its own base across an epoch boundary).
//
// A zero producer pointer passes through as zero (the segment's encoding of
// "no value" / null), never rebased, matching the behavior vector readers
// rely on to detect an absent vector.
//
// Rebase reports ok=false when the computed offset would fall outside
// [0, segLen), which means either producerBase was stale/wrong or the
// directory is corrupt; callers should treat this as a decode-time error
// rather than dereferencing the result.
func Rebase(consumerBase, producerBase, p uint64, segLen int) (addr uintptr, ok bool) {
	if p == 0 {
		return 0, true
	}
	offset := int64(p) - int64(producerBase)
	if offset < 0 || offset >= int64(segLen) {
		return 0, false
	}
	return uintptr(consumerBase) + uintptr(offset), true
}
