// Package segmap maps the shared statistics segment's file descriptor into
// the consumer process read-only, and owns its lifetime.
package segmap

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrFstatFailed is returned when the descriptor's size could not be
	// determined.
	ErrFstatFailed = errors.New("segmap: fstat on segment descriptor failed")
	// ErrMmapFailed is returned when the mmap syscall itself failed.
	ErrMmapFailed = errors.New("segmap: mmap of segment failed")
)

// Segment is a read-only mapping of the shared statistics segment. The zero
// value is not usable; construct one with Map.
type Segment struct {
	fd       int
	data     []byte
	external bool // true for segments built by NewFromBytesForTesting
}

// Map takes ownership of fd (as received from pkg/segtransport), determines
// its size, and maps it PROT_READ/MAP_SHARED. On success the caller must
// eventually call Close to unmap and release the descriptor; on failure fd
// has already been closed.
func Map(fd int) (*Segment, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", ErrFstatFailed, err)
	}

	size := int(stat.Size)
	if size <= 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: non-positive segment size %d", ErrMmapFailed, size)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", ErrMmapFailed, err)
	}

	return &Segment{fd: fd, data: data}, nil
}

// Bytes returns the mapped region. The returned slice must not outlive a
// call to Close.
func (s *Segment) Bytes() []byte {
	return s.data
}

// Len returns the size of the mapping in bytes.
func (s *Segment) Len() int {
	return len(s.data)
}

// Close unmaps the segment and closes its descriptor. It is safe to call
// more than once.
func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}
	if s.external {
		s.data = nil
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	closeErr := unix.Close(s.fd)
	if err != nil {
		return err
	}
	return closeErr
}

// NewFromBytesForTesting wraps an already-built byte slice as a *Segment
// without going through a real mmap. It exists so package statseg's tests
// can exercise the directory walker and decoder wiring against a synthetic
// segment without a real producer process or root privileges; Close on the
// result never calls munmap/close.
func NewFromBytesForTesting(b []byte) *Segment {
	return &Segment{fd: -1, data: b, external: true}
}
