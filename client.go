// Package statseg is a client for the shared-memory statistics segment
// exposed by a dataplane producer process: it connects over a local
// control socket, maps the segment read-only, and walks and decodes the
// producer's directory of counters, scalars, name tables, and symlinks
// into plain Go values, remaining coherent in the face of the producer
// concurrently rewriting the segment underneath it.
package statseg

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/statseg/pkg/kernelinfo"
	"github.com/simeonmiteff/statseg/pkg/segmap"
	"github.com/simeonmiteff/statseg/pkg/segtransport"
	"github.com/simeonmiteff/statseg/pkg/seqlock"
	"github.com/simeonmiteff/statseg/pkg/wire"
)

// Client holds one live connection to a producer's statistics segment. The
// zero value is not usable; construct one with Connect. A Client is not
// safe for concurrent use by multiple goroutines.
type Client struct {
	mu sync.Mutex

	cfg    config
	sessed string
	logger *logrus.Entry
	seg    *segmap.Segment
	header seqlock.AtomicHeader
	closed bool
}

// Connect dials the producer's control socket at path, receives the
// segment's file descriptor over it, and maps the segment read-only.
func Connect(path string, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	sessionID := xid.New().String()
	logger := cfg.logger.WithField("session", sessionID).WithField("socket", path)

	fd, err := segtransport.Dial(path)
	if err != nil {
		logger.WithError(err).Warn("statseg: connect failed")
		return nil, err
	}

	seg, err := segmap.Map(fd)
	if err != nil {
		logger.WithError(err).Warn("statseg: mapping segment failed")
		return nil, err
	}

	hdr := wire.DecodeSharedHeader(seg.Bytes())

	if rel, kerr := kernelinfo.Release(); kerr == nil {
		logger.WithFields(logrus.Fields{
			"kernel":           rel,
			"segment_version":  hdr.Version,
			"segment_size":     seg.Len(),
		}).Debug("statseg: connected")
	} else {
		logger.WithField("segment_version", hdr.Version).Debug("statseg: connected")
	}

	c := &Client{
		cfg:    cfg,
		sessed: sessionID,
		logger: logger,
		seg:    seg,
		header: atomicHeaderOf(seg.Bytes()),
	}
	return c, nil
}

// atomicHeaderOf builds a seqlock.AtomicHeader pointing at the epoch and
// in_progress words of a mapped segment's fixed header.
func atomicHeaderOf(seg []byte) seqlock.AtomicHeader {
	base := uintptr(unsafe.Pointer(&seg[0]))
	return seqlock.AtomicHeader{
		EpochAddr:      (*uint64)(unsafe.Pointer(base + 16)), //nolint:govet
		InProgressAddr: (*uint64)(unsafe.Pointer(base + 24)), //nolint:govet
	}
}

// consumerBase returns the address the segment is mapped at in this
// process.
func (c *Client) consumerBase() uint64 {
	return uint64(uintptr(unsafe.Pointer(&c.seg.Bytes()[0])))
}

// producerBase atomically loads the producer's own mapping base out of the
// live header, since in principle it can move across an epoch boundary.
func (c *Client) producerBase() uint64 {
	return wire.LoadUint64(c.seg.Bytes(), 8)
}

// directoryVectorPtr atomically loads the producer pointer to the
// directory's vector header.
func (c *Client) directoryVectorPtr() uint64 {
	return wire.LoadUint64(c.seg.Bytes(), 32)
}

// Heartbeat reads the well-known heartbeat counter at directory index 0 and
// returns its current value, guarded the same way any other scalar read is:
// an access guard bounds the wait on a concurrent producer rewrite, and a
// torn read is reported as an error rather than a stale value.
func (c *Client) Heartbeat() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClientClosed
	}

	guard, err := seqlock.Start(c.header, c.cfg.accessTimeout)
	if err != nil {
		return 0, err
	}

	producerBase := c.producerBase()
	consumerBase := c.consumerBase()
	dirPtr := c.directoryVectorPtr()
	addr, ok := rebaseOrZero(consumerBase, producerBase, dirPtr, c.seg.Len())
	if !ok || addr == 0 {
		return 0, ErrObsoleteDirData
	}

	n := int(wire.VecLen(uintptr(consumerBase), addr))
	if n == 0 {
		return 0, ErrObsoleteDirData
	}
	raw, ok := wire.ReadAtBounded(c.seg.Bytes(), addr, wire.EntrySize)
	if !ok {
		return 0, fmt.Errorf("%w: heartbeat entry out of bounds", ErrCorruptPointer)
	}
	e := wire.DecodeEntry(raw)

	if guard.DataChanged() {
		return 0, ErrStatSegmentChanged
	}
	if err := guard.End(); err != nil {
		return 0, err
	}
	return e.Scalar(), nil
}

// Close unmaps the segment and releases its descriptor. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Debug("statseg: closing")
	return c.seg.Close()
}

// NewClientForTesting wraps an already-built segment byte slice (typically
// from internal/synthseg) as a *Client without dialing a real producer
// socket or performing a real mmap. It exists so packages that only
// consume the public Client API (pkg/promexport, cmd/statctl,
// cmd/statexporter) can exercise their own logic against a synthetic
// segment in their own tests.
func NewClientForTesting(seg []byte, opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{
		cfg:    cfg,
		sessed: "test",
		logger: cfg.logger,
		seg:    segmap.NewFromBytesForTesting(seg),
		header: atomicHeaderOf(seg),
	}
}
