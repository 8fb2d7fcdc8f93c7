package statseg

import (
	"fmt"
	"regexp"
	"time"

	"github.com/simeonmiteff/statseg/pkg/decoder"
	"github.com/simeonmiteff/statseg/pkg/rebase"
	"github.com/simeonmiteff/statseg/pkg/seqlock"
	"github.com/simeonmiteff/statseg/pkg/wire"
)

// dirEntry is one matched directory slot captured by Ls: its index (stable
// for the lifetime of the Dir, used to re-read the entry in Dump and to
// resolve SYMLINK targets) and decoded name.
type dirEntry struct {
	index int
	name  string
}

// Dir is a snapshot of the subset of the producer's directory matching the
// patterns passed to Ls, as of the epoch recorded in Epoch. It does not
// hold decoded values; call Dump to read and decode them coherently.
type Dir struct {
	client *Client
	epoch  uint64
	fetch  time.Time
	items  []dirEntry
}

// Epoch returns the producer epoch this directory snapshot was captured at.
func (d *Dir) Epoch() uint64 { return d.epoch }

// Names returns the matched entries' names, in directory order.
func (d *Dir) Names() []string {
	names := make([]string, len(d.items))
	for i, it := range d.items {
		names[i] = it.name
	}
	return names
}

// Len reports how many entries matched.
func (d *Dir) Len() int { return len(d.items) }

// FetchedAt returns when this Dir's directory walk completed, for
// diagnostics (e.g. staleness reporting in the bundled exporter).
func (d *Dir) FetchedAt() time.Time { return d.fetch }

// Ls compiles patterns, opens an access guard, and walks the producer's
// directory, returning every entry whose name matches at least one
// pattern (union semantics across patterns). An empty pattern list matches
// every entry. Ls retries internally, up to the client's configured
// MaxRetries, if the walk fails (for example, torn by a concurrent producer
// rewrite); if every attempt fails it returns an empty Dir (no entries,
// epoch 0) and a nil error.
func (c *Client) Ls(patterns ...string) (*Dir, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}

	matchers, err := compilePatterns(patterns)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt <= c.cfg.maxRetries; attempt++ {
		items, epoch, err := c.walkOnce(matchers)
		if err == nil {
			return &Dir{client: c, epoch: epoch, fetch: time.Now(), items: items}, nil
		}
		c.logger.WithError(err).WithField("attempt", attempt).Debug("statseg: ls retrying after torn read")
	}
	return &Dir{client: c, fetch: time.Now()}, nil
}

func (c *Client) walkOnce(matchers []*regexp.Regexp) ([]dirEntry, uint64, error) {
	guard, err := seqlock.Start(c.header, c.cfg.accessTimeout)
	if err != nil {
		return nil, 0, err
	}

	producerBase := c.producerBase()
	dirPtr := c.directoryVectorPtr()
	consumerBase := c.consumerBase()

	addr, ok := rebaseOrZero(consumerBase, producerBase, dirPtr, c.seg.Len())
	if !ok {
		return nil, 0, fmt.Errorf("%w: directory pointer out of bounds", ErrCorruptPointer)
	}

	n := 0
	if addr != 0 {
		n = int(wire.VecLen(uintptr(consumerBase), addr))
	}

	var items []dirEntry
	raw, ok := wire.ReadAtBounded(c.seg.Bytes(), addr, n*wire.EntrySize)
	if !ok {
		return nil, 0, fmt.Errorf("%w: directory vector length %d runs past segment end", ErrCorruptPointer, n)
	}
	for i := 0; i < n; i++ {
		e := wire.DecodeEntry(raw[i*wire.EntrySize : (i+1)*wire.EntrySize])
		if e.Tag == wire.KindEmpty {
			continue
		}
		name := e.NameString()
		if matchesAny(matchers, name) {
			items = append(items, dirEntry{index: i, name: name})
		}
	}

	if guard.DataChanged() {
		return nil, 0, ErrStatSegmentChanged
	}
	epoch := guard.Epoch()
	if err := guard.End(); err != nil {
		return nil, 0, err
	}
	return items, epoch, nil
}

func matchesAny(matchers []*regexp.Regexp, name string) bool {
	if len(matchers) == 0 {
		return true
	}
	for _, m := range matchers {
		if m.MatchString(name) {
			return true
		}
	}
	return false
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrRegexCompile, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// rebaseOrZero rebases a producer pointer into this process's mapping.
func rebaseOrZero(consumerBase, producerBase, p uint64, segLen int) (uintptr, bool) {
	return rebase.Rebase(consumerBase, producerBase, p, segLen)
}

// Dump re-opens an access guard against the live segment and decodes every
// entry captured in the Dir, returning a Snapshot. If the producer has
// rewritten the directory since Ls was called (the epoch moved, or the
// decode was torn), Dump returns ErrObsoleteDirData and the caller should
// call Ls again before retrying.
func (d *Dir) Dump(opts ...decoder.Option) (*Snapshot, error) {
	c := d.client
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}

	guard, err := seqlock.Start(c.header, c.cfg.accessTimeout)
	if err != nil {
		return nil, err
	}

	if guard.Epoch() != d.epoch {
		return nil, ErrObsoleteDirData
	}

	producerBase := c.producerBase()
	consumerBase := c.consumerBase()
	dirPtr := c.directoryVectorPtr()
	addr, ok := rebaseOrZero(consumerBase, producerBase, dirPtr, c.seg.Len())
	if !ok || addr == 0 {
		return nil, ErrObsoleteDirData
	}

	if c.cfg.lossyNames {
		opts = append(opts, decoder.WithLossyNames())
	}
	dec := decoder.New(c.seg.Bytes(), consumerBase, producerBase, opts...)

	lookup := func(i int) (wire.Entry, bool) {
		n := int(wire.VecLen(uintptr(consumerBase), addr))
		if i < 0 || i >= n {
			return wire.Entry{}, false
		}
		raw, ok := wire.ReadAtBounded(c.seg.Bytes(), addr, n*wire.EntrySize)
		if !ok {
			return wire.Entry{}, false
		}
		return wire.DecodeEntry(raw[i*wire.EntrySize : (i+1)*wire.EntrySize]), true
	}

	values := make([]SnapshotEntry, 0, len(d.items))
	for _, it := range d.items {
		e, ok := lookup(it.index)
		if !ok {
			return nil, ErrObsoleteDirData
		}
		v, err := dec.Decode(e, lookup)
		if err != nil {
			if guard.DataChanged() {
				return nil, ErrObsoleteDirData
			}
			return nil, &DecodeError{Name: it.name, Tag: uint32(e.Tag), Err: err}
		}
		values = append(values, SnapshotEntry{Name: it.name, Value: v, ViaSymlink: e.Tag == wire.KindSymlink})
	}

	if guard.DataChanged() {
		return nil, ErrObsoleteDirData
	}
	if err := guard.End(); err != nil {
		return nil, ErrObsoleteDirData
	}

	return &Snapshot{Epoch: guard.Epoch(), Entries: values}, nil
}
