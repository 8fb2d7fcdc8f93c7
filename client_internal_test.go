package statseg

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/simeonmiteff/statseg/internal/synthseg"
	"github.com/simeonmiteff/statseg/pkg/decoder"
)

// newTestClient builds a Client directly around a synthetic in-process
// segment, bypassing Connect's socket/mmap bootstrap (exercised separately
// by pkg/segtransport and pkg/segmap), so the directory walker, decoder
// wiring, and coherence retries in this package can be tested without a
// real producer process or root privileges.
func newTestClient(t *testing.T, seg *synthseg.Segment) *Client {
	t.Helper()
	return NewClientForTesting(seg.Bytes)
}

func TestLs_MatchesByPatternUnion(t *testing.T) {
	b := synthseg.NewBuilder()
	b.AddScalar("/sys/uptime", 1.0)
	b.AddScalar("/sys/boottime", 2.0)
	b.AddEmpty("/net/unrelated")
	seg := b.Finalize()

	c := newTestClient(t, seg)
	dir, err := c.Ls("^/sys/up.*", "^/sys/boot.*")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/sys/uptime", "/sys/boottime"}, dir.Names())
}

func TestLs_ExcludesEmptyEntriesEvenWhenNameMatches(t *testing.T) {
	b := synthseg.NewBuilder()
	b.AddScalar("/sys/uptime", 1.0)
	b.AddEmpty("/sys/reserved")
	seg := b.Finalize()

	c := newTestClient(t, seg)
	dir, err := c.Ls(".*")
	require.NoError(t, err)
	require.Equal(t, []string{"/sys/uptime"}, dir.Names())
}

func TestLs_EmptyPatternsMatchesEverything(t *testing.T) {
	b := synthseg.NewBuilder()
	b.AddScalar("/a", 1)
	b.AddScalar("/b", 2)
	seg := b.Finalize()

	c := newTestClient(t, seg)
	dir, err := c.Ls()
	require.NoError(t, err)
	require.Len(t, dir.Names(), 2)
}

func TestLs_InvalidPatternFailsFast(t *testing.T) {
	b := synthseg.NewBuilder()
	seg := b.Finalize()

	c := newTestClient(t, seg)
	_, err := c.Ls("(unclosed")
	require.ErrorIs(t, err, ErrRegexCompile)
}

func TestDump_DecodesMatchedEntries(t *testing.T) {
	b := synthseg.NewBuilder()
	b.AddScalar("/sys/uptime", 42.5)
	b.AddSimpleCounterVector("/if/rx", [][]uint64{{1, 2}})
	seg := b.Finalize()

	c := newTestClient(t, seg)
	dir, err := c.Ls()
	require.NoError(t, err)

	snap, err := dir.Dump()
	require.NoError(t, err)
	require.Len(t, snap.Entries, 2)

	byName := map[string]decoder.Value{}
	for _, e := range snap.Entries {
		byName[e.Name] = e.Value
	}
	require.Equal(t, 42.5, byName["/sys/uptime"].Scalar)
	require.Equal(t, [][]uint64{{1, 2}}, byName["/if/rx"].Simple)
}

func TestDump_ObsoleteAfterEpochBump(t *testing.T) {
	b := synthseg.NewBuilder()
	b.AddScalar("/sys/uptime", 1)
	seg := b.Finalize()

	c := newTestClient(t, seg)
	dir, err := c.Ls()
	require.NoError(t, err)

	seg.SetEpoch(2)

	_, err = dir.Dump()
	require.ErrorIs(t, err, ErrObsoleteDirData)
}

func TestHeartbeat_ReadsScalarAtDirectoryIndexZero(t *testing.T) {
	b := synthseg.NewBuilder()
	b.AddScalar("/sys/heartbeat", 7)
	b.AddScalar("/sys/uptime", 99)
	seg := b.Finalize()
	c := newTestClient(t, seg)

	v, err := c.Heartbeat()
	require.NoError(t, err)
	require.Equal(t, 7.0, v)
}

func TestHeartbeat_ReflectsLiveUpdatesToIndexZero(t *testing.T) {
	b := synthseg.NewBuilder()
	b.AddScalar("/sys/heartbeat", 1)
	seg := b.Finalize()
	c := newTestClient(t, seg)

	v, err := c.Heartbeat()
	require.NoError(t, err)
	require.Equal(t, 1.0, v)

	// The heartbeat counter's union holds a bit-exact float64; overwrite it
	// directly, as the producer would on its own next tick.
	off := int(seg.DirectoryVector-seg.Base) + 4
	binary.LittleEndian.PutUint64(seg.Bytes[off:off+8], math.Float64bits(2))

	v, err = c.Heartbeat()
	require.NoError(t, err)
	require.Equal(t, 2.0, v)
}

func TestClosedClientRejectsOperations(t *testing.T) {
	b := synthseg.NewBuilder()
	seg := b.Finalize()
	c := newTestClient(t, seg)
	require.NoError(t, c.Close())

	_, err := c.Ls()
	require.ErrorIs(t, err, ErrClientClosed)

	_, err = c.Heartbeat()
	require.ErrorIs(t, err, ErrClientClosed)
}
