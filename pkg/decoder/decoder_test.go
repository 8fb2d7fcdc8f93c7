package decoder_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/simeonmiteff/statseg/internal/synthseg"
	"github.com/simeonmiteff/statseg/pkg/decoder"
	"github.com/simeonmiteff/statseg/pkg/wire"
)

func TestDecode_Scalar_BitExact(t *testing.T) {
	b := synthseg.NewBuilder()
	idx := b.AddScalar("/sys/uptime", math.NaN())
	seg := b.Finalize()

	d := decoder.New(seg.Bytes, seg.Base, seg.Base)
	v, err := d.Decode(seg.Entry(idx), nil)
	require.NoError(t, err)
	require.Equal(t, wire.KindScalarIndex, v.Kind)
	require.Equal(t, math.Float64bits(math.NaN()), math.Float64bits(v.Scalar), "expected NaN to survive the round trip bit-exactly")
}

func TestDecode_SimpleCounterVector(t *testing.T) {
	b := synthseg.NewBuilder()
	idx := b.AddSimpleCounterVector("/if/rx", [][]uint64{
		{1, 2, 3},
		{4, 5},
		nil,
	})
	seg := b.Finalize()

	d := decoder.New(seg.Bytes, seg.Base, seg.Base)
	v, err := d.Decode(seg.Entry(idx), nil)
	require.NoError(t, err)
	require.Equal(t, wire.KindCounterVectorSimple, v.Kind)
	require.Equal(t, [][]uint64{{1, 2, 3}, {4, 5}, nil}, v.Simple)
}

func TestDecode_CombinedCounterVector(t *testing.T) {
	b := synthseg.NewBuilder()
	idx := b.AddCombinedCounterVector("/if/rx-combined", [][][2]uint64{
		{{10, 1000}, {20, 2000}},
	})
	seg := b.Finalize()

	d := decoder.New(seg.Bytes, seg.Base, seg.Base)
	v, err := d.Decode(seg.Entry(idx), nil)
	require.NoError(t, err)
	require.Equal(t, wire.KindCounterVectorCombined, v.Kind)
	require.Equal(t, []decoder.CombinedCounter{{Packets: 10, Bytes: 1000}, {Packets: 20, Bytes: 2000}}, v.Combined[0])
}

func TestDecode_NameVector(t *testing.T) {
	b := synthseg.NewBuilder()
	idx := b.AddNameVector("/if/names", []string{"GigabitEthernet0/0/0", "", "local0"})
	seg := b.Finalize()

	d := decoder.New(seg.Bytes, seg.Base, seg.Base)
	v, err := d.Decode(seg.Entry(idx), nil)
	require.NoError(t, err)
	require.Equal(t, wire.KindNameVector, v.Kind)
	require.Equal(t, []string{"GigabitEthernet0/0/0", "", "local0"}, v.Names)
}

func TestDecode_Empty(t *testing.T) {
	b := synthseg.NewBuilder()
	idx := b.AddEmpty("/unused")
	seg := b.Finalize()

	d := decoder.New(seg.Bytes, seg.Base, seg.Base)
	v, err := d.Decode(seg.Entry(idx), nil)
	require.NoError(t, err)
	require.Equal(t, wire.KindEmpty, v.Kind)
}

func TestDecode_Illegal(t *testing.T) {
	b := synthseg.NewBuilder()
	idx := b.AddIllegal("/broken")
	seg := b.Finalize()

	d := decoder.New(seg.Bytes, seg.Base, seg.Base)
	_, err := d.Decode(seg.Entry(idx), nil)
	require.Error(t, err)
}

func TestDecode_Symlink_ProjectsTarget(t *testing.T) {
	b := synthseg.NewBuilder()
	// Two threads, three interfaces each (an L=2 by M=3 table); the
	// symlink names interface column 1.
	target := b.AddSimpleCounterVector("/if/rx", [][]uint64{{7, 8, 9}, {70, 80, 90}})
	link := b.AddSymlink("/if/GigabitEthernet0-rx", uint32(target), 1)
	seg := b.Finalize()

	d := decoder.New(seg.Bytes, seg.Base, seg.Base)
	lookup := func(i int) (wire.Entry, bool) {
		if i < 0 || i >= seg.NumEntries {
			return wire.Entry{}, false
		}
		return seg.Entry(i), true
	}

	v, err := d.Decode(seg.Entry(link), lookup)
	require.NoError(t, err)
	require.Equal(t, wire.KindCounterVectorSimple, v.Kind)
	// Projected down to the single named column: one value per thread, not
	// the whole per-thread row.
	require.Equal(t, [][]uint64{{8}, {80}}, v.Simple)
	require.EqualValues(t, target, v.SymlinkDirIndex)
	require.EqualValues(t, 1, v.SymlinkElementIndex)
}

func TestDecode_ChainedSymlinkRejected(t *testing.T) {
	b := synthseg.NewBuilder()
	linkA := b.AddSymlink("/a", 0, 0) // placeholder occupying index 0; never decoded
	_ = linkA
	target := b.AddSimpleCounterVector("/real", [][]uint64{{1}})
	linkB := b.AddSymlink("/b", uint32(target), 0)
	linkToLinkB := b.AddSymlink("/c", uint32(linkB), 0)
	seg := b.Finalize()

	d := decoder.New(seg.Bytes, seg.Base, seg.Base)
	lookup := func(i int) (wire.Entry, bool) {
		if i < 0 || i >= seg.NumEntries {
			return wire.Entry{}, false
		}
		return seg.Entry(i), true
	}

	_, err := d.Decode(seg.Entry(linkToLinkB), lookup)
	require.ErrorIs(t, err, decoder.ErrSymlinkTooDeep)
}

func TestDecode_UnrecognizedTag(t *testing.T) {
	b := synthseg.NewBuilder()
	idx := b.AddEmpty("/x")
	seg := b.Finalize()

	e := seg.Entry(idx)
	e.Tag = 99

	d := decoder.New(seg.Bytes, seg.Base, seg.Base)
	_, err := d.Decode(e, nil)
	require.ErrorIs(t, err, decoder.ErrUnrecognizedTag)
}
