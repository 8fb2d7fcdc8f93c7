package segmap_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/simeonmiteff/statseg/pkg/segmap"
)

func TestMap_ReadsBackWrittenBytes(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "segment")
	require.NoError(t, err)
	defer f.Close()

	want := []byte("shared statistics segment contents")
	_, err = f.Write(want)
	require.NoError(t, err)

	fd, err := unix.Dup(int(f.Fd()))
	require.NoError(t, err)

	seg, err := segmap.Map(fd)
	require.NoError(t, err)
	defer seg.Close()

	require.Equal(t, len(want), seg.Len())
	require.Equal(t, want, seg.Bytes()[:len(want)])
}

func TestMap_ZeroSizeRejected(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "empty")
	require.NoError(t, err)
	defer f.Close()

	fd, err := unix.Dup(int(f.Fd()))
	require.NoError(t, err)

	_, err = segmap.Map(fd)
	require.ErrorIs(t, err, segmap.ErrMmapFailed)
}

func TestClose_Idempotent(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "segment")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write([]byte("x"))
	require.NoError(t, err)

	fd, err := unix.Dup(int(f.Fd()))
	require.NoError(t, err)

	seg, err := segmap.Map(fd)
	require.NoError(t, err)
	require.NoError(t, seg.Close())
	require.NoError(t, seg.Close())
}
