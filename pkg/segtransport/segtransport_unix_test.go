//go:build linux || darwin || freebsd

package segtransport

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestReceiveFd_SingleDescriptor(t *testing.T) {
	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	require.NoError(t, err)
	defer unix.Close(pair[0])

	tmp, err := os.CreateTemp(t.TempDir(), "segment")
	require.NoError(t, err)
	defer tmp.Close()
	_, err = tmp.WriteString("hello, segment")
	require.NoError(t, err)

	rights := unix.UnixRights(int(tmp.Fd()))
	err = unix.Sendmsg(pair[1], []byte{0}, rights, nil, 0)
	require.NoError(t, err)
	unix.Close(pair[1])

	fd, err := receiveFd(pair[0])
	require.NoError(t, err)
	defer unix.Close(fd)
	require.Greater(t, fd, 0)

	var stat unix.Stat_t
	require.NoError(t, unix.Fstat(fd, &stat))
	require.EqualValues(t, len("hello, segment"), stat.Size)
}

func TestReceiveFd_NoDescriptorFails(t *testing.T) {
	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	require.NoError(t, err)
	defer unix.Close(pair[0])

	err = unix.Sendmsg(pair[1], []byte{0}, nil, nil, 0)
	require.NoError(t, err)
	unix.Close(pair[1])

	_, err = receiveFd(pair[0])
	require.ErrorIs(t, err, ErrReceivingFdFailed)
}
