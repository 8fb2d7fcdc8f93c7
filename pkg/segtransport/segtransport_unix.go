//go:build linux || darwin || freebsd

package segtransport

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Dial connects to the producer's SOCK_SEQPACKET control socket at path,
// reads the single handshake datagram, and returns the duplicated file
// descriptor of the shared segment carried in its SCM_RIGHTS ancillary
// data. The caller owns the returned descriptor and is responsible for
// closing it (typically via pkg/segmap, which mmaps then closes it).
func Dial(path string) (fd int, err error) {
	sock, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return -1, fmt.Errorf("%w: %v", ErrCouldNotOpenSocket, err)
	}
	defer unix.Close(sock)

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Connect(sock, addr); err != nil {
		return -1, fmt.Errorf("%w: %v", ErrCouldNotConnect, err)
	}

	return receiveFd(sock)
}

// receiveFd reads one handshake datagram off an already-connected seqpacket
// socket and extracts the single SCM_RIGHTS descriptor it must carry. Split
// out from Dial so the SCM_RIGHTS parsing can be exercised directly against
// a unix.Socketpair in tests, without a real producer listening anywhere.
func receiveFd(sock int) (int, error) {
	payload := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := unix.Recvmsg(sock, payload, oob, 0)
	if err != nil {
		return -1, fmt.Errorf("%w: %v", ErrReceivingFdFailed, err)
	}
	if n == 0 || oobn == 0 {
		return -1, ErrReceivingFdFailed
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("%w: %v", ErrReceivingFdFailed, err)
	}

	gotFd := -1
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		if len(fds) == 1 && gotFd == -1 {
			gotFd = fds[0]
		} else {
			for _, extra := range fds {
				unix.Close(extra)
			}
		}
	}

	if gotFd == -1 {
		return -1, ErrReceivingFdFailed
	}

	return gotFd, nil
}
