//go:build !linux && !darwin && !freebsd

package segtransport

import (
	"fmt"
	"runtime"
)

// Dial always fails on platforms without SCM_RIGHTS / SOCK_SEQPACKET
// support through golang.org/x/sys/unix.
func Dial(path string) (fd int, err error) {
	return -1, fmt.Errorf("%w: unsupported platform %s", ErrCouldNotOpenSocket, runtime.GOOS)
}
