// Package segtransport bootstraps a connection to the producer's control
// socket and receives the shared segment's file descriptor over it. The
// handshake is a single SOCK_SEQPACKET datagram carrying a one-byte payload
// and exactly one SCM_RIGHTS ancillary descriptor; nothing else ever crosses
// that socket.
package segtransport

import "errors"

var (
	// ErrCouldNotOpenSocket is returned when the local seqpacket socket
	// itself could not be created.
	ErrCouldNotOpenSocket = errors.New("segtransport: could not open local socket")
	// ErrCouldNotConnect is returned when dialing the producer's socket
	// path failed.
	ErrCouldNotConnect = errors.New("segtransport: could not connect to producer socket")
	// ErrReceivingFdFailed is returned when the handshake datagram did not
	// carry exactly one SCM_RIGHTS descriptor.
	ErrReceivingFdFailed = errors.New("segtransport: did not receive exactly one file descriptor")
)
