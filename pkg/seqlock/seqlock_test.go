package seqlock_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/simeonmiteff/statseg/pkg/seqlock"
)

type fakeHeader struct {
	epoch      uint64
	inProgress uint64
}

func (h *fakeHeader) Epoch() uint64      { return atomic.LoadUint64(&h.epoch) }
func (h *fakeHeader) InProgress() uint64 { return atomic.LoadUint64(&h.inProgress) }

func TestGuard_RoundTrip_Quiescent(t *testing.T) {
	hdr := &fakeHeader{epoch: 4}
	g, err := seqlock.Start(hdr, time.Second)
	require.NoError(t, err)
	require.Equal(t, uint64(4), g.Epoch())
	require.NoError(t, g.End())
}

func TestGuard_DetectsEpochChange(t *testing.T) {
	hdr := &fakeHeader{epoch: 1}
	g, err := seqlock.Start(hdr, time.Second)
	require.NoError(t, err)

	atomic.StoreUint64(&hdr.epoch, 2)

	require.True(t, g.DataChanged())
	require.ErrorIs(t, g.End(), seqlock.ErrSegmentChanged)
}

func TestGuard_DetectsInProgressDuringRead(t *testing.T) {
	hdr := &fakeHeader{epoch: 1}
	g, err := seqlock.Start(hdr, time.Second)
	require.NoError(t, err)

	atomic.StoreUint64(&hdr.inProgress, 1)

	require.ErrorIs(t, g.End(), seqlock.ErrSegmentChanged)
}

func TestStart_WaitsOutInProgress(t *testing.T) {
	hdr := &fakeHeader{epoch: 1, inProgress: 1}

	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		atomic.StoreUint64(&hdr.inProgress, 0)
		close(done)
	}()

	g, err := seqlock.Start(hdr, time.Second)
	require.NoError(t, err)
	require.NotNil(t, g)
	<-done
}

func TestStart_CapturesEpochBeforeWaitingOutInProgress(t *testing.T) {
	// A rewrite that begins after Start has already captured the epoch,
	// but before in_progress clears, must still leave the guard holding
	// the pre-rewrite epoch: End has to see it as torn, not succeed
	// against the post-rewrite epoch.
	hdr := &fakeHeader{epoch: 1, inProgress: 1}

	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		atomic.StoreUint64(&hdr.epoch, 2)
		atomic.StoreUint64(&hdr.inProgress, 0)
		close(done)
	}()

	g, err := seqlock.Start(hdr, time.Second)
	require.NoError(t, err)
	<-done
	require.Equal(t, uint64(1), g.Epoch())
	require.ErrorIs(t, g.End(), seqlock.ErrSegmentChanged)
}

func TestStart_TimesOut(t *testing.T) {
	hdr := &fakeHeader{epoch: 1, inProgress: 1}
	_, err := seqlock.Start(hdr, 5*time.Millisecond)
	require.ErrorIs(t, err, seqlock.ErrAccessStartFailed)
}

func TestStart_ZeroTimeoutWaitsIndefinitely(t *testing.T) {
	hdr := &fakeHeader{epoch: 1, inProgress: 1}

	go func() {
		time.Sleep(10 * time.Millisecond)
		atomic.StoreUint64(&hdr.inProgress, 0)
	}()

	g, err := seqlock.Start(hdr, 0)
	require.NoError(t, err)
	require.NoError(t, g.End())
}
