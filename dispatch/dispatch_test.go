package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/n0remac/netcam-core/dispatch"
	"github.com/n0remac/netcam-core/hwsession"
)

// fakeSource produces an incrementing sequence of chunks as fast as it's
// pulled, with no simulated blocking.
type fakeSource struct {
	mu  sync.Mutex
	seq uint64
}

func (s *fakeSource) PullPacket(timeout time.Duration, stop <-chan struct{}) (hwsession.EncodedChunk, error) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	return hwsession.EncodedChunk{
		Bytes:      []byte{byte(seq)},
		PTS:        int64(seq),
		Sequence:   seq,
		IsKeyframe: seq == 1,
	}, nil
}

// blockingSource blocks on every pull until unblocked by the test, so a
// test can deterministically control how many packets are produced.
type blockingSource struct {
	release chan struct{}
	seq     uint64
}

func (s *blockingSource) PullPacket(timeout time.Duration, stop <-chan struct{}) (hwsession.EncodedChunk, error) {
	select {
	case <-s.release:
	case <-stop:
		return hwsession.EncodedChunk{}, context.Canceled
	}
	s.seq++
	return hwsession.EncodedChunk{Bytes: []byte{byte(s.seq)}, Sequence: s.seq}, nil
}

func TestDispatcherFansOutToAllConsumers(t *testing.T) {
	d := dispatch.NewDispatcher(nil, nil, nil)

	var muA, muB sync.Mutex
	var countA, countB int

	require.NoError(t, d.RegisterConsumer(dispatch.ConsumerRegistration{
		Name: "a", QueueCapacity: 8,
		Callback: func(p dispatch.EncodedPacket) { muA.Lock(); countA++; muA.Unlock() },
	}))
	require.NoError(t, d.RegisterConsumer(dispatch.ConsumerRegistration{
		Name: "b", QueueCapacity: 8,
		Callback: func(p dispatch.EncodedPacket) { muB.Lock(); countB++; muB.Unlock() },
	}))

	d.Start(&fakeSource{})

	require.Eventually(t, func() bool {
		muA.Lock()
		defer muA.Unlock()
		return countA > 5
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		muB.Lock()
		defer muB.Unlock()
		return countB > 5
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
}

func TestDispatcherDropsOldestWhenConsumerQueueFull(t *testing.T) {
	d := dispatch.NewDispatcher(nil, nil, nil)

	block := make(chan struct{})
	var received []dispatch.EncodedPacket
	var mu sync.Mutex
	require.NoError(t, d.RegisterConsumer(dispatch.ConsumerRegistration{
		Name: "slow", QueueCapacity: 1,
		Callback: func(p dispatch.EncodedPacket) {
			<-block
			mu.Lock()
			received = append(received, p)
			mu.Unlock()
		},
	}))

	src := &blockingSource{release: make(chan struct{}, 16)}
	d.Start(src)

	// Let three packets through: the first is picked up by the blocked
	// worker immediately, the next two contend for the single queue slot
	// and the second must evict the first, not pile up.
	for i := 0; i < 3; i++ {
		src.release <- struct{}{}
	}

	require.Eventually(t, func() bool {
		for _, s := range d.Status() {
			if s.Name == "slow" {
				return s.Drops >= 1
			}
		}
		return false
	}, time.Second, time.Millisecond)

	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
}

func TestDispatcherRegisterBeforeStartIsBuffered(t *testing.T) {
	d := dispatch.NewDispatcher(nil, nil, nil)
	var mu sync.Mutex
	count := 0
	require.NoError(t, d.RegisterConsumer(dispatch.ConsumerRegistration{
		Name: "late", QueueCapacity: 4,
		Callback: func(p dispatch.EncodedPacket) { mu.Lock(); count++; mu.Unlock() },
	}))

	d.Start(&fakeSource{})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count > 0
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
}

func TestDispatcherRejectsZeroCapacity(t *testing.T) {
	d := dispatch.NewDispatcher(nil, nil, nil)
	err := d.RegisterConsumer(dispatch.ConsumerRegistration{Name: "x", QueueCapacity: 0})
	require.Error(t, err)
}
