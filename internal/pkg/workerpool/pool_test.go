package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPoolSubmit(t *testing.T) {
	p, err := New(&Config{Workers: 4, ReleaseTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	defer p.Shutdown()

	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			n.Add(1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int32(50), n.Load())
	assert.Equal(t, int64(50), p.Stats().Submitted)
}

func TestPoolClosed(t *testing.T) {
	p, err := New(&Config{Workers: 1}, nil)
	require.NoError(t, err)
	p.Shutdown()
	p.Shutdown()

	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
}

func TestPoolNonBlocking(t *testing.T) {
	p, err := New(&Config{Workers: 1, NonBlocking: true}, nil)
	require.NoError(t, err)
	defer p.Shutdown()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolFull)
	close(release)
}

func TestPoolPanic(t *testing.T) {
	p, err := New(&Config{Workers: 1}, nil)
	require.NoError(t, err)
	defer p.Shutdown()

	require.NoError(t, p.Submit(func() { panic("worker failure") }))
	assert.Eventually(t, func() bool { return p.Stats().Panicked == 1 }, time.Second, 5*time.Millisecond)
}

func TestNewInvalid(t *testing.T) {
	_, err := New(&Config{Workers: 0}, nil)
	assert.Error(t, err)
}
