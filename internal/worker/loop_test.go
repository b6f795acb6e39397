package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopGracefulStop(t *testing.T) {
	l := &Loop{Name: "test", Grace: time.Second}
	var cycles int32
	require.NoError(t, l.Start(context.Background(), func(ctx context.Context, stop <-chan struct{}) {
		for {
			atomic.AddInt32(&cycles, 1)
			if !Sleep(ctx, stop, 5*time.Millisecond) {
				return
			}
		}
	}))
	assert.ErrorIs(t, l.Start(context.Background(), func(context.Context, <-chan struct{}) {}), ErrAlreadyRunning)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, l.Stop())
	assert.False(t, l.Running())
	assert.Greater(t, atomic.LoadInt32(&cycles), int32(0))

	// 再次 Stop 是空操作
	assert.NoError(t, l.Stop())
}

func TestLoopForcedStopCancelsContext(t *testing.T) {
	l := &Loop{Name: "stuck", Grace: 20 * time.Millisecond}
	cancelled := make(chan struct{})
	require.NoError(t, l.Start(context.Background(), func(ctx context.Context, stop <-chan struct{}) {
		// 忽略 stop 信号，只响应 ctx
		<-ctx.Done()
		close(cancelled)
	}))

	start := time.Now()
	require.NoError(t, l.Stop())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	select {
	case <-cancelled:
	default:
		t.Fatal("context should be cancelled after grace")
	}
}

func TestLoopRestart(t *testing.T) {
	l := &Loop{Name: "restart", Grace: time.Second}
	run := func(ctx context.Context, stop <-chan struct{}) { <-stop }
	require.NoError(t, l.Start(context.Background(), run))
	require.NoError(t, l.Stop())
	require.NoError(t, l.Start(context.Background(), run))
	require.NoError(t, l.Stop())
}

func TestStopping(t *testing.T) {
	stop := make(chan struct{})
	assert.False(t, Stopping(context.Background(), stop))
	close(stop)
	assert.True(t, Stopping(context.Background(), stop))
}
