package rfq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfq-maker-go/order"
)

func TestPollListenerRunsCycles(t *testing.T) {
	h := newHarness(t, liveConfig())
	h.venue.pending = []order.Request{buy("r1", 10)}

	l := NewPollListener(h.m, 10*time.Millisecond, time.Second, nil)
	require.NoError(t, l.Start(context.Background()))
	require.NoError(t, l.Health())

	require.Eventually(t, func() bool { return h.m.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	// 下一轮监控到成交
	h.venue.setRemote("q1", RemoteFilled)
	require.Eventually(t, func() bool { return h.m.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Stop())
	assert.Error(t, l.Health())
	assert.Equal(t, 1, h.venue.submitCount())
	assert.Equal(t, 0.0, h.engine.OpenNotional())
}

func TestPollListenerStopLeavesActiveQuotes(t *testing.T) {
	h := newHarness(t, liveConfig())
	h.venue.pending = []order.Request{buy("r1", 10)}

	l := NewPollListener(h.m, 10*time.Millisecond, time.Second, nil)
	require.NoError(t, l.Start(context.Background()))
	require.Eventually(t, func() bool { return h.m.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, l.Stop())

	h.venue.mu.Lock()
	defer h.venue.mu.Unlock()
	assert.Empty(t, h.venue.cancelCalls)
}
