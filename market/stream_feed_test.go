package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubscriber 第一次连接推送一条增量后断开，之后的连接一直阻塞到 ctx 结束。
type fakeSubscriber struct {
	mu     sync.Mutex
	dials  int
	fields []string
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, marketIDs []string, fields []string, handle func(Delta)) error {
	s.mu.Lock()
	s.dials++
	n := s.dials
	s.fields = fields
	s.mu.Unlock()

	if n == 1 {
		handle(Delta{MarketID: marketIDs[0], Runners: []RunnerDelta{{SelectionID: 100, Back: Price(2.0), Lay: Price(2.2)}}})
		return errors.New("connection reset")
	}
	handle(Delta{MarketID: marketIDs[0], Runners: []RunnerDelta{{SelectionID: 100, LastTraded: Price(2.1)}}})
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeSubscriber) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func TestStreamFeedReconnectsAndMerges(t *testing.T) {
	sub := &fakeSubscriber{}
	feed := NewStreamFeed(StreamFeedConfig{
		MarketIDs:      []string{"1.100"},
		ReconnectDelay: 5 * time.Millisecond,
		Grace:          time.Second,
	}, sub, nil, nil)

	require.NoError(t, feed.Start(context.Background()))
	require.Eventually(t, func() bool { return sub.dialCount() >= 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return feed.Snapshot("1.100")[100].LastTraded == 2.1 }, time.Second, 5*time.Millisecond)

	odds := feed.Snapshot("1.100")[100]
	assert.Equal(t, 2.0, odds.Back)
	assert.Equal(t, 2.2, odds.Lay)
	assert.Equal(t, DefaultStreamFields, sub.fields)

	require.NoError(t, feed.Stop())
	dials := sub.dialCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, dials, sub.dialCount(), "no reconnect after stop")
}

func TestDeltaUpdatesMergeSameSelection(t *testing.T) {
	d := Delta{MarketID: "1.100", Runners: []RunnerDelta{
		{SelectionID: 1, Back: Price(2.0)},
		{SelectionID: 1, Lay: Price(2.2)},
	}}
	u := d.Updates()[1]
	require.NotNil(t, u.Back)
	require.NotNil(t, u.Lay)
	assert.Nil(t, u.LastTraded)
}
