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

type fakeFetcher struct {
	mu    sync.Mutex
	books []MarketBook
	err   error
	calls int
}

func (f *fakeFetcher) FetchBooks(ctx context.Context, marketIDs []string) ([]MarketBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.books, f.err
}

func (f *fakeFetcher) set(books []MarketBook, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books, f.err = books, err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPollFeedRefresh(t *testing.T) {
	fetcher := &fakeFetcher{books: []MarketBook{{
		MarketID: "1.100",
		Runners:  []RunnerBook{{SelectionID: 100, BestBack: 2.0, BestLay: 2.02, LastTraded: 2.0}},
	}}}
	feed := NewPollFeed(PollFeedConfig{MarketIDs: []string{"1.100"}}, fetcher, nil, nil)

	assert.Equal(t, 1, feed.Refresh(context.Background()))
	odds := feed.Snapshot("")[100]
	assert.Equal(t, 2.0, odds.Back)
	assert.Equal(t, 2.02, odds.Lay)

	// 出错和空结果都保留旧数据
	fetcher.set(nil, errors.New("timeout"))
	assert.Equal(t, 0, feed.Refresh(context.Background()))
	fetcher.set(nil, nil)
	assert.Equal(t, 0, feed.Refresh(context.Background()))
	assert.Equal(t, 2.0, feed.Snapshot("1.100")[100].Back)
}

func TestPollFeedFullBookReplacesFields(t *testing.T) {
	fetcher := &fakeFetcher{books: []MarketBook{{
		MarketID: "1.100",
		Runners:  []RunnerBook{{SelectionID: 100, BestBack: 2.0, BestLay: 2.02}},
	}}}
	feed := NewPollFeed(PollFeedConfig{MarketIDs: []string{"1.100"}}, fetcher, nil, nil)
	feed.Refresh(context.Background())

	// lay 侧消失
	fetcher.set([]MarketBook{{MarketID: "1.100", Runners: []RunnerBook{{SelectionID: 100, BestBack: 2.1}}}}, nil)
	feed.Refresh(context.Background())
	odds := feed.Snapshot("1.100")[100]
	assert.Equal(t, 2.1, odds.Back)
	assert.Equal(t, 0.0, odds.Lay)
}

func TestPollFeedStartStop(t *testing.T) {
	fetcher := &fakeFetcher{}
	feed := NewPollFeed(PollFeedConfig{MarketIDs: []string{"1.100"}, Interval: 5 * time.Millisecond, Grace: time.Second}, fetcher, nil, nil)
	require.NoError(t, feed.Start(context.Background()))
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, feed.Stop())

	calls := fetcher.callCount()
	assert.Greater(t, calls, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, fetcher.callCount(), "no cycles after stop")
}
