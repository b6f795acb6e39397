package market

import (
	"context"
	"time"

	"go.uber.org/zap"

	"rfq-maker-go/internal/worker"
	"rfq-maker-go/metrics"
)

// PollFeedConfig 轮询参数
type PollFeedConfig struct {
	MarketIDs []string
	Interval  time.Duration
	Grace     time.Duration
}

// PollFeed 定期拉取完整盘口写入 Cache。
type PollFeed struct {
	cfg     PollFeedConfig
	fetcher BookFetcher
	cache   *Cache
	logger  *zap.Logger
	loop    worker.Loop
	now     func() time.Time
}

func NewPollFeed(cfg PollFeedConfig, fetcher BookFetcher, cache *Cache, logger *zap.Logger) *PollFeed {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewCache(cfg.MarketIDs)
	}
	return &PollFeed{
		cfg:     cfg,
		fetcher: fetcher,
		cache:   cache,
		logger:  logger,
		loop:    worker.Loop{Name: "reference_poll", Grace: cfg.Grace, Logger: logger},
		now:     time.Now,
	}
}

func (f *PollFeed) Start(ctx context.Context) error {
	f.logger.Info("reference.poll_start",
		zap.Strings("markets", f.cfg.MarketIDs),
		zap.Duration("interval", f.cfg.Interval))
	return f.loop.Start(ctx, f.run)
}

func (f *PollFeed) Stop() error {
	return f.loop.Stop()
}

func (f *PollFeed) Health() error {
	if !f.loop.Running() {
		return ErrFeedStopped
	}
	return nil
}

func (f *PollFeed) run(ctx context.Context, stop <-chan struct{}) {
	for {
		f.Refresh(ctx)
		if !worker.Sleep(ctx, stop, f.cfg.Interval) {
			return
		}
	}
}

// Refresh 拉取一轮；出错或无数据时保持缓存不变。返回写入的 selection 数。
func (f *PollFeed) Refresh(ctx context.Context) int {
	started := f.now()
	books, err := f.fetcher.FetchBooks(ctx, f.cfg.MarketIDs)
	metrics.ObserveVenueCall("fetch_book", started, err)
	if err != nil {
		f.logger.Warn("reference.poll_error", zap.Error(err))
		return 0
	}
	if len(books) == 0 {
		f.logger.Debug("reference.poll_empty")
		return 0
	}
	ts := f.now()
	total := 0
	for _, b := range books {
		n := f.cache.Update(b.MarketID, b.Updates(), ts)
		if n > 0 {
			metrics.RecordFeedUpdate(b.MarketID, n, ts)
		}
		total += n
	}
	f.logger.Debug("reference.poll_updated", zap.Int("books", len(books)), zap.Int("runners", total))
	return total
}

func (f *PollFeed) Snapshot(marketID string) PriceSnapshot {
	return f.cache.Snapshot(marketID)
}

func (f *PollFeed) AllSnapshots() map[string]PriceSnapshot {
	return f.cache.AllSnapshots()
}

// Cache 暴露给状态接口
func (f *PollFeed) Cache() *Cache {
	return f.cache
}
