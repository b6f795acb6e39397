package market

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"rfq-maker-go/internal/worker"
	"rfq-maker-go/metrics"
)

var errStreamEnded = errors.New("market stream ended")

// StreamFeedConfig 推送参数
type StreamFeedConfig struct {
	MarketIDs      []string
	Fields         []string
	ReconnectDelay time.Duration
	Grace          time.Duration
}

// StreamFeed 在独立 goroutine 中消费推送流，断开后按固定间隔重连。
type StreamFeed struct {
	cfg    StreamFeedConfig
	sub    BookSubscriber
	cache  *Cache
	logger *zap.Logger
	loop   worker.Loop
	now    func() time.Time
}

func NewStreamFeed(cfg StreamFeedConfig, sub BookSubscriber, cache *Cache, logger *zap.Logger) *StreamFeed {
	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultStreamFields
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewCache(cfg.MarketIDs)
	}
	return &StreamFeed{
		cfg:    cfg,
		sub:    sub,
		cache:  cache,
		logger: logger,
		loop:   worker.Loop{Name: "reference_stream", Grace: cfg.Grace, Logger: logger},
		now:    time.Now,
	}
}

func (f *StreamFeed) Start(ctx context.Context) error {
	f.logger.Info("reference.stream_start",
		zap.Strings("markets", f.cfg.MarketIDs),
		zap.Strings("fields", f.cfg.Fields))
	return f.loop.Start(ctx, f.run)
}

func (f *StreamFeed) Stop() error {
	return f.loop.Stop()
}

func (f *StreamFeed) Health() error {
	if !f.loop.Running() {
		return ErrFeedStopped
	}
	return nil
}

func (f *StreamFeed) run(ctx context.Context, stop <-chan struct{}) {
	// 推送流没有"周期"，收到停止信号直接断开订阅
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-subCtx.Done():
		}
	}()

	op := func() error {
		err := f.sub.Subscribe(subCtx, f.cfg.MarketIDs, f.cfg.Fields, f.Apply)
		if subCtx.Err() != nil {
			return backoff.Permanent(subCtx.Err())
		}
		if err == nil {
			err = errStreamEnded
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		f.logger.Warn("reference.stream_disconnected", zap.Error(err), zap.Duration("retry_in", wait))
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(f.cfg.ReconnectDelay), subCtx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil && !errors.Is(err, context.Canceled) {
		f.logger.Error("reference.stream_stopped", zap.Error(err))
	}
}

// Apply 把一批增量写入缓存（时间戳取本地接收时间）
func (f *StreamFeed) Apply(d Delta) {
	ts := f.now()
	if n := f.cache.Update(d.MarketID, d.Updates(), ts); n > 0 {
		metrics.RecordFeedUpdate(d.MarketID, n, ts)
	}
}

func (f *StreamFeed) Snapshot(marketID string) PriceSnapshot {
	return f.cache.Snapshot(marketID)
}

func (f *StreamFeed) AllSnapshots() map[string]PriceSnapshot {
	return f.cache.AllSnapshots()
}

func (f *StreamFeed) Cache() *Cache {
	return f.cache
}
