package market

import (
	"context"
	"errors"
)

// ErrFeedStopped 参考价循环未运行
var ErrFeedStopped = errors.New("reference feed not running")

// Feed 参考价来源（轮询或推送），上层只依赖这个接口。
type Feed interface {
	Start(ctx context.Context) error
	Stop() error
	Health() error
	Snapshot(marketID string) PriceSnapshot
	AllSnapshots() map[string]PriceSnapshot
}

// CacheBacked 暴露底层缓存（状态页读取各市场的更新时间）
type CacheBacked interface {
	Cache() *Cache
}

// BookFetcher fetch_book(market_ids)
type BookFetcher interface {
	FetchBooks(ctx context.Context, marketIDs []string) ([]MarketBook, error)
}

// BookSubscriber 阻塞地消费推送流，直到出错或 ctx 结束。
type BookSubscriber interface {
	Subscribe(ctx context.Context, marketIDs []string, fields []string, handle func(Delta)) error
}

// DefaultStreamFields 推送流订阅的字段
var DefaultStreamFields = []string{"EX_BEST_OFFERS", "EX_LTP"}
