package rfq

import (
	"context"
	"time"

	"rfq-maker-go/market"
	"rfq-maker-go/order"
)

// Venue 报价场所客户端
type Venue interface {
	PendingRequests(ctx context.Context, filter order.RequestFilter) ([]order.Request, error)
	SubmitQuote(ctx context.Context, requestID string, q order.Quote) (order.SubmitResult, error)
	Quotes(ctx context.Context, requestIDs []string) ([]order.RemoteQuote, error)
	ApproveOrder(ctx context.Context, requestID, quoteID string, expiration time.Time) error
	CancelQuote(ctx context.Context, quoteID string) error
}

// PriceSource 参考价快照来源（market.Feed 满足该接口）
type PriceSource interface {
	Snapshot(marketID string) market.PriceSnapshot
}

// EventSink 生命周期事件出口（可选）
type EventSink interface {
	PublishQuoteEvent(ctx context.Context, event string, payload any) error
}

// 远端状态
const (
	RemoteActive    = "ACTIVE"
	RemoteAccepted  = "ACCEPTED"
	RemoteFilled    = "FILLED"
	RemoteSettled   = "SETTLED"
	RemoteCancelled = "CANCELLED"
	RemoteExpired   = "EXPIRED"
)
