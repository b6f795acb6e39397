package rfq

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rfq-maker-go/infrastructure/alert"
	"rfq-maker-go/infrastructure/logger"
	"rfq-maker-go/internal/pricing"
	"rfq-maker-go/market"
	"rfq-maker-go/metrics"
	"rfq-maker-go/order"
)

const (
	DefaultQuoteTTL        = 300 * time.Second
	DefaultOrderExpiration = 3600 * time.Second
	DefaultSeenLimit       = 10_000
	DefaultFilledRetention = time.Hour
)

// Outcome 单个请求的处理结果
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDeclined  Outcome = "declined"
	OutcomeDryRun    Outcome = "dry_run"
	OutcomeSubmitted Outcome = "submitted"
	OutcomeFailed    Outcome = "failed"
)

// Config 生命周期参数
type Config struct {
	Markets         []string // 拉取请求时的过滤条件
	ReferenceMarket string   // 取快照的市场，空表示默认
	QuoteTTL        time.Duration
	DryRun          bool
	ApproveOrders   bool
	OrderExpiration time.Duration
	SeenLimit       int
	FilledRetention time.Duration
	RequestLimit    int
}

func (c *Config) applyDefaults() {
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = DefaultQuoteTTL
	}
	if c.OrderExpiration <= 0 {
		c.OrderExpiration = DefaultOrderExpiration
	}
	if c.SeenLimit <= 0 {
		c.SeenLimit = DefaultSeenLimit
	}
}

// Manager 管理 RFQ 去重、定价、提交与报价状态迁移，两种传输方式共用。
type Manager struct {
	cfg    Config
	venue  Venue
	engine *pricing.Engine
	prices PriceSource
	sm     *order.StateMachine
	book   *order.Book
	logger *logger.Logger
	alerts alert.Alerter
	sink   EventSink
	now    func() time.Time
	newID  func() string

	seenMu sync.Mutex
	seen   map[string]struct{}

	// quoteMu 串行化 定价→提交→Track，并发请求不会按同一份可用敞口报价
	quoteMu sync.Mutex
}

// Option 可选依赖
type Option func(*Manager)

func WithAlerter(a alert.Alerter) Option {
	return func(m *Manager) { m.alerts = a }
}

func WithEventSink(s EventSink) Option {
	return func(m *Manager) { m.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg Config, venue Venue, engine *pricing.Engine, prices PriceSource, log *logger.Logger, opts ...Option) *Manager {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	sm := order.NewStateMachine()
	m := &Manager{
		cfg:    cfg,
		venue:  venue,
		engine: engine,
		prices: prices,
		sm:     sm,
		book:   order.NewBook(sm),
		logger: log,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
		seen:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cycle 轮询模式的一轮：拉取并处理请求、检查活跃报价、撤销过期报价。
func (m *Manager) Cycle(ctx context.Context) {
	m.PollRequests(ctx)
	m.CheckActive(ctx)
	m.ExpireStale(ctx)
	m.syncGauges()
}

// PollRequests 拉取待报价请求并逐个处理，返回提交成功的数量。
func (m *Manager) PollRequests(ctx context.Context) int {
	started := time.Now()
	reqs, err := m.venue.PendingRequests(ctx, order.RequestFilter{Markets: m.cfg.Markets, Limit: m.cfg.RequestLimit})
	metrics.ObserveVenueCall("get_requests", started, err)
	if err != nil {
		m.logger.Warn("rfq.fetch_requests_failed", zap.Error(err))
		return 0
	}
	if len(reqs) == 0 {
		return 0
	}

	snap := m.prices.Snapshot(m.cfg.ReferenceMarket)
	if len(snap) == 0 {
		// 请求不标记为已处理，下一轮再试
		m.logger.Warn("rfq.reference_empty", zap.Int("pending", len(reqs)))
		return 0
	}

	submitted := 0
	for _, req := range reqs {
		req := req
		m.safely("handle_request", req.RequestID, func() {
			if m.process(ctx, req, func() market.PriceSnapshot { return snap }) == OutcomeSubmitted {
				submitted++
			}
		})
	}
	m.trimSeen()
	return submitted
}

// HandleRequest 推送模式下处理单个请求事件。
func (m *Manager) HandleRequest(ctx context.Context, req order.Request) Outcome {
	outcome := OutcomeSkipped
	m.safely("handle_request", req.RequestID, func() {
		outcome = m.process(ctx, req, func() market.PriceSnapshot {
			return m.prices.Snapshot(m.cfg.ReferenceMarket)
		})
	})
	m.trimSeen()
	m.syncGauges()
	return outcome
}

// process 去重后定价并提交；snapshot 只在需要定价时读取。
func (m *Manager) process(ctx context.Context, req order.Request, snapshot func() market.PriceSnapshot) Outcome {
	if req.RequestID == "" {
		m.logger.Debug("rfq.missing_request_id", zap.String("token", req.Token))
		metrics.RFQRequests.WithLabelValues(string(OutcomeSkipped)).Inc()
		return OutcomeSkipped
	}
	if !m.markSeen(req.RequestID) {
		m.logger.Debug("rfq.duplicate_request", zap.String("request_id", req.RequestID))
		metrics.RFQRequests.WithLabelValues(string(OutcomeDuplicate)).Inc()
		return OutcomeDuplicate
	}

	m.quoteMu.Lock()
	defer m.quoteMu.Unlock()

	res := m.engine.Price(req, snapshot())
	if !res.Priced() {
		m.logger.Debug("rfq.declined",
			zap.String("request_id", req.RequestID),
			zap.String("token", req.Token),
			zap.String("reason", string(res.Reason)),
			zap.String("detail", res.Detail))
		metrics.QuoteDeclines.WithLabelValues(string(res.Reason)).Inc()
		metrics.RFQRequests.WithLabelValues(string(OutcomeDeclined)).Inc()
		return OutcomeDeclined
	}

	if m.cfg.DryRun {
		m.logger.LogQuote("dry_run", req.RequestID, "",
			zap.String("token", res.Quote.Token),
			zap.String("side", string(res.Quote.Side)),
			zap.Float64("price", res.Quote.Price),
			zap.Float64("size", res.Quote.Size),
			zap.Float64("notional", res.Quote.Notional()))
		metrics.RFQRequests.WithLabelValues(string(OutcomeDryRun)).Inc()
		return OutcomeDryRun
	}

	outcome := m.submit(ctx, req, res.Quote)
	metrics.RFQRequests.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (m *Manager) submit(ctx context.Context, req order.Request, q order.Quote) Outcome {
	sub := order.NewSubmission(m.newID(), req.RequestID, q, m.now())

	started := time.Now()
	result, err := m.venue.SubmitQuote(ctx, req.RequestID, q)
	metrics.ObserveVenueCall("submit_quote", started, err)
	if err == nil && result.QuoteID == "" {
		msg := result.Error
		if msg == "" {
			msg = "no quote id in response"
		}
		err = errors.New(msg)
	}

	if err != nil {
		if verr := m.sm.ValidateTransition(sub.Status, order.StatusFailed); verr == nil {
			sub.Status = order.StatusFailed
		}
		sub.Error = err.Error()
		sub.UpdatedAt = m.now()
		metrics.QuoteSubmitFailures.Inc()
		m.logger.LogError(err, "submit_failed",
			zap.String("request_id", req.RequestID),
			zap.String("token", q.Token))
		m.alert(alert.LevelError, "submit:"+q.Token, "quote submission failed", map[string]interface{}{
			"request_id": req.RequestID,
			"token":      q.Token,
			"error":      err.Error(),
		})
		m.publish(ctx, "failed", sub)
		return OutcomeFailed
	}

	sub.QuoteID = result.QuoteID
	if err := m.sm.ValidateTransition(sub.Status, order.StatusActive); err != nil {
		m.logger.LogError(err, "submit_state", zap.String("request_id", req.RequestID))
		return OutcomeFailed
	}
	sub.Status = order.StatusActive
	sub.UpdatedAt = m.now()

	m.engine.Track(sub.Notional())
	if err := m.book.Add(sub); err != nil {
		m.engine.Release(sub.Notional())
		m.logger.LogError(err, "submit_book", zap.String("request_id", req.RequestID), zap.String("quote_id", sub.QuoteID))
		return OutcomeFailed
	}

	metrics.QuotesSubmitted.Inc()
	m.logger.LogQuote("submitted", sub.RequestID, sub.QuoteID,
		zap.String("token", sub.Token),
		zap.String("side", string(sub.Side)),
		zap.Float64("price", sub.Price),
		zap.Float64("size", sub.Size))
	m.logger.LogExposure("track", sub.Notional(), m.engine.OpenNotional(), m.engine.AvailableExposure())
	m.publish(ctx, "submitted", sub)
	return OutcomeSubmitted
}

// CheckActive 批量查询活跃报价的远端状态（按 request_id 去重）并迁移。
func (m *Manager) CheckActive(ctx context.Context) {
	active := m.book.Active()
	if len(active) == 0 {
		return
	}

	ids := make([]string, 0, len(active))
	seen := make(map[string]struct{}, len(active))
	for _, s := range active {
		if _, ok := seen[s.RequestID]; ok {
			continue
		}
		seen[s.RequestID] = struct{}{}
		ids = append(ids, s.RequestID)
	}

	started := time.Now()
	remote, err := m.venue.Quotes(ctx, ids)
	metrics.ObserveVenueCall("get_quotes", started, err)
	if err != nil {
		m.logger.Warn("rfq.fetch_quotes_failed", zap.Int("request_ids", len(ids)), zap.Error(err))
		return
	}

	byQuote := make(map[string]order.RemoteQuote, len(remote))
	for _, rq := range remote {
		byQuote[rq.QuoteID] = rq
	}
	for _, s := range active {
		rq, ok := byQuote[s.QuoteID]
		if !ok {
			continue
		}
		quoteID, state := s.QuoteID, rq.State
		m.safely("check_quote", quoteID, func() {
			m.ApplyRemoteState(ctx, quoteID, state)
		})
	}
	m.syncGauges()
}

// ApplyRemoteState 按远端状态迁移一条活跃报价；非本方或非 active 的报价忽略。
func (m *Manager) ApplyRemoteState(ctx context.Context, quoteID, state string) {
	sub, ok := m.book.Get(quoteID)
	if !ok || sub.Status != order.StatusActive {
		return
	}

	switch normalizeState(state) {
	case RemoteActive:
	case RemoteAccepted:
		m.approve(ctx, sub)
	case RemoteFilled, RemoteSettled:
		m.finish(ctx, sub, order.StatusFilled, state)
	case RemoteCancelled, RemoteExpired:
		m.finish(ctx, sub, order.StatusCancelled, state)
	default:
		m.logger.Info("rfq.unrecognized_state",
			zap.String("quote_id", quoteID),
			zap.String("request_id", sub.RequestID),
			zap.String("state", state))
	}
}

func normalizeState(state string) string {
	s := strings.ToUpper(strings.TrimSpace(state))
	switch {
	case strings.Contains(s, "ACCEPT"):
		return RemoteAccepted
	case s == "CANCELED":
		return RemoteCancelled
	default:
		return s
	}
}

func (m *Manager) approve(ctx context.Context, sub order.Submission) {
	if m.cfg.DryRun || !m.cfg.ApproveOrders {
		m.logger.Info("rfq.approval_skipped",
			zap.String("quote_id", sub.QuoteID),
			zap.String("request_id", sub.RequestID),
			zap.Bool("dry_run", m.cfg.DryRun),
			zap.Bool("approve_orders", m.cfg.ApproveOrders))
		return
	}

	expiration := m.now().Add(m.cfg.OrderExpiration)
	started := time.Now()
	err := m.venue.ApproveOrder(ctx, sub.RequestID, sub.QuoteID, expiration)
	metrics.ObserveVenueCall("approve_order", started, err)
	if err != nil {
		// 保持 active，下一轮重试
		m.logger.Warn("rfq.approve_failed",
			zap.String("quote_id", sub.QuoteID),
			zap.String("request_id", sub.RequestID),
			zap.Error(err))
		m.alert(alert.LevelWarning, "approve:"+sub.QuoteID, "order approval failed", map[string]interface{}{
			"quote_id":   sub.QuoteID,
			"request_id": sub.RequestID,
			"error":      err.Error(),
		})
		return
	}
	m.finish(ctx, sub, order.StatusFilled, "approved")
}

// ExpireStale 对超过 TTL 的活跃报价尝试撤单；失败的留到下一轮。
func (m *Manager) ExpireStale(ctx context.Context) int {
	now := m.now()
	expired := 0
	for _, s := range m.book.Active() {
		if s.Age(now) <= m.cfg.QuoteTTL || !m.sm.CanCancel(s.Status) {
			continue
		}
		sub := s
		m.safely("expire_quote", sub.QuoteID, func() {
			if m.expire(ctx, sub, now) {
				expired++
			}
		})
	}
	if m.cfg.FilledRetention > 0 {
		if n := m.book.PruneFinal(now.Add(-m.cfg.FilledRetention)); n > 0 {
			m.logger.Debug("rfq.pruned_final", zap.Int("count", n))
		}
	}
	m.syncGauges()
	return expired
}

func (m *Manager) expire(ctx context.Context, sub order.Submission, now time.Time) bool {
	if m.cfg.DryRun {
		m.logger.Info("rfq.cancel_suppressed", zap.String("quote_id", sub.QuoteID))
		return false
	}

	started := time.Now()
	err := m.venue.CancelQuote(ctx, sub.QuoteID)
	metrics.ObserveVenueCall("cancel_quote", started, err)
	if err != nil {
		m.logger.Warn("rfq.cancel_failed",
			zap.String("quote_id", sub.QuoteID),
			zap.String("request_id", sub.RequestID),
			zap.Duration("age", sub.Age(now)),
			zap.Error(err))
		m.alert(alert.LevelWarning, "cancel:"+sub.QuoteID, "stale quote cancel failed", map[string]interface{}{
			"quote_id":   sub.QuoteID,
			"request_id": sub.RequestID,
			"age":        sub.Age(now).String(),
			"error":      err.Error(),
		})
		return false
	}
	return m.finish(ctx, sub, order.StatusCancelled, "ttl_expired")
}

// finish 进入终态并释放敞口；Book.Transition 保证每条记录只成功一次。
func (m *Manager) finish(ctx context.Context, sub order.Submission, to order.Status, reason string) bool {
	updated, err := m.book.Transition(sub.QuoteID, to, m.now())
	if err != nil {
		m.logger.Debug("rfq.transition_rejected",
			zap.String("quote_id", sub.QuoteID),
			zap.String("to", string(to)),
			zap.Error(err))
		return false
	}

	m.engine.Release(updated.Notional())
	metrics.QuoteTransitions.WithLabelValues(string(to)).Inc()
	m.logger.LogQuote(string(to), updated.RequestID, updated.QuoteID,
		zap.String("reason", reason),
		zap.Float64("notional", updated.Notional()))
	m.logger.LogExposure("release", -updated.Notional(), m.engine.OpenNotional(), m.engine.AvailableExposure())
	m.publish(ctx, string(to), updated)
	return true
}

// Quotes 报价表（含保留期内的已成交记录），供状态接口读取。
func (m *Manager) Quotes() []order.Submission {
	return m.book.List()
}

// ActiveCount 活跃报价数
func (m *Manager) ActiveCount() int {
	return len(m.book.Active())
}

// Engine 暴露敞口读数
func (m *Manager) Engine() *pricing.Engine {
	return m.engine
}

// Config 当前配置
func (m *Manager) Config() Config {
	return m.cfg
}

// SeenCount 去重集合大小
func (m *Manager) SeenCount() int {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	return len(m.seen)
}

func (m *Manager) markSeen(id string) bool {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	if _, ok := m.seen[id]; ok {
		return false
	}
	m.seen[id] = struct{}{}
	return true
}

// trimSeen 超过上限时整体清空（之后重新出现的旧请求可能被再次处理）
func (m *Manager) trimSeen() {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	if len(m.seen) > m.cfg.SeenLimit {
		m.logger.Info("rfq.seen_cleared", zap.Int("size", len(m.seen)), zap.Int("limit", m.cfg.SeenLimit))
		m.seen = make(map[string]struct{})
	}
}

func (m *Manager) syncGauges() {
	metrics.UpdateExposure(m.engine.OpenNotional(), m.engine.AvailableExposure())
	metrics.ActiveQuotes.Set(float64(len(m.book.Active())))
}

func (m *Manager) alert(level alert.Level, key, msg string, fields map[string]interface{}) {
	if m.alerts == nil {
		return
	}
	if err := m.alerts.SendAlert(alert.Alert{Level: level, Key: key, Message: msg, Fields: fields}); err != nil {
		m.logger.Warn("rfq.alert_failed", zap.String("key", key), zap.Error(err))
	}
}

func (m *Manager) publish(ctx context.Context, event string, sub order.Submission) {
	if m.sink == nil {
		return
	}
	if err := m.sink.PublishQuoteEvent(ctx, event, sub); err != nil {
		m.logger.Warn("rfq.publish_failed", zap.String("event", event), zap.String("request_id", sub.RequestID), zap.Error(err))
	}
}

// safely 隔离单个条目的 panic，不影响同一轮的其他条目
func (m *Manager) safely(step, id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("rfq.step_panic",
				zap.String("step", step),
				zap.String("id", id),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	fn()
}
