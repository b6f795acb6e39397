package rfq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rfq-maker-go/internal/worker"
	"rfq-maker-go/metrics"
	"rfq-maker-go/order"
)

const (
	DefaultRTDSURL        = "wss://ws-live-data.polymarket.com"
	DefaultPingInterval   = 5 * time.Second
	DefaultReconnectDelay = 5 * time.Second
	DefaultSweepInterval  = 5 * time.Second

	rfqTopic = "rfq"
)

var (
	errNotRunning    = errors.New("listener not running")
	errSessionClosed = errors.New("rtds session closed")
)

// StreamConfig RTDS 连接参数
type StreamConfig struct {
	URL              string
	PingInterval     time.Duration
	ReconnectDelay   time.Duration
	SweepInterval    time.Duration
	HandshakeTimeout time.Duration
	Grace            time.Duration
	LogRawMessages   bool
}

func (c *StreamConfig) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultRTDSURL
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// subscribeMessage 订阅 rfq 主题的全部事件
type subscribeMessage struct {
	Action        string         `json:"action"`
	Subscriptions []subscription `json:"subscriptions"`
}

type subscription struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
}

type envelope struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StreamListener 推送传输：RTDS 事件逐条内联处理，TTL 由独立的定时清扫负责。
type StreamListener struct {
	cfg     StreamConfig
	manager *Manager
	dialer  *websocket.Dialer
	logger  *zap.Logger
	loop    worker.Loop

	mu       sync.Mutex
	conn     *websocket.Conn
	sessions int64
}

func NewStreamListener(cfg StreamConfig, m *Manager, logger *zap.Logger) *StreamListener {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamListener{
		cfg:     cfg,
		manager: m,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: websocket.DefaultDialer.Proxy},
		logger:  logger,
		loop:    worker.Loop{Name: "rfq_stream", Grace: cfg.Grace, Logger: logger},
	}
}

// Start 启动连接循环和 TTL 清扫
func (l *StreamListener) Start(ctx context.Context) error {
	cfg := l.manager.Config()
	l.logger.Info("rfq.stream_start",
		zap.String("url", l.cfg.URL),
		zap.Duration("quote_ttl", cfg.QuoteTTL),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("approve_orders", cfg.ApproveOrders))
	return l.loop.Start(ctx, l.run)
}

// Stop 关闭连接并等待当前事件处理完（最长 grace）
func (l *StreamListener) Stop() error {
	err := l.loop.Stop()
	l.logger.Info("rfq.stream_stopped", zap.Int("active_quotes", l.manager.ActiveCount()))
	return err
}

// Health 运行中且已连接返回 nil
func (l *StreamListener) Health() error {
	if !l.loop.Running() {
		return errNotRunning
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return errors.New("rtds not connected")
	}
	return nil
}

// Alive 只看循环是否在跑；RTDS 断线重连期间仍返回 nil
func (l *StreamListener) Alive() error {
	if !l.loop.Running() {
		return errNotRunning
	}
	return nil
}

// Sessions 已建立的会话数（含重连）
func (l *StreamListener) Sessions() int64 {
	return atomic.LoadInt64(&l.sessions)
}

func (l *StreamListener) run(ctx context.Context, stop <-chan struct{}) {
	// waitCtx 只用于打断重连等待；事件处理使用 ctx，停止时允许处理完
	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		select {
		case <-stop:
			cancelWait()
			l.closeConn()
		case <-waitCtx.Done():
		}
	}()
	go func() {
		defer wg.Done()
		l.sweepLoop(ctx, stop)
	}()

	op := func() error {
		err := l.session(ctx, stop)
		if worker.Stopping(ctx, stop) {
			return backoff.Permanent(context.Canceled)
		}
		if err == nil {
			err = errSessionClosed
		}
		metrics.WSReconnects.Inc()
		return err
	}
	notify := func(err error, wait time.Duration) {
		l.logger.Warn("rfq.stream_disconnected", zap.Error(err), zap.Duration("reconnect_in", wait))
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(l.cfg.ReconnectDelay), waitCtx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Error("rfq.stream_loop_exit", zap.Error(err))
	}

	cancelWait()
	wg.Wait()
}

// session 一次完整连接：拨号、订阅、对账、读循环。
func (l *StreamListener) session(ctx context.Context, stop <-chan struct{}) error {
	conn, _, err := l.dialer.DialContext(ctx, l.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.cfg.URL, err)
	}
	l.setConn(conn)
	defer func() {
		l.setConn(nil)
		_ = conn.Close()
		metrics.SetWSConnected(false)
	}()
	if worker.Stopping(ctx, stop) {
		return nil
	}

	// 每次（重）连接都要重新订阅
	sub := subscribeMessage{Action: "subscribe", Subscriptions: []subscription{{Topic: rfqTopic, Type: "*"}}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	metrics.SetWSConnected(true)
	n := atomic.AddInt64(&l.sessions, 1)
	l.logger.Info("rfq.stream_connected", zap.Int64("session", n))

	// 断线期间可能错过 quote_* 事件，重连后先对账一次
	if n > 1 {
		l.manager.safely("reconcile", "", func() { l.manager.CheckActive(ctx) })
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go l.keepalive(conn, pingDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if worker.Stopping(ctx, stop) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		l.handleFrame(ctx, data)
	}
}

// keepalive 定时发送文本 ping；连接已关闭时退出并关闭连接以触发重连
func (l *StreamListener) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			if err == nil {
				continue
			}
			if isClosedConnErr(err) {
				l.logger.Info("rfq.keepalive_stopped", zap.Error(err))
				_ = conn.Close()
				return
			}
			l.logger.Warn("rfq.keepalive_error", zap.Error(err))
		}
	}
}

func (l *StreamListener) sweepLoop(ctx context.Context, stop <-chan struct{}) {
	for worker.Sleep(ctx, stop, l.cfg.SweepInterval) {
		l.manager.ExpireStale(ctx)
	}
}

func (l *StreamListener) handleFrame(ctx context.Context, data []byte) {
	text := strings.TrimSpace(string(data))
	if l.cfg.LogRawMessages {
		l.logger.Debug("rfq.stream_raw", zap.String("frame", text))
	}
	if text == "" || strings.EqualFold(text, "pong") || strings.EqualFold(text, "ping") {
		return
	}

	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		l.logger.Debug("rfq.stream_non_json", zap.Error(err))
		return
	}
	if env.Topic == "" || env.Type == "" {
		l.logger.Debug("rfq.stream_missing_topic", zap.String("frame", text))
		return
	}
	if env.Topic != rfqTopic {
		return
	}

	switch {
	case strings.HasPrefix(env.Type, "request_"):
		req, err := order.DecodeRequest(env.Payload)
		if err != nil {
			l.logger.Debug("rfq.stream_bad_request", zap.String("type", env.Type), zap.Error(err))
			return
		}
		outcome := l.manager.HandleRequest(ctx, req)
		l.logger.Info("rfq.stream_request",
			zap.String("type", env.Type),
			zap.String("request_id", req.RequestID),
			zap.String("token", req.Token),
			zap.String("outcome", string(outcome)))
	case strings.HasPrefix(env.Type, "quote_"):
		evt, err := order.DecodeRemoteQuote(env.Payload)
		if err != nil {
			l.logger.Debug("rfq.stream_bad_quote", zap.String("type", env.Type), zap.Error(err))
			return
		}
		l.logger.Info("rfq.stream_quote",
			zap.String("type", env.Type),
			zap.String("quote_id", evt.QuoteID),
			zap.String("request_id", evt.RequestID),
			zap.String("state", evt.State))
		if evt.QuoteID == "" || evt.State == "" {
			return
		}
		l.manager.safely("quote_event", evt.QuoteID, func() {
			l.manager.ApplyRemoteState(ctx, evt.QuoteID, evt.State)
		})
	default:
		l.logger.Debug("rfq.stream_unhandled", zap.String("type", env.Type))
	}
}

func (l *StreamListener) setConn(c *websocket.Conn) {
	l.mu.Lock()
	l.conn = c
	l.mu.Unlock()
}

func (l *StreamListener) closeConn() {
	l.mu.Lock()
	c := l.conn
	l.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

func isClosedConnErr(err error) bool {
	var ce *websocket.CloseError
	return errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) || errors.As(err, &ce)
}
