package gateway

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"rfq-maker-go/market"
)

const (
	DefaultBetfairStreamAddr = "stream-api.betfair.com:443"

	defaultStreamHeartbeatMs = 5000
	maxStreamLine            = 8 << 20
)

// ErrStreamClosed 服务端主动关闭连接
var ErrStreamClosed = errors.New("betfair stream closed by server")

// BetfairStream Exchange Stream API 客户端（TLS 上的 CRLF 分隔 JSON），实现 market.BookSubscriber。
type BetfairStream struct {
	Addr        string
	AppKey      string
	Session     func() string
	HeartbeatMs int
	Dial        func(ctx context.Context, addr string) (net.Conn, error)
	Logger      *zap.Logger
}

func NewBetfairStream(appKey string, session func() string, logger *zap.Logger) *BetfairStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BetfairStream{
		Addr:        DefaultBetfairStreamAddr,
		AppKey:      appKey,
		Session:     session,
		HeartbeatMs: defaultStreamHeartbeatMs,
		Logger:      logger,
	}
}

type streamAuth struct {
	Op      string `json:"op"`
	ID      int    `json:"id"`
	AppKey  string `json:"appKey"`
	Session string `json:"session"`
}

type streamMarketSubscription struct {
	Op               string             `json:"op"`
	ID               int                `json:"id"`
	MarketFilter     streamMarketFilter `json:"marketFilter"`
	MarketDataFilter streamDataFilter   `json:"marketDataFilter"`
	HeartbeatMs      int                `json:"heartbeatMs,omitempty"`
}

type streamMarketFilter struct {
	MarketIDs []string `json:"marketIds"`
}

type streamDataFilter struct {
	Fields       []string `json:"fields"`
	LadderLevels int      `json:"ladderLevels"`
}

type streamMessage struct {
	Op               string         `json:"op"`
	ID               int            `json:"id"`
	StatusCode       string         `json:"statusCode"`
	ErrorCode        string         `json:"errorCode"`
	ErrorMessage     string         `json:"errorMessage"`
	ConnectionClosed bool           `json:"connectionClosed"`
	Ct               string         `json:"ct"`
	Pt               int64          `json:"pt"`
	Mc               []marketChange `json:"mc"`
}

type marketChange struct {
	ID  string         `json:"id"`
	Img bool           `json:"img"`
	Rc  []runnerChange `json:"rc"`
}

type runnerChange struct {
	ID   int64       `json:"id"`
	Batb [][]float64 `json:"batb"`
	Batl [][]float64 `json:"batl"`
	Ltp  *float64    `json:"ltp"`
}

// Subscribe 建连、认证、订阅，然后阻塞读取 mcm 消息直到出错或 ctx 结束。
func (s *BetfairStream) Subscribe(ctx context.Context, marketIDs []string, fields []string, handle func(market.Delta)) error {
	if len(fields) == 0 {
		fields = market.DefaultStreamFields
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("betfair stream dial: %w", err)
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	r := bufio.NewReaderSize(conn, 64<<10)
	// 第一条是 connection 消息
	if _, err := s.readMessage(r); err != nil {
		return s.ctxErr(ctx, err)
	}

	session := ""
	if s.Session != nil {
		session = s.Session()
	}
	if err := writeLine(conn, streamAuth{Op: "authentication", ID: 1, AppKey: s.AppKey, Session: session}); err != nil {
		return s.ctxErr(ctx, err)
	}
	if err := s.expectSuccess(r, "authentication"); err != nil {
		return s.ctxErr(ctx, err)
	}

	sub := streamMarketSubscription{
		Op:               "marketSubscription",
		ID:               2,
		MarketFilter:     streamMarketFilter{MarketIDs: marketIDs},
		MarketDataFilter: streamDataFilter{Fields: fields, LadderLevels: 1},
		HeartbeatMs:      s.HeartbeatMs,
	}
	if err := writeLine(conn, sub); err != nil {
		return s.ctxErr(ctx, err)
	}
	if err := s.expectSuccess(r, "marketSubscription"); err != nil {
		return s.ctxErr(ctx, err)
	}
	s.logger().Info("betfair.stream_subscribed", zap.Strings("markets", marketIDs))

	for {
		msg, err := s.readMessage(r)
		if err != nil {
			return s.ctxErr(ctx, err)
		}
		deltas, err := decodeStreamMessage(msg)
		if err != nil {
			return err
		}
		for _, d := range deltas {
			handle(d)
		}
	}
}

// expectSuccess 读到对应的 status 消息为止，中间的 mcm 丢弃
func (s *BetfairStream) expectSuccess(r *bufio.Reader, what string) error {
	for {
		msg, err := s.readMessage(r)
		if err != nil {
			return err
		}
		if msg.Op != "status" {
			continue
		}
		if msg.StatusCode != "SUCCESS" {
			return fmt.Errorf("betfair stream %s failed: %s %s", what, msg.ErrorCode, msg.ErrorMessage)
		}
		return nil
	}
}

func (s *BetfairStream) readMessage(r *bufio.Reader) (streamMessage, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return streamMessage{}, err
		}
		line = append(line, chunk...)
		if len(line) > maxStreamLine {
			return streamMessage{}, fmt.Errorf("betfair stream line exceeds %d bytes", maxStreamLine)
		}
		if isPrefix {
			continue
		}
		if len(strings.TrimSpace(string(line))) == 0 {
			line = line[:0]
			continue
		}
		var msg streamMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return streamMessage{}, fmt.Errorf("betfair stream decode: %w", err)
		}
		return msg, nil
	}
}

// decodeStreamMessage 把一条消息转换成增量；heartbeat 与非 mcm 消息返回空。
func decodeStreamMessage(msg streamMessage) ([]market.Delta, error) {
	switch msg.Op {
	case "status":
		if msg.StatusCode == "FAILURE" {
			return nil, fmt.Errorf("betfair stream failure: %s %s", msg.ErrorCode, msg.ErrorMessage)
		}
		if msg.ConnectionClosed {
			return nil, ErrStreamClosed
		}
		return nil, nil
	case "mcm":
	default:
		return nil, nil
	}
	if msg.Ct == "HEARTBEAT" {
		return nil, nil
	}

	var published time.Time
	if msg.Pt > 0 {
		published = time.UnixMilli(msg.Pt)
	}
	deltas := make([]market.Delta, 0, len(msg.Mc))
	for _, mc := range msg.Mc {
		if len(mc.Rc) == 0 {
			continue
		}
		d := market.Delta{MarketID: mc.ID, PublishTime: published}
		for _, rc := range mc.Rc {
			rd := market.RunnerDelta{SelectionID: rc.ID, LastTraded: rc.Ltp}
			rd.Back = bestLevel(rc.Batb)
			rd.Lay = bestLevel(rc.Batl)
			if rd.Back == nil && rd.Lay == nil && rd.LastTraded == nil {
				continue
			}
			d.Runners = append(d.Runners, rd)
		}
		if len(d.Runners) > 0 {
			deltas = append(deltas, d)
		}
	}
	return deltas, nil
}

// bestLevel 取 [level, price, size] 中 level 0 的价格；size 为 0 表示该档被清空。
func bestLevel(levels [][]float64) *float64 {
	for _, lv := range levels {
		if len(lv) < 3 || lv[0] != 0 {
			continue
		}
		if lv[2] == 0 {
			return market.Price(0)
		}
		return market.Price(lv[1])
	}
	return nil
}

func writeLine(conn net.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(b, '\r', '\n'))
	return err
}

func (s *BetfairStream) dial(ctx context.Context) (net.Conn, error) {
	if s.Dial != nil {
		return s.Dial(ctx, s.Addr)
	}
	host, _, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return nil, err
	}
	d := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 10 * time.Second},
		Config:    &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
	}
	return d.DialContext(ctx, "tcp", s.Addr)
}

// ctxErr ctx 结束导致的读写错误统一返回 ctx.Err()
func (s *BetfairStream) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *BetfairStream) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
