package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// msgPublisher *nats.Conn 满足该接口，测试里可替换
type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Envelope 生命周期事件外层
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type"`
	Service   string          `json:"service"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher 把报价生命周期事件发到 NATS，subject 为 <prefix>.quote.<event>
type Publisher struct {
	nc      msgPublisher
	conn    *nats.Conn
	prefix  string
	service string
	logger  *zap.Logger
}

// Connect 建立 NATS 连接
func Connect(url, prefix, service string, logger *zap.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(service),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	p := New(nc, prefix, service, logger)
	p.conn = nc
	return p, nil
}

// New 使用已有连接
func New(nc msgPublisher, prefix, service string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = "rfq"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, service: service, logger: logger}
}

// Subject 事件对应的 subject
func (p *Publisher) Subject(event string) string {
	return p.prefix + ".quote." + event
}

// PublishQuoteEvent 序列化并发布一条事件
func (p *Publisher) PublishQuoteEvent(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		ID:        uuid.New(),
		EventType: "quote." + event,
		Service:   p.service,
		Timestamp: time.Now().UTC(),
		Payload:   body,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := p.Subject(event)
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":   []string{env.EventType},
			"service":      []string{p.service},
			"content_type": []string{"application/json"},
		},
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		p.logger.Warn("publisher.publish_failed", zap.String("subject", subject), zap.Error(err))
		return err
	}
	p.logger.Debug("publisher.published", zap.String("subject", subject), zap.String("id", env.ID.String()))
	return nil
}

// Close 刷新并关闭连接
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		p.logger.Warn("publisher.flush_failed", zap.Error(err))
	}
	p.conn.Close()
	return nil
}
