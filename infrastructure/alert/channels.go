package alert

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ZapChannel 把告警写入结构化日志
type ZapChannel struct {
	logger *zap.Logger
	name   string
}

// NewZapChannel 创建日志告警通道
func NewZapChannel(name string, logger *zap.Logger) *ZapChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapChannel{logger: logger, name: name}
}

// Send 按级别写日志
func (c *ZapChannel) Send(alert Alert) error {
	fields := make([]zap.Field, 0, len(alert.Fields)+3)
	fields = append(fields,
		zap.String("alert_level", string(alert.Level)),
		zap.String("alert_key", alert.Key),
		zap.Time("alert_ts", alert.Timestamp))
	for k, v := range alert.Fields {
		fields = append(fields, zap.Any(k, v))
	}

	switch alert.Level {
	case LevelInfo:
		c.logger.Info(alert.Message, fields...)
	case LevelWarning:
		c.logger.Warn(alert.Message, fields...)
	default:
		c.logger.Error(alert.Message, fields...)
	}
	return nil
}

// Name 返回通道名称
func (c *ZapChannel) Name() string {
	return c.name
}

// MockChannel 模拟告警通道（用于测试）
type MockChannel struct {
	name      string
	mu        sync.Mutex
	alerts    []Alert
	shouldErr bool
}

// NewMockChannel 创建模拟告警通道
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

// Send 记录告警
func (c *MockChannel) Send(alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return errors.New("mock error")
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

// Name 返回通道名称
func (c *MockChannel) Name() string {
	return c.name
}

// GetAlerts 获取所有接收到的告警（拷贝）
func (c *MockChannel) GetAlerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

// SetShouldError 设置是否返回错误
func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldErr = shouldErr
}

// Count 返回接收到的告警数量
func (c *MockChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}
