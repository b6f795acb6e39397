package rfq

import (
	"context"
	"time"

	"go.uber.org/zap"

	"rfq-maker-go/internal/worker"
)

// DefaultPollInterval 轮询间隔
const DefaultPollInterval = 5 * time.Second

// PollListener 轮询传输：每个间隔执行一轮 Cycle，上一轮结束前不会开始下一轮。
type PollListener struct {
	manager  *Manager
	interval time.Duration
	logger   *zap.Logger
	loop     worker.Loop
}

func NewPollListener(m *Manager, interval, grace time.Duration, logger *zap.Logger) *PollListener {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollListener{
		manager:  m,
		interval: interval,
		logger:   logger,
		loop:     worker.Loop{Name: "rfq_poll", Grace: grace, Logger: logger},
	}
}

// Start 启动轮询
func (l *PollListener) Start(ctx context.Context) error {
	cfg := l.manager.Config()
	l.logger.Info("rfq.poll_start",
		zap.Duration("interval", l.interval),
		zap.Duration("quote_ttl", cfg.QuoteTTL),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("approve_orders", cfg.ApproveOrders))
	return l.loop.Start(ctx, l.run)
}

// Stop 等待当前一轮结束（最长 grace），不会撤销未完结的报价
func (l *PollListener) Stop() error {
	err := l.loop.Stop()
	l.logger.Info("rfq.poll_stopped", zap.Int("active_quotes", l.manager.ActiveCount()))
	return err
}

// Health 运行中返回 nil
func (l *PollListener) Health() error {
	if !l.loop.Running() {
		return errNotRunning
	}
	return nil
}

func (l *PollListener) run(ctx context.Context, stop <-chan struct{}) {
	for {
		started := time.Now()
		l.manager.Cycle(ctx)
		l.logger.Debug("rfq.cycle_done", zap.Duration("took", time.Since(started)))
		if !worker.Sleep(ctx, stop, l.interval) {
			return
		}
	}
}
