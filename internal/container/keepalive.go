package container

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"rfq-maker-go/infrastructure/alert"
	"rfq-maker-go/internal/worker"
)

var errKeeperStopped = errors.New("session keeper not running")

// sessionPinger *gateway.BetfairClient 满足
type sessionPinger interface {
	KeepAlive(ctx context.Context) error
}

// sessionKeeper 定期延长 Betfair 会话，失败时告警但不中断
type sessionKeeper struct {
	client   sessionPinger
	interval time.Duration
	alerts   alert.Alerter
	logger   *zap.Logger
	loop     worker.Loop
}

func newSessionKeeper(client sessionPinger, interval time.Duration, alerts alert.Alerter, logger *zap.Logger) *sessionKeeper {
	return &sessionKeeper{
		client:   client,
		interval: interval,
		alerts:   alerts,
		logger:   logger,
		loop:     worker.Loop{Name: "betfair_keepalive", Logger: logger},
	}
}

func (k *sessionKeeper) Start(ctx context.Context) error {
	return k.loop.Start(ctx, k.run)
}

func (k *sessionKeeper) Stop() error {
	return k.loop.Stop()
}

func (k *sessionKeeper) Health() error {
	if !k.loop.Running() {
		return errKeeperStopped
	}
	return nil
}

func (k *sessionKeeper) run(ctx context.Context, stop <-chan struct{}) {
	for worker.Sleep(ctx, stop, k.interval) {
		k.ping(ctx)
	}
}

func (k *sessionKeeper) ping(ctx context.Context) {
	if err := k.client.KeepAlive(ctx); err != nil {
		k.logger.Warn("betfair.keepalive_failed", zap.Error(err))
		if k.alerts != nil {
			_ = k.alerts.SendAlert(alert.Alert{
				Level:     alert.LevelWarning,
				Key:       "betfair:keepalive",
				Message:   "betfair session keep-alive failed",
				Timestamp: time.Now(),
				Fields:    map[string]interface{}{"error": err.Error()},
			})
		}
		return
	}
	k.logger.Debug("betfair.keepalive_ok")
}
