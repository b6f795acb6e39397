package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultGrace 停止时等待当前周期结束的默认时长
const DefaultGrace = 5 * time.Second

var (
	ErrAlreadyRunning = errors.New("worker already running")
	ErrStopTimeout    = errors.New("worker did not exit after forced stop")
)

// RunFunc 在 stop 关闭或 ctx 取消后应尽快返回。
type RunFunc func(ctx context.Context, stop <-chan struct{})

// Loop 管理单个后台 goroutine 的协作式停止：
// 先关闭 stop 通道让当前周期自然结束，超过 Grace 仍未退出则取消 ctx。
type Loop struct {
	Name   string
	Grace  time.Duration
	Logger *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	cancel  context.CancelFunc
}

// Start 启动后台循环
func (l *Loop) Start(ctx context.Context, run RunFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	l.stopCh, l.doneCh, l.cancel = stopCh, doneCh, cancel
	l.running = true

	go func() {
		defer close(doneCh)
		defer cancel()
		run(runCtx, stopCh)
	}()
	return nil
}

// Stop 发送停止信号并等待退出
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	stopCh, doneCh, cancel := l.stopCh, l.doneCh, l.cancel
	l.mu.Unlock()

	close(stopCh)

	grace := l.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	select {
	case <-doneCh:
		return nil
	case <-time.After(grace):
	}

	l.logger().Warn("worker.force_stop", zap.String("worker", l.Name), zap.Duration("grace", grace))
	cancel()
	select {
	case <-doneCh:
		return nil
	case <-time.After(grace):
		return ErrStopTimeout
	}
}

// Running 是否在运行
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

// Sleep 等待 d；若期间收到停止信号或 ctx 结束返回 false。
func Sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}

// Stopping 非阻塞地检查停止信号
func Stopping(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}
