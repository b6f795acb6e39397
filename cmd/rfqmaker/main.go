package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"rfq-maker-go/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	envFile := flag.String("envFile", ".env", "凭证 .env 文件，不存在则忽略")
	flag.Parse()

	// .env 不存在时静默忽略，MM_* 仍可来自进程环境
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("加载 %s 失败: %v", *envFile, err)
	}

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	lg := c.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		lg.LogError(err, "startup")
		_ = c.Stop()
		os.Exit(1)
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		lg.Warn("systemd.notify_failed", zap.Error(err))
	}

	watchdog := startWatchdog(ctx, c, lg.Logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	lg.Info("shutdown.signal", zap.String("signal", sig.String()))

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if watchdog != nil {
		watchdog.Stop()
	}
	// Stop 先停传输再停参考价，最后停状态接口；ctx 在之后才取消
	err = c.Stop()
	cancel()
	if err != nil {
		os.Exit(1)
	}
}

// startWatchdog systemd 开启 WatchdogSec 时，各循环仍在运行就发送 WATCHDOG=1；场所断线只记日志
func startWatchdog(ctx context.Context, c *container.Container, lg *zap.Logger) *time.Ticker {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval / 2)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.AliveCheck(); err != nil {
					lg.Warn("watchdog.not_alive", zap.Error(err))
					continue
				}
				if err := c.HealthCheck(); err != nil {
					lg.Info("watchdog.degraded", zap.Error(err))
				}
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
	return ticker
}
