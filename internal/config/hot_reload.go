package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	appconfig "rfq-maker-go/config"
	"rfq-maker-go/internal/pricing"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免频繁更新
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 2 * time.Second,
	}
}

// Loader 读取并校验配置文件
type Loader func(path string) (appconfig.AppConfig, error)

// ParameterApplier 参数应用器接口
type ParameterApplier interface {
	ApplyConfig(cfg appconfig.AppConfig) error
}

// PricingUpdater 可热更新报价参数的组件（*pricing.Engine 满足）
type PricingUpdater interface {
	UpdateConfig(cfg pricing.Config) error
}

// PricingApplier 把 spread / 限额 / token 映射推给报价引擎
type PricingApplier struct {
	Target PricingUpdater
}

func (a PricingApplier) ApplyConfig(cfg appconfig.AppConfig) error {
	if err := appconfig.ValidatePricing(cfg.Pricing); err != nil {
		return err
	}
	return a.Target.UpdateConfig(cfg.Pricing.EngineConfig())
}

// HotReloader 配置热更新器
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	load       Loader
	appliers   map[string]ParameterApplier
	lastReload time.Time
	reloads    int
	started    bool
	logger     *zap.Logger
	mu         sync.RWMutex
	stopChan   chan struct{}
	doneChan   chan struct{}
	stopOnce   sync.Once
}

// NewHotReloader 创建热更新器；load 为 nil 时使用 LoadWithEnvOverrides。
func NewHotReloader(configPath string, cfg HotReloadConfig, load Loader, logger *zap.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if load == nil {
		load = appconfig.LoadWithEnvOverrides
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		abs = configPath
	}

	return &HotReloader{
		config:     cfg,
		configPath: filepath.Clean(abs),
		watcher:    watcher,
		load:       load,
		appliers:   make(map[string]ParameterApplier),
		logger:     logger,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// RegisterApplier 注册参数应用器
func (h *HotReloader) RegisterApplier(name string, applier ParameterApplier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appliers[name] = applier
}

// Start 启动热更新监听
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}

	// 监听目录：编辑器常用 rename 替换文件，直接监听文件会丢事件
	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	go h.watch(ctx)

	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	h.stopOnce.Do(func() { close(h.stopChan) })

	h.mu.RLock()
	started := h.started
	h.mu.RUnlock()
	if started {
		// 等待 goroutine 结束（带超时）
		select {
		case <-h.doneChan:
		case <-time.After(1 * time.Second):
		}
	}

	return h.watcher.Close()
}

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.configPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := h.Reload(); err != nil && !errors.Is(err, errCooldown) {
					h.logger.Warn("config.reload_rejected", zap.String("path", h.configPath), zap.Error(err))
				}
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			// 记录错误但继续监听
			h.logger.Warn("config.watcher_error", zap.Error(err))
		}
	}
}

var errCooldown = errors.New("reload skipped during cooldown")

// Reload 重新加载配置并依次应用；加载或校验失败时旧参数保持生效。
func (h *HotReloader) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	// 检查冷却时间
	if !h.lastReload.IsZero() && time.Since(h.lastReload) < h.config.CooldownTime {
		return errCooldown
	}

	cfg, err := h.load(h.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	names := make([]string, 0, len(h.appliers))
	for name := range h.appliers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.appliers[name].ApplyConfig(cfg); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}

	h.lastReload = time.Now()
	h.reloads++
	h.logger.Info("config.reloaded",
		zap.String("path", h.configPath),
		zap.Strings("appliers", names),
		zap.Int("reload_count", h.reloads),
		zap.Float64("spread", cfg.Pricing.Spread),
		zap.Float64("max_quote_usdc", cfg.Pricing.MaxQuoteSizeUSDC),
		zap.Float64("max_exposure_usdc", cfg.Pricing.MaxExposureUSDC),
		zap.Int("tokens", len(cfg.Pricing.TokenMap)))
	return nil
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReload
}

// ReloadCount 成功重载次数
func (h *HotReloader) ReloadCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reloads
}
