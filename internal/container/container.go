package container

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"rfq-maker-go/config"
	"rfq-maker-go/gateway"
	"rfq-maker-go/infrastructure/alert"
	"rfq-maker-go/infrastructure/logger"
	"rfq-maker-go/infrastructure/publisher"
	hotconfig "rfq-maker-go/internal/config"
	"rfq-maker-go/internal/pricing"
	"rfq-maker-go/internal/rfq"
	"rfq-maker-go/internal/status"
	"rfq-maker-go/market"
)

const serviceName = "rfq-maker"

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        config.AppConfig
	configPath string

	// 基础设施
	logger    *logger.Logger
	alerts    *alert.Manager
	publisher *publisher.Publisher

	// 场所客户端
	betfair *gateway.BetfairClient
	venue   *gateway.PolymarketClient

	// 核心服务
	engine   *pricing.Engine
	feed     market.Feed
	manager  *rfq.Manager
	listener Lifecycle

	status   *status.Server
	reloader *hotconfig.HotReloader

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 读取配置（含 MM_* 覆盖）并创建 Container
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, configPath), nil
}

// NewWithConfig 使用已加载的配置；configPath 为空时不启用热更新
func NewWithConfig(cfg config.AppConfig, configPath string) *Container {
	return &Container{
		cfg:        cfg,
		configPath: configPath,
		lifecycle:  NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	c.buildGateway()

	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	if err := c.registerLifecycleComponents(); err != nil {
		return err
	}
	c.logger.Info("container.built",
		zap.String("env", c.cfg.Env),
		zap.String("reference_mode", c.cfg.Reference.Mode),
		zap.String("rfq_mode", c.cfg.RFQ.Mode),
		zap.Bool("dry_run", c.cfg.RFQ.DryRun),
		zap.Strings("components", c.lifecycle.Names()))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.alerts = alert.NewManager(
		[]alert.Channel{alert.NewZapChannel("log", c.logger.Named("alert").Logger)},
		c.cfg.Alerts.ThrottleInterval,
	)
	c.logger.Info("alerts ready",
		zap.Strings("channels", c.alerts.GetChannels()),
		zap.Duration("throttle", c.cfg.Alerts.ThrottleInterval))

	if c.cfg.Events.NATSURL != "" {
		c.publisher, err = publisher.Connect(c.cfg.Events.NATSURL, c.cfg.Events.SubjectPrefix, serviceName, c.logger.Named("events").Logger)
		if err != nil {
			return fmt.Errorf("connect nats failed: %w", err)
		}
	}
	return nil
}

func (c *Container) buildGateway() {
	bf := c.cfg.Reference.Betfair
	c.betfair = gateway.NewBetfairClient(bf.AppKey, bf.SessionToken)
	if bf.RPCURL != "" {
		c.betfair.RPCURL = bf.RPCURL
	}
	if bf.KeepAliveURL != "" {
		c.betfair.KeepAliveURL = bf.KeepAliveURL
	}
	if bf.RateLimit > 0 {
		c.betfair.Limiter = gateway.NewTokenBucketLimiter(bf.RateLimit, int(bf.RateLimit)+1)
	}

	pm := c.cfg.Polymarket
	c.venue = gateway.NewPolymarketClient(pm.Host, gateway.PolymarketCredentials{
		Address:    pm.Address,
		APIKey:     pm.APIKey,
		Secret:     pm.APISecret,
		Passphrase: pm.Passphrase,
	})
	if pm.RateLimit > 0 {
		c.venue.Limiter = gateway.NewTokenBucketLimiter(pm.RateLimit, int(pm.RateLimit)+1)
	}
}

func (c *Container) buildCoreServices() error {
	var err error
	c.engine, err = pricing.NewEngine(c.cfg.Pricing.EngineConfig(), c.logger.Named("pricing").Logger)
	if err != nil {
		return fmt.Errorf("create engine failed: %w", err)
	}

	ref := c.cfg.Reference
	cache := market.NewCache(ref.MarketIDs)
	feedLog := c.logger.Named("reference").Logger
	switch ref.Mode {
	case config.ModeStream:
		stream := gateway.NewBetfairStream(ref.Betfair.AppKey, c.betfair.SessionToken, feedLog)
		if ref.Betfair.StreamAddr != "" {
			stream.Addr = ref.Betfair.StreamAddr
		}
		c.feed = market.NewStreamFeed(market.StreamFeedConfig{
			MarketIDs:      ref.MarketIDs,
			ReconnectDelay: ref.ReconnectDelay,
		}, stream, cache, feedLog)
	default:
		c.feed = market.NewPollFeed(market.PollFeedConfig{
			MarketIDs: ref.MarketIDs,
			Interval:  ref.PollInterval,
		}, c.betfair, cache, feedLog)
	}

	opts := []rfq.Option{rfq.WithAlerter(c.alerts)}
	if c.publisher != nil {
		opts = append(opts, rfq.WithEventSink(c.publisher))
	}
	c.manager = rfq.NewManager(c.cfg.ManagerConfig(), c.venue, c.engine, c.feed, c.logger.Named("rfq"), opts...)

	rfqLog := c.logger.Named("rfq").Logger
	switch c.cfg.RFQ.Mode {
	case config.ModeStream:
		s := c.cfg.RFQ.Stream
		c.listener = rfq.NewStreamListener(rfq.StreamConfig{
			URL:            s.URL,
			PingInterval:   s.PingInterval,
			ReconnectDelay: s.ReconnectDelay,
			SweepInterval:  s.SweepInterval,
			LogRawMessages: s.LogRawMessages,
		}, c.manager, rfqLog)
	default:
		c.listener = rfq.NewPollListener(c.manager, c.cfg.RFQ.PollInterval, 0, rfqLog)
	}
	return nil
}

// registerLifecycleComponents 注册顺序即启动顺序；停止时逆序：传输 → 参考价 → 状态接口
func (c *Container) registerLifecycleComponents() error {
	if c.cfg.Status.Addr != "" {
		c.status = status.New(c.cfg.Status.Addr, c.cfg, c.feed, c.manager, c.logger)
		c.lifecycle.Register("status_server", c.status)
	}

	if c.configPath != "" && c.cfg.HotReload.Enabled {
		var err error
		c.reloader, err = hotconfig.NewHotReloader(c.configPath, hotconfig.HotReloadConfig{
			Enabled:      true,
			CooldownTime: c.cfg.HotReload.Cooldown,
		}, nil, c.logger.Named("config").Logger)
		if err != nil {
			return fmt.Errorf("create hot reloader failed: %w", err)
		}
		c.reloader.RegisterApplier("pricing", hotconfig.PricingApplier{Target: c.engine})
		c.lifecycle.Register("hot_reload", reloaderComponent{c.reloader})
	}

	if c.cfg.Reference.Betfair.SessionToken != "" && c.cfg.Reference.Betfair.KeepAliveInterval > 0 {
		c.lifecycle.Register("betfair_keepalive", newSessionKeeper(
			c.betfair, c.cfg.Reference.Betfair.KeepAliveInterval, c.alerts, c.logger.Named("betfair").Logger))
	}

	c.lifecycle.Register("reference_feed", c.feed)
	c.lifecycle.Register("rfq_transport", c.listener)
	return nil
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("container.starting")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container.started")
	return nil
}

// Stop 逆序停止组件；未完结的报价不会撤销，留给场所按 TTL 处理
func (c *Container) Stop() error {
	c.logger.Info("container.stopping", zap.Int("active_quotes", c.manager.ActiveCount()))

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, "container.stop")
	}
	if c.publisher != nil {
		if cerr := c.publisher.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}

	c.logger.Info("container.stopped",
		zap.Float64("open_notional", c.engine.OpenNotional()),
		zap.Int("active_quotes", c.manager.ActiveCount()))
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// AliveCheck 供 systemd watchdog 使用，不受场所连接状态影响
func (c *Container) AliveCheck() error {
	return c.lifecycle.CheckAlive()
}

func (c *Container) Logger() *logger.Logger { return c.logger }
func (c *Container) Manager() *rfq.Manager { return c.manager }
func (c *Container) Feed() market.Feed { return c.feed }
func (c *Container) Status() *status.Server { return c.status }
func (c *Container) Config() config.AppConfig { return c.cfg }

// reloaderComponent 热更新器没有独立的健康状态
type reloaderComponent struct {
	*hotconfig.HotReloader
}

func (reloaderComponent) Health() error { return nil }
