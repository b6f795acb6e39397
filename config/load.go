package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rfq-maker-go/infrastructure/logger"
	"rfq-maker-go/internal/pricing"
	"rfq-maker-go/internal/rfq"
)

// 参考价 / RFQ 传输方式
const (
	ModePoll   = "poll"
	ModeStream = "stream"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env        string           `yaml:"env"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Reference  ReferenceConfig  `yaml:"reference"`
	RFQ        RFQConfig        `yaml:"rfq"`
	Polymarket PolymarketConfig `yaml:"polymarket"`
	Events     EventsConfig     `yaml:"events"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Status     StatusConfig     `yaml:"status"`
	HotReload  HotReloadConfig  `yaml:"hotReload"`
	Log        logger.Config    `yaml:"log"`
}

// PricingConfig 报价参数，可热更新。
type PricingConfig struct {
	TokenMap         map[string]int64 `yaml:"tokenMap"` // Polymarket token → Betfair selection
	Spread           float64          `yaml:"spread"`
	MaxQuoteSizeUSDC float64          `yaml:"maxQuoteSizeUSDC"`
	MaxExposureUSDC  float64          `yaml:"maxExposureUSDC"`
	MaxOddsAge       time.Duration    `yaml:"maxOddsAge"` // 0 表示不检查
}

type ReferenceConfig struct {
	Mode            string        `yaml:"mode"`
	MarketIDs       []string      `yaml:"marketIds"`
	ReferenceMarket string        `yaml:"referenceMarket"` // 多市场时必填
	PollInterval    time.Duration `yaml:"pollInterval"`
	ReconnectDelay  time.Duration `yaml:"reconnectDelay"`
	Betfair         BetfairConfig `yaml:"betfair"`
}

type BetfairConfig struct {
	AppKey            string        `yaml:"appKey"`
	SessionToken      string        `yaml:"sessionToken"`
	RPCURL            string        `yaml:"rpcURL"`
	KeepAliveURL      string        `yaml:"keepAliveURL"`
	StreamAddr        string        `yaml:"streamAddr"`
	KeepAliveInterval time.Duration `yaml:"keepAliveInterval"`
	RateLimit         float64       `yaml:"rateLimit"` // 每秒请求数
}

type RFQConfig struct {
	Mode            string          `yaml:"mode"`
	Markets         []string        `yaml:"markets"`
	RequestLimit    int             `yaml:"requestLimit"`
	PollInterval    time.Duration   `yaml:"pollInterval"`
	QuoteTTL        time.Duration   `yaml:"quoteTTL"`
	OrderExpiration time.Duration   `yaml:"orderExpiration"`
	FilledRetention time.Duration   `yaml:"filledRetention"`
	DryRun          bool            `yaml:"dryRun"`
	ApproveOrders   bool            `yaml:"approveOrders"`
	Stream          RFQStreamConfig `yaml:"stream"`
}

type RFQStreamConfig struct {
	URL            string        `yaml:"url"`
	PingInterval   time.Duration `yaml:"pingInterval"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay"`
	SweepInterval  time.Duration `yaml:"sweepInterval"`
	LogRawMessages bool          `yaml:"logRawMessages"`
}

type PolymarketConfig struct {
	Host       string  `yaml:"host"`
	APIKey     string  `yaml:"apiKey"`
	APISecret  string  `yaml:"apiSecret"`
	Passphrase string  `yaml:"passphrase"`
	Address    string  `yaml:"address"`
	RateLimit  float64 `yaml:"rateLimit"`
}

type EventsConfig struct {
	NATSURL       string `yaml:"natsURL"` // 为空则不发布
	SubjectPrefix string `yaml:"subjectPrefix"`
}

type AlertsConfig struct {
	ThrottleInterval time.Duration `yaml:"throttleInterval"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"` // 为空则不启动
}

type HotReloadConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// Default 返回默认配置；Load 在其之上解析 YAML。
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Pricing: PricingConfig{
			Spread:           pricing.DefaultSpread,
			MaxQuoteSizeUSDC: pricing.DefaultMaxQuoteSizeUSDC,
			MaxExposureUSDC:  pricing.DefaultMaxExposureUSDC,
		},
		Reference: ReferenceConfig{
			Mode:           ModePoll,
			PollInterval:   10 * time.Second,
			ReconnectDelay: 5 * time.Second,
			Betfair: BetfairConfig{
				KeepAliveInterval: 20 * time.Minute,
				RateLimit:         5,
			},
		},
		RFQ: RFQConfig{
			Mode:            ModePoll,
			PollInterval:    rfq.DefaultPollInterval,
			QuoteTTL:        rfq.DefaultQuoteTTL,
			OrderExpiration: rfq.DefaultOrderExpiration,
			FilledRetention: rfq.DefaultFilledRetention,
			DryRun:          true,
			Stream: RFQStreamConfig{
				URL:            rfq.DefaultRTDSURL,
				PingInterval:   rfq.DefaultPingInterval,
				ReconnectDelay: rfq.DefaultReconnectDelay,
				SweepInterval:  rfq.DefaultSweepInterval,
			},
		},
		Polymarket: PolymarketConfig{RateLimit: 10},
		Events:     EventsConfig{SubjectPrefix: "rfq"},
		Alerts:     AlertsConfig{ThrottleInterval: 5 * time.Minute},
		Status:     StatusConfig{Addr: ":8000"},
		HotReload:  HotReloadConfig{Enabled: true, Cooldown: 2 * time.Second},
		Log:        logger.DefaultConfig(),
	}
}

// Load reads YAML config from path on top of Default and validates it.
func Load(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

func parse(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv 用 MM_* 环境变量覆盖配置。
func ApplyEnv(cfg *AppConfig) error {
	if v := os.Getenv("MM_TOKEN_MAP"); v != "" {
		var m map[string]int64
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return fmt.Errorf("MM_TOKEN_MAP: %w", err)
		}
		cfg.Pricing.TokenMap = m
	}
	strs := []struct {
		env string
		dst *string
	}{
		{"MM_BETFAIR_APP_KEY", &cfg.Reference.Betfair.AppKey},
		{"MM_BETFAIR_SESSION_TOKEN", &cfg.Reference.Betfair.SessionToken},
		{"MM_POLY_API_KEY", &cfg.Polymarket.APIKey},
		{"MM_POLY_API_SECRET", &cfg.Polymarket.APISecret},
		{"MM_POLY_PASSPHRASE", &cfg.Polymarket.Passphrase},
		{"MM_POLY_ADDRESS", &cfg.Polymarket.Address},
	}
	for _, s := range strs {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		}
	}
	bools := []struct {
		env string
		dst *bool
	}{
		{"MM_RFQ_DRY_RUN", &cfg.RFQ.DryRun},
		{"MM_RFQ_APPROVE_ORDERS", &cfg.RFQ.ApproveOrders},
	}
	for _, b := range bools {
		v := strings.TrimSpace(os.Getenv(b.env))
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", b.env, err)
		}
		*b.dst = parsed
	}
	return nil
}

// EngineConfig 转换为报价引擎参数
func (p PricingConfig) EngineConfig() pricing.Config {
	tm := make(map[string]int64, len(p.TokenMap))
	for k, v := range p.TokenMap {
		tm[k] = v
	}
	return pricing.Config{
		TokenMap:         tm,
		Spread:           p.Spread,
		MaxQuoteSizeUSDC: p.MaxQuoteSizeUSDC,
		MaxExposureUSDC:  p.MaxExposureUSDC,
		MaxOddsAge:       p.MaxOddsAge,
	}
}

// ManagerConfig 转换为生命周期管理参数
func (c AppConfig) ManagerConfig() rfq.Config {
	return rfq.Config{
		Markets:         c.RFQ.Markets,
		ReferenceMarket: c.Reference.ReferenceMarket,
		QuoteTTL:        c.RFQ.QuoteTTL,
		DryRun:          c.RFQ.DryRun,
		ApproveOrders:   c.RFQ.ApproveOrders,
		OrderExpiration: c.RFQ.OrderExpiration,
		FilledRetention: c.RFQ.FilledRetention,
		RequestLimit:    c.RFQ.RequestLimit,
	}
}

const redacted = "***"

// Redacted 返回隐藏了凭证的副本，用于 /config 输出和日志。
func (c AppConfig) Redacted() AppConfig {
	out := c
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&out.Reference.Betfair.AppKey)
	mask(&out.Reference.Betfair.SessionToken)
	mask(&out.Polymarket.APIKey)
	mask(&out.Polymarket.APISecret)
	mask(&out.Polymarket.Passphrase)
	return out
}
