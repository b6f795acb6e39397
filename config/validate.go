package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingTokenMap token 映射为空时无法报价
var ErrMissingTokenMap = errors.New("pricing.tokenMap is required (or MM_TOKEN_MAP)")

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	if err := ValidatePricing(cfg.Pricing); err != nil {
		return err
	}
	if err := validateMode("reference.mode", cfg.Reference.Mode); err != nil {
		return err
	}
	if err := validateMode("rfq.mode", cfg.RFQ.Mode); err != nil {
		return err
	}
	if len(cfg.Reference.MarketIDs) == 0 {
		return ErrInvalid("reference.marketIds is required")
	}
	if cfg.Reference.ReferenceMarket == "" && len(cfg.Reference.MarketIDs) > 1 {
		return ErrInvalid("reference.referenceMarket is required when more than one market is configured")
	}
	if cfg.Reference.ReferenceMarket != "" && !contains(cfg.Reference.MarketIDs, cfg.Reference.ReferenceMarket) {
		return fmt.Errorf("reference.referenceMarket %s not in reference.marketIds", cfg.Reference.ReferenceMarket)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"reference.pollInterval", cfg.Reference.PollInterval},
		{"reference.reconnectDelay", cfg.Reference.ReconnectDelay},
		{"reference.betfair.keepAliveInterval", cfg.Reference.Betfair.KeepAliveInterval},
		{"rfq.pollInterval", cfg.RFQ.PollInterval},
		{"rfq.quoteTTL", cfg.RFQ.QuoteTTL},
		{"rfq.orderExpiration", cfg.RFQ.OrderExpiration},
		{"rfq.filledRetention", cfg.RFQ.FilledRetention},
		{"rfq.stream.pingInterval", cfg.RFQ.Stream.PingInterval},
		{"rfq.stream.reconnectDelay", cfg.RFQ.Stream.ReconnectDelay},
		{"rfq.stream.sweepInterval", cfg.RFQ.Stream.SweepInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be > 0", d.name)
		}
	}
	if cfg.RFQ.RequestLimit < 0 {
		return ErrInvalid("rfq.requestLimit must be >= 0")
	}
	if cfg.RFQ.Mode == ModeStream && cfg.RFQ.Stream.URL == "" {
		return ErrInvalid("rfq.stream.url is required in stream mode")
	}
	if cfg.Alerts.ThrottleInterval < 0 {
		return ErrInvalid("alerts.throttleInterval must be >= 0")
	}

	if !cfg.RFQ.DryRun {
		if cfg.Reference.Betfair.AppKey == "" || cfg.Reference.Betfair.SessionToken == "" {
			return ErrInvalid("reference.betfair.appKey/sessionToken is required (or env overrides)")
		}
		p := cfg.Polymarket
		if p.APIKey == "" || p.APISecret == "" || p.Passphrase == "" || p.Address == "" {
			return ErrInvalid("polymarket apiKey/apiSecret/passphrase/address is required (or env overrides)")
		}
	}
	return nil
}

func validateMode(name, mode string) error {
	switch mode {
	case ModePoll, ModeStream:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", name, ModePoll, ModeStream, mode)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
