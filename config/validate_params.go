package config

// ValidatePricing 校验可热更新的报价参数。
func ValidatePricing(p PricingConfig) error {
	if len(p.TokenMap) == 0 {
		return ErrMissingTokenMap
	}
	for token := range p.TokenMap {
		if token == "" {
			return ErrInvalid("pricing.tokenMap contains an empty token")
		}
	}
	if p.Spread < 0 || p.Spread >= 1 {
		return ErrInvalid("pricing.spread must be in [0, 1)")
	}
	if p.MaxQuoteSizeUSDC <= 0 {
		return ErrInvalid("pricing.maxQuoteSizeUSDC must be > 0")
	}
	if p.MaxExposureUSDC <= 0 {
		return ErrInvalid("pricing.maxExposureUSDC must be > 0")
	}
	if p.MaxOddsAge < 0 {
		return ErrInvalid("pricing.maxOddsAge must be >= 0")
	}
	return nil
}

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }
