package pricing

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rfq-maker-go/market"
	"rfq-maker-go/order"
)

const (
	MinPrice = 0.01
	MaxPrice = 0.99

	// 价格与数量统一保留 6 位小数
	pricePrecision = 6

	DefaultSpread           = 0.03
	DefaultMaxQuoteSizeUSDC = 100.0
	DefaultMaxExposureUSDC  = 1000.0
)

var ErrEmptyTokenMap = errors.New("token map must not be empty")

// Config 报价参数
type Config struct {
	TokenMap         map[string]int64 // token → 参考 selection
	Spread           float64
	MaxQuoteSizeUSDC float64
	MaxExposureUSDC  float64
	MaxOddsAge       time.Duration // 0 表示不检查
}

func (c Config) Validate() error {
	if len(c.TokenMap) == 0 {
		return ErrEmptyTokenMap
	}
	if c.Spread < 0 || c.Spread >= 1 {
		return fmt.Errorf("spread must be in [0,1), got %v", c.Spread)
	}
	if c.MaxQuoteSizeUSDC <= 0 {
		return fmt.Errorf("max quote size must be > 0, got %v", c.MaxQuoteSizeUSDC)
	}
	if c.MaxExposureUSDC <= 0 {
		return fmt.Errorf("max exposure must be > 0, got %v", c.MaxExposureUSDC)
	}
	if c.MaxOddsAge < 0 {
		return fmt.Errorf("max odds age must be >= 0, got %v", c.MaxOddsAge)
	}
	return nil
}

// Engine 把 RFQ 与参考价快照转换为有界报价，并持有敞口台账。
type Engine struct {
	mu           sync.Mutex
	cfg          Config
	openNotional float64
	logger       *zap.Logger
	now          func() time.Time
}

func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cloneConfig(cfg), logger: logger, now: time.Now}, nil
}

// UpdateConfig 热更新参数；已占用的敞口保持不变。
func (e *Engine) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cloneConfig(cfg)
	return nil
}

// Config 当前参数拷贝
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneConfig(e.cfg)
}

// Price 对单个请求定价，不修改台账；调用方提交成功后必须调用 Track。
func (e *Engine) Price(req order.Request, snap market.PriceSnapshot) Result {
	e.mu.Lock()
	cfg := e.cfg
	available := e.availableLocked()
	e.mu.Unlock()

	if req.Token == "" {
		return decline(ReasonMissingToken, "")
	}
	selection, ok := cfg.TokenMap[req.Token]
	if !ok {
		return decline(ReasonUnknownToken, req.Token)
	}
	odds, ok := snap[selection]
	if !ok {
		return decline(ReasonNoReference, fmt.Sprintf("selection %d", selection))
	}
	if cfg.MaxOddsAge > 0 && e.now().Sub(odds.ObservedAt) > cfg.MaxOddsAge {
		return decline(ReasonStaleReference, fmt.Sprintf("selection %d observed %s", selection, odds.ObservedAt.Format(time.RFC3339)))
	}
	mid, ok := Mid(odds.Back, odds.Lay)
	if !ok {
		return decline(ReasonNoMid, fmt.Sprintf("selection %d", selection))
	}
	requester, ok := order.ParseSide(req.Side)
	if !ok {
		return decline(ReasonBadSide, req.Side)
	}
	ourSide, price := ApplySpread(mid, requester, cfg.Spread)

	requested, err := RequestedSize(req, requester)
	if err != nil || !requested.IsPositive() {
		return decline(ReasonBadSize, fmt.Sprintf("side=%s size_in=%s size_out=%s", requester, req.SizeIn, req.SizeOut))
	}

	size := CapSize(requested, price, cfg.MaxQuoteSizeUSDC, available)
	if size <= 0 {
		return decline(ReasonNoCapacity, fmt.Sprintf("available=%.2f", available))
	}

	e.logger.Info("pricing.quoted",
		zap.String("request_id", req.RequestID),
		zap.String("token", req.Token),
		zap.Int64("selection", selection),
		zap.String("our_side", string(ourSide)),
		zap.Float64("price", price),
		zap.Float64("size", size),
		zap.Float64("mid", mid),
		zap.Float64("back", odds.Back),
		zap.Float64("lay", odds.Lay))

	return Result{Quote: order.Quote{Token: req.Token, Price: price, Side: ourSide, Size: size}}
}

// Track 提交成功后占用敞口
func (e *Engine) Track(notional float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openNotional += notional
}

// Release 终态时释放敞口，下限为 0
func (e *Engine) Release(notional float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openNotional = math.Max(0, e.openNotional-notional)
}

// OpenNotional 当前占用
func (e *Engine) OpenNotional() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openNotional
}

// AvailableExposure = max_exposure - open，下限为 0
func (e *Engine) AvailableExposure() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.availableLocked()
}

func (e *Engine) availableLocked() float64 {
	return math.Max(0, e.cfg.MaxExposureUSDC-e.openNotional)
}

// Mid 由十进制赔率得到隐含概率中值；只有一侧时取该侧。
func Mid(back, lay float64) (float64, bool) {
	switch {
	case back > 0 && lay > 0:
		return (1/back + 1/lay) / 2, true
	case back > 0:
		return 1 / back, true
	case lay > 0:
		return 1 / lay, true
	default:
		return 0, false
	}
}

// ApplySpread 请求方买则我方卖在 mid+s，请求方卖则我方买在 mid-s，结果钳制在 [0.01, 0.99]。
func ApplySpread(mid float64, requester order.Side, spread float64) (order.Side, float64) {
	raw := mid - spread
	if requester == order.SideBuy {
		raw = mid + spread
	}
	price := round6(decimal.NewFromFloat(raw))
	return requester.Opposite(), math.Max(MinPrice, math.Min(MaxPrice, price))
}

// RequestedSize 请求方买看 size_out，卖看 size_in。
func RequestedSize(req order.Request, requester order.Side) (decimal.Decimal, error) {
	if requester == order.SideBuy {
		return req.SizeOut.Tokens()
	}
	return req.SizeIn.Tokens()
}

// CapSize min(请求数量, 单笔上限/价格, 可用敞口/价格)
func CapSize(requested decimal.Decimal, price, maxQuoteUSDC, availableUSDC float64) float64 {
	if price <= 0 {
		return 0
	}
	p := decimal.NewFromFloat(price)
	size := decimal.Min(
		requested,
		decimal.NewFromFloat(maxQuoteUSDC).Div(p),
		decimal.NewFromFloat(availableUSDC).Div(p),
	)
	return round6(size)
}

func round6(d decimal.Decimal) float64 {
	return d.Round(pricePrecision).InexactFloat64()
}

func cloneConfig(c Config) Config {
	m := make(map[string]int64, len(c.TokenMap))
	for k, v := range c.TokenMap {
		m[k] = v
	}
	c.TokenMap = m
	return c
}
