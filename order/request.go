package order

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// TokenDecimals conditional token 与 USDC 都是 6 位小数。
const TokenDecimals = 6

var (
	baseUnitThreshold = decimal.New(1, TokenDecimals)

	// ErrInvalidAmount 数量缺失或不是数字
	ErrInvalidAmount = errors.New("invalid amount")
)

// Request 一条待报价的 RFQ（side 为请求方视角，原样保留以便引擎校验）。
type Request struct {
	RequestID string          `json:"request_id"`
	Token     string          `json:"token"`
	Side      string          `json:"side"`
	SizeIn    Amount          `json:"size_in"`
	SizeOut   Amount          `json:"size_out"`
	Market    string          `json:"market,omitempty"`
	Expiry    int64           `json:"expiry,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// Amount 保留数量字段的线上形态（JSON 数字或字符串）。
// 同样是 50000000，数字和不带小数点的字符串按 base units 处理，"50000000.0" 按人类数量处理。
type Amount struct {
	raw    string
	quoted bool
}

// NumberAmount 构造数字形态的数量。
func NumberAmount(v float64) Amount {
	return Amount{raw: strconv.FormatFloat(v, 'f', -1, 64)}
}

// StringAmount 构造字符串形态的数量。
func StringAmount(s string) Amount {
	return Amount{raw: strings.TrimSpace(s), quoted: true}
}

func (a Amount) IsZero() bool { return a.raw == "" }

func (a Amount) String() string { return a.raw }

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*a = Amount{}
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*a = StringAmount(str)
		return nil
	}
	*a = Amount{raw: s}
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if a.raw == "" {
		return []byte("null"), nil
	}
	if a.quoted {
		return json.Marshal(a.raw)
	}
	return []byte(a.raw), nil
}

// Tokens 换算为人类可读的 token 数量。
// 启发式：数值 ≥ 10^6 视为 base units 并除以 10^6；带小数点的字符串一律视为已换算。
// 边界附近（例如 999999 个 token 与 0.999999 个 token）无法区分，这是已知的误判风险。
func (a Amount) Tokens() (decimal.Decimal, error) {
	if a.raw == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(a.raw)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	base := value.GreaterThanOrEqual(baseUnitThreshold)
	if a.quoted && strings.Contains(a.raw, ".") {
		base = false
	}
	if base {
		return value.Shift(-TokenDecimals), nil
	}
	return value, nil
}

// RequestFilter 拉取待报价 RFQ 的过滤条件。
type RequestFilter struct {
	Markets []string
	Tokens  []string
	Limit   int
}

// SubmitResult 提交报价的返回，QuoteID 为空即视为失败。
type SubmitResult struct {
	QuoteID string
	Error   string
}

// RemoteQuote 报价在场所一侧的状态。
type RemoteQuote struct {
	QuoteID   string `json:"quote_id"`
	RequestID string `json:"request_id"`
	State     string `json:"state"`
}
