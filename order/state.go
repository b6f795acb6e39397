package order

import (
	"strings"
	"time"
)

// Status represents quote submission lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide 只接受 BUY/SELL（忽略大小写和首尾空白）。
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	default:
		return "", false
	}
}

// Opposite 返回对手方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Quote 报价引擎的输出，生成后不再修改。
type Quote struct {
	Token string  `json:"token"`
	Price float64 `json:"price"`
	Side  Side    `json:"side"` // 我方方向
	Size  float64 `json:"size"`
}

// Notional = price × size（USDC）。
func (q Quote) Notional() float64 {
	return q.Price * q.Size
}

// Submission holds one accepted pricing decision and its venue-side state.
type Submission struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Token     string    `json:"token"`
	Price     float64   `json:"price"`
	Side      Side      `json:"side"`
	Size      float64   `json:"size"`
	QuoteID   string    `json:"quote_id,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// NewSubmission 由报价生成一条 pending 记录。
func NewSubmission(id, requestID string, q Quote, now time.Time) Submission {
	return Submission{
		ID:        id,
		RequestID: requestID,
		Token:     q.Token,
		Price:     q.Price,
		Side:      q.Side,
		Size:      q.Size,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s Submission) Notional() float64 {
	return s.Price * s.Size
}

// Age 从 CreatedAt 起算。
func (s Submission) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}
