package pricing

import "rfq-maker-go/order"

// Reason 拒绝报价的原因；不是错误。
type Reason string

const (
	ReasonMissingToken   Reason = "missing_token"
	ReasonUnknownToken   Reason = "unknown_token"
	ReasonNoReference    Reason = "no_reference_price"
	ReasonStaleReference Reason = "stale_reference"
	ReasonNoMid          Reason = "no_mid"
	ReasonBadSide        Reason = "unrecognized_side"
	ReasonBadSize        Reason = "invalid_size"
	ReasonNoCapacity     Reason = "no_capacity"
)

// Result 定价结果：Reason 为空表示已定价。
type Result struct {
	Quote  order.Quote
	Reason Reason
	Detail string
}

func (r Result) Priced() bool {
	return r.Reason == ""
}

func decline(reason Reason, detail string) Result {
	return Result{Reason: reason, Detail: detail}
}
