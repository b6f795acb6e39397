package market

import "time"

// Odds 单个 selection 的最新赔率（十进制赔率），0 表示该侧没有报价。
type Odds struct {
	Back       float64   `json:"back,omitempty"`
	Lay        float64   `json:"lay,omitempty"`
	LastTraded float64   `json:"last_traded,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// PriceSnapshot selectionID → odds 的时点拷贝。
type PriceSnapshot map[int64]Odds

// OddsUpdate 一次写入；nil 字段表示本次未携带，保留旧值。
type OddsUpdate struct {
	Back       *float64
	Lay        *float64
	LastTraded *float64
}

// Price 便于构造 OddsUpdate。
func Price(v float64) *float64 {
	return &v
}

func (u OddsUpdate) apply(o Odds) Odds {
	if u.Back != nil {
		o.Back = *u.Back
	}
	if u.Lay != nil {
		o.Lay = *u.Lay
	}
	if u.LastTraded != nil {
		o.LastTraded = *u.LastTraded
	}
	return o
}

// RunnerBook fetch_book 返回的单个 selection（完整值，0 表示缺失）。
type RunnerBook struct {
	SelectionID int64
	BestBack    float64
	BestLay     float64
	LastTraded  float64
}

// MarketBook 一个市场的完整盘口。
type MarketBook struct {
	MarketID string
	Runners  []RunnerBook
}

// Updates 完整盘口覆盖所有字段。
func (b MarketBook) Updates() map[int64]OddsUpdate {
	res := make(map[int64]OddsUpdate, len(b.Runners))
	for _, r := range b.Runners {
		res[r.SelectionID] = OddsUpdate{
			Back:       Price(r.BestBack),
			Lay:        Price(r.BestLay),
			LastTraded: Price(r.LastTraded),
		}
	}
	return res
}

// RunnerDelta 推送流中的增量。
type RunnerDelta struct {
	SelectionID int64
	Back        *float64
	Lay         *float64
	LastTraded  *float64
}

// Delta 一个市场的一批增量。
type Delta struct {
	MarketID    string
	PublishTime time.Time
	Runners     []RunnerDelta
}

// Updates 增量只覆盖携带的字段。
func (d Delta) Updates() map[int64]OddsUpdate {
	res := make(map[int64]OddsUpdate, len(d.Runners))
	for _, r := range d.Runners {
		u := res[r.SelectionID]
		if r.Back != nil {
			u.Back = r.Back
		}
		if r.Lay != nil {
			u.Lay = r.Lay
		}
		if r.LastTraded != nil {
			u.LastTraded = r.LastTraded
		}
		res[r.SelectionID] = u
	}
	return res
}
