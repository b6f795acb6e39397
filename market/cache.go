package market

import (
	"sync"
	"time"
)

// Cache 维护每个市场下各 selection 的最新赔率，读者拿到的永远是拷贝。
type Cache struct {
	mu      sync.RWMutex
	markets []string
	odds    map[string]map[int64]Odds
	last    map[string]time.Time
}

func NewCache(marketIDs []string) *Cache {
	c := &Cache{
		odds: make(map[string]map[int64]Odds),
		last: make(map[string]time.Time),
	}
	for _, id := range marketIDs {
		c.addMarketLocked(id)
	}
	return c
}

func (c *Cache) addMarketLocked(id string) {
	if _, ok := c.odds[id]; ok {
		return
	}
	c.markets = append(c.markets, id)
	c.odds[id] = make(map[int64]Odds)
}

// Markets 已知市场（配置顺序，之后出现的追加在末尾）。
func (c *Cache) Markets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.markets...)
}

// Update 合并写入，不删除本次未出现的 selection；只刷新出现的 selection 的时间戳。
func (c *Cache) Update(marketID string, updates map[int64]OddsUpdate, ts time.Time) int {
	if len(updates) == 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addMarketLocked(marketID)
	m := c.odds[marketID]
	for id, u := range updates {
		o := u.apply(m[id])
		o.ObservedAt = ts
		m[id] = o
	}
	c.last[marketID] = ts
	return len(updates)
}

// Snapshot 返回一个市场的拷贝。marketID 为空时：
// 单市场直接返回该市场；多市场按配置顺序合并，selection 冲突时保留先出现的市场，不覆盖。
func (c *Cache) Snapshot(marketID string) PriceSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if marketID != "" {
		return copyOdds(c.odds[marketID])
	}
	res := make(PriceSnapshot)
	for _, id := range c.markets {
		for sel, o := range c.odds[id] {
			if _, taken := res[sel]; taken {
				continue
			}
			res[sel] = o
		}
	}
	return res
}

// AllSnapshots market → snapshot
func (c *Cache) AllSnapshots() map[string]PriceSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make(map[string]PriceSnapshot, len(c.odds))
	for id, m := range c.odds {
		res[id] = copyOdds(m)
	}
	return res
}

// LastUpdate 最近一次写入时间
func (c *Cache) LastUpdate(marketID string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.last[marketID]
	return ts, ok
}

// Staleness 返回距离上次更新的时间间隔；如无数据返回一年。
func (c *Cache) Staleness(marketID string, now time.Time) time.Duration {
	ts, ok := c.LastUpdate(marketID)
	if !ok {
		return time.Hour * 24 * 365
	}
	return now.Sub(ts)
}

func copyOdds(m map[int64]Odds) PriceSnapshot {
	res := make(PriceSnapshot, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}
