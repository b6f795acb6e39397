package market

import (
	"sync"
	"testing"
	"time"
)

func TestCacheUpdateMergesAndKeepsAbsent(t *testing.T) {
	c := NewCache([]string{"1.100"})
	t0 := time.Unix(1_700_000_000, 0)
	c.Update("1.100", map[int64]OddsUpdate{
		10: {Back: Price(2.0), Lay: Price(2.1), LastTraded: Price(2.02)},
		11: {Back: Price(3.0), Lay: Price(3.2)},
	}, t0)

	// 只带 back 的增量不应抹掉 lay，也不应影响 11
	t1 := t0.Add(time.Second)
	c.Update("1.100", map[int64]OddsUpdate{10: {Back: Price(1.9)}}, t1)

	snap := c.Snapshot("1.100")
	if got := snap[10]; got.Back != 1.9 || got.Lay != 2.1 || got.LastTraded != 2.02 || !got.ObservedAt.Equal(t1) {
		t.Fatalf("unexpected merged odds: %+v", got)
	}
	if got := snap[11]; got.Back != 3.0 || !got.ObservedAt.Equal(t0) {
		t.Fatalf("absent selection should be untouched: %+v", got)
	}
}

func TestCacheExplicitZeroClearsSide(t *testing.T) {
	c := NewCache([]string{"1.100"})
	c.Update("1.100", map[int64]OddsUpdate{10: {Back: Price(2.0), Lay: Price(2.1)}}, time.Now())
	c.Update("1.100", map[int64]OddsUpdate{10: {Lay: Price(0)}}, time.Now())
	if got := c.Snapshot("1.100")[10]; got.Lay != 0 || got.Back != 2.0 {
		t.Fatalf("lay should be cleared: %+v", got)
	}
}

func TestCacheSnapshotIsCopy(t *testing.T) {
	c := NewCache([]string{"1.100"})
	c.Update("1.100", map[int64]OddsUpdate{10: {Back: Price(2.0)}}, time.Now())
	snap := c.Snapshot("1.100")
	snap[10] = Odds{Back: 99}
	delete(snap, 10)
	if c.Snapshot("1.100")[10].Back != 2.0 {
		t.Fatalf("mutating a snapshot must not affect the cache")
	}

	held := c.Snapshot("1.100")
	c.Update("1.100", map[int64]OddsUpdate{10: {Back: Price(5.0)}}, time.Now())
	if held[10].Back != 2.0 {
		t.Fatalf("writers must not mutate a snapshot already handed out")
	}
}

func TestCacheDefaultSnapshot(t *testing.T) {
	single := NewCache([]string{"1.100"})
	single.Update("1.100", map[int64]OddsUpdate{10: {Back: Price(2.0)}}, time.Now())
	if len(single.Snapshot("")) != 1 {
		t.Fatalf("single market default snapshot should return that market")
	}

	multi := NewCache([]string{"1.100", "1.200"})
	multi.Update("1.100", map[int64]OddsUpdate{10: {Back: Price(2.0)}}, time.Now())
	multi.Update("1.200", map[int64]OddsUpdate{20: {Back: Price(4.0)}}, time.Now())
	merged := multi.Snapshot("")
	if len(merged) != 2 || merged[20].Back != 4.0 {
		t.Fatalf("multi market default snapshot should merge: %+v", merged)
	}

	// 同一 selection 出现在两个市场时保留配置中靠前的市场
	multi.Update("1.200", map[int64]OddsUpdate{10: {Back: Price(8.0)}}, time.Now())
	if got := multi.Snapshot(""); got[10].Back != 2.0 {
		t.Fatalf("later market must not overwrite selection 10: %+v", got[10])
	}
	if got := multi.Snapshot("1.200"); got[10].Back != 8.0 {
		t.Fatalf("explicit market snapshot should see its own odds: %+v", got[10])
	}
	all := multi.AllSnapshots()
	if len(all) != 2 || len(all["1.100"]) != 1 || len(all["1.200"]) != 2 {
		t.Fatalf("unexpected all snapshots: %+v", all)
	}
}

func TestCacheEmptyUpdateLeavesState(t *testing.T) {
	c := NewCache([]string{"1.100"})
	if n := c.Update("1.100", nil, time.Now()); n != 0 {
		t.Fatalf("expected no-op")
	}
	if _, ok := c.LastUpdate("1.100"); ok {
		t.Fatalf("empty update must not refresh timestamp")
	}
	if c.Staleness("1.100", time.Now()) < time.Hour {
		t.Fatalf("missing data should be reported as stale")
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache([]string{"1.100"})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			v := float64(i) + 1.5
			// 同一条记录的三个字段一起写，读者不能看到混合值
			c.Update("1.100", map[int64]OddsUpdate{10: {Back: Price(v), Lay: Price(v), LastTraded: Price(v)}}, time.Now())
		}(i)
		go func() {
			defer wg.Done()
			o := c.Snapshot("1.100")[10]
			if o.Back != o.Lay || o.Lay != o.LastTraded {
				t.Errorf("torn record: %+v", o)
			}
		}()
	}
	wg.Wait()
}
