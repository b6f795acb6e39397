package order

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrUnknownQuote 表示 quote_id 不在表中。
var ErrUnknownQuote = errors.New("unknown quote")

// Book 记录已挂出的报价（按 quote_id），是 active 工作集的唯一来源。
type Book struct {
	mu     sync.RWMutex
	sm     *StateMachine
	quotes map[string]Submission
}

func NewBook(sm *StateMachine) *Book {
	if sm == nil {
		sm = NewStateMachine()
	}
	return &Book{sm: sm, quotes: make(map[string]Submission)}
}

// Add 登记一条已拿到 quote_id 的记录。
func (b *Book) Add(s Submission) error {
	if s.QuoteID == "" {
		return errors.New("submission has no quote id")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.quotes[s.QuoteID]; exists {
		return errors.New("duplicate quote id " + s.QuoteID)
	}
	b.quotes[s.QuoteID] = s
	return nil
}

func (b *Book) Get(quoteID string) (Submission, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.quotes[quoteID]
	return s, ok
}

// Transition 原子地校验并修改状态，返回修改后的记录。
// 同一条记录只有一次进入终态的调用会成功，调用方据此保证 release 只发生一次。
func (b *Book) Transition(quoteID string, to Status, now time.Time) (Submission, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.quotes[quoteID]
	if !ok {
		return Submission{}, ErrUnknownQuote
	}
	if err := b.sm.ValidateTransition(s.Status, to); err != nil {
		return s, err
	}
	s.Status = to
	s.UpdatedAt = now
	if to == StatusCancelled {
		delete(b.quotes, quoteID)
	} else {
		b.quotes[quoteID] = s
	}
	return s, nil
}

// Active 返回所有 active 记录（拷贝，按创建时间排序）。
func (b *Book) Active() []Submission {
	return b.filter(func(s Submission) bool { return b.sm.IsActiveState(s.Status) })
}

// List 返回全部记录（拷贝，按创建时间排序）。
func (b *Book) List() []Submission {
	return b.filter(func(Submission) bool { return true })
}

// PruneFinal 删除 UpdatedAt 早于 cutoff 的终态记录，返回删除数量。
func (b *Book) PruneFinal(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, s := range b.quotes {
		if b.sm.IsFinalState(s.Status) && s.UpdatedAt.Before(cutoff) {
			delete(b.quotes, id)
			n++
		}
	}
	return n
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.quotes)
}

func (b *Book) filter(keep func(Submission) bool) []Submission {
	b.mu.RLock()
	res := make([]Submission, 0, len(b.quotes))
	for _, s := range b.quotes {
		if keep(s) {
			res = append(res, s)
		}
	}
	b.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].QuoteID < res[j].QuoteID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}
