package rfq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rfq-maker-go/market"
	"rfq-maker-go/order"
)

type approveCall struct {
	RequestID  string
	QuoteID    string
	Expiration time.Time
}

// fakeVenue 记录所有调用，结果可按测试需要设置
type fakeVenue struct {
	mu sync.Mutex

	pending    []order.Request
	pendingErr error

	submitted  []order.Quote
	submitErr  error
	noQuoteID  bool
	nextQuote  int
	submitHook func()

	remote       map[string]string // quote_id → state
	quotesErr    error
	quotesCalls  [][]string
	approveErr   error
	approveCalls []approveCall
	cancelErr    error
	cancelCalls  []string
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{remote: make(map[string]string)}
}

func (f *fakeVenue) PendingRequests(ctx context.Context, filter order.RequestFilter) ([]order.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]order.Request(nil), f.pending...), f.pendingErr
}

func (f *fakeVenue) SubmitQuote(ctx context.Context, requestID string, q order.Quote) (order.SubmitResult, error) {
	f.mu.Lock()
	hook := f.submitHook
	f.submitted = append(f.submitted, q)
	if f.submitErr != nil {
		f.mu.Unlock()
		return order.SubmitResult{}, f.submitErr
	}
	if f.noQuoteID {
		f.mu.Unlock()
		return order.SubmitResult{Error: "rejected"}, nil
	}
	f.nextQuote++
	id := fmt.Sprintf("q%d", f.nextQuote)
	f.remote[id] = RemoteActive
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return order.SubmitResult{QuoteID: id}, nil
}

func (f *fakeVenue) Quotes(ctx context.Context, requestIDs []string) ([]order.RemoteQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotesCalls = append(f.quotesCalls, append([]string(nil), requestIDs...))
	if f.quotesErr != nil {
		return nil, f.quotesErr
	}
	res := make([]order.RemoteQuote, 0, len(f.remote))
	for id, state := range f.remote {
		res = append(res, order.RemoteQuote{QuoteID: id, State: state})
	}
	return res, nil
}

func (f *fakeVenue) ApproveOrder(ctx context.Context, requestID, quoteID string, expiration time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approveCalls = append(f.approveCalls, approveCall{requestID, quoteID, expiration})
	return f.approveErr
}

func (f *fakeVenue) CancelQuote(ctx context.Context, quoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, quoteID)
	return f.cancelErr
}

func (f *fakeVenue) setRemote(quoteID, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote[quoteID] = state
}

func (f *fakeVenue) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

var errVenue = errors.New("venue unavailable")

// staticPrices 固定快照
type staticPrices struct {
	mu   sync.Mutex
	snap market.PriceSnapshot
}

func (s *staticPrices) Snapshot(string) market.PriceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make(market.PriceSnapshot, len(s.snap))
	for k, v := range s.snap {
		res[k] = v
	}
	return res
}
