package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"rfq-maker-go/order"
)

var testSecret = base64.URLEncoding.EncodeToString([]byte("super-secret-key"))

func newTestPoly(t *testing.T, handler http.HandlerFunc) *PolymarketClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewPolymarketClient(srv.URL, PolymarketCredentials{
		Address:    "0xabc",
		APIKey:     "key-1",
		Secret:     testSecret,
		Passphrase: "pass",
	})
	return c
}

func fixedClock(t *testing.T) {
	t.Helper()
	orig := timeNow
	timeNow = func() time.Time { return time.Unix(1_700_000_000, 0) }
	t.Cleanup(func() { timeNow = orig })
}

func TestSignL2(t *testing.T) {
	a, err := SignL2(testSecret, "1700000000", "POST", "/rfq/quote", `{"a":1}`)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	b, _ := SignL2(testSecret, "1700000000", "POST", "/rfq/quote", `{"a":1}`)
	if a != b || a == "" {
		t.Fatalf("signature should be deterministic")
	}
	c, _ := SignL2(testSecret, "1700000001", "POST", "/rfq/quote", `{"a":1}`)
	if c == a {
		t.Fatalf("timestamp must change signature")
	}
	if _, err := SignL2("!!not-base64!!", "1", "GET", "/", ""); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestPolymarketHeaders(t *testing.T) {
	fixedClock(t)
	c := newTestPoly(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		want, _ := SignL2(testSecret, "1700000000", r.Method, r.URL.Path, string(body))
		if r.Header.Get("POLY_SIGNATURE") != want {
			t.Errorf("signature mismatch")
		}
		if r.Header.Get("POLY_TIMESTAMP") != "1700000000" || r.Header.Get("POLY_ADDRESS") != "0xabc" ||
			r.Header.Get("POLY_API_KEY") != "key-1" || r.Header.Get("POLY_PASSPHRASE") != "pass" {
			t.Errorf("unexpected headers %v", r.Header)
		}
		w.Write([]byte(`{"quoteId":"q-1"}`))
	})

	res, err := c.SubmitQuote(context.Background(), "r-1", order.Quote{Token: "T1", Price: 0.53, Side: order.SideSell, Size: 10})
	if err != nil || res.QuoteID != "q-1" {
		t.Fatalf("unexpected submit result %+v %v", res, err)
	}
}

func TestPolymarketPendingRequests(t *testing.T) {
	c := newTestPoly(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathRFQRequests {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("state") != "active" || q.Get("markets") != "m1,m2" || q.Get("limit") != "50" {
			t.Errorf("unexpected query %v", q)
		}
		w.Write([]byte(`{"data":[
			{"requestId":"r-1","token":"T1","side":"BUY","sizeIn":"0","sizeOut":10000000,"market":"m1"},
			{"token":"T1","side":"BUY"},
			{"request_id":"r-2","token":"T2","side":"SELL","size_in":"5"}
		]}`))
	})

	reqs, err := c.PendingRequests(context.Background(), order.RequestFilter{Markets: []string{"m1", "m2"}, Limit: 50})
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(reqs) != 2 || reqs[0].RequestID != "r-1" || reqs[1].RequestID != "r-2" {
		t.Fatalf("unexpected requests %+v", reqs)
	}
}

func TestPolymarketSubmitRejected(t *testing.T) {
	c := newTestPoly(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"request expired"}`))
	})

	res, err := c.SubmitQuote(context.Background(), "r-1", order.Quote{Token: "T1", Price: 0.5, Side: order.SideBuy, Size: 1})
	if err != nil {
		t.Fatalf("rejection should not be a transport error: %v", err)
	}
	if res.QuoteID != "" || res.Error == "" {
		t.Fatalf("expected rejection, got %+v", res)
	}
}

func TestPolymarketSubmitNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestPoly(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if _, err := c.SubmitQuote(context.Background(), "r-1", order.Quote{Token: "T1", Price: 0.5, Side: order.SideBuy, Size: 1}); err == nil {
		t.Fatalf("expected error on 503")
	}
	if calls.Load() != 1 {
		t.Fatalf("submit must not retry, got %d calls", calls.Load())
	}
}

func TestPolymarketQuotes(t *testing.T) {
	c := newTestPoly(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("requestIds") != "r-1,r-2" {
			t.Errorf("unexpected query %v", r.URL.RawQuery)
		}
		w.Write([]byte(`{"data":[{"quoteId":"q-1","requestId":"r-1","state":"ACCEPTED"},{"quote_id":"q-2","request_id":"r-2","status":"EXPIRED"}]}`))
	})

	quotes, err := c.Quotes(context.Background(), []string{"r-1", "r-2"})
	if err != nil {
		t.Fatalf("quotes: %v", err)
	}
	if len(quotes) != 2 || quotes[0].State != "ACCEPTED" || quotes[1].QuoteID != "q-2" || quotes[1].State != "EXPIRED" {
		t.Fatalf("unexpected quotes %+v", quotes)
	}
}

func TestPolymarketApproveAndCancel(t *testing.T) {
	type call struct {
		method, path string
		body         map[string]any
	}
	var calls []call
	c := newTestPoly(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, call{r.Method, r.URL.Path, body})
		w.Write([]byte(`{}`))
	})

	exp := time.Unix(1_700_003_600, 0)
	if err := c.ApproveOrder(context.Background(), "r-1", "q-1", exp); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := c.CancelQuote(context.Background(), "q-2"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].method != http.MethodPost || calls[0].path != pathRFQApprove || calls[0].body["expiration"] != float64(1_700_003_600) {
		t.Fatalf("unexpected approve call %+v", calls[0])
	}
	if calls[1].method != http.MethodDelete || calls[1].path != pathRFQQuote || calls[1].body["quoteId"] != "q-2" {
		t.Fatalf("unexpected cancel call %+v", calls[1])
	}
}

func TestPolymarketMissingCredentials(t *testing.T) {
	c := NewPolymarketClient("http://127.0.0.1:1", PolymarketCredentials{APIKey: "k"})
	if err := c.CancelQuote(context.Background(), "q"); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}
