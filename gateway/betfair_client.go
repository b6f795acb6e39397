package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"

	"rfq-maker-go/market"
)

const (
	DefaultBetfairRPCURL       = "https://api.betfair.com/exchange/betting/json-rpc/v1"
	DefaultBetfairKeepAliveURL = "https://identitysso.betfair.com/api/keepAlive"

	listMarketBookMethod = "SportsAPING/v1.0/listMarketBook"
)

// ErrBetfairAuth 会话失效或 keepAlive 被拒绝
var ErrBetfairAuth = errors.New("betfair session rejected")

// BetfairClient Betfair Exchange JSON-RPC 客户端，实现 market.BookFetcher。
type BetfairClient struct {
	RPCURL       string
	KeepAliveURL string
	AppKey       string
	HTTPClient   *http.Client
	Limiter      RateLimiter
	MaxRetries   uint64

	mu      sync.RWMutex
	session string
	reqID   atomic.Int64
}

func NewBetfairClient(appKey, sessionToken string) *BetfairClient {
	return &BetfairClient{
		RPCURL:       DefaultBetfairRPCURL,
		KeepAliveURL: DefaultBetfairKeepAliveURL,
		AppKey:       appKey,
		HTTPClient:   NewDefaultHTTPClient(),
		MaxRetries:   DefaultMaxRetries,
		session:      sessionToken,
	}
}

// SessionToken 当前会话；keepAlive 可能换发新 token。
func (c *BetfairClient) SessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *BetfairClient) SetSessionToken(token string) {
	c.mu.Lock()
	c.session = token
	c.mu.Unlock()
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *rpcError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("betfair rpc error %d %s: %s", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("betfair rpc error %d %s", e.Code, e.Message)
}

type listMarketBookParams struct {
	MarketIDs       []string        `json:"marketIds"`
	PriceProjection priceProjection `json:"priceProjection"`
}

type priceProjection struct {
	PriceData []string `json:"priceData"`
}

type priceSize struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type marketBookWire struct {
	MarketID string `json:"marketId"`
	Runners  []struct {
		SelectionID     int64   `json:"selectionId"`
		LastPriceTraded float64 `json:"lastPriceTraded"`
		Ex              struct {
			AvailableToBack []priceSize `json:"availableToBack"`
			AvailableToLay  []priceSize `json:"availableToLay"`
		} `json:"ex"`
	} `json:"runners"`
}

// FetchBooks listMarketBook，只取最优一档。
func (c *BetfairClient) FetchBooks(ctx context.Context, marketIDs []string) ([]market.MarketBook, error) {
	if len(marketIDs) == 0 {
		return nil, nil
	}
	params := listMarketBookParams{
		MarketIDs:       marketIDs,
		PriceProjection: priceProjection{PriceData: []string{"EX_BEST_OFFERS", "EX_TRADED"}},
	}
	var wire []marketBookWire
	if err := c.call(ctx, listMarketBookMethod, params, &wire); err != nil {
		return nil, err
	}

	books := make([]market.MarketBook, 0, len(wire))
	for _, mb := range wire {
		book := market.MarketBook{MarketID: mb.MarketID}
		for _, r := range mb.Runners {
			rb := market.RunnerBook{SelectionID: r.SelectionID, LastTraded: r.LastPriceTraded}
			if len(r.Ex.AvailableToBack) > 0 {
				rb.BestBack = r.Ex.AvailableToBack[0].Price
			}
			if len(r.Ex.AvailableToLay) > 0 {
				rb.BestLay = r.Ex.AvailableToLay[0].Price
			}
			book.Runners = append(book.Runners, rb)
		}
		books = append(books, book)
	}
	return books, nil
}

// call 发送一次 JSON-RPC 调用；网络错误和 5xx 会按退避重试。
func (c *BetfairClient) call(ctx context.Context, method string, params any, out any) error {
	op := "betfair." + method[strings.LastIndex(method, "/")+1:]
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.reqID.Add(1),
	})
	if err != nil {
		return err
	}

	var resp rpcResponse
	attempt := func() error {
		if err := waitLimiter(ctx, c.Limiter); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RPCURL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		c.authHeaders(req)
		req.Header.Set("Content-Type", "application/json")
		resp = rpcResponse{}
		return permanentUnlessTemporary(doJSON(c.httpClient(), req, op, &resp))
	}
	if err := backoff.Retry(attempt, retryPolicy(ctx, c.MaxRetries)); err != nil {
		return err
	}

	if resp.Error != nil {
		return resp.Error
	}
	if exc := resultException(resp.Result); exc != "" {
		return fmt.Errorf("%s exception: %s", op, exc)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s decode result: %w", op, err)
	}
	return nil
}

// resultException result 是对象且带 exception 时返回其内容
func resultException(result json.RawMessage) string {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ""
	}
	var obj struct {
		Exception json.RawMessage `json:"exception"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil || len(obj.Exception) == 0 || string(obj.Exception) == "null" {
		return ""
	}
	return string(obj.Exception)
}

type keepAliveResponse struct {
	Token  string `json:"token"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// KeepAlive 延长会话有效期，成功时采用返回的新 token。
func (c *BetfairClient) KeepAlive(ctx context.Context) error {
	if err := waitLimiter(ctx, c.Limiter); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.KeepAliveURL, nil)
	if err != nil {
		return err
	}
	c.authHeaders(req)

	var res keepAliveResponse
	if err := doJSON(c.httpClient(), req, "betfair.keepAlive", &res); err != nil {
		return err
	}
	if !strings.EqualFold(res.Status, "SUCCESS") {
		return fmt.Errorf("%w: %s %s", ErrBetfairAuth, res.Status, res.Error)
	}
	if res.Token != "" {
		c.SetSessionToken(res.Token)
	}
	return nil
}

func (c *BetfairClient) authHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Application", c.AppKey)
	req.Header.Set("X-Authentication", c.SessionToken())
}

func (c *BetfairClient) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return NewDefaultHTTPClient()
	}
	return c.HTTPClient
}
