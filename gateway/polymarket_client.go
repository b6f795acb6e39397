package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"rfq-maker-go/order"
)

const DefaultPolymarketHost = "https://clob.polymarket.com"

const (
	pathRFQRequests = "/rfq/data/requests"
	pathRFQQuote    = "/rfq/quote"
	pathRFQQuotes   = "/rfq/data/quoter/quotes"
	pathRFQApprove  = "/rfq/quote/approve"
)

// ErrMissingCredentials L2 签名需要的字段不全
var ErrMissingCredentials = errors.New("polymarket credentials incomplete")

// 便于测试时 mock
var timeNow = time.Now

// PolymarketCredentials L2 API 凭证
type PolymarketCredentials struct {
	Address    string
	APIKey     string
	Secret     string
	Passphrase string
}

func (c PolymarketCredentials) complete() bool {
	return c.Address != "" && c.APIKey != "" && c.Secret != "" && c.Passphrase != ""
}

// PolymarketClient Polymarket RFQ REST 客户端。
// 只有 GET 会重试；提交、批准、撤销都不是幂等的，只发一次。
type PolymarketClient struct {
	Host       string
	Creds      PolymarketCredentials
	HTTPClient *http.Client
	Limiter    RateLimiter
	MaxRetries uint64
}

func NewPolymarketClient(host string, creds PolymarketCredentials) *PolymarketClient {
	if host == "" {
		host = DefaultPolymarketHost
	}
	return &PolymarketClient{
		Host:       strings.TrimRight(host, "/"),
		Creds:      creds,
		HTTPClient: NewDefaultHTTPClient(),
		MaxRetries: DefaultMaxRetries,
	}
}

type listEnvelope struct {
	Data []json.RawMessage `json:"data"`
}

// PendingRequests 拉取 active 状态的 RFQ。
func (c *PolymarketClient) PendingRequests(ctx context.Context, filter order.RequestFilter) ([]order.Request, error) {
	q := url.Values{}
	q.Set("state", "active")
	if len(filter.Markets) > 0 {
		q.Set("markets", strings.Join(filter.Markets, ","))
	}
	if len(filter.Tokens) > 0 {
		q.Set("tokens", strings.Join(filter.Tokens, ","))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	var env listEnvelope
	if err := c.get(ctx, "poly.requests", pathRFQRequests, q, &env); err != nil {
		return nil, err
	}
	reqs := make([]order.Request, 0, len(env.Data))
	for _, raw := range env.Data {
		req, err := order.DecodeRequest(raw)
		if err != nil || req.RequestID == "" {
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

type submitQuoteBody struct {
	RequestID string `json:"requestId"`
	AssetID   string `json:"assetId"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
}

type submitQuoteResponse struct {
	QuoteID      string `json:"quoteId"`
	QuoteIDSnake string `json:"quote_id"`
	Error        string `json:"error"`
	ErrorMsg     string `json:"errorMsg"`
}

// SubmitQuote 提交报价；场所拒绝（4xx 或 error 字段）以 SubmitResult.Error 返回。
func (c *PolymarketClient) SubmitQuote(ctx context.Context, requestID string, q order.Quote) (order.SubmitResult, error) {
	body := submitQuoteBody{
		RequestID: requestID,
		AssetID:   q.Token,
		Side:      string(q.Side),
		Price:     strconv.FormatFloat(q.Price, 'f', -1, 64),
		Size:      strconv.FormatFloat(q.Size, 'f', -1, 64),
	}
	var res submitQuoteResponse
	err := c.send(ctx, "poly.submit", http.MethodPost, pathRFQQuote, body, &res)
	var se *StatusError
	if errors.As(err, &se) && !se.Temporary() {
		return order.SubmitResult{Error: se.Error()}, nil
	}
	if err != nil {
		return order.SubmitResult{}, err
	}

	out := order.SubmitResult{QuoteID: res.QuoteID, Error: res.Error}
	if out.QuoteID == "" {
		out.QuoteID = res.QuoteIDSnake
	}
	if out.Error == "" {
		out.Error = res.ErrorMsg
	}
	if out.QuoteID == "" && out.Error == "" {
		out.Error = "no quote id in response"
	}
	return out, nil
}

// Quotes 按 request id 查询我方报价的状态。
func (c *PolymarketClient) Quotes(ctx context.Context, requestIDs []string) ([]order.RemoteQuote, error) {
	if len(requestIDs) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("requestIds", strings.Join(requestIDs, ","))

	var env listEnvelope
	if err := c.get(ctx, "poly.quotes", pathRFQQuotes, q, &env); err != nil {
		return nil, err
	}
	quotes := make([]order.RemoteQuote, 0, len(env.Data))
	for _, raw := range env.Data {
		rq, err := order.DecodeRemoteQuote(raw)
		if err != nil || rq.QuoteID == "" {
			continue
		}
		quotes = append(quotes, rq)
	}
	return quotes, nil
}

type approveBody struct {
	RequestID  string `json:"requestId"`
	QuoteID    string `json:"quoteId"`
	Expiration int64  `json:"expiration"`
}

// ApproveOrder 确认被接受的报价。
func (c *PolymarketClient) ApproveOrder(ctx context.Context, requestID, quoteID string, expiration time.Time) error {
	body := approveBody{RequestID: requestID, QuoteID: quoteID, Expiration: expiration.Unix()}
	return c.send(ctx, "poly.approve", http.MethodPost, pathRFQApprove, body, nil)
}

type cancelBody struct {
	QuoteID string `json:"quoteId"`
}

func (c *PolymarketClient) CancelQuote(ctx context.Context, quoteID string) error {
	return c.send(ctx, "poly.cancel", http.MethodDelete, pathRFQQuote, cancelBody{QuoteID: quoteID}, nil)
}

func (c *PolymarketClient) get(ctx context.Context, op, path string, query url.Values, out any) error {
	attempt := func() error {
		req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		return permanentUnlessTemporary(doJSON(c.httpClient(), req, op, out))
	}
	return backoff.Retry(attempt, retryPolicy(ctx, c.MaxRetries))
}

func (c *PolymarketClient) send(ctx context.Context, op, method, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, method, path, nil, payload)
	if err != nil {
		return err
	}
	return doJSON(c.httpClient(), req, op, out)
}

func (c *PolymarketClient) newRequest(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Request, error) {
	if !c.Creds.complete() {
		return nil, ErrMissingCredentials
	}
	if err := waitLimiter(ctx, c.Limiter); err != nil {
		return nil, err
	}
	endpoint := c.Host + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	ts := strconv.FormatInt(timeNow().Unix(), 10)
	sig, err := SignL2(c.Creds.Secret, ts, method, path, string(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("POLY_ADDRESS", c.Creds.Address)
	req.Header.Set("POLY_API_KEY", c.Creds.APIKey)
	req.Header.Set("POLY_PASSPHRASE", c.Creds.Passphrase)
	req.Header.Set("POLY_TIMESTAMP", ts)
	req.Header.Set("POLY_SIGNATURE", sig)
	return req, nil
}

// SignL2 HMAC-SHA256(base64url 解码后的 secret, timestamp+method+path+body)，结果 base64url 编码。
func SignL2(secret, timestamp, method, path, body string) (string, error) {
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp + method + path + body))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (c *PolymarketClient) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return NewDefaultHTTPClient()
	}
	return c.HTTPClient
}
