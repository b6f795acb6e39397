package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"rfq-maker-go/metrics"
)

// DefaultMaxRetries 幂等请求的默认重试次数
const DefaultMaxRetries = 2

// NewDefaultHTTPClient 返回带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// StatusError 场所返回的非 2xx 响应
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s status %d: %s", e.Op, e.Status, e.Body)
}

// Temporary 5xx 与 429 可以重试
func (e *StatusError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// retryPolicy 按指数退避重试临时错误；maxRetries 为 0 时只请求一次。
func retryPolicy(ctx context.Context, maxRetries uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// permanentUnlessTemporary 把不可重试的错误包成 backoff.Permanent
func permanentUnlessTemporary(err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) && !se.Temporary() {
		return backoff.Permanent(err)
	}
	return err
}

// doJSON 发送请求并把 2xx 响应体解码到 out（out 为 nil 时丢弃）。
// 延迟和错误计入 metrics 的 op 维度。
func doJSON(client *http.Client, req *http.Request, op string, out any) (err error) {
	started := time.Now()
	defer func() { metrics.ObserveVenueCall(op, started, err) }()

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Op: op, Status: resp.StatusCode, Body: string(bytes.TrimSpace(truncate(body, 256)))}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s decode: %w", op, err)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

func waitLimiter(ctx context.Context, l RateLimiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
