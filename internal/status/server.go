package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"rfq-maker-go/config"
	"rfq-maker-go/infrastructure/logger"
	"rfq-maker-go/internal/rfq"
	"rfq-maker-go/market"
	"rfq-maker-go/metrics"
	"rfq-maker-go/order"
)

var ErrNotStarted = errors.New("status server not started")

// Server 只读状态接口：健康检查、报价表、参考价、配置和 Prometheus 指标。
type Server struct {
	addr    string
	cfg     config.AppConfig
	feed    market.Feed
	manager *rfq.Manager
	logger  *logger.Logger
	started time.Time
	now     func() time.Time

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

func New(addr string, cfg config.AppConfig, feed market.Feed, manager *rfq.Manager, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		addr:    addr,
		cfg:     cfg.Redacted(),
		feed:    feed,
		manager: manager,
		logger:  log.Named("status"),
		now:     time.Now,
	}
}

// Handler 路由表，测试可直接挂到 httptest
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/prices", s.handlePrices)
	mux.HandleFunc("/quotes", s.handleQuotes)
	mux.HandleFunc("/config", s.handleConfig)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("status listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv = srv
	s.listener = ln
	s.started = s.now()

	// 在后台启动服务器
	go func() {
		s.logger.Info("status.listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.LogError(err, "status.serve")
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.srv.Shutdown(ctx)
	s.srv = nil
	s.listener = nil
	if err != nil {
		return fmt.Errorf("status shutdown failed: %w", err)
	}
	s.logger.Info("status.stopped")
	return nil
}

func (s *Server) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return ErrNotStarted
	}
	return nil
}

// Addr 实际监听地址（addr 为 :0 时有用）
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type marketStatus struct {
	MarketID   string     `json:"market_id"`
	Selections int        `json:"selections"`
	LastUpdate *time.Time `json:"last_update,omitempty"`
	AgeSeconds *float64   `json:"age_seconds,omitempty"`
}

type statusResponse struct {
	Env           string         `json:"env"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Reference     referenceBlock `json:"reference"`
	RFQ           rfqBlock       `json:"rfq"`
	Exposure      exposureBlock  `json:"exposure"`
}

type referenceBlock struct {
	Mode    string         `json:"mode"`
	Healthy bool           `json:"healthy"`
	Markets []marketStatus `json:"markets"`
}

type rfqBlock struct {
	Mode          string `json:"mode"`
	DryRun        bool   `json:"dry_run"`
	ApproveOrders bool   `json:"approve_orders"`
	ActiveQuotes  int    `json:"active_quotes"`
	SeenRequests  int    `json:"seen_requests"`
}

type exposureBlock struct {
	OpenNotional      float64 `json:"open_notional"`
	AvailableExposure float64 `json:"available_exposure"`
	MaxExposure       float64 `json:"max_exposure"`
	MaxQuoteSize      float64 `json:"max_quote_size"`
	Spread            float64 `json:"spread"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	now := s.now()
	mcfg := s.manager.Config()
	engine := s.manager.Engine()
	pcfg := engine.Config()

	resp := statusResponse{
		Env: s.cfg.Env,
		Reference: referenceBlock{
			Mode:    s.cfg.Reference.Mode,
			Healthy: s.feed.Health() == nil,
			Markets: s.marketStatuses(now),
		},
		RFQ: rfqBlock{
			Mode:          s.cfg.RFQ.Mode,
			DryRun:        mcfg.DryRun,
			ApproveOrders: mcfg.ApproveOrders,
			ActiveQuotes:  s.manager.ActiveCount(),
			SeenRequests:  s.manager.SeenCount(),
		},
		Exposure: exposureBlock{
			OpenNotional:      engine.OpenNotional(),
			AvailableExposure: engine.AvailableExposure(),
			MaxExposure:       pcfg.MaxExposureUSDC,
			MaxQuoteSize:      pcfg.MaxQuoteSizeUSDC,
			Spread:            pcfg.Spread,
		},
	}
	if !s.started.IsZero() {
		resp.UptimeSeconds = now.Sub(s.started).Seconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) marketStatuses(now time.Time) []marketStatus {
	snaps := s.feed.AllSnapshots()
	var cache *market.Cache
	if cb, ok := s.feed.(market.CacheBacked); ok {
		cache = cb.Cache()
	}

	ids := make([]string, 0, len(snaps))
	if cache != nil {
		ids = cache.Markets()
	} else {
		for id := range snaps {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	out := make([]marketStatus, 0, len(ids))
	for _, id := range ids {
		ms := marketStatus{MarketID: id, Selections: len(snaps[id])}
		if cache != nil {
			if ts, ok := cache.LastUpdate(id); ok {
				age := now.Sub(ts).Seconds()
				ms.LastUpdate = &ts
				ms.AgeSeconds = &age
			}
		}
		out = append(out, ms)
	}
	return out
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	id := r.URL.Query().Get("market_id")
	if id == "" {
		writeJSON(w, http.StatusOK, s.feed.AllSnapshots())
		return
	}
	all := s.feed.AllSnapshots()
	snap, ok := all[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown market " + id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]market.PriceSnapshot{id: snap})
}

type quotesResponse struct {
	Active int                `json:"active"`
	Quotes []order.Submission `json:"quotes"`
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	quotes := s.manager.Quotes()
	active := 0
	for _, q := range quotes {
		if q.Status == order.StatusActive {
			active++
		}
	}
	writeJSON(w, http.StatusOK, quotesResponse{Active: active, Quotes: quotes})
}

// handleConfig 以 YAML 返回生效配置（凭证已隐藏）；报价参数取引擎当前值，可能已热更新
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	cfg := s.cfg
	live := s.manager.Engine().Config()
	cfg.Pricing = config.PricingConfig{
		TokenMap:         live.TokenMap,
		Spread:           live.Spread,
		MaxQuoteSizeUSDC: live.MaxQuoteSizeUSDC,
		MaxExposureUSDC:  live.MaxExposureUSDC,
		MaxOddsAge:       live.MaxOddsAge,
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
