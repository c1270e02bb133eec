package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendhub/core/events"
	"lendhub/native/lending"
	"lendhub/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeModulePaused   = -32003
	codeSolvency       = -32010
	codeArithmetic     = -32011
	codeRateLimited    = -32020
)

const (
	// ScopeHub is required by every lending mutation.
	ScopeHub = "lending:hub"
	// ScopeOracle is required to push prices.
	ScopeOracle = "oracle:write"
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// Config tunes the server's guards.
type Config struct {
	Auth      AuthConfig
	RateLimit RateLimit
}

type method struct {
	// scope is required from the caller's token. Views leave it empty.
	scope  string
	handle func(params json.RawMessage) (interface{}, error)
}

// Server exposes the lending engine over JSON-RPC 2.0.
type Server struct {
	engine  *lending.Engine
	prices  *lending.StaticPriceFeed
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	metrics *metrics.LendingMetrics
	methods map[string]method
	feed    *events.Recorder
}

// NewServer builds a server for engine. prices may be nil, in which case
// oracle_setPrice is not offered.
func NewServer(engine *lending.Engine, prices *lending.StaticPriceFeed, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  engine,
		prices:  prices,
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
		metrics: metrics.Lending(),
	}
	s.methods = s.lendingMethods()
	if prices != nil {
		s.methods["oracle_setPrice"] = method{scope: ScopeOracle, handle: s.handleOracleSetPrice}
	}
	return s
}

// SetEventFeed exposes the events retained by feed through
// lending_recentEvents.
func (s *Server) SetEventFeed(feed *events.Recorder) {
	s.feed = feed
	if feed != nil {
		s.methods["lending_recentEvents"] = method{handle: s.handleRecentEvents}
	}
}

// Handler returns the HTTP surface: POST /rpc, GET /healthz and GET /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(withRequestID)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.With(s.throttle, s.auth.Middleware).Post("/rpc", s.handleRPC)
	return otelhttp.NewHandler(r, "lendhub.rpc")
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		r.Header.Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientID(r)) {
			s.metrics.RecordThrottle("rate_limit")
			writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := r.Header.Get(requestIDHeader)

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, nil, codeParseError, "invalid JSON-RPC request", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if m.scope != "" {
		if status, err := s.auth.Authorize(r.Context(), m.scope); err != nil {
			s.metrics.RecordThrottle("unauthorized")
			s.metrics.ObserveRPC(req.Method, "unauthorized", time.Since(start))
			writeError(w, status, req.ID, codeUnauthorized, err.Error(), nil)
			return
		}
	}

	var params json.RawMessage
	switch len(req.Params) {
	case 0:
	case 1:
		params = req.Params[0]
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single parameter object", nil)
		return
	}

	result, err := m.handle(params)
	elapsed := time.Since(start)
	if err != nil {
		status, code, outcome := classify(err)
		s.metrics.ObserveRPC(req.Method, outcome, elapsed)
		s.logger.Info("rpc request rejected",
			slog.String("request_id", requestID),
			slog.String("method", req.Method),
			slog.String("class", outcome),
			slog.String("error", err.Error()))
		writeError(w, status, req.ID, code, err.Error(), nil)
		return
	}
	s.metrics.ObserveRPC(req.Method, "success", elapsed)
	s.logger.Debug("rpc request served",
		slog.String("request_id", requestID),
		slog.String("method", req.Method),
		slog.Duration("elapsed", elapsed))
	writeResult(w, req.ID, result)
}

// classify maps a handler error onto an HTTP status, a JSON-RPC code and a
// metrics outcome label.
func classify(err error) (int, int, string) {
	var invalid *paramError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest, codeInvalidParams, "invalid_params"
	}
	switch class := lending.ErrorClass(err); class {
	case lending.ClassPrecondition, lending.ClassConfiguration:
		return http.StatusBadRequest, codeInvalidParams, string(class)
	case lending.ClassSolvency:
		return http.StatusConflict, codeSolvency, string(class)
	case lending.ClassArithmetic:
		return http.StatusUnprocessableEntity, codeArithmetic, string(class)
	}
	if isPaused(err) {
		return http.StatusServiceUnavailable, codeModulePaused, "paused"
	}
	return http.StatusInternalServerError, codeServerError, "internal"
}
