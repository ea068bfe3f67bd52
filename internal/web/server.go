package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/krakendca/internal/domain"
	"github.com/vadiminshakov/krakendca/internal/services/sentiment"
	"github.com/vadiminshakov/krakendca/internal/storage/intents"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 15 * time.Second
	idleTimeout       = 120 * time.Second
	defaultCertCache  = "cert-cache"
)

type strategy interface {
	Run(ctx context.Context, dryRun bool) (domain.ExecutionReport, error)
	Info() domain.BudgetConfig
	PendingIntents() []intents.Record
}

type balanceReporter interface {
	Balance(ctx context.Context, notifySlack bool) (domain.BalanceSnapshot, error)
}

type sentimentLookup interface {
	Lookup(ctx context.Context) (sentiment.Index, json.RawMessage, error)
}

// Server exposes the strategy, balance and sentiment endpoints.
type Server struct {
	Addr      string
	l         *zap.Logger
	strategy  strategy
	balance   balanceReporter
	sentiment sentimentLookup
}

// NewServer creates a new web server instance.
func NewServer(l *zap.Logger, addr string, st strategy, balance balanceReporter, fng sentimentLookup) *Server {
	return &Server{Addr: addr, l: l, strategy: st, balance: balance, sentiment: fng}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api/strategy/execute", s.handleExecute)
	mux.HandleFunc("GET /api/strategy/info", s.handleInfo)
	mux.HandleFunc("GET /api/strategy/pending", s.handlePending)
	mux.HandleFunc("GET /api/balance", s.handleBalance)
	mux.HandleFunc("GET /api/fng", s.handleFearGreed)

	return s.logRequests(mux)
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	go s.shutdownOnDone(ctx, server)

	s.l.Info("http server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with certificates obtained via ACME.
// A second server on :80 answers HTTP-01 challenges and redirects to HTTPS.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = defaultCertCache
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		TLSConfig:         tlsConfig,
	}

	go s.shutdownOnDone(ctx, httpSrv)
	go s.shutdownOnDone(ctx, httpsSrv)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("acme http server failed", zap.Error(err))
		}
	}()

	s.l.Info("https server listening", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) shutdownOnDone(ctx context.Context, server *http.Server) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.l.Error("server shutdown failed", zap.String("addr", server.Addr), zap.Error(err))
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Hello Crypto"})
}

// executeFailure carries the partial report so the caller sees which orders were already placed.
type executeFailure struct {
	Error   string                 `json:"error"`
	Results domain.ExecutionReport `json:"results"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	dryRun, err := queryBool(r, "i_am_just_testing", true)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	// orders already placed must still be recorded if the caller goes away
	report, err := s.strategy.Run(context.WithoutCancel(r.Context()), dryRun)
	if err != nil {
		s.l.Error("strategy execution failed", zap.Bool("dry_run", dryRun), zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, executeFailure{Error: err.Error(), Results: report})
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]domain.BudgetConfig{"dca": s.strategy.Info()})
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]intents.Record{"pending": s.strategy.PendingIntents()})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	notifySlack, err := queryBool(r, "slack", false)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	snapshot, err := s.balance.Balance(r.Context(), notifySlack)
	if err != nil {
		s.l.Error("balance report failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]domain.BalanceSnapshot{"balance": snapshot})
}

func (s *Server) handleFearGreed(w http.ResponseWriter, r *http.Request) {
	_, raw, err := s.sentiment.Lookup(r.Context())
	if err != nil {
		s.l.Error("fear and greed lookup failed", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.l.Error("failed to encode response", zap.Error(err))
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.l.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// queryBool reads a boolean query parameter. Missing or empty values yield def.
func queryBool(r *http.Request, name string, def bool) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}

	switch strings.ToLower(raw) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean value %q for %s", raw, name)
	}
	return v, nil
}
