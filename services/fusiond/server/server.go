package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"fusionswap/crypto"
	nativecommon "fusionswap/native/common"
	"fusionswap/native/fusion"
	"fusionswap/native/registry"
	"fusionswap/observability"
	"fusionswap/services/fusiond/audit"
)

// Config holds the HTTP runtime parameters.
type Config struct {
	ListenAddress     string
	Auth              AuthConfig
	RequestsPerSecond float64
	Burst             int
	Quota             nativecommon.Quota
	AllowedOrigins    []string
	ShutdownTimeout   time.Duration
}

// BalanceReader exposes Ledger-A balances.
type BalanceReader interface {
	Balance(ctx context.Context, account crypto.AccountID) (*uint256.Int, error)
}

// ResolverDirectory is the staked resolver registry.
type ResolverDirectory interface {
	Register(ctx context.Context, account crypto.AccountID, signer common.Address, stake *uint256.Int) (*registry.Resolver, error)
	Deregister(ctx context.Context, account crypto.AccountID) error
	Get(account crypto.AccountID) (*registry.Resolver, error)
	Slash(account crypto.AccountID, orderHash crypto.Hash) error
}

// RootOracle accepts Ledger-B roots from trusted relayers.
type RootOracle interface {
	SubmitRoot(ctx context.Context, relayer crypto.AccountID, height uint64, root crypto.Hash) error
	Root(height uint64) (crypto.Hash, error)
	Heights() ([]uint64, error)
}

// AuditReader serves the persisted event log.
type AuditReader interface {
	Entries(orderHash string, limit int) ([]audit.Entry, error)
	Head() (uint64, string)
	Verify() error
}

// Deps are the collaborators the server fronts. Only Engine is required.
type Deps struct {
	Engine   *fusion.Engine
	Ledger   BalanceReader
	Registry ResolverDirectory
	Oracle   RootOracle
	Audit    AuditReader
	Hub      *Hub
	Logger   *slog.Logger
	Now      func() time.Time
}

// Server is the fusiond HTTP API.
type Server struct {
	cfg        Config
	engine     *fusion.Engine
	ledger     BalanceReader
	registry   ResolverDirectory
	oracle     RootOracle
	audit      AuditReader
	hub        *Hub
	auth       *Authenticator
	limiter    *RateLimiter
	quota      *nativecommon.QuotaBook
	apiMetrics interface {
		Observe(module, method string, status int, duration time.Duration)
		RecordThrottle(module, reason string)
	}
	logger *slog.Logger
	now    func() time.Time
	router http.Handler
}

// New wires the router. The engine must already carry the hub in its
// emitter chain for the stream to receive events.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("fusiond: engine required")
	}
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:        cfg,
		engine:     deps.Engine,
		ledger:     deps.Ledger,
		registry:   deps.Registry,
		oracle:     deps.Oracle,
		audit:      deps.Audit,
		hub:        deps.Hub,
		auth:       NewAuthenticator(cfg.Auth),
		limiter:    NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		quota:      nativecommon.NewQuotaBook(cfg.Quota),
		apiMetrics: observability.ModuleMetrics(),
		logger:     deps.Logger.With(slog.String("component", "fusiond.http")),
		now:        deps.Now,
	}
	s.auth.now = deps.Now
	if s.limiter != nil {
		s.limiter.clockNow = deps.Now
	}
	s.router = s.buildRouter()
	return s, nil
}

// Hub returns the event hub feeding the websocket stream.
func (s *Server) Hub() *Hub { return s.hub }

// Handler exposes the instrumented router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "fusiond")
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(s.rateLimit)
			public.Get("/stream", s.handleStream)
			public.Get("/state", s.handleState)
			public.Get("/orders", s.handleListOrders)
			public.Get("/orders/{hash}", s.handleGetOrder)
			public.Get("/orders/{hash}/escrow", s.handleEscrowIdentity)
			public.Get("/hashlocks/{hashLock}", s.handleHashLock)
			public.Get("/accounts/{account}", s.handleAccount)
			public.Get("/relayer/roots", s.handleListRoots)
			public.Get("/relayer/roots/{height}", s.handleGetRoot)
			public.Get("/audit", s.handleAudit)
			public.Get("/audit/verify", s.handleAuditVerify)
		})
		api.Group(func(authed chi.Router) {
			authed.Use(s.auth.Middleware)
			authed.Use(s.rateLimit)
			authed.Post("/orders", s.handleCreateOrder)
			authed.Post("/orders/{hash}/lock", s.handleLock)
			authed.Post("/orders/{hash}/execute", s.handleExecute)
			authed.Post("/orders/{hash}/partial", s.handlePartial)
			authed.Post("/orders/{hash}/cancel", s.handleCancel)

			authed.Post("/resolvers/register", s.handleRegisterResolver)
			authed.Post("/resolvers/deregister", s.handleDeregisterResolver)
			authed.Post("/relayer/roots", s.handleSubmitRoot)

			authed.Put("/admin/pause", s.handleSetPaused)
			authed.Put("/admin/resolvers/{account}", s.handleApproveResolver)
			authed.Delete("/admin/resolvers/{account}", s.handleRevokeResolver)
			authed.Put("/admin/relayers/{account}", s.handleAddRelayer)
			authed.Delete("/admin/relayers/{account}", s.handleRemoveRelayer)
			authed.Put("/admin/owner", s.handleTransferOwnership)
			authed.Post("/admin/slash", s.handleSlash)
		})
	})
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("fusiond listening", slog.String("addr", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is required by the websocket upgrade on /v1/stream.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("fusiond: response writer cannot hijack")
	}
	return hj.Hijack()
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := s.now().Sub(start)
		s.apiMetrics.Observe(route, r.Method, recorder.status, elapsed)
		s.logger.Debug("request served",
			slog.String("requestId", requestIDFrom(r.Context())),
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", recorder.status),
			slog.Duration("elapsed", elapsed))
	})
}
