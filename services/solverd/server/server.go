package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tidepool/native/amm"
	"tidepool/native/common"
	"tidepool/native/intent"
	"tidepool/native/order"
	"tidepool/observability"
	"tidepool/services/solverd/quotecache"
	"tidepool/services/solverd/settlement"
)

// Store is the persistence surface the API needs.
type Store interface {
	SaveIntent(ctx context.Context, it *intent.Intent) error
	IntentByID(ctx context.Context, id string) (*intent.Intent, error)
	CountOpenIntents(ctx context.Context, creator string) (int64, error)
	SaveOrder(ctx context.Context, o *order.Order) error
	OrderByID(ctx context.Context, id string) (*order.Order, error)
	CountOpenOrders(ctx context.Context, creator string) (int64, error)
	PoolByID(ctx context.Context, id string) (*amm.Pool, error)
	ListPools(ctx context.Context, status amm.PoolStatus) ([]*amm.Pool, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Store        Store
	Coordinator  *settlement.Coordinator
	Quotes       *quotecache.Cache
	SolverSecret []byte
	Quota        common.Quota
	CreateLimit  RateLimit
	Logger       *slog.Logger
	Now          func() time.Time
}

// Server exposes the public intent/order API and the solver endpoints.
type Server struct {
	store   Store
	coord   *settlement.Coordinator
	quotes  *quotecache.Cache
	quota   common.Quota
	log     *slog.Logger
	now     func() time.Time
	metrics *observability.APIMetrics

	router http.Handler
}

// New builds the configured HTTP server.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	srv := &Server{
		store:   cfg.Store,
		coord:   cfg.Coordinator,
		quotes:  cfg.Quotes,
		quota:   cfg.Quota,
		log:     log,
		now:     nowFn,
		metrics: observability.API(),
	}
	srv.router = srv.buildRouter(cfg.SolverSecret, cfg.CreateLimit)
	return srv
}

// Handler exposes the routing tree wrapped with request tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "solverd.http")
}

func (s *Server) buildRouter(solverSecret []byte, createLimit RateLimit) http.Handler {
	limiter := newRateLimiter(createLimit)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.With(limiter.middleware("intents.create")).Post("/intents", s.CreateIntent)
		v1.Get("/intents/{id}", s.GetIntent)
		v1.Post("/intents/{id}/cancel", s.CancelIntent)

		v1.With(limiter.middleware("orders.create")).Post("/orders", s.CreateOrder)
		v1.Get("/orders/{id}", s.GetOrder)
		v1.Post("/orders/{id}/cancel", s.CancelOrder)

		v1.Get("/quote", s.Quote)
		v1.Get("/pools", s.ListPools)
		v1.Get("/pools/{id}", s.GetPool)
		v1.Get("/pools/{id}/liquidity-quote", s.LiquidityQuote)

		v1.Route("/solver", func(solver chi.Router) {
			solver.Use(solverAuth(solverSecret))
			solver.Post("/settle", s.Settle)
			solver.Post("/execute-order", s.ExecuteOrder)
			solver.Post("/confirm", s.Confirm)
		})
	})

	return r
}

// observe records per-route request counts and latency.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.metrics.Observe(r.Method+" "+route, ww.Status(), time.Since(start))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case common.IsInvalidParameters(err):
		status = http.StatusBadRequest
	case common.IsNotFound(err):
		status = http.StatusNotFound
	case common.IsInvalidState(err), errors.Is(err, common.ErrInvalidPoolState):
		status = http.StatusConflict
	case errors.Is(err, common.ErrInsufficientLiquidity):
		status = http.StatusUnprocessableEntity
	case common.IsChainInteraction(err):
		status = http.StatusBadGateway
	case errors.Is(err, common.ErrModulePaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, common.ErrQuotaOpenIntentsExceeded), errors.Is(err, common.ErrQuotaOpenOrdersExceeded):
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
