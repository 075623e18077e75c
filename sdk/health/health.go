// Package health serves the bot's liveness and metrics endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmorn/m4d-automod/sdk/status"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is the datastore check; store.Store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Status      status.Register
	Store       Pinger // optional
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
	PingTimeout time.Duration // default 2s
}

// Response is the /healthz body.
type Response struct {
	Status string            `json:"status"`
	Flags  status.Snapshot   `json:"flags"`
	Checks map[string]string `json:"checks,omitempty"`
}

type Handler struct {
	opts Options
}

// NewRouter returns a router with GET /healthz and GET /metrics.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 2 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	h := &Handler{opts: opts}

	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	return r
}

// Health reports the status flags. It answers 503 while the gateway
// connection is down; a failing datastore ping only degrades the body.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.opts.Status.Snapshot()
	resp := Response{Status: "ok", Flags: snap, Checks: map[string]string{}}
	code := http.StatusOK

	if !snap.ConnectionAlive {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	} else if !snap.PersistenceHealthy || !snap.ClassifierHealthy {
		resp.Status = "degraded"
	}

	if h.opts.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.opts.PingTimeout)
		defer cancel()
		if err := h.opts.Store.Ping(ctx); err != nil {
			h.opts.Logger.Warn("health check: database unreachable", zap.Error(err))
			resp.Checks["database"] = "unreachable"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		} else {
			resp.Checks["database"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// RegisterStatusGauges exposes every flag as automod_status{flag} (1 or 0).
func RegisterStatusGauges(reg prometheus.Registerer, st status.Register) error {
	for _, f := range []status.Flag{status.ConnectionAlive, status.PersistenceHealthy, status.ClassifierHealthy} {
		f := f
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "automod_status",
			Help:        "Health flags of the bot (1 healthy, 0 not).",
			ConstLabels: prometheus.Labels{"flag": f.String()},
		}, func() float64 {
			if flagValue(st.Snapshot(), f) {
				return 1
			}
			return 0
		})
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

func flagValue(s status.Snapshot, f status.Flag) bool {
	switch f {
	case status.ConnectionAlive:
		return s.ConnectionAlive
	case status.PersistenceHealthy:
		return s.PersistenceHealthy
	case status.ClassifierHealthy:
		return s.ClassifierHealthy
	}
	return false
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serveListener(ctx, ln, h, logger)
}

func serveListener(ctx context.Context, ln net.Listener, h http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("health server listening", zap.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errc
	logger.Info("health server stopped")
	return nil
}
