package demo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sghaida/zoned/examples/counter"
	"github.com/sghaida/zoned/internal/ctxlog"
	"github.com/sghaida/zoned/service"
	"github.com/sghaida/zoned/zone"
)

// NewRouter serves the demo endpoints:
//   - GET /health: liveness
//   - GET /metrics: Prometheus metrics from gatherer
//   - GET /stats: tracker stats and the zones holding services
//   - POST /count?n=N: increments a counter N times in a zone of its own and
//     returns the value it reached
func NewRouter(dir *service.Directory, h *counter.Handle, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statsOf(dir))
	})
	r.With(Isolate(dir)).Post("/count", func(w http.ResponseWriter, r *http.Request) {
		n := 1
		if q := r.URL.Query().Get("n"); q != "" {
			v, err := strconv.Atoi(q)
			if err != nil || v < 1 || v > 1000 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be between 1 and 1000"})
				return
			}
			n = v
		}

		ctx := r.Context()
		var v int
		for range n {
			v = h.Incr(ctx)
		}
		writeJSON(w, http.StatusOK, countResponse{Zone: uint64(dir.Zone(ctx)), Value: v})
	})
	return r
}

type countResponse struct {
	Zone  uint64 `json:"zone"`
	Value int    `json:"value"`
}

type statsResponse struct {
	Zones   int      `json:"zones"`
	Units   int      `json:"units"`
	Running int      `json:"running"`
	Active  []uint64 `json:"active_zones"`
}

func statsOf(dir *service.Directory) statsResponse {
	var resp statsResponse
	if t := dir.Isolator().Tracker(); t != nil {
		s := t.Stats()
		resp.Zones, resp.Units, resp.Running = s.Zones, s.Units, s.Running
	}
	resp.Active = []uint64{}
	for _, z := range dir.Zones() {
		resp.Active = append(resp.Active, uint64(z))
	}
	return resp
}

// Isolate runs every request in a zone of its own. Services the handler
// instantiates are destroyed once it returned.
func Isolate(dir *service.Directory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := dir.Isolate(r.Context(), func(ctx context.Context) error {
				next.ServeHTTP(w, r.WithContext(ctx))
				return nil
			})
			if errors.Is(err, zone.ErrNotInitialized) {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			}
		})
	}
}

// requestLogger adds the request id to the ctx logger and logs completed
// requests at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ctxlog.With(r.Context(), "request_id", middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		ctxlog.FromContext(ctx).DebugContext(ctx, "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server is the demo HTTP server.
type Server struct {
	server       *http.Server
	shutdownOnce sync.Once
}

// NewServer returns a stopped server for handler on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{server: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start serves until ctx is cancelled or the listener fails. Cancellation
// shuts the server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	log := ctxlog.FromContext(ctx)
	errChan := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "http server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("http server failed: %w", err)
	}
}

// Stop shuts the server down. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("http server shutdown error: %w", err)
			return
		}
		ctxlog.FromContext(ctx).InfoContext(ctx, "http server stopped")
	})
	return shutdownErr
}
