// Package obsserver starts the small auxiliary HTTP listeners both binaries
// expose: a Prometheus /metrics scrape endpoint and a /healthz liveness
// probe. Neither is part of the Protocol v1 data path.
package obsserver

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clearlane/visionpipe/internal/logging"
)

var log = logging.L("obsserver")

// HealthFunc reports whether the process considers itself healthy; a
// non-nil error is rendered as the 503 body.
type HealthFunc func() error

// Server wraps two *http.Server instances so callers can start/stop both
// together without duplicating the boilerplate per binary.
type Server struct {
	metrics *http.Server
	health  *http.Server
}

// Start launches the metrics and health listeners in the background if
// their addrs are non-empty. Bind failures are logged, not fatal: the core
// pipeline runs fine without observability endpoints.
func Start(metricsAddr, healthAddr string, healthFn HealthFunc) *Server {
	s := &Server{}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.metrics = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := s.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics listener failed", "addr", metricsAddr, "error", err)
			}
		}()
	}

	if healthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if healthFn != nil {
				if err := healthFn(); err != nil {
					w.WriteHeader(http.StatusServiceUnavailable)
					w.Write([]byte(err.Error()))
					return
				}
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		s.health = &http.Server{Addr: healthAddr, Handler: mux}
		go func() {
			if err := s.health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("health listener failed", "addr", healthAddr, "error", err)
			}
		}()
	}

	return s
}

// Stop shuts both listeners down within the given context's deadline.
func (s *Server) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	if s.metrics != nil {
		_ = s.metrics.Shutdown(ctx)
	}
	if s.health != nil {
		_ = s.health.Shutdown(ctx)
	}
}

// ShutdownTimeout is the default grace period given to obsserver.Stop.
const ShutdownTimeout = 3 * time.Second
