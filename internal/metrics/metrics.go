// Package metrics exposes tunnel lifecycle events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/treykane/portkeeper/internal/events"
)

// Sink counts tunnel events. It implements events.Sink.
type Sink struct {
	registry *prometheus.Registry

	running        prometheus.Gauge
	starts         *prometheus.CounterVec
	unexpectedExit prometheus.Counter
	cleanupFailed  prometheus.Counter
	logLines       *prometheus.CounterVec

	mu sync.Mutex
	up map[string]bool
}

// NewSink creates a sink with its own registry.
func NewSink() *Sink {
	s := &Sink{
		registry: prometheus.NewRegistry(),
		up:       make(map[string]bool),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portkeeper_tunnels_running",
			Help: "Number of tunnel daemons that are up and registered",
		}),
		starts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portkeeper_tunnel_starts_total",
				Help: "Tunnel start attempts by result",
			},
			[]string{"result"},
		),
		unexpectedExit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portkeeper_tunnel_unexpected_exits_total",
			Help: "Tunnel daemons that exited after registering a connection",
		}),
		cleanupFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portkeeper_tunnel_cleanup_failures_total",
			Help: "Best-effort delete steps that failed",
		}),
		logLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portkeeper_tunnel_log_lines_total",
				Help: "Daemon log lines by level",
			},
			[]string{"level"},
		),
	}
	s.registry.MustRegister(s.running, s.starts, s.unexpectedExit, s.cleanupFailed, s.logLines)
	return s
}

// Publish implements events.Sink.
func (s *Sink) Publish(evt events.Event) {
	switch evt.EventType {
	case events.TypeLog:
		level := strings.ToLower(evt.Level)
		if level == "" {
			level = "unknown"
		}
		s.logLines.WithLabelValues(level).Inc()
	case events.TypeReady:
		s.starts.WithLabelValues("ready").Inc()
		s.setUp(evt.ProjectID, true)
	case events.TypeFailed:
		s.starts.WithLabelValues("failed").Inc()
	case events.TypeStopped:
		s.setUp(evt.ProjectID, false)
	case events.TypeUnexpectedExit:
		s.unexpectedExit.Inc()
		s.setUp(evt.ProjectID, false)
	case events.TypeCleanupFailed:
		s.cleanupFailed.Inc()
	}
}

func (s *Sink) setUp(projectID string, up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.up[projectID] == up {
		return
	}
	if up {
		s.up[projectID] = true
		s.running.Inc()
		return
	}
	delete(s.up, projectID)
	s.running.Dec()
}

// Handler serves the sink's registry in the Prometheus text format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (s *Sink) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
