package procmon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	childStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "procmon_child_started_total",
			Help: "Total number of child processes spawned.",
		},
	)
	childExited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procmon_child_exit_total",
			Help: "Total number of child exits observed by liveness watchers.",
		},
		[]string{"key"},
	)
	forcedKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procmon_forced_kill_total",
			Help: "Total number of children hard-killed during shutdown.",
		},
		[]string{"reason"},
	)
	restartCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "procmon_restart_total",
			Help: "Total number of full supervisor restarts.",
		},
	)
	stateGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "procmon_state",
			Help: "Current supervisor lifecycle state (0=init .. 4=stopped).",
		},
	)
)

func init() {
	prometheus.MustRegister(childStarted, childExited, forcedKills, restartCounter, stateGauge)
}

// ServeMetrics exposes /metrics, /healthz and /state on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string, s *Supervisor) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if s.State() != StateStarted {
			http.Error(w, s.State().String(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/state", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.Snapshot())
	})
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Supervisor: metrics/health endpoints listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Supervisor: metrics server shutdown error", slog.String("err", err.Error()))
		return err
	}
	slog.Info("Supervisor: metrics server shut down cleanly")
	return nil
}
