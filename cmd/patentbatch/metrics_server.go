package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"patentbatch/internal/logging"
	"patentbatch/internal/metrics"
	"patentbatch/internal/workflow"
)

// metricsServer exposes Prometheus collectors and the live session status.
type metricsServer struct {
	logger   *slog.Logger
	listener net.Listener
	server   *http.Server
}

// startMetricsServer listens on bind. An empty bind returns a nil server.
func startMetricsServer(bind string, collectors *metrics.Collectors, mgr *workflow.Manager, logger *slog.Logger) (*metricsServer, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collectors.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(newStatusView(mgr.Status()))
	})

	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	srv := &metricsServer{
		logger:   logger,
		listener: listener,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}

	go func() {
		if err := srv.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(logger, "metrics server error", "metrics_server_failed", logging.Error(err))
		}
	}()

	logger.Info("metrics server listening", logging.String("address", listener.Addr().String()))
	return srv, nil
}

func (s *metricsServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *metricsServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}
