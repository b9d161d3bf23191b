package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/causewatch/causewatch/internal/store"
	"github.com/causewatch/causewatch/pkg/metrics"
	"github.com/causewatch/causewatch/pkg/middleware"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

// StatusServer exposes health, metrics and read-only ingestion statistics.
// The public product API is served elsewhere; this surface is for operators
// and probes only.
type StatusServer struct {
	bindAddress string
	store       store.Store
	listener    net.Listener
	httpServer  *http.Server
}

func NewStatusServer(bindAddress string, s store.Store, listener net.Listener) *StatusServer {
	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("status_server")
	metricMiddleware.MustRegisterDefault()

	router.Use(
		metricMiddleware.Handler,
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	server := &StatusServer{
		bindAddress: bindAddress,
		store:       s,
		listener:    listener,
	}

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/api/v1/statistics", server.getStatistics)

	server.httpServer = &http.Server{
		Addr:    bindAddress,
		Handler: router,
	}

	return server
}

func (s *StatusServer) getStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics(r.Context())
	if err != nil {
		zap.S().Named("status_server").Errorw("failed to compute statistics", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "failed to compute statistics"})
		return
	}
	render.JSON(w, r, stats)
}

func (s *StatusServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.httpServer.SetKeepAlivesEnabled(false)
		_ = s.httpServer.Shutdown(ctxTimeout)
		zap.S().Named("status_server").Info("status server terminated")
	}()

	zap.S().Named("status_server").Infof("serving status: %s", s.bindAddress)
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
