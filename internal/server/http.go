package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"PerpRisk/internal/observability"
)

const (
	maxBodyBytes   = 1 << 20
	requestTimeout = 30 * time.Second
)

// HTTPServer serves the RiskEngine methods as HTTP/JSON, plus health,
// metrics and the event stream.
type HTTPServer struct {
	httpServer *http.Server
	handler    http.Handler
	addr       string
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// HTTPDeps holds the optional collaborators of the HTTP surface.
type HTTPDeps struct {
	Health   *observability.HealthChecker
	Stream   *StreamHub
	Gatherer prometheus.Gatherer // nil disables /metrics
}

func NewHTTPServer(addr string, svc *Service, deps HTTPDeps, metrics *observability.Metrics, logger zerolog.Logger) (*HTTPServer, error) {
	if metrics == nil {
		metrics = observability.NewTestMetrics()
	}
	s := &HTTPServer{
		addr:    addr,
		metrics: metrics,
		logger:  logger.With().Str("component", "http").Logger(),
	}

	gw := runtime.NewServeMux()
	for _, m := range svc.methods() {
		if err := gw.HandlePath(m.Verb, m.Path, s.handle(m)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", m.Verb, m.Path, err)
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	health := deps.Health
	if health == nil {
		health = observability.NewHealthChecker()
		health.SetReady(true)
	}
	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if deps.Stream != nil {
		r.Get("/v1/stream", deps.Stream.HandleWS)
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Handle("/v1/*", gw)
	})

	s.handler = r
	return s, nil
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler { return s.handler }

// StartHTTP serves until ctx is cancelled (blocking).
func (s *HTTPServer) StartHTTP(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP server listening")
	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) handle(m rpc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		st := s.serve(w, r, m, pathParams)
		s.metrics.APIRequests.WithLabelValues("http", m.Name, strconv.Itoa(st)).Inc()
		s.metrics.APIDuration.WithLabelValues("http", m.Name).Observe(time.Since(start).Seconds())
	}
}

func (s *HTTPServer) serve(w http.ResponseWriter, r *http.Request, m rpc, pathParams map[string]string) int {
	req := m.newReq()
	if m.bind != nil {
		if err := m.bind(req, params{path: pathParams, query: r.URL.Query()}); err != nil {
			return writeError(w, invalid(err))
		}
	} else {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
			return writeError(w, invalid(err))
		}
	}

	resp, err := m.call(r.Context(), req)
	if err != nil {
		st := writeError(w, err)
		if st == http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("method", m.Name).
				Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
		}
		return st
	}
	writeJSON(w, http.StatusOK, resp)
	return http.StatusOK
}
