// Package ops serves the read-only operational surface: health, metrics,
// and a live websocket feed of dispatched alerts.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/source"
)

// Server hosts the ops endpoints on one listener.
type Server struct {
	gateway *source.SourceGateway
	feed    *Feed
	logger  zerolog.Logger
	http    *http.Server
}

// NewServer builds the ops server. The returned Feed must be registered as
// a dispatcher consumer to receive alerts.
func NewServer(addr string, gw *source.SourceGateway, reg *metrics.Registry, logger zerolog.Logger) *Server {
	log := logger.With().Str("component", "ops").Logger()
	s := &Server{
		gateway: gw,
		feed:    NewFeed(log),
		logger:  log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))
	r.HandleFunc("/ws/alerts", s.feed.handleWS)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Feed returns the websocket alert feed consumer.
func (s *Server) Feed() *Feed { return s.feed }

// Start serves until Shutdown; it returns on listener failure.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("ops server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("ops server failed")
		}
	}()
}

// Shutdown stops the listener and closes all feed connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.feed.Close()
	return s.http.Shutdown(ctx)
}

type healthResponse struct {
	Mode   string             `json:"mode"`
	Health source.HealthState `json:"health"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Mode:   s.gateway.Mode().String(),
		Health: s.gateway.Health(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug().Err(err).Msg("health encode failed")
	}
}
