package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stocks-watcher/internal/config"
	"stocks-watcher/internal/engine"
	"stocks-watcher/internal/hub"
	"stocks-watcher/internal/market"
	"stocks-watcher/internal/provider"
	"stocks-watcher/internal/storage"
)

// Server exposes the dashboard API and the live status channel.
type Server struct {
	cfg     config.ServerConfig
	watches storage.WatchStore
	md      provider.MarketData
	eng     *engine.Engine
	info    *market.InfoHolder
	hub     *hub.Hub
	logger  zerolog.Logger
}

// New constructs the API server.
func New(cfg config.ServerConfig, watches storage.WatchStore, md provider.MarketData, eng *engine.Engine, info *market.InfoHolder, h *hub.Hub, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		watches: watches,
		md:      md,
		eng:     eng,
		info:    info,
		hub:     h,
		logger:  logger.With().Str("component", "server").Logger(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /watches", s.handleListWatches)
	mux.HandleFunc("POST /watches", s.handleCreateWatch)
	mux.HandleFunc("DELETE /watches/{ticker}", s.handleDeleteWatch)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("GET /stocks/{ticker}/details", s.handleDetails)
	mux.HandleFunc("GET /stocks/{ticker}/history", s.handleHistory)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)

	return s.cors(mux)
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

type watchCreate struct {
	Ticker  string    `json:"ticker"`
	Levels  []float64 `json:"levels"`
	Enabled *bool     `json:"enabled"`
}

func (s *Server) handleListWatches(w http.ResponseWriter, r *http.Request) {
	watches, err := s.watches.ListWatches(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, watches)
}

func (s *Server) handleCreateWatch(w http.ResponseWriter, r *http.Request) {
	var payload watchCreate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.md.Validate(r.Context(), payload.Ticker); err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Ticker '%s' not found", payload.Ticker))
			return
		}
		s.internalError(w, err)
		return
	}

	watch := storage.Watch{
		Ticker:  payload.Ticker,
		Levels:  make([]decimal.Decimal, 0, len(payload.Levels)),
		Enabled: payload.Enabled == nil || *payload.Enabled,
	}
	for _, level := range payload.Levels {
		watch.Levels = append(watch.Levels, decimal.NewFromFloat(level))
	}

	saved, err := s.watches.UpsertWatch(r.Context(), watch)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidWatch) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteWatch(w http.ResponseWriter, r *http.Request) {
	ticker := r.PathValue("ticker")
	if err := s.watches.DeleteWatch(r.Context(), ticker); err != nil {
		if errors.Is(err, storage.ErrWatchNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Watch '%s' not found", ticker))
			return
		}
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Watch '%s' deleted successfully", ticker),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Snapshot())
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.info.Load())
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	ticker := r.PathValue("ticker")
	details, err := s.md.GetDetails(r.Context(), ticker)
	if err != nil {
		s.providerError(w, ticker, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ticker := r.PathValue("ticker")
	period := r.URL.Query().Get("period")
	interval := r.URL.Query().Get("interval")

	bars, err := s.md.GetHistory(r.Context(), ticker, period, interval)
	if err != nil {
		s.providerError(w, ticker, err)
		return
	}
	writeJSON(w, http.StatusOK, bars)
}

// providerError maps a missing ticker to 404 and any other upstream failure
// to 502, since the latter is retryable and the former is not.
func (s *Server) providerError(w http.ResponseWriter, ticker string, err error) {
	if errors.Is(err, provider.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Ticker '%s' not found", ticker))
		return
	}
	s.logger.Error().Err(err).Str("ticker", ticker).Msg("market data request failed")
	writeError(w, http.StatusBadGateway, "market data unavailable")
}

func (s *Server) cors(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(s.cfg.AllowedOrigins))
	for _, origin := range s.cfg.AllowedOrigins {
		allowed[origin] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
