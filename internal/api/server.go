// Package api is the HTTP control surface: operator start/stop, config
// patching, status, and trade history.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/perp_sentinel/internal/botlog"
	"github.com/eddiefleurent/perp_sentinel/internal/config"
	"github.com/eddiefleurent/perp_sentinel/internal/exchange"
	"github.com/eddiefleurent/perp_sentinel/internal/models"
	"github.com/eddiefleurent/perp_sentinel/internal/storage"
)

const (
	maxPatchBytes  = 1 << 20
	statusLogLines = 50
	maxPageSize    = 100
)

// EngineControl is the subset of the engine the API drives.
type EngineControl interface {
	Start(ctx context.Context) error
	Stop() error
	ClosePosition(ctx context.Context) error
}

// Server wires the control endpoints to the engine and store.
type Server struct {
	store  storage.Interface
	engine EngineControl
	exch   exchange.Exchange
	log    *botlog.Logger
	token  string
}

// New builds a Server. An empty token disables authentication.
func New(store storage.Interface, engine EngineControl, exch exchange.Exchange, log *botlog.Logger, token string) *Server {
	return &Server{store: store, engine: engine, exch: exch, log: log, token: token}
}

// envelope is the uniform response shape.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Router assembles the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/bot", func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/status", s.handleStatus)
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Post("/close", s.handleClose)
		r.Patch("/config", s.handleConfigPatch)
		r.Get("/history", s.handleHistory)
	})
	return r
}

// auth requires a bearer token on everything under /bot. The health
// probe stays open for load balancers.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			s.respond(w, http.StatusUnauthorized, envelope{Success: false, Message: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) respond(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.log.Warn("API", "response encode failed", map[string]any{"error": err.Error()})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, envelope{Success: true, Data: map[string]string{"status": "ok"}})
}

// statusPayload is the full operator view. Balance degradation never
// turns into an error status: a monitoring page must always render.
type statusPayload struct {
	State               models.BotState    `json:"state"`
	Config              *config.Trading    `json:"config"`
	Stats               storage.Statistics `json:"stats"`
	AvailableBalance    decimal.Decimal    `json:"available_balance"`
	BalanceError        string             `json:"balance_error,omitempty"`
	PersistenceDegraded bool               `json:"persistence_degraded"`
	Logs                []string           `json:"logs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := statusPayload{
		State:               s.store.State(),
		Config:              s.store.Config(),
		Stats:               s.store.Stats(),
		PersistenceDegraded: s.store.Dirty(),
		Logs:                s.log.Recent(statusLogLines),
	}
	balance, err := s.exch.FetchAvailableBalance(r.Context())
	if err != nil {
		payload.BalanceError = err.Error()
	} else {
		payload.AvailableBalance = balance
	}
	s.respond(w, http.StatusOK, envelope{Success: true, Data: payload})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Start(r.Context()); err != nil {
		s.respond(w, http.StatusInternalServerError, envelope{Success: false, Message: err.Error()})
		return
	}
	s.log.Info("API", "start requested", nil)
	s.respond(w, http.StatusOK, envelope{Success: true, Message: "engine started"})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Stop(); err != nil {
		s.respond(w, http.StatusInternalServerError, envelope{Success: false, Message: err.Error()})
		return
	}
	s.log.Info("API", "stop requested", nil)
	s.respond(w, http.StatusOK, envelope{Success: true, Message: "engine stopped, open position untouched"})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if s.store.State().CurrentPosition == nil {
		s.respond(w, http.StatusConflict, envelope{Success: false, Message: "no open position"})
		return
	}
	if err := s.engine.ClosePosition(r.Context()); err != nil {
		s.respond(w, http.StatusInternalServerError, envelope{Success: false, Message: err.Error()})
		return
	}
	s.log.Info("API", "operator close requested", nil)
	s.respond(w, http.StatusOK, envelope{Success: true, Message: "position closed"})
}

// handleConfigPatch deep-merges a partial config document. The merged
// result takes effect at the next scheduler tick.
func (s *Server) handleConfigPatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPatchBytes))
	if err != nil {
		s.respond(w, http.StatusBadRequest, envelope{Success: false, Message: "unreadable body"})
		return
	}
	merged, err := s.store.Config().ApplyPatch(body)
	if err != nil {
		s.respond(w, http.StatusBadRequest, envelope{Success: false, Message: err.Error()})
		return
	}
	if err := s.store.ReplaceConfig(merged); err != nil {
		s.respond(w, http.StatusInternalServerError, envelope{Success: false, Message: err.Error()})
		return
	}
	s.log.Info("API", "config updated", nil)
	s.respond(w, http.StatusOK, envelope{Success: true, Message: "config updated", Data: merged})
}

type historyPayload struct {
	Trades   []models.TradeRecord `json:"trades"`
	Total    int                  `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"pageSize"`
	Stats    storage.Statistics   `json:"stats"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", 20)
	if page < 1 || pageSize < 1 {
		s.respond(w, http.StatusBadRequest, envelope{Success: false, Message: "page and pageSize must be positive"})
		return
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	trades, total := s.store.History(page, pageSize)
	s.respond(w, http.StatusOK, envelope{Success: true, Data: historyPayload{
		Trades:   trades,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Stats:    s.store.Stats(),
	}})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

// ListenAndServe runs the server until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
