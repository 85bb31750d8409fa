// Package dashboard implements the Dashboard API: read endpoints over the
// Fleet Controller's instance snapshot, write endpoints that proxy into
// the Fleet Controller and Intent Router, and an additive SSE stream over
// the event bus.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/fleet"
)

// FleetSource is the subset of *fleet.Controller the Dashboard reads from
// and writes to.
type FleetSource interface {
	Snapshot() []domain.InstanceView
	CallOne(ctx context.Context, accountName, method string, args map[string]any) (domain.CommandResult, error)
	CallMany(ctx context.Context, accountNames []string, method string, args map[string]any) domain.CommandRecord
}

// WebhookHandler is the subset of *intent.Router the Dashboard mounts at
// POST /webhook.
type WebhookHandler interface {
	HandleWebhook(w http.ResponseWriter, r *http.Request)
}

// Handlers provides HTTP handlers for the Dashboard API.
type Handlers struct {
	fleet   FleetSource
	webhook WebhookHandler
	stream  *EventsStreamHandler
	log     zerolog.Logger
}

// NewHandlers creates a new Dashboard handlers instance.
func NewHandlers(fleet FleetSource, webhook WebhookHandler, stream *EventsStreamHandler, log zerolog.Logger) *Handlers {
	return &Handlers{
		fleet:   fleet,
		webhook: webhook,
		stream:  stream,
		log:     log.With().Str("component", "dashboard_handlers").Logger(),
	}
}

// RegisterRoutes mounts the Dashboard API on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/health", h.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/accounts", h.HandleListAccounts)
		r.Get("/events", h.stream.ServeHTTP)
		r.Post("/trade", h.HandleTrade)
		r.Post("/exit", h.HandleExit)
	})

	if h.webhook != nil {
		r.Post("/webhook", h.webhook.HandleWebhook)
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"})
}

// HandleListAccounts handles GET /api/accounts.
func (h *Handlers) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.fleet.Snapshot())
}

// TradeRequest is the body for POST /api/trade: a direct, operator-driven
// entry against one account or the whole fleet, bypassing strategy routing.
type TradeRequest struct {
	Symbol  string  `json:"symbol"`
	Qty     float64 `json:"qty"`
	Side    string  `json:"side"`
	TP      int     `json:"tp"`
	SL      int     `json:"sl"`
	Tick    float64 `json:"tick"`
	Account string  `json:"account,omitempty"`
}

// HandleTrade handles POST /api/trade. Distinct from /webhook, which
// resolves accounts via the routing table instead of accepting an account
// directly from the caller.
func (h *Handlers) HandleTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}
	if req.Qty <= 0 {
		http.Error(w, "qty must be positive", http.StatusBadRequest)
		return
	}
	if req.Side == "" {
		http.Error(w, "side is required", http.StatusBadRequest)
		return
	}

	args := map[string]any{
		"symbol":    req.Symbol,
		"qty":       req.Qty,
		"side":      strings.ToLower(req.Side),
		"tp_ticks":  req.TP,
		"sl_ticks":  req.SL,
		"tick_size": req.Tick,
	}

	record, err := h.dispatch(r.Context(), req.Account, fleet.MethodEnter, args)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeAggregate(w, record)
}

// ExitRequest is the body for POST /api/exit.
type ExitRequest struct {
	Symbol  string `json:"symbol"`
	Mode    string `json:"mode,omitempty"`
	Account string `json:"account,omitempty"`
}

// HandleExit handles POST /api/exit: a fleet-wide or single-account
// flatten, bypassing strategy routing the same way HandleTrade does.
func (h *Handlers) HandleExit(w http.ResponseWriter, r *http.Request) {
	var req ExitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	args := map[string]any{"symbol": req.Symbol}
	if req.Mode != "" {
		args["mode"] = req.Mode
	}

	record, err := h.dispatch(r.Context(), req.Account, fleet.MethodExit, args)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeAggregate(w, record)
}

// dispatch sends method/args to a single named account, or to every
// currently registered account when no account is given.
func (h *Handlers) dispatch(ctx context.Context, account, method string, args map[string]any) (domain.CommandRecord, error) {
	if account != "" {
		result, err := h.fleet.CallOne(ctx, account, method, args)
		if err != nil {
			return domain.CommandRecord{}, err
		}
		return domain.SingleAccountRecord(uuid.NewString(), method, account, args, result), nil
	}

	views := h.fleet.Snapshot()
	accounts := make([]string, 0, len(views))
	for _, v := range views {
		accounts = append(accounts, v.AccountName)
	}
	return h.fleet.CallMany(ctx, accounts, method, args), nil
}

// writeAggregate maps a CommandRecord onto the command-dispatch response
// shape and selects the status code: 504 when every account timed out,
// 200 otherwise (a mixed or fully-rejected outcome still reports success:
// false in the body rather than as an HTTP error).
func (h *Handlers) writeAggregate(w http.ResponseWriter, record domain.CommandRecord) {
	status := http.StatusOK
	if record.AllTimedOut() {
		status = http.StatusGatewayTimeout
	}
	h.writeJSONStatus(w, status, record.Aggregate())
}

func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}) {
	h.writeJSONStatus(w, http.StatusOK, data)
}

func (h *Handlers) writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
