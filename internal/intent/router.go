// Package intent implements the Intent Router: the webhook ingress that
// accepts a trading signal, resolves it against the hot-reloaded routing
// table, and normalizes it into a Fleet Controller dispatch.
package intent

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/fleet"
)

// FleetDispatcher is the subset of *fleet.Controller the Router depends on.
type FleetDispatcher interface {
	CallMany(ctx context.Context, accountNames []string, method string, args map[string]any) domain.CommandRecord
}

// ConfigSource is the subset of *config.Store the Router depends on.
type ConfigSource interface {
	Routing(strategyName string) domain.RoutingEntry
	Defaults(symbol string) domain.TradingDefaults
}

// Intent is the normalized shape of an inbound webhook payload, per
// spec.md §4.7. Symbol is the only required field.
type Intent struct {
	Symbol          string  `json:"symbol"`
	Action          string  `json:"action"` // Buy | Sell
	OrderQty        float64 `json:"orderQty"`
	OrderType       string  `json:"orderType"` // Market | Limit | Stop
	EntryPrice      float64 `json:"entryPrice"`
	TakeProfitPrice float64 `json:"takeProfitPrice"`
	TradeType       string  `json:"tradeType"` // Open | Close
	Strategy        string  `json:"strategy"`
}

// Router is the HTTP handler set for webhook ingress. No idempotency layer
// exists at this level - callers must not retry on timeout without
// reconciling via read_state first, per spec.md §4.7.
type Router struct {
	dispatcher FleetDispatcher
	cfg        ConfigSource
	log        zerolog.Logger
}

// NewRouter constructs a Router.
func NewRouter(dispatcher FleetDispatcher, cfg ConfigSource, log zerolog.Logger) *Router {
	return &Router{
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log.With().Str("component", "intent_router").Logger(),
	}
}

// RegisterRoutes mounts the webhook endpoint.
func (rt *Router) RegisterRoutes(r chi.Router) {
	r.Post("/webhook", rt.HandleWebhook)
}

// HandleWebhook handles POST /webhook.
func (rt *Router) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var in Intent
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		rt.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if in.Symbol == "" {
		rt.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	entry := rt.cfg.Routing(in.Strategy)
	method, args := normalize(in, rt.cfg.Defaults(in.Symbol))

	record := rt.dispatcher.CallMany(r.Context(), entry.AccountSet, method, args)
	rt.writeJSON(w, record.Aggregate())
}

// normalize maps an Intent onto a Fleet Controller method/args pair,
// filling unset scalars from the resolved symbol's trading defaults.
func normalize(in Intent, defaults domain.TradingDefaults) (string, map[string]any) {
	qty := in.OrderQty
	if qty == 0 {
		qty = defaults.Quantity
	}

	side := "buy"
	if in.Action == "Sell" {
		side = "sell"
	}

	tickSize := defaults.TickOverrides[in.Symbol]

	if in.TradeType == "Close" {
		return fleet.MethodExit, map[string]any{"symbol": in.Symbol}
	}

	return fleet.MethodEnter, map[string]any{
		"symbol":    in.Symbol,
		"qty":       qty,
		"side":      side,
		"tp_ticks":  defaults.TPTicks,
		"sl_ticks":  defaults.SLTicks,
		"tick_size": tickSize,
	}
}

func (rt *Router) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		rt.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (rt *Router) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
