package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/events"
)

type stubFleet struct {
	views        []domain.InstanceView
	callOneErr   error
	callOneKind  domain.ResultKind
	callManyKind domain.ResultKind
	lastMethod   string
	lastAccounts []string
}

func (s *stubFleet) Snapshot() []domain.InstanceView { return s.views }

func (s *stubFleet) CallOne(ctx context.Context, accountName, method string, args map[string]any) (domain.CommandResult, error) {
	s.lastMethod = method
	s.lastAccounts = []string{accountName}
	if s.callOneErr != nil {
		return domain.CommandResult{}, s.callOneErr
	}
	return domain.CommandResult{Kind: s.callOneKind}, nil
}

func (s *stubFleet) CallMany(ctx context.Context, accountNames []string, method string, args map[string]any) domain.CommandRecord {
	s.lastMethod = method
	s.lastAccounts = accountNames
	kind := s.callManyKind
	if kind == "" {
		kind = domain.Verified
	}
	results := make(map[string]domain.CommandResult, len(accountNames))
	for _, name := range accountNames {
		results[name] = domain.CommandResult{Kind: kind}
	}
	return domain.CommandRecord{CommandID: "test-id", Method: method, PerAccountResults: results}
}

type stubWebhook struct{ called bool }

func (s *stubWebhook) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	s.called = true
	w.WriteHeader(http.StatusOK)
}

func newTestHandlers() (*Handlers, *stubFleet, *stubWebhook) {
	fl := &stubFleet{views: []domain.InstanceView{{AccountName: "acct-1"}}, callOneKind: domain.Verified}
	wh := &stubWebhook{}
	stream := NewEventsStreamHandler(events.NewBus(zerolog.Nop()), zerolog.Nop())
	return NewHandlers(fl, wh, stream, zerolog.Nop()), fl, wh
}

func TestHandleHealth(t *testing.T) {
	h, _, _ := newTestHandlers()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleListAccounts(t *testing.T) {
	h, _, _ := newTestHandlers()
	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	rec := httptest.NewRecorder()
	h.HandleListAccounts(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "acct-1")
}

func TestHandleTrade_SingleAccount(t *testing.T) {
	h, fl, _ := newTestHandlers()
	body := `{"symbol":"NQ","qty":1,"side":"Buy","tp":100,"sl":40,"tick":0.25,"account":"acct-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/trade", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleTrade(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"acct-1"}, fl.lastAccounts)
	assert.Equal(t, "enter", fl.lastMethod)
}

func TestHandleTrade_NoAccountDispatchesToWholeFleet(t *testing.T) {
	h, fl, _ := newTestHandlers()
	fl.views = []domain.InstanceView{{AccountName: "acct-1"}, {AccountName: "acct-2"}}
	body := `{"symbol":"NQ","qty":1,"side":"Buy"}`
	req := httptest.NewRequest(http.MethodPost, "/api/trade", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleTrade(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"acct-1", "acct-2"}, fl.lastAccounts)
}

func TestHandleTrade_MissingSymbolIsBadRequest(t *testing.T) {
	h, _, _ := newTestHandlers()
	req := httptest.NewRequest(http.MethodPost, "/api/trade", strings.NewReader(`{"qty":1,"side":"Buy"}`))
	rec := httptest.NewRecorder()
	h.HandleTrade(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTrade_MissingQtyIsBadRequest(t *testing.T) {
	h, _, _ := newTestHandlers()
	req := httptest.NewRequest(http.MethodPost, "/api/trade", strings.NewReader(`{"symbol":"NQ","side":"Buy"}`))
	rec := httptest.NewRecorder()
	h.HandleTrade(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTrade_ResponseMatchesAggregateShape(t *testing.T) {
	h, _, _ := newTestHandlers()
	body := `{"symbol":"NQ","qty":1,"side":"Buy","tp":100,"sl":40,"tick":0.25}`
	req := httptest.NewRequest(http.MethodPost, "/api/trade", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleTrade(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.AggregateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Verified, 1)
	assert.Equal(t, "acct-1", resp.Verified[0].Account)
	assert.Empty(t, resp.Failed)
}

func TestHandleTrade_AllTimeoutReturns504(t *testing.T) {
	h, fl, _ := newTestHandlers()
	fl.callManyKind = domain.TimedOut
	body := `{"symbol":"NQ","qty":1,"side":"Buy"}`
	req := httptest.NewRequest(http.MethodPost, "/api/trade", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleTrade(rec, req)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	var resp domain.AggregateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, "timeout", resp.Failed[0].Error)
}

func TestHandleExit_RequiresSymbol(t *testing.T) {
	h, _, _ := newTestHandlers()
	req := httptest.NewRequest(http.MethodPost, "/api/exit", strings.NewReader(`{"account":"acct-1"}`))
	rec := httptest.NewRecorder()
	h.HandleExit(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExit_DispatchesExitMethod(t *testing.T) {
	h, fl, _ := newTestHandlers()
	body := `{"account":"acct-1","symbol":"ES"}`
	req := httptest.NewRequest(http.MethodPost, "/api/exit", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleExit(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "exit", fl.lastMethod)
}

func TestRegisterRoutes_MountsWebhook(t *testing.T) {
	h, _, wh := newTestHandlers()
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.True(t, wh.called)
}
