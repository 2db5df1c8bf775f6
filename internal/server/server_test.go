package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/clock"
	"github.com/alanyoungcy/parimutuel/internal/crypto"
	"github.com/alanyoungcy/parimutuel/internal/events"
	"github.com/alanyoungcy/parimutuel/internal/server/handler"
	"github.com/alanyoungcy/parimutuel/internal/server/middleware"
	"github.com/alanyoungcy/parimutuel/internal/service"
	"github.com/alanyoungcy/parimutuel/internal/store/memory"
)

const adminKey = "test-admin-key"

type harness struct {
	t       *testing.T
	handler http.Handler
	clock   *clock.Manual
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	publisher := events.NewPublisher(events.NewMemoryBus(), memory.NewAuditStore(), nil, nil, logger)
	svc := service.NewBettingService(memory.New(), crypto.NewVerifier(), publisher, clk, service.DefaultBettingConfig(), logger)

	srv := NewServer(
		Config{AdminAPIKey: adminKey, SignatureWindow: time.Minute, RateLimit: 1000, RateWindow: time.Minute},
		Handlers{
			Health:   handler.NewHealthHandler(clk, nil, logger),
			Markets:  handler.NewMarketHandler(svc, clk, logger),
			Bets:     handler.NewBetHandler(svc, logger),
			Accounts: handler.NewAccountHandler(svc, logger),
		},
		Deps{Limiter: middleware.NewLocalLimiter(), Clock: clk},
		logger,
	)
	return &harness{t: t, handler: srv.Handler(), clock: clk}
}

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := crypto.NewSigner(key)
	require.NoError(t, err)
	return s
}

// do sends a request, signed by s when s is non-nil, and decodes the JSON
// response into out when out is non-nil.
func (h *harness) do(s *crypto.Signer, method, path string, body any, out any) *httptest.ResponseRecorder {
	h.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(h.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	if s != nil {
		require.NoError(h.t, s.SignRequest(req.Header, method, path, raw, h.clock.Now()))
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func (h *harness) deposit(account string, amount uint64) {
	h.t.Helper()
	raw, _ := json.Marshal(map[string]any{"account": account, "amount": amount})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/deposit", bytes.NewReader(raw))
	req.Header.Set("X-API-Key", adminKey)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
}

type errBody struct {
	Code string `json:"code"`
}

func code(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e errBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e.Code
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	authority, alice, bob := newSigner(t), newSigner(t), newSigner(t)

	var market struct {
		ID        string `json:"id"`
		Authority string `json:"authority"`
		Phase     string `json:"phase"`
		Category  string `json:"category"`
	}
	rec := h.do(authority, http.MethodPost, "/api/markets", map[string]any{
		"question":         "Will the integration test pass today?",
		"duration_seconds": 3600,
		"category":         "ci",
	}, &market)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, authority.Address(), market.Authority)
	assert.Equal(t, "open", market.Phase)
	assert.Equal(t, "ci", market.Category)

	h.deposit(alice.Address(), 500)
	h.deposit(bob.Address(), 500)

	betPath := "/api/markets/" + market.ID + "/bets"

	rec = h.do(nil, http.MethodPost, betPath, map[string]any{"amount": 10, "side": "yes"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(alice, http.MethodPost, betPath, map[string]any{"amount": 10, "side": "maybe"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(alice, http.MethodPost, betPath, map[string]any{"amount": 0, "side": "yes"}, nil)
	assert.Equal(t, "bet_amount_invalid", code(t, rec))

	var aliceBet struct {
		ID string `json:"id"`
	}
	rec = h.do(alice, http.MethodPost, betPath, map[string]any{"amount": 300, "side": "yes"}, &aliceBet)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var bobBet struct {
		ID string `json:"id"`
	}
	rec = h.do(bob, http.MethodPost, betPath, map[string]any{"amount": 100, "side": "no"}, &bobBet)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(alice, http.MethodPost, betPath, map[string]any{"amount": 5, "side": "no"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "bet_exists", code(t, rec))

	resolvePath := "/api/markets/" + market.ID + "/resolve"
	rec = h.do(authority, http.MethodPost, resolvePath, map[string]any{"outcome": "yes"}, nil)
	assert.Equal(t, "market_not_closed", code(t, rec))

	h.clock.Advance(2 * time.Hour)

	rec = h.do(alice, http.MethodPost, betPath, map[string]any{"amount": 5, "side": "yes"}, nil)
	assert.Equal(t, "betting_closed", code(t, rec))

	rec = h.do(alice, http.MethodPost, resolvePath, map[string]any{"outcome": "yes"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(authority, http.MethodPost, resolvePath, map[string]any{"outcome": "yes"}, &market)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "resolved", market.Phase)

	rec = h.do(bob, http.MethodPost, betPath+"/"+bobBet.ID+"/claim", nil, nil)
	assert.Equal(t, "wrong_bet", code(t, rec))

	var claim struct {
		Stake  uint64 `json:"stake"`
		Share  uint64 `json:"share"`
		Payout uint64 `json:"payout"`
	}
	rec = h.do(alice, http.MethodPost, betPath+"/"+aliceBet.ID+"/claim", nil, &claim)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(300), claim.Stake)
	assert.Equal(t, uint64(80), claim.Share, "20% fee leaves 80 of bob's 100")
	assert.Equal(t, uint64(380), claim.Payout)

	h.clock.Advance(time.Second)
	rec = h.do(alice, http.MethodPost, betPath+"/"+aliceBet.ID+"/claim", nil, nil)
	assert.Equal(t, "already_claimed", code(t, rec))

	var bal struct {
		Balance uint64 `json:"balance"`
	}
	rec = h.do(nil, http.MethodGet, "/api/accounts/"+alice.Address()+"/balance", nil, &bal)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(580), bal.Balance)

	var bets struct {
		Bets []json.RawMessage `json:"bets"`
	}
	rec = h.do(nil, http.MethodGet, betPath, nil, &bets)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, bets.Bets, 2)
}

func TestAdminAndReads(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/deposit", bytes.NewReader([]byte(`{"account":"0x0000000000000000000000000000000000000001","amount":5}`)))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	raw := []byte(`{"account":"bob","amount":5}`)
	req = httptest.NewRequest(http.MethodPost, "/api/admin/deposit", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+adminKey)
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(nil, http.MethodGet, "/api/markets/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(nil, http.MethodGet, "/api/markets?resolved=maybe", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(nil, http.MethodGet, "/api/accounts/not-an-address/balance", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(nil, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateMarketRejectsOversizedDuration(t *testing.T) {
	h := newHarness(t)
	authority := newSigner(t)

	rec := h.do(authority, http.MethodPost, "/api/markets", map[string]any{
		"question":         "Will this market close in the far future?",
		"duration_seconds": int64(18446744074),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	var market struct {
		CloseTime time.Time `json:"close_time"`
	}
	rec = h.do(authority, http.MethodPost, "/api/markets", map[string]any{
		"question":         "Will this market close at the longest duration?",
		"duration_seconds": int64(9223372036),
	}, &market)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, market.CloseTime.After(h.clock.Now().Add(200*365*24*time.Hour)))
}

func TestForgedSignatureDoesNotBlockOwner(t *testing.T) {
	h := newHarness(t)
	authority, forger := newSigner(t), newSigner(t)

	body := map[string]any{
		"question":         "Will the forged request be ignored?",
		"duration_seconds": 3600,
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	// Signed by another key but claiming the authority's address.
	req := httptest.NewRequest(http.MethodPost, "/api/markets", bytes.NewReader(raw))
	require.NoError(t, forger.SignRequest(req.Header, http.MethodPost, "/api/markets", raw, h.clock.Now()))
	req.Header.Set(crypto.HeaderAddress, authority.Address())
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_signature", code(t, rec))

	rec = h.do(authority, http.MethodPost, "/api/markets", body, nil)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
