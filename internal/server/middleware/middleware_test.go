package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/crypto"
	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/store/memory"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		key    string
		header func(h http.Header)
		want   int
	}{
		{"disabled", "", func(http.Header) {}, http.StatusForbidden},
		{"missing", "k", func(http.Header) {}, http.StatusUnauthorized},
		{"wrong", "k", func(h http.Header) { h.Set("X-API-Key", "nope") }, http.StatusUnauthorized},
		{"bearer", "k", func(h http.Header) { h.Set("Authorization", "Bearer k") }, http.StatusNoContent},
		{"header", "k", func(h http.Header) { h.Set("X-API-Key", "k") }, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/admin/deposit", nil)
			tt.header(req.Header)
			rec := httptest.NewRecorder()
			Auth(tt.key)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSignatureAttachesCaller(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	now := time.Unix(1_800_000_000, 0)

	var got domain.Caller
	var gotBody string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := CallerFrom(r.Context())
		require.True(t, ok)
		got = c
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	})
	h := Signature(SignatureConfig{Window: time.Minute, Now: func() time.Time { return now }})(next)

	body := `{"amount":5,"side":"yes"}`
	req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/bets", strings.NewReader(body))
	require.NoError(t, signer.SignRequest(req.Header, req.Method, req.URL.Path, []byte(body), now))
	req.Header.Set(crypto.HeaderAddress, strings.ToLower(signer.Address()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, signer.Address(), got.Address, "address is canonicalised")
	assert.Equal(t, body, gotBody, "body is still readable")
	require.NoError(t, crypto.NewVerifier().Verify(context.Background(), got))
}

func TestSignatureRejections(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	now := time.Unix(1_800_000_000, 0)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := CallerFrom(r.Context())
		if ok {
			w.WriteHeader(http.StatusAccepted)
		}
	})
	h := Signature(SignatureConfig{
		Window: time.Minute,
		Now:    func() time.Time { return now },
		Replay: memory.NewLockManager(),
	})(next)

	signed := func(ts time.Time) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/markets", strings.NewReader("{}"))
		require.NoError(t, signer.SignRequest(req.Header, req.Method, req.URL.Path, []byte("{}"), ts))
		return req
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "anonymous requests pass without a caller")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signed(now.Add(-2*time.Minute)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "stale_signature")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signed(now))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signed(now))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "replayed_signature")

	req := signed(now.Add(time.Second))
	req.Header.Set(crypto.HeaderAddress, "alice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestForgedSignatureDoesNotBurnReplayKey(t *testing.T) {
	victim, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	forgerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	forger, err := crypto.NewSigner(forgerKey)
	require.NoError(t, err)
	now := time.Unix(1_800_000_000, 0)

	h := Signature(SignatureConfig{
		Window: time.Minute,
		Now:    func() time.Time { return now },
		Replay: memory.NewLockManager(),
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	const path = "/api/markets/m1/bets/b1/claim"

	forged := httptest.NewRequest(http.MethodPost, path, nil)
	require.NoError(t, forger.SignRequest(forged.Header, http.MethodPost, path, nil, now))
	forged.Header.Set(crypto.HeaderAddress, victim.Address())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_signature")

	garbage := httptest.NewRequest(http.MethodPost, path, nil)
	require.NoError(t, victim.SignRequest(garbage.Header, http.MethodPost, path, nil, now))
	garbage.Header.Set(crypto.HeaderSignature, "0x"+strings.Repeat("ab", 65))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, garbage)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	genuine := httptest.NewRequest(http.MethodPost, path, nil)
	require.NoError(t, victim.SignRequest(genuine.Header, http.MethodPost, path, nil, now))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, genuine)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestRateLimitKeysOnVerifiedCaller(t *testing.T) {
	h := RateLimit(NewLocalLimiter(), 1, time.Hour, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	withCaller := func(addr string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/markets", nil)
		req.RemoteAddr = "10.0.0.9:5555"
		return req.WithContext(context.WithValue(req.Context(), callerKey{}, domain.Caller{Address: addr}))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withCaller("0x00000000000000000000000000000000000000A1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, withCaller("0x00000000000000000000000000000000000000A1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A claimed but unverified address header falls back to the IP bucket.
	req := httptest.NewRequest(http.MethodPost, "/api/markets", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	req.Header.Set(crypto.HeaderAddress, "0x00000000000000000000000000000000000000A1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLocalLimiterDropsIdleBuckets(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	l := NewLocalLimiter()
	l.nowFn = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < limiterPruneThreshold; i++ {
		_, err := l.Allow(ctx, "ip:"+strconv.Itoa(i), 5, time.Minute)
		require.NoError(t, err)
	}
	require.Equal(t, limiterPruneThreshold, l.Len())

	now = now.Add(30 * time.Second)
	_, _ = l.Allow(ctx, "ip:0", 5, time.Minute)

	now = now.Add(45 * time.Second)
	ok, err := l.Allow(ctx, "fresh", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, l.Len(), "only the recently used and the new bucket survive")
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "k", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "k", 3, time.Hour)
	assert.False(t, ok)
	ok, _ = l.Allow(ctx, "other", 3, time.Hour)
	assert.True(t, ok)
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimit(NewLocalLimiter(), 1, time.Hour, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	req.RemoteAddr = "10.0.0.2:5555"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggingSetsRequestID(t *testing.T) {
	h := Logging(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}
