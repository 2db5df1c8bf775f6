package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/crypto"
	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// MaxBodyBytes caps request bodies read for signing.
const MaxBodyBytes = 1 << 20

type callerKey struct{}

// CallerFrom returns the caller attached by Signature.
func CallerFrom(ctx context.Context) (domain.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(domain.Caller)
	return c, ok
}

// SignatureConfig controls how signed requests are accepted.
type SignatureConfig struct {
	// Window is the maximum distance between the signed timestamp and now.
	Window time.Duration
	Now    func() time.Time
	// Identity checks the signature before the caller is trusted for
	// anything. Defaults to crypto.NewVerifier().
	Identity domain.Identity
	// Replay, when set, rejects a signed message seen within the last two
	// windows.
	Replay domain.LockManager
	Logger *slog.Logger
}

// Signature turns the X-Parimutuel-* headers into a domain.Caller on the
// request context once the signature is verified. Requests without an
// address header pass through anonymously; the service rejects them where a
// caller is needed.
func Signature(cfg SignatureConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.Identity == nil {
		cfg.Identity = crypto.NewVerifier()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawAddr := r.Header.Get(crypto.HeaderAddress)
			if rawAddr == "" {
				next.ServeHTTP(w, r)
				return
			}

			addr, ok := crypto.CanonicalAddress(rawAddr)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "malformed caller address")
				return
			}

			ts, err := strconv.ParseInt(r.Header.Get(crypto.HeaderTimestamp), 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or malformed signature timestamp")
				return
			}
			if skew := cfg.Now().Sub(time.Unix(ts, 0)); skew > cfg.Window || skew < -cfg.Window {
				writeError(w, http.StatusUnauthorized, "stale_signature", "signature timestamp outside the accepted window")
				return
			}

			sig, err := hex.DecodeString(strings.TrimPrefix(r.Header.Get(crypto.HeaderSignature), "0x"))
			if err != nil || len(sig) == 0 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or malformed signature")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
					return
				}
				writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller := domain.Caller{
				Address:   addr,
				Message:   crypto.RequestMessage(r.Method, r.URL.Path, ts, body),
				Signature: sig,
			}

			if err := cfg.Identity.Verify(r.Context(), caller); err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_signature", "signature does not match caller address")
				return
			}

			// Only verified callers reach the replay guard. Keyed on the
			// signed message, not the signature bytes, which have more than
			// one valid encoding.
			if cfg.Replay != nil {
				digest := sha256.Sum256(append([]byte(addr+"\n"), caller.Message...))
				_, err := cfg.Replay.Acquire(r.Context(), "replay:"+hex.EncodeToString(digest[:]), 2*cfg.Window)
				if errors.Is(err, domain.ErrLockHeld) {
					writeError(w, http.StatusUnauthorized, "replayed_signature", "signature already used")
					return
				}
				if err != nil && cfg.Logger != nil {
					cfg.Logger.WarnContext(r.Context(), "replay guard unavailable",
						slog.String("error", err.Error()),
					)
				}
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
		})
	}
}
