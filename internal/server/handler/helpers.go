package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/server/middleware"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// Report JSON field names in validation errors.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// writeJSON marshals v and writes it with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// decode reads a JSON body into dst and validates it.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, middleware.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid request: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// caller returns the request's identity claim, or a zero Caller that the
// service rejects as unauthorized.
func caller(r *http.Request) domain.Caller {
	c, _ := middleware.CallerFrom(r.Context())
	return c
}

// parseListOpts reads limit and offset. Defaults: limit=50 (max 500).
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = n
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

func parseSide(v string) domain.Side {
	s, _ := domain.ParseSide(v)
	return s
}

// errorStatus maps service errors to HTTP status and a stable code.
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{domain.ErrInvalidQuestionLength, http.StatusBadRequest, "invalid_question_length"},
	{domain.ErrInvalidCloseTime, http.StatusBadRequest, "invalid_close_time"},
	{domain.ErrBetAmountInvalid, http.StatusBadRequest, "bet_amount_invalid"},
	{domain.ErrBettingClosed, http.StatusConflict, "betting_closed"},
	{domain.ErrBetExists, http.StatusConflict, "bet_exists"},
	{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{domain.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
	{domain.ErrNotResolved, http.StatusConflict, "not_resolved"},
	{domain.ErrMarketNotClosed, http.StatusConflict, "market_not_closed"},
	{domain.ErrAlreadyClaimed, http.StatusConflict, "already_claimed"},
	{domain.ErrWrongBet, http.StatusUnprocessableEntity, "wrong_bet"},
	{domain.ErrMarketMismatch, http.StatusUnprocessableEntity, "market_mismatch"},
	{domain.ErrNoWinningPool, http.StatusUnprocessableEntity, "no_winning_pool"},
	{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{domain.ErrOverflow, http.StatusUnprocessableEntity, "overflow"},
}

// writeServiceError writes the mapped status for err. Unmapped errors and
// invariant violations are logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	if !errors.Is(err, domain.ErrInvariantViolation) {
		for _, m := range errorStatus {
			if errors.Is(err, m.err) {
				writeError(w, m.status, m.code, m.err.Error())
				return
			}
		}
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}
