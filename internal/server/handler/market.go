package handler

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/service"
)

// MarketHandler serves market endpoints.
type MarketHandler struct {
	svc    BettingService
	clock  domain.Clock
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(svc BettingService, clock domain.Clock, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{svc: svc, clock: clock, logger: logger}
}

// maxDurationSeconds is the largest duration_seconds that fits a
// time.Duration.
const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

type createMarketRequest struct {
	Question        string     `json:"question" validate:"required"`
	CloseTime       *time.Time `json:"close_time" validate:"required_without=DurationSeconds"`
	DurationSeconds int64      `json:"duration_seconds" validate:"omitempty,gt=0"`
	Category        string     `json:"category" validate:"omitempty,max=64"`
}

type resolveRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=yes no"`
}

type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets newest first.
// GET /api/markets?category=&authority=&resolved=true|false&limit=&offset=
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.MarketFilter{
		Category:  q.Get("category"),
		Authority: q.Get("authority"),
	}
	if v := q.Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "resolved must be true or false")
			return
		}
		filter.Resolved = &b
	}
	opts := parseListOpts(r)

	markets, err := h.svc.ListMarkets(r.Context(), filter, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}

	now := h.clock.Now()
	views := make([]marketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, viewMarket(m, now))
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: views, Limit: opts.Limit, Offset: opts.Offset})
}

// GetMarket returns one market with its phase.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, viewMarket(m, h.clock.Now()))
}

// CreateMarket opens a market owned by the signing caller.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.DurationSeconds > maxDurationSeconds {
		writeError(w, http.StatusBadRequest, "bad_request", "duration_seconds out of range")
		return
	}

	spec := domain.CloseSpec{Duration: time.Duration(req.DurationSeconds) * time.Second}
	if req.CloseTime != nil {
		spec.At = req.CloseTime.UTC()
	}

	m, err := h.svc.CreateMarket(r.Context(), caller(r), service.CreateMarketRequest{
		Question: req.Question,
		Close:    spec,
		Category: req.Category,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewMarket(m, h.clock.Now()))
}

// ResolveMarket records the outcome. Only the market's authority may call.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	m, err := h.svc.ResolveMarket(r.Context(), caller(r), r.PathValue("id"), parseSide(req.Outcome))
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}
	writeJSON(w, http.StatusOK, viewMarket(m, h.clock.Now()))
}
