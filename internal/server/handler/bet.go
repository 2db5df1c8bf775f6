package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/parimutuel/internal/crypto"
	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// BetHandler serves bet and claim endpoints.
type BetHandler struct {
	svc    BettingService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(svc BettingService, logger *slog.Logger) *BetHandler {
	return &BetHandler{svc: svc, logger: logger}
}

type placeBetRequest struct {
	Amount uint64 `json:"amount"`
	Side   string `json:"side" validate:"required,oneof=yes no"`
}

type claimResponse struct {
	Bet    domain.Bet `json:"bet"`
	Stake  uint64     `json:"stake"`
	Share  uint64     `json:"share"`
	Payout uint64     `json:"payout"`
}

type listBetsResponse struct {
	Bets   []domain.Bet `json:"bets"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// PlaceBet stakes the caller's funds on one side.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	bet, err := h.svc.PlaceBet(r.Context(), caller(r), r.PathValue("id"), req.Amount, parseSide(req.Side))
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// ListMarketBets returns a market's bets in placement order.
// GET /api/markets/{id}/bets
func (h *BetHandler) ListMarketBets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	bets, err := h.svc.ListBetsByMarket(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list market bets", err)
		return
	}
	h.writeBets(w, bets, opts)
}

// ListAccountBets returns an owner's bets.
// GET /api/accounts/{address}/bets
func (h *BetHandler) ListAccountBets(w http.ResponseWriter, r *http.Request) {
	owner, ok := crypto.CanonicalAddress(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed address")
		return
	}
	opts := parseListOpts(r)
	bets, err := h.svc.ListBetsByOwner(r.Context(), owner, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list account bets", err)
		return
	}
	h.writeBets(w, bets, opts)
}

func (h *BetHandler) writeBets(w http.ResponseWriter, bets []domain.Bet, opts domain.ListOpts) {
	if bets == nil {
		bets = []domain.Bet{}
	}
	writeJSON(w, http.StatusOK, listBetsResponse{Bets: bets, Limit: opts.Limit, Offset: opts.Offset})
}

// GetBet returns one bet.
// GET /api/bets/{id}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	bet, err := h.svc.GetBet(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get bet", err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// Claim pays out a winning bet to its owner.
// POST /api/markets/{id}/bets/{betID}/claim
func (h *BetHandler) Claim(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ClaimWinnings(r.Context(), caller(r), r.PathValue("id"), r.PathValue("betID"))
	if err != nil {
		writeServiceError(w, r, h.logger, "claim winnings", err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{
		Bet:    res.Bet,
		Stake:  res.Claim.Stake,
		Share:  res.Claim.Share,
		Payout: res.Claim.Payout,
	})
}
