package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/parimutuel/internal/crypto"
)

// AccountHandler serves ledger balances and the operator faucet.
type AccountHandler struct {
	svc    BettingService
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(svc BettingService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, logger: logger}
}

type balanceResponse struct {
	Account string `json:"account"`
	Balance uint64 `json:"balance"`
}

type depositRequest struct {
	Account string `json:"account" validate:"required,eth_addr"`
	Amount  uint64 `json:"amount"`
}

// Balance returns an account's ledger balance.
// GET /api/accounts/{address}/balance
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account, ok := crypto.CanonicalAddress(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed address")
		return
	}
	bal, err := h.svc.Balance(r.Context(), account)
	if err != nil {
		writeServiceError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: account, Balance: bal})
}

// Deposit credits an account from outside the ledger.
// POST /api/admin/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	account, _ := crypto.CanonicalAddress(req.Account)

	bal, err := h.svc.Deposit(r.Context(), account, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "deposit", err)
		return
	}
	h.logger.InfoContext(r.Context(), "deposit credited",
		slog.String("account", account),
		slog.Uint64("amount", req.Amount),
	)
	writeJSON(w, http.StatusOK, balanceResponse{Account: account, Balance: bal})
}
