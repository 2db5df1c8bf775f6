package handler

import (
	"context"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/service"
)

// BettingService is the part of service.BettingService the handlers call.
type BettingService interface {
	CreateMarket(ctx context.Context, caller domain.Caller, req service.CreateMarketRequest) (domain.Market, error)
	PlaceBet(ctx context.Context, caller domain.Caller, marketID string, amount uint64, side domain.Side) (domain.Bet, error)
	ResolveMarket(ctx context.Context, caller domain.Caller, marketID string, outcome domain.Side) (domain.Market, error)
	ClaimWinnings(ctx context.Context, caller domain.Caller, marketID, betID string) (service.ClaimResult, error)

	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.Market, error)
	GetBet(ctx context.Context, id string) (domain.Bet, error)
	ListBetsByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Bet, error)
	ListBetsByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Bet, error)
	Balance(ctx context.Context, account string) (uint64, error)
	Deposit(ctx context.Context, account string, amount uint64) (uint64, error)
}

var _ BettingService = (*service.BettingService)(nil)

// marketView adds the derived lifecycle phase to a market.
type marketView struct {
	domain.Market
	Phase domain.Phase `json:"phase"`
}

func viewMarket(m domain.Market, now time.Time) marketView {
	return marketView{Market: m, Phase: m.Phase(now)}
}
