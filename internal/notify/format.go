package notify

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Formatter renders events for humans, scaling base units by a fixed number
// of decimals.
type Formatter struct {
	decimals int32
	symbol   string
}

// NewFormatter creates a Formatter. With decimals 6 and symbol "USDC",
// 2500000 base units render as "2.5 USDC".
func NewFormatter(decimals int32, symbol string) *Formatter {
	return &Formatter{decimals: decimals, symbol: symbol}
}

// Amount renders base units in display units.
func (f *Formatter) Amount(v uint64) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(v), -f.decimals)
	if f.symbol == "" {
		return d.String()
	}
	return d.String() + " " + f.symbol
}

// Format returns a title and body for ev.
func (f *Formatter) Format(ev domain.Event) (string, string) {
	question := ev.MarketID
	if ev.Market != nil {
		question = ev.Market.Question
	}

	switch ev.Type {
	case domain.EventMarketCreated:
		body := question
		if ev.Market != nil {
			body = fmt.Sprintf("%s\nBetting closes %s", question, ev.Market.CloseTime.UTC().Format("2006-01-02 15:04 MST"))
		}
		return "New market", body
	case domain.EventBetPlaced:
		if ev.Bet == nil {
			return "Bet placed", question
		}
		return "Bet placed", fmt.Sprintf("%s\n%s on %s by %s",
			question, f.Amount(ev.Bet.Amount), ev.Bet.Side, ev.Bet.Owner)
	case domain.EventBettingClosed:
		if ev.Market == nil {
			return "Betting closed", question
		}
		return "Betting closed", fmt.Sprintf("%s\nyes %s / no %s",
			question, f.Amount(ev.Market.TotalYes), f.Amount(ev.Market.TotalNo))
	case domain.EventMarketResolved:
		if ev.Market == nil {
			return "Market resolved", question
		}
		return "Market resolved", fmt.Sprintf("%s\nOutcome: %s, fee %s, pool %s",
			question, ev.Market.WinningOutcome, f.Amount(ev.Fee), f.Amount(ev.Market.SettlementPool))
	case domain.EventWinningsClaimed:
		owner := ""
		if ev.Bet != nil {
			owner = " to " + ev.Bet.Owner
		}
		return "Winnings claimed", fmt.Sprintf("%s\nPaid %s%s", question, f.Amount(ev.Payout), owner)
	default:
		return string(ev.Type), question
	}
}
