// Package settlement implements the pari-mutuel fee and payout arithmetic.
// All products are computed in 256-bit space so that intermediate values
// never wrap; a result that does not fit back into a uint64 is reported as
// domain.ErrOverflow.
package settlement

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// BpsDenominator is the number of basis points in 100%.
const BpsDenominator = 10_000

// SidePools maps a winning outcome to the (winner, loser) sides. Resolve and
// Claim both select pools through this function.
func SidePools(outcome domain.Side) (winner, loser domain.Side) {
	if outcome == domain.SideYes {
		return domain.SideYes, domain.SideNo
	}
	return domain.SideNo, domain.SideYes
}

// Fee returns floor(losingPool * feeBps / 10000).
func Fee(losingPool, feeBps uint64) (uint64, error) {
	if feeBps > BpsDenominator {
		return 0, fmt.Errorf("settlement: fee %d bps exceeds 100%%", feeBps)
	}
	return mulDiv(losingPool, feeBps, BpsDenominator)
}

// Claim is the breakdown of one winning bet's payout.
type Claim struct {
	Stake  uint64 // returned from the winning pool
	Share  uint64 // taken from the losing pool
	Payout uint64 // Stake + Share, credited to the owner
}

// Share returns floor(settlementPool * stake / totalWinning).
func Share(settlementPool, stake, totalWinning uint64) (uint64, error) {
	if totalWinning == 0 {
		return 0, domain.ErrNoWinningPool
	}
	if stake > totalWinning {
		return 0, fmt.Errorf("settlement: stake %d exceeds winning total %d: %w",
			stake, totalWinning, domain.ErrInvariantViolation)
	}
	return mulDiv(settlementPool, stake, totalWinning)
}

// Compute derives the claim for bet against a resolved market. It performs
// no precondition checks beyond those needed for the arithmetic; lifecycle
// checks belong to the caller.
func Compute(market domain.Market, bet domain.Bet) (Claim, error) {
	winner, _ := SidePools(market.WinningOutcome)
	share, err := Share(market.SettlementPool, bet.Amount, market.TotalFor(winner))
	if err != nil {
		return Claim{}, err
	}
	payout, err := Add(bet.Amount, share)
	if err != nil {
		return Claim{}, err
	}
	return Claim{Stake: bet.Amount, Share: share, Payout: payout}, nil
}

// Add returns a+b or domain.ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("settlement: %d + %d: %w", a, b, domain.ErrOverflow)
	}
	return sum, nil
}

// Sub returns a-b, treating a negative result as an invariant violation.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("settlement: %d - %d: %w", a, b, domain.ErrInvariantViolation)
	}
	return a - b, nil
}

func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, fmt.Errorf("settlement: division by zero: %w", domain.ErrInvariantViolation)
	}
	prod, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow {
		return 0, fmt.Errorf("settlement: %d * %d: %w", a, b, domain.ErrOverflow)
	}
	q := new(uint256.Int).Div(prod, uint256.NewInt(d))
	if !q.IsUint64() {
		return 0, fmt.Errorf("settlement: %d * %d / %d: %w", a, b, d, domain.ErrOverflow)
	}
	return q.Uint64(), nil
}
