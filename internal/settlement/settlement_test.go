package settlement

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

func TestSidePools(t *testing.T) {
	w, l := SidePools(domain.SideYes)
	assert.Equal(t, domain.SideYes, w)
	assert.Equal(t, domain.SideNo, l)

	w, l = SidePools(domain.SideNo)
	assert.Equal(t, domain.SideNo, w)
	assert.Equal(t, domain.SideYes, l)
}

func TestFee(t *testing.T) {
	tests := []struct {
		name string
		pool uint64
		bps  uint64
		want uint64
	}{
		{"twenty percent", 100, 2000, 20},
		{"rounds down", 99, 2000, 19},
		{"zero rate", 100, 0, 0},
		{"empty pool", 0, 2000, 0},
		{"full rate", 77, BpsDenominator, 77},
		{"max pool", math.MaxUint64, 2000, math.MaxUint64 / 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Fee(tt.pool, tt.bps)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Fee(100, BpsDenominator+1)
	assert.Error(t, err)
}

func TestComputeWithoutFee(t *testing.T) {
	market := domain.Market{
		TotalYes:       300,
		TotalNo:        100,
		Resolved:       true,
		WinningOutcome: domain.SideYes,
		SettlementPool: 100,
	}
	bet := domain.Bet{Amount: 30, Side: domain.SideYes}

	claim, err := Compute(market, bet)
	require.NoError(t, err)
	assert.Equal(t, Claim{Stake: 30, Share: 10, Payout: 40}, claim)
}

func TestComputeWithFee(t *testing.T) {
	fee, err := Fee(100, 2000)
	require.NoError(t, err)
	require.Equal(t, uint64(20), fee)

	market := domain.Market{
		TotalYes:       300,
		TotalNo:        100,
		Resolved:       true,
		WinningOutcome: domain.SideYes,
		FeeCollected:   fee,
		SettlementPool: 100 - fee,
	}
	claim, err := Compute(market, domain.Bet{Amount: 30, Side: domain.SideYes})
	require.NoError(t, err)
	assert.Equal(t, uint64(8), claim.Share)
	assert.Equal(t, uint64(38), claim.Payout)
}

func TestComputeNoWinningPool(t *testing.T) {
	market := domain.Market{
		TotalYes:       0,
		TotalNo:        500,
		Resolved:       true,
		WinningOutcome: domain.SideYes,
		SettlementPool: 400,
	}
	_, err := Compute(market, domain.Bet{Amount: 1, Side: domain.SideYes})
	assert.ErrorIs(t, err, domain.ErrNoWinningPool)
}

func TestComputeLargeValuesDoNotWrap(t *testing.T) {
	// pool*stake overflows 64 bits but the quotient fits.
	market := domain.Market{
		TotalNo:        math.MaxUint64 / 2,
		WinningOutcome: domain.SideNo,
		SettlementPool: math.MaxUint64 / 4,
	}
	claim, err := Compute(market, domain.Bet{Amount: math.MaxUint64 / 4, Side: domain.SideNo})
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64/8), claim.Share)
}

func TestComputePayoutOverflow(t *testing.T) {
	market := domain.Market{
		TotalYes:       math.MaxUint64,
		WinningOutcome: domain.SideYes,
		SettlementPool: math.MaxUint64,
	}
	_, err := Compute(market, domain.Bet{Amount: math.MaxUint64, Side: domain.SideYes})
	assert.ErrorIs(t, err, domain.ErrOverflow)
}

func TestShareRejectsStakeAboveTotal(t *testing.T) {
	_, err := Share(100, 11, 10)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestAddSub(t *testing.T) {
	_, err := Add(math.MaxUint64, 1)
	assert.ErrorIs(t, err, domain.ErrOverflow)

	_, err = Sub(1, 2)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)

	v, err := Sub(5, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)
}

// Every winner claiming against the same settlement pool can never take more
// than the pool holds, whatever the stake distribution.
func TestSharesNeverExceedPool(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		stakes := rapid.SliceOfN(rapid.Uint64Range(1, 1_000_000_000), 1, 50).Draw(t, "stakes")
		pool := rapid.Uint64Range(0, 1<<50).Draw(t, "pool")

		var total uint64
		for _, s := range stakes {
			total += s
		}

		var paid uint64
		for _, s := range stakes {
			share, err := Share(pool, s, total)
			if err != nil {
				t.Fatalf("share: %v", err)
			}
			paid += share
		}
		if paid > pool {
			t.Fatalf("shares %d exceed pool %d", paid, pool)
		}
	})
}
