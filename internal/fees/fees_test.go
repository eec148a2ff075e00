package fees

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"gigescrow/internal/domain"
)

func TestNewRejectsRateAboveHundredPercent(t *testing.T) {
	_, err := New(MaxRateBps + 1)
	require.ErrorIs(t, err, domain.ErrInvalidRate)

	d, err := New(MaxRateBps)
	require.NoError(t, err)
	require.Equal(t, uint32(MaxRateBps), d.RateBps())
}

func TestSplit(t *testing.T) {
	cases := []struct {
		name   string
		bps    uint32
		amount uint64
		payout uint64
		fee    uint64
	}{
		{"standard rate", 250, 40, 39, 1},
		{"rounds fee down", 250, 39, 39, 0},
		{"zero rate", 0, 1000, 1000, 0},
		{"full rate", MaxRateBps, 1000, 0, 1000},
		{"zero amount", 250, 0, 0, 0},
		{"large amount", 250, math.MaxUint64, math.MaxUint64 - math.MaxUint64/10000*250 - (math.MaxUint64%10000)*250/10000, math.MaxUint64/10000*250 + (math.MaxUint64%10000)*250/10000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := New(tc.bps)
			require.NoError(t, err)
			payout, fee := d.Split(tc.amount)
			require.Equal(t, tc.payout, payout)
			require.Equal(t, tc.fee, fee)
		})
	}
}

func TestSplitConservesAmount(t *testing.T) {
	for _, bps := range []uint32{0, 1, 99, 250, 333, 5000, 9999, MaxRateBps} {
		d, err := New(bps)
		require.NoError(t, err)
		for _, amount := range []uint64{1, 7, 40, 101, 9999, 10000, 123456789, math.MaxUint64} {
			payout, fee := d.Split(amount)
			require.Equal(t, amount, payout+fee, "bps=%d amount=%d", bps, amount)
			require.LessOrEqual(t, fee, amount)
		}
	}
}
