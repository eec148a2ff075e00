// Package fees splits settled escrow amounts between the freelancer and the
// protocol treasury.
package fees

import (
	"fmt"

	"github.com/holiman/uint256"

	"gigescrow/internal/domain"
)

// MaxRateBps is 100% expressed in basis points.
const MaxRateBps = 10000

var bpsDenominator = uint256.NewInt(MaxRateBps)

// Distributor applies a fixed protocol fee rate.
type Distributor struct {
	rateBps uint32
}

// New returns a Distributor charging rateBps basis points.
func New(rateBps uint32) (Distributor, error) {
	if rateBps > MaxRateBps {
		return Distributor{}, fmt.Errorf("%w: %d bps exceeds %d", domain.ErrInvalidRate, rateBps, MaxRateBps)
	}
	return Distributor{rateBps: rateBps}, nil
}

func (d Distributor) RateBps() uint32 {
	return d.rateBps
}

// Split returns the freelancer payout and the treasury fee for amount. The fee
// rounds down, and payout+fee always equals amount.
func (d Distributor) Split(amount uint64) (payout, fee uint64) {
	if amount == 0 || d.rateBps == 0 {
		return amount, 0
	}
	product := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(uint64(d.rateBps)))
	fee = product.Div(product, bpsDenominator).Uint64()
	return amount - fee, fee
}
