// Package pricing implements the automated market-maker price formula
// for binary outcome events.
//
// Prices are quoted as integer percents in [0, 100] and derived solely
// from the outstanding share quantities on each side and the liquidity
// constant B. The formula is a logit over raw quantities: each price is
// a ratio of exponentials of quantity/B. Sell prices reference the
// quantity reduced by one (the share being sold back), floored at zero.
//
// Note the deliberate asymmetry in the sell denominators: the sell-for
// price is computed against the buy-side against-exponential, and the
// sell-against price against the buy-side for-exponential. This keeps
// consecutive buy/sell quotes continuous and must not be "corrected"
// into a symmetric form.
//
// Internal transcendental math uses max-subtraction so that extreme
// quantities saturate the ratio toward 0 or 1 instead of producing NaN.
package pricing

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidLiquidity is returned when B <= 0.
var ErrInvalidLiquidity = errors.New("pricing: liquidity constant B must be positive")

// Prices holds the four quoted prices for one event, each in [0, 100].
type Prices struct {
	BuyFor      int64 `json:"buy_for"`
	BuyAgainst  int64 `json:"buy_against"`
	SellFor     int64 `json:"sell_for"`
	SellAgainst int64 `json:"sell_against"`
}

// Calculate derives the four prices from the outstanding quantities and
// the liquidity constant. Pure function; negative quantities are clamped
// to zero before use.
func Calculate(quantityFor, quantityAgainst int64, liquidity decimal.Decimal) (Prices, error) {
	if liquidity.LessThanOrEqual(decimal.Zero) {
		return Prices{}, ErrInvalidLiquidity
	}

	b := liquidity.InexactFloat64()

	qFor := float64(max64(0, quantityFor))
	qAgainst := float64(max64(0, quantityAgainst))
	qForSell := math.Max(0, qFor-1)
	qAgainstSell := math.Max(0, qAgainst-1)

	return Prices{
		BuyFor:      toPercent(ratio(qFor/b, qAgainst/b)),
		BuyAgainst:  toPercent(ratio(qAgainst/b, qFor/b)),
		SellFor:     toPercent(ratio(qForSell/b, qAgainst/b)),
		SellAgainst: toPercent(ratio(qAgainstSell/b, qFor/b)),
	}, nil
}

// ratio computes exp(x) / (exp(x) + exp(y)) with max-subtraction so the
// exponentials never overflow float64.
func ratio(x, y float64) float64 {
	m := math.Max(x, y)
	ex := math.Exp(x - m)
	ey := math.Exp(y - m)
	return ex / (ex + ey)
}

// toPercent scales a [0,1] ratio to an integer percent, rounding half
// away from zero.
func toPercent(v float64) int64 {
	return int64(math.Round(100 * v))
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
