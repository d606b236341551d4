package order

import (
	"math/big"
	"time"

	"tidepool/native/common"
)

// MeetsLimitPrice reports whether the market price (output units per input
// unit, as marketNum/marketDen) is at or above the limit target. Integer
// cross-multiplication avoids floating-point price comparison:
//
//	marketNum/marketDen >= targetNum/targetDen
//	<=> marketNum*targetDen >= targetNum*marketDen
func (o *Order) MeetsLimitPrice(marketNum, marketDen *big.Int) (bool, error) {
	if o.Type != TypeLimit {
		return false, common.NewInvalidParameters("order %s is not a limit order", o.ID)
	}
	if err := validateMarketPrice(marketNum, marketDen); err != nil {
		return false, err
	}
	lhs := new(big.Int).Mul(marketNum, o.PriceDenominator)
	rhs := new(big.Int).Mul(o.PriceNumerator, marketDen)
	return lhs.Cmp(rhs) >= 0, nil
}

// TriggersStopLoss reports whether the market price has fallen to or below
// the stop trigger:
//
//	marketNum*stopDen <= stopNum*marketDen
func (o *Order) TriggersStopLoss(marketNum, marketDen *big.Int) (bool, error) {
	if o.Type != TypeStopLoss {
		return false, common.NewInvalidParameters("order %s is not a stop-loss order", o.ID)
	}
	if err := validateMarketPrice(marketNum, marketDen); err != nil {
		return false, err
	}
	lhs := new(big.Int).Mul(marketNum, o.PriceDenominator)
	rhs := new(big.Int).Mul(o.PriceNumerator, marketDen)
	return lhs.Cmp(rhs) <= 0, nil
}

// Triggered evaluates the order's execution condition against the market
// price. For DCA orders the condition is purely temporal.
func (o *Order) Triggered(marketNum, marketDen *big.Int, now time.Time) (bool, error) {
	switch o.Type {
	case TypeLimit:
		return o.MeetsLimitPrice(marketNum, marketDen)
	case TypeStopLoss:
		return o.TriggersStopLoss(marketNum, marketDen)
	case TypeDCA:
		return o.IntervalDue(now), nil
	default:
		return false, common.NewInvalidParameters("unsupported order type %q", o.Type)
	}
}

func validateMarketPrice(num, den *big.Int) error {
	if num == nil || den == nil || num.Sign() <= 0 || den.Sign() <= 0 {
		return common.NewInvalidParameters("market price must be a positive rational")
	}
	return nil
}
