package amm

import (
	"math/big"

	"tidepool/native/common"
)

const (
	// FeeDenominator scales pool fee numerators (parts per 10,000).
	FeeDenominator = 10_000

	// MinimumLiquidity is permanently locked on pool creation so an empty
	// pool can never be fully redeemed and re-seeded at a skewed price.
	MinimumLiquidity = 1_000

	// protocolFeeShareDen is the divisor applied to the swap fee when
	// crediting the protocol fee accumulator. The remainder stays with LPs.
	protocolFeeShareDen = 5
)

// SwapOutput prices a swap against the snapshot using the constant-product
// formula with the fee deducted from the input side:
//
//	out = floor(in*(D-f)*Rout / (Rin*D + in*(D-f)))
//
// All arithmetic is integer; money paths never touch floating point.
func (p *Pool) SwapOutput(inputAmount *big.Int, dir Direction) (*big.Int, error) {
	if inputAmount == nil || inputAmount.Sign() <= 0 {
		return nil, common.NewInvalidParameters("swap input must be positive")
	}
	reserveIn, reserveOut := p.reserves(dir)
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, common.ErrInvalidPoolState
	}
	if p.FeeNumerator >= FeeDenominator {
		return nil, common.ErrInvalidPoolState
	}

	feeDen := big.NewInt(FeeDenominator)
	afterFee := new(big.Int).SetUint64(FeeDenominator - p.FeeNumerator)
	afterFee.Mul(afterFee, inputAmount)

	numerator := new(big.Int).Mul(afterFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, feeDen)
	denominator.Add(denominator, afterFee)

	return numerator.Quo(numerator, denominator), nil
}

// SwapFee returns the fee charged on the input side for the given amount.
func (p *Pool) SwapFee(inputAmount *big.Int) *big.Int {
	fee := new(big.Int).SetUint64(p.FeeNumerator)
	fee.Mul(fee, inputAmount)
	return fee.Quo(fee, big.NewInt(FeeDenominator))
}

// SpotPrice returns the marginal price (output per input) for the direction.
func (p *Pool) SpotPrice(dir Direction) (*big.Rat, error) {
	reserveIn, reserveOut := p.reserves(dir)
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, common.ErrInvalidPoolState
	}
	return new(big.Rat).SetFrac(reserveOut, reserveIn), nil
}

// PriceImpact returns the relative deviation, in percent, between the spot
// price and the effective price of the swap. Display-only: the result never
// feeds money movement.
func (p *Pool) PriceImpact(inputAmount *big.Int, dir Direction) (float64, error) {
	output, err := p.SwapOutput(inputAmount, dir)
	if err != nil {
		return 0, err
	}
	spot, err := p.SpotPrice(dir)
	if err != nil {
		return 0, err
	}
	spotF, _ := spot.Float64()
	if spotF == 0 {
		return 0, common.ErrInvalidPoolState
	}
	inF, _ := new(big.Float).SetInt(inputAmount).Float64()
	outF, _ := new(big.Float).SetInt(output).Float64()
	effective := outF / inF
	impact := (spotF - effective) / spotF * 100
	if impact < 0 {
		impact = 0
	}
	return impact, nil
}

// InitialLPTokens computes the LP issuance for the first deposit:
// floor(sqrt(a*b)) - MinimumLiquidity. The subtracted minimum stays locked.
func (p *Pool) InitialLPTokens(amountA, amountB *big.Int) (*big.Int, error) {
	if amountA == nil || amountB == nil || amountA.Sign() <= 0 || amountB.Sign() <= 0 {
		return nil, common.NewInvalidParameters("initial deposit amounts must be positive")
	}
	product := new(big.Int).Mul(amountA, amountB)
	lp := isqrt(product)
	lp.Sub(lp, big.NewInt(MinimumLiquidity))
	if lp.Sign() <= 0 {
		return nil, common.NewInvalidParameters("initial deposit below minimum liquidity")
	}
	return lp, nil
}

// DepositLPTokens computes the LP issuance for a follow-up deposit. The
// smaller of the two proportional ratios wins so a depositor never receives
// LP tokens beyond their weakest-matched contribution.
func (p *Pool) DepositLPTokens(amountA, amountB *big.Int) (*big.Int, error) {
	if amountA == nil || amountB == nil || amountA.Sign() <= 0 || amountB.Sign() <= 0 {
		return nil, common.NewInvalidParameters("deposit amounts must be positive")
	}
	if p.ReserveA == nil || p.ReserveB == nil || p.ReserveA.Sign() == 0 || p.ReserveB.Sign() == 0 {
		return nil, common.ErrInvalidPoolState
	}
	if p.TotalLPTokens == nil || p.TotalLPTokens.Sign() == 0 {
		return nil, common.ErrInvalidPoolState
	}
	byA := new(big.Int).Mul(amountA, p.TotalLPTokens)
	byA.Quo(byA, p.ReserveA)
	byB := new(big.Int).Mul(amountB, p.TotalLPTokens)
	byB.Quo(byB, p.ReserveB)
	if byA.Cmp(byB) < 0 {
		return byA, nil
	}
	return byB, nil
}

// WithdrawalAmounts computes the proportional redemption for burning the
// given LP amount: floor(lp*reserve/totalLP) per side.
func (p *Pool) WithdrawalAmounts(lpAmount *big.Int) (amountA, amountB *big.Int, err error) {
	if lpAmount == nil || lpAmount.Sign() <= 0 {
		return nil, nil, common.NewInvalidParameters("lp amount must be positive")
	}
	if p.TotalLPTokens == nil || p.TotalLPTokens.Sign() == 0 {
		return nil, nil, common.ErrInvalidPoolState
	}
	if lpAmount.Cmp(p.TotalLPTokens) > 0 {
		return nil, nil, common.NewInvalidParameters("lp amount exceeds total supply")
	}
	amountA = new(big.Int).Mul(lpAmount, p.ReserveA)
	amountA.Quo(amountA, p.TotalLPTokens)
	amountB = new(big.Int).Mul(lpAmount, p.ReserveB)
	amountB.Quo(amountB, p.TotalLPTokens)
	return amountA, amountB, nil
}

// ApplySwap moves the reserves for an executed swap and accrues the fee
// bookkeeping. The caller must have validated outputAmount < reserveOut via
// SwapOutput; a violation here is a programmer error, not a recoverable
// condition.
func (p *Pool) ApplySwap(inputAmount, outputAmount *big.Int, dir Direction) {
	reserveIn, reserveOut := p.reserves(dir)
	reserveIn.Add(reserveIn, inputAmount)
	reserveOut.Sub(reserveOut, outputAmount)
	if reserveOut.Sign() < 0 {
		panic("amm: swap output exceeds reserve")
	}

	fee := p.SwapFee(inputAmount)
	protocolShare := new(big.Int).Quo(fee, big.NewInt(protocolFeeShareDen))
	if dir == AToB {
		p.ProtocolFeesA = cloneBigInt(p.ProtocolFeesA)
		p.ProtocolFeesA.Add(p.ProtocolFeesA, protocolShare)
	} else {
		p.ProtocolFeesB = cloneBigInt(p.ProtocolFeesB)
		p.ProtocolFeesB.Add(p.ProtocolFeesB, protocolShare)
	}
	p.Volume24h = cloneBigInt(p.Volume24h)
	p.Volume24h.Add(p.Volume24h, inputAmount)
	p.Fees24h = cloneBigInt(p.Fees24h)
	p.Fees24h.Add(p.Fees24h, fee)
}

// EstimatedAPY extrapolates the trailing 24h fees against TVL. Display-only.
func (p *Pool) EstimatedAPY() float64 {
	if p.TVLLovelace == nil || p.TVLLovelace.Sign() == 0 || p.Fees24h == nil {
		return 0
	}
	fees, _ := new(big.Float).SetInt(p.Fees24h).Float64()
	tvl, _ := new(big.Float).SetInt(p.TVLLovelace).Float64()
	return fees / tvl * 365 * 100
}

// isqrt returns floor(sqrt(n)) via Newton's method on arbitrary-precision
// integers. Floating-point intermediates would corrupt LP issuance, so the
// iteration stays integer-only throughout.
func isqrt(n *big.Int) *big.Int {
	if n.Sign() <= 0 {
		return big.NewInt(0)
	}
	if n.Cmp(big.NewInt(4)) < 0 {
		return big.NewInt(1)
	}
	// Seed with 2^(ceil(bits/2)), guaranteed >= sqrt(n).
	guess := new(big.Int).Lsh(big.NewInt(1), uint((n.BitLen()+1)/2))
	next := new(big.Int)
	for {
		// next = (guess + n/guess) / 2
		next.Quo(n, guess)
		next.Add(next, guess)
		next.Rsh(next, 1)
		if next.Cmp(guess) >= 0 {
			return guess
		}
		guess.Set(next)
	}
}
