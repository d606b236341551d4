package router

import (
	"math/big"

	"tidepool/native/amm"
	"tidepool/native/common"
)

// Hop is a single pool traversal within a route.
type Hop struct {
	PoolID         string
	InputAsset     common.Asset
	OutputAsset    common.Asset
	InputAmount    *big.Int
	ExpectedOutput *big.Int
	Fee            *big.Int
	PriceImpact    float64
}

// SwapRoute is an executable path from an input asset to an output asset.
// Immutable once constructed; callers own the value.
type SwapRoute struct {
	Hops        []Hop
	TotalInput  *big.Int
	TotalOutput *big.Int
	TotalFees   *big.Int

	// PriceImpact aggregates the per-hop impacts. Display-only.
	PriceImpact float64
}

// MinOutputWithSlippage computes the on-chain minimum-output guard:
// totalOutput - floor(totalOutput*bps/10000).
func (r *SwapRoute) MinOutputWithSlippage(bps uint64) *big.Int {
	slip := new(big.Int).SetUint64(bps)
	slip.Mul(slip, r.TotalOutput)
	slip.Quo(slip, big.NewInt(10_000))
	return new(big.Int).Sub(r.TotalOutput, slip)
}

// BestRoute quotes the swap across the supplied pool snapshots and returns
// the best route: direct single-hop candidates and two-hop candidates through
// a shared intermediate asset. Returns ErrInsufficientLiquidity when no
// candidate clears a positive output.
func BestRoute(pools []*amm.Pool, from, to common.Asset, amount *big.Int) (*SwapRoute, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, common.NewInvalidParameters("route amount must be positive")
	}
	if from == to {
		return nil, common.NewInvalidParameters("route endpoints must differ")
	}

	var best *SwapRoute

	for _, pool := range pools {
		if !usable(pool) {
			continue
		}
		dir, ok := pool.DirectionFor(from)
		if !ok || pool.OutputAsset(dir) != to {
			continue
		}
		hop, ok := quoteHop(pool, from, amount)
		if !ok {
			continue
		}
		best = pickBetter(best, routeFromHops(hop))
	}

	for _, first := range pools {
		if !usable(first) {
			continue
		}
		dir, ok := first.DirectionFor(from)
		if !ok {
			continue
		}
		mid := first.OutputAsset(dir)
		if mid == to {
			continue
		}
		firstHop, ok := quoteHop(first, from, amount)
		if !ok {
			continue
		}
		for _, second := range pools {
			if !usable(second) || second.ID == first.ID {
				continue
			}
			dir2, ok := second.DirectionFor(mid)
			if !ok || second.OutputAsset(dir2) != to {
				continue
			}
			secondHop, ok := quoteHop(second, mid, firstHop.ExpectedOutput)
			if !ok {
				continue
			}
			best = pickBetter(best, routeFromHops(firstHop, secondHop))
		}
	}

	if best == nil || best.TotalOutput.Sign() <= 0 {
		return nil, common.ErrInsufficientLiquidity
	}
	return best, nil
}

// pickBetter keeps the candidate with the strictly higher total output. Ties
// keep the incumbent, giving a stable, deterministic tie-break.
func pickBetter(current, candidate *SwapRoute) *SwapRoute {
	if candidate == nil {
		return current
	}
	if current == nil {
		return candidate
	}
	if candidate.TotalOutput.Cmp(current.TotalOutput) > 0 {
		return candidate
	}
	return current
}

func usable(p *amm.Pool) bool {
	return p != nil && p.Status == amm.PoolStatusActive
}

func quoteHop(pool *amm.Pool, input common.Asset, amount *big.Int) (Hop, bool) {
	dir, ok := pool.DirectionFor(input)
	if !ok {
		return Hop{}, false
	}
	output, err := pool.SwapOutput(amount, dir)
	if err != nil || output.Sign() <= 0 {
		return Hop{}, false
	}
	impact, err := pool.PriceImpact(amount, dir)
	if err != nil {
		return Hop{}, false
	}
	return Hop{
		PoolID:         pool.ID,
		InputAsset:     input,
		OutputAsset:    pool.OutputAsset(dir),
		InputAmount:    new(big.Int).Set(amount),
		ExpectedOutput: output,
		Fee:            pool.SwapFee(amount),
		PriceImpact:    impact,
	}, true
}

func routeFromHops(hops ...Hop) *SwapRoute {
	route := &SwapRoute{
		Hops:        hops,
		TotalInput:  new(big.Int).Set(hops[0].InputAmount),
		TotalOutput: new(big.Int).Set(hops[len(hops)-1].ExpectedOutput),
		TotalFees:   big.NewInt(0),
	}
	for _, hop := range hops {
		route.TotalFees.Add(route.TotalFees, hop.Fee)
		route.PriceImpact += hop.PriceImpact
	}
	return route
}
