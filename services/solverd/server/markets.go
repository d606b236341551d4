package server

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tidepool/native/amm"
	"tidepool/native/common"
	"tidepool/native/router"
	"tidepool/services/solverd/quotecache"
)

const defaultSlippageBps = 50

// ListPools returns pool snapshots, optionally filtered by ?status=.
func (s *Server) ListPools(w http.ResponseWriter, r *http.Request) {
	status := amm.PoolStatus(r.URL.Query().Get("status"))
	pools, err := s.store.ListPools(r.Context(), status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]poolView, 0, len(pools))
	for _, p := range pools {
		views = append(views, viewPool(p))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pools": views})
}

// GetPool returns a single pool snapshot.
func (s *Server) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.store.PoolByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewPool(pool))
}

// Quote prices a swap across the active pools. Route results are cached with
// a short TTL; the slippage-adjusted minimum output is recomputed per request
// so the cache key stays independent of the slippage parameter.
func (s *Server) Quote(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := common.ParseAsset(query.Get("from"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	to, err := common.ParseAsset(query.Get("to"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", query.Get("amount"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	slippageBps := uint64(defaultSlippageBps)
	if raw := query.Get("slippageBps"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			s.writeError(w, common.NewInvalidParameters("slippageBps is not a number"))
			return
		}
		if parsed > 10_000 {
			s.writeError(w, common.NewInvalidParameters("slippageBps must not exceed 10000"))
			return
		}
		slippageBps = parsed
	}

	quote, err := s.quotes.Get(r.Context(), from.Unit(), to.Unit(), amount.String())
	if err != nil {
		s.log.Warn("quote cache read failed", "err", err)
	}
	if quote == nil {
		quote, err = s.quoteFresh(r, from, to, amount)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if err := s.quotes.Put(r.Context(), quote); err != nil {
			s.log.Warn("quote cache write failed", "err", err)
		}
	}

	response := *quote
	output, ok := new(big.Int).SetString(quote.Output, 10)
	if ok {
		response.MinOutput = minOutput(output, slippageBps).String()
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) quoteFresh(r *http.Request, from, to common.Asset, amount *big.Int) (*quotecache.Quote, error) {
	pools, err := s.store.ListPools(r.Context(), amm.PoolStatusActive)
	if err != nil {
		return nil, err
	}
	route, err := router.BestRoute(pools, from, to, amount)
	if err != nil {
		return nil, err
	}
	poolIDs := make([]string, 0, len(route.Hops))
	for _, hop := range route.Hops {
		poolIDs = append(poolIDs, hop.PoolID)
	}
	return &quotecache.Quote{
		InputAsset:  from.Unit(),
		OutputAsset: to.Unit(),
		InputAmount: amount.String(),
		Output:      route.TotalOutput.String(),
		Fees:        route.TotalFees.String(),
		PriceImpact: route.PriceImpact,
		PoolIDs:     poolIDs,
		QuotedAt:    s.now(),
	}, nil
}

// LiquidityQuote prices a deposit (?amountA=&amountB=) or a withdrawal
// (?lpTokens=) against the current pool snapshot. Pure math, nothing moves.
func (s *Server) LiquidityQuote(w http.ResponseWriter, r *http.Request) {
	pool, err := s.store.PoolByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	query := r.URL.Query()

	if raw := query.Get("lpTokens"); raw != "" {
		lpTokens, err := parseAmount("lpTokens", raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		amountA, amountB, err := pool.WithdrawalAmounts(lpTokens)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{
			"lpTokens": lpTokens.String(),
			"amountA":  amountA.String(),
			"amountB":  amountB.String(),
		})
		return
	}

	amountA, err := parseAmount("amountA", query.Get("amountA"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	amountB, err := parseAmount("amountB", query.Get("amountB"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var lpTokens *big.Int
	if pool.TotalLPTokens == nil || pool.TotalLPTokens.Sign() == 0 {
		lpTokens, err = pool.InitialLPTokens(amountA, amountB)
	} else {
		lpTokens, err = pool.DepositLPTokens(amountA, amountB)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"amountA":  amountA.String(),
		"amountB":  amountB.String(),
		"lpTokens": lpTokens.String(),
	})
}

func minOutput(output *big.Int, bps uint64) *big.Int {
	slip := new(big.Int).SetUint64(bps)
	slip.Mul(slip, output)
	slip.Quo(slip, big.NewInt(10_000))
	return new(big.Int).Sub(output, slip)
}
