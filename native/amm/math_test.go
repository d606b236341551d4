package amm

import (
	"errors"
	"math/big"
	"testing"

	"tidepool/native/common"
)

func testPool(reserveA, reserveB int64) *Pool {
	return &Pool{
		ID:            "pool-1",
		AssetA:        common.Lovelace(),
		AssetB:        common.Asset{PolicyID: "deadbeef", Name: "TOKEN"},
		ReserveA:      big.NewInt(reserveA),
		ReserveB:      big.NewInt(reserveB),
		TotalLPTokens: big.NewInt(0),
		FeeNumerator:  30,
		Status:        PoolStatusActive,
	}
}

func TestSwapOutputMatchesFormula(t *testing.T) {
	pool := testPool(1_000_000_000, 500_000_000)
	input := big.NewInt(10_000_000)

	got, err := pool.SwapOutput(input, AToB)
	if err != nil {
		t.Fatalf("swap output: %v", err)
	}

	// floor(in*9970*Rout / (Rin*10000 + in*9970))
	afterFee := new(big.Int).Mul(input, big.NewInt(9970))
	num := new(big.Int).Mul(afterFee, pool.ReserveB)
	den := new(big.Int).Mul(pool.ReserveA, big.NewInt(10000))
	den.Add(den, afterFee)
	want := num.Quo(num, den)

	if got.Cmp(want) != 0 {
		t.Fatalf("swap output = %s, want %s", got, want)
	}
}

func TestSwapOutputStrictlyIncreasingAndBounded(t *testing.T) {
	pool := testPool(2_000_000_000, 750_000_000)
	prev := big.NewInt(0)
	for _, in := range []int64{1_000, 50_000, 2_500_000, 100_000_000, 5_000_000_000} {
		out, err := pool.SwapOutput(big.NewInt(in), AToB)
		if err != nil {
			t.Fatalf("swap output for %d: %v", in, err)
		}
		if out.Cmp(prev) <= 0 {
			t.Fatalf("output %s for input %d not strictly greater than %s", out, in, prev)
		}
		if out.Cmp(pool.ReserveB) >= 0 {
			t.Fatalf("output %s would drain reserve %s", out, pool.ReserveB)
		}
		prev = out
	}
}

func TestSwapOutputZeroReserve(t *testing.T) {
	pool := testPool(0, 500_000_000)
	if _, err := pool.SwapOutput(big.NewInt(1_000_000), AToB); !errors.Is(err, common.ErrInvalidPoolState) {
		t.Fatalf("expected ErrInvalidPoolState, got %v", err)
	}
}

func TestSwapOutputRejectsNonPositiveInput(t *testing.T) {
	pool := testPool(1_000_000, 1_000_000)
	if _, err := pool.SwapOutput(big.NewInt(0), AToB); !common.IsInvalidParameters(err) {
		t.Fatalf("expected InvalidParametersError, got %v", err)
	}
}

func TestInitialLPTokensIntegerOnly(t *testing.T) {
	pool := testPool(0, 0)

	// floor(sqrt(4e18 * 9e18)) = 6e18, minus the locked minimum.
	a := new(big.Int).Mul(big.NewInt(4), exp10(18))
	b := new(big.Int).Mul(big.NewInt(9), exp10(18))
	lp, err := pool.InitialLPTokens(a, b)
	if err != nil {
		t.Fatalf("initial lp: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(6), exp10(18))
	want.Sub(want, big.NewInt(MinimumLiquidity))
	if lp.Cmp(want) != 0 {
		t.Fatalf("initial lp = %s, want %s", lp, want)
	}

	// Tiny deposits whose sqrt cannot cover the locked minimum must fail.
	if _, err := pool.InitialLPTokens(big.NewInt(4), big.NewInt(9)); !common.IsInvalidParameters(err) {
		t.Fatalf("expected InvalidParametersError for tiny deposit, got %v", err)
	}
}

func TestIsqrtFloors(t *testing.T) {
	cases := []struct {
		n    int64
		want int64
	}{
		{1, 1}, {2, 1}, {3, 1}, {4, 2}, {8, 2}, {9, 3},
		{35, 5}, {36, 6}, {37, 6}, {1 << 40, 1 << 20},
	}
	for _, tc := range cases {
		got := isqrt(big.NewInt(tc.n))
		if got.Int64() != tc.want {
			t.Fatalf("isqrt(%d) = %s, want %d", tc.n, got, tc.want)
		}
	}

	// Perfect square of a large prime-ish value.
	root := new(big.Int).SetUint64(987654321987654321)
	square := new(big.Int).Mul(root, root)
	if got := isqrt(square); got.Cmp(root) != 0 {
		t.Fatalf("isqrt(root^2) = %s, want %s", got, root)
	}
	plusOne := new(big.Int).Add(square, big.NewInt(1))
	if got := isqrt(plusOne); got.Cmp(root) != 0 {
		t.Fatalf("isqrt(root^2+1) = %s, want %s", got, root)
	}
}

func TestDepositWithdrawRoundTripNeverGains(t *testing.T) {
	pool := testPool(1_000_000_000, 3_000_000_000)
	pool.TotalLPTokens = big.NewInt(1_732_050_807)

	depositA := big.NewInt(123_456_789)
	depositB := big.NewInt(370_370_367)

	lp, err := pool.DepositLPTokens(depositA, depositB)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Apply the deposit before redeeming.
	pool.ReserveA.Add(pool.ReserveA, depositA)
	pool.ReserveB.Add(pool.ReserveB, depositB)
	pool.TotalLPTokens.Add(pool.TotalLPTokens, lp)

	outA, outB, err := pool.WithdrawalAmounts(lp)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if outA.Cmp(depositA) > 0 {
		t.Fatalf("withdrawal A %s exceeds deposit %s", outA, depositA)
	}
	if outB.Cmp(depositB) > 0 {
		t.Fatalf("withdrawal B %s exceeds deposit %s", outB, depositB)
	}
}

func TestDepositLPTokensPicksSmallerRatio(t *testing.T) {
	pool := testPool(1_000_000, 1_000_000)
	pool.TotalLPTokens = big.NewInt(1_000_000)

	// B side is the weaker match, so it bounds the issuance.
	lp, err := pool.DepositLPTokens(big.NewInt(100_000), big.NewInt(50_000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if lp.Int64() != 50_000 {
		t.Fatalf("lp = %s, want 50000", lp)
	}
}

func TestApplySwapMovesReservesAndAccruesFees(t *testing.T) {
	pool := testPool(1_000_000_000, 500_000_000)
	input := big.NewInt(10_000_000)
	output, err := pool.SwapOutput(input, AToB)
	if err != nil {
		t.Fatalf("swap output: %v", err)
	}

	pool.ApplySwap(input, output, AToB)

	wantA := big.NewInt(1_010_000_000)
	if pool.ReserveA.Cmp(wantA) != 0 {
		t.Fatalf("reserve A = %s, want %s", pool.ReserveA, wantA)
	}
	wantB := new(big.Int).Sub(big.NewInt(500_000_000), output)
	if pool.ReserveB.Cmp(wantB) != 0 {
		t.Fatalf("reserve B = %s, want %s", pool.ReserveB, wantB)
	}

	fee := pool.SwapFee(input)
	if pool.Fees24h.Cmp(fee) != 0 {
		t.Fatalf("fees24h = %s, want %s", pool.Fees24h, fee)
	}
	if pool.Volume24h.Cmp(input) != 0 {
		t.Fatalf("volume24h = %s, want %s", pool.Volume24h, input)
	}
	wantProtocol := new(big.Int).Quo(fee, big.NewInt(protocolFeeShareDen))
	if pool.ProtocolFeesA.Cmp(wantProtocol) != 0 {
		t.Fatalf("protocol fees A = %s, want %s", pool.ProtocolFeesA, wantProtocol)
	}
}

func TestCloneIsolatesReserves(t *testing.T) {
	pool := testPool(1_000_000, 2_000_000)
	clone := pool.Clone()
	clone.ReserveA.Add(clone.ReserveA, big.NewInt(999))
	if pool.ReserveA.Int64() != 1_000_000 {
		t.Fatalf("clone mutation leaked into original: %s", pool.ReserveA)
	}
}

func TestPriceImpactGrowsWithSize(t *testing.T) {
	pool := testPool(1_000_000_000, 1_000_000_000)
	small, err := pool.PriceImpact(big.NewInt(1_000_000), AToB)
	if err != nil {
		t.Fatalf("price impact: %v", err)
	}
	large, err := pool.PriceImpact(big.NewInt(500_000_000), AToB)
	if err != nil {
		t.Fatalf("price impact: %v", err)
	}
	if large <= small {
		t.Fatalf("expected impact to grow with size: %f <= %f", large, small)
	}
}

func exp10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}
