package intent

import (
	"math/big"
	"testing"
	"time"

	"tidepool/native/common"
)

var (
	ada   = common.Lovelace()
	token = common.Asset{PolicyID: "deadbeef", Name: "TOKEN"}
)

func newTestIntent(t *testing.T, partial bool) (*Intent, time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	params := Params{
		ID:          "intent-1",
		Creator:     "addr_test1creator",
		InputAsset:  ada,
		InputAmount: big.NewInt(5_000_000),
		OutputAsset: token,
		MinOutput:   big.NewInt(4_000_000),
		Deadline:    now.Add(1000 * time.Second),
	}
	if partial {
		params.PartialFill = true
		params.MaxFillCount = 5
	}
	it, err := New(params, now)
	if err != nil {
		t.Fatalf("new intent: %v", err)
	}
	return it, now
}

func activate(t *testing.T, it *Intent) *Intent {
	t.Helper()
	pending, err := it.MarkPending(common.UTxORef{TxHash: "escrow-tx", OutputIndex: 0})
	if err != nil {
		t.Fatalf("mark pending: %v", err)
	}
	active, err := pending.MarkActive()
	if err != nil {
		t.Fatalf("mark active: %v", err)
	}
	return active
}

func TestNewIntentValidation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	base := Params{
		ID:          "i",
		Creator:     "addr",
		InputAsset:  ada,
		InputAmount: big.NewInt(1),
		OutputAsset: token,
		MinOutput:   big.NewInt(1),
		Deadline:    now.Add(time.Hour),
	}

	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero amount", func(p *Params) { p.InputAmount = big.NewInt(0) }},
		{"zero min output", func(p *Params) { p.MinOutput = big.NewInt(0) }},
		{"same assets", func(p *Params) { p.OutputAsset = p.InputAsset }},
		{"past deadline", func(p *Params) { p.Deadline = now.Add(-time.Second) }},
		{"partial without cap", func(p *Params) { p.PartialFill = true; p.MaxFillCount = 0 }},
		{"missing creator", func(p *Params) { p.Creator = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := base
			tc.mutate(&params)
			if _, err := New(params, now); !common.IsInvalidParameters(err) {
				t.Fatalf("expected InvalidParametersError, got %v", err)
			}
		})
	}
}

func TestPartialThenFullFill(t *testing.T) {
	it, _ := newTestIntent(t, true)
	active := activate(t, it)

	filling, err := active.MarkPartiallyFilled("partial-tx", big.NewInt(2_000_000), 1)
	if err != nil {
		t.Fatalf("partial fill: %v", err)
	}
	if filling.Status != StatusFilling {
		t.Fatalf("status = %s, want FILLING", filling.Status)
	}
	if filling.RemainingInput.Int64() != 3_000_000 {
		t.Fatalf("remaining = %s, want 3000000", filling.RemainingInput)
	}
	if filling.FillCount != 1 {
		t.Fatalf("fill count = %d, want 1", filling.FillCount)
	}

	// Original snapshot untouched.
	if active.RemainingInput.Int64() != 5_000_000 || active.Status != StatusActive {
		t.Fatalf("lifecycle method mutated receiver: %s %s", active.RemainingInput, active.Status)
	}

	filled, err := filling.MarkFilled("settle-tx", big.NewInt(2_400_000), "addr_solver")
	if err != nil {
		t.Fatalf("full fill: %v", err)
	}
	if filled.Status != StatusFilled {
		t.Fatalf("status = %s, want FILLED", filled.Status)
	}
	if filled.RemainingInput.Sign() != 0 {
		t.Fatalf("remaining = %s, want 0", filled.RemainingInput)
	}
	if filled.SolverAddress != "addr_solver" || filled.SettlementTxHash != "settle-tx" {
		t.Fatalf("settlement identity not stamped: %+v", filled)
	}
}

func TestPartialFillExceedingRemaining(t *testing.T) {
	it, _ := newTestIntent(t, true)
	active := activate(t, it)
	if _, err := active.MarkPartiallyFilled("partial-tx", big.NewInt(6_000_000), 1); !common.IsInvalidParameters(err) {
		t.Fatalf("expected InvalidParametersError, got %v", err)
	}
}

func TestMarkFilledIdempotency(t *testing.T) {
	it, _ := newTestIntent(t, false)
	active := activate(t, it)
	filled, err := active.MarkFilled("settle-tx", big.NewInt(4_200_000), "addr_solver")
	if err != nil {
		t.Fatalf("fill: %v", err)
	}

	again, err := filled.MarkFilled("settle-tx", big.NewInt(4_200_000), "addr_solver")
	if err != nil {
		t.Fatalf("identical re-apply must succeed: %v", err)
	}
	if again.Status != StatusFilled {
		t.Fatalf("status = %s, want FILLED", again.Status)
	}

	if _, err := filled.MarkFilled("settle-tx", big.NewInt(9_999_999), "addr_solver"); !common.IsInvalidState(err) {
		t.Fatalf("divergent re-apply must fail with InvalidStateError, got %v", err)
	}
}

func TestMarkPartiallyFilledIdempotency(t *testing.T) {
	it, _ := newTestIntent(t, true)
	active := activate(t, it)
	filling, err := active.MarkPartiallyFilled("partial-tx", big.NewInt(2_000_000), 1)
	if err != nil {
		t.Fatalf("partial fill: %v", err)
	}

	again, err := filling.MarkPartiallyFilled("partial-tx", big.NewInt(2_000_000), 1)
	if err != nil {
		t.Fatalf("identical re-apply must succeed: %v", err)
	}
	if again.RemainingInput.Int64() != 3_000_000 {
		t.Fatalf("remaining = %s after re-apply, want 3000000", again.RemainingInput)
	}
	if again.FillCount != 1 {
		t.Fatalf("fill count = %d after re-apply, want 1", again.FillCount)
	}

	// A retry computed off the advanced snapshot still applies as a no-op.
	stale, err := filling.MarkPartiallyFilled("partial-tx", big.NewInt(2_000_000), 2)
	if err != nil {
		t.Fatalf("re-apply with recomputed fill count must succeed: %v", err)
	}
	if stale.RemainingInput.Int64() != 3_000_000 || stale.FillCount != 1 {
		t.Fatalf("re-apply changed state: remaining=%s count=%d", stale.RemainingInput, stale.FillCount)
	}

	filled, err := filling.MarkFilled("settle-tx", big.NewInt(3_000_000), "addr_solver")
	if err != nil {
		t.Fatalf("full fill: %v", err)
	}
	if _, err := filled.MarkPartiallyFilled("partial-tx", big.NewInt(2_000_000), 1); !common.IsInvalidState(err) {
		t.Fatalf("re-apply against a FILLED intent must fail with InvalidStateError, got %v", err)
	}

	next, err := filling.MarkPartiallyFilled("partial-tx-2", big.NewInt(1_000_000), 2)
	if err != nil {
		t.Fatalf("follow-up fill under a new settlement: %v", err)
	}
	if next.RemainingInput.Int64() != 2_000_000 {
		t.Fatalf("remaining = %s, want 2000000", next.RemainingInput)
	}
}

func TestTwoPhaseCancel(t *testing.T) {
	it, _ := newTestIntent(t, false)
	active := activate(t, it)

	cancelling, err := active.BeginCancel("cancel-tx")
	if err != nil {
		t.Fatalf("begin cancel: %v", err)
	}
	if cancelling.Status != StatusCancelling {
		t.Fatalf("status = %s, want CANCELLING (never direct CANCELLED)", cancelling.Status)
	}
	if cancelling.CanBeFilled(time.Unix(1_700_000_001, 0)) {
		t.Fatalf("cancelling intent must not be fillable")
	}

	cancelled, err := cancelling.ConfirmCancel()
	if err != nil {
		t.Fatalf("confirm cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", cancelled.Status)
	}
}

func TestBeginCancelFromCreatedIsImmediate(t *testing.T) {
	it, _ := newTestIntent(t, false)
	cancelled, err := it.BeginCancel("")
	if err != nil {
		t.Fatalf("cancel created intent: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", cancelled.Status)
	}
}

func TestAbandonCancelRestoresFillableState(t *testing.T) {
	it, now := newTestIntent(t, true)
	active := activate(t, it)
	filling, err := active.MarkPartiallyFilled("partial-tx", big.NewInt(1_000_000), 1)
	if err != nil {
		t.Fatalf("partial fill: %v", err)
	}
	cancelling, err := filling.BeginCancel("cancel-tx")
	if err != nil {
		t.Fatalf("begin cancel: %v", err)
	}
	restored, err := cancelling.AbandonCancel()
	if err != nil {
		t.Fatalf("abandon cancel: %v", err)
	}
	if restored.Status != StatusFilling {
		t.Fatalf("status = %s, want FILLING", restored.Status)
	}
	if !restored.CanBeFilled(now) {
		t.Fatalf("restored intent must be fillable again")
	}
}

func TestCancelFilledIntentFails(t *testing.T) {
	it, _ := newTestIntent(t, false)
	active := activate(t, it)
	filled, err := active.MarkFilled("settle-tx", big.NewInt(4_200_000), "addr_solver")
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if _, err := filled.BeginCancel("cancel-tx"); !common.IsInvalidState(err) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestExpiryAndReclaim(t *testing.T) {
	it, now := newTestIntent(t, false)
	active := activate(t, it)

	if _, err := active.MarkExpired(now); !common.IsInvalidParameters(err) {
		t.Fatalf("expiry before deadline must fail, got %v", err)
	}

	late := now.Add(2000 * time.Second)
	expired, err := active.MarkExpired(late)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired.Status != StatusExpired {
		t.Fatalf("status = %s, want EXPIRED", expired.Status)
	}
	if expired.CanBeFilled(late) {
		t.Fatalf("expired intent must not be fillable")
	}

	reclaimed, err := expired.MarkReclaimed("reclaim-tx")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed.Status != StatusReclaimed {
		t.Fatalf("status = %s, want RECLAIMED", reclaimed.Status)
	}
}

func TestCanBeFilledWindow(t *testing.T) {
	it, now := newTestIntent(t, false)
	active := activate(t, it)
	if !active.CanBeFilled(now) {
		t.Fatalf("active intent before deadline must be fillable")
	}
	if active.CanBeFilled(active.Deadline) {
		t.Fatalf("intent at deadline must not be fillable")
	}
	if it.CanBeFilled(now) {
		t.Fatalf("created intent must not be fillable")
	}
}
