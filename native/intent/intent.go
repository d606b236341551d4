package intent

import (
	"math/big"
	"time"

	"tidepool/native/common"
)

// Status represents a state in the intent lifecycle.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusPending    Status = "PENDING"
	StatusActive     Status = "ACTIVE"
	StatusFilling    Status = "FILLING"
	StatusFilled     Status = "FILLED"
	StatusCancelling Status = "CANCELLING"
	StatusCancelled  Status = "CANCELLED"
	StatusExpired    Status = "EXPIRED"
	StatusReclaimed  Status = "RECLAIMED"
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPending, StatusActive, StatusFilling, StatusFilled,
		StatusCancelling, StatusCancelled, StatusExpired, StatusReclaimed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired, StatusReclaimed:
		return true
	default:
		return false
	}
}

// ExpirableStatuses lists the states the sweeper may bulk-transition to
// EXPIRED. CANCELLING is deliberately excluded: a cancel transaction is
// already in flight and the confirmation callback resolves the state.
func ExpirableStatuses() []Status {
	return []Status{StatusCreated, StatusPending, StatusActive, StatusFilling}
}

// Intent is an escrowed swap request. Instances are value snapshots:
// lifecycle methods return a mutated deep copy and never touch the receiver,
// so concurrent readers always observe a consistent state.
type Intent struct {
	ID      string
	Creator string

	InputAsset  common.Asset
	InputAmount *big.Int
	OutputAsset common.Asset
	MinOutput   *big.Int

	// PartialFill permits solvers to fill the intent piecewise, up to
	// MaxFillCount settlements.
	PartialFill  bool
	MaxFillCount int

	RemainingInput *big.Int
	FillCount      int

	Deadline   time.Time
	EscrowUTxO common.UTxORef

	Status Status

	// LastFillTxHash records the settlement transaction of the most recent
	// partial fill, so re-applying the same confirmation is a no-op.
	LastFillTxHash string

	// Settlement identity, stamped only on the transition to FILLED.
	ActualOutput     *big.Int
	SettlementTxHash string
	SolverAddress    string

	// CancelTxHash records the unsigned cancel transaction while CANCELLING.
	CancelTxHash string

	// ReclaimTxHash records the confirmed reclaim transaction.
	ReclaimTxHash string
}

// Params carries the caller input for a new intent.
type Params struct {
	ID           string
	Creator      string
	InputAsset   common.Asset
	InputAmount  *big.Int
	OutputAsset  common.Asset
	MinOutput    *big.Int
	PartialFill  bool
	MaxFillCount int
	Deadline     time.Time
}

// New validates the parameters and returns an intent in CREATED.
func New(p Params, now time.Time) (*Intent, error) {
	if p.ID == "" {
		return nil, common.NewInvalidParameters("intent id required")
	}
	if p.Creator == "" {
		return nil, common.NewInvalidParameters("creator address required")
	}
	if p.InputAmount == nil || p.InputAmount.Sign() <= 0 {
		return nil, common.NewInvalidParameters("input amount must be positive")
	}
	if p.MinOutput == nil || p.MinOutput.Sign() <= 0 {
		return nil, common.NewInvalidParameters("minimum output must be positive")
	}
	if p.InputAsset == p.OutputAsset {
		return nil, common.NewInvalidParameters("input and output assets must differ")
	}
	if !p.Deadline.After(now) {
		return nil, common.NewInvalidParameters("deadline must be in the future")
	}
	maxFills := p.MaxFillCount
	if p.PartialFill && maxFills <= 0 {
		return nil, common.NewInvalidParameters("partial fill requires a positive fill cap")
	}
	if !p.PartialFill {
		maxFills = 1
	}
	return &Intent{
		ID:             p.ID,
		Creator:        p.Creator,
		InputAsset:     p.InputAsset,
		InputAmount:    new(big.Int).Set(p.InputAmount),
		OutputAsset:    p.OutputAsset,
		MinOutput:      new(big.Int).Set(p.MinOutput),
		PartialFill:    p.PartialFill,
		MaxFillCount:   maxFills,
		RemainingInput: new(big.Int).Set(p.InputAmount),
		Deadline:       p.Deadline,
		Status:         StatusCreated,
	}, nil
}

// Clone returns a deep copy of the intent.
func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	clone := *i
	clone.InputAmount = cloneBigInt(i.InputAmount)
	clone.MinOutput = cloneBigInt(i.MinOutput)
	clone.RemainingInput = cloneBigInt(i.RemainingInput)
	if i.ActualOutput != nil {
		clone.ActualOutput = new(big.Int).Set(i.ActualOutput)
	}
	return &clone
}

// CanBeFilled reports whether a solver may settle against the intent now.
func (i *Intent) CanBeFilled(now time.Time) bool {
	if i.Status != StatusActive && i.Status != StatusFilling {
		return false
	}
	return now.Before(i.Deadline)
}

// CanBeCancelled reports whether the creator may start a cancellation.
func (i *Intent) CanBeCancelled() bool {
	switch i.Status {
	case StatusCreated, StatusPending, StatusActive, StatusFilling:
		return true
	default:
		return false
	}
}

// MarkPending records that the escrow transaction has been built and is
// awaiting on-chain confirmation.
func (i *Intent) MarkPending(escrow common.UTxORef) (*Intent, error) {
	if i.Status != StatusCreated {
		return nil, common.NewInvalidState("intent", string(i.Status), "move to pending")
	}
	if escrow.IsZero() {
		return nil, common.NewInvalidParameters("escrow reference required")
	}
	next := i.Clone()
	next.EscrowUTxO = escrow
	next.Status = StatusPending
	return next, nil
}

// MarkActive records on-chain confirmation of the escrow.
func (i *Intent) MarkActive() (*Intent, error) {
	if i.Status != StatusPending {
		return nil, common.NewInvalidState("intent", string(i.Status), "activate")
	}
	next := i.Clone()
	next.Status = StatusActive
	return next, nil
}

// MarkPartiallyFilled records a confirmed partial settlement. The filled
// amount must not exceed the remaining input. The settlement transaction is
// the identity of the fill: re-applying the one recorded in LastFillTxHash is
// a no-op, matching the idempotency of MarkFilled, so a confirmation retried
// after a downstream write failure never decrements the remaining input twice.
func (i *Intent) MarkPartiallyFilled(settlementTxHash string, filled *big.Int, newFillCount int) (*Intent, error) {
	if settlementTxHash == "" {
		return nil, common.NewInvalidParameters("settlement tx hash required")
	}
	if filled == nil || filled.Sign() <= 0 {
		return nil, common.NewInvalidParameters("filled amount must be positive")
	}
	if i.LastFillTxHash == settlementTxHash {
		if i.Status != StatusFilling {
			return nil, common.NewInvalidState("intent", string(i.Status), "re-apply partial fill")
		}
		return i.Clone(), nil
	}
	if i.Status != StatusActive && i.Status != StatusFilling {
		return nil, common.NewInvalidState("intent", string(i.Status), "record partial fill")
	}
	if filled.Cmp(i.RemainingInput) > 0 {
		return nil, common.NewInvalidParameters("filled amount %s exceeds remaining input %s", filled, i.RemainingInput)
	}
	if newFillCount <= i.FillCount {
		return nil, common.NewInvalidParameters("fill count must increase")
	}
	next := i.Clone()
	next.RemainingInput.Sub(next.RemainingInput, filled)
	next.FillCount = newFillCount
	next.LastFillTxHash = settlementTxHash
	next.Status = StatusFilling
	return next, nil
}

// MarkFilled records the confirmed full settlement and stamps the settlement
// identity. Re-applying with identical arguments is a no-op; re-applying with
// different arguments fails, signalling a consistency bug upstream.
func (i *Intent) MarkFilled(settlementTxHash string, actualOutput *big.Int, solverAddress string) (*Intent, error) {
	if actualOutput == nil || actualOutput.Sign() <= 0 {
		return nil, common.NewInvalidParameters("actual output must be positive")
	}
	if settlementTxHash == "" || solverAddress == "" {
		return nil, common.NewInvalidParameters("settlement identity required")
	}
	if i.Status == StatusFilled {
		if i.SettlementTxHash == settlementTxHash && i.SolverAddress == solverAddress &&
			i.ActualOutput != nil && i.ActualOutput.Cmp(actualOutput) == 0 {
			return i.Clone(), nil
		}
		return nil, common.NewInvalidState("intent", string(i.Status), "re-fill with different settlement")
	}
	if i.Status != StatusActive && i.Status != StatusFilling {
		return nil, common.NewInvalidState("intent", string(i.Status), "fill")
	}
	next := i.Clone()
	next.RemainingInput.SetInt64(0)
	next.FillCount++
	next.ActualOutput = new(big.Int).Set(actualOutput)
	next.SettlementTxHash = settlementTxHash
	next.SolverAddress = solverAddress
	next.Status = StatusFilled
	return next, nil
}

// BeginCancel moves the intent to CANCELLING once an unsigned cancel
// transaction exists. Intents still in CREATED never reached the chain and
// cancel immediately.
func (i *Intent) BeginCancel(cancelTxHash string) (*Intent, error) {
	if !i.CanBeCancelled() {
		return nil, common.NewInvalidState("intent", string(i.Status), "cancel")
	}
	next := i.Clone()
	if i.Status == StatusCreated {
		next.Status = StatusCancelled
		return next, nil
	}
	if cancelTxHash == "" {
		return nil, common.NewInvalidParameters("cancel tx hash required")
	}
	next.CancelTxHash = cancelTxHash
	next.Status = StatusCancelling
	return next, nil
}

// ConfirmCancel completes a two-phase cancellation after the cancel
// transaction confirmed on-chain.
func (i *Intent) ConfirmCancel() (*Intent, error) {
	if i.Status != StatusCancelling {
		return nil, common.NewInvalidState("intent", string(i.Status), "confirm cancel")
	}
	next := i.Clone()
	next.Status = StatusCancelled
	return next, nil
}

// AbandonCancel returns a CANCELLING intent to its fillable state when the
// cancel transaction was never signed or submitted.
func (i *Intent) AbandonCancel() (*Intent, error) {
	if i.Status != StatusCancelling {
		return nil, common.NewInvalidState("intent", string(i.Status), "abandon cancel")
	}
	next := i.Clone()
	next.CancelTxHash = ""
	if next.FillCount > 0 {
		next.Status = StatusFilling
	} else {
		next.Status = StatusActive
	}
	return next, nil
}

// MarkExpired transitions a past-deadline intent to EXPIRED.
func (i *Intent) MarkExpired(now time.Time) (*Intent, error) {
	expirable := false
	for _, s := range ExpirableStatuses() {
		if i.Status == s {
			expirable = true
			break
		}
	}
	if !expirable {
		return nil, common.NewInvalidState("intent", string(i.Status), "expire")
	}
	if now.Before(i.Deadline) {
		return nil, common.NewInvalidParameters("intent deadline not reached")
	}
	next := i.Clone()
	next.Status = StatusExpired
	return next, nil
}

// MarkReclaimed records the confirmed reclaim of an expired escrow.
func (i *Intent) MarkReclaimed(reclaimTxHash string) (*Intent, error) {
	if i.Status != StatusExpired {
		return nil, common.NewInvalidState("intent", string(i.Status), "reclaim")
	}
	if reclaimTxHash == "" {
		return nil, common.NewInvalidParameters("reclaim tx hash required")
	}
	next := i.Clone()
	next.ReclaimTxHash = reclaimTxHash
	next.Status = StatusReclaimed
	return next, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
