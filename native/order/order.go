package order

import (
	"math/big"
	"time"

	"tidepool/native/common"
)

// Type names the resting order variants.
type Type string

const (
	TypeLimit    Type = "LIMIT"
	TypeDCA      Type = "DCA"
	TypeStopLoss Type = "STOP_LOSS"
)

// Valid reports whether the type value is within the supported range.
func (t Type) Valid() bool {
	switch t {
	case TypeLimit, TypeDCA, TypeStopLoss:
		return true
	default:
		return false
	}
}

// Status represents a state in the order lifecycle.
type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusPending         Status = "PENDING"
	StatusActive          Status = "ACTIVE"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelling      Status = "CANCELLING"
	StatusCancelled       Status = "CANCELLED"
	StatusExpired         Status = "EXPIRED"
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPending, StatusActive, StatusPartiallyFilled,
		StatusFilled, StatusCancelling, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// ExpirableStatuses lists the states the sweeper may bulk-transition to
// EXPIRED. CANCELLING is excluded while the cancel transaction is in flight.
func ExpirableStatuses() []Status {
	return []Status{StatusCreated, StatusPending, StatusActive, StatusPartiallyFilled}
}

// Order is a resting conditional instruction executed by a solver when its
// trigger holds. Instances are value snapshots; lifecycle methods return a
// mutated deep copy.
type Order struct {
	ID      string
	Creator string
	Type    Type

	InputAsset  common.Asset
	OutputAsset common.Asset

	// Limit and stop-loss orders: target price as output units per input
	// unit, expressed as PriceNumerator/PriceDenominator over InputAmount.
	InputAmount      *big.Int
	PriceNumerator   *big.Int
	PriceDenominator *big.Int

	// DCA orders: a total budget spent in fixed slices.
	TotalBudget       *big.Int
	AmountPerInterval *big.Int
	IntervalSlots     int
	IntervalDuration  time.Duration
	RemainingBudget   *big.Int
	ExecutedIntervals int
	LastExecutedAt    time.Time

	Deadline   time.Time
	EscrowUTxO common.UTxORef

	Status Status

	// ExecutionTxHash records the most recent confirmed execution.
	ExecutionTxHash string

	// CancelTxHash records the unsigned cancel transaction while CANCELLING.
	CancelTxHash string
}

// Params carries the caller input for a new order.
type Params struct {
	ID      string
	Creator string
	Type    Type

	InputAsset  common.Asset
	OutputAsset common.Asset

	InputAmount      *big.Int
	PriceNumerator   *big.Int
	PriceDenominator *big.Int

	TotalBudget       *big.Int
	AmountPerInterval *big.Int
	IntervalSlots     int
	IntervalDuration  time.Duration

	Deadline time.Time
}

// New validates the parameters and returns an order in CREATED.
func New(p Params, now time.Time) (*Order, error) {
	if p.ID == "" {
		return nil, common.NewInvalidParameters("order id required")
	}
	if p.Creator == "" {
		return nil, common.NewInvalidParameters("creator address required")
	}
	if !p.Type.Valid() {
		return nil, common.NewInvalidParameters("unsupported order type %q", p.Type)
	}
	if p.InputAsset == p.OutputAsset {
		return nil, common.NewInvalidParameters("input and output assets must differ")
	}
	if !p.Deadline.After(now) {
		return nil, common.NewInvalidParameters("deadline must be in the future")
	}

	o := &Order{
		ID:          p.ID,
		Creator:     p.Creator,
		Type:        p.Type,
		InputAsset:  p.InputAsset,
		OutputAsset: p.OutputAsset,
		Deadline:    p.Deadline,
		Status:      StatusCreated,
	}

	switch p.Type {
	case TypeLimit, TypeStopLoss:
		if p.InputAmount == nil || p.InputAmount.Sign() <= 0 {
			return nil, common.NewInvalidParameters("input amount must be positive")
		}
		if p.PriceNumerator == nil || p.PriceNumerator.Sign() <= 0 ||
			p.PriceDenominator == nil || p.PriceDenominator.Sign() <= 0 {
			return nil, common.NewInvalidParameters("target price must be a positive rational")
		}
		o.InputAmount = new(big.Int).Set(p.InputAmount)
		o.PriceNumerator = new(big.Int).Set(p.PriceNumerator)
		o.PriceDenominator = new(big.Int).Set(p.PriceDenominator)
	case TypeDCA:
		if p.TotalBudget == nil || p.TotalBudget.Sign() <= 0 {
			return nil, common.NewInvalidParameters("dca budget must be positive")
		}
		if p.AmountPerInterval == nil || p.AmountPerInterval.Sign() <= 0 {
			return nil, common.NewInvalidParameters("dca interval amount must be positive")
		}
		if p.IntervalSlots <= 0 {
			return nil, common.NewInvalidParameters("dca interval count must be positive")
		}
		if p.IntervalDuration <= 0 {
			return nil, common.NewInvalidParameters("dca interval duration must be positive")
		}
		need := new(big.Int).Mul(p.AmountPerInterval, big.NewInt(int64(p.IntervalSlots)))
		if need.Cmp(p.TotalBudget) > 0 {
			return nil, common.NewInvalidParameters("dca budget %s cannot cover %d intervals of %s", p.TotalBudget, p.IntervalSlots, p.AmountPerInterval)
		}
		o.TotalBudget = new(big.Int).Set(p.TotalBudget)
		o.AmountPerInterval = new(big.Int).Set(p.AmountPerInterval)
		o.IntervalSlots = p.IntervalSlots
		o.IntervalDuration = p.IntervalDuration
		o.RemainingBudget = new(big.Int).Set(p.TotalBudget)
	}
	return o, nil
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.InputAmount = copyBigInt(o.InputAmount)
	clone.PriceNumerator = copyBigInt(o.PriceNumerator)
	clone.PriceDenominator = copyBigInt(o.PriceDenominator)
	clone.TotalBudget = copyBigInt(o.TotalBudget)
	clone.AmountPerInterval = copyBigInt(o.AmountPerInterval)
	clone.RemainingBudget = copyBigInt(o.RemainingBudget)
	return &clone
}

// CanBeExecuted reports whether a solver may execute the order now,
// independent of the price trigger.
func (o *Order) CanBeExecuted(now time.Time) bool {
	if o.Status != StatusActive && o.Status != StatusPartiallyFilled {
		return false
	}
	return now.Before(o.Deadline)
}

// CanBeCancelled reports whether the creator may start a cancellation.
func (o *Order) CanBeCancelled() bool {
	switch o.Status {
	case StatusCreated, StatusPending, StatusActive, StatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// MarkPending records that the escrow transaction has been built.
func (o *Order) MarkPending(escrow common.UTxORef) (*Order, error) {
	if o.Status != StatusCreated {
		return nil, common.NewInvalidState("order", string(o.Status), "move to pending")
	}
	if escrow.IsZero() {
		return nil, common.NewInvalidParameters("escrow reference required")
	}
	next := o.Clone()
	next.EscrowUTxO = escrow
	next.Status = StatusPending
	return next, nil
}

// MarkActive records on-chain confirmation of the escrow.
func (o *Order) MarkActive() (*Order, error) {
	if o.Status != StatusPending {
		return nil, common.NewInvalidState("order", string(o.Status), "activate")
	}
	next := o.Clone()
	next.Status = StatusActive
	return next, nil
}

// MarkFilled records the confirmed full execution of a limit or stop-loss
// order.
func (o *Order) MarkFilled(executionTxHash string) (*Order, error) {
	if o.Type == TypeDCA {
		return nil, common.NewInvalidState("order", string(o.Status), "fill a dca order directly")
	}
	if o.Status != StatusActive {
		return nil, common.NewInvalidState("order", string(o.Status), "fill")
	}
	if executionTxHash == "" {
		return nil, common.NewInvalidParameters("execution tx hash required")
	}
	next := o.Clone()
	next.ExecutionTxHash = executionTxHash
	next.Status = StatusFilled
	return next, nil
}

// MarkIntervalExecuted records one confirmed DCA interval. The remaining
// budget decreases by exactly AmountPerInterval; the order completes when the
// budget is exhausted or all interval slots have run.
func (o *Order) MarkIntervalExecuted(executionTxHash string, executedAt time.Time) (*Order, error) {
	if o.Type != TypeDCA {
		return nil, common.NewInvalidState("order", string(o.Status), "execute an interval on a non-dca order")
	}
	if o.Status != StatusActive && o.Status != StatusPartiallyFilled {
		return nil, common.NewInvalidState("order", string(o.Status), "execute interval")
	}
	if executionTxHash == "" {
		return nil, common.NewInvalidParameters("execution tx hash required")
	}
	if o.ExecutedIntervals >= o.IntervalSlots {
		return nil, common.NewInvalidState("order", string(o.Status), "execute beyond interval slots")
	}
	if o.RemainingBudget.Cmp(o.AmountPerInterval) < 0 {
		return nil, common.NewInvalidState("order", string(o.Status), "execute with exhausted budget")
	}
	next := o.Clone()
	next.RemainingBudget.Sub(next.RemainingBudget, next.AmountPerInterval)
	next.ExecutedIntervals++
	next.ExecutionTxHash = executionTxHash
	next.LastExecutedAt = executedAt
	if next.RemainingBudget.Cmp(next.AmountPerInterval) < 0 || next.ExecutedIntervals == next.IntervalSlots {
		next.Status = StatusFilled
	} else {
		next.Status = StatusPartiallyFilled
	}
	return next, nil
}

// IntervalDue reports whether enough time has passed since the last executed
// DCA interval.
func (o *Order) IntervalDue(now time.Time) bool {
	if o.Type != TypeDCA {
		return false
	}
	if o.LastExecutedAt.IsZero() {
		return true
	}
	return !now.Before(o.LastExecutedAt.Add(o.IntervalDuration))
}

// BeginCancel moves the order to CANCELLING once an unsigned cancel
// transaction exists. CREATED orders never reached the chain and cancel
// immediately.
func (o *Order) BeginCancel(cancelTxHash string) (*Order, error) {
	if !o.CanBeCancelled() {
		return nil, common.NewInvalidState("order", string(o.Status), "cancel")
	}
	next := o.Clone()
	if o.Status == StatusCreated {
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

// ConfirmCancel completes a two-phase cancellation.
func (o *Order) ConfirmCancel() (*Order, error) {
	if o.Status != StatusCancelling {
		return nil, common.NewInvalidState("order", string(o.Status), "confirm cancel")
	}
	next := o.Clone()
	next.Status = StatusCancelled
	return next, nil
}

// AbandonCancel returns a CANCELLING order to its executable state.
func (o *Order) AbandonCancel() (*Order, error) {
	if o.Status != StatusCancelling {
		return nil, common.NewInvalidState("order", string(o.Status), "abandon cancel")
	}
	next := o.Clone()
	next.CancelTxHash = ""
	if next.ExecutedIntervals > 0 {
		next.Status = StatusPartiallyFilled
	} else {
		next.Status = StatusActive
	}
	return next, nil
}

// MarkExpired transitions a past-deadline order to EXPIRED.
func (o *Order) MarkExpired(now time.Time) (*Order, error) {
	expirable := false
	for _, s := range ExpirableStatuses() {
		if o.Status == s {
			expirable = true
			break
		}
	}
	if !expirable {
		return nil, common.NewInvalidState("order", string(o.Status), "expire")
	}
	if now.Before(o.Deadline) {
		return nil, common.NewInvalidParameters("order deadline not reached")
	}
	next := o.Clone()
	next.Status = StatusExpired
	return next, nil
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
