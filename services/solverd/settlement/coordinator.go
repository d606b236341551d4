package settlement

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"tidepool/native/amm"
	"tidepool/native/common"
	"tidepool/native/intent"
	"tidepool/native/order"
	"tidepool/observability"
	"tidepool/services/solverd/pubsub"
	"tidepool/services/solverd/txbuilder"
)

// IntentStore is the intent persistence port consumed by the coordinator.
type IntentStore interface {
	IntentByID(ctx context.Context, id string) (*intent.Intent, error)
	SaveIntent(ctx context.Context, it *intent.Intent) error
}

// OrderStore is the order persistence port consumed by the coordinator.
type OrderStore interface {
	OrderByID(ctx context.Context, id string) (*order.Order, error)
	SaveOrder(ctx context.Context, o *order.Order) error
}

// PoolStore is the pool persistence port consumed by the coordinator.
type PoolStore interface {
	PoolByUTxO(ctx context.Context, ref common.UTxORef) (*amm.Pool, error)
	PoolByID(ctx context.Context, id string) (*amm.Pool, error)
	SavePool(ctx context.Context, pool *amm.Pool) error
}

// BatchLeg records one intent's planned contribution to a batch.
type BatchLeg struct {
	IntentID       string
	FilledInput    *big.Int
	ExpectedOutput *big.Int

	// Partial marks a leg that fills less than the intent's remaining input.
	Partial bool
}

// Batch is a built but unconfirmed settlement. No stored state changes until
// the batch is confirmed; losing the pool UTxO race simply abandons it.
type Batch struct {
	ID            string
	PoolID        string
	PoolUTxO      common.UTxORef
	Direction     amm.Direction
	Legs          []BatchLeg
	SolverAddress string
	Tx            *txbuilder.BuiltTx
	BuiltAt       time.Time
}

// OrderExecution is a built but unconfirmed order execution.
type OrderExecution struct {
	ID             string
	OrderID        string
	PoolID         string
	PoolUTxO       common.UTxORef
	Direction      amm.Direction
	InputAmount    *big.Int
	ExpectedOutput *big.Int
	SolverAddress  string
	Tx             *txbuilder.BuiltTx
	BuiltAt        time.Time
}

// Config tunes the coordinator.
type Config struct {
	// MaxBatchSize bounds intents per settlement transaction. Zero applies
	// the default of 10, chosen from transaction size constraints.
	MaxBatchSize int
}

// Coordinator plans and confirms settlements. Building never mutates stored
// state; mutations happen only in the Confirm* methods after the transaction
// is externally reported as confirmed. There is no distributed lock: the
// ledger's single-spend rule on the pool UTxO serialises competing solvers.
type Coordinator struct {
	intents IntentStore
	orders  OrderStore
	pools   PoolStore
	builder txbuilder.Builder
	pauses  common.PauseView
	events  *pubsub.Publisher
	metrics *observability.SettlementMetrics
	log     *slog.Logger
	nowFn   func() time.Time

	maxBatch int

	mu         sync.Mutex
	batches    map[string]*Batch
	executions map[string]*OrderExecution
	inFlight   map[string]string // intent/order ID -> batch/execution ID
}

// New assembles a Coordinator. The publisher may be nil.
func New(intents IntentStore, orders OrderStore, pools PoolStore, builder txbuilder.Builder, pauses common.PauseView, events *pubsub.Publisher, log *slog.Logger, cfg Config) *Coordinator {
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 10
	}
	return &Coordinator{
		intents:    intents,
		orders:     orders,
		pools:      pools,
		builder:    builder,
		pauses:     pauses,
		events:     events,
		metrics:    observability.Settlement(),
		log:        log,
		nowFn:      func() time.Time { return time.Now().UTC() },
		maxBatch:   maxBatch,
		batches:    make(map[string]*Batch),
		executions: make(map[string]*OrderExecution),
		inFlight:   make(map[string]string),
	}
}

// SetNowFunc overrides the clock. Test hook.
func (c *Coordinator) SetNowFunc(now func() time.Time) {
	if now != nil {
		c.nowFn = now
	}
}

// SettleParams describes a requested settlement batch.
type SettleParams struct {
	IntentIDs []string

	// Fills optionally caps the filled input per intent ID. Omitted entries
	// fill the full remaining input. A capped fill requires the intent to
	// permit partial fills.
	Fills map[string]*big.Int

	PoolUTxO      common.UTxORef
	SolverAddress string
}

// SettleIntents validates the batch, prices every leg sequentially against a
// cloned pool snapshot, and asks the builder for an unsigned transaction.
// Stored entities are not touched; the returned batch waits for
// ConfirmSettlement or AbandonBatch.
func (c *Coordinator) SettleIntents(ctx context.Context, p SettleParams) (*Batch, error) {
	if err := common.Guard(c.pauses, common.ModuleSettlement); err != nil {
		return nil, err
	}
	if len(p.IntentIDs) == 0 {
		return nil, common.NewInvalidParameters("at least one intent required")
	}
	if len(p.IntentIDs) > c.maxBatch {
		return nil, common.NewInvalidParameters("batch of %d exceeds limit %d", len(p.IntentIDs), c.maxBatch)
	}
	if p.SolverAddress == "" {
		return nil, common.NewInvalidParameters("solver address required")
	}
	seen := make(map[string]bool, len(p.IntentIDs))
	for _, id := range p.IntentIDs {
		if seen[id] {
			return nil, common.NewInvalidParameters("intent %s listed twice", id)
		}
		seen[id] = true
	}

	pool, err := c.pools.PoolByUTxO(ctx, p.PoolUTxO)
	if err != nil {
		return nil, err
	}
	if pool.Status != amm.PoolStatusActive {
		return nil, common.ErrInvalidPoolState
	}

	now := c.nowFn()
	start := now

	// Reserve the member intents in the same critical section as the busy
	// check, so two concurrent builds over the same intent cannot both
	// proceed. The reservation is dropped again on any build failure.
	id := batchID(p.IntentIDs, p.PoolUTxO)
	c.mu.Lock()
	for _, intentID := range p.IntentIDs {
		if other, busy := c.inFlight[intentID]; busy {
			c.mu.Unlock()
			return nil, common.NewInvalidState("intent", "in batch "+other, "settle again")
		}
	}
	for _, intentID := range p.IntentIDs {
		c.inFlight[intentID] = id
	}
	c.mu.Unlock()

	committed := false
	defer func() {
		if committed {
			return
		}
		c.mu.Lock()
		for _, intentID := range p.IntentIDs {
			if c.inFlight[intentID] == id {
				delete(c.inFlight, intentID)
			}
		}
		c.mu.Unlock()
	}()

	// Price legs in request order against a cloned snapshot so later legs
	// see the reserve shift from earlier ones.
	scratch := pool.Clone()
	var dir amm.Direction
	legs := make([]BatchLeg, 0, len(p.IntentIDs))
	builderLegs := make([]txbuilder.SettlementLeg, 0, len(p.IntentIDs))
	for i, id := range p.IntentIDs {
		it, err := c.intents.IntentByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !it.CanBeFilled(now) {
			return nil, common.NewInvalidState("intent", string(it.Status), "settle")
		}
		legDir, ok := pool.DirectionFor(it.InputAsset)
		if !ok || pool.OutputAsset(legDir) != it.OutputAsset {
			return nil, common.NewInvalidParameters("intent %s assets do not match pool %s", id, pool.ID)
		}
		if i == 0 {
			dir = legDir
		} else if legDir != dir {
			return nil, common.NewInvalidParameters("batch mixes swap directions")
		}

		fillAmount := it.RemainingInput
		partial := false
		if capped, ok := p.Fills[id]; ok && capped != nil {
			if capped.Sign() <= 0 {
				return nil, common.NewInvalidParameters("fill amount for %s must be positive", id)
			}
			if capped.Cmp(it.RemainingInput) > 0 {
				return nil, common.NewInvalidParameters("fill amount for %s exceeds remaining input", id)
			}
			if capped.Cmp(it.RemainingInput) < 0 {
				if !it.PartialFill {
					return nil, common.NewInvalidParameters("intent %s does not permit partial fills", id)
				}
				if it.FillCount+1 >= it.MaxFillCount {
					return nil, common.NewInvalidParameters("intent %s has no partial fills left", id)
				}
				partial = true
			}
			fillAmount = capped
		}

		output, err := scratch.SwapOutput(fillAmount, dir)
		if err != nil {
			return nil, err
		}
		required := requiredOutput(it, fillAmount)
		if output.Cmp(required) < 0 {
			return nil, common.ErrInsufficientLiquidity
		}
		scratch.ApplySwap(fillAmount, output, dir)

		legs = append(legs, BatchLeg{
			IntentID:       id,
			FilledInput:    new(big.Int).Set(fillAmount),
			ExpectedOutput: output,
			Partial:        partial,
		})
		builderLegs = append(builderLegs, txbuilder.SettlementLeg{
			IntentID:    id,
			EscrowUTxO:  it.EscrowUTxO,
			InputAmount: new(big.Int).Set(fillAmount),
			MinOutput:   required,
			Receiver:    it.Creator,
		})
	}

	tx, err := c.builder.BuildSettlementTx(ctx, txbuilder.SettlementRequest{
		PoolID:        pool.ID,
		PoolUTxO:      pool.UTxO,
		Direction:     dir.String(),
		Legs:          builderLegs,
		SolverAddress: p.SolverAddress,
	})
	if err != nil {
		c.metrics.RecordError("settle", "build")
		return nil, err
	}

	batch := &Batch{
		ID:            id,
		PoolID:        pool.ID,
		PoolUTxO:      pool.UTxO,
		Direction:     dir,
		Legs:          legs,
		SolverAddress: p.SolverAddress,
		Tx:            tx,
		BuiltAt:       now,
	}

	c.mu.Lock()
	c.batches[batch.ID] = batch
	c.metrics.SetInFlight(len(c.batches) + len(c.executions))
	c.mu.Unlock()
	committed = true

	c.metrics.RecordBatch("built", c.nowFn().Sub(start))
	c.log.Info("settlement batch built",
		"batch", batch.ID, "pool", pool.ID, "legs", len(legs), "tx", tx.TxHash)
	return batch, nil
}

// ConfirmSettlement applies a confirmed batch: intent fills, pool reserves,
// and the pool UTxO re-point. The transaction hash must match the built one.
// Validation runs over every leg before anything persists, so a stale batch
// leaves the stores untouched.
func (c *Coordinator) ConfirmSettlement(ctx context.Context, batchID, txHash string) error {
	c.mu.Lock()
	batch, ok := c.batches[batchID]
	c.mu.Unlock()
	if !ok {
		return common.NewNotFound("batch", batchID)
	}
	if txHash != batch.Tx.TxHash {
		return common.NewInvalidParameters("tx hash %s does not match batch transaction %s", txHash, batch.Tx.TxHash)
	}

	pool, err := c.pools.PoolByID(ctx, batch.PoolID)
	if err != nil {
		return err
	}

	// Phase one: compute every transition without persisting.
	next := make([]*intent.Intent, 0, len(batch.Legs))
	for _, leg := range batch.Legs {
		it, err := c.intents.IntentByID(ctx, leg.IntentID)
		if err != nil {
			return err
		}
		var updated *intent.Intent
		if leg.Partial {
			updated, err = it.MarkPartiallyFilled(txHash, leg.FilledInput, it.FillCount+1)
		} else {
			updated, err = it.MarkFilled(txHash, leg.ExpectedOutput, batch.SolverAddress)
		}
		if err != nil {
			return err
		}
		next = append(next, updated)
	}

	// Phase two: persist intents, advance the pool, release the batch.
	for _, it := range next {
		if err := c.intents.SaveIntent(ctx, it); err != nil {
			return err
		}
	}
	for _, leg := range batch.Legs {
		pool.ApplySwap(leg.FilledInput, leg.ExpectedOutput, batch.Direction)
	}
	pool.UTxO = common.UTxORef{TxHash: txHash, OutputIndex: batch.Tx.PoolOutputIndex}
	if err := c.pools.SavePool(ctx, pool); err != nil {
		return err
	}

	c.release(batchID)

	filled := 0
	for i, it := range next {
		subject := pubsub.SubjectIntentFilled
		if batch.Legs[i].Partial {
			subject = pubsub.SubjectIntentPartial
		} else {
			filled++
		}
		c.events.Publish(pubsub.Event{
			Subject:  subject,
			EntityID: it.ID,
			TxHash:   txHash,
			Fields: map[string]string{
				"output": batch.Legs[i].ExpectedOutput.String(),
				"solver": batch.SolverAddress,
			},
		})
	}
	c.events.Publish(pubsub.Event{Subject: pubsub.SubjectPoolUpdated, EntityID: pool.ID, TxHash: txHash})
	c.metrics.RecordConfirmation("settlement")
	c.metrics.RecordIntentsFilled(filled)
	c.log.Info("settlement confirmed", "batch", batchID, "tx", txHash, "intents", len(next))
	return nil
}

// AbandonBatch releases a built batch without applying it, typically after
// losing the pool UTxO race to another solver.
func (c *Coordinator) AbandonBatch(batchID string) error {
	c.mu.Lock()
	_, ok := c.batches[batchID]
	c.mu.Unlock()
	if !ok {
		return common.NewNotFound("batch", batchID)
	}
	c.release(batchID)
	c.metrics.RecordBatch("abandoned", 0)
	c.log.Info("settlement batch abandoned", "batch", batchID)
	return nil
}

// ExecuteOrder validates the order trigger against the pool's spot price and
// builds the execution transaction. No stored state changes.
func (c *Coordinator) ExecuteOrder(ctx context.Context, orderID string, poolRef common.UTxORef, solverAddr string) (*OrderExecution, error) {
	if err := common.Guard(c.pauses, common.ModuleOrders); err != nil {
		return nil, err
	}
	if solverAddr == "" {
		return nil, common.NewInvalidParameters("solver address required")
	}

	execID := batchID([]string{orderID}, poolRef)
	c.mu.Lock()
	if other, busy := c.inFlight[orderID]; busy {
		c.mu.Unlock()
		return nil, common.NewInvalidState("order", "in execution "+other, "execute again")
	}
	c.inFlight[orderID] = execID
	c.mu.Unlock()

	committed := false
	defer func() {
		if committed {
			return
		}
		c.mu.Lock()
		if c.inFlight[orderID] == execID {
			delete(c.inFlight, orderID)
		}
		c.mu.Unlock()
	}()

	o, err := c.orders.OrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	now := c.nowFn()
	if !o.CanBeExecuted(now) {
		return nil, common.NewInvalidState("order", string(o.Status), "execute")
	}

	pool, err := c.pools.PoolByUTxO(ctx, poolRef)
	if err != nil {
		return nil, err
	}
	if pool.Status != amm.PoolStatusActive {
		return nil, common.ErrInvalidPoolState
	}
	dir, ok := pool.DirectionFor(o.InputAsset)
	if !ok || pool.OutputAsset(dir) != o.OutputAsset {
		return nil, common.NewInvalidParameters("order %s assets do not match pool %s", orderID, pool.ID)
	}

	reserveIn, reserveOut := poolReserves(pool, dir)
	triggered, err := o.Triggered(reserveOut, reserveIn, now)
	if err != nil {
		return nil, err
	}
	if !triggered {
		return nil, common.NewInvalidParameters("order %s trigger not met at spot price %s/%s", orderID, reserveOut, reserveIn)
	}

	amount := o.InputAmount
	if o.Type == order.TypeDCA {
		amount = o.AmountPerInterval
	}
	output, err := pool.SwapOutput(amount, dir)
	if err != nil {
		return nil, err
	}
	minOutput := output
	if o.Type == order.TypeLimit {
		// The executed price must still clear the limit after slippage.
		minOutput = new(big.Int).Mul(amount, o.PriceNumerator)
		minOutput.Quo(minOutput, o.PriceDenominator)
		if output.Cmp(minOutput) < 0 {
			return nil, common.ErrInsufficientLiquidity
		}
	}

	tx, err := c.builder.BuildOrderExecutionTx(ctx, txbuilder.OrderExecutionRequest{
		OrderID:       orderID,
		EscrowUTxO:    o.EscrowUTxO,
		PoolID:        pool.ID,
		PoolUTxO:      pool.UTxO,
		InputAmount:   new(big.Int).Set(amount),
		MinOutput:     minOutput,
		Receiver:      o.Creator,
		SolverAddress: solverAddr,
	})
	if err != nil {
		c.metrics.RecordError("execute_order", "build")
		return nil, err
	}

	exec := &OrderExecution{
		ID:             execID,
		OrderID:        orderID,
		PoolID:         pool.ID,
		PoolUTxO:       pool.UTxO,
		Direction:      dir,
		InputAmount:    new(big.Int).Set(amount),
		ExpectedOutput: output,
		SolverAddress:  solverAddr,
		Tx:             tx,
		BuiltAt:        now,
	}

	c.mu.Lock()
	c.executions[exec.ID] = exec
	c.metrics.SetInFlight(len(c.batches) + len(c.executions))
	c.mu.Unlock()
	committed = true

	c.log.Info("order execution built", "order", orderID, "pool", pool.ID, "tx", tx.TxHash)
	return exec, nil
}

// ConfirmOrderExecution applies a confirmed order execution: the DCA interval
// or the full fill, plus the pool advance and re-point.
func (c *Coordinator) ConfirmOrderExecution(ctx context.Context, executionID, txHash string) error {
	c.mu.Lock()
	exec, ok := c.executions[executionID]
	c.mu.Unlock()
	if !ok {
		return common.NewNotFound("execution", executionID)
	}
	if txHash != exec.Tx.TxHash {
		return common.NewInvalidParameters("tx hash %s does not match execution transaction %s", txHash, exec.Tx.TxHash)
	}

	o, err := c.orders.OrderByID(ctx, exec.OrderID)
	if err != nil {
		return err
	}
	var updated *order.Order
	if o.Type == order.TypeDCA {
		updated, err = o.MarkIntervalExecuted(txHash, c.nowFn())
	} else {
		updated, err = o.MarkFilled(txHash)
	}
	if err != nil {
		return err
	}

	pool, err := c.pools.PoolByID(ctx, exec.PoolID)
	if err != nil {
		return err
	}

	if err := c.orders.SaveOrder(ctx, updated); err != nil {
		return err
	}
	pool.ApplySwap(exec.InputAmount, exec.ExpectedOutput, exec.Direction)
	pool.UTxO = common.UTxORef{TxHash: txHash, OutputIndex: exec.Tx.PoolOutputIndex}
	if err := c.pools.SavePool(ctx, pool); err != nil {
		return err
	}

	c.releaseExecution(executionID)

	subject := pubsub.SubjectOrderExecuted
	if updated.Status == order.StatusFilled {
		subject = pubsub.SubjectOrderFilled
	}
	c.events.Publish(pubsub.Event{
		Subject:  subject,
		EntityID: updated.ID,
		TxHash:   txHash,
		Fields:   map[string]string{"output": exec.ExpectedOutput.String()},
	})
	c.events.Publish(pubsub.Event{Subject: pubsub.SubjectPoolUpdated, EntityID: pool.ID, TxHash: txHash})
	c.metrics.RecordConfirmation("order")
	c.metrics.RecordOrderExecuted(string(updated.Type))
	c.log.Info("order execution confirmed", "order", updated.ID, "tx", txHash, "status", updated.Status)
	return nil
}

// AbandonExecution releases a built order execution without applying it.
func (c *Coordinator) AbandonExecution(executionID string) error {
	c.mu.Lock()
	_, ok := c.executions[executionID]
	c.mu.Unlock()
	if !ok {
		return common.NewNotFound("execution", executionID)
	}
	c.releaseExecution(executionID)
	c.log.Info("order execution abandoned", "execution", executionID)
	return nil
}

func (c *Coordinator) release(batchID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch, ok := c.batches[batchID]
	if !ok {
		return
	}
	for _, leg := range batch.Legs {
		delete(c.inFlight, leg.IntentID)
	}
	delete(c.batches, batchID)
	c.metrics.SetInFlight(len(c.batches) + len(c.executions))
}

func (c *Coordinator) releaseExecution(executionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exec, ok := c.executions[executionID]
	if !ok {
		return
	}
	delete(c.inFlight, exec.OrderID)
	delete(c.executions, executionID)
	c.metrics.SetInFlight(len(c.batches) + len(c.executions))
}

// requiredOutput scales the intent's minimum output to the filled slice:
// ceil(minOutput*fill/inputAmount), so partial fills keep the same price
// floor as the whole intent.
func requiredOutput(it *intent.Intent, fill *big.Int) *big.Int {
	required := new(big.Int).Mul(it.MinOutput, fill)
	required.Add(required, new(big.Int).Sub(it.InputAmount, big.NewInt(1)))
	return required.Quo(required, it.InputAmount)
}

func poolReserves(p *amm.Pool, dir amm.Direction) (reserveIn, reserveOut *big.Int) {
	if dir == amm.AToB {
		return p.ReserveA, p.ReserveB
	}
	return p.ReserveB, p.ReserveA
}

// batchID derives a deterministic identifier from the sorted member IDs and
// the pool reference, so identical requests collide instead of double-booking.
func batchID(ids []string, poolRef common.UTxORef) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	h := blake3.New(16, nil)
	for _, id := range sorted {
		fmt.Fprintf(h, "%s\n", id)
	}
	fmt.Fprintf(h, "%s\n", poolRef.String())
	return hex.EncodeToString(h.Sum(nil))
}
