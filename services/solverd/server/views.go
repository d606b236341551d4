package server

import (
	"math/big"
	"time"

	"tidepool/native/amm"
	"tidepool/native/common"
	"tidepool/native/intent"
	"tidepool/native/order"
	"tidepool/services/solverd/settlement"
	"tidepool/services/solverd/txbuilder"
)

// Amounts cross the wire as decimal strings so precision survives JSON.

type utxoRefPayload struct {
	TxHash      string `json:"txHash"`
	OutputIndex uint32 `json:"outputIndex"`
}

func (p utxoRefPayload) ref() common.UTxORef {
	return common.UTxORef{TxHash: p.TxHash, OutputIndex: p.OutputIndex}
}

func refView(ref common.UTxORef) *utxoRefPayload {
	if ref.IsZero() {
		return nil
	}
	return &utxoRefPayload{TxHash: ref.TxHash, OutputIndex: ref.OutputIndex}
}

type builtTxView struct {
	TxHash       string `json:"txHash"`
	CBORHex      string `json:"cborHex"`
	EstimatedFee string `json:"estimatedFee,omitempty"`
}

func txView(tx *txbuilder.BuiltTx) *builtTxView {
	if tx == nil {
		return nil
	}
	view := &builtTxView{TxHash: tx.TxHash, CBORHex: tx.CBORHex}
	if tx.EstimatedFee != nil {
		view.EstimatedFee = tx.EstimatedFee.String()
	}
	return view
}

type intentView struct {
	ID               string          `json:"id"`
	Creator          string          `json:"creator"`
	InputAsset       string          `json:"inputAsset"`
	InputAmount      string          `json:"inputAmount"`
	OutputAsset      string          `json:"outputAsset"`
	MinOutput        string          `json:"minOutput"`
	PartialFill      bool            `json:"partialFill"`
	MaxFillCount     int             `json:"maxFillCount"`
	RemainingInput   string          `json:"remainingInput"`
	FillCount        int             `json:"fillCount"`
	Status           string          `json:"status"`
	Deadline         time.Time       `json:"deadline"`
	EscrowUTxO       *utxoRefPayload `json:"escrowUtxo,omitempty"`
	ActualOutput     string          `json:"actualOutput,omitempty"`
	SettlementTxHash string          `json:"settlementTxHash,omitempty"`
	SolverAddress    string          `json:"solverAddress,omitempty"`
	CancelTxHash     string          `json:"cancelTxHash,omitempty"`
	ReclaimTxHash    string          `json:"reclaimTxHash,omitempty"`
}

func viewIntent(it *intent.Intent) intentView {
	view := intentView{
		ID:               it.ID,
		Creator:          it.Creator,
		InputAsset:       it.InputAsset.Unit(),
		InputAmount:      it.InputAmount.String(),
		OutputAsset:      it.OutputAsset.Unit(),
		MinOutput:        it.MinOutput.String(),
		PartialFill:      it.PartialFill,
		MaxFillCount:     it.MaxFillCount,
		RemainingInput:   it.RemainingInput.String(),
		FillCount:        it.FillCount,
		Status:           string(it.Status),
		Deadline:         it.Deadline,
		EscrowUTxO:       refView(it.EscrowUTxO),
		SettlementTxHash: it.SettlementTxHash,
		SolverAddress:    it.SolverAddress,
		CancelTxHash:     it.CancelTxHash,
		ReclaimTxHash:    it.ReclaimTxHash,
	}
	if it.ActualOutput != nil {
		view.ActualOutput = it.ActualOutput.String()
	}
	return view
}

type orderView struct {
	ID                string          `json:"id"`
	Creator           string          `json:"creator"`
	Type              string          `json:"type"`
	InputAsset        string          `json:"inputAsset"`
	OutputAsset       string          `json:"outputAsset"`
	InputAmount       string          `json:"inputAmount,omitempty"`
	PriceNumerator    string          `json:"priceNumerator,omitempty"`
	PriceDenominator  string          `json:"priceDenominator,omitempty"`
	TotalBudget       string          `json:"totalBudget,omitempty"`
	AmountPerInterval string          `json:"amountPerInterval,omitempty"`
	IntervalSlots     int             `json:"intervalSlots,omitempty"`
	IntervalSeconds   int64           `json:"intervalSeconds,omitempty"`
	RemainingBudget   string          `json:"remainingBudget,omitempty"`
	ExecutedIntervals int             `json:"executedIntervals,omitempty"`
	LastExecutedAt    *time.Time      `json:"lastExecutedAt,omitempty"`
	Status            string          `json:"status"`
	Deadline          time.Time       `json:"deadline"`
	EscrowUTxO        *utxoRefPayload `json:"escrowUtxo,omitempty"`
	ExecutionTxHash   string          `json:"executionTxHash,omitempty"`
	CancelTxHash      string          `json:"cancelTxHash,omitempty"`
}

func viewOrder(o *order.Order) orderView {
	view := orderView{
		ID:                o.ID,
		Creator:           o.Creator,
		Type:              string(o.Type),
		InputAsset:        o.InputAsset.Unit(),
		OutputAsset:       o.OutputAsset.Unit(),
		IntervalSlots:     o.IntervalSlots,
		ExecutedIntervals: o.ExecutedIntervals,
		Status:            string(o.Status),
		Deadline:          o.Deadline,
		EscrowUTxO:        refView(o.EscrowUTxO),
		ExecutionTxHash:   o.ExecutionTxHash,
		CancelTxHash:      o.CancelTxHash,
	}
	if o.InputAmount != nil {
		view.InputAmount = o.InputAmount.String()
	}
	if o.PriceNumerator != nil {
		view.PriceNumerator = o.PriceNumerator.String()
	}
	if o.PriceDenominator != nil {
		view.PriceDenominator = o.PriceDenominator.String()
	}
	if o.TotalBudget != nil {
		view.TotalBudget = o.TotalBudget.String()
	}
	if o.AmountPerInterval != nil {
		view.AmountPerInterval = o.AmountPerInterval.String()
	}
	if o.RemainingBudget != nil {
		view.RemainingBudget = o.RemainingBudget.String()
	}
	if o.IntervalDuration > 0 {
		view.IntervalSeconds = int64(o.IntervalDuration / time.Second)
	}
	if !o.LastExecutedAt.IsZero() {
		at := o.LastExecutedAt
		view.LastExecutedAt = &at
	}
	return view
}

type poolView struct {
	ID            string          `json:"id"`
	Address       string          `json:"address"`
	AssetA        string          `json:"assetA"`
	AssetB        string          `json:"assetB"`
	NFTAsset      string          `json:"nftAsset"`
	ReserveA      string          `json:"reserveA"`
	ReserveB      string          `json:"reserveB"`
	TotalLPTokens string          `json:"totalLpTokens"`
	FeeNumerator  uint64          `json:"feeNumerator"`
	Status        string          `json:"status"`
	UTxO          *utxoRefPayload `json:"utxo,omitempty"`
	TVLLovelace   string          `json:"tvlLovelace,omitempty"`
	Volume24h     string          `json:"volume24h,omitempty"`
	Fees24h       string          `json:"fees24h,omitempty"`
}

func viewPool(p *amm.Pool) poolView {
	view := poolView{
		ID:            p.ID,
		Address:       p.Address,
		AssetA:        p.AssetA.Unit(),
		AssetB:        p.AssetB.Unit(),
		NFTAsset:      p.NFTAsset.Unit(),
		ReserveA:      p.ReserveA.String(),
		ReserveB:      p.ReserveB.String(),
		TotalLPTokens: p.TotalLPTokens.String(),
		FeeNumerator:  p.FeeNumerator,
		Status:        string(p.Status),
		UTxO:          refView(p.UTxO),
	}
	if p.TVLLovelace != nil {
		view.TVLLovelace = p.TVLLovelace.String()
	}
	if p.Volume24h != nil {
		view.Volume24h = p.Volume24h.String()
	}
	if p.Fees24h != nil {
		view.Fees24h = p.Fees24h.String()
	}
	return view
}

type batchLegView struct {
	IntentID       string `json:"intentId"`
	FilledInput    string `json:"filledInput"`
	ExpectedOutput string `json:"expectedOutput"`
	Partial        bool   `json:"partial"`
}

type batchView struct {
	ID            string          `json:"id"`
	PoolID        string          `json:"poolId"`
	PoolUTxO      *utxoRefPayload `json:"poolUtxo"`
	Direction     string          `json:"direction"`
	Legs          []batchLegView  `json:"legs"`
	SolverAddress string          `json:"solverAddress"`
	Tx            *builtTxView    `json:"tx"`
}

func viewBatch(b *settlement.Batch) batchView {
	legs := make([]batchLegView, 0, len(b.Legs))
	for _, leg := range b.Legs {
		legs = append(legs, batchLegView{
			IntentID:       leg.IntentID,
			FilledInput:    leg.FilledInput.String(),
			ExpectedOutput: leg.ExpectedOutput.String(),
			Partial:        leg.Partial,
		})
	}
	return batchView{
		ID:            b.ID,
		PoolID:        b.PoolID,
		PoolUTxO:      refView(b.PoolUTxO),
		Direction:     b.Direction.String(),
		Legs:          legs,
		SolverAddress: b.SolverAddress,
		Tx:            txView(b.Tx),
	}
}

type executionView struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"orderId"`
	PoolID         string          `json:"poolId"`
	PoolUTxO       *utxoRefPayload `json:"poolUtxo"`
	Direction      string          `json:"direction"`
	InputAmount    string          `json:"inputAmount"`
	ExpectedOutput string          `json:"expectedOutput"`
	SolverAddress  string          `json:"solverAddress"`
	Tx             *builtTxView    `json:"tx"`
}

func viewExecution(e *settlement.OrderExecution) executionView {
	return executionView{
		ID:             e.ID,
		OrderID:        e.OrderID,
		PoolID:         e.PoolID,
		PoolUTxO:       refView(e.PoolUTxO),
		Direction:      e.Direction.String(),
		InputAmount:    e.InputAmount.String(),
		ExpectedOutput: e.ExpectedOutput.String(),
		SolverAddress:  e.SolverAddress,
		Tx:             txView(e.Tx),
	}
}

// parseAmount decodes a required positive decimal amount.
func parseAmount(field, raw string) (*big.Int, error) {
	if raw == "" {
		return nil, common.NewInvalidParameters("%s is required", field)
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, common.NewInvalidParameters("%s is not a decimal integer", field)
	}
	return value, nil
}

// parseOptionalAmount decodes an amount that may be omitted.
func parseOptionalAmount(field, raw string) (*big.Int, error) {
	if raw == "" {
		return nil, nil
	}
	return parseAmount(field, raw)
}
