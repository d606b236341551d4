package txbuilder

import (
	"context"
	"math/big"

	"tidepool/native/common"
)

// BuiltTx is an unsigned transaction produced by the builder service. The
// hash is stable for the unsigned body and identifies the settlement attempt.
type BuiltTx struct {
	CBORHex      string
	TxHash       string
	EstimatedFee *big.Int

	// PoolOutputIndex is the index of the continuing pool output, when the
	// transaction spends a pool. The pool snapshot is re-pointed there after
	// confirmation.
	PoolOutputIndex uint32
}

// SettlementLeg is one intent's contribution to a batch settlement.
type SettlementLeg struct {
	IntentID    string
	EscrowUTxO  common.UTxORef
	InputAmount *big.Int
	MinOutput   *big.Int
	Receiver    string
}

// SettlementRequest describes a batch settlement spending the pool output and
// a set of intent escrows in a single transaction.
type SettlementRequest struct {
	PoolID        string
	PoolUTxO      common.UTxORef
	Direction     string
	Legs          []SettlementLeg
	SolverAddress string
}

// OrderExecutionRequest describes a single order execution against a pool.
type OrderExecutionRequest struct {
	OrderID       string
	EscrowUTxO    common.UTxORef
	PoolID        string
	PoolUTxO      common.UTxORef
	InputAmount   *big.Int
	MinOutput     *big.Int
	Receiver      string
	SolverAddress string
}

// EscrowSpendRequest describes a cancel or reclaim returning escrowed funds
// to the creator.
type EscrowSpendRequest struct {
	EntityID   string
	EscrowUTxO common.UTxORef
	Receiver   string
}

// LiquidityRequest describes a deposit into or withdrawal from a pool.
type LiquidityRequest struct {
	PoolID   string
	PoolUTxO common.UTxORef
	AmountA  *big.Int
	AmountB  *big.Int
	LPTokens *big.Int
	Owner    string
}

// Builder assembles unsigned transactions. Signing stays with the solver or
// the creator's wallet; this service never holds keys.
type Builder interface {
	BuildSettlementTx(ctx context.Context, req SettlementRequest) (*BuiltTx, error)
	BuildOrderExecutionTx(ctx context.Context, req OrderExecutionRequest) (*BuiltTx, error)
	BuildCancelTx(ctx context.Context, req EscrowSpendRequest) (*BuiltTx, error)
	BuildReclaimTx(ctx context.Context, req EscrowSpendRequest) (*BuiltTx, error)
	BuildDepositTx(ctx context.Context, req LiquidityRequest) (*BuiltTx, error)
	BuildWithdrawTx(ctx context.Context, req LiquidityRequest) (*BuiltTx, error)
}
