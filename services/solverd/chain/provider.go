package chain

import (
	"context"
	"time"

	"tidepool/native/common"
)

// UTxO is one unspent output as reported by the indexer node.
type UTxO struct {
	Ref     common.UTxORef    `json:"ref"`
	Address string            `json:"address"`
	Value   map[string]string `json:"value"`
	Datum   string            `json:"datum,omitempty"`
}

// Tip is the indexer's view of the chain head.
type Tip struct {
	Slot      uint64 `json:"slot"`
	BlockHash string `json:"blockHash"`
	Height    uint64 `json:"height"`
}

// TxStatus reports the confirmation state of a submitted transaction.
type TxStatus struct {
	TxHash        string `json:"txHash"`
	Confirmed     bool   `json:"confirmed"`
	Confirmations uint64 `json:"confirmations"`
	Slot          uint64 `json:"slot,omitempty"`
}

// Provider is the indexer/submission boundary. All pool and escrow state
// reads, transaction submissions, and confirmation checks go through it.
type Provider interface {
	// UTxOsAt lists the unspent outputs locked at the address.
	UTxOsAt(ctx context.Context, address string) ([]UTxO, error)

	// UTxOByAsset locates the single output carrying the given asset unit.
	// Pool NFTs make this lookup unambiguous.
	UTxOByAsset(ctx context.Context, unit string) (*UTxO, error)

	// SubmitTx submits a signed transaction (CBOR hex) and returns its hash.
	SubmitTx(ctx context.Context, cborHex string) (string, error)

	// TxStatus reports the confirmation state of a transaction.
	TxStatus(ctx context.Context, txHash string) (*TxStatus, error)

	// AwaitConfirmation polls until the transaction confirms, the timeout
	// elapses, or the context is cancelled.
	AwaitConfirmation(ctx context.Context, txHash string, timeout time.Duration) (*TxStatus, error)

	// Tip returns the current chain head.
	Tip(ctx context.Context) (*Tip, error)
}
