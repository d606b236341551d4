package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PoolRecord persists the off-chain pool snapshot. Reserves and amounts are
// stored as decimal strings so no integer precision is ever lost.
type PoolRecord struct {
	ID            string `gorm:"primaryKey;size:64"`
	Address       string `gorm:"size:128;index"`
	AssetA        string `gorm:"size:160"`
	AssetB        string `gorm:"size:160"`
	NFTAsset      string `gorm:"size:160;uniqueIndex"`
	ReserveA      string `gorm:"size:80;not null"`
	ReserveB      string `gorm:"size:80;not null"`
	TotalLPTokens string `gorm:"size:80;not null"`
	FeeNumerator  uint64 `gorm:"not null"`
	ProtocolFeesA string `gorm:"size:80"`
	ProtocolFeesB string `gorm:"size:80"`
	Volume24h     string `gorm:"size:80"`
	Fees24h       string `gorm:"size:80"`
	TVLLovelace   string `gorm:"size:80"`
	Status        string `gorm:"size:16;index"`
	UtxoTxHash    string `gorm:"size:128"`
	UtxoIndex     uint32
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IntentRecord persists an escrowed swap intent across its lifecycle.
type IntentRecord struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	Creator          string    `gorm:"size:128;index"`
	InputAsset       string    `gorm:"size:160"`
	InputAmount      string    `gorm:"size:80;not null"`
	OutputAsset      string    `gorm:"size:160"`
	MinOutput        string    `gorm:"size:80;not null"`
	PartialFill      bool
	MaxFillCount     int
	RemainingInput   string `gorm:"size:80;not null"`
	FillCount        int
	LastFillTxHash   string `gorm:"size:128"`
	Deadline         time.Time `gorm:"index"`
	EscrowTxHash     string    `gorm:"size:128;index:idx_intent_escrow"`
	EscrowIndex      uint32    `gorm:"index:idx_intent_escrow"`
	Status           string    `gorm:"size:32;index"`
	ActualOutput     string    `gorm:"size:80"`
	SettlementTxHash string    `gorm:"size:128"`
	SolverAddress    string    `gorm:"size:128"`
	CancelTxHash     string    `gorm:"size:128"`
	ReclaimTxHash    string    `gorm:"size:128"`
	CreatedAt        time.Time
	UpdatedAt        time.Time `gorm:"index"`
}

// OrderRecord persists a resting order across its lifecycle.
type OrderRecord struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	Creator           string    `gorm:"size:128;index"`
	Type              string    `gorm:"size:16;index"`
	InputAsset        string    `gorm:"size:160"`
	OutputAsset       string    `gorm:"size:160"`
	InputAmount       string    `gorm:"size:80"`
	PriceNumerator    string    `gorm:"size:80"`
	PriceDenominator  string    `gorm:"size:80"`
	TotalBudget       string    `gorm:"size:80"`
	AmountPerInterval string    `gorm:"size:80"`
	IntervalSlots     int
	IntervalSeconds   int64
	RemainingBudget   string `gorm:"size:80"`
	ExecutedIntervals int
	LastExecutedAt    *time.Time
	Deadline          time.Time `gorm:"index"`
	EscrowTxHash      string    `gorm:"size:128;index:idx_order_escrow"`
	EscrowIndex       uint32    `gorm:"index:idx_order_escrow"`
	Status            string    `gorm:"size:32;index"`
	ExecutionTxHash   string    `gorm:"size:128"`
	CancelTxHash      string    `gorm:"size:128"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&PoolRecord{},
		&IntentRecord{},
		&OrderRecord{},
	)
}
