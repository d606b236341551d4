package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tidepool/native/amm"
	"tidepool/native/common"
	"tidepool/native/intent"
	"tidepool/native/order"
)

// Store wraps the solverd persistence layer. A single logical writer per
// entity is assumed; gorm upserts keyed on the primary key provide the
// serialization point.
type Store struct {
	db *gorm.DB
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- pools ---

// PoolByID loads one pool snapshot.
func (s *Store) PoolByID(ctx context.Context, id string) (*amm.Pool, error) {
	var rec PoolRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewNotFound("pool", id)
		}
		return nil, fmt.Errorf("load pool %s: %w", id, err)
	}
	return poolFromRecord(&rec)
}

// PoolByUTxO resolves the pool currently anchored at the given output.
func (s *Store) PoolByUTxO(ctx context.Context, ref common.UTxORef) (*amm.Pool, error) {
	var rec PoolRecord
	err := s.db.WithContext(ctx).
		First(&rec, "utxo_tx_hash = ? AND utxo_index = ?", ref.TxHash, ref.OutputIndex).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewNotFound("pool", ref.String())
		}
		return nil, fmt.Errorf("load pool by utxo %s: %w", ref, err)
	}
	return poolFromRecord(&rec)
}

// ListPools returns pool snapshots filtered by status. An empty status lists
// every pool.
func (s *Store) ListPools(ctx context.Context, status amm.PoolStatus) ([]*amm.Pool, error) {
	query := s.db.WithContext(ctx).Order("id")
	if status != "" {
		query = query.Where("status = ?", string(status))
	}
	var recs []PoolRecord
	if err := query.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	pools := make([]*amm.Pool, 0, len(recs))
	for i := range recs {
		pool, err := poolFromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

// SavePool upserts the pool snapshot.
func (s *Store) SavePool(ctx context.Context, pool *amm.Pool) error {
	rec := recordFromPool(pool)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("save pool %s: %w", pool.ID, err)
	}
	return nil
}

// --- intents ---

// IntentByID loads one intent snapshot.
func (s *Store) IntentByID(ctx context.Context, id string) (*intent.Intent, error) {
	key, err := uuid.Parse(id)
	if err != nil {
		return nil, common.NewInvalidParameters("intent id %q is not a uuid", id)
	}
	var rec IntentRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewNotFound("intent", id)
		}
		return nil, fmt.Errorf("load intent %s: %w", id, err)
	}
	return intentFromRecord(&rec)
}

// FindIntentByEscrow resolves the intent holding the given escrow output.
func (s *Store) FindIntentByEscrow(ctx context.Context, ref common.UTxORef) (*intent.Intent, error) {
	var rec IntentRecord
	err := s.db.WithContext(ctx).
		First(&rec, "escrow_tx_hash = ? AND escrow_index = ?", ref.TxHash, ref.OutputIndex).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewNotFound("intent", ref.String())
		}
		return nil, fmt.Errorf("load intent by escrow %s: %w", ref, err)
	}
	return intentFromRecord(&rec)
}

// ListIntentsByStatus returns intents in the given status, oldest first.
func (s *Store) ListIntentsByStatus(ctx context.Context, status intent.Status, limit int) ([]*intent.Intent, error) {
	query := s.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var recs []IntentRecord
	if err := query.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	intents := make([]*intent.Intent, 0, len(recs))
	for i := range recs {
		it, err := intentFromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		intents = append(intents, it)
	}
	return intents, nil
}

// ListFilledIntentsBetween returns intents filled within the window, used by
// the fill report exporter.
func (s *Store) ListFilledIntentsBetween(ctx context.Context, start, end time.Time) ([]*intent.Intent, error) {
	var recs []IntentRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at >= ? AND updated_at < ?", string(intent.StatusFilled), start, end).
		Order("updated_at").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list filled intents: %w", err)
	}
	intents := make([]*intent.Intent, 0, len(recs))
	for i := range recs {
		it, err := intentFromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		intents = append(intents, it)
	}
	return intents, nil
}

// CountOpenIntents returns the creator's non-terminal intent count, used by
// the per-creator quota check.
func (s *Store) CountOpenIntents(ctx context.Context, creator string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&IntentRecord{}).
		Where("creator = ? AND status IN ?", creator, statusStrings(intent.ExpirableStatuses())).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count open intents: %w", err)
	}
	return count, nil
}

// SaveIntent upserts the intent snapshot.
func (s *Store) SaveIntent(ctx context.Context, it *intent.Intent) error {
	rec, err := recordFromIntent(it)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("save intent %s: %w", it.ID, err)
	}
	return nil
}

// ExpireIntents bulk-transitions every intent past its deadline and still in
// an expirable status to EXPIRED. Idempotent; returns the number of rows
// transitioned.
func (s *Store) ExpireIntents(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&IntentRecord{}).
		Where("deadline <= ? AND status IN ?", now, statusStrings(intent.ExpirableStatuses())).
		Updates(map[string]interface{}{"status": string(intent.StatusExpired), "updated_at": now})
	if result.Error != nil {
		return 0, fmt.Errorf("expire intents: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// --- orders ---

// OrderByID loads one order snapshot.
func (s *Store) OrderByID(ctx context.Context, id string) (*order.Order, error) {
	key, err := uuid.Parse(id)
	if err != nil {
		return nil, common.NewInvalidParameters("order id %q is not a uuid", id)
	}
	var rec OrderRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewNotFound("order", id)
		}
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}
	return orderFromRecord(&rec)
}

// FindOrderByEscrow resolves the order holding the given escrow output.
func (s *Store) FindOrderByEscrow(ctx context.Context, ref common.UTxORef) (*order.Order, error) {
	var rec OrderRecord
	err := s.db.WithContext(ctx).
		First(&rec, "escrow_tx_hash = ? AND escrow_index = ?", ref.TxHash, ref.OutputIndex).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewNotFound("order", ref.String())
		}
		return nil, fmt.Errorf("load order by escrow %s: %w", ref, err)
	}
	return orderFromRecord(&rec)
}

// ListOrdersByStatus returns orders in the given status, oldest first.
func (s *Store) ListOrdersByStatus(ctx context.Context, status order.Status, limit int) ([]*order.Order, error) {
	query := s.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var recs []OrderRecord
	if err := query.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	orders := make([]*order.Order, 0, len(recs))
	for i := range recs {
		o, err := orderFromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// CountOpenOrders returns the creator's non-terminal order count.
func (s *Store) CountOpenOrders(ctx context.Context, creator string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&OrderRecord{}).
		Where("creator = ? AND status IN ?", creator, orderStatusStrings(order.ExpirableStatuses())).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count open orders: %w", err)
	}
	return count, nil
}

// SaveOrder upserts the order snapshot.
func (s *Store) SaveOrder(ctx context.Context, o *order.Order) error {
	rec, err := recordFromOrder(o)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

// ExpireOrders bulk-transitions every order past its deadline and still in
// an expirable status to EXPIRED.
func (s *Store) ExpireOrders(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&OrderRecord{}).
		Where("deadline <= ? AND status IN ?", now, orderStatusStrings(order.ExpirableStatuses())).
		Updates(map[string]interface{}{"status": string(order.StatusExpired), "updated_at": now})
	if result.Error != nil {
		return 0, fmt.Errorf("expire orders: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// --- conversions ---

func poolFromRecord(rec *PoolRecord) (*amm.Pool, error) {
	assetA, err := common.ParseAsset(rec.AssetA)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", rec.ID, err)
	}
	assetB, err := common.ParseAsset(rec.AssetB)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", rec.ID, err)
	}
	nft, err := common.ParseAsset(rec.NFTAsset)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", rec.ID, err)
	}
	pool := &amm.Pool{
		ID:           rec.ID,
		Address:      rec.Address,
		AssetA:       assetA,
		AssetB:       assetB,
		NFTAsset:     nft,
		FeeNumerator: rec.FeeNumerator,
		Status:       amm.PoolStatus(rec.Status),
		UTxO:         common.UTxORef{TxHash: rec.UtxoTxHash, OutputIndex: rec.UtxoIndex},
	}
	for _, field := range []struct {
		dst  **big.Int
		raw  string
		name string
	}{
		{&pool.ReserveA, rec.ReserveA, "reserve_a"},
		{&pool.ReserveB, rec.ReserveB, "reserve_b"},
		{&pool.TotalLPTokens, rec.TotalLPTokens, "total_lp_tokens"},
		{&pool.ProtocolFeesA, rec.ProtocolFeesA, "protocol_fees_a"},
		{&pool.ProtocolFeesB, rec.ProtocolFeesB, "protocol_fees_b"},
		{&pool.Volume24h, rec.Volume24h, "volume_24h"},
		{&pool.Fees24h, rec.Fees24h, "fees_24h"},
		{&pool.TVLLovelace, rec.TVLLovelace, "tvl_lovelace"},
	} {
		value, err := parseAmount(field.raw)
		if err != nil {
			return nil, fmt.Errorf("pool %s column %s: %w", rec.ID, field.name, err)
		}
		*field.dst = value
	}
	return pool, nil
}

func recordFromPool(pool *amm.Pool) *PoolRecord {
	return &PoolRecord{
		ID:            pool.ID,
		Address:       pool.Address,
		AssetA:        pool.AssetA.Unit(),
		AssetB:        pool.AssetB.Unit(),
		NFTAsset:      pool.NFTAsset.Unit(),
		ReserveA:      formatAmount(pool.ReserveA),
		ReserveB:      formatAmount(pool.ReserveB),
		TotalLPTokens: formatAmount(pool.TotalLPTokens),
		FeeNumerator:  pool.FeeNumerator,
		ProtocolFeesA: formatAmount(pool.ProtocolFeesA),
		ProtocolFeesB: formatAmount(pool.ProtocolFeesB),
		Volume24h:     formatAmount(pool.Volume24h),
		Fees24h:       formatAmount(pool.Fees24h),
		TVLLovelace:   formatAmount(pool.TVLLovelace),
		Status:        string(pool.Status),
		UtxoTxHash:    pool.UTxO.TxHash,
		UtxoIndex:     pool.UTxO.OutputIndex,
	}
}

func intentFromRecord(rec *IntentRecord) (*intent.Intent, error) {
	inputAsset, err := common.ParseAsset(rec.InputAsset)
	if err != nil {
		return nil, fmt.Errorf("intent %s: %w", rec.ID, err)
	}
	outputAsset, err := common.ParseAsset(rec.OutputAsset)
	if err != nil {
		return nil, fmt.Errorf("intent %s: %w", rec.ID, err)
	}
	inputAmount, err := parseAmount(rec.InputAmount)
	if err != nil {
		return nil, fmt.Errorf("intent %s input amount: %w", rec.ID, err)
	}
	minOutput, err := parseAmount(rec.MinOutput)
	if err != nil {
		return nil, fmt.Errorf("intent %s min output: %w", rec.ID, err)
	}
	remaining, err := parseAmount(rec.RemainingInput)
	if err != nil {
		return nil, fmt.Errorf("intent %s remaining input: %w", rec.ID, err)
	}
	it := &intent.Intent{
		ID:               rec.ID.String(),
		Creator:          rec.Creator,
		InputAsset:       inputAsset,
		InputAmount:      inputAmount,
		OutputAsset:      outputAsset,
		MinOutput:        minOutput,
		PartialFill:      rec.PartialFill,
		MaxFillCount:     rec.MaxFillCount,
		RemainingInput:   remaining,
		FillCount:        rec.FillCount,
		LastFillTxHash:   rec.LastFillTxHash,
		Deadline:         rec.Deadline,
		EscrowUTxO:       common.UTxORef{TxHash: rec.EscrowTxHash, OutputIndex: rec.EscrowIndex},
		Status:           intent.Status(rec.Status),
		SettlementTxHash: rec.SettlementTxHash,
		SolverAddress:    rec.SolverAddress,
		CancelTxHash:     rec.CancelTxHash,
		ReclaimTxHash:    rec.ReclaimTxHash,
	}
	if rec.ActualOutput != "" {
		actual, err := parseAmount(rec.ActualOutput)
		if err != nil {
			return nil, fmt.Errorf("intent %s actual output: %w", rec.ID, err)
		}
		it.ActualOutput = actual
	}
	return it, nil
}

func recordFromIntent(it *intent.Intent) (*IntentRecord, error) {
	key, err := uuid.Parse(it.ID)
	if err != nil {
		return nil, common.NewInvalidParameters("intent id %q is not a uuid", it.ID)
	}
	rec := &IntentRecord{
		ID:               key,
		Creator:          it.Creator,
		InputAsset:       it.InputAsset.Unit(),
		InputAmount:      formatAmount(it.InputAmount),
		OutputAsset:      it.OutputAsset.Unit(),
		MinOutput:        formatAmount(it.MinOutput),
		PartialFill:      it.PartialFill,
		MaxFillCount:     it.MaxFillCount,
		RemainingInput:   formatAmount(it.RemainingInput),
		FillCount:        it.FillCount,
		LastFillTxHash:   it.LastFillTxHash,
		Deadline:         it.Deadline,
		EscrowTxHash:     it.EscrowUTxO.TxHash,
		EscrowIndex:      it.EscrowUTxO.OutputIndex,
		Status:           string(it.Status),
		SettlementTxHash: it.SettlementTxHash,
		SolverAddress:    it.SolverAddress,
		CancelTxHash:     it.CancelTxHash,
		ReclaimTxHash:    it.ReclaimTxHash,
	}
	if it.ActualOutput != nil {
		rec.ActualOutput = formatAmount(it.ActualOutput)
	}
	return rec, nil
}

func orderFromRecord(rec *OrderRecord) (*order.Order, error) {
	inputAsset, err := common.ParseAsset(rec.InputAsset)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", rec.ID, err)
	}
	outputAsset, err := common.ParseAsset(rec.OutputAsset)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", rec.ID, err)
	}
	o := &order.Order{
		ID:                rec.ID.String(),
		Creator:           rec.Creator,
		Type:              order.Type(rec.Type),
		InputAsset:        inputAsset,
		OutputAsset:       outputAsset,
		IntervalSlots:     rec.IntervalSlots,
		IntervalDuration:  time.Duration(rec.IntervalSeconds) * time.Second,
		ExecutedIntervals: rec.ExecutedIntervals,
		Deadline:          rec.Deadline,
		EscrowUTxO:        common.UTxORef{TxHash: rec.EscrowTxHash, OutputIndex: rec.EscrowIndex},
		Status:            order.Status(rec.Status),
		ExecutionTxHash:   rec.ExecutionTxHash,
		CancelTxHash:      rec.CancelTxHash,
	}
	if rec.LastExecutedAt != nil {
		o.LastExecutedAt = *rec.LastExecutedAt
	}
	for _, field := range []struct {
		dst  **big.Int
		raw  string
		name string
	}{
		{&o.InputAmount, rec.InputAmount, "input_amount"},
		{&o.PriceNumerator, rec.PriceNumerator, "price_numerator"},
		{&o.PriceDenominator, rec.PriceDenominator, "price_denominator"},
		{&o.TotalBudget, rec.TotalBudget, "total_budget"},
		{&o.AmountPerInterval, rec.AmountPerInterval, "amount_per_interval"},
		{&o.RemainingBudget, rec.RemainingBudget, "remaining_budget"},
	} {
		if field.raw == "" {
			continue
		}
		value, err := parseAmount(field.raw)
		if err != nil {
			return nil, fmt.Errorf("order %s column %s: %w", rec.ID, field.name, err)
		}
		*field.dst = value
	}
	return o, nil
}

func recordFromOrder(o *order.Order) (*OrderRecord, error) {
	key, err := uuid.Parse(o.ID)
	if err != nil {
		return nil, common.NewInvalidParameters("order id %q is not a uuid", o.ID)
	}
	rec := &OrderRecord{
		ID:                key,
		Creator:           o.Creator,
		Type:              string(o.Type),
		InputAsset:        o.InputAsset.Unit(),
		OutputAsset:       o.OutputAsset.Unit(),
		IntervalSlots:     o.IntervalSlots,
		IntervalSeconds:   int64(o.IntervalDuration / time.Second),
		ExecutedIntervals: o.ExecutedIntervals,
		Deadline:          o.Deadline,
		EscrowTxHash:      o.EscrowUTxO.TxHash,
		EscrowIndex:       o.EscrowUTxO.OutputIndex,
		Status:            string(o.Status),
		ExecutionTxHash:   o.ExecutionTxHash,
		CancelTxHash:      o.CancelTxHash,
	}
	if !o.LastExecutedAt.IsZero() {
		at := o.LastExecutedAt
		rec.LastExecutedAt = &at
	}
	if o.InputAmount != nil {
		rec.InputAmount = formatAmount(o.InputAmount)
	}
	if o.PriceNumerator != nil {
		rec.PriceNumerator = formatAmount(o.PriceNumerator)
	}
	if o.PriceDenominator != nil {
		rec.PriceDenominator = formatAmount(o.PriceDenominator)
	}
	if o.TotalBudget != nil {
		rec.TotalBudget = formatAmount(o.TotalBudget)
	}
	if o.AmountPerInterval != nil {
		rec.AmountPerInterval = formatAmount(o.AmountPerInterval)
	}
	if o.RemainingBudget != nil {
		rec.RemainingBudget = formatAmount(o.RemainingBudget)
	}
	return rec, nil
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt amount %q", raw)
	}
	return value, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func statusStrings(statuses []intent.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func orderStatusStrings(statuses []order.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
