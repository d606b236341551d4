package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tidepool/native/amm"
	"tidepool/native/common"
	"tidepool/observability"
	"tidepool/services/solverd/chain"
)

// Store is the persistence port consumed by the sweeper.
type Store interface {
	ExpireIntents(ctx context.Context, now time.Time) (int64, error)
	ExpireOrders(ctx context.Context, now time.Time) (int64, error)
	ListPools(ctx context.Context, status amm.PoolStatus) ([]*amm.Pool, error)
	SavePool(ctx context.Context, pool *amm.Pool) error
}

// Sweeper periodically reconciles stored state with time and chain reality:
// it bulk-expires past-deadline intents and orders, and re-points pool UTxO
// references that moved on-chain. Every pass is idempotent.
type Sweeper struct {
	store    Store
	provider chain.Provider
	log      *slog.Logger
	metrics  *observability.SweeperMetrics
	interval time.Duration
	nowFn    func() time.Time
}

// New assembles a Sweeper. A zero interval defaults to one minute.
func New(store Store, provider chain.Provider, log *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		provider: provider,
		log:      log,
		metrics:  observability.Sweeper(),
		interval: interval,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock. Test hook.
func (s *Sweeper) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.nowFn = now
	}
}

// Run drives RunOnce on the configured interval until the context is
// cancelled. Pass failures are logged; the loop keeps going.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error("sweep failed", "err", err)
			}
		}
	}
}

// RunOnce performs one full sweep: expiry pass then pool reconciliation pass.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	now := s.nowFn()

	expiredIntents, err := s.store.ExpireIntents(ctx, now)
	if err != nil {
		return fmt.Errorf("expire intents: %w", err)
	}
	expiredOrders, err := s.store.ExpireOrders(ctx, now)
	if err != nil {
		return fmt.Errorf("expire orders: %w", err)
	}
	if expiredIntents > 0 || expiredOrders > 0 {
		s.log.Info("expired stale entities", "intents", expiredIntents, "orders", expiredOrders)
	}
	s.metrics.RecordExpired("intent", expiredIntents)
	s.metrics.RecordExpired("order", expiredOrders)

	if err := s.reconcilePools(ctx); err != nil {
		return err
	}

	s.metrics.MarkRun(now)
	return nil
}

// reconcilePools re-points each ACTIVE pool's stored UTxO reference at the
// output currently carrying the pool NFT. Transient chain failures and
// missing NFTs skip the pool; anything else aborts the pass.
func (s *Sweeper) reconcilePools(ctx context.Context) error {
	pools, err := s.store.ListPools(ctx, amm.PoolStatusActive)
	if err != nil {
		return fmt.Errorf("list pools: %w", err)
	}
	for _, pool := range pools {
		utxo, err := s.provider.UTxOByAsset(ctx, pool.NFTAsset.Unit())
		if err != nil {
			if common.IsChainInteraction(err) || common.IsNotFound(err) {
				s.log.Warn("pool reconciliation skipped", "pool", pool.ID, "err", err)
				s.metrics.RecordSkip(skipReason(err))
				continue
			}
			return fmt.Errorf("reconcile pool %s: %w", pool.ID, err)
		}
		if utxo.Ref == pool.UTxO {
			continue
		}
		old := pool.UTxO
		pool.UTxO = utxo.Ref
		if err := s.store.SavePool(ctx, pool); err != nil {
			return fmt.Errorf("save pool %s: %w", pool.ID, err)
		}
		s.metrics.RecordPoolRepoint()
		s.log.Info("pool utxo re-pointed", "pool", pool.ID, "from", old.String(), "to", utxo.Ref.String())
	}
	return nil
}

func skipReason(err error) string {
	switch {
	case common.IsNotFound(err):
		return "not_found"
	case common.IsChainInteraction(err):
		return "chain"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}
