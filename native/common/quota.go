package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaOpenIntentsExceeded = errors.New("quota open intents exceeded")
	ErrQuotaOpenOrdersExceeded  = errors.New("quota open orders exceeded")
	ErrQuotaCounterOverflow     = errors.New("quota counter overflow")
)

// QuotaNow captures the open-entity counters for a creator address.
type QuotaNow struct {
	OpenIntents uint32
	OpenOrders  uint32
}

// Quota defines the per-creator limits on concurrently open entities. A zero
// limit disables the corresponding check.
type Quota struct {
	MaxOpenIntents uint32
	MaxOpenOrders  uint32
}

// CheckQuota verifies whether the additional open intents and orders fit
// within the configured quota. The returned QuotaNow reflects the updated
// counters when the quota is not exceeded.
func CheckQuota(q Quota, prev QuotaNow, addIntents, addOrders uint32) (QuotaNow, error) {
	next := prev

	if addIntents > 0 {
		if next.OpenIntents > math.MaxUint32-addIntents {
			return prev, ErrQuotaCounterOverflow
		}
		next.OpenIntents += addIntents
	}
	if q.MaxOpenIntents > 0 && next.OpenIntents > q.MaxOpenIntents {
		return prev, ErrQuotaOpenIntentsExceeded
	}

	if addOrders > 0 {
		if next.OpenOrders > math.MaxUint32-addOrders {
			return prev, ErrQuotaCounterOverflow
		}
		next.OpenOrders += addOrders
	}
	if q.MaxOpenOrders > 0 && next.OpenOrders > q.MaxOpenOrders {
		return prev, ErrQuotaOpenOrdersExceeded
	}

	return next, nil
}
