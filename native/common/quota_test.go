package common

import (
	"errors"
	"testing"
)

func TestCheckQuotaOpenIntents(t *testing.T) {
	q := Quota{MaxOpenIntents: 10}
	prev := QuotaNow{}

	next, err := CheckQuota(q, prev, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.OpenIntents != 10 {
		t.Fatalf("unexpected open intent count: %d", next.OpenIntents)
	}

	denied, err := CheckQuota(q, next, 1, 0)
	if !errors.Is(err, ErrQuotaOpenIntentsExceeded) {
		t.Fatalf("expected ErrQuotaOpenIntentsExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}
}

func TestCheckQuotaOpenOrders(t *testing.T) {
	q := Quota{MaxOpenOrders: 3}
	prev := QuotaNow{OpenOrders: 2}

	next, err := CheckQuota(q, prev, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.OpenOrders != 3 {
		t.Fatalf("unexpected open order count: %d", next.OpenOrders)
	}

	denied, err := CheckQuota(q, next, 0, 1)
	if !errors.Is(err, ErrQuotaOpenOrdersExceeded) {
		t.Fatalf("expected ErrQuotaOpenOrdersExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}
}

func TestCheckQuotaDisabled(t *testing.T) {
	next, err := CheckQuota(Quota{}, QuotaNow{}, 100, 100)
	if err != nil {
		t.Fatalf("unexpected error with disabled quota: %v", err)
	}
	if next.OpenIntents != 100 || next.OpenOrders != 100 {
		t.Fatalf("unexpected counters: %+v", next)
	}
}
