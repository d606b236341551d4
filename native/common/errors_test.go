package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	notFound := NewNotFound("intent", "abc")
	if !IsNotFound(notFound) {
		t.Fatalf("expected NotFoundError classification")
	}
	wrapped := fmt.Errorf("load intent: %w", notFound)
	if !IsNotFound(wrapped) {
		t.Fatalf("expected wrapped NotFoundError classification")
	}
	if IsInvalidState(wrapped) {
		t.Fatalf("NotFoundError misclassified as InvalidStateError")
	}

	invalid := NewInvalidState("intent", "FILLED", "cancel")
	if !IsInvalidState(invalid) {
		t.Fatalf("expected InvalidStateError classification")
	}
	if invalid.Error() != "intent in state FILLED cannot cancel" {
		t.Fatalf("unexpected message: %s", invalid.Error())
	}

	params := NewInvalidParameters("amount must be positive, got %d", -1)
	if !IsInvalidParameters(params) {
		t.Fatalf("expected InvalidParametersError classification")
	}
}

func TestChainInteractionUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapChain("submit tx", cause)
	if !IsChainInteraction(err) {
		t.Fatalf("expected ChainInteractionError classification")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved")
	}
}

func TestAssetUnitRoundTrip(t *testing.T) {
	cases := []Asset{
		Lovelace(),
		{PolicyID: "deadbeef", Name: "TOKEN"},
		{PolicyID: "cafe"},
	}
	for _, asset := range cases {
		parsed, err := ParseAsset(asset.Unit())
		if err != nil {
			t.Fatalf("parse %q: %v", asset.Unit(), err)
		}
		if parsed != asset {
			t.Fatalf("round trip mismatch: %+v != %+v", parsed, asset)
		}
	}
	if _, err := ParseAsset(".broken"); err == nil {
		t.Fatalf("expected error for empty policy")
	}
}

func TestUTxORefRoundTrip(t *testing.T) {
	ref := UTxORef{TxHash: "aa11", OutputIndex: 3}
	parsed, err := ParseUTxORef(ref.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != ref {
		t.Fatalf("round trip mismatch: %+v != %+v", parsed, ref)
	}
	if _, err := ParseUTxORef("missing-index"); err == nil {
		t.Fatalf("expected error for missing index")
	}
}
