package common

import (
	"fmt"
	"strings"
)

// Asset identifies an on-chain asset by minting policy and asset name. The
// zero value is the native coin (lovelace).
type Asset struct {
	PolicyID string
	Name     string
}

// Lovelace returns the native-coin sentinel asset.
func Lovelace() Asset { return Asset{} }

// IsLovelace reports whether the asset is the native coin.
func (a Asset) IsLovelace() bool { return a.PolicyID == "" && a.Name == "" }

// Unit renders the asset in the conventional policy.name form used by chain
// indexers, or "lovelace" for the native coin.
func (a Asset) Unit() string {
	if a.IsLovelace() {
		return "lovelace"
	}
	if a.Name == "" {
		return a.PolicyID
	}
	return a.PolicyID + "." + a.Name
}

// ParseAsset decodes the policy.name form produced by Unit.
func ParseAsset(unit string) (Asset, error) {
	trimmed := strings.TrimSpace(unit)
	if trimmed == "" || trimmed == "lovelace" {
		return Lovelace(), nil
	}
	policy, name, _ := strings.Cut(trimmed, ".")
	if policy == "" {
		return Asset{}, fmt.Errorf("invalid asset unit %q", unit)
	}
	return Asset{PolicyID: policy, Name: name}, nil
}

// UTxORef names a single on-chain output by transaction hash and index.
type UTxORef struct {
	TxHash      string
	OutputIndex uint32
}

// IsZero reports whether the reference is unset.
func (r UTxORef) IsZero() bool { return r.TxHash == "" }

// String renders the reference in hash#index form.
func (r UTxORef) String() string {
	return fmt.Sprintf("%s#%d", r.TxHash, r.OutputIndex)
}

// ParseUTxORef decodes the hash#index form produced by String.
func ParseUTxORef(s string) (UTxORef, error) {
	hash, idx, found := strings.Cut(strings.TrimSpace(s), "#")
	if !found || hash == "" {
		return UTxORef{}, fmt.Errorf("invalid utxo reference %q", s)
	}
	var index uint32
	if _, err := fmt.Sscanf(idx, "%d", &index); err != nil {
		return UTxORef{}, fmt.Errorf("invalid utxo reference index %q: %w", s, err)
	}
	return UTxORef{TxHash: hash, OutputIndex: index}, nil
}
