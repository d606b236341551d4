package amm

import (
	"math/big"

	"tidepool/native/common"
)

// PoolStatus tracks the off-chain lifecycle of a liquidity pool record.
type PoolStatus string

const (
	PoolStatusCreating PoolStatus = "CREATING"
	PoolStatusActive   PoolStatus = "ACTIVE"
	PoolStatusInactive PoolStatus = "INACTIVE"
)

// Valid reports whether the status value is within the supported range.
func (s PoolStatus) Valid() bool {
	switch s {
	case PoolStatusCreating, PoolStatusActive, PoolStatusInactive:
		return true
	default:
		return false
	}
}

// Direction names the swap direction relative to the pool's asset pair.
type Direction uint8

const (
	AToB Direction = iota
	BToA
)

func (d Direction) String() string {
	if d == AToB {
		return "a_to_b"
	}
	return "b_to_a"
}

// Pool is the off-chain snapshot of an on-chain constant-product pool. The
// UTxO reference must always point at the pool's current on-chain output and
// is only updated from confirmed chain observation.
type Pool struct {
	ID      string
	Address string
	AssetA  common.Asset
	AssetB  common.Asset

	// NFTAsset uniquely identifies the pool output on-chain.
	NFTAsset common.Asset

	ReserveA      *big.Int
	ReserveB      *big.Int
	TotalLPTokens *big.Int

	// FeeNumerator is the swap fee in parts per FeeDenominator.
	FeeNumerator uint64

	ProtocolFeesA *big.Int
	ProtocolFeesB *big.Int

	Volume24h *big.Int
	Fees24h   *big.Int

	// TVLLovelace is a display-only estimate of total value locked.
	TVLLovelace *big.Int

	Status PoolStatus
	UTxO   common.UTxORef
}

// Clone returns a deep copy so callers can price or mutate a snapshot without
// affecting the stored instance.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.ReserveA = cloneBigInt(p.ReserveA)
	clone.ReserveB = cloneBigInt(p.ReserveB)
	clone.TotalLPTokens = cloneBigInt(p.TotalLPTokens)
	clone.ProtocolFeesA = cloneBigInt(p.ProtocolFeesA)
	clone.ProtocolFeesB = cloneBigInt(p.ProtocolFeesB)
	clone.Volume24h = cloneBigInt(p.Volume24h)
	clone.Fees24h = cloneBigInt(p.Fees24h)
	clone.TVLLovelace = cloneBigInt(p.TVLLovelace)
	return &clone
}

// reserves returns the in/out reserves for the direction.
func (p *Pool) reserves(dir Direction) (in, out *big.Int) {
	if dir == AToB {
		return p.ReserveA, p.ReserveB
	}
	return p.ReserveB, p.ReserveA
}

// InputAsset returns the asset consumed when swapping in the direction.
func (p *Pool) InputAsset(dir Direction) common.Asset {
	if dir == AToB {
		return p.AssetA
	}
	return p.AssetB
}

// OutputAsset returns the asset produced when swapping in the direction.
func (p *Pool) OutputAsset(dir Direction) common.Asset {
	if dir == AToB {
		return p.AssetB
	}
	return p.AssetA
}

// DirectionFor resolves the swap direction for the given input asset.
func (p *Pool) DirectionFor(input common.Asset) (Direction, bool) {
	switch input {
	case p.AssetA:
		return AToB, true
	case p.AssetB:
		return BToA, true
	default:
		return AToB, false
	}
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
