package asset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xendbit/AssetManager/pkg/app/core/errs"
)

// MaxDecimals bounds the display precision of an asset.
const MaxDecimals = 18

// Asset is an issued, tradable token. Only Owner changes after creation;
// per-holder quantities live in the settlement ledger.
type Asset struct {
	ID           uint64         `json:"id"`
	Symbol       string         `json:"symbol"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Issuer       common.Address `json:"issuer"`
	Owner        common.Address `json:"owner"`
	TotalSupply  int64          `json:"totalSupply"`
	Decimals     uint8          `json:"decimals"`
	IssuingPrice int64          `json:"issuingPrice"`
	CreatedAt    int64          `json:"createdAt"` // unix millis
}

// CreateSpec describes an asset created by its own issuer.
type CreateSpec struct {
	Name        string
	Description string
	TotalSupply int64
	Decimals    uint8
}

// MintSpec describes a token minted by the minting authority on behalf of
// an issuer, under a caller-chosen token id.
type MintSpec struct {
	TokenID      uint64
	Name         string
	Symbol       string
	Description  string
	TotalSupply  int64
	IssuingPrice int64
	Issuer       common.Address
}

// Ref points at an asset either by id or by (symbol, issuer).
type Ref struct {
	ID     uint64         `json:"id,omitempty"`
	Symbol string         `json:"symbol,omitempty"`
	Issuer common.Address `json:"issuer,omitempty"`
}

func (r Ref) String() string {
	if r.ID != 0 {
		return fmt.Sprintf("#%d", r.ID)
	}
	return fmt.Sprintf("%s/%s", r.Symbol, r.Issuer.Hex())
}

func (s CreateSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: asset name is required", errs.ErrInvalidArgument)
	}
	return validateSupply(s.TotalSupply, s.Decimals)
}

func (s MintSpec) Validate() error {
	if s.TokenID == 0 {
		return fmt.Errorf("%w: token id must be non-zero", errs.ErrInvalidArgument)
	}
	if s.Symbol == "" {
		return fmt.Errorf("%w: token symbol is required", errs.ErrInvalidArgument)
	}
	if s.IssuingPrice < 0 {
		return fmt.Errorf("%w: issuing price cannot be negative: %d", errs.ErrInvalidArgument, s.IssuingPrice)
	}
	if s.Issuer == (common.Address{}) {
		return fmt.Errorf("%w: issuer address is required", errs.ErrInvalidArgument)
	}
	return validateSupply(s.TotalSupply, 0)
}

func validateSupply(supply int64, decimals uint8) error {
	if supply <= 0 {
		return fmt.Errorf("%w: total supply must be positive: %d", errs.ErrInvalidArgument, supply)
	}
	if decimals > MaxDecimals {
		return fmt.Errorf("%w: decimals %d exceeds %d", errs.ErrInvalidArgument, decimals, MaxDecimals)
	}
	return nil
}
