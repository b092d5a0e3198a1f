package ledger

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	gethmath "github.com/ethereum/go-ethereum/common/math"

	"github.com/xendbit/AssetManager/pkg/app/core/errs"
)

// Wallet is a holder's settlement-currency balance.
// Escrow is reserved by resting BUY orders and is not spendable.
type Wallet struct {
	Address   common.Address `json:"address"`
	Available int64          `json:"available"`
	Escrow    int64          `json:"escrow"`
	Nonce     uint64         `json:"nonce"` // last accepted request nonce
}

// Total returns available plus escrowed funds.
func (w *Wallet) Total() int64 {
	return w.Available + w.Escrow
}

func (w *Wallet) Validate() error {
	if w.Available < 0 {
		return fmt.Errorf("negative available balance for %s: %d", w.Address.Hex(), w.Available)
	}
	if w.Escrow < 0 {
		return fmt.Errorf("negative escrow for %s: %d", w.Address.Hex(), w.Escrow)
	}
	return nil
}

// Holding is one holder's quantity of one asset. Locked units back
// resting SELL orders.
type Holding struct {
	AssetID uint64         `json:"assetId"`
	Holder  common.Address `json:"holder"`
	Free    int64          `json:"free"`
	Locked  int64          `json:"locked"`
}

func (h *Holding) Total() int64 {
	return h.Free + h.Locked
}

func (h *Holding) Validate() error {
	if h.Free < 0 || h.Locked < 0 {
		return fmt.Errorf("negative holding of asset %d for %s: free=%d locked=%d", h.AssetID, h.Holder.Hex(), h.Free, h.Locked)
	}
	return nil
}

// Notional returns price*qty, rejecting negative inputs and overflow.
func Notional(price, qty int64) (int64, error) {
	if price < 0 || qty < 0 {
		return 0, fmt.Errorf("%w: negative price or quantity: %d x %d", errs.ErrInvalidArgument, price, qty)
	}
	v, overflow := gethmath.SafeMul(uint64(price), uint64(qty))
	if overflow || v > uint64(math.MaxInt64) {
		return 0, fmt.Errorf("%w: notional %d x %d overflows", errs.ErrInvalidArgument, price, qty)
	}
	return int64(v), nil
}
