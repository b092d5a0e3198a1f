// Package journal records the side effects of one exchange command so the
// command can be rolled back as a unit and its touched records persisted.
package journal

import "github.com/ethereum/go-ethereum/common"

// HoldingKey identifies one holder's balance of one asset.
type HoldingKey struct {
	AssetID uint64
	Holder  common.Address
}

// Tx is the undo log of a single command. A nil *Tx is valid and records
// nothing, which lets components be driven directly in tests.
type Tx struct {
	undo []func()

	Wallets  map[common.Address]struct{}
	Holdings map[HoldingKey]struct{}
	Assets   map[uint64]struct{}
	Orders   map[common.Hash]struct{}
}

func New() *Tx {
	return &Tx{
		Wallets:  make(map[common.Address]struct{}),
		Holdings: make(map[HoldingKey]struct{}),
		Assets:   make(map[uint64]struct{}),
		Orders:   make(map[common.Hash]struct{}),
	}
}

// OnRollback registers fn to run if the command fails. Functions run in
// reverse registration order.
func (tx *Tx) OnRollback(fn func()) {
	if tx == nil {
		return
	}
	tx.undo = append(tx.undo, fn)
}

// Rollback replays the undo log and clears the touched sets.
func (tx *Tx) Rollback() {
	if tx == nil {
		return
	}
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	clear(tx.Wallets)
	clear(tx.Holdings)
	clear(tx.Assets)
	clear(tx.Orders)
}

// Len returns the number of recorded undo steps.
func (tx *Tx) Len() int {
	if tx == nil {
		return 0
	}
	return len(tx.undo)
}

func (tx *Tx) TouchWallet(addr common.Address) {
	if tx != nil {
		tx.Wallets[addr] = struct{}{}
	}
}

func (tx *Tx) TouchHolding(assetID uint64, holder common.Address) {
	if tx != nil {
		tx.Holdings[HoldingKey{AssetID: assetID, Holder: holder}] = struct{}{}
	}
}

func (tx *Tx) TouchAsset(id uint64) {
	if tx != nil {
		tx.Assets[id] = struct{}{}
	}
}

func (tx *Tx) TouchOrder(key common.Hash) {
	if tx != nil {
		tx.Orders[key] = struct{}{}
	}
}
