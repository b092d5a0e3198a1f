package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xendbit/AssetManager/pkg/app/core/errs"
	"github.com/xendbit/AssetManager/pkg/app/core/journal"
)

// Ledger keeps wallet balances, escrow and asset holdings.
// Every mutation records an undo step on the supplied journal.Tx and
// marks the touched records for persistence.
type Ledger struct {
	mu        sync.RWMutex
	authority common.Address // funding authority
	wallets   map[common.Address]*Wallet
	holdings  map[journal.HoldingKey]*Holding
	issued    int64 // currency created through Fund
}

func New(fundingAuthority common.Address) *Ledger {
	return &Ledger{
		authority: fundingAuthority,
		wallets:   make(map[common.Address]*Wallet),
		holdings:  make(map[journal.HoldingKey]*Holding),
	}
}

func (l *Ledger) FundingAuthority() common.Address { return l.authority }

// wallet returns the mutable wallet for addr, creating it if needed, after
// recording its current state on tx. Caller holds l.mu.
func (l *Ledger) wallet(tx *journal.Tx, addr common.Address) *Wallet {
	w, ok := l.wallets[addr]
	if !ok {
		w = &Wallet{Address: addr}
		l.wallets[addr] = w
		tx.OnRollback(func() { delete(l.wallets, addr) })
	} else {
		prev := *w
		tx.OnRollback(func() { *w = prev })
	}
	tx.TouchWallet(addr)
	return w
}

func (l *Ledger) holding(tx *journal.Tx, assetID uint64, holder common.Address) *Holding {
	key := journal.HoldingKey{AssetID: assetID, Holder: holder}
	h, ok := l.holdings[key]
	if !ok {
		h = &Holding{AssetID: assetID, Holder: holder}
		l.holdings[key] = h
		tx.OnRollback(func() { delete(l.holdings, key) })
	} else {
		prev := *h
		tx.OnRollback(func() { *h = prev })
	}
	tx.TouchHolding(assetID, holder)
	return h
}

func positive(what string, v int64) error {
	if v <= 0 {
		return fmt.Errorf("%w: %s must be positive: %d", errs.ErrInvalidArgument, what, v)
	}
	return nil
}

// Fund credits a wallet with newly issued currency. Only the funding
// authority may call it.
func (l *Ledger) Fund(tx *journal.Tx, caller, to common.Address, amount int64) error {
	if caller != l.authority {
		return fmt.Errorf("%w: %s is not the funding authority", errs.ErrUnauthorized, caller.Hex())
	}
	if err := positive("fund amount", amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.issued > (1<<63-1)-amount {
		return fmt.Errorf("%w: total issued currency would overflow", errs.ErrInvalidArgument)
	}

	w := l.wallet(tx, to)
	w.Available += amount

	prevIssued := l.issued
	l.issued += amount
	tx.OnRollback(func() { l.issued = prevIssued })
	return nil
}

// Issue credits the full supply of a new asset to holder.
func (l *Ledger) Issue(tx *journal.Tx, assetID uint64, holder common.Address, qty int64) error {
	if err := positive("supply", qty); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.holding(tx, assetID, holder)
	h.Free += qty
	return nil
}

// Escrow moves amount from the buyer's available balance into escrow.
func (l *Ledger) Escrow(tx *journal.Tx, buyer common.Address, amount int64) error {
	if err := positive("escrow amount", amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if have := l.availableLocked(buyer); have < amount {
		return fmt.Errorf("%w: have %d, need %d", errs.ErrInsufficientFunds, have, amount)
	}

	w := l.wallet(tx, buyer)
	w.Available -= amount
	w.Escrow += amount
	return nil
}

// ReleaseEscrow returns escrowed funds to the buyer's available balance.
func (l *Ledger) ReleaseEscrow(tx *journal.Tx, buyer common.Address, amount int64) error {
	if amount == 0 {
		return nil
	}
	if amount < 0 {
		return fmt.Errorf("%w: release amount cannot be negative: %d", errs.ErrInvalidArgument, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[buyer]
	if !ok || w.Escrow < amount {
		return fmt.Errorf("cannot release more than escrowed for %s: release=%d", buyer.Hex(), amount)
	}

	w = l.wallet(tx, buyer)
	w.Escrow -= amount
	w.Available += amount
	return nil
}

// LockHolding reserves free units of an asset for a SELL order.
func (l *Ledger) LockHolding(tx *journal.Tx, assetID uint64, seller common.Address, qty int64) error {
	if err := positive("lock quantity", qty); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if have := l.freeLocked(assetID, seller); have < qty {
		return fmt.Errorf("%w: asset %d: have %d, need %d", errs.ErrInsufficientHoldings, assetID, have, qty)
	}

	h := l.holding(tx, assetID, seller)
	h.Free -= qty
	h.Locked += qty
	return nil
}

// UnlockHolding returns locked units to the free balance.
func (l *Ledger) UnlockHolding(tx *journal.Tx, assetID uint64, seller common.Address, qty int64) error {
	if qty == 0 {
		return nil
	}
	if qty < 0 {
		return fmt.Errorf("%w: unlock quantity cannot be negative: %d", errs.ErrInvalidArgument, qty)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.holdings[journal.HoldingKey{AssetID: assetID, Holder: seller}]
	if !ok || h.Locked < qty {
		return fmt.Errorf("cannot unlock more than locked: asset %d holder %s unlock=%d", assetID, seller.Hex(), qty)
	}

	h = l.holding(tx, assetID, seller)
	h.Locked -= qty
	h.Free += qty
	return nil
}

// TransferHolding moves free units of an asset between holders.
func (l *Ledger) TransferHolding(tx *journal.Tx, assetID uint64, from, to common.Address, qty int64) error {
	if err := positive("transfer quantity", qty); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if have := l.freeLocked(assetID, from); have < qty {
		return fmt.Errorf("%w: asset %d: have %d, need %d", errs.ErrInsufficientHoldings, assetID, have, qty)
	}

	src := l.holding(tx, assetID, from)
	src.Free -= qty
	dst := l.holding(tx, assetID, to)
	dst.Free += qty
	return nil
}

// Settlement describes the movement implied by one fill or direct trade.
type Settlement struct {
	AssetID uint64
	Buyer   common.Address
	Seller  common.Address
	Qty     int64
	Price   int64 // execution price per unit

	// EscrowRate is the per-unit amount reserved from the buyer's escrow
	// for this fill. Any difference to Price is refunded to, or charged
	// from, the buyer's available balance. Zero pays entirely from
	// available funds.
	EscrowRate int64

	// FromLocked takes the seller's units out of locked holdings rather
	// than free ones.
	FromLocked bool
}

// Settle pays the seller Price*Qty and moves Qty units of the asset from
// seller to buyer. It either applies completely or not at all.
func (l *Ledger) Settle(tx *journal.Tx, s Settlement) error {
	if err := positive("fill quantity", s.Qty); err != nil {
		return err
	}
	if err := positive("fill price", s.Price); err != nil {
		return err
	}
	cost, err := Notional(s.Price, s.Qty)
	if err != nil {
		return err
	}
	reserved, err := Notional(s.EscrowRate, s.Qty)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	buyer := l.wallets[s.Buyer]
	var escrow, available int64
	if buyer != nil {
		escrow, available = buyer.Escrow, buyer.Available
	}
	if escrow < reserved {
		return fmt.Errorf("%w: escrow %d below reserved %d for %s", errs.ErrInsufficientFunds, escrow, reserved, s.Buyer.Hex())
	}
	if extra := cost - reserved; extra > available {
		return fmt.Errorf("%w: have %d, need %d more", errs.ErrInsufficientFunds, available, extra)
	}

	key := journal.HoldingKey{AssetID: s.AssetID, Holder: s.Seller}
	var have int64
	if h := l.holdings[key]; h != nil {
		have = h.Free
		if s.FromLocked {
			have = h.Locked
		}
	}
	if have < s.Qty {
		return fmt.Errorf("%w: asset %d: seller %s has %d, need %d", errs.ErrInsufficientHoldings, s.AssetID, s.Seller.Hex(), have, s.Qty)
	}

	bw := l.wallet(tx, s.Buyer)
	bw.Escrow -= reserved
	bw.Available += reserved - cost
	sw := l.wallet(tx, s.Seller)
	sw.Available += cost

	sh := l.holding(tx, s.AssetID, s.Seller)
	if s.FromLocked {
		sh.Locked -= s.Qty
	} else {
		sh.Free -= s.Qty
	}
	bh := l.holding(tx, s.AssetID, s.Buyer)
	bh.Free += s.Qty
	return nil
}

// ConsumeNonce records nonce as the caller's latest request nonce.
// Nonce 0 marks an in-process call and is not checked.
func (l *Ledger) ConsumeNonce(tx *journal.Tx, caller common.Address, nonce uint64) error {
	if nonce == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.wallets[caller]; ok && nonce <= w.Nonce {
		return fmt.Errorf("%w: nonce %d already used (last %d)", errs.ErrUnauthorized, nonce, w.Nonce)
	}
	w := l.wallet(tx, caller)
	w.Nonce = nonce
	return nil
}

func (l *Ledger) availableLocked(addr common.Address) int64 {
	if w, ok := l.wallets[addr]; ok {
		return w.Available
	}
	return 0
}

func (l *Ledger) freeLocked(assetID uint64, holder common.Address) int64 {
	if h, ok := l.holdings[journal.HoldingKey{AssetID: assetID, Holder: holder}]; ok {
		return h.Free
	}
	return 0
}

// Wallet returns a copy of the wallet for addr. Unknown addresses have a
// zero wallet.
func (l *Ledger) Wallet(addr common.Address) Wallet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if w, ok := l.wallets[addr]; ok {
		return *w
	}
	return Wallet{Address: addr}
}

func (l *Ledger) Holding(assetID uint64, holder common.Address) Holding {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if h, ok := l.holdings[journal.HoldingKey{AssetID: assetID, Holder: holder}]; ok {
		return *h
	}
	return Holding{AssetID: assetID, Holder: holder}
}

// HoldingsOf returns holder's non-empty holdings ordered by asset id.
func (l *Ledger) HoldingsOf(holder common.Address) []Holding {
	return l.collect(func(h *Holding) bool { return h.Holder == holder })
}

// HoldersOf returns the non-empty holdings of one asset.
func (l *Ledger) HoldersOf(assetID uint64) []Holding {
	return l.collect(func(h *Holding) bool { return h.AssetID == assetID })
}

func (l *Ledger) collect(keep func(*Holding) bool) []Holding {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Holding
	for _, h := range l.holdings {
		if h.Total() > 0 && keep(h) {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssetID != out[j].AssetID {
			return out[i].AssetID < out[j].AssetID
		}
		return out[i].Holder.Cmp(out[j].Holder) < 0
	})
	return out
}

// Issued returns the total currency created through Fund.
func (l *Ledger) Issued() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.issued
}

// CheckConservation verifies that wallet balances sum to the issued
// currency and that each asset's holdings sum to its supply.
func (l *Ledger) CheckConservation(supplies map[uint64]int64) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int64
	for _, w := range l.wallets {
		if err := w.Validate(); err != nil {
			return err
		}
		total += w.Total()
	}
	if total != l.issued {
		return fmt.Errorf("wallet balances %d do not match issued currency %d", total, l.issued)
	}

	held := make(map[uint64]int64, len(supplies))
	for _, h := range l.holdings {
		if err := h.Validate(); err != nil {
			return err
		}
		held[h.AssetID] += h.Total()
	}
	for id, supply := range supplies {
		if held[id] != supply {
			return fmt.Errorf("asset %d holdings %d do not match supply %d", id, held[id], supply)
		}
		delete(held, id)
	}
	for id, qty := range held {
		if qty != 0 {
			return fmt.Errorf("holdings of unknown asset %d: %d", id, qty)
		}
	}
	return nil
}

// Restore loads persisted state without checks.
func (l *Ledger) Restore(wallets []Wallet, holdings []Holding, issued int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range wallets {
		cp := w
		l.wallets[w.Address] = &cp
	}
	for _, h := range holdings {
		cp := h
		l.holdings[journal.HoldingKey{AssetID: h.AssetID, Holder: h.Holder}] = &cp
	}
	l.issued = issued
}
