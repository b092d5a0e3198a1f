package exchange

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xendbit/AssetManager/pkg/app/core/asset"
	"github.com/xendbit/AssetManager/pkg/app/core/errs"
	"github.com/xendbit/AssetManager/pkg/app/core/journal"
	"github.com/xendbit/AssetManager/pkg/app/core/ledger"
	"github.com/xendbit/AssetManager/pkg/app/core/orderbook"
	"github.com/xendbit/AssetManager/pkg/storage"
)

// state is everything the exchange owns. It is only mutated by the
// writer goroutine while Exchange.mu is held.
type state struct {
	assets *asset.Registry
	ledger *ledger.Ledger
	engine *orderbook.Engine

	orders   map[common.Hash]*orderbook.Order
	trades   map[uint64][]orderbook.Trade // recent, oldest first
	history  int
	orderSeq uint64
	tradeSeq uint64
}

// Lookup and Mutate make state the engine's order store.
func (s *state) Lookup(key common.Hash) (*orderbook.Order, bool) {
	o, ok := s.orders[key]
	return o, ok
}

func (s *state) Mutate(tx *journal.Tx, key common.Hash, fn func(*orderbook.Order)) {
	o := s.orders[key]
	prev := *o
	tx.OnRollback(func() { *o = prev })
	tx.TouchOrder(key)
	fn(o)
}

func (s *state) addOrder(tx *journal.Tx, o *orderbook.Order) error {
	if _, exists := s.orders[o.Key]; exists {
		return fmt.Errorf("%w: order %s already exists", errs.ErrDuplicateID, o.Key.Hex())
	}
	s.orders[o.Key] = o
	key := o.Key
	tx.OnRollback(func() { delete(s.orders, key) })
	tx.TouchOrder(key)
	return nil
}

func (s *state) nextOrderSeq(tx *journal.Tx) uint64 {
	prev := s.orderSeq
	s.orderSeq++
	tx.OnRollback(func() { s.orderSeq = prev })
	return s.orderSeq
}

// recordTrade assigns the next trade sequence and appends t to the
// asset's recent history.
func (s *state) recordTrade(tx *journal.Tx, t orderbook.Trade) orderbook.Trade {
	prevSeq := s.tradeSeq
	s.tradeSeq++
	t.Seq = s.tradeSeq

	prev, had := s.trades[t.AssetID]
	next := append(prev, t)
	if s.history > 0 && len(next) > s.history {
		next = next[len(next)-s.history:]
	}
	s.trades[t.AssetID] = next

	tx.OnRollback(func() {
		s.tradeSeq = prevSeq
		if had {
			s.trades[t.AssetID] = prev
		} else {
			delete(s.trades, t.AssetID)
		}
	})
	return t
}

func (s *state) supplies() map[uint64]int64 {
	all := s.assets.List()
	out := make(map[uint64]int64, len(all))
	for _, a := range all {
		out[a.ID] = a.TotalSupply
	}
	return out
}

func (s *state) checkConservation() error {
	if err := s.ledger.CheckConservation(s.supplies()); err != nil {
		return fmt.Errorf("conservation violated: %w", err)
	}
	for _, o := range s.orders {
		if o.AmountRemaining < 0 || o.AmountRemaining > o.OriginalAmount {
			return fmt.Errorf("order %s remaining %d outside [0,%d]", o.Key.Hex(), o.AmountRemaining, o.OriginalAmount)
		}
		if o.Status == orderbook.Matched && o.AmountRemaining != 0 {
			return fmt.Errorf("matched order %s has %d remaining", o.Key.Hex(), o.AmountRemaining)
		}
		if o.Status == orderbook.Pending && o.AmountRemaining == 0 {
			return fmt.Errorf("pending order %s has nothing remaining", o.Key.Hex())
		}
	}
	return nil
}

// changeSet collects the current value of every record tx touched.
func (s *state) changeSet(tx *journal.Tx, trades []orderbook.Trade) *storage.ChangeSet {
	cs := &storage.ChangeSet{
		Trades: trades,
		Meta: &storage.Meta{
			OrderSeq: s.orderSeq,
			TradeSeq: s.tradeSeq,
			Issued:   s.ledger.Issued(),
		},
	}
	for id := range tx.Assets {
		if a, err := s.assets.Get(id); err == nil {
			cs.Assets = append(cs.Assets, a)
		}
	}
	for addr := range tx.Wallets {
		cs.Wallets = append(cs.Wallets, s.ledger.Wallet(addr))
	}
	for k := range tx.Holdings {
		cs.Holdings = append(cs.Holdings, s.ledger.Holding(k.AssetID, k.Holder))
	}
	for key := range tx.Orders {
		if o, ok := s.orders[key]; ok {
			cs.Orders = append(cs.Orders, *o)
		}
	}
	sort.Slice(cs.Assets, func(i, j int) bool { return cs.Assets[i].ID < cs.Assets[j].ID })
	sort.Slice(cs.Orders, func(i, j int) bool { return cs.Orders[i].Seq < cs.Orders[j].Seq })
	sort.Slice(cs.Wallets, func(i, j int) bool { return cs.Wallets[i].Address.Cmp(cs.Wallets[j].Address) < 0 })
	return cs
}

// restore loads a persisted snapshot and rebuilds every book from the
// pending orders.
func (s *state) restore(snap *storage.Snapshot) error {
	for _, a := range snap.Assets {
		s.assets.Restore(a)
	}
	s.ledger.Restore(snap.Wallets, snap.Holdings, snap.Meta.Issued)

	pending := make([]*orderbook.Order, 0)
	for i := range snap.Orders {
		o := snap.Orders[i]
		s.orders[o.Key] = &o
		if o.Status == orderbook.Pending {
			pending = append(pending, &o)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Seq < pending[j].Seq })
	for _, o := range pending {
		if err := s.engine.Restore(o); err != nil {
			return fmt.Errorf("failed to restore order %s: %w", o.Key.Hex(), err)
		}
	}

	for _, t := range snap.Trades {
		h := append(s.trades[t.AssetID], t)
		if s.history > 0 && len(h) > s.history {
			h = h[len(h)-s.history:]
		}
		s.trades[t.AssetID] = h
	}
	s.orderSeq = snap.Meta.OrderSeq
	s.tradeSeq = snap.Meta.TradeSeq
	return nil
}
