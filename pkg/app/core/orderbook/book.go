package orderbook

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/xendbit/AssetManager/pkg/app/core/journal"
	"github.com/xendbit/AssetManager/pkg/app/core/keyindex"
)

type PriceLevel struct {
	Price  int64 `json:"price"`
	Qty    int64 `json:"qty"` // total remaining at this price
	Orders int   `json:"orders"`
}

// Book holds the resting order keys of one asset. Bids are best-first by
// highest price, asks by lowest.
type Book struct {
	AssetID uint64
	bids    *keyindex.Index
	asks    *keyindex.Index

	lastPrice int64 // most recent fill price
}

func NewBook(assetID uint64) *Book {
	return &Book{
		AssetID: assetID,
		bids:    keyindex.New(keyindex.Descending),
		asks:    keyindex.New(keyindex.Ascending),
	}
}

func (b *Book) side(s Side) *keyindex.Index {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

func entryOf(o *Order) keyindex.Entry {
	return keyindex.Entry{Key: o.Key, Price: o.Price, SubmittedAt: o.SubmittedAt, Seq: o.Seq}
}

// insert rests o on its side of the book.
func (b *Book) insert(tx *journal.Tx, o *Order) error {
	ix := b.side(o.Side)
	if err := ix.Insert(entryOf(o)); err != nil {
		return err
	}
	key := o.Key
	tx.OnRollback(func() { ix.Remove(key) })
	return nil
}

func (b *Book) remove(tx *journal.Tx, side Side, key common.Hash) error {
	ix := b.side(side)
	e, err := ix.Remove(key)
	if err != nil {
		return err
	}
	tx.OnRollback(func() { ix.Insert(e) })
	return nil
}

func (b *Book) setLastPrice(tx *journal.Tx, p int64) {
	prev := b.lastPrice
	b.lastPrice = p
	tx.OnRollback(func() { b.lastPrice = prev })
}

func (b *Book) LastPrice() int64 { return b.lastPrice }

// Contains reports whether key is resting on either side.
func (b *Book) Contains(key common.Hash) bool {
	return b.bids.Contains(key) || b.asks.Contains(key)
}

func (b *Book) Len(s Side) int { return b.side(s).Len() }

// Keys returns the resting keys of one side in priority order.
func (b *Book) Keys(s Side) []common.Hash {
	entries := b.side(s).Entries()
	out := make([]common.Hash, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

// Levels aggregates one side into price levels, best first. Orders for
// which live returns false are left out.
func (b *Book) Levels(s Side, lookup func(common.Hash) (*Order, bool), live func(*Order) bool) []PriceLevel {
	var levels []PriceLevel
	for _, e := range b.side(s).Entries() {
		o, ok := lookup(e.Key)
		if !ok || (live != nil && !live(o)) {
			continue
		}
		if n := len(levels); n > 0 && levels[n-1].Price == e.Price {
			levels[n-1].Qty += o.AmountRemaining
			levels[n-1].Orders++
			continue
		}
		levels = append(levels, PriceLevel{Price: e.Price, Qty: o.AmountRemaining, Orders: 1})
	}
	return levels
}
