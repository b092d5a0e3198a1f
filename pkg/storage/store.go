package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/xendbit/AssetManager/pkg/app/core/asset"
	"github.com/xendbit/AssetManager/pkg/app/core/ledger"
	"github.com/xendbit/AssetManager/pkg/app/core/orderbook"
)

// Meta holds the exchange-wide counters.
type Meta struct {
	OrderSeq uint64 `json:"orderSeq"`
	TradeSeq uint64 `json:"tradeSeq"`
	Issued   int64  `json:"issued"`
}

// ChangeSet is every record one command touched. It is written atomically.
type ChangeSet struct {
	Assets   []asset.Asset
	Wallets  []ledger.Wallet
	Holdings []ledger.Holding
	Orders   []orderbook.Order
	Trades   []orderbook.Trade
	Meta     *Meta
}

func (cs *ChangeSet) Empty() bool {
	return len(cs.Assets) == 0 && len(cs.Wallets) == 0 && len(cs.Holdings) == 0 &&
		len(cs.Orders) == 0 && len(cs.Trades) == 0 && cs.Meta == nil
}

// Snapshot is the persisted state loaded at startup.
type Snapshot struct {
	Assets   []asset.Asset
	Wallets  []ledger.Wallet
	Holdings []ledger.Holding
	Orders   []orderbook.Order
	Trades   []orderbook.Trade // most recent per asset, oldest first
	Meta     Meta
}

// Store persists exchange state in Pebble.
type Store struct {
	db *pebble.DB
}

func Open(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store backed by an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Commit writes a change set in one synced batch.
func (s *Store) Commit(cs *ChangeSet) error {
	if cs == nil || cs.Empty() {
		return nil
	}

	b := s.db.NewBatch()
	defer b.Close()

	for _, a := range cs.Assets {
		if err := setJSON(b, assetKey(a.ID), a); err != nil {
			return err
		}
	}
	for _, w := range cs.Wallets {
		if err := setJSON(b, walletKey(w.Address), w); err != nil {
			return err
		}
	}
	for _, h := range cs.Holdings {
		if err := setJSON(b, holdingKey(h.AssetID, h.Holder), h); err != nil {
			return err
		}
	}
	for _, o := range cs.Orders {
		if err := setJSON(b, orderKey(o.Key), o); err != nil {
			return err
		}
	}
	for _, t := range cs.Trades {
		if err := setJSON(b, tradeKey(t.AssetID, t.Seq), t); err != nil {
			return err
		}
	}
	if cs.Meta != nil {
		if err := setJSON(b, []byte(keyMeta), cs.Meta); err != nil {
			return err
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := b.Set(key, data, nil); err != nil {
		return fmt.Errorf("failed to stage %s: %w", key, err)
	}
	return nil
}

// Load reads the full state back, keeping up to tradeHistory recent trades
// per asset.
func (s *Store) Load(tradeHistory int) (*Snapshot, error) {
	snap := &Snapshot{}

	if err := scan(s.db, []byte(prefixAsset), &snap.Assets); err != nil {
		return nil, err
	}
	if err := scan(s.db, []byte(prefixWallet), &snap.Wallets); err != nil {
		return nil, err
	}
	if err := scan(s.db, []byte(prefixHolding), &snap.Holdings); err != nil {
		return nil, err
	}
	if err := scan(s.db, []byte(prefixOrder), &snap.Orders); err != nil {
		return nil, err
	}

	for _, a := range snap.Assets {
		trades, err := s.LoadRecentTrades(a.ID, tradeHistory)
		if err != nil {
			return nil, err
		}
		for i := len(trades) - 1; i >= 0; i-- {
			snap.Trades = append(snap.Trades, trades[i])
		}
	}

	data, closer, err := s.db.Get([]byte(keyMeta))
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to get meta: %w", err)
	default:
		defer closer.Close()
		if err := json.Unmarshal(data, &snap.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
		}
	}
	return snap, nil
}

func scan[T any](db *pebble.DB, prefix []byte, out *[]T) error {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator for %s: %w", prefix, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var v T
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", iter.Key(), err)
		}
		*out = append(*out, v)
	}
	return iter.Error()
}

// LoadRecentTrades returns up to limit trades of an asset, newest first.
func (s *Store) LoadRecentTrades(assetID uint64, limit int) ([]orderbook.Trade, error) {
	prefix := tradePrefix(assetID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	var trades []orderbook.Trade
	for iter.Last(); iter.Valid() && (limit <= 0 || len(trades) < limit); iter.Prev() {
		var t orderbook.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, iter.Error()
}
