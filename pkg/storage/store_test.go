package storage

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xendbit/AssetManager/pkg/app/core/asset"
	"github.com/xendbit/AssetManager/pkg/app/core/ledger"
	"github.com/xendbit/AssetManager/pkg/app/core/orderbook"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000001")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000002")
)

func sampleChangeSet() *ChangeSet {
	return &ChangeSet{
		Assets: []asset.Asset{
			{ID: 2, Symbol: "BND", Issuer: alice, Owner: alice, TotalSupply: 10},
			{ID: 1, Symbol: "TAX", Issuer: alice, Owner: bob, TotalSupply: 1000},
		},
		Wallets:  []ledger.Wallet{{Address: alice, Available: 50, Escrow: 25, Nonce: 3}},
		Holdings: []ledger.Holding{{AssetID: 1, Holder: bob, Free: 900, Locked: 100}},
		Orders: []orderbook.Order{{
			Key: common.HexToHash("0x01"), Seq: 1, Side: orderbook.Sell, AssetID: 1, Owner: bob,
			Price: 2, OriginalAmount: 100, AmountRemaining: 100, Status: orderbook.Pending,
		}},
		Trades: []orderbook.Trade{
			{ID: "t1", Seq: 1, AssetID: 1, Price: 2, Qty: 5},
			{ID: "t2", Seq: 2, AssetID: 1, Price: 3, Qty: 5},
			{ID: "t3", Seq: 3, AssetID: 1, Price: 4, Qty: 5},
		},
		Meta: &Meta{OrderSeq: 1, TradeSeq: 3, Issued: 75},
	}
}

func TestCommitAndLoad(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Commit(sampleChangeSet()); err != nil {
		t.Fatalf("commit: %v", err)
	}

	snap, err := s.Load(2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(snap.Assets) != 2 || snap.Assets[0].ID != 1 || snap.Assets[1].ID != 2 {
		t.Errorf("assets not loaded in id order: %+v", snap.Assets)
	}
	if len(snap.Wallets) != 1 || snap.Wallets[0] != (ledger.Wallet{Address: alice, Available: 50, Escrow: 25, Nonce: 3}) {
		t.Errorf("wallets: %+v", snap.Wallets)
	}
	if len(snap.Holdings) != 1 || snap.Holdings[0].Locked != 100 {
		t.Errorf("holdings: %+v", snap.Holdings)
	}
	if len(snap.Orders) != 1 || snap.Orders[0].Status != orderbook.Pending || snap.Orders[0].Side != orderbook.Sell {
		t.Errorf("orders: %+v", snap.Orders)
	}
	if len(snap.Trades) != 2 || snap.Trades[0].ID != "t2" || snap.Trades[1].ID != "t3" {
		t.Errorf("expected the two latest trades oldest first, got %+v", snap.Trades)
	}
	if snap.Meta != (Meta{OrderSeq: 1, TradeSeq: 3, Issued: 75}) {
		t.Errorf("meta: %+v", snap.Meta)
	}
}

func TestCommitOverwrites(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	s.Commit(sampleChangeSet())
	o := sampleChangeSet().Orders[0]
	o.Status = orderbook.Cancelled
	if err := s.Commit(&ChangeSet{Orders: []orderbook.Order{o}}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	snap, _ := s.Load(0)
	if len(snap.Orders) != 1 || snap.Orders[0].Status != orderbook.Cancelled {
		t.Errorf("order not overwritten: %+v", snap.Orders)
	}
}

func TestLoadEmpty(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Commit(&ChangeSet{}); err != nil {
		t.Fatalf("empty commit: %v", err)
	}
	snap, err := s.Load(10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Assets)+len(snap.Orders)+len(snap.Trades) != 0 || snap.Meta != (Meta{}) {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
}

func TestRecentTradesArePerAsset(t *testing.T) {
	s, _ := OpenInMemory()
	defer s.Close()

	s.Commit(&ChangeSet{Trades: []orderbook.Trade{
		{ID: "a", Seq: 1, AssetID: 1},
		{ID: "b", Seq: 2, AssetID: 10},
		{ID: "c", Seq: 3, AssetID: 1},
	}})

	trades, err := s.LoadRecentTrades(1, 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(trades) != 2 || trades[0].ID != "c" || trades[1].ID != "a" {
		t.Errorf("trades for asset 1: %+v", trades)
	}
}

func TestKeyUpperBound(t *testing.T) {
	if got := string(keyUpperBound([]byte("trd:01:"))); got != "trd:01;" {
		t.Errorf("upper bound = %q", got)
	}
}
