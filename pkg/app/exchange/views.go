package exchange

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xendbit/AssetManager/pkg/app/core/asset"
	"github.com/xendbit/AssetManager/pkg/app/core/errs"
	"github.com/xendbit/AssetManager/pkg/app/core/ledger"
	"github.com/xendbit/AssetManager/pkg/app/core/orderbook"
)

// Reads take the state read lock, so they never observe a command
// half-applied. Order status is reported as of the read time.

// OrderView is an order as seen by readers.
type OrderView struct {
	orderbook.Order
	StatusName   string `json:"statusName"`
	StrategyName string `json:"strategyName"`
	SideName     string `json:"sideName"`
}

func (x *Exchange) view(o *orderbook.Order, now int64) OrderView {
	v := OrderView{Order: *o}
	v.Status = o.ViewStatus(now)
	v.StatusName = v.Status.String()
	v.StrategyName = o.Strategy.String()
	v.SideName = o.Side.String()
	return v
}

func (x *Exchange) readNow() int64 { return x.clock.Now().UnixMilli() }

func (x *Exchange) Order(key common.Hash) (OrderView, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	o, ok := x.st.Lookup(key)
	if !ok {
		return OrderView{}, fmt.Errorf("%w: order %s", errs.ErrNotFound, key.Hex())
	}
	return x.view(o, x.readNow()), nil
}

type FilterKind string

const (
	FilterAll       FilterKind = "ALL"
	FilterBuy       FilterKind = "BUY"
	FilterSell      FilterKind = "SELL"
	FilterMatched   FilterKind = "MATCHED"
	FilterPending   FilterKind = "PENDING"
	FilterCancelled FilterKind = "CANCELLED"
	FilterExpired   FilterKind = "EXPIRED"
	FilterAccount   FilterKind = "ACCOUNT"
)

// OrderFilter selects orders for Orders. AssetID 0 matches every asset.
type OrderFilter struct {
	Kind    FilterKind
	Account common.Address
	AssetID uint64
}

// ParseOrderFilter accepts a filter name or a hex account address. An
// empty string means ALL.
func ParseOrderFilter(s string) (OrderFilter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return OrderFilter{Kind: FilterAll}, nil
	}
	switch k := FilterKind(strings.ToUpper(s)); k {
	case FilterAll, FilterBuy, FilterSell, FilterMatched, FilterPending, FilterCancelled, FilterExpired:
		return OrderFilter{Kind: k}, nil
	}
	if common.IsHexAddress(s) {
		return OrderFilter{Kind: FilterAccount, Account: common.HexToAddress(s)}, nil
	}
	return OrderFilter{}, fmt.Errorf("%w: unknown order filter %q", errs.ErrInvalidArgument, s)
}

func (f OrderFilter) match(v *OrderView) bool {
	if f.AssetID != 0 && v.AssetID != f.AssetID {
		return false
	}
	resting := v.Status == orderbook.Pending
	switch f.Kind {
	case FilterBuy:
		return resting && v.Side == orderbook.Buy
	case FilterSell:
		return resting && v.Side == orderbook.Sell
	case FilterPending:
		return resting
	case FilterMatched:
		return v.Status == orderbook.Matched
	case FilterCancelled:
		return v.Status == orderbook.Cancelled
	case FilterExpired:
		return v.Status == orderbook.Expired
	case FilterAccount:
		return v.Owner == f.Account
	default:
		return true
	}
}

// Orders returns the orders selected by f in submission order.
func (x *Exchange) Orders(f OrderFilter) []OrderView {
	x.mu.RLock()
	defer x.mu.RUnlock()

	now := x.readNow()
	out := make([]OrderView, 0)
	for _, o := range x.st.orders {
		v := x.view(o, now)
		if f.match(&v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// AssetHolding is an asset together with one holder's position in it.
type AssetHolding struct {
	asset.Asset
	Holder common.Address `json:"holder"`
	Free   int64          `json:"free"`
	Locked int64          `json:"locked"`
}

func (x *Exchange) Asset(id uint64) (asset.Asset, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.st.assets.Get(id)
}

func (x *Exchange) Assets() []asset.Asset {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.st.assets.List()
}

func (x *Exchange) IssuedAssets(issuer common.Address) []asset.Asset {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.st.assets.ListIssuedBy(issuer)
}

// UserAssets returns every asset the holder has a non-zero position in.
func (x *Exchange) UserAssets(holder common.Address) []AssetHolding {
	x.mu.RLock()
	defer x.mu.RUnlock()

	hs := x.st.ledger.HoldingsOf(holder)
	out := make([]AssetHolding, 0, len(hs))
	for _, h := range hs {
		if h.Total() == 0 {
			continue
		}
		a, err := x.st.assets.Get(h.AssetID)
		if err != nil {
			continue
		}
		out = append(out, AssetHolding{Asset: a, Holder: holder, Free: h.Free, Locked: h.Locked})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OwnedShares returns the holder's free plus locked units of an asset.
func (x *Exchange) OwnedShares(assetID uint64, holder common.Address) (ledger.Holding, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if !x.st.assets.Exists(assetID) {
		return ledger.Holding{}, fmt.Errorf("%w: asset %d", errs.ErrNotFound, assetID)
	}
	return x.st.ledger.Holding(assetID, holder), nil
}

func (x *Exchange) Wallet(addr common.Address) ledger.Wallet {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.st.ledger.Wallet(addr)
}

func (x *Exchange) WalletBalance(addr common.Address) int64 { return x.Wallet(addr).Available }

func (x *Exchange) EscrowBalance(addr common.Address) int64 { return x.Wallet(addr).Escrow }

// TokenBalance is the holder's total units across all assets.
func (x *Exchange) TokenBalance(addr common.Address) int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var total int64
	for _, h := range x.st.ledger.HoldingsOf(addr) {
		total += h.Total()
	}
	return total
}

// RecentTrades returns up to limit trades of an asset, newest first.
func (x *Exchange) RecentTrades(assetID uint64, limit int) []orderbook.Trade {
	x.mu.RLock()
	defer x.mu.RUnlock()

	h := x.st.trades[assetID]
	if limit <= 0 || limit > len(h) {
		limit = len(h)
	}
	out := make([]orderbook.Trade, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out
}

// Depth is the aggregated book of one asset, best levels first.
type Depth struct {
	AssetID   uint64                 `json:"assetId"`
	Bids      []orderbook.PriceLevel `json:"bids"`
	Asks      []orderbook.PriceLevel `json:"asks"`
	LastPrice int64                  `json:"lastPrice"`
}

func (x *Exchange) Depth(assetID uint64) (Depth, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if !x.st.assets.Exists(assetID) {
		return Depth{}, fmt.Errorf("%w: asset %d", errs.ErrNotFound, assetID)
	}
	return x.depthLocked(assetID, x.readNow()), nil
}

func (x *Exchange) depthLocked(assetID uint64, now int64) Depth {
	d := Depth{AssetID: assetID}
	d.Bids, d.Asks = x.st.engine.Depth(assetID, now)
	if b := x.st.engine.Book(assetID); b != nil {
		d.LastPrice = b.LastPrice()
	}
	if d.Bids == nil {
		d.Bids = []orderbook.PriceLevel{}
	}
	if d.Asks == nil {
		d.Asks = []orderbook.PriceLevel{}
	}
	return d
}

// VerifyInvariants checks conservation of funds and units and the order
// remainder bounds over the whole state.
func (x *Exchange) VerifyInvariants() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.st.checkConservation()
}
