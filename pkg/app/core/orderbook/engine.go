package orderbook

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xendbit/AssetManager/pkg/app/core/journal"
	"github.com/xendbit/AssetManager/pkg/app/core/keyindex"
	"github.com/xendbit/AssetManager/pkg/app/core/ledger"
)

// OrderStore owns the order records. Mutate records the order's current
// state on tx before fn changes it.
type OrderStore interface {
	Lookup(key common.Hash) (*Order, bool)
	Mutate(tx *journal.Tx, key common.Hash, fn func(*Order))
}

// Settler moves funds and holdings for fills and releases reservations.
type Settler interface {
	Settle(tx *journal.Tx, s ledger.Settlement) error
	ReleaseEscrow(tx *journal.Tx, buyer common.Address, amount int64) error
	UnlockHolding(tx *journal.Tx, assetID uint64, seller common.Address, qty int64) error
	Wallet(addr common.Address) ledger.Wallet
}

// RemainderPolicy decides what happens to the unfilled part of a market
// order once the book is exhausted.
type RemainderPolicy string

const (
	RemainderRest    RemainderPolicy = "rest"    // rest as PENDING at the nominal price
	RemainderDiscard RemainderPolicy = "discard" // release and cancel
)

// ParseRemainderPolicy accepts "rest" or "discard".
func ParseRemainderPolicy(s string) (RemainderPolicy, error) {
	switch p := RemainderPolicy(s); p {
	case RemainderRest, RemainderDiscard:
		return p, nil
	default:
		return "", fmt.Errorf("unknown market order remainder policy %q (want rest or discard)", s)
	}
}

// Policy holds the engine options that are fixed for the life of an exchange.
type Policy struct {
	MarketRemainder RemainderPolicy
	AllowSelfMatch  bool
}

// DefaultPolicy rests market remainders and allows self-matching.
func DefaultPolicy() Policy {
	return Policy{MarketRemainder: RemainderRest, AllowSelfMatch: true}
}

// Result is the outcome of submitting one order.
type Result struct {
	Trades  []Trade
	Expired []common.Hash // resting orders swept while matching
}

// Engine matches orders against per-asset books. It is not safe for
// concurrent use; the exchange serializes every call.
type Engine struct {
	books   map[uint64]*Book
	orders  OrderStore
	settler Settler
	policy  Policy
	log     *zap.SugaredLogger

	NewTradeID func() string
}

func NewEngine(orders OrderStore, settler Settler, policy Policy, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if policy.MarketRemainder == "" {
		policy.MarketRemainder = RemainderRest
	}
	return &Engine{
		books:      make(map[uint64]*Book),
		orders:     orders,
		settler:    settler,
		policy:     policy,
		log:        log,
		NewTradeID: uuid.NewString,
	}
}

func (e *Engine) Policy() Policy { return e.policy }

// Book returns the book of an asset, or nil if nothing ever rested on it.
func (e *Engine) Book(assetID uint64) *Book {
	return e.books[assetID]
}

func (e *Engine) book(assetID uint64) *Book {
	b, ok := e.books[assetID]
	if !ok {
		b = NewBook(assetID)
		e.books[assetID] = b
	}
	return b
}

// Restore rests a persisted PENDING order without matching.
func (e *Engine) Restore(o *Order) error {
	return e.book(o.AssetID).insert(nil, o)
}

// Submit matches a stored PENDING order whose funds or units are already
// reserved, then disposes of any remainder. On error the caller must roll
// back tx.
func (e *Engine) Submit(tx *journal.Tx, key common.Hash, now int64) (*Result, error) {
	in, ok := e.orders.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("order %s not stored", key.Hex())
	}
	b := e.book(in.AssetID)
	res := &Result{}

	var err error
	if in.Strategy == AON {
		err = e.matchAllOrNothing(tx, b, in, now, res)
	} else {
		err = e.matchPartial(tx, b, in, now, res)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case in.AmountRemaining == 0:
		e.orders.Mutate(tx, key, func(o *Order) {
			o.Status = Matched
			o.UpdatedAt = now
		})
	case in.Strategy == MO && e.policy.MarketRemainder == RemainderDiscard:
		if err := e.release(tx, in); err != nil {
			return nil, err
		}
		e.orders.Mutate(tx, key, func(o *Order) {
			o.Status = Cancelled
			o.UpdatedAt = now
		})
	default:
		if err := b.insert(tx, in); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// accept returns the price gate for the incoming order's candidates.
func accept(in *Order) func(keyindex.Entry) bool {
	switch {
	case in.Strategy == MO:
		return nil
	case in.Side == Buy:
		return func(r keyindex.Entry) bool { return r.Price <= in.Price }
	default:
		return func(r keyindex.Entry) bool { return r.Price >= in.Price }
	}
}

// candidate resolves a resting entry, sweeping it if it has expired.
// It returns nil for entries the incoming order must skip.
func (e *Engine) candidate(tx *journal.Tx, in *Order, key common.Hash, now int64, res *Result) (*Order, error) {
	r, ok := e.orders.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("indexed order %s has no record", key.Hex())
	}
	if r.Elapsed(now) {
		if err := e.Expire(tx, key, now); err != nil {
			return nil, err
		}
		res.Expired = append(res.Expired, key)
		return nil, nil
	}
	if !e.policy.AllowSelfMatch && r.Owner == in.Owner {
		return nil, nil
	}
	return r, nil
}

func (e *Engine) matchPartial(tx *journal.Tx, b *Book, in *Order, now int64, res *Result) error {
	opp := b.side(in.Side.Opposite())

	for entry := range opp.Front(accept(in)) {
		r, err := e.candidate(tx, in, entry.Key, now, res)
		if err != nil {
			return err
		}
		if r == nil {
			continue
		}
		// a resting AON is only ever taken whole
		if r.Strategy == AON && r.AmountRemaining > in.AmountRemaining {
			continue
		}

		qty := min(in.AmountRemaining, r.AmountRemaining)
		if in.Side == Buy && r.Price > in.Price {
			// market buy above its nominal price pays the difference from
			// available funds
			extra := r.Price - in.Price
			affordable := e.settler.Wallet(in.Owner).Available / extra
			if affordable < qty {
				if r.Strategy == AON {
					continue
				}
				qty = affordable
			}
			if qty == 0 {
				break
			}
		}

		if err := e.fill(tx, b, in, r, qty, now, res); err != nil {
			return err
		}
		if in.AmountRemaining == 0 {
			break
		}
	}
	return nil
}

// matchAllOrNothing fills the incoming order against the first single
// resting order that can absorb all of it, or leaves it untouched.
func (e *Engine) matchAllOrNothing(tx *journal.Tx, b *Book, in *Order, now int64, res *Result) error {
	opp := b.side(in.Side.Opposite())

	for entry := range opp.Front(accept(in)) {
		r, err := e.candidate(tx, in, entry.Key, now, res)
		if err != nil {
			return err
		}
		if r == nil || r.AmountRemaining < in.AmountRemaining {
			continue
		}
		if r.Strategy == AON && r.AmountRemaining != in.AmountRemaining {
			continue
		}
		return e.fill(tx, b, in, r, in.AmountRemaining, now, res)
	}
	return nil
}

// fill settles qty units between the incoming order and a resting one at
// the resting order's price.
func (e *Engine) fill(tx *journal.Tx, b *Book, in, r *Order, qty, now int64, res *Result) error {
	buy, sell := in, r
	if in.Side == Sell {
		buy, sell = r, in
	}

	err := e.settler.Settle(tx, ledger.Settlement{
		AssetID:    in.AssetID,
		Buyer:      buy.Owner,
		Seller:     sell.Owner,
		Qty:        qty,
		Price:      r.Price,
		EscrowRate: buy.Price,
		FromLocked: true,
	})
	if err != nil {
		return fmt.Errorf("settle fill %s/%s: %w", in.Key.Hex(), r.Key.Hex(), err)
	}

	counterparty := func(o *Order) {
		o.AmountRemaining -= qty
		o.Buyer = buy.Owner
		o.Seller = sell.Owner
		o.UpdatedAt = now
	}
	e.orders.Mutate(tx, in.Key, counterparty)
	e.orders.Mutate(tx, r.Key, counterparty)

	if r.AmountRemaining == 0 {
		e.orders.Mutate(tx, r.Key, func(o *Order) { o.Status = Matched })
		if err := b.remove(tx, r.Side, r.Key); err != nil {
			return err
		}
	}
	b.setLastPrice(tx, r.Price)

	res.Trades = append(res.Trades, Trade{
		ID:        e.NewTradeID(),
		AssetID:   in.AssetID,
		Price:     r.Price,
		Qty:       qty,
		TakerKey:  in.Key,
		MakerKey:  r.Key,
		Buyer:     buy.Owner,
		Seller:    sell.Owner,
		TakerSide: in.Side,
		Timestamp: now,
	})

	e.log.Debugw("order_fill",
		"asset", in.AssetID,
		"taker", in.Key.Hex(),
		"maker", r.Key.Hex(),
		"price", r.Price,
		"qty", qty,
	)
	return nil
}

// release returns whatever the order still reserves to its owner.
func (e *Engine) release(tx *journal.Tx, o *Order) error {
	if o.Side == Buy {
		return e.settler.ReleaseEscrow(tx, o.Owner, o.Price*o.AmountRemaining)
	}
	return e.settler.UnlockHolding(tx, o.AssetID, o.Owner, o.AmountRemaining)
}

// Cancel releases a PENDING order's reservation, removes it from the book
// and marks it Cancelled.
func (e *Engine) Cancel(tx *journal.Tx, key common.Hash, now int64) error {
	return e.finalize(tx, key, Cancelled, now)
}

// Expire is Cancel for an order whose expiry has passed.
func (e *Engine) Expire(tx *journal.Tx, key common.Hash, now int64) error {
	return e.finalize(tx, key, Expired, now)
}

func (e *Engine) finalize(tx *journal.Tx, key common.Hash, status Status, now int64) error {
	o, ok := e.orders.Lookup(key)
	if !ok {
		return fmt.Errorf("order %s not stored", key.Hex())
	}
	if o.Status != Pending {
		return fmt.Errorf("order %s is %s", key.Hex(), o.Status)
	}
	if err := e.release(tx, o); err != nil {
		return err
	}
	if b := e.books[o.AssetID]; b != nil && b.side(o.Side).Contains(key) {
		if err := b.remove(tx, o.Side, key); err != nil {
			return err
		}
	}
	e.orders.Mutate(tx, key, func(o *Order) {
		o.Status = status
		o.UpdatedAt = now
	})
	e.log.Debugw("order_finalized", "key", key.Hex(), "status", status.String())
	return nil
}

// Depth returns the live price levels of an asset, best first.
func (e *Engine) Depth(assetID uint64, now int64) (bids, asks []PriceLevel) {
	b := e.books[assetID]
	if b == nil {
		return nil, nil
	}
	live := func(o *Order) bool { return !o.Elapsed(now) }
	return b.Levels(Buy, e.orders.Lookup, live), b.Levels(Sell, e.orders.Lookup, live)
}
