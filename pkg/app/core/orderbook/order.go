package orderbook

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xendbit/AssetManager/pkg/app/core/errs"
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Strategy is the fill policy of an order.
type Strategy uint8

const (
	GTC Strategy = iota // good till cancelled, partial fills
	AON                 // all or nothing against a single counter order
	GTD                 // GTC with an expiry time
	GTM                 // GTD expiring at the end of the calendar month
	MO                  // market order, no price gate
)

var strategyNames = [...]string{"GTC", "AON", "GTD", "GTM", "MO"}

func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return fmt.Sprintf("Strategy(%d)", uint8(s))
}

func (s Strategy) Valid() bool { return int(s) < len(strategyNames) }

// ParseStrategy accepts a strategy name, case-insensitively.
func ParseStrategy(name string) (Strategy, error) {
	for i, n := range strategyNames {
		if strings.EqualFold(n, name) {
			return Strategy(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown order strategy %q", errs.ErrInvalidArgument, name)
}

type Status uint8

const (
	Pending Status = iota
	Matched
	Cancelled
	Expired
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Matched:
		return "MATCHED"
	case Cancelled:
		return "CANCELLED"
	case Expired:
		return "EXPIRED"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Order is the record of one submission. AmountRemaining only decreases
// and Status only leaves Pending once.
type Order struct {
	Key             common.Hash    `json:"key"`
	Seq             uint64         `json:"seq"`
	Side            Side           `json:"orderType"`
	Strategy        Strategy       `json:"orderStrategy"`
	AssetID         uint64         `json:"assetId"`
	Issuer          common.Address `json:"issuer"`
	Owner           common.Address `json:"owner"`
	Buyer           common.Address `json:"buyer"`
	Seller          common.Address `json:"seller"`
	Price           int64          `json:"price"`
	OriginalAmount  int64          `json:"originalAmount"`
	AmountRemaining int64          `json:"amountRemaining"`
	Status          Status         `json:"status"`
	GoodUntil       int64          `json:"goodUntil"`   // unix millis, 0 = none
	SubmittedAt     int64          `json:"submittedAt"` // unix millis
	UpdatedAt       int64          `json:"updatedAt"`
}

func (o *Order) Filled() int64 { return o.OriginalAmount - o.AmountRemaining }

func (o *Order) IsPending() bool { return o.Status == Pending }

// Elapsed reports whether the order's expiry time has passed at now.
func (o *Order) Elapsed(now int64) bool {
	return o.GoodUntil != 0 && now >= o.GoodUntil
}

// ViewStatus is the status a reader should see at now: a pending order
// whose expiry has passed reads as Expired before it is swept.
func (o *Order) ViewStatus(now int64) Status {
	if o.Status == Pending && o.Elapsed(now) {
		return Expired
	}
	return o.Status
}

// Reserved returns the funds (BUY) or units (SELL) still held for the
// unfilled part of the order.
func (o *Order) Reserved() int64 {
	if o.Side == Buy {
		return o.Price * o.AmountRemaining
	}
	return o.AmountRemaining
}

// Validate checks the caller-supplied fields of a new order.
func (o *Order) Validate(now int64) error {
	if !o.Side.Valid() {
		return fmt.Errorf("%w: unknown order side %d", errs.ErrInvalidArgument, o.Side)
	}
	if !o.Strategy.Valid() {
		return fmt.Errorf("%w: unknown order strategy %d", errs.ErrInvalidArgument, o.Strategy)
	}
	if o.OriginalAmount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", errs.ErrInvalidArgument, o.OriginalAmount)
	}
	if o.Price <= 0 {
		return fmt.Errorf("%w: price must be positive, got %d", errs.ErrInvalidArgument, o.Price)
	}
	if o.Strategy == GTD && o.GoodUntil <= now {
		return fmt.Errorf("%w: goodUntil %d is not in the future", errs.ErrInvalidArgument, o.GoodUntil)
	}
	if o.GoodUntil < 0 {
		return fmt.Errorf("%w: goodUntil cannot be negative", errs.ErrInvalidArgument)
	}
	return nil
}

// Trade is one fill between a taker and a resting maker, or a direct
// off-book sale when Direct is set.
type Trade struct {
	ID        string         `json:"id"`
	Seq       uint64         `json:"seq"`
	AssetID   uint64         `json:"assetId"`
	Price     int64          `json:"price"`
	Qty       int64          `json:"qty"`
	TakerKey  common.Hash    `json:"takerKey"`
	MakerKey  common.Hash    `json:"makerKey"`
	Buyer     common.Address `json:"buyer"`
	Seller    common.Address `json:"seller"`
	TakerSide Side           `json:"takerSide"`
	Direct    bool           `json:"direct"`
	Timestamp int64          `json:"timestamp"`
}

func (t Trade) Notional() int64 { return t.Price * t.Qty }
