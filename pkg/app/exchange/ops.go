package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xendbit/AssetManager/pkg/app/core/asset"
	"github.com/xendbit/AssetManager/pkg/app/core/errs"
	"github.com/xendbit/AssetManager/pkg/app/core/ledger"
	"github.com/xendbit/AssetManager/pkg/app/core/orderbook"
	"github.com/xendbit/AssetManager/pkg/crypto"
	"github.com/xendbit/AssetManager/pkg/util"
)

type CreateAsset struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	TotalSupply int64  `json:"totalSupply"`
	Decimals    uint8  `json:"decimals"`
}

type Mint struct {
	TokenID     uint64         `json:"tokenId"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Description string         `json:"description"`
	TotalSupply int64          `json:"totalSupply"`
	Price       int64          `json:"price"`
	Issuer      common.Address `json:"issuer"`
}

type TransferTokenOwnership struct {
	TokenID  uint64         `json:"tokenId"`
	NewOwner common.Address `json:"newOwner"`
}

type TransferShares struct {
	TokenID uint64         `json:"tokenId"`
	To      common.Address `json:"to"`
	Amount  int64          `json:"amount"`
}

// TransferAsset names the asset by id or by (assetName, issuer).
type TransferAsset struct {
	To        common.Address `json:"to"`
	TokenID   uint64         `json:"tokenId,omitempty"`
	AssetName string         `json:"assetName,omitempty"`
	Issuer    common.Address `json:"issuer,omitempty"`
	Amount    int64          `json:"amount"`
}

func (t TransferAsset) ref() asset.Ref {
	return asset.Ref{ID: t.TokenID, Symbol: t.AssetName, Issuer: t.Issuer}
}

type PostOrder struct {
	OrderType     orderbook.Side     `json:"orderType"`
	OrderStrategy orderbook.Strategy `json:"orderStrategy"`
	Amount        int64              `json:"amount"`
	Price         int64              `json:"price"`
	TokenID       uint64             `json:"tokenId,omitempty"`
	AssetName     string             `json:"assetName,omitempty"`
	Issuer        common.Address     `json:"issuer,omitempty"`
	GoodUntil     int64              `json:"goodUntil,omitempty"` // unix millis, GTD only
}

func (p PostOrder) ref() asset.Ref {
	return asset.Ref{ID: p.TokenID, Symbol: p.AssetName, Issuer: p.Issuer}
}

type CancelOrder struct {
	Key common.Hash `json:"key"`
}

type FundWallet struct {
	To     common.Address `json:"to"`
	Amount int64          `json:"amount"`
}

type BuyShares struct {
	TokenID uint64         `json:"tokenId"`
	Seller  common.Address `json:"seller"`
	Amount  int64          `json:"amount"`
	Price   int64          `json:"price"`
}

// CreateAsset registers a new asset issued by the caller and credits the
// whole supply to them.
func (x *Exchange) CreateAsset(ctx context.Context, auth Auth, req CreateAsset) (uint64, error) {
	return call(ctx, x, "createAsset", auth, func(c *opCtx) (uint64, error) {
		a, err := x.st.assets.Create(c.tx, c.caller, asset.CreateSpec{
			Name:        req.Name,
			Description: req.Description,
			TotalSupply: req.TotalSupply,
			Decimals:    req.Decimals,
		}, c.now)
		if err != nil {
			return 0, err
		}
		if err := x.st.ledger.Issue(c.tx, a.ID, c.caller, a.TotalSupply); err != nil {
			return 0, err
		}
		return a.ID, nil
	})
}

// Mint is reserved to the contractor, who receives the minted supply.
func (x *Exchange) Mint(ctx context.Context, auth Auth, req Mint) error {
	_, err := call(ctx, x, "mint", auth, func(c *opCtx) (struct{}, error) {
		a, err := x.st.assets.Mint(c.tx, c.caller, asset.MintSpec{
			TokenID:      req.TokenID,
			Name:         req.Name,
			Symbol:       req.Symbol,
			Description:  req.Description,
			TotalSupply:  req.TotalSupply,
			IssuingPrice: req.Price,
			Issuer:       req.Issuer,
		}, c.now)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, x.st.ledger.Issue(c.tx, a.ID, c.caller, a.TotalSupply)
	})
	return err
}

func (x *Exchange) TransferTokenOwnership(ctx context.Context, auth Auth, req TransferTokenOwnership) error {
	_, err := call(ctx, x, "transferTokenOwnership", auth, func(c *opCtx) (struct{}, error) {
		return struct{}{}, x.st.assets.TransferOwnership(c.tx, c.caller, req.TokenID, req.NewOwner)
	})
	return err
}

func (x *Exchange) TransferShares(ctx context.Context, auth Auth, req TransferShares) error {
	return x.TransferAsset(ctx, auth, TransferAsset{To: req.To, TokenID: req.TokenID, Amount: req.Amount})
}

// TransferAsset moves free units of an asset from the caller to req.To.
func (x *Exchange) TransferAsset(ctx context.Context, auth Auth, req TransferAsset) error {
	_, err := call(ctx, x, "transferAsset", auth, func(c *opCtx) (struct{}, error) {
		if req.To == (common.Address{}) {
			return struct{}{}, fmt.Errorf("%w: recipient address is required", errs.ErrInvalidArgument)
		}
		a, err := x.st.assets.Resolve(req.ref())
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, x.st.ledger.TransferHolding(c.tx, a.ID, c.caller, req.To, req.Amount)
	})
	return err
}

// PostOrder reserves the order's funds or units, matches it and rests any
// remainder. The returned key identifies the order from then on.
func (x *Exchange) PostOrder(ctx context.Context, auth Auth, req PostOrder) (common.Hash, error) {
	return call(ctx, x, "postOrder", auth, func(c *opCtx) (common.Hash, error) {
		return x.postOrder(c, req)
	})
}

func (x *Exchange) postOrder(c *opCtx, req PostOrder) (common.Hash, error) {
	st := x.st
	a, err := st.assets.Resolve(req.ref())
	if err != nil {
		return common.Hash{}, err
	}

	o := &orderbook.Order{
		Side:            req.OrderType,
		Strategy:        req.OrderStrategy,
		AssetID:         a.ID,
		Issuer:          a.Issuer,
		Owner:           c.caller,
		Price:           req.Price,
		OriginalAmount:  req.Amount,
		AmountRemaining: req.Amount,
		Status:          orderbook.Pending,
		SubmittedAt:     c.now,
		UpdatedAt:       c.now,
	}
	switch req.OrderStrategy {
	case orderbook.GTD:
		o.GoodUntil = req.GoodUntil
	case orderbook.GTM:
		o.GoodUntil = util.EndOfMonth(time.UnixMilli(c.now)).UnixMilli()
	}
	if err := o.Validate(c.now); err != nil {
		return common.Hash{}, err
	}
	cost, err := ledger.Notional(o.Price, o.OriginalAmount)
	if err != nil {
		return common.Hash{}, err
	}

	o.Seq = st.nextOrderSeq(c.tx)
	o.Key = crypto.OrderKey(crypto.OrderKeyInput{
		Amount:      o.OriginalAmount,
		Price:       o.Price,
		AssetID:     o.AssetID,
		Issuer:      o.Issuer,
		Caller:      c.caller,
		SubmittedAt: c.now,
		Seq:         o.Seq,
	})

	if o.Side == orderbook.Buy {
		o.Buyer = c.caller
		err = st.ledger.Escrow(c.tx, c.caller, cost)
	} else {
		o.Seller = c.caller
		err = st.ledger.LockHolding(c.tx, o.AssetID, c.caller, o.OriginalAmount)
	}
	if err != nil {
		return common.Hash{}, err
	}
	if err := st.addOrder(c.tx, o); err != nil {
		return common.Hash{}, err
	}

	res, err := st.engine.Submit(c.tx, o.Key, c.now)
	if err != nil {
		return common.Hash{}, err
	}
	for _, t := range res.Trades {
		c.trades = append(c.trades, st.recordTrade(c.tx, t))
	}
	return o.Key, nil
}

// CancelOrder withdraws a pending order owned by the caller. An order
// whose expiry has already passed is expired instead; the returned status
// tells which happened.
func (x *Exchange) CancelOrder(ctx context.Context, auth Auth, req CancelOrder) (orderbook.Status, error) {
	return call(ctx, x, "cancelOrder", auth, func(c *opCtx) (orderbook.Status, error) {
		o, ok := x.st.Lookup(req.Key)
		if !ok {
			return 0, fmt.Errorf("%w: order %s", errs.ErrNotFound, req.Key.Hex())
		}
		if o.Owner != c.caller {
			return 0, fmt.Errorf("%w: order %s belongs to %s", errs.ErrUnauthorized, req.Key.Hex(), o.Owner.Hex())
		}
		if o.Status != orderbook.Pending {
			return 0, fmt.Errorf("%w: order %s is %s", errs.ErrAlreadyFinalized, req.Key.Hex(), o.Status)
		}
		if o.Elapsed(c.now) {
			return orderbook.Expired, x.st.engine.Expire(c.tx, req.Key, c.now)
		}
		return orderbook.Cancelled, x.st.engine.Cancel(c.tx, req.Key, c.now)
	})
}

// FundWallet credits currency to req.To. Only the funding authority may
// call it.
func (x *Exchange) FundWallet(ctx context.Context, auth Auth, req FundWallet) error {
	_, err := call(ctx, x, "fundWallet", auth, func(c *opCtx) (struct{}, error) {
		if req.To == (common.Address{}) {
			return struct{}{}, fmt.Errorf("%w: wallet address is required", errs.ErrInvalidArgument)
		}
		return struct{}{}, x.st.ledger.Fund(c.tx, c.caller, req.To, req.Amount)
	})
	return err
}

// BuyShares settles an off-book sale from req.Seller to the caller at
// req.Price, paid from the caller's available balance.
func (x *Exchange) BuyShares(ctx context.Context, auth Auth, req BuyShares) (orderbook.Trade, error) {
	return call(ctx, x, "buyShares", auth, func(c *opCtx) (orderbook.Trade, error) {
		if req.Seller == c.caller {
			return orderbook.Trade{}, fmt.Errorf("%w: cannot buy shares from yourself", errs.ErrInvalidArgument)
		}
		a, err := x.st.assets.Get(req.TokenID)
		if err != nil {
			return orderbook.Trade{}, err
		}
		err = x.st.ledger.Settle(c.tx, ledger.Settlement{
			AssetID: a.ID,
			Buyer:   c.caller,
			Seller:  req.Seller,
			Qty:     req.Amount,
			Price:   req.Price,
		})
		if err != nil {
			return orderbook.Trade{}, err
		}
		t := x.st.recordTrade(c.tx, orderbook.Trade{
			ID:        x.st.engine.NewTradeID(),
			AssetID:   a.ID,
			Price:     req.Price,
			Qty:       req.Amount,
			Buyer:     c.caller,
			Seller:    req.Seller,
			TakerSide: orderbook.Buy,
			Direct:    true,
			Timestamp: c.now,
		})
		c.trades = append(c.trades, t)
		return t, nil
	})
}
