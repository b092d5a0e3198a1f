package exchange

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xendbit/AssetManager/pkg/app/core/errs"
	"github.com/xendbit/AssetManager/pkg/app/core/transaction"
)

// Dispatch decodes an action payload and runs the matching operation. The
// result is the operation's return value, or nil for operations without one.
func (x *Exchange) Dispatch(ctx context.Context, auth Auth, action transaction.Action, payload json.RawMessage) (any, error) {
	switch action {
	case transaction.ActionCreateAsset:
		req, err := decode[CreateAsset](action, payload)
		if err != nil {
			return nil, err
		}
		id, err := x.CreateAsset(ctx, auth, req)
		if err != nil {
			return nil, err
		}
		return map[string]uint64{"assetId": id}, nil

	case transaction.ActionMint:
		req, err := decode[Mint](action, payload)
		if err != nil {
			return nil, err
		}
		return nil, x.Mint(ctx, auth, req)

	case transaction.ActionTransferTokenOwnership:
		req, err := decode[TransferTokenOwnership](action, payload)
		if err != nil {
			return nil, err
		}
		return nil, x.TransferTokenOwnership(ctx, auth, req)

	case transaction.ActionTransferShares:
		req, err := decode[TransferShares](action, payload)
		if err != nil {
			return nil, err
		}
		return nil, x.TransferShares(ctx, auth, req)

	case transaction.ActionTransferAsset:
		req, err := decode[TransferAsset](action, payload)
		if err != nil {
			return nil, err
		}
		return nil, x.TransferAsset(ctx, auth, req)

	case transaction.ActionPostOrder:
		req, err := decode[PostOrder](action, payload)
		if err != nil {
			return nil, err
		}
		key, err := x.PostOrder(ctx, auth, req)
		if err != nil {
			return nil, err
		}
		return map[string]string{"key": key.Hex()}, nil

	case transaction.ActionCancelOrder:
		req, err := decode[CancelOrder](action, payload)
		if err != nil {
			return nil, err
		}
		status, err := x.CancelOrder(ctx, auth, req)
		if err != nil {
			return nil, err
		}
		return map[string]string{"status": status.String()}, nil

	case transaction.ActionFundWallet:
		req, err := decode[FundWallet](action, payload)
		if err != nil {
			return nil, err
		}
		return nil, x.FundWallet(ctx, auth, req)

	case transaction.ActionBuyShares:
		req, err := decode[BuyShares](action, payload)
		if err != nil {
			return nil, err
		}
		t, err := x.BuyShares(ctx, auth, req)
		if err != nil {
			return nil, err
		}
		return t, nil

	default:
		return nil, fmt.Errorf("%w: unknown action %q", errs.ErrInvalidArgument, action)
	}
}

func decode[T any](action transaction.Action, payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, fmt.Errorf("%w: %s payload is empty", errs.ErrInvalidArgument, action)
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("%w: invalid %s payload: %v", errs.ErrInvalidArgument, action, err)
	}
	return v, nil
}
