package transaction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xendbit/AssetManager/pkg/app/core/errs"
	"github.com/xendbit/AssetManager/pkg/crypto"
)

// Action names a state-changing exchange operation.
type Action string

const (
	ActionCreateAsset            Action = "createAsset"
	ActionMint                   Action = "mint"
	ActionTransferTokenOwnership Action = "transferTokenOwnership"
	ActionTransferShares         Action = "transferShares"
	ActionTransferAsset          Action = "transferAsset"
	ActionPostOrder              Action = "postOrder"
	ActionCancelOrder            Action = "cancelOrder"
	ActionFundWallet             Action = "fundWallet"
	ActionBuyShares              Action = "buyShares"
)

var actions = map[Action]struct{}{
	ActionCreateAsset:            {},
	ActionMint:                   {},
	ActionTransferTokenOwnership: {},
	ActionTransferShares:         {},
	ActionTransferAsset:          {},
	ActionPostOrder:              {},
	ActionCancelOrder:            {},
	ActionFundWallet:             {},
	ActionBuyShares:              {},
}

func (a Action) Valid() bool {
	_, ok := actions[a]
	return ok
}

// SignedRequest is the envelope accepted by the API. The signature covers
// the EIP-712 Request{action, payload, nonce, caller} where payload is the
// compact JSON encoding of Payload.
type SignedRequest struct {
	Action    Action          `json:"action"`
	Caller    common.Address  `json:"caller"`
	Nonce     uint64          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"` // 0x-prefixed hex, 65 bytes
}

// Deserialize parses and validates an envelope.
func Deserialize(data []byte) (*SignedRequest, error) {
	var req SignedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal request: %v", errs.ErrInvalidArgument, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *SignedRequest) Serialize() ([]byte, error) {
	return json.Marshal(r)
}

func (r *SignedRequest) Validate() error {
	if !r.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", errs.ErrInvalidArgument, r.Action)
	}
	if r.Caller == (common.Address{}) {
		return fmt.Errorf("%w: missing caller", errs.ErrInvalidArgument)
	}
	if r.Nonce == 0 {
		return fmt.Errorf("%w: signed requests need a non-zero nonce", errs.ErrInvalidArgument)
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("%w: missing payload", errs.ErrInvalidArgument)
	}
	if r.Signature == "" {
		return fmt.Errorf("%w: missing signature", errs.ErrInvalidArgument)
	}
	return nil
}

// CanonicalPayload returns the compact JSON form that is signed.
func (r *SignedRequest) CanonicalPayload() (string, error) {
	return CanonicalPayload(r.Payload)
}

func CanonicalPayload(raw []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", fmt.Errorf("%w: payload is not valid JSON: %v", errs.ErrInvalidArgument, err)
	}
	return buf.String(), nil
}

// Message returns the typed message the caller signed.
func (r *SignedRequest) Message() (crypto.RequestMessage, error) {
	payload, err := r.CanonicalPayload()
	if err != nil {
		return crypto.RequestMessage{}, err
	}
	return crypto.RequestMessage{
		Action:  string(r.Action),
		Payload: payload,
		Nonce:   r.Nonce,
		Caller:  r.Caller,
	}, nil
}

// Sign builds a signed envelope for payload. Used by clients and tests.
func Sign(rs *crypto.RequestSigner, signer *crypto.Signer, action Action, nonce uint64, payload any) (*SignedRequest, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	req := &SignedRequest{
		Action:  action,
		Caller:  signer.Address(),
		Nonce:   nonce,
		Payload: raw,
	}
	msg, err := req.Message()
	if err != nil {
		return nil, err
	}
	sig, err := rs.Sign(signer, msg)
	if err != nil {
		return nil, err
	}
	req.Signature = "0x" + strings.ToLower(common.Bytes2Hex(sig))
	return req, nil
}
