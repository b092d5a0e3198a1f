package transaction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/xendbit/AssetManager/pkg/app/core/errs"
	"github.com/xendbit/AssetManager/pkg/crypto"
)

// Verifier authenticates signed requests.
type Verifier struct {
	signer *crypto.RequestSigner
}

func NewVerifier(domain crypto.Domain) *Verifier {
	return &Verifier{signer: crypto.NewRequestSigner(domain)}
}

func (v *Verifier) RequestSigner() *crypto.RequestSigner { return v.signer }

// Verify checks the envelope and returns the authenticated caller. A
// signature that does not recover to the claimed caller is Unauthorized.
func (v *Verifier) Verify(req *SignedRequest) (common.Address, error) {
	if err := req.Validate(); err != nil {
		return common.Address{}, err
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		return common.Address{}, err
	}
	msg, err := req.Message()
	if err != nil {
		return common.Address{}, err
	}

	recovered, err := v.signer.Recover(msg, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	if recovered != req.Caller {
		return common.Address{}, fmt.Errorf("%w: signature is from %s, not %s", errs.ErrUnauthorized, recovered.Hex(), req.Caller.Hex())
	}
	return recovered, nil
}

func decodeSignature(sig string) ([]byte, error) {
	if len(sig) < 2 || sig[:2] != "0x" {
		sig = "0x" + sig
	}
	b, err := hexutil.Decode(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex signature: %v", errs.ErrInvalidArgument, err)
	}
	if len(b) != 65 {
		return nil, fmt.Errorf("%w: signature must be 65 bytes, got %d", errs.ErrInvalidArgument, len(b))
	}
	return b, nil
}
