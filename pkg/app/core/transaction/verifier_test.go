package transaction

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xendbit/AssetManager/pkg/app/core/errs"
	"github.com/xendbit/AssetManager/pkg/crypto"
)

type fundPayload struct {
	Holder common.Address `json:"holder"`
	Amount int64          `json:"amount"`
}

func signed(t *testing.T, signer *crypto.Signer, action Action, nonce uint64) (*Verifier, *SignedRequest) {
	t.Helper()
	v := NewVerifier(crypto.DefaultDomain())
	req, err := Sign(v.RequestSigner(), signer, action, nonce, fundPayload{Holder: signer.Address(), Amount: 500})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return v, req
}

func TestVerifyRoundTrip(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	v, req := signed(t, signer, ActionFundWallet, 1)

	// the envelope survives the wire
	data, err := req.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	decoded, err := Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}

	caller, err := v.Verify(decoded)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if caller != signer.Address() {
		t.Errorf("caller = %s, want %s", caller.Hex(), signer.Address().Hex())
	}
}

func TestVerifyIgnoresPayloadWhitespace(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	v, req := signed(t, signer, ActionFundWallet, 1)

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, req.Payload, "", "  "); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(pretty.Bytes(), req.Payload) {
		t.Fatal("indenting should change the payload bytes")
	}
	req.Payload = pretty.Bytes()
	if _, err := v.Verify(req); err != nil {
		t.Fatalf("pretty-printed payload should verify: %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	impostor, _ := crypto.GenerateKey()

	tests := []struct {
		name    string
		mutate  func(*SignedRequest)
		wantErr error
	}{
		{"unknown action", func(r *SignedRequest) { r.Action = "withdraw" }, errs.ErrInvalidArgument},
		{"zero nonce", func(r *SignedRequest) { r.Nonce = 0 }, errs.ErrInvalidArgument},
		{"missing signature", func(r *SignedRequest) { r.Signature = "" }, errs.ErrInvalidArgument},
		{"bad hex", func(r *SignedRequest) { r.Signature = "0xzz" }, errs.ErrInvalidArgument},
		{"short signature", func(r *SignedRequest) { r.Signature = r.Signature[:20] }, errs.ErrInvalidArgument},
		{"malformed payload", func(r *SignedRequest) { r.Payload = []byte("{") }, errs.ErrInvalidArgument},
		{"claimed other caller", func(r *SignedRequest) { r.Caller = impostor.Address() }, errs.ErrUnauthorized},
		{"tampered nonce", func(r *SignedRequest) { r.Nonce = 2 }, errs.ErrUnauthorized},
		{"tampered payload", func(r *SignedRequest) { r.Payload = []byte(`{"amount":5000}`) }, errs.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, req := signed(t, signer, ActionFundWallet, 1)
			tt.mutate(req)
			_, err := v.Verify(req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	if _, err := Deserialize([]byte("O:GTC:BTC")); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
