package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain separates request signatures between deployments.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func DefaultDomain() Domain {
	return Domain{
		Name:    "AssetManager",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

// RequestMessage is the typed structure a caller signs. Payload carries the
// action's JSON arguments verbatim so every action shares one type.
type RequestMessage struct {
	Action  string
	Payload string
	Nonce   uint64
	Caller  common.Address
}

var requestTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Request": []apitypes.Type{
		{Name: "action", Type: "string"},
		{Name: "payload", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "caller", Type: "address"},
	},
}

// RequestSigner hashes, signs and recovers EIP-712 exchange requests.
type RequestSigner struct {
	domain Domain
}

func NewRequestSigner(domain Domain) *RequestSigner {
	if domain.Version == "" {
		domain.Version = "1"
	}
	if domain.ChainID == nil {
		domain.ChainID = big.NewInt(1337)
	}
	return &RequestSigner{domain: domain}
}

func (r *RequestSigner) Domain() Domain { return r.domain }

func (r *RequestSigner) typedData(msg RequestMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       requestTypes,
		PrimaryType: "Request",
		Domain: apitypes.TypedDataDomain{
			Name:              r.domain.Name,
			Version:           r.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(r.domain.ChainID),
			VerifyingContract: r.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"action":  msg.Action,
			"payload": msg.Payload,
			"nonce":   strconv.FormatUint(msg.Nonce, 10),
			"caller":  msg.Caller.Hex(),
		},
	}
}

// Hash returns keccak256("\x19\x01" || domainSeparator || hashStruct(msg)).
func (r *RequestSigner) Hash(msg RequestMessage) ([]byte, error) {
	td := r.typedData(msg)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash request: %w", err)
	}

	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

func (r *RequestSigner) Sign(s *Signer, msg RequestMessage) ([]byte, error) {
	hash, err := r.Hash(msg)
	if err != nil {
		return nil, err
	}
	return s.Sign(hash)
}

// Recover returns the address that signed msg.
func (r *RequestSigner) Recover(msg RequestMessage, signature []byte) (common.Address, error) {
	hash, err := r.Hash(msg)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// TypedDataJSON renders msg in the eth_signTypedData_v4 format so browser
// wallets can sign it.
func (r *RequestSigner) TypedDataJSON(msg RequestMessage) (string, error) {
	b, err := json.MarshalIndent(r.typedData(msg), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal typed data: %w", err)
	}
	return string(b), nil
}
