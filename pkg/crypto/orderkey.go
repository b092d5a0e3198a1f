package crypto

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// OrderKeyInput is the content an order key commits to.
type OrderKeyInput struct {
	Amount      int64
	Price       int64
	AssetID     uint64
	Issuer      common.Address
	Caller      common.Address
	SubmittedAt int64 // unix millis
	Seq         uint64
}

// OrderKey returns keccak256(abi.encodePacked(uint256 amount, uint256 price,
// uint256 assetId, address issuer, address caller, uint256 submittedAt,
// uint256 seq)).
func OrderKey(in OrderKeyInput) common.Hash {
	h := sha3.NewLegacyKeccak256()
	writeWord(h, uint64(in.Amount))
	writeWord(h, uint64(in.Price))
	writeWord(h, in.AssetID)
	h.Write(in.Issuer.Bytes())
	h.Write(in.Caller.Bytes())
	writeWord(h, uint64(in.SubmittedAt))
	writeWord(h, in.Seq)

	var out common.Hash
	h.Sum(out[:0])
	return out
}

// writeWord appends v as a big-endian 32-byte word.
func writeWord(h interface{ Write([]byte) (int, error) }, v uint64) {
	var w [32]byte
	binary.BigEndian.PutUint64(w[24:], v)
	h.Write(w[:])
}
