package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestOrderKeyMatchesPackedKeccak(t *testing.T) {
	in := OrderKeyInput{
		Amount:      1500,
		Price:       1,
		AssetID:     42,
		Issuer:      common.HexToAddress("0xAA00000000000000000000000000000000000001"),
		Caller:      common.HexToAddress("0xBB00000000000000000000000000000000000002"),
		SubmittedAt: 1_700_000_000_000,
		Seq:         7,
	}

	word := func(v int64) []byte { return common.LeftPadBytes(big.NewInt(v).Bytes(), 32) }
	var packed []byte
	packed = append(packed, word(in.Amount)...)
	packed = append(packed, word(in.Price)...)
	packed = append(packed, word(int64(in.AssetID))...)
	packed = append(packed, in.Issuer.Bytes()...)
	packed = append(packed, in.Caller.Bytes()...)
	packed = append(packed, word(in.SubmittedAt)...)
	packed = append(packed, word(int64(in.Seq))...)

	if got, want := OrderKey(in), crypto.Keccak256Hash(packed); got != want {
		t.Fatalf("OrderKey = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestOrderKeyChangesWithEveryField(t *testing.T) {
	base := OrderKeyInput{Amount: 1, Price: 1, AssetID: 1, SubmittedAt: 1, Seq: 1}
	variants := []OrderKeyInput{
		{Amount: 2, Price: 1, AssetID: 1, SubmittedAt: 1, Seq: 1},
		{Amount: 1, Price: 2, AssetID: 1, SubmittedAt: 1, Seq: 1},
		{Amount: 1, Price: 1, AssetID: 2, SubmittedAt: 1, Seq: 1},
		{Amount: 1, Price: 1, AssetID: 1, SubmittedAt: 2, Seq: 1},
		{Amount: 1, Price: 1, AssetID: 1, SubmittedAt: 1, Seq: 2},
		{Amount: 1, Price: 1, AssetID: 1, SubmittedAt: 1, Seq: 1, Caller: common.HexToAddress("0x01")},
		{Amount: 1, Price: 1, AssetID: 1, SubmittedAt: 1, Seq: 1, Issuer: common.HexToAddress("0x01")},
	}

	seen := map[common.Hash]bool{OrderKey(base): true}
	for i, v := range variants {
		k := OrderKey(v)
		if seen[k] {
			t.Errorf("variant %d collides", i)
		}
		seen[k] = true
	}
}
