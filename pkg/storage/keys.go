package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema. Numeric ids are zero-padded so prefix scans come back in id
// order.
//
//	ast:<id>                 asset
//	wal:<address>            wallet
//	hld:<assetID>:<address>  holding
//	ord:<key>                order
//	trd:<assetID>:<seq>      trade
//	meta:state               sequence counters, issued currency
const (
	prefixAsset   = "ast:"
	prefixWallet  = "wal:"
	prefixHolding = "hld:"
	prefixOrder   = "ord:"
	prefixTrade   = "trd:"
	keyMeta       = "meta:state"
)

func assetKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixAsset, id))
}

func walletKey(addr common.Address) []byte {
	return []byte(prefixWallet + addr.Hex())
}

func holdingKey(assetID uint64, holder common.Address) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixHolding, assetID, holder.Hex()))
}

func orderKey(key common.Hash) []byte {
	return []byte(prefixOrder + key.Hex())
}

func tradeKey(assetID, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", prefixTrade, assetID, seq))
}

// tradePrefix returns the prefix of all trades of one asset.
func tradePrefix(assetID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixTrade, assetID))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
