// Package events carries committed exchange changes to external feeds.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type Kind string

const (
	KindOrder  Kind = "order"
	KindTrade  Kind = "trade"
	KindAsset  Kind = "asset"
	KindWallet Kind = "wallet"
	KindBook   Kind = "orderbook"
)

// Event is one committed change. Data is the JSON-encodable record
// (order, trade, asset, wallet or depth snapshot).
type Event struct {
	Seq     uint64 `json:"seq"`
	Kind    Kind   `json:"kind"`
	Action  string `json:"action,omitempty"` // posted, cancelled, expired, ...
	AssetID uint64 `json:"assetId,omitempty"`
	Account string `json:"account,omitempty"` // hex address
	Time    int64  `json:"time"`             // unix millis
	Data    any    `json:"data"`
	// Origin is the peer ID of the node that committed the event. Empty
	// for events committed locally.
	Origin string `json:"origin,omitempty"`
}

// Channel returns the subscription channel the event is published on.
// Events relayed from a peer are kept apart from local ones under
// "peer:{origin}:" so clients never mix two ledgers on one channel.
func (e Event) Channel() string {
	if e.Origin != "" {
		return "peer:" + e.Origin + ":" + e.localChannel()
	}
	return e.localChannel()
}

func (e Event) localChannel() string {
	switch e.Kind {
	case KindTrade:
		return "trades:" + strconv.FormatUint(e.AssetID, 10)
	case KindBook:
		return "orderbook:" + strconv.FormatUint(e.AssetID, 10)
	case KindOrder:
		return "orders:" + e.Account
	case KindWallet:
		return "accounts:" + e.Account
	default:
		return "assets"
	}
}

// PartitionKey keeps the events of one asset (or account) ordered on
// partitioned transports.
func (e Event) PartitionKey() []byte {
	if e.AssetID != 0 {
		return []byte(strconv.FormatUint(e.AssetID, 10))
	}
	return []byte(e.Account)
}

func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Kind, err)
	}
	return b, nil
}

// Decode parses an encoded event. Data is left as generic JSON.
func Decode(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return e, nil
}
