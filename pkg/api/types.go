package api

import (
	"github.com/xendbit/AssetManager/pkg/app/core/ledger"
	"github.com/xendbit/AssetManager/pkg/app/exchange"
)

// AccountInfo is an account's currency balances and positions.
type AccountInfo struct {
	Address   string                  `json:"address"`
	Available int64                   `json:"available"`
	Escrow    int64                   `json:"escrow"`
	Total     int64                   `json:"total"`
	Nonce     uint64                  `json:"nonce"`
	Tokens    int64                   `json:"tokens"` // units held across all assets
	Assets    []exchange.AssetHolding `json:"assets"`
}

// HoldingInfo is one holder's position in one asset.
type HoldingInfo struct {
	ledger.Holding
	Total int64 `json:"total"`
}

// SubmitResponse is returned for an accepted signed request.
type SubmitResponse struct {
	Status string `json:"status"` // "committed"
	Action string `json:"action"`
	Result any    `json:"result,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Assets  int    `json:"assets"`
	Clients int    `json:"wsClients"`
}

// WSMessage is every frame the hub sends.
type WSMessage struct {
	Type    string `json:"type"` // event kind, "subscribed", "unsubscribed" or "error"
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data"`
}

// WSSubscribeRequest is sent by clients, e.g.
// {"op":"subscribe","channels":["trades:7","orders:0xAA..."]}. Events
// gossiped from another node use the same names behind "peer:{peerID}:".
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
