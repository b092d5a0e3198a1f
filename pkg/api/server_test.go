package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xendbit/AssetManager/pkg/app/core/orderbook"
	"github.com/xendbit/AssetManager/pkg/app/core/transaction"
	"github.com/xendbit/AssetManager/pkg/app/exchange"
	"github.com/xendbit/AssetManager/pkg/crypto"
	"github.com/xendbit/AssetManager/pkg/events"
)

const token = 7

type testNode struct {
	ts       *httptest.Server
	verifier *transaction.Verifier
	nonces   map[string]uint64

	contractor, alice, bob *crypto.Signer
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	contractor, err := crypto.GenerateKey()
	require.NoError(t, err)
	alice, _ := crypto.GenerateKey()
	bob, _ := crypto.GenerateKey()

	ctx, cancel := context.WithCancel(context.Background())
	bus := events.NewBus(64, nil)
	x := exchange.New(exchange.Config{
		Contractor: contractor.Address(),
		Policy:     orderbook.DefaultPolicy(),
	}, nil, bus, nil, nil)
	verifier := transaction.NewVerifier(crypto.DefaultDomain())
	srv := NewServer(x, verifier, nil, []string{"http://localhost:3000"}, nil)
	bus.Register(srv.Hub())

	done := make(chan struct{})
	go func() {
		_ = x.Run(ctx)
		close(done)
	}()
	go bus.Run(ctx)
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})

	return &testNode{
		ts: ts, verifier: verifier, nonces: make(map[string]uint64),
		contractor: contractor, alice: alice, bob: bob,
	}
}

func (n *testNode) submit(t *testing.T, s *crypto.Signer, action transaction.Action, payload any) (*http.Response, map[string]any) {
	t.Helper()
	key := s.Address().Hex()
	n.nonces[key]++
	req, err := transaction.Sign(n.verifier.RequestSigner(), s, action, n.nonces[key], payload)
	require.NoError(t, err)
	return n.send(t, req)
}

func (n *testNode) send(t *testing.T, req *transaction.SignedRequest) (*http.Response, map[string]any) {
	t.Helper()
	body, err := req.Serialize()
	require.NoError(t, err)
	resp, err := http.Post(n.ts.URL+"/api/v1/requests", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (n *testNode) get(t *testing.T, path string, into any) int {
	t.Helper()
	resp, err := http.Get(n.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func (n *testNode) seed(t *testing.T) {
	t.Helper()
	resp, body := n.submit(t, n.contractor, transaction.ActionMint, map[string]any{
		"tokenId": token, "symbol": "XTW", "totalSupply": 1000, "price": 1, "issuer": n.contractor.Address().Hex(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	for _, s := range []*crypto.Signer{n.alice, n.bob} {
		resp, body = n.submit(t, n.contractor, transaction.ActionFundWallet, map[string]any{"to": s.Address().Hex(), "amount": 10_000})
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
	}
	resp, body = n.submit(t, n.contractor, transaction.ActionTransferShares, map[string]any{
		"tokenId": token, "to": n.bob.Address().Hex(), "amount": 500,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
}

func TestSubmitAndQuery(t *testing.T) {
	n := newTestNode(t)
	n.seed(t)

	resp, body := n.submit(t, n.alice, transaction.ActionPostOrder, map[string]any{
		"orderType": 0, "orderStrategy": 0, "amount": 100, "price": 3, "tokenId": token,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "committed", body["status"])
	key := body["result"].(map[string]any)["key"].(string)

	var order exchange.OrderView
	require.Equal(t, http.StatusOK, n.get(t, "/api/v1/orders/"+key, &order))
	assert.Equal(t, "PENDING", order.StatusName)
	assert.Equal(t, int64(100), order.AmountRemaining)

	resp, body = n.submit(t, n.bob, transaction.ActionPostOrder, map[string]any{
		"orderType": 1, "orderStrategy": 0, "amount": 40, "price": 3, "tokenId": token,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var depth exchange.Depth
	require.Equal(t, http.StatusOK, n.get(t, "/api/v1/assets/7/orderbook", &depth))
	require.Len(t, depth.Bids, 1)
	assert.Equal(t, int64(60), depth.Bids[0].Qty)

	var trades []orderbook.Trade
	require.Equal(t, http.StatusOK, n.get(t, "/api/v1/assets/7/trades?limit=5", &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, int64(40), trades[0].Qty)

	var acct AccountInfo
	require.Equal(t, http.StatusOK, n.get(t, "/api/v1/accounts/"+n.alice.Address().Hex(), &acct))
	assert.Equal(t, int64(10_000-300), acct.Available)
	assert.Equal(t, int64(180), acct.Escrow)
	assert.Equal(t, int64(40), acct.Tokens)
	assert.Equal(t, uint64(1), acct.Nonce)

	var holding HoldingInfo
	require.Equal(t, http.StatusOK, n.get(t, "/api/v1/assets/7/holders/"+n.bob.Address().Hex(), &holding))
	assert.Equal(t, int64(460), holding.Total)

	var orders []exchange.OrderView
	require.Equal(t, http.StatusOK, n.get(t, "/api/v1/orders?filter=MATCHED&asset=7", &orders))
	assert.Len(t, orders, 1)
	require.Equal(t, http.StatusOK, n.get(t, "/api/v1/accounts/"+n.alice.Address().Hex()+"/orders", &orders))
	assert.Len(t, orders, 1)

	var assets []map[string]any
	require.Equal(t, http.StatusOK, n.get(t, "/api/v1/issuers/"+n.contractor.Address().Hex()+"/assets", &assets))
	assert.Len(t, assets, 1)

	var health HealthResponse
	require.Equal(t, http.StatusOK, n.get(t, "/health", &health))
	assert.Equal(t, 1, health.Assets)
}

func TestErrorStatuses(t *testing.T) {
	n := newTestNode(t)
	n.seed(t)

	resp, body := n.submit(t, n.alice, transaction.ActionFundWallet, map[string]any{"to": n.alice.Address().Hex(), "amount": 5})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Unauthorized", body["error"])

	resp, body = n.submit(t, n.alice, transaction.ActionPostOrder, map[string]any{
		"orderType": 0, "amount": 1000, "price": 1000, "tokenId": token,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "InsufficientFunds", body["error"])

	resp, body = n.submit(t, n.contractor, transaction.ActionMint, map[string]any{
		"tokenId": token, "symbol": "DUP", "totalSupply": 1, "issuer": n.alice.Address().Hex(),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DuplicateId", body["error"])

	resp, body = n.submit(t, n.alice, transaction.ActionPostOrder, map[string]any{
		"orderType": 0, "amount": 0, "price": 1, "tokenId": token,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidArgument", body["error"])

	// replaying a signed request is rejected
	req, err := transaction.Sign(n.verifier.RequestSigner(), n.bob, transaction.ActionTransferShares, 50, map[string]any{
		"tokenId": token, "to": n.alice.Address().Hex(), "amount": 1,
	})
	require.NoError(t, err)
	resp, body = n.send(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	resp, _ = n.send(t, req)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// a signature from someone else
	req.Nonce = 51
	req.Caller = n.alice.Address()
	resp, _ = n.send(t, req)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var e ErrorResponse
	assert.Equal(t, http.StatusNotFound, n.get(t, "/api/v1/assets/99", &e))
	assert.Equal(t, "NotFound", e.Error)
	assert.Equal(t, http.StatusBadRequest, n.get(t, "/api/v1/orders/0x01", nil))
	assert.Equal(t, http.StatusNotFound, n.get(t, "/api/v1/orders/0x"+strings.Repeat("ab", 32), nil))
	assert.Equal(t, http.StatusBadRequest, n.get(t, "/api/v1/accounts/nobody", nil))
	assert.Equal(t, http.StatusBadRequest, n.get(t, "/api/v1/orders?filter=SOMETIMES", nil))
	assert.Equal(t, http.StatusBadRequest, n.get(t, "/api/v1/assets/7/trades?limit=-1", nil))

	r, err := http.Post(n.ts.URL+"/api/v1/requests", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestWebSocketTradeFeed(t *testing.T) {
	n := newTestNode(t)
	n.seed(t)

	wsURL := "ws" + strings.TrimPrefix(n.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{"trades:7"}}))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ack WSMessage
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Type)

	resp, body := n.submit(t, n.alice, transaction.ActionPostOrder, map[string]any{
		"orderType": 0, "amount": 10, "price": 2, "tokenId": token,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	resp, body = n.submit(t, n.bob, transaction.ActionPostOrder, map[string]any{
		"orderType": 1, "amount": 10, "price": 2, "tokenId": token,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "trade", msg.Type)
	assert.Equal(t, "trades:7", msg.Channel)
}
