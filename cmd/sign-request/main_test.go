package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xendbit/AssetManager/pkg/app/core/transaction"
	"github.com/xendbit/AssetManager/pkg/crypto"
)

func TestSignRequestVerifies(t *testing.T) {
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	err = run(options{
		Key:     signer.PrivateKeyHex(),
		Action:  "postOrder",
		Nonce:   3,
		Name:    "AssetManager",
		ChainID: 1337,
		Verify:  true,
	}, strings.NewReader(`{"orderType":0,"amount":10,"price":5,"tokenId":7}`), &stdout, &stderr)
	require.NoError(t, err)

	req, err := transaction.Deserialize(stdout.Bytes())
	require.NoError(t, err)
	caller, err := transaction.NewVerifier(crypto.DefaultDomain()).Verify(req)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), caller)
	assert.Equal(t, transaction.ActionPostOrder, req.Action)
	assert.Equal(t, uint64(3), req.Nonce)
	assert.Contains(t, stderr.String(), "Verified:")
}

func TestSignRequestRejectsBadInput(t *testing.T) {
	var out bytes.Buffer
	err := run(options{Action: "launchRocket", Nonce: 1, Payload: "{}"}, nil, &out, &out)
	assert.ErrorContains(t, err, "unknown action")

	err = run(options{Action: "mint", Nonce: 1, Payload: "{nope", Name: "AssetManager", ChainID: 1337}, nil, &out, &out)
	assert.ErrorContains(t, err, "not valid JSON")
}
