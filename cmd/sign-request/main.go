// sign-request builds a signed request envelope that can be POSTed to
// /api/v1/requests.
//
//	sign-request --key 0x... --action postOrder --nonce 3 \
//	  --payload '{"orderType":0,"amount":10,"price":5,"tokenId":7}'
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/xendbit/AssetManager/pkg/app/core/transaction"
	"github.com/xendbit/AssetManager/pkg/crypto"
)

type options struct {
	Key       string `short:"k" long:"key" description:"Hex private key of the caller. A new key is generated when empty."`
	Action    string `short:"a" long:"action" required:"true" description:"Request action, e.g. mint, postOrder, cancelOrder"`
	Nonce     uint64 `short:"n" long:"nonce" required:"true" description:"Caller nonce; must exceed the last one used"`
	Payload   string `short:"p" long:"payload" description:"JSON payload; read from stdin when empty or -"`
	Name      string `long:"domain-name" default:"AssetManager" description:"EIP-712 domain name"`
	ChainID   int64  `long:"chain-id" default:"1337" description:"EIP-712 chain id"`
	Verify    bool   `long:"verify" description:"Recover the signer from the produced envelope before printing it"`
	TypedData bool   `long:"typed-data" description:"Print the EIP-712 typed data to stderr"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if err := run(opts, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, stdin io.Reader, stdout, stderr io.Writer) error {
	action := transaction.Action(opts.Action)
	if !action.Valid() {
		return fmt.Errorf("unknown action %q", opts.Action)
	}

	var signer *crypto.Signer
	var err error
	if opts.Key == "" {
		if signer, err = crypto.GenerateKey(); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "Generated key %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	} else if signer, err = crypto.FromPrivateKeyHex(opts.Key); err != nil {
		return err
	}
	fmt.Fprintf(stderr, "Caller: %s\n", signer.Address().Hex())

	raw := []byte(opts.Payload)
	if opts.Payload == "" || opts.Payload == "-" {
		if raw, err = io.ReadAll(stdin); err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}
	}
	if !json.Valid(raw) {
		return fmt.Errorf("payload is not valid JSON")
	}

	domain := crypto.DefaultDomain()
	domain.Name = opts.Name
	domain.ChainID = big.NewInt(opts.ChainID)
	rs := crypto.NewRequestSigner(domain)

	req, err := transaction.Sign(rs, signer, action, opts.Nonce, json.RawMessage(raw))
	if err != nil {
		return err
	}

	if opts.TypedData {
		msg, err := req.Message()
		if err != nil {
			return err
		}
		td, err := rs.TypedDataJSON(msg)
		if err != nil {
			return err
		}
		fmt.Fprintln(stderr, td)
	}

	if opts.Verify {
		caller, err := transaction.NewVerifier(domain).Verify(req)
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		fmt.Fprintf(stderr, "Verified: %s\n", caller.Hex())
	}

	out, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(out))
	return nil
}
