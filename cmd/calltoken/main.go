// Command calltoken issues a caller token for an account address. The
// address is given directly, derived from a hex public key, or generated.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/congo-pay/custody_ledger/internal/account"
	"github.com/congo-pay/custody_ledger/internal/auth"
)

func main() {
	_ = godotenv.Load()

	var (
		address = flag.String("address", "", "caller address (generated when empty)")
		pubkey  = flag.String("pubkey", "", "hex public key to derive the caller address from")
		ttl     = flag.Duration("ttl", time.Hour, "token lifetime")
		secret  = flag.String("secret", os.Getenv("CALLER_TOKEN_SECRET"), "signing secret")
		prefix  = flag.String("prefix", os.Getenv("ADDRESS_PREFIX"), "address prefix")
	)
	flag.Parse()

	codec := account.NewCodec(*prefix)
	tokens, err := auth.NewCallerTokens(*secret, codec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "calltoken: %v\n", err)
		os.Exit(1)
	}

	caller := account.Address(*address)
	if caller == "" && *pubkey != "" {
		raw, err := hex.DecodeString(*pubkey)
		if err != nil || len(raw) == 0 {
			fmt.Fprintf(os.Stderr, "calltoken: -pubkey must be non-empty hex\n")
			os.Exit(2)
		}
		caller = codec.FromPublicKey(raw)
	}
	if caller == "" {
		if caller, err = codec.Generate(); err != nil {
			fmt.Fprintf(os.Stderr, "calltoken: generate address: %v\n", err)
			os.Exit(1)
		}
	}

	token, exp, err := tokens.Issue(caller, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "calltoken: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("address: %s\nexpires: %s\ntoken:   %s\n", caller, exp.UTC().Format(time.RFC3339), token)
}
