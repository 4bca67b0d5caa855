package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"fusionswap/crypto"
	"fusionswap/native/fusion"
	"fusionswap/native/registry"
	"fusionswap/services/fusiond/server"
)

var (
	cliNow       = time.Now
	secretSource = rand.Reader
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runSecret(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("secret", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var secret crypto.Hash
	if _, err := io.ReadFull(secretSource, secret[:]); err != nil {
		fmt.Fprintf(stderr, "Error generating secret: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "secret:   %s\n", secret.Hex())
	fmt.Fprintf(stdout, "hashLock: %s\n", crypto.HashSecret(secret).Hex())
	return 0
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	var (
		subject  string
		issuer   string
		audience string
		ttl      time.Duration
		envName  string
	)
	fs.StringVar(&subject, "subject", "", "account the token authenticates")
	fs.StringVar(&issuer, "issuer", "fusiond", "token issuer")
	fs.StringVar(&audience, "audience", "", "token audience")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	fs.StringVar(&envName, "secret-env", "FUSIOND_JWT_SECRET", "environment variable holding the HMAC secret")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	account, err := crypto.ParseAccountID(subject)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid subject: %v\n", err)
		return 1
	}
	secret := os.Getenv(envName)
	if len(secret) < 32 {
		fmt.Fprintf(stderr, "Error: %s must hold at least 32 bytes\n", envName)
		return 1
	}
	token, err := server.IssueToken(server.AuthConfig{
		Secret:   []byte(secret),
		Issuer:   issuer,
		Audience: audience,
	}, account, ttl, cliNow())
	if err != nil {
		fmt.Fprintf(stderr, "Error issuing token: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func runEscrowID(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow-id", stderr)
	var (
		orderHash  string
		hashLock   string
		maker      string
		taker      string
		amount     string
		deployedAt uint64
	)
	fs.StringVar(&orderHash, "order", "", "order hash")
	fs.StringVar(&hashLock, "hash-lock", "", "hash-lock bound at lock time")
	fs.StringVar(&maker, "maker", "", "maker account")
	fs.StringVar(&taker, "taker", "", "resolver account")
	fs.StringVar(&amount, "amount", "", "escrowed amount")
	fs.Uint64Var(&deployedAt, "deployed-at", 0, "lock timestamp in epoch milliseconds")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var (
		in  fusion.EscrowIDInput
		err error
	)
	if in.OrderHash, err = crypto.ParseHash(orderHash); err != nil {
		fmt.Fprintf(stderr, "Error: invalid order hash: %v\n", err)
		return 1
	}
	if in.HashLock, err = crypto.ParseHash(hashLock); err != nil {
		fmt.Fprintf(stderr, "Error: invalid hash-lock: %v\n", err)
		return 1
	}
	if in.Maker, err = crypto.ParseAccountID(maker); err != nil {
		fmt.Fprintf(stderr, "Error: invalid maker: %v\n", err)
		return 1
	}
	if in.Taker, err = crypto.ParseAccountID(taker); err != nil {
		fmt.Fprintf(stderr, "Error: invalid taker: %v\n", err)
		return 1
	}
	if in.Amount, err = fusion.ParseAmount(amount); err != nil {
		fmt.Fprintf(stderr, "Error: invalid amount: %v\n", err)
		return 1
	}
	in.DeployedAt = deployedAt
	id, err := fusion.DeriveEscrowID(in)
	if err != nil {
		fmt.Fprintf(stderr, "Error deriving escrow id: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, id.Hex())
	return 0
}

func runSignAuth(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sign-auth", stderr)
	var (
		keyFile   string
		account   string
		orderHash string
	)
	fs.StringVar(&keyFile, "key", "", "file holding the hex secp256k1 signer key")
	fs.StringVar(&account, "account", "", "resolver account")
	fs.StringVar(&orderHash, "order", "", "order hash being locked")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := ethcrypto.LoadECDSA(keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading key: %v\n", err)
		return 1
	}
	resolver, err := crypto.ParseAccountID(account)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid account: %v\n", err)
		return 1
	}
	hash, err := crypto.ParseHash(orderHash)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid order hash: %v\n", err)
		return 1
	}
	sig, err := registry.SignAuthorization(key, resolver, hash)
	if err != nil {
		fmt.Fprintf(stderr, "Error signing: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, hexutil.Encode(sig))
	return 0
}
