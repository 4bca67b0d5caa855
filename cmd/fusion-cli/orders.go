package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"fusionswap/crypto"
	"fusionswap/native/fusion"
	"fusionswap/services/fusiond/server"
)

func runCreate(client *apiClient, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create", stderr)
	var (
		direction string
		srcAsset  string
		dstAsset  string
		srcAmount string
		minDst    string
		deadline  string
		recipient string
		maxFee    string
		value     string
	)
	fs.StringVar(&direction, "direction", "a_to_b", "swap direction (a_to_b or b_to_a)")
	fs.StringVar(&srcAsset, "src-asset", "", "Ledger-A asset id (32-byte hex)")
	fs.StringVar(&dstAsset, "dst-asset", "", "Ledger-B asset address")
	fs.StringVar(&srcAmount, "src-amount", "", "amount offered on Ledger-A")
	fs.StringVar(&minDst, "min-dst", "", "minimum amount received on Ledger-B")
	fs.StringVar(&deadline, "deadline", "", "fill deadline as +duration or epoch milliseconds")
	fs.StringVar(&recipient, "recipient", "", "Ledger-B recipient address")
	fs.StringVar(&maxFee, "max-fee", "0", "maximum resolver fee")
	fs.StringVar(&value, "value", "", "attached value (defaults to src-amount)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var (
		req CreateRequest
		err error
	)
	if req.Direction, err = fusion.ParseDirection(direction); err != nil {
		return fail(stderr, "direction", err)
	}
	if req.SrcAsset, err = crypto.ParseHash(srcAsset); err != nil {
		return fail(stderr, "src-asset", err)
	}
	if req.DstAsset, err = parseAddress(dstAsset); err != nil {
		return fail(stderr, "dst-asset", err)
	}
	if req.DstRecipient, err = parseAddress(recipient); err != nil {
		return fail(stderr, "recipient", err)
	}
	if req.SrcAmount, err = fusion.ParseAmount(srcAmount); err != nil {
		return fail(stderr, "src-amount", err)
	}
	if req.MinDstAmount, err = fusion.ParseAmount(minDst); err != nil {
		return fail(stderr, "min-dst", err)
	}
	if req.MaxResolverFee, err = fusion.ParseAmount(maxFee); err != nil {
		return fail(stderr, "max-fee", err)
	}
	if req.FillDeadline, err = parseDeadline(deadline); err != nil {
		return fail(stderr, "deadline", err)
	}
	if value != "" {
		if req.Value, err = fusion.ParseAmount(value); err != nil {
			return fail(stderr, "value", err)
		}
	}
	return send(client, http.MethodPost, "/v1/orders", nil, req, stdout, stderr)
}

// CreateRequest aliases the daemon body so flag parsing fills it directly.
type CreateRequest = server.CreateOrderRequest

func runLock(client *apiClient, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("lock", stderr)
	var (
		orderHash    string
		resolver     string
		hashLock     string
		counterparty string
		fee          string
		deposit      string
		auth         string
		proof        string
	)
	fs.StringVar(&orderHash, "order", "", "order hash")
	fs.StringVar(&resolver, "resolver", "", "resolver account (defaults to the caller)")
	fs.StringVar(&hashLock, "hash-lock", "", "hash-lock of the secret")
	fs.StringVar(&counterparty, "counterparty", "", "Ledger-B escrow address")
	fs.StringVar(&fee, "fee", "0", "resolver fee")
	fs.StringVar(&deposit, "deposit", "", "safety deposit attached to the lock")
	fs.StringVar(&auth, "auth", "", "hex resolver authorization")
	fs.StringVar(&proof, "proof", "", "hex counterparty escrow proof")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	hash, err := crypto.ParseHash(orderHash)
	if err != nil {
		return fail(stderr, "order", err)
	}
	var req server.LockRequest
	if resolver != "" {
		account, err := crypto.ParseAccountID(resolver)
		if err != nil {
			return fail(stderr, "resolver", err)
		}
		req.Resolver = &account
	}
	if req.HashLock, err = crypto.ParseHash(hashLock); err != nil {
		return fail(stderr, "hash-lock", err)
	}
	if req.CounterpartyEscrow, err = parseAddress(counterparty); err != nil {
		return fail(stderr, "counterparty", err)
	}
	if req.ResolverFee, err = fusion.ParseAmount(fee); err != nil {
		return fail(stderr, "fee", err)
	}
	if req.Value, err = fusion.ParseAmount(deposit); err != nil {
		return fail(stderr, "deposit", err)
	}
	if auth != "" {
		if req.Authorization, err = hexutil.Decode(auth); err != nil {
			return fail(stderr, "auth", err)
		}
	}
	if proof != "" {
		if req.Proof, err = hexutil.Decode(proof); err != nil {
			return fail(stderr, "proof", err)
		}
	}
	return send(client, http.MethodPost, "/v1/orders/"+hash.Hex()+"/lock", nil, req, stdout, stderr)
}

func runExecute(client *apiClient, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("execute", stderr)
	var orderHash, secret string
	fs.StringVar(&orderHash, "order", "", "order hash")
	fs.StringVar(&secret, "secret", "", "32-byte secret preimage")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	hash, err := crypto.ParseHash(orderHash)
	if err != nil {
		return fail(stderr, "order", err)
	}
	preimage, err := crypto.ParseHash(secret)
	if err != nil {
		return fail(stderr, "secret", err)
	}
	return send(client, http.MethodPost, "/v1/orders/"+hash.Hex()+"/execute", nil, server.ExecuteRequest{Secret: preimage}, stdout, stderr)
}

func runPartial(client *apiClient, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("partial", stderr)
	var orderHash, amount, secret string
	fs.StringVar(&orderHash, "order", "", "order hash")
	fs.StringVar(&amount, "amount", "", "amount to fill")
	fs.StringVar(&secret, "secret", "", "32-byte secret preimage")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	hash, err := crypto.ParseHash(orderHash)
	if err != nil {
		return fail(stderr, "order", err)
	}
	fill, err := fusion.ParseAmount(amount)
	if err != nil {
		return fail(stderr, "amount", err)
	}
	preimage, err := crypto.ParseHash(secret)
	if err != nil {
		return fail(stderr, "secret", err)
	}
	return send(client, http.MethodPost, "/v1/orders/"+hash.Hex()+"/partial", nil, server.PartialRequest{Amount: fill, Secret: preimage}, stdout, stderr)
}

func runCancel(client *apiClient, args []string, stdout, stderr io.Writer) int {
	hash, code := orderFlag("cancel", args, stderr)
	if code != 0 {
		return code
	}
	return send(client, http.MethodPost, "/v1/orders/"+hash.Hex()+"/cancel", nil, struct{}{}, stdout, stderr)
}

func runOrder(client *apiClient, args []string, stdout, stderr io.Writer) int {
	hash, code := orderFlag("order", args, stderr)
	if code != 0 {
		return code
	}
	return send(client, http.MethodGet, "/v1/orders/"+hash.Hex(), nil, nil, stdout, stderr)
}

func runEscrow(client *apiClient, args []string, stdout, stderr io.Writer) int {
	hash, code := orderFlag("escrow", args, stderr)
	if code != 0 {
		return code
	}
	return send(client, http.MethodGet, "/v1/orders/"+hash.Hex()+"/escrow", nil, nil, stdout, stderr)
}

func runOrders(client *apiClient, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("orders", stderr)
	var status string
	fs.StringVar(&status, "status", "", "filter by status (pending, locked, partial_fill, executed, cancelled, refunded)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	query := url.Values{}
	if status != "" {
		parsed, err := fusion.ParseOrderStatus(status)
		if err != nil {
			return fail(stderr, "status", err)
		}
		query.Set("status", parsed.String())
	}
	return send(client, http.MethodGet, "/v1/orders", query, nil, stdout, stderr)
}

func runState(client *apiClient, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("state", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return send(client, http.MethodGet, "/v1/state", nil, nil, stdout, stderr)
}

func orderFlag(name string, args []string, stderr io.Writer) (crypto.Hash, int) {
	fs := newFlagSet(name, stderr)
	var orderHash string
	fs.StringVar(&orderHash, "order", "", "order hash")
	if err := fs.Parse(args); err != nil {
		return crypto.Hash{}, 1
	}
	hash, err := crypto.ParseHash(orderHash)
	if err != nil {
		return crypto.Hash{}, fail(stderr, "order", err)
	}
	return hash, 0
}

func send(client *apiClient, method, path string, query url.Values, body interface{}, stdout, stderr io.Writer) int {
	raw, err := client.do(method, path, query, body)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printJSON(stdout, raw)
	return 0
}

func fail(stderr io.Writer, field string, err error) int {
	fmt.Fprintf(stderr, "Error: invalid %s: %v\n", field, err)
	return 1
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%q is not a 20-byte hex address", raw)
	}
	return common.HexToAddress(raw), nil
}

// parseDeadline accepts "+30m" relative to now or an absolute epoch
// millisecond timestamp.
func parseDeadline(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "+") {
		d, err := time.ParseDuration(raw[1:])
		if err != nil {
			return 0, err
		}
		return uint64(cliNow().Add(d).UnixMilli()), nil
	}
	ms, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is neither +duration nor epoch milliseconds", raw)
	}
	return ms, nil
}
