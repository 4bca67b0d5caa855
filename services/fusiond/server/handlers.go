package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"fusionswap/crypto"
	"fusionswap/native/fusion"
	"fusionswap/native/registry"
	"fusionswap/services/fusiond/audit"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// CreateOrderRequest is the body of POST /v1/orders. Value defaults to the
// source amount.
type CreateOrderRequest struct {
	fusion.CreateOrderParams
	Value *uint256.Int `json:"value,omitempty"`
}

// LockRequest is the body of POST /v1/orders/{hash}/lock. Resolver defaults
// to the caller and Value is the attached safety deposit.
type LockRequest struct {
	Resolver           *crypto.AccountID `json:"resolver,omitempty"`
	HashLock           crypto.Hash       `json:"hashLock"`
	CounterpartyEscrow common.Address    `json:"counterpartyEscrow"`
	ResolverFee        *uint256.Int      `json:"resolverFee"`
	Authorization      hexutil.Bytes     `json:"authorization,omitempty"`
	Proof              hexutil.Bytes     `json:"proof,omitempty"`
	Value              *uint256.Int      `json:"value"`
}

// ExecuteRequest reveals the secret.
type ExecuteRequest struct {
	Secret crypto.Hash `json:"secret"`
}

// PartialRequest fills amount of the order.
type PartialRequest struct {
	Amount *uint256.Int `json:"amount"`
	Secret crypto.Hash  `json:"secret"`
}

// OrderResponse wraps an order with its hash.
type OrderResponse struct {
	OrderHash crypto.Hash   `json:"orderHash"`
	Order     *fusion.Order `json:"order"`
}

// StateResponse summarises the engine.
type StateResponse struct {
	Owner        crypto.AccountID `json:"owner"`
	Custody      crypto.AccountID `json:"custody"`
	Paused       bool             `json:"paused"`
	TimelockMode string           `json:"timelockMode"`
	OrderNonce   uint64           `json:"orderNonce"`
	TotalVolume  *uint256.Int     `json:"totalVolume"`
	Outstanding  *uint256.Int     `json:"outstanding"`
}

// AccountResponse describes an account's standing.
type AccountResponse struct {
	Account          crypto.AccountID   `json:"account"`
	Balance          *uint256.Int       `json:"balance,omitempty"`
	ResolverApproved bool               `json:"resolverApproved"`
	TrustedRelayer   bool               `json:"trustedRelayer"`
	Registration     *registry.Resolver `json:"registration,omitempty"`
}

// RegisterRequest stakes the caller as a resolver.
type RegisterRequest struct {
	Signer common.Address `json:"signer"`
	Stake  *uint256.Int   `json:"stake"`
}

// RootRequest posts a Ledger-B state root.
type RootRequest struct {
	Height uint64      `json:"height"`
	Root   crypto.Hash `json:"root"`
}

// SlashRequest marks a resolver faulty. A zero order hash slashes globally.
type SlashRequest struct {
	Account   crypto.AccountID `json:"account"`
	OrderHash crypto.Hash      `json:"orderHash"`
}

func decodeBody(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) call(r *http.Request, value *uint256.Int) fusion.Call {
	caller, _ := CallerFrom(r.Context())
	return fusion.Call{Caller: caller, Now: uint64(s.now().UnixMilli()), Value: value}
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeProblem(w, r, http.StatusBadRequest, "BadRequest", err.Error())
}

func pathHash(r *http.Request, name string) (crypto.Hash, error) {
	hash, err := crypto.ParseHash(chi.URLParam(r, name))
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return hash, nil
}

func pathAccount(r *http.Request) (crypto.AccountID, error) {
	account, err := crypto.ParseAccountID(chi.URLParam(r, "account"))
	if err != nil {
		return crypto.AccountID{}, fmt.Errorf("%w: account: %v", errBadRequest, err)
	}
	return account, nil
}

func (s *Server) respondOrder(w http.ResponseWriter, r *http.Request, status int, orderHash crypto.Hash) {
	order, err := s.engine.GetOrder(orderHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, OrderResponse{OrderHash: orderHash, Order: order})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	value := req.Value
	if value == nil && req.SrcAmount != nil {
		value = new(uint256.Int).Set(req.SrcAmount)
	}
	call := s.call(r, value)
	charge := uint64(math.MaxUint64)
	if req.SrcAmount != nil && req.SrcAmount.IsUint64() {
		charge = req.SrcAmount.Uint64()
	}
	if err := s.quota.Consume(call.Caller.Hex(), s.now().Unix(), 1, charge); err != nil {
		s.apiMetrics.RecordThrottle("fusiond", "order_quota")
		s.writeError(w, r, err)
		return
	}
	orderHash, err := s.engine.CreateOrder(r.Context(), call, req.CreateOrderParams)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondOrder(w, r, http.StatusCreated, orderHash)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	orderHash, err := pathHash(r, "hash")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	var req LockRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	call := s.call(r, req.Value)
	params := fusion.ResolverParams{
		Resolver:           call.Caller,
		HashLock:           req.HashLock,
		CounterpartyEscrow: req.CounterpartyEscrow,
		ResolverFee:        req.ResolverFee,
		Authorization:      req.Authorization,
		Proof:              req.Proof,
	}
	if req.Resolver != nil {
		params.Resolver = *req.Resolver
	}
	if err := s.engine.Lock(r.Context(), call, orderHash, params); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondOrder(w, r, http.StatusOK, orderHash)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	orderHash, err := pathHash(r, "hash")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	var req ExecuteRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.engine.Execute(r.Context(), s.call(r, nil), orderHash, req.Secret); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondOrder(w, r, http.StatusOK, orderHash)
}

func (s *Server) handlePartial(w http.ResponseWriter, r *http.Request) {
	orderHash, err := pathHash(r, "hash")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	var req PartialRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.engine.ExecutePartial(r.Context(), s.call(r, nil), orderHash, req.Amount, req.Secret); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondOrder(w, r, http.StatusOK, orderHash)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	orderHash, err := pathHash(r, "hash")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.engine.Cancel(r.Context(), s.call(r, nil), orderHash); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondOrder(w, r, http.StatusOK, orderHash)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderHash, err := pathHash(r, "hash")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	s.respondOrder(w, r, http.StatusOK, orderHash)
}

func parseStatus(raw string) (*fusion.OrderStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	status, err := fusion.ParseOrderStatus(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return &status, nil
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status, err := parseStatus(r.URL.Query().Get("status"))
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	orders, err := s.engine.ListOrders(status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*fusion.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

func (s *Server) handleEscrowIdentity(w http.ResponseWriter, r *http.Request) {
	orderHash, err := pathHash(r, "hash")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	immutables, err := s.engine.GetEscrowIdentity(orderHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, immutables)
}

func (s *Server) handleHashLock(w http.ResponseWriter, r *http.Request) {
	hashLock, err := pathHash(r, "hashLock")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	orderHash, found, err := s.engine.FindByHashLock(hashLock)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeError(w, r, fusion.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]crypto.Hash{"hashLock": hashLock, "orderHash": orderHash})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	owner, err := s.engine.Owner()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nonce, err := s.engine.OrderNonce()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	volume, err := s.engine.TotalVolume()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	outstanding, err := s.engine.Outstanding()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{
		Owner:        owner,
		Custody:      s.engine.Custody(),
		Paused:       s.engine.IsPaused(),
		TimelockMode: s.engine.Mode().String(),
		OrderNonce:   nonce,
		TotalVolume:  volume,
		Outstanding:  outstanding,
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	resp := AccountResponse{
		Account:          account,
		ResolverApproved: s.engine.IsResolverApproved(account),
		TrustedRelayer:   s.engine.IsTrustedRelayer(account),
	}
	if s.ledger != nil {
		if resp.Balance, err = s.ledger.Balance(r.Context(), account); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if s.registry != nil {
		res, err := s.registry.Get(account)
		switch {
		case err == nil:
			resp.Registration = res
		case !errors.Is(err, registry.ErrNotRegistered):
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegisterResolver(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeProblem(w, r, http.StatusNotImplemented, "RegistryDisabled", "resolver registry not enabled")
		return
	}
	var req RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	caller, _ := CallerFrom(r.Context())
	res, err := s.registry.Register(r.Context(), caller, req.Signer, req.Stake)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleDeregisterResolver(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeProblem(w, r, http.StatusNotImplemented, "RegistryDisabled", "resolver registry not enabled")
		return
	}
	caller, _ := CallerFrom(r.Context())
	if err := s.registry.Deregister(r.Context(), caller); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSlash(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeProblem(w, r, http.StatusNotImplemented, "RegistryDisabled", "resolver registry not enabled")
		return
	}
	var req SlashRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	owner, err := s.engine.Owner()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if caller, _ := CallerFrom(r.Context()); caller != owner {
		s.writeError(w, r, fusion.ErrUnauthorized)
		return
	}
	if err := s.registry.Slash(req.Account, req.OrderHash); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitRoot(w http.ResponseWriter, r *http.Request) {
	if s.oracle == nil {
		writeProblem(w, r, http.StatusNotImplemented, "OracleDisabled", "proof oracle not enabled")
		return
	}
	var req RootRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	caller, _ := CallerFrom(r.Context())
	if err := s.oracle.SubmitRoot(r.Context(), caller, req.Height, req.Root); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListRoots(w http.ResponseWriter, r *http.Request) {
	if s.oracle == nil {
		writeProblem(w, r, http.StatusNotImplemented, "OracleDisabled", "proof oracle not enabled")
		return
	}
	heights, err := s.oracle.Heights()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if heights == nil {
		heights = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"heights": heights})
}

func (s *Server) handleGetRoot(w http.ResponseWriter, r *http.Request) {
	if s.oracle == nil {
		writeProblem(w, r, http.StatusNotImplemented, "OracleDisabled", "proof oracle not enabled")
		return
	}
	height, err := strconv.ParseUint(chi.URLParam(r, "height"), 10, 64)
	if err != nil {
		s.badRequest(w, r, fmt.Errorf("%w: height: %v", errBadRequest, err))
		return
	}
	root, err := s.oracle.Root(height)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RootRequest{Height: height, Root: root})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeProblem(w, r, http.StatusNotImplemented, "AuditDisabled", "audit log not enabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.badRequest(w, r, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest))
			return
		}
		limit = parsed
	}
	entries, err := s.audit.Entries(r.URL.Query().Get("order"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeProblem(w, r, http.StatusNotImplemented, "AuditDisabled", "audit log not enabled")
		return
	}
	seq, head := s.audit.Head()
	resp := map[string]interface{}{"seq": seq, "head": head, "valid": true}
	if err := s.audit.Verify(); err != nil {
		resp["valid"] = false
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
