package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"fusionswap/core/events"
	"fusionswap/core/types"
	"fusionswap/crypto"
	"fusionswap/native/bank"
	nativecommon "fusionswap/native/common"
	"fusionswap/native/fusion"
	"fusionswap/native/proof"
	"fusionswap/native/registry"
	"fusionswap/services/fusiond/audit"
	"fusionswap/storage"
)

func account(fill byte) crypto.AccountID {
	var id crypto.AccountID
	for i := range id {
		id[i] = fill
	}
	return id
}

var (
	maker    = account(0x11)
	resolver = account(0x22)
	relayer  = account(0x44)
	owner    = account(0x0F)
	custody  = account(0xCC)
	vault    = account(0xEE)

	testSecret   = crypto.Hash{0x5e, 0xc7}
	dstAsset     = common.HexToAddress("0x00000000000000000000000000000000000000a5")
	dstRecipient = common.HexToAddress("0x00000000000000000000000000000000000000be")
	escrowAddr   = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

type fixture struct {
	t        *testing.T
	now      time.Time
	auth     AuthConfig
	ledger   *bank.Ledger
	engine   *fusion.Engine
	registry *registry.Registry
	oracle   *proof.Oracle
	audit    *audit.Log
	hub      *Hub
	server   *Server
	handler  http.Handler
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		t:    t,
		now:  time.UnixMilli(1_700_000_000_000),
		auth: AuthConfig{Secret: []byte(strings.Repeat("s", 32)), Issuer: "fusiond"},
	}
	f.ledger = bank.NewLedger(storage.NewMemDB())
	for _, acct := range []crypto.AccountID{maker, resolver} {
		require.NoError(t, f.ledger.Mint(acct, uint256.NewInt(10_000_000)))
	}
	engine, err := fusion.NewEngine(fusion.Config{
		Owner:            owner,
		Custody:          custody,
		ProtocolFeeBps:   100,
		MinSafetyDeposit: uint256.NewInt(1000),
	}, storage.NewMemDB(), f.ledger)
	require.NoError(t, err)
	f.engine = engine
	f.registry = registry.New(storage.NewMemDB(), f.ledger, vault, uint256.NewInt(5000))
	f.oracle = proof.NewOracle(storage.NewMemDB(), engine)
	f.audit, err = audit.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.audit.Close() })
	f.hub = NewHub()
	engine.SetEmitter(events.Multi{f.hub, f.audit})

	cfg := Config{Auth: f.auth}
	if mutate != nil {
		mutate(&cfg)
	}
	f.server, err = New(cfg, Deps{
		Engine:   engine,
		Ledger:   f.ledger,
		Registry: f.registry,
		Oracle:   f.oracle,
		Audit:    f.audit,
		Hub:      f.hub,
		Now:      func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.handler = f.server.Handler()
	return f
}

func (f *fixture) nowMillis() uint64 { return uint64(f.now.UnixMilli()) }

func (f *fixture) token(acct crypto.AccountID) string {
	f.t.Helper()
	token, err := IssueToken(f.auth, acct, time.Hour, f.now)
	require.NoError(f.t, err)
	return token
}

func (f *fixture) do(method, path string, caller *crypto.AccountID, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(*caller))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createRequest(amount uint64) CreateOrderRequest {
	return CreateOrderRequest{CreateOrderParams: fusion.CreateOrderParams{
		Direction:      fusion.DirectionAToB,
		SrcAsset:       crypto.Blake2b256([]byte("DOT")),
		DstAsset:       dstAsset,
		SrcAmount:      uint256.NewInt(amount),
		MinDstAmount:   uint256.NewInt(amount),
		FillDeadline:   f.nowMillis() + 3_600_000,
		DstRecipient:   dstRecipient,
		MaxResolverFee: uint256.NewInt(1000),
	}}
}

func (f *fixture) createOrder(amount uint64) crypto.Hash {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/v1/orders", &maker, f.createRequest(amount))
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeOrder(f.t, rec).OrderHash
}

func decodeOrder(t *testing.T, rec *httptest.ResponseRecorder) OrderResponse {
	t.Helper()
	var resp OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problem {
	t.Helper()
	var env problemEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func TestSwapLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, nil)
	updates, cancel := f.hub.Subscribe()
	defer cancel()

	orderHash := f.createOrder(100_000)
	path := "/v1/orders/" + orderHash.Hex()

	rec := f.do(http.MethodPost, path+"/lock", &resolver, LockRequest{
		HashLock:           crypto.HashSecret(testSecret),
		CounterpartyEscrow: escrowAddr,
		ResolverFee:        uint256.NewInt(500),
		Value:              uint256.NewInt(1000),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	locked := decodeOrder(t, rec).Order
	require.Equal(t, fusion.StatusLocked, locked.Status)
	require.Equal(t, resolver, *locked.Resolver)

	rec = f.do(http.MethodGet, "/v1/hashlocks/"+crypto.HashSecret(testSecret).Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), orderHash.Hex())

	rec = f.do(http.MethodGet, path+"/escrow", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var immutables fusion.EscrowImmutables
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &immutables))
	require.Equal(t, locked.EscrowID, immutables.EscrowID)

	rec = f.do(http.MethodPost, path+"/execute", &resolver, ExecuteRequest{Secret: testSecret})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, fusion.StatusExecuted, decodeOrder(t, rec).Order.Status)

	rec = f.do(http.MethodGet, "/v1/accounts/"+resolver.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var acct AccountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	require.Equal(t, uint64(10_000_000+99_000), acct.Balance.Uint64())

	rec = f.do(http.MethodGet, "/v1/state", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Equal(t, owner, state.Owner)
	require.Equal(t, uint64(100_000), state.TotalVolume.Uint64())
	require.True(t, state.Outstanding.IsZero())
	require.Equal(t, uint64(1), state.OrderNonce)

	var seen []string
	for len(seen) < 3 {
		select {
		case evt := <-updates:
			seen = append(seen, evt.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing events, saw %v", seen)
		}
	}
	require.Equal(t, []string{fusion.EventTypeOrderCreated, fusion.EventTypeEscrowDeployed, fusion.EventTypeSwapExecuted}, seen)

	rec = f.do(http.MethodGet, "/v1/orders?status=executed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), orderHash.Hex())
	rec = f.do(http.MethodGet, "/v1/orders?status=bogus", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPartialFillAndCancelOverHTTP(t *testing.T) {
	f := newFixture(t, nil)
	orderHash := f.createOrder(100_000)
	path := "/v1/orders/" + orderHash.Hex()
	rec := f.do(http.MethodPost, path+"/lock", &resolver, LockRequest{
		HashLock:           crypto.HashSecret(testSecret),
		CounterpartyEscrow: escrowAddr,
		ResolverFee:        uint256.NewInt(0),
		Value:              uint256.NewInt(1000),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, path+"/partial", &resolver, PartialRequest{Amount: uint256.NewInt(40_000), Secret: testSecret})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	partial := decodeOrder(t, rec).Order
	require.Equal(t, fusion.StatusPartialFill, partial.Status)
	require.Equal(t, uint64(40_000), partial.FilledAmount.Uint64())

	f.now = f.now.Add(2 * time.Hour)
	rec = f.do(http.MethodPost, path+"/cancel", &maker, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decodeOrder(t, rec).Order
	require.Equal(t, fusion.StatusRefunded, cancelled.Status)
	require.Equal(t, fusion.ReasonTimelockExpired, cancelled.CancelReason)
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t, nil)
	body := f.createRequest(1000)

	rec := f.do(http.MethodPost, "/v1/orders", nil, body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Unauthenticated", decodeProblem(t, rec).Code)

	forged, err := IssueToken(AuthConfig{Secret: []byte(strings.Repeat("x", 32)), Issuer: "fusiond"}, maker, time.Hour, f.now)
	require.NoError(t, err)
	expired, err := IssueToken(f.auth, maker, time.Minute, f.now.Add(-time.Hour))
	require.NoError(t, err)
	wrongIssuer, err := IssueToken(AuthConfig{Secret: f.auth.Secret, Issuer: "elsewhere"}, maker, time.Hour, f.now)
	require.NoError(t, err)
	for name, token := range map[string]string{"forged": forged, "expired": expired, "issuer": wrongIssuer, "garbage": "not-a-jwt"} {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewReader(raw))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s token: expected 401, got %d", name, rec.Code)
		}
	}

	caller, err := f.server.auth.Verify(f.token(maker))
	require.NoError(t, err)
	require.Equal(t, maker, caller)
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	f := newFixture(t, nil)
	missing := crypto.Blake2b256([]byte("missing"))

	rec := f.do(http.MethodPost, "/v1/orders/"+missing.Hex()+"/cancel", &maker, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "OrderNotFound", decodeProblem(t, rec).Code)

	rec = f.do(http.MethodPut, "/v1/admin/pause", &maker, PauseRequest{Paused: true})
	require.Equal(t, http.StatusForbidden, rec.Code)
	rejected := decodeProblem(t, rec)
	require.Equal(t, "Unauthorized", rejected.Code)
	require.Equal(t, string(fusion.ClassAuthorization), rejected.Class)

	orderHash := f.createOrder(10_000)
	rec = f.do(http.MethodPost, "/v1/orders/"+orderHash.Hex()+"/execute", &resolver, ExecuteRequest{Secret: testSecret})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "InvalidOrderStatus", decodeProblem(t, rec).Code)

	tooLate := f.createRequest(1000)
	tooLate.FillDeadline = f.nowMillis()
	rec = f.do(http.MethodPost, "/v1/orders", &maker, tooLate)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "DeadlineExpired", decodeProblem(t, rec).Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(`{"unknown":1}`))
	req.Header.Set("Authorization", "Bearer "+f.token(maker))
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, "BadRequest", decodeProblem(t, recorder).Code)

	rec = f.do(http.MethodPut, "/v1/admin/pause", &owner, PauseRequest{Paused: true})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodPost, "/v1/orders", &maker, f.createRequest(1000))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "ContractPaused", decodeProblem(t, rec).Code)
}

func TestAdminMembershipRoutes(t *testing.T) {
	f := newFixture(t, nil)
	path := "/v1/admin/resolvers/" + resolver.Hex()

	rec := f.do(http.MethodPut, path, &owner, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, f.engine.IsResolverApproved(resolver))

	rec = f.do(http.MethodDelete, path, &owner, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, f.engine.IsResolverApproved(resolver))

	rec = f.do(http.MethodPut, "/v1/admin/relayers/not-an-account", &owner, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	next := account(0x0E)
	rec = f.do(http.MethodPut, "/v1/admin/owner", &owner, OwnerRequest{Owner: next})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := f.engine.Owner()
	require.NoError(t, err)
	require.Equal(t, next, got)
}

func TestRegistryAndRelayerRoutes(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/v1/resolvers/register", &resolver, RegisterRequest{Stake: uint256.NewInt(4000)})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "InsufficientStake", decodeProblem(t, rec).Code)

	rec = f.do(http.MethodPost, "/v1/resolvers/register", &resolver, RegisterRequest{Stake: uint256.NewInt(5000)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, "/v1/resolvers/register", &resolver, RegisterRequest{Stake: uint256.NewInt(5000)})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodGet, "/v1/accounts/"+resolver.Hex(), nil, nil)
	var acct AccountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	require.NotNil(t, acct.Registration)
	require.Equal(t, uint64(5000), acct.Registration.Stake.Uint64())

	rec = f.do(http.MethodPost, "/v1/admin/slash", &maker, SlashRequest{Account: resolver})
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(http.MethodPost, "/v1/admin/slash", &owner, SlashRequest{Account: resolver})
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, f.registry.ShouldSlash(context.Background(), resolver, crypto.Hash{0x01}))

	root := crypto.Blake2b256([]byte("ledger-b root"))
	rec = f.do(http.MethodPost, "/v1/relayer/roots", &relayer, RootRequest{Height: 7, Root: root})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "UntrustedRelayer", decodeProblem(t, rec).Code)

	rec = f.do(http.MethodPut, "/v1/admin/relayers/"+relayer.Hex(), &owner, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(http.MethodPost, "/v1/relayer/roots", &relayer, RootRequest{Height: 7, Root: root})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(http.MethodPost, "/v1/relayer/roots", &relayer, RootRequest{Height: 7, Root: crypto.Hash{0x02}})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodGet, "/v1/relayer/roots", nil, nil)
	require.JSONEq(t, `{"heights":[7]}`, rec.Body.String())
	rec = f.do(http.MethodGet, "/v1/relayer/roots/7", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), root.Hex())
	rec = f.do(http.MethodGet, "/v1/relayer/roots/8", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitAndQuota(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.RequestsPerSecond = 1
		cfg.Burst = 2
		cfg.Quota = nativecommon.Quota{MaxRequestsPerEpoch: 1, EpochSeconds: 60}
	})
	for i := 0; i < 2; i++ {
		rec := f.do(http.MethodGet, "/v1/state", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(http.MethodGet, "/v1/state", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "RateLimited", decodeProblem(t, rec).Code)

	f.createOrder(1000)
	rec = f.do(http.MethodPost, "/v1/orders", &maker, f.createRequest(1000))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "QuotaExceeded", decodeProblem(t, rec).Code)

	f.now = f.now.Add(time.Minute)
	f.createOrder(1000)
}

func TestRequestIDPropagation(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	id := "6f1c2a0e-8d7b-4c55-9a0e-2b9b8f7f1d11"
	req.Header.Set("X-Request-ID", id)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, id, rec.Header().Get("X-Request-ID"))

	rec = f.do(http.MethodPost, "/v1/orders", nil, nil)
	generated := rec.Header().Get("X-Request-ID")
	require.NotEmpty(t, generated)
	require.Equal(t, generated, decodeProblem(t, rec).RequestID)
}

func TestAuditRoutes(t *testing.T) {
	f := newFixture(t, nil)
	orderHash := f.createOrder(5000)
	f.createOrder(6000)

	rec := f.do(http.MethodGet, "/v1/audit?order="+orderHash.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Entries []audit.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Entries, 1)
	require.Equal(t, fusion.EventTypeOrderCreated, listing.Entries[0].Type)

	rec = f.do(http.MethodGet, "/v1/audit?limit=-1", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/v1/audit/verify", nil, nil)
	var verify map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
	require.Equal(t, true, verify["valid"])
	require.Equal(t, float64(2), verify["seq"])
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/stream?type=fusion.order", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	deadline := time.Now().Add(2 * time.Second)
	for {
		f.hub.mu.Lock()
		subscribers := len(f.hub.subs)
		f.hub.mu.Unlock()
		if subscribers > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	orderHash := f.createOrder(2000)
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, fusion.EventTypeOrderCreated, evt.Type)
	require.Equal(t, orderHash.Hex(), evt.Attributes["orderHash"])
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe()
	defer cancel()
	for i := 0; i < subscriberBuffer+3; i++ {
		hub.Emit(testEvent("fusion.order.created"))
	}
	require.Equal(t, uint64(3), hub.Dropped())
}

type testEvent string

func (e testEvent) EventType() string { return string(e) }
