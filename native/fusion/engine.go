package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fusionswap/core/events"
	"fusionswap/core/types"
	"fusionswap/crypto"
	nativecommon "fusionswap/native/common"
	"fusionswap/storage"
)

// Config holds the process-wide parameters fixed at construction.
type Config struct {
	// Owner is the initial administrator and protocol fee recipient. It is
	// only used when the database holds no owner yet.
	Owner crypto.AccountID
	// Custody is the Ledger-A account holding maker funds and deposits.
	Custody                   crypto.AccountID
	ProtocolFeeBps            uint32
	MinSafetyDeposit          *uint256.Int
	PrivateCancellationWindow uint64
	TimelockMode              TimelockMode
	Ladder                    LadderOffsets
	RequireApprovedResolver   bool
	RequireCounterpartyProof  bool
}

func (c Config) validate() error {
	if c.Owner.IsZero() {
		return fmt.Errorf("fusion: owner must be set")
	}
	if c.Custody.IsZero() {
		return fmt.Errorf("fusion: custody account must be set")
	}
	if c.Custody == c.Owner {
		return fmt.Errorf("fusion: custody account must differ from owner")
	}
	if c.ProtocolFeeBps > BasisPoints {
		return fmt.Errorf("fusion: protocol fee bps %d exceeds %d", c.ProtocolFeeBps, BasisPoints)
	}
	if !fitsU128(c.MinSafetyDeposit) {
		return fmt.Errorf("fusion: min safety deposit exceeds 128 bits")
	}
	return nil
}

// Engine coordinates the order book, HTLC machine, timelock ladder, escrow
// deriver and settlement. Every message runs as one transaction under a
// single engine lock: state writes are staged, value transfers are applied
// with compensation and the staged state is committed as one batch before
// events are emitted.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	db       storage.Database
	policy   timelockPolicy
	settle   settlement
	registry ResolverRegistry
	oracle   ProofOracle
	emitter  events.Emitter
	metrics  Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewEngine validates the configuration and initialises the process-wide
// records (owner, nonce, volume) on first use of the database.
func NewEngine(cfg Config, db storage.Database, ledger Ledger) (*Engine, error) {
	if db == nil {
		return nil, errNilStore
	}
	if ledger == nil {
		return nil, errNilLedger
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.PrivateCancellationWindow == 0 {
		cfg.PrivateCancellationWindow = DefaultPrivateCancellationWindow
	}
	cfg.MinSafetyDeposit = cloneAmount(cfg.MinSafetyDeposit)
	policy, err := newTimelockPolicy(cfg.TimelockMode, cfg.Ladder)
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With(slog.String("component", "fusion"))
	e := &Engine{
		cfg:     cfg,
		db:      db,
		policy:  policy,
		settle:  settlement{ledger: ledger, custody: cfg.Custody, logger: logger},
		emitter: events.NoopEmitter{},
		metrics: noopMetrics{},
		logger:  logger,
		tracer:  otel.Tracer("fusionswap/native/fusion"),
	}
	tx := newStateTx(db)
	if _, ok, err := tx.getOwner(); err != nil {
		return nil, fmt.Errorf("fusion: load owner: %w", err)
	} else if !ok {
		tx.putOwner(cfg.Owner)
	}
	if err := tx.commit(); err != nil {
		return nil, fmt.Errorf("fusion: initialise state: %w", err)
	}
	return e, nil
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetRegistry installs the resolver registry consulted on lock and execute.
func (e *Engine) SetRegistry(registry ResolverRegistry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry = registry
}

// SetProofOracle installs the oracle verifying counterparty escrows.
func (e *Engine) SetProofOracle(oracle ProofOracle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.oracle = oracle
}

// SetMetrics installs the telemetry sink.
func (e *Engine) SetMetrics(metrics Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if metrics == nil {
		e.metrics = noopMetrics{}
		return
	}
	e.metrics = metrics
}

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With(slog.String("component", "fusion"))
	e.settle.logger = e.logger
}

// Mode reports the timelock mode fixed at construction.
func (e *Engine) Mode() TimelockMode { return e.policy.mode() }

// Custody returns the Ledger-A account holding custodied value.
func (e *Engine) Custody() crypto.AccountID { return e.cfg.Custody }

// operation accumulates the effects of one message until commit.
type operation struct {
	tx          *stateTx
	call        Call
	plan        []Transfer
	events      []*types.Event
	transitions [][2]OrderStatus
	volume      *uint256.Int
}

// IsPaused implements nativecommon.PauseView over the staged state. Read
// failures count as paused.
func (op *operation) IsPaused(module string) bool {
	if module != ModuleName {
		return false
	}
	paused, err := op.tx.getFlag(pausedKey)
	return err != nil || paused
}

func (op *operation) ensureNotPaused() error {
	if err := nativecommon.Guard(op, ModuleName); err != nil {
		return fmt.Errorf("%w: %v", ErrContractPaused, err)
	}
	return nil
}

func (op *operation) emit(evt *types.Event) { op.events = append(op.events, evt) }

func (op *operation) move(order *Order, kind transitionKind, to OrderStatus) error {
	from := order.Status
	if err := transition(order, kind, to); err != nil {
		return err
	}
	op.transitions = append(op.transitions, [2]OrderStatus{from, to})
	return nil
}

func (op *operation) loadOrder(hash crypto.Hash) (*Order, error) {
	order, ok, err := op.tx.getOrder(hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// run executes fn as one atomic engine transaction.
func (e *Engine) run(ctx context.Context, name string, call Call, fn func(ctx context.Context, op *operation) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "fusion."+name, trace.WithAttributes(
		attribute.String("fusion.caller", call.Caller.String()),
		attribute.Int64("fusion.now", int64(call.Now)),
	))
	defer span.End()
	start := time.Now()

	op := &operation{tx: newStateTx(e.db), call: call}
	err := fn(ctx, op)
	if err == nil {
		err = e.commit(ctx, op)
	}
	e.metrics.ObserveOperation(name, Code(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Code(err))
		level := slog.LevelDebug
		if class := Classify(err); class == ClassFatal || class == ClassIO || class == ClassInternal {
			level = slog.LevelWarn
		}
		e.logger.Log(ctx, level, "fusion operation rejected",
			slog.String("op", name),
			slog.String("caller", call.Caller.String()),
			slog.String("code", Code(err)),
			slog.Any("error", err))
		return err
	}
	for _, tr := range op.transitions {
		e.metrics.ObserveTransition(tr[0].String(), tr[1].String())
	}
	if op.volume != nil {
		e.metrics.SetTotalVolume(amountFloat(op.volume))
	}
	for _, evt := range op.events {
		e.emitter.Emit(fusionEvent{evt: evt})
		e.logger.Info("fusion transition committed",
			slog.String("op", name),
			slog.String("event", evt.Type),
			slog.String("orderHash", evt.Attributes["orderHash"]))
	}
	return nil
}

// commit moves value first, then persists the staged state. A failed state
// write reverses the transfers so the operation has no effect.
func (e *Engine) commit(ctx context.Context, op *operation) error {
	plan := compact(op.plan)
	if err := e.settle.verify(ctx, plan); err != nil {
		return err
	}
	applied, err := e.settle.apply(ctx, plan)
	if err != nil {
		return err
	}
	if err := op.tx.commit(); err != nil {
		revertErr := e.settle.revert(ctx, applied)
		return errors.Join(fmt.Errorf("fusion: commit state: %w", err), revertErr)
	}
	return nil
}

// CreateOrder records the maker's intent and custodies src_amount from the
// attached value.
func (e *Engine) CreateOrder(ctx context.Context, call Call, params CreateOrderParams) (crypto.Hash, error) {
	var orderHash crypto.Hash
	err := e.run(ctx, "create_order", call, func(ctx context.Context, op *operation) error {
		if err := op.ensureNotPaused(); err != nil {
			return err
		}
		if call.Caller == e.cfg.Custody {
			return fmt.Errorf("%w: custody account cannot make orders", ErrUnauthorized)
		}
		if !params.Direction.Valid() {
			return fmt.Errorf("%w: direction %d", ErrInvalidAmount, params.Direction)
		}
		if isZero(params.SrcAmount) || !fitsU128(params.SrcAmount) {
			return fmt.Errorf("%w: src amount", ErrInvalidAmount)
		}
		if !fitsU128(params.MinDstAmount) || !fitsU128(params.MaxResolverFee) {
			return fmt.Errorf("%w: amount exceeds 128 bits", ErrInvalidAmount)
		}
		if cloneAmount(params.MaxResolverFee).Cmp(params.SrcAmount) > 0 {
			return fmt.Errorf("%w: max resolver fee exceeds src amount", ErrInvalidAmount)
		}
		if params.FillDeadline <= call.Now {
			return ErrDeadlineExpired
		}
		if call.value().Cmp(params.SrcAmount) < 0 {
			return ErrInsufficientFunds
		}
		privateCancellation, err := addU64Checked(call.Now, e.cfg.PrivateCancellationWindow)
		if err != nil {
			return err
		}
		nonce, err := op.tx.getUint64(nonceKey)
		if err != nil {
			return err
		}
		nextNonce, err := addU64Checked(nonce, 1)
		if err != nil {
			return err
		}
		hash, err := ComputeOrderHash(OrderHashInput{
			Maker:        call.Caller,
			SrcAsset:     params.SrcAsset,
			DstAsset:     params.DstAsset,
			SrcAmount:    params.SrcAmount,
			MinDstAmount: params.MinDstAmount,
			FillDeadline: params.FillDeadline,
			Nonce:        nonce,
			CreatedAt:    call.Now,
		})
		if err != nil {
			return err
		}
		if _, exists, err := op.tx.getOrder(hash); err != nil {
			return err
		} else if exists {
			return ErrOrderAlreadyExists
		}
		order := &Order{
			Hash:            hash,
			Maker:           call.Caller,
			Direction:       params.Direction,
			SrcAsset:        params.SrcAsset,
			DstAsset:        params.DstAsset,
			DstRecipient:    params.DstRecipient,
			SrcAmount:       cloneAmount(params.SrcAmount),
			MinDstAmount:    cloneAmount(params.MinDstAmount),
			FilledAmount:    zero(),
			MaxResolverFee:  cloneAmount(params.MaxResolverFee),
			ResolverFee:     cloneAmount(params.MaxResolverFee),
			ResolverFeePaid: zero(),
			SafetyDeposit:   zero(),
			TimeLocks: TimeLocks{
				FillDeadline:        params.FillDeadline,
				PrivateCancellation: privateCancellation,
			},
			CreatedAt: call.Now,
			Nonce:     nonce,
			Status:    StatusPending,
		}
		if err := op.tx.putOrder(order); err != nil {
			return err
		}
		if err := op.tx.putUint64(nonceKey, nextNonce); err != nil {
			return err
		}
		op.plan = append(op.plan, Transfer{Kind: PayoutCustody, From: call.Caller, To: e.cfg.Custody, Amount: cloneAmount(params.SrcAmount)})
		op.emit(NewOrderCreatedEvent(order))
		orderHash = hash
		return nil
	})
	if err != nil {
		return crypto.Hash{}, err
	}
	return orderHash, nil
}

// Lock deploys the escrow for a pending order: the caller becomes taker, the
// attached value becomes the safety deposit and the hash-lock is reserved.
func (e *Engine) Lock(ctx context.Context, call Call, orderHash crypto.Hash, params ResolverParams) error {
	return e.run(ctx, "lock", call, func(ctx context.Context, op *operation) error {
		if err := op.ensureNotPaused(); err != nil {
			return err
		}
		deposit := call.value()
		if !fitsU128(deposit) {
			return fmt.Errorf("%w: deposit exceeds 128 bits", ErrInvalidAmount)
		}
		if deposit.Cmp(e.cfg.MinSafetyDeposit) < 0 {
			return ErrInsufficientDeposit
		}
		order, err := op.loadOrder(orderHash)
		if err != nil {
			return err
		}
		if err := acceptsTransition(order.Status, transitionLock); err != nil {
			return err
		}
		if call.Now > order.TimeLocks.FillDeadline {
			return ErrDeadlineExpired
		}
		if params.HashLock.IsZero() {
			return ErrInvalidHashLock
		}
		if params.Resolver.IsZero() {
			return fmt.Errorf("%w: resolver must be set", ErrOnlyResolver)
		}
		if params.Resolver == e.cfg.Custody || call.Caller == e.cfg.Custody {
			return fmt.Errorf("%w: custody account cannot resolve", ErrUnauthorized)
		}
		if cloneAmount(params.ResolverFee).Cmp(order.MaxResolverFee) > 0 {
			return fmt.Errorf("%w: resolver fee exceeds maker maximum", ErrInvalidAmount)
		}
		if _, used, err := op.tx.getHashLock(params.HashLock); err != nil {
			return err
		} else if used {
			return ErrHashLockAlreadyUsed
		}
		if e.cfg.RequireApprovedResolver {
			approved, err := op.tx.getFlag(resolverStorageKey(params.Resolver))
			if err != nil {
				return err
			}
			if !approved {
				return fmt.Errorf("%w: resolver not approved", ErrUnauthorized)
			}
		}
		if e.registry != nil {
			if !e.registry.IsResolver(ctx, params.Resolver) {
				return fmt.Errorf("%w: resolver not registered", ErrOnlyResolver)
			}
			if err := e.registry.ValidateAuthorization(ctx, params.Resolver, orderHash, params.Authorization); err != nil {
				return fmt.Errorf("%w: %v", ErrUnauthorized, err)
			}
		}
		// A->B execution releases the maker's funds against the Ledger-B
		// escrow, so it must be known before the hash-lock is reserved.
		if order.Direction == DirectionAToB && params.CounterpartyEscrow == (common.Address{}) {
			return fmt.Errorf("%w: counterparty escrow required for a_to_b", ErrInvalidProof)
		}
		if e.cfg.RequireCounterpartyProof {
			if e.oracle == nil {
				return fmt.Errorf("%w: no proof oracle configured", ErrInvalidProof)
			}
			claim := CounterpartyClaim{
				OrderHash: orderHash,
				HashLock:  params.HashLock,
				Escrow:    params.CounterpartyEscrow,
				Asset:     order.DstAsset,
				Recipient: order.DstRecipient,
				MinAmount: cloneAmount(order.MinDstAmount),
				Direction: order.Direction,
			}
			if err := e.oracle.VerifyCounterpartyEscrow(ctx, claim, params.Proof); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidProof, err)
			}
		}

		taker := call.Caller
		resolver := params.Resolver
		order.Taker = &taker
		order.Resolver = &resolver
		order.HashLock = params.HashLock
		order.SafetyDeposit = deposit
		order.ResolverFee = cloneAmount(params.ResolverFee)
		if params.CounterpartyEscrow != (common.Address{}) {
			addr := params.CounterpartyEscrow
			order.CounterpartyEscrow = &addr
		}
		if err := e.policy.stamp(&order.TimeLocks, call.Now); err != nil {
			return err
		}
		escrowID, err := DeriveEscrowID(EscrowIDInput{
			OrderHash:  order.Hash,
			HashLock:   order.HashLock,
			Maker:      order.Maker,
			Taker:      taker,
			Amount:     order.SrcAmount,
			DeployedAt: order.TimeLocks.DeployedAt,
		})
		if err != nil {
			return err
		}
		order.EscrowID = escrowID
		if err := op.move(order, transitionLock, StatusLocked); err != nil {
			return err
		}
		if err := op.tx.putOrder(order); err != nil {
			return err
		}
		op.tx.putHashLock(order.HashLock, order.Hash)
		op.plan = append(op.plan, Transfer{Kind: PayoutDeposit, From: call.Caller, To: e.cfg.Custody, Amount: cloneAmount(deposit)})
		op.emit(NewEscrowDeployedEvent(order))
		return nil
	})
}

// Execute reveals the secret and settles everything not yet filled.
func (e *Engine) Execute(ctx context.Context, call Call, orderHash, secret crypto.Hash) error {
	return e.run(ctx, "execute", call, func(ctx context.Context, op *operation) error {
		if err := op.ensureNotPaused(); err != nil {
			return err
		}
		order, err := op.loadOrder(orderHash)
		if err != nil {
			return err
		}
		remaining, err := order.Remaining()
		if err != nil {
			return err
		}
		return e.fill(ctx, op, order, transitionExecute, remaining, secret)
	})
}

// ExecutePartial reveals the secret and settles amount of the order. From
// Locked the amount must leave something unfilled; from PartialFill it may
// complete the order.
func (e *Engine) ExecutePartial(ctx context.Context, call Call, orderHash crypto.Hash, amount *uint256.Int, secret crypto.Hash) error {
	return e.run(ctx, "execute_partial", call, func(ctx context.Context, op *operation) error {
		if err := op.ensureNotPaused(); err != nil {
			return err
		}
		order, err := op.loadOrder(orderHash)
		if err != nil {
			return err
		}
		if err := acceptsTransition(order.Status, transitionPartialFill); err != nil {
			return err
		}
		remaining, err := order.Remaining()
		if err != nil {
			return err
		}
		fill := cloneAmount(amount)
		if fill.IsZero() || fill.Cmp(remaining) > 0 {
			return fmt.Errorf("%w: fill %s of remaining %s", ErrInvalidAmount, fill.Dec(), remaining.Dec())
		}
		if order.Status == StatusLocked && fill.Cmp(remaining) == 0 {
			return fmt.Errorf("%w: use execute to fill the whole order", ErrInvalidAmount)
		}
		return e.fill(ctx, op, order, transitionPartialFill, fill, secret)
	})
}

// fill is the shared settlement path of Execute and ExecutePartial.
func (e *Engine) fill(ctx context.Context, op *operation, order *Order, kind transitionKind, amount *uint256.Int, secret crypto.Hash) error {
	call := op.call
	if err := acceptsTransition(order.Status, kind); err != nil {
		return err
	}
	if err := e.policy.checkWithdraw(order, RolesOf(order, call.Caller), call.Now); err != nil {
		return err
	}
	if !VerifySecret(secret, order.HashLock) {
		return ErrInvalidSecret
	}
	remaining, err := order.Remaining()
	if err != nil {
		return err
	}
	final := amount.Cmp(remaining) == 0
	requestedFee, err := fillResolverFee(order, amount, final)
	if err != nil {
		return err
	}
	owner, err := e.owner(op.tx)
	if err != nil {
		return err
	}
	split, err := SplitFees(amount, e.cfg.ProtocolFeeBps, requestedFee)
	if err != nil {
		return err
	}
	payouts, err := routeSwap(e.cfg.Custody, order, split, owner)
	if err != nil {
		return err
	}
	filled, err := addChecked(order.FilledAmount, amount)
	if err != nil {
		return err
	}
	feePaid, err := addChecked(order.ResolverFeePaid, split.ResolverFee)
	if err != nil {
		return err
	}
	volume, err := op.tx.getBig(volumeKey)
	if err != nil {
		return err
	}
	current, err := fromBig(volume)
	if err != nil {
		return err
	}
	nextVolume, err := addChecked(current, amount)
	if err != nil {
		return err
	}

	s := secret
	order.Secret = &s
	order.FilledAmount = filled
	order.ResolverFeePaid = feePaid
	target := StatusPartialFill
	if final {
		target = StatusExecuted
	}
	if err := op.move(order, kind, target); err != nil {
		return err
	}
	op.plan = append(op.plan, payouts...)
	if final {
		slashed := e.registry != nil && order.Resolver != nil && e.registry.ShouldSlash(ctx, *order.Resolver, order.Hash)
		op.plan = append(op.plan, releaseDeposit(e.cfg.Custody, order, slashed, owner)...)
		op.tx.deleteHashLock(order.HashLock)
	}
	if err := op.tx.putOrder(order); err != nil {
		return err
	}
	if err := op.tx.putBig(volumeKey, toBig(nextVolume)); err != nil {
		return err
	}
	op.volume = nextVolume
	if kind == transitionExecute {
		op.emit(NewSwapExecutedEvent(order, call.Caller, split))
	} else {
		left, err := order.Remaining()
		if err != nil {
			return err
		}
		op.emit(NewPartialFillEvent(order, call.Caller, split, left))
	}
	return nil
}

// Cancel refunds the unfilled amount to the maker and disposes of the safety
// deposit. Who may cancel, and with which outcome, depends on the order
// status and the timelock policy.
func (e *Engine) Cancel(ctx context.Context, call Call, orderHash crypto.Hash) error {
	return e.run(ctx, "cancel", call, func(ctx context.Context, op *operation) error {
		if err := op.ensureNotPaused(); err != nil {
			return err
		}
		order, err := op.loadOrder(orderHash)
		if err != nil {
			return err
		}
		if err := acceptsTransition(order.Status, transitionCancel); err != nil {
			return err
		}
		roles := RolesOf(order, call.Caller)
		var outcome cancelOutcome
		if order.Status == StatusPending {
			outcome, err = checkCancelPending(order, roles, call.Now)
		} else {
			outcome, err = e.policy.checkCancelActive(order, roles, call.Now)
		}
		if err != nil {
			return err
		}
		payouts, refund, err := refundPayouts(e.cfg.Custody, order, outcome.reason, call.Caller)
		if err != nil {
			return err
		}
		wasActive := order.Status.Active()
		order.CancelReason = outcome.reason
		if err := op.move(order, transitionCancel, outcome.status); err != nil {
			return err
		}
		if wasActive {
			op.tx.deleteHashLock(order.HashLock)
		}
		if err := op.tx.putOrder(order); err != nil {
			return err
		}
		op.plan = append(op.plan, payouts...)
		op.emit(NewOrderCancelledEvent(order, call.Caller, refund))
		return nil
	})
}
