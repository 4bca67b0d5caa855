package fusion

import (
	"context"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"

	"fusionswap/crypto"
)

func (e *Engine) owner(tx *stateTx) (crypto.AccountID, error) {
	owner, ok, err := tx.getOwner()
	if err != nil {
		return crypto.AccountID{}, err
	}
	if !ok {
		return e.cfg.Owner, nil
	}
	return owner, nil
}

func (e *Engine) ensureOwner(op *operation) (crypto.AccountID, error) {
	owner, err := e.owner(op.tx)
	if err != nil {
		return crypto.AccountID{}, err
	}
	if op.call.Caller != owner {
		return crypto.AccountID{}, ErrUnauthorized
	}
	return owner, nil
}

// SetPaused toggles the emergency stop. Admin messages remain available
// while paused.
func (e *Engine) SetPaused(ctx context.Context, call Call, paused bool) error {
	return e.run(ctx, "set_paused", call, func(_ context.Context, op *operation) error {
		owner, err := e.ensureOwner(op)
		if err != nil {
			return err
		}
		op.tx.putFlag(pausedKey, paused)
		op.emit(newAdminEvent(EventTypePauseChanged, owner, strconv.FormatBool(paused)))
		return nil
	})
}

// ApproveResolver adds the account to the engine's approved resolver set.
func (e *Engine) ApproveResolver(ctx context.Context, call Call, resolver crypto.AccountID) error {
	return e.setMembership(ctx, call, "approve_resolver", resolverStorageKey(resolver), true, EventTypeResolverApproved, resolver)
}

// RevokeResolver removes the account from the approved resolver set.
func (e *Engine) RevokeResolver(ctx context.Context, call Call, resolver crypto.AccountID) error {
	return e.setMembership(ctx, call, "revoke_resolver", resolverStorageKey(resolver), false, EventTypeResolverRevoked, resolver)
}

// AddTrustedRelayer allows the account to post Ledger-B state roots.
func (e *Engine) AddTrustedRelayer(ctx context.Context, call Call, relayer crypto.AccountID) error {
	return e.setMembership(ctx, call, "add_trusted_relayer", relayerStorageKey(relayer), true, EventTypeRelayerAdded, relayer)
}

// RemoveTrustedRelayer revokes a relayer.
func (e *Engine) RemoveTrustedRelayer(ctx context.Context, call Call, relayer crypto.AccountID) error {
	return e.setMembership(ctx, call, "remove_trusted_relayer", relayerStorageKey(relayer), false, EventTypeRelayerRemoved, relayer)
}

func (e *Engine) setMembership(ctx context.Context, call Call, name string, key []byte, member bool, eventType string, subject crypto.AccountID) error {
	return e.run(ctx, name, call, func(_ context.Context, op *operation) error {
		owner, err := e.ensureOwner(op)
		if err != nil {
			return err
		}
		if subject.IsZero() {
			return fmt.Errorf("%w: empty account", ErrInvalidAmount)
		}
		op.tx.putFlag(key, member)
		op.emit(newAdminEvent(eventType, owner, subject.String()))
		return nil
	})
}

// TransferOwnership hands administration and fee collection to next.
func (e *Engine) TransferOwnership(ctx context.Context, call Call, next crypto.AccountID) error {
	return e.run(ctx, "transfer_ownership", call, func(_ context.Context, op *operation) error {
		owner, err := e.ensureOwner(op)
		if err != nil {
			return err
		}
		if next.IsZero() || next == e.cfg.Custody {
			return fmt.Errorf("%w: invalid owner", ErrUnauthorized)
		}
		op.tx.putOwner(next)
		op.emit(newAdminEvent(EventTypeOwnershipTransferred, owner, next.String()))
		return nil
	})
}

// view runs fn against committed state under the engine lock.
func (e *Engine) view(fn func(tx *stateTx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(newStateTx(e.db))
}

// GetOrder returns a copy of the order or ErrOrderNotFound.
func (e *Engine) GetOrder(orderHash crypto.Hash) (*Order, error) {
	var out *Order
	err := e.view(func(tx *stateTx) error {
		order, ok, err := tx.getOrder(orderHash)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOrderNotFound
		}
		out = order
		return nil
	})
	return out, err
}

// FindByHashLock returns the active order holding the hash-lock.
func (e *Engine) FindByHashLock(hashLock crypto.Hash) (crypto.Hash, bool, error) {
	var (
		out   crypto.Hash
		found bool
	)
	err := e.view(func(tx *stateTx) error {
		var err error
		out, found, err = tx.getHashLock(hashLock)
		return err
	})
	return out, found, err
}

// IsPaused reports the emergency-stop flag. Read failures count as paused.
func (e *Engine) IsPaused() bool {
	paused := true
	_ = e.view(func(tx *stateTx) error {
		flag, err := tx.getFlag(pausedKey)
		if err != nil {
			return err
		}
		paused = flag
		return nil
	})
	return paused
}

// TotalVolume returns the gross amount settled across all fills.
func (e *Engine) TotalVolume() (*uint256.Int, error) {
	var out *uint256.Int
	err := e.view(func(tx *stateTx) error {
		volume, err := tx.getBig(volumeKey)
		if err != nil {
			return err
		}
		out, err = fromBig(volume)
		return err
	})
	return out, err
}

// GetEscrowIdentity returns the immutables and derived identity of a locked
// (or formerly locked) order.
func (e *Engine) GetEscrowIdentity(orderHash crypto.Hash) (*EscrowImmutables, error) {
	order, err := e.GetOrder(orderHash)
	if err != nil {
		return nil, err
	}
	return immutablesFor(order)
}

// Owner returns the current administrator.
func (e *Engine) Owner() (crypto.AccountID, error) {
	var out crypto.AccountID
	err := e.view(func(tx *stateTx) error {
		var err error
		out, err = e.owner(tx)
		return err
	})
	return out, err
}

// OrderNonce returns the nonce the next order will use.
func (e *Engine) OrderNonce() (uint64, error) {
	var out uint64
	err := e.view(func(tx *stateTx) error {
		var err error
		out, err = tx.getUint64(nonceKey)
		return err
	})
	return out, err
}

// IsResolverApproved reports membership in the approved resolver set.
func (e *Engine) IsResolverApproved(resolver crypto.AccountID) bool {
	return e.flag(resolverStorageKey(resolver))
}

// IsTrustedRelayer reports whether the account may post Ledger-B roots.
func (e *Engine) IsTrustedRelayer(relayer crypto.AccountID) bool {
	return e.flag(relayerStorageKey(relayer))
}

func (e *Engine) flag(key []byte) bool {
	var out bool
	_ = e.view(func(tx *stateTx) error {
		var err error
		out, err = tx.getFlag(key)
		return err
	})
	return out
}

// ListOrders returns every order, optionally restricted to one status, in
// order-hash order.
func (e *Engine) ListOrders(status *OrderStatus) ([]*Order, error) {
	var out []*Order
	err := e.view(func(tx *stateTx) error {
		var decodeErr error
		iterErr := e.db.Iterate(orderRecordPrefix, func(_, value []byte) bool {
			order, err := decodeOrder(value)
			if err != nil {
				decodeErr = err
				return false
			}
			if status == nil || order.Status == *status {
				out = append(out, order)
			}
			return true
		})
		if iterErr != nil {
			return iterErr
		}
		return decodeErr
	})
	return out, err
}

// Outstanding sums src_amount - filled_amount plus safety deposits over every
// non-terminal order: exactly what the custody account must hold.
func (e *Engine) Outstanding() (*uint256.Int, error) {
	orders, err := e.ListOrders(nil)
	if err != nil {
		return nil, err
	}
	total := zero()
	for _, order := range orders {
		if order.Status.Terminal() {
			continue
		}
		remaining, err := order.Remaining()
		if err != nil {
			return nil, err
		}
		if total, err = addChecked(total, remaining); err != nil {
			return nil, err
		}
		if total, err = addChecked(total, order.SafetyDeposit); err != nil {
			return nil, err
		}
	}
	return total, nil
}
