package registry

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"fusionswap/crypto"
	"fusionswap/storage"
)

var (
	ErrNotRegistered        = errors.New("registry: resolver not registered")
	ErrAlreadyRegistered    = errors.New("registry: resolver already registered")
	ErrInsufficientStake    = errors.New("registry: insufficient stake")
	ErrInvalidAuthorization = errors.New("registry: invalid authorization")
	ErrSlashed              = errors.New("registry: resolver slashed")
)

var (
	resolverPrefix = []byte("registry/resolver/")
	slashPrefix    = []byte("registry/slash/")
)

// authorizationDomain separates resolver authorizations from any other
// keccak-signed payload.
var authorizationDomain = []byte("fusion-resolver-authorization")

// Ledger is the value-moving subset of the Ledger-A bank.
type Ledger interface {
	Transfer(ctx context.Context, from, to crypto.AccountID, amount *uint256.Int) error
}

// Resolver is a registered liquidity provider.
type Resolver struct {
	Account      crypto.AccountID `json:"account"`
	Signer       common.Address   `json:"signer"`
	Stake        *uint256.Int     `json:"stake"`
	Slashed      bool             `json:"slashed"`
	RegisteredAt int64            `json:"registeredAt"`
}

type storedResolver struct {
	Account      [32]byte
	Signer       [20]byte
	Stake        *big.Int
	Slashed      bool
	RegisteredAt uint64
}

// Registry tracks staked resolvers. Stakes are held in the vault account on
// Ledger-A and returned on deregistration unless slashed.
type Registry struct {
	mu       sync.Mutex
	db       storage.Database
	ledger   Ledger
	vault    crypto.AccountID
	minStake *uint256.Int
	nowFn    func() time.Time
}

// New constructs a registry. A nil ledger disables stake custody, which is
// only useful in tests.
func New(db storage.Database, ledger Ledger, vault crypto.AccountID, minStake *uint256.Int) *Registry {
	stake := new(uint256.Int)
	if minStake != nil {
		stake.Set(minStake)
	}
	return &Registry{db: db, ledger: ledger, vault: vault, minStake: stake, nowFn: time.Now}
}

// SetNowFunc overrides the clock used for registration timestamps.
func (r *Registry) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	r.nowFn = now
}

func key(prefix []byte, parts ...[]byte) []byte {
	out := append([]byte(nil), prefix...)
	for _, part := range parts {
		out = append(out, part...)
	}
	return out
}

func (r *Registry) load(account crypto.AccountID) (*Resolver, error) {
	raw, err := r.db.Get(key(resolverPrefix, account[:]))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotRegistered
	}
	if err != nil {
		return nil, err
	}
	var stored storedResolver
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("registry: decode resolver: %w", err)
	}
	stake, overflow := uint256.FromBig(stored.Stake)
	if overflow {
		return nil, fmt.Errorf("registry: stake overflow")
	}
	return &Resolver{
		Account:      stored.Account,
		Signer:       stored.Signer,
		Stake:        stake,
		Slashed:      stored.Slashed,
		RegisteredAt: int64(stored.RegisteredAt),
	}, nil
}

func (r *Registry) store(res *Resolver) error {
	encoded, err := rlp.EncodeToBytes(&storedResolver{
		Account:      res.Account,
		Signer:       res.Signer,
		Stake:        res.Stake.ToBig(),
		Slashed:      res.Slashed,
		RegisteredAt: uint64(res.RegisteredAt),
	})
	if err != nil {
		return err
	}
	return r.db.Put(key(resolverPrefix, res.Account[:]), encoded)
}

// Register stakes the resolver. signer is the secp256k1 address whose
// signatures authorize locks; the zero address disables authorization checks
// for this resolver.
func (r *Registry) Register(ctx context.Context, account crypto.AccountID, signer common.Address, stake *uint256.Int) (*Resolver, error) {
	if stake == nil || stake.Cmp(r.minStake) < 0 {
		return nil, ErrInsufficientStake
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.load(account); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, ErrNotRegistered) {
		return nil, err
	}
	if r.ledger != nil {
		if err := r.ledger.Transfer(ctx, account, r.vault, stake); err != nil {
			return nil, fmt.Errorf("registry: lock stake: %w", err)
		}
	}
	res := &Resolver{
		Account:      account,
		Signer:       signer,
		Stake:        new(uint256.Int).Set(stake),
		RegisteredAt: r.nowFn().Unix(),
	}
	if err := r.store(res); err != nil {
		if r.ledger != nil {
			_ = r.ledger.Transfer(ctx, r.vault, account, stake)
		}
		return nil, err
	}
	return res, nil
}

// Deregister removes the resolver and returns its stake. Slashed stake stays
// in the vault.
func (r *Registry) Deregister(ctx context.Context, account crypto.AccountID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.load(account)
	if err != nil {
		return err
	}
	if !res.Slashed && r.ledger != nil && !res.Stake.IsZero() {
		if err := r.ledger.Transfer(ctx, r.vault, account, res.Stake); err != nil {
			return fmt.Errorf("registry: release stake: %w", err)
		}
	}
	return r.db.Delete(key(resolverPrefix, account[:]))
}

// Get returns the registration record.
func (r *Registry) Get(account crypto.AccountID) (*Resolver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(account)
}

// Slash marks the resolver as faulty for orderHash. The zero hash slashes
// the resolver for every order and forfeits its stake.
func (r *Registry) Slash(account crypto.AccountID, orderHash crypto.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.load(account)
	if err != nil {
		return err
	}
	if orderHash.IsZero() {
		res.Slashed = true
		return r.store(res)
	}
	return r.db.Put(key(slashPrefix, account[:], orderHash[:]), []byte{1})
}

// IsResolver implements fusion.ResolverRegistry.
func (r *Registry) IsResolver(_ context.Context, account crypto.AccountID) bool {
	res, err := r.Get(account)
	return err == nil && !res.Slashed
}

// ShouldSlash implements fusion.ResolverRegistry.
func (r *Registry) ShouldSlash(_ context.Context, account crypto.AccountID, orderHash crypto.Hash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.load(account)
	if err == nil && res.Slashed {
		return true
	}
	ok, err := r.db.Has(key(slashPrefix, account[:], orderHash[:]))
	return err == nil && ok
}

// ValidateAuthorization implements fusion.ResolverRegistry. The proof is a
// 65-byte secp256k1 signature over AuthorizationDigest.
func (r *Registry) ValidateAuthorization(_ context.Context, account crypto.AccountID, orderHash crypto.Hash, authorization []byte) error {
	res, err := r.Get(account)
	if err != nil {
		return err
	}
	if res.Slashed {
		return ErrSlashed
	}
	if res.Signer == (common.Address{}) {
		return nil
	}
	if len(authorization) != ethcrypto.SignatureLength {
		return fmt.Errorf("%w: expected %d byte signature", ErrInvalidAuthorization, ethcrypto.SignatureLength)
	}
	digest := AuthorizationDigest(account, orderHash)
	pub, err := ethcrypto.SigToPub(digest[:], authorization)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAuthorization, err)
	}
	if ethcrypto.PubkeyToAddress(*pub) != res.Signer {
		return fmt.Errorf("%w: signer mismatch", ErrInvalidAuthorization)
	}
	return nil
}

// AuthorizationDigest is the payload a resolver signs to lock orderHash.
func AuthorizationDigest(account crypto.AccountID, orderHash crypto.Hash) crypto.Hash {
	return crypto.Keccak256(authorizationDomain, account[:], orderHash[:])
}

// SignAuthorization produces the proof ValidateAuthorization accepts.
func SignAuthorization(key *ecdsa.PrivateKey, account crypto.AccountID, orderHash crypto.Hash) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("registry: signing key required")
	}
	digest := AuthorizationDigest(account, orderHash)
	return ethcrypto.Sign(digest[:], key)
}
