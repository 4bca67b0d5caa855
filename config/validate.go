package config

import (
	"fmt"
	"os"

	"github.com/holiman/uint256"

	"fusionswap/crypto"
	"fusionswap/native/fusion"
	nativecommon "fusionswap/native/common"
)

// Validate checks the configuration is usable. It does not read the JWT
// secret; the daemon does that at startup.
func (cfg Config) Validate() error {
	switch cfg.Storage.Backend {
	case "memory":
	case "leveldb", "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for %s backend", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if _, err := cfg.EngineConfig(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if cfg.Registry.Enabled {
		if _, err := crypto.ParseAccountID(cfg.Registry.Vault); err != nil {
			return fmt.Errorf("registry: vault: %w", err)
		}
		if _, err := parseAmount(cfg.Registry.MinStake); err != nil {
			return fmt.Errorf("registry: min_stake: %w", err)
		}
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must be non-negative")
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		return fmt.Errorf("rate_limit: burst must be positive when a rate is set")
	}
	if _, err := cfg.OrderQuota(); err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	for i, acct := range cfg.Genesis {
		if _, err := crypto.ParseAccountID(acct.Account); err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
		if _, err := parseAmount(acct.Balance); err != nil {
			return fmt.Errorf("genesis[%d]: balance: %w", i, err)
		}
	}
	return nil
}

// EngineConfig converts the engine section into a fusion.Config.
func (cfg Config) EngineConfig() (fusion.Config, error) {
	owner, err := crypto.ParseAccountID(cfg.Engine.Owner)
	if err != nil {
		return fusion.Config{}, fmt.Errorf("owner: %w", err)
	}
	custody, err := crypto.ParseAccountID(cfg.Engine.Custody)
	if err != nil {
		return fusion.Config{}, fmt.Errorf("custody: %w", err)
	}
	if owner.IsZero() || custody.IsZero() {
		return fusion.Config{}, fmt.Errorf("owner and custody must be non-zero")
	}
	if owner == custody {
		return fusion.Config{}, fmt.Errorf("custody must differ from owner")
	}
	if cfg.Engine.ProtocolFeeBps > fusion.BasisPoints {
		return fusion.Config{}, fmt.Errorf("protocol_fee_bps %d exceeds %d", cfg.Engine.ProtocolFeeBps, fusion.BasisPoints)
	}
	minDeposit, err := parseAmount(cfg.Engine.MinSafetyDeposit)
	if err != nil {
		return fusion.Config{}, fmt.Errorf("min_safety_deposit: %w", err)
	}
	mode, err := fusion.ParseTimelockMode(cfg.Engine.TimelockMode)
	if err != nil {
		return fusion.Config{}, err
	}
	if mode == fusion.ModeLadder {
		if err := cfg.Engine.Ladder.Validate(); err != nil {
			return fusion.Config{}, err
		}
	}
	window := cfg.Engine.PrivateCancellationWindow.Milliseconds()
	if window < 0 {
		return fusion.Config{}, fmt.Errorf("private_cancellation_window must be positive")
	}
	return fusion.Config{
		Owner:                     owner,
		Custody:                   custody,
		ProtocolFeeBps:            cfg.Engine.ProtocolFeeBps,
		MinSafetyDeposit:          minDeposit,
		PrivateCancellationWindow: uint64(window),
		TimelockMode:              mode,
		Ladder:                    cfg.Engine.Ladder,
		RequireApprovedResolver:   cfg.Engine.RequireApprovedResolver,
		RequireCounterpartyProof:  cfg.Engine.RequireCounterpartyProof,
	}, nil
}

// OrderQuota converts the quota section. A zero value disables the quota.
func (cfg Config) OrderQuota() (nativecommon.Quota, error) {
	q := nativecommon.Quota{
		MaxRequestsPerEpoch: cfg.Quota.MaxOrdersPerEpoch,
		EpochSeconds:        cfg.Quota.EpochSeconds,
	}
	if cfg.Quota.MaxValuePerEpoch != "" {
		value, err := parseAmount(cfg.Quota.MaxValuePerEpoch)
		if err != nil {
			return q, fmt.Errorf("max_value_per_epoch: %w", err)
		}
		if !value.IsUint64() {
			return q, fmt.Errorf("max_value_per_epoch exceeds 64 bits")
		}
		q.MaxValuePerEpoch = value.Uint64()
	}
	if (q.MaxRequestsPerEpoch > 0 || q.MaxValuePerEpoch > 0) && q.EpochSeconds == 0 {
		return q, fmt.Errorf("epoch_seconds required")
	}
	return q, nil
}

// RegistryStake returns the minimum resolver stake.
func (cfg Config) RegistryStake() (*uint256.Int, error) { return parseAmount(cfg.Registry.MinStake) }

// JWTSecret reads the HMAC secret from the configured environment variable.
func (cfg Config) JWTSecret() ([]byte, error) {
	if cfg.Auth.SecretEnv == "" {
		return nil, fmt.Errorf("auth: secret_env not configured")
	}
	secret := os.Getenv(cfg.Auth.SecretEnv)
	if len(secret) < 32 {
		return nil, fmt.Errorf("auth: %s must hold at least 32 bytes", cfg.Auth.SecretEnv)
	}
	return []byte(secret), nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	if raw == "" {
		return uint256.NewInt(0), nil
	}
	return fusion.ParseAmount(raw)
}
