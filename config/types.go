package config

import (
	"fmt"
	"strings"
	"time"

	"fusionswap/native/fusion"
	"fusionswap/observability/logging"
)

// Duration decodes Go duration strings ("30m", "1h30m") from TOML and YAML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) { return []byte(d.Duration.String()), nil }

// Storage selects the order-book backend.
type Storage struct {
	Backend string `toml:"backend" yaml:"backend"`
	Path    string `toml:"path" yaml:"path"`
}

// Engine mirrors fusion.Config in text form.
type Engine struct {
	Owner                     string               `toml:"owner" yaml:"owner"`
	Custody                   string               `toml:"custody" yaml:"custody"`
	ProtocolFeeBps            uint32               `toml:"protocol_fee_bps" yaml:"protocol_fee_bps"`
	MinSafetyDeposit          string               `toml:"min_safety_deposit" yaml:"min_safety_deposit"`
	PrivateCancellationWindow Duration             `toml:"private_cancellation_window" yaml:"private_cancellation_window"`
	TimelockMode              string               `toml:"timelock_mode" yaml:"timelock_mode"`
	Ladder                    fusion.LadderOffsets `toml:"ladder" yaml:"ladder"`
	RequireApprovedResolver   bool                 `toml:"require_approved_resolver" yaml:"require_approved_resolver"`
	RequireCounterpartyProof  bool                 `toml:"require_counterparty_proof" yaml:"require_counterparty_proof"`
}

// Registry enables the staked resolver registry.
type Registry struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Vault    string `toml:"vault" yaml:"vault"`
	MinStake string `toml:"min_stake" yaml:"min_stake"`
}

// Auth configures JWT caller identity. The HMAC secret is read from the
// environment variable named by SecretEnv.
type Auth struct {
	SecretEnv string   `toml:"secret_env" yaml:"secret_env"`
	Issuer    string   `toml:"issuer" yaml:"issuer"`
	Audience  string   `toml:"audience" yaml:"audience"`
	TokenTTL  Duration `toml:"token_ttl" yaml:"token_ttl"`
}

// RateLimit bounds requests per caller.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `toml:"burst" yaml:"burst"`
}

// Quota caps order creation per maker and epoch.
type Quota struct {
	MaxOrdersPerEpoch uint32 `toml:"max_orders_per_epoch" yaml:"max_orders_per_epoch"`
	MaxValuePerEpoch  string `toml:"max_value_per_epoch" yaml:"max_value_per_epoch"`
	EpochSeconds      uint32 `toml:"epoch_seconds" yaml:"epoch_seconds"`
}

// Audit configures the sqlite event log.
type Audit struct {
	Path string `toml:"path" yaml:"path"`
}

// Logging configures the slog handler and optional rotated file.
type Logging struct {
	Level string             `toml:"level" yaml:"level"`
	File  logging.FileConfig `toml:"file" yaml:"file"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint    string  `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"insecure" yaml:"insecure"`
	Headers     string  `toml:"headers" yaml:"headers"`
	Traces      bool    `toml:"traces" yaml:"traces"`
	Metrics     bool    `toml:"metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"sample_ratio" yaml:"sample_ratio"`
	// Attributes are extra resource labels, exported as fusion.<key>.
	Attributes map[string]string `toml:"attributes" yaml:"attributes"`
}

// GenesisAccount is a Ledger-A balance minted on first start.
type GenesisAccount struct {
	Account string `toml:"account" yaml:"account"`
	Balance string `toml:"balance" yaml:"balance"`
}
