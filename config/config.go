package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the fusiond runtime configuration.
type Config struct {
	ListenAddress string           `toml:"listen" yaml:"listen"`
	Environment   string           `toml:"environment" yaml:"environment"`
	Storage       Storage          `toml:"storage" yaml:"storage"`
	Engine        Engine           `toml:"engine" yaml:"engine"`
	Registry      Registry         `toml:"registry" yaml:"registry"`
	Auth          Auth             `toml:"auth" yaml:"auth"`
	RateLimit     RateLimit        `toml:"rate_limit" yaml:"rate_limit"`
	Quota         Quota            `toml:"quota" yaml:"quota"`
	Audit         Audit            `toml:"audit" yaml:"audit"`
	Logging       Logging          `toml:"logging" yaml:"logging"`
	Telemetry     Telemetry        `toml:"telemetry" yaml:"telemetry"`
	Genesis       []GenesisAccount `toml:"genesis" yaml:"genesis"`
}

// Default returns the configuration used for unset fields.
func Default() Config {
	return Config{
		ListenAddress: ":7080",
		Storage:       Storage{Backend: "memory"},
		Engine: Engine{
			ProtocolFeeBps:            100,
			MinSafetyDeposit:          "1000",
			PrivateCancellationWindow: Duration{30 * time.Minute},
			TimelockMode:              "deadline",
		},
		Auth: Auth{
			SecretEnv: "FUSIOND_JWT_SECRET",
			Issuer:    "fusiond",
			TokenTTL:  Duration{time.Hour},
		},
		RateLimit: RateLimit{RequestsPerSecond: 20, Burst: 40},
		Quota:     Quota{EpochSeconds: 3600},
		Logging:   Logging{Level: "info"},
	}
}

// Load reads a TOML (.toml) or YAML (.yaml, .yml) file over the defaults,
// normalises and validates it. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config extension %q", ext)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	cfg.Engine.Owner = strings.TrimSpace(cfg.Engine.Owner)
	cfg.Engine.Custody = strings.TrimSpace(cfg.Engine.Custody)
	cfg.Engine.TimelockMode = strings.ToLower(strings.TrimSpace(cfg.Engine.TimelockMode))
	cfg.Registry.Vault = strings.TrimSpace(cfg.Registry.Vault)
	cfg.Auth.SecretEnv = strings.TrimSpace(cfg.Auth.SecretEnv)
	cfg.Audit.Path = strings.TrimSpace(cfg.Audit.Path)
}

// Write persists cfg as TOML, creating parent directories.
func Write(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
