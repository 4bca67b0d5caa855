package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"fusionswap/config"
	"fusionswap/core/events"
	"fusionswap/crypto"
	"fusionswap/native/bank"
	"fusionswap/native/fusion"
	"fusionswap/native/proof"
	"fusionswap/native/registry"
	"fusionswap/observability"
	"fusionswap/observability/logging"
	telemetry "fusionswap/observability/otel"
	"fusionswap/services/fusiond/audit"
	"fusionswap/services/fusiond/server"
	"fusionswap/storage"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var (
		cfgPath  string
		initPath string
	)
	flag.StringVar(&cfgPath, "config", "fusiond.toml", "path to fusiond configuration file")
	flag.StringVar(&initPath, "init", "", "write a default configuration to this path and exit")
	flag.Parse()

	if initPath != "" {
		if err := config.Write(initPath, config.Default()); err != nil {
			log.Fatalf("fusiond: write default config: %v", err)
		}
		fmt.Printf("wrote default configuration to %s\n", initPath)
		return
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("fusiond: load config: %v", err)
	}

	logger, logCloser := logging.SetupWithFile("fusiond", cfg.Environment, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.File)
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "fusiond",
		Version:     version,
		InstanceID:  uuid.NewString(),
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Attributes:  telemetryAttributes(cfg),
	})
	if err != nil {
		log.Fatalf("fusiond: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fusiond stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	ledger := bank.NewLedger(db)
	if err := applyGenesis(ledger, cfg.Genesis, logger); err != nil {
		return err
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	engine, err := fusion.NewEngine(engineCfg, db, ledger)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	engine.SetLogger(logger)
	engine.SetMetrics(observability.Fusion())

	deps := server.Deps{Engine: engine, Ledger: ledger, Logger: logger}

	if cfg.Registry.Enabled {
		vault, err := crypto.ParseAccountID(cfg.Registry.Vault)
		if err != nil {
			return fmt.Errorf("registry vault: %w", err)
		}
		minStake, err := cfg.RegistryStake()
		if err != nil {
			return fmt.Errorf("registry stake: %w", err)
		}
		reg := registry.New(db, ledger, vault, minStake)
		engine.SetRegistry(reg)
		deps.Registry = reg
	}

	oracle := proof.NewOracle(db, engine)
	engine.SetProofOracle(oracle)
	deps.Oracle = oracle

	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	defer auditLog.Close()
	auditLog.SetLogger(logger)
	deps.Audit = auditLog

	hub := server.NewHub()
	deps.Hub = hub
	engine.SetEmitter(events.Multi{auditLog, hub, observability.Events()})

	secret, err := cfg.JWTSecret()
	if err != nil {
		return err
	}
	quota, err := cfg.OrderQuota()
	if err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Auth: server.AuthConfig{
			Secret:   secret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		},
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		Quota:             quota,
	}, deps)
	if err != nil {
		return err
	}

	seq, head := auditLog.Head()
	logger.Info("fusiond starting",
		slog.String("storage", cfg.Storage.Backend),
		slog.String("timelockMode", engine.Mode().String()),
		slog.Bool("registry", cfg.Registry.Enabled),
		slog.Uint64("auditSeq", seq),
		slog.String("auditHead", head))
	return srv.Run(ctx)
}

// applyGenesis mints the configured balances into an empty ledger. A ledger
// with any supply is left untouched so restarts do not mint twice.
func applyGenesis(ledger *bank.Ledger, accounts []config.GenesisAccount, logger *slog.Logger) error {
	if len(accounts) == 0 {
		return nil
	}
	supply, err := ledger.Supply()
	if err != nil {
		return fmt.Errorf("ledger supply: %w", err)
	}
	if !supply.IsZero() {
		return nil
	}
	for _, entry := range accounts {
		account, err := crypto.ParseAccountID(entry.Account)
		if err != nil {
			return fmt.Errorf("genesis account %q: %w", entry.Account, err)
		}
		amount, err := fusion.ParseAmount(entry.Balance)
		if err != nil {
			return fmt.Errorf("genesis balance for %s: %w", entry.Account, err)
		}
		if err := ledger.Mint(account, amount); err != nil {
			return fmt.Errorf("genesis mint %s: %w", entry.Account, err)
		}
		logger.Info("genesis balance minted", slog.String("account", account.Hex()), slog.String("amount", amount.Dec()))
	}
	return nil
}

func telemetryAttributes(cfg config.Config) map[string]string {
	attrs := map[string]string{
		"timelock_mode":   cfg.Engine.TimelockMode,
		"storage_backend": cfg.Storage.Backend,
	}
	for k, v := range cfg.Telemetry.Attributes {
		attrs[k] = v
	}
	return attrs
}
