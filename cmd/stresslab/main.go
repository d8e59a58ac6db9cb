// Command stresslab launches the fixed-ratio pool stress harness.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/poolforge/stresslab/config"
	"github.com/poolforge/stresslab/internal/chain"
	"github.com/poolforge/stresslab/internal/chain/rpc"
	"github.com/poolforge/stresslab/internal/chain/sim"
	"github.com/poolforge/stresslab/internal/engine"
	"github.com/poolforge/stresslab/internal/lifecycle"
	"github.com/poolforge/stresslab/internal/observability"
	"github.com/poolforge/stresslab/internal/scenario"
	httpserver "github.com/poolforge/stresslab/internal/server/http"
	"github.com/poolforge/stresslab/internal/store"
	"github.com/poolforge/stresslab/internal/store/migrations"
	pgstore "github.com/poolforge/stresslab/internal/store/postgres"
	"github.com/poolforge/stresslab/lib/async"
	"github.com/poolforge/stresslab/lib/telemetry"
)

const (
	defaultConfigPath = "config/app.yaml"

	shutdownTimeout              = 30 * time.Second
	controlServerShutdownTimeout = 5 * time.Second
	engineShutdownTimeout        = 15 * time.Second
	drainPoolShutdownTimeout     = 5 * time.Second
	telemetryShutdownTimeout     = 5 * time.Second
	controlReadHeaderTimeout     = 5 * time.Second

	// Reserves given to simulated pools bootstrapped from the registry.
	simReserveMultiplier = 1_000_000
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, loadedFromFile, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, syncLogs := observability.NewZapLogger(observability.ZapOptions{
		Directory: cfg.Logging.Directory,
		Debug:     cfg.Logging.Debug,
	})
	observability.SetLogger(logger)
	defer func() {
		_ = syncLogs()
	}()

	if !loadedFromFile {
		logger.Info("configuration file not found, using defaults", observability.F("path", cfgPath))
	}
	logger.Info("configuration initialised",
		observability.F("env", string(cfg.Environment)),
		observability.F("chain", chainMode(cfg)),
		observability.F("store", storeMode(cfg)),
	)

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Error("initialize telemetry", observability.F("error", err.Error()))
		os.Exit(1)
	}

	st, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Error("initialise state store", observability.F("error", err.Error()))
		os.Exit(1)
	}

	client, err := buildChainClient(ctx, cfg, st)
	if err != nil {
		logger.Error("initialise chain client", observability.F("error", err.Error()))
		os.Exit(1)
	}

	controller := lifecycle.NewController(func() (*engine.Engine, error) {
		return engine.New(cfg, client, st), nil
	})
	if err := controller.Start(ctx); err != nil {
		logger.Error("start engine", observability.F("error", err.Error()))
		os.Exit(1)
	}

	if err := applyScenario(ctx, cfg, controller); err != nil {
		logger.Error("apply scenario", observability.F("error", err.Error()))
		os.Exit(1)
	}

	drains, err := async.NewPool(drainWorkers(cfg), drainWorkers(cfg)*2)
	if err != nil {
		logger.Error("initialise drain pool", observability.F("error", err.Error()))
		os.Exit(1)
	}

	var background conc.WaitGroup

	apiServer := &http.Server{
		Addr:              cfg.APIServer.Addr,
		Handler:           httpserver.NewHandler(cfg.Environment, controller, drains),
		ReadHeaderTimeout: controlReadHeaderTimeout,
	}
	background.Go(func() {
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control server", observability.F("error", err.Error()))
		}
	})
	logger.Info("control API listening", observability.F("addr", apiServer.Addr))

	logger.Info("stresslab started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, shutdownTargets{
		server:     apiServer,
		mainCancel: cancel,
		controller: controller,
		drains:     drains,
		background: &background,
		client:     client,
		store:      st,
		telemetry:  telemetryShutdown,
	})
	logger.Info("shutdown completed", observability.F("elapsed", time.Since(shutdownStart).String()))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	if *cfgPath != "" {
		return *cfgPath
	}
	return filepath.Clean(defaultConfigPath)
}

func chainMode(cfg config.Settings) string {
	if cfg.Chain.RPCEndpoint != "" {
		return "rpc"
	}
	return "sim"
}

func storeMode(cfg config.Settings) string {
	if cfg.Database.DSN != "" {
		return "postgres"
	}
	return "memory"
}

func drainWorkers(cfg config.Settings) int {
	if cfg.Drain.MaxConcurrent > 0 {
		return cfg.Drain.MaxConcurrent
	}
	return 1
}

func buildStore(ctx context.Context, cfg config.Settings) (store.Store, error) {
	if cfg.Database.DSN == "" {
		return store.NewMemory(), nil
	}
	if cfg.Database.RunMigrations {
		if err := migrations.Apply(ctx, cfg.Database.DSN, ""); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	return pgstore.Connect(ctx, cfg.Database.DSN)
}

// buildChainClient selects the transport. Without an RPC endpoint the
// harness runs against the in-memory simulated chain, bootstrapped with one
// simulated pool per registry entry.
func buildChainClient(ctx context.Context, cfg config.Settings, st store.Store) (chain.Client, error) {
	if cfg.Chain.RPCEndpoint != "" {
		return rpc.New(cfg.Chain)
	}

	simChain := sim.New()
	pools, err := st.LoadPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pool registry: %w", err)
	}
	for _, poolCfg := range pools {
		simChain.CreatePool(chain.PoolState{
			ID:        poolCfg.PoolID,
			TokenA:    poolCfg.TokenA,
			TokenB:    poolCfg.TokenB,
			RatioA:    poolCfg.RatioA,
			RatioB:    poolCfg.RatioB,
			DecimalsA: 9,
			DecimalsB: 9,
			LPMint:    "lp-" + poolCfg.PoolID,
		}, poolCfg.RatioA*simReserveMultiplier, poolCfg.RatioB*simReserveMultiplier)
		observability.Log().Info("simulated pool bootstrapped", observability.F("pool", poolCfg.PoolID))
	}
	return simChain, nil
}

func applyScenario(ctx context.Context, cfg config.Settings, controller *lifecycle.Controller) error {
	if cfg.Scenario.Path == "" {
		return nil
	}
	entries, err := scenario.Load(cfg.Scenario.Path)
	if err != nil {
		return err
	}
	eng := controller.Engine()
	if eng == nil {
		return errors.New("engine not started")
	}
	created := 0
	for _, entry := range entries {
		for i := 0; i < entry.Count; i++ {
			workerCfg, err := eng.Workers().Create(ctx, entry.Spec())
			if err != nil {
				return fmt.Errorf("create scenario worker: %w", err)
			}
			if err := eng.Workers().Start(ctx, workerCfg.ID); err != nil {
				return fmt.Errorf("start scenario worker %s: %w", workerCfg.ID, err)
			}
			created++
		}
	}
	observability.Log().Info("scenario applied",
		observability.F("path", cfg.Scenario.Path),
		observability.F("workers", created),
	)
	return nil
}

type shutdownTargets struct {
	server     *http.Server
	mainCancel context.CancelFunc
	controller *lifecycle.Controller
	drains     *async.Pool
	background *conc.WaitGroup
	client     chain.Client
	store      store.Store
	telemetry  func(context.Context) error
}

func performGracefulShutdown(ctx context.Context, logger observability.Logger, targets shutdownTargets) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			logger.Warn("shutdown step failed",
				observability.F("step", name),
				observability.F("error", err.Error()),
			)
			return
		}
		logger.Info("shutdown step completed", observability.F("step", name))
	}

	if targets.server != nil {
		shutdownStep("control server", controlServerShutdownTimeout, targets.server.Shutdown)
	}

	if targets.controller != nil {
		shutdownStep("engine", engineShutdownTimeout, targets.controller.Stop)
	}

	if targets.mainCancel != nil {
		targets.mainCancel()
	}

	if targets.background != nil {
		shutdownStep("background goroutines", controlServerShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				targets.background.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if targets.drains != nil {
		shutdownStep("drain pool", drainPoolShutdownTimeout, targets.drains.Shutdown)
	}

	if targets.client != nil {
		shutdownStep("chain client", controlServerShutdownTimeout, func(context.Context) error {
			return targets.client.Close()
		})
	}

	if targets.store != nil {
		targets.store.Close()
	}

	if targets.telemetry != nil {
		shutdownStep("telemetry", telemetryShutdownTimeout, targets.telemetry)
	}
}
