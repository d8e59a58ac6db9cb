// Package engine wires the harness runtime: chain client, persistence,
// recovery and the worker pool, with ordered startup and aggregate health.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/poolforge/stresslab/config"
	"github.com/poolforge/stresslab/internal/chain"
	"github.com/poolforge/stresslab/internal/classify"
	"github.com/poolforge/stresslab/internal/drain"
	"github.com/poolforge/stresslab/internal/observability"
	"github.com/poolforge/stresslab/internal/ratio"
	"github.com/poolforge/stresslab/internal/store"
	"github.com/poolforge/stresslab/internal/worker"
)

// Health is a point-in-time aggregate over the engine's dependencies.
type Health struct {
	ChainOK     bool `json:"chainOk"`
	WorkerCount int  `json:"workerCount"`
	Running     int  `json:"running"`
	Failed      int  `json:"failed"`
	Degraded    bool `json:"degraded"`
}

// Healthy reports whether the engine is fully operational.
func (h Health) Healthy() bool {
	return h.ChainOK && !h.Degraded
}

// Engine owns the harness runtime for one started lifecycle.
type Engine struct {
	cfg     config.Settings
	client  chain.Client
	store   store.Store
	workers *worker.Pool
	drainer *drain.Handler

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool

	poolsMu sync.RWMutex
	pools   map[string]ratio.PoolRatioConfig
}

// New assembles an engine over the shared collaborators.
func New(cfg config.Settings, client chain.Client, st store.Store) *Engine {
	recovery := classify.NewEngine(client, cfg.Recovery, cfg.Worker)
	drainer := drain.New(client, cfg.Drain)
	workers := worker.NewPool(client, recovery, cfg.Worker,
		worker.WithPersistence(st),
		worker.WithDrainer(drainer),
	)
	return &Engine{
		cfg:     cfg,
		client:  client,
		store:   st,
		workers: workers,
		drainer: drainer,
		pools:   make(map[string]ratio.PoolRatioConfig),
	}
}

// Workers exposes the worker pool to the caller-facing layer.
func (e *Engine) Workers() *worker.Pool { return e.workers }

// Drainer exposes the drain handler to the caller-facing layer.
func (e *Engine) Drainer() *drain.Handler { return e.drainer }

// Store exposes the state store to the caller-facing layer.
func (e *Engine) Store() store.Store { return e.store }

// Start runs the ordered startup sequence: probe the chain, load the pool
// registry, restore persisted workers. Restored workers stay stopped until
// the caller starts them.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine already started")
	}

	if err := e.client.Health(ctx); err != nil {
		return fmt.Errorf("chain health probe: %w", err)
	}

	if err := e.loadPoolRegistry(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.workers.SetLifecycleContext(runCtx)

	restored, err := e.workers.Restore(ctx)
	if err != nil {
		cancel()
		return err
	}

	e.cancel = cancel
	e.started = true
	observability.Log().Info("engine started",
		observability.F("pools", e.poolCount()),
		observability.F("workersRestored", restored),
	)
	return nil
}

// Stop force-stops all workers and tears the runtime context down. Safe to
// call more than once.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	cancel := e.cancel
	started := e.started
	e.cancel = nil
	e.started = false
	e.mu.Unlock()
	if !started {
		return
	}

	e.workers.ForceStopAll(ctx)
	if cancel != nil {
		cancel()
	}
	observability.Log().Info("engine stopped")
}

func (e *Engine) loadPoolRegistry(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	pools, err := e.store.LoadPools(ctx)
	if err != nil {
		return fmt.Errorf("load pool registry: %w", err)
	}
	e.poolsMu.Lock()
	for _, cfg := range pools {
		e.pools[cfg.PoolID] = cfg
	}
	e.poolsMu.Unlock()
	return nil
}

// RegisterPool normalizes, validates and persists one pool ratio entry.
func (e *Engine) RegisterPool(ctx context.Context, cfg ratio.PoolRatioConfig, decimalsA, decimalsB uint8) (ratio.PoolRatioConfig, error) {
	normalized, err := ratio.Normalize(cfg.TokenA, cfg.TokenB, cfg.RatioA, cfg.RatioB)
	if err != nil {
		return ratio.PoolRatioConfig{}, err
	}
	if err := ratio.Validate(normalized, decimalsA, decimalsB); err != nil {
		return ratio.PoolRatioConfig{}, err
	}
	if e.store != nil {
		if err := e.store.SavePool(ctx, normalized); err != nil {
			return ratio.PoolRatioConfig{}, fmt.Errorf("persist pool %s: %w", normalized.PoolID, err)
		}
	}
	e.poolsMu.Lock()
	e.pools[normalized.PoolID] = normalized
	e.poolsMu.Unlock()

	observability.Log().Info("pool registered",
		observability.F("pool", normalized.PoolID),
		observability.F("swapped", normalized.WasSwapped),
	)
	return normalized, nil
}

// Pools returns a copy of the registered pool configurations.
func (e *Engine) Pools() []ratio.PoolRatioConfig {
	e.poolsMu.RLock()
	defer e.poolsMu.RUnlock()
	out := make([]ratio.PoolRatioConfig, 0, len(e.pools))
	for _, cfg := range e.pools {
		out = append(out, cfg)
	}
	return out
}

func (e *Engine) poolCount() int {
	e.poolsMu.RLock()
	defer e.poolsMu.RUnlock()
	return len(e.pools)
}

// Health probes the chain and aggregates worker states. The engine degrades
// when more than half of all workers have failed.
func (e *Engine) Health(ctx context.Context) Health {
	health := Health{
		ChainOK: e.client.Health(ctx) == nil,
	}
	details := e.workers.List()
	health.WorkerCount = len(details)
	for _, detail := range details {
		switch detail.Status {
		case worker.StatusRunning:
			health.Running++
		case worker.StatusFailed:
			health.Failed++
		}
	}
	if health.WorkerCount > 0 && health.Failed*2 > health.WorkerCount {
		health.Degraded = true
	}
	return health
}
