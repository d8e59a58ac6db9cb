package worker

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/poolforge/stresslab/config"
	"github.com/poolforge/stresslab/internal/chain"
	"github.com/poolforge/stresslab/internal/classify"
	"github.com/poolforge/stresslab/internal/observability"
	"github.com/poolforge/stresslab/internal/store"
)

// stopWait bounds how long Stop waits for the loop goroutine to acknowledge
// cancellation before reporting the worker as stopped anyway.
const stopWait = 15 * time.Second

// Drainer decommissions a worker's wallet after it stops.
type Drainer interface {
	Drain(ctx context.Context, cfg Config) error
}

// Pool owns worker instances keyed by id.
type Pool struct {
	mu       sync.RWMutex
	client   chain.Client
	recovery *classify.Engine
	cfg      config.WorkerConfig

	lifecycleMu  sync.RWMutex
	lifecycleCtx context.Context

	persistence store.Store
	drainer     Drainer
	states      map[string]*workerState

	opsSucceeded metric.Int64Counter
	opsFailed    metric.Int64Counter
}

// Option configures optional pool behaviour.
type Option func(*Pool)

// WithPersistence wires a state store into the pool.
func WithPersistence(st store.Store) Option {
	return func(p *Pool) { p.persistence = st }
}

// WithDrainer wires a wallet decommissioning handler into the pool.
func WithDrainer(d Drainer) Option {
	return func(p *Pool) { p.drainer = d }
}

type workerState struct {
	cfg    Config
	status Status
	cancel context.CancelFunc
	done   chan struct{}

	statsMu sync.Mutex
	stats   Statistics
}

// NewPool creates a worker pool over the shared chain client.
func NewPool(client chain.Client, recovery *classify.Engine, cfg config.WorkerConfig, opts ...Option) *Pool {
	pool := &Pool{
		client:       client,
		recovery:     recovery,
		cfg:          cfg,
		lifecycleCtx: context.Background(),
		states:       make(map[string]*workerState),
	}
	pool.initMetrics()
	for _, opt := range opts {
		if opt != nil {
			opt(pool)
		}
	}
	return pool
}

// SetLifecycleContext configures the parent context for worker loops.
func (p *Pool) SetLifecycleContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.lifecycleMu.Lock()
	p.lifecycleCtx = ctx
	p.lifecycleMu.Unlock()
}

func (p *Pool) parentContext() context.Context {
	p.lifecycleMu.RLock()
	ctx := p.lifecycleCtx
	p.lifecycleMu.RUnlock()
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// NewID derives a worker id from its kind and a random suffix.
func NewID(kind Kind) string {
	raw := uuid.New()
	return string(kind) + "_" + hex.EncodeToString(raw[:4])
}

// Create registers a new worker, generates its wallet and funds it.
func (p *Pool) Create(ctx context.Context, spec Spec) (Config, error) {
	var empty Config
	if !KnownKind(string(spec.Kind)) {
		return empty, fmt.Errorf("unknown worker kind %q", spec.Kind)
	}
	if strings.TrimSpace(spec.PoolID) == "" {
		return empty, fmt.Errorf("worker pool id required")
	}
	if spec.Amount == 0 {
		return empty, fmt.Errorf("worker amount required")
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return empty, fmt.Errorf("context error: %w", err)
		}
	}

	pool, err := p.client.Pool(ctx, spec.PoolID)
	if err != nil {
		return empty, fmt.Errorf("resolve pool %s: %w", spec.PoolID, err)
	}

	wallet, err := p.client.GenerateWallet(ctx)
	if err != nil {
		return empty, fmt.Errorf("generate wallet: %w", err)
	}

	cfg := Config{
		ID:             NewID(spec.Kind),
		Kind:           spec.Kind,
		PoolID:         spec.PoolID,
		TokenSide:      spec.TokenSide,
		SwapDirection:  spec.SwapDirection,
		Amount:         spec.Amount,
		InitialFunding: spec.InitialFunding,
		AutoRefill:     spec.AutoRefill,
		ShareOutput:    spec.ShareOutput,
		Wallet:         wallet,
		CreatedAt:      time.Now().UTC(),
	}
	if cfg.TokenSide == "" {
		cfg.TokenSide = chain.SideA
	}
	if cfg.Kind == KindSwap && cfg.SwapDirection == "" {
		cfg.SwapDirection = chain.DirectionAToB
	}

	if err := p.fund(ctx, cfg, pool); err != nil {
		return empty, err
	}

	state := &workerState{cfg: cfg, status: StatusCreated}
	p.mu.Lock()
	if _, exists := p.states[cfg.ID]; exists {
		p.mu.Unlock()
		return empty, fmt.Errorf("%w: %s", ErrWorkerExists, cfg.ID)
	}
	p.states[cfg.ID] = state
	p.mu.Unlock()

	p.persistSnapshot(cfg.ID)
	observability.Log().Info("worker created",
		observability.F("worker", cfg.ID),
		observability.F("kind", string(cfg.Kind)),
		observability.F("pool", cfg.PoolID),
	)
	return cfg, nil
}

// fund mints the worker's input token and seeds native balance for fees.
func (p *Pool) fund(ctx context.Context, cfg Config, pool chain.PoolState) error {
	if cfg.InitialFunding == 0 {
		return nil
	}
	mint := InputMint(cfg, pool)
	if mint != "" {
		if err := p.client.MintTo(ctx, cfg.Wallet.Address, mint, cfg.InitialFunding); err != nil {
			return fmt.Errorf("fund worker %s: %w", cfg.ID, err)
		}
	}
	return nil
}

// InputMint resolves the token a worker spends each iteration.
func InputMint(cfg Config, pool chain.PoolState) string {
	switch cfg.Kind {
	case KindDeposit:
		if cfg.TokenSide == chain.SideB {
			return pool.TokenB
		}
		return pool.TokenA
	case KindSwap:
		if cfg.SwapDirection == chain.DirectionBToA {
			return pool.TokenB
		}
		return pool.TokenA
	case KindWithdrawal:
		// Withdrawal workers spend LP tokens acquired through deposits.
		return pool.LPMint
	}
	return ""
}

// Start launches the worker loop.
func (p *Pool) Start(ctx context.Context, id string) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context error: %w", err)
		}
	}

	p.mu.Lock()
	state, ok := p.states[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	if state.status == StatusRunning {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkerRunning, id)
	}
	loopCtx, cancel := context.WithCancel(p.parentContext())
	done := make(chan struct{})
	state.cancel = cancel
	state.done = done
	state.status = StatusRunning
	cfg := state.cfg
	p.mu.Unlock()

	p.persistSnapshot(id)
	go p.run(loopCtx, cfg, state, done)
	observability.Log().Info("worker started", observability.F("worker", id))
	return nil
}

// Stop cancels the worker loop and waits for it to acknowledge.
func (p *Pool) Stop(ctx context.Context, id string) error {
	p.mu.Lock()
	state, ok := p.states[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	if state.status != StatusRunning {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkerNotRunning, id)
	}
	state.status = StatusStopping
	cancel := state.cancel
	done := state.done
	p.mu.Unlock()

	p.persistSnapshot(id)
	if cancel != nil {
		cancel()
	}
	p.awaitLoop(ctx, done)

	p.mu.Lock()
	if state.status == StatusStopping {
		state.status = StatusStopped
	}
	state.cancel = nil
	state.done = nil
	p.mu.Unlock()

	p.persistSnapshot(id)
	observability.Log().Info("worker stopped", observability.F("worker", id))
	return nil
}

// markFailed records a terminal defect and takes the worker out of rotation.
// Called from the worker's own loop, which exits right after.
func (p *Pool) markFailed(id string) {
	p.mu.Lock()
	state, ok := p.states[id]
	var cancel context.CancelFunc
	if ok {
		state.status = StatusFailed
		cancel = state.cancel
		state.cancel = nil
		state.done = nil
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	if cancel != nil {
		cancel()
	}
	p.persistSnapshot(id)
	observability.Log().Warn("worker failed", observability.F("worker", id))
}

func (p *Pool) awaitLoop(ctx context.Context, done chan struct{}) {
	if done == nil {
		return
	}
	timer := time.NewTimer(stopWait)
	defer timer.Stop()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
	case <-timer.C:
		observability.Log().Warn("worker stop wait elapsed")
	case <-ctx.Done():
	}
}

// ForceStopAll cancels every running worker loop and waits for each.
func (p *Pool) ForceStopAll(ctx context.Context) {
	p.haltAll(ctx, StatusStopped)
}

// PauseAll halts every running loop, leaving the workers marked paused so
// ResumePaused can restart exactly that set.
func (p *Pool) PauseAll(ctx context.Context) {
	p.haltAll(ctx, StatusPaused)
}

// ResumePaused restarts workers left in the paused state.
func (p *Pool) ResumePaused(ctx context.Context) error {
	p.mu.RLock()
	var ids []string
	for id, state := range p.states {
		if state.status == StatusPaused {
			ids = append(ids, id)
		}
	}
	p.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		// Start rejects running workers; paused ones pass straight through.
		if err := p.Start(ctx, id); err != nil {
			return fmt.Errorf("resume worker %s: %w", id, err)
		}
	}
	return nil
}

func (p *Pool) haltAll(ctx context.Context, final Status) {
	p.mu.Lock()
	var waits []chan struct{}
	var ids []string
	for id, state := range p.states {
		if state.status != StatusRunning && state.status != StatusStopping {
			continue
		}
		state.status = StatusStopping
		if state.cancel != nil {
			state.cancel()
		}
		if state.done != nil {
			waits = append(waits, state.done)
		}
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, done := range waits {
		p.awaitLoop(ctx, done)
	}

	p.mu.Lock()
	for _, id := range ids {
		if state, ok := p.states[id]; ok {
			if state.status == StatusStopping {
				state.status = final
			}
			state.cancel = nil
			state.done = nil
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.persistSnapshot(id)
	}
	if len(ids) > 0 {
		observability.Log().Info("workers halted",
			observability.F("count", len(ids)),
			observability.F("status", string(final)),
		)
	}
}

// Delete stops a worker, optionally drains its wallet and removes the record.
func (p *Pool) Delete(ctx context.Context, id string, drain bool) error {
	p.mu.Lock()
	state, ok := p.states[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	running := state.status == StatusRunning
	p.mu.Unlock()

	if running {
		if err := p.Stop(ctx, id); err != nil {
			return err
		}
	}

	if drain && p.drainer != nil {
		p.mu.Lock()
		state.status = StatusDraining
		cfg := state.cfg
		p.mu.Unlock()
		p.persistSnapshot(id)

		if err := p.drainer.Drain(ctx, cfg); err != nil {
			observability.Log().Warn("worker drain failed",
				observability.F("worker", id),
				observability.F("error", err.Error()),
			)
		}
		p.mu.Lock()
		state.status = StatusDrained
		p.mu.Unlock()
		p.persistSnapshot(id)
	}

	p.mu.Lock()
	delete(p.states, id)
	p.mu.Unlock()

	p.deleteSnapshot(id)
	observability.Log().Info("worker deleted", observability.F("worker", id))
	return nil
}

// Restore primes the pool with persisted workers without starting them.
func (p *Pool) Restore(ctx context.Context) (int, error) {
	if p.persistence == nil {
		return 0, nil
	}
	snapshots, err := p.persistence.ListWorkers(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore workers: %w", err)
	}
	restored := 0
	for _, snapshot := range snapshots {
		cfg := configFromSnapshot(snapshot)
		if cfg.ID == "" {
			continue
		}
		status := normalizeRestoredStatus(statusFromString(snapshot.Status))
		wallet, err := p.client.RestoreWallet(ctx, cfg.Wallet.Secret)
		if err != nil {
			observability.Log().Warn("worker wallet restore failed",
				observability.F("worker", cfg.ID),
				observability.F("error", err.Error()),
			)
			// Registered anyway so the defect is visible in listings and
			// counts toward aggregate health.
			status = StatusFailed
		} else {
			cfg.Wallet = wallet
		}

		state := &workerState{cfg: cfg, status: status}
		if stats, err := p.persistence.LoadStatistics(ctx, cfg.ID); err == nil {
			state.stats = statisticsFromSnapshot(stats)
		}

		p.mu.Lock()
		if _, exists := p.states[cfg.ID]; !exists {
			p.states[cfg.ID] = state
			restored++
		}
		p.mu.Unlock()
	}
	if restored > 0 {
		observability.Log().Info("workers restored", observability.F("count", restored))
	}
	return restored, nil
}

// HasWorker reports whether a worker with the given id is registered.
func (p *Pool) HasWorker(id string) bool {
	p.mu.RLock()
	_, ok := p.states[id]
	p.mu.RUnlock()
	return ok
}

// Config resolves a worker configuration by id.
func (p *Pool) Config(id string) (Config, error) {
	p.mu.RLock()
	state, ok := p.states[id]
	var cfg Config
	if ok {
		cfg = state.cfg
	}
	p.mu.RUnlock()
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	return cfg, nil
}

// Status resolves a worker lifecycle state by id.
func (p *Pool) Status(id string) (Status, error) {
	p.mu.RLock()
	state, ok := p.states[id]
	var status Status
	if ok {
		status = state.status
	}
	p.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	return status, nil
}

// Statistics returns a copy of a worker's counters.
func (p *Pool) Statistics(id string) (Statistics, error) {
	p.mu.RLock()
	state, ok := p.states[id]
	p.mu.RUnlock()
	if !ok {
		return Statistics{}, fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	state.statsMu.Lock()
	stats := state.stats
	state.statsMu.Unlock()
	return stats, nil
}

// List returns details for every registered worker ordered by id.
func (p *Pool) List() []Detail {
	p.mu.RLock()
	states := make([]*workerState, 0, len(p.states))
	for _, state := range p.states {
		states = append(states, state)
	}
	p.mu.RUnlock()

	out := make([]Detail, 0, len(states))
	for _, state := range states {
		p.mu.RLock()
		cfg := state.cfg
		status := state.status
		p.mu.RUnlock()
		state.statsMu.Lock()
		stats := state.stats
		state.statsMu.Unlock()
		out = append(out, Detail{Config: cfg, Status: status, Statistics: stats})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.ID < out[j].Config.ID })
	return out
}

// RunningCount reports how many workers are currently running.
func (p *Pool) RunningCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	count := 0
	for _, state := range p.states {
		if state.status == StatusRunning {
			count++
		}
	}
	return count
}

// FailedCount reports how many workers are in the failed state.
func (p *Pool) FailedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	count := 0
	for _, state := range p.states {
		if state.status == StatusFailed {
			count++
		}
	}
	return count
}

func (p *Pool) persistSnapshot(id string) {
	if p.persistence == nil {
		return
	}
	p.mu.RLock()
	state, ok := p.states[id]
	var snapshot store.WorkerSnapshot
	if ok {
		state.statsMu.Lock()
		lastOp := state.stats.LastOperationAt
		state.statsMu.Unlock()
		snapshot = snapshotFromConfig(state.cfg, state.status, lastOp)
	}
	p.mu.RUnlock()
	if !ok {
		return
	}
	ctx := p.parentContext()
	if err := p.persistence.SaveWorker(ctx, snapshot); err != nil {
		observability.Log().Warn("worker persist failed",
			observability.F("worker", id),
			observability.F("error", err.Error()),
		)
	}
}

func (p *Pool) deleteSnapshot(id string) {
	if p.persistence == nil {
		return
	}
	ctx := p.parentContext()
	if err := p.persistence.DeleteWorker(ctx, id); err != nil && err != store.ErrNotFound {
		observability.Log().Warn("worker delete persist failed",
			observability.F("worker", id),
			observability.F("error", err.Error()),
		)
	}
}

func statisticsFromSnapshot(snapshot store.StatsSnapshot) Statistics {
	stats := Statistics{
		Succeeded:       snapshot.Succeeded,
		Failed:          snapshot.Failed,
		LastOperationAt: snapshot.LastOperationAt,
		LastError:       snapshot.LastError,
	}
	if volume, err := decimal.NewFromString(strings.TrimSpace(snapshot.VolumeProcessed)); err == nil {
		stats.VolumeProcessed = volume
	}
	return stats
}

func (p *Pool) initMetrics() {
	meter := otel.Meter("worker.pool")
	if counter, err := meter.Int64Counter("stresslab_worker_operations_succeeded",
		metric.WithDescription("Confirmed worker operations by kind"),
		metric.WithUnit("{operation}")); err == nil {
		p.opsSucceeded = counter
	}
	if counter, err := meter.Int64Counter("stresslab_worker_operations_failed",
		metric.WithDescription("Failed worker operations by kind"),
		metric.WithUnit("{operation}")); err == nil {
		p.opsFailed = counter
	}
}

func (p *Pool) recordOperation(counter metric.Int64Counter, cfg Config) {
	if counter == nil {
		return
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", string(cfg.Kind)),
		attribute.String("pool", cfg.PoolID),
	))
}
