package store

import (
	"context"
	"sort"
	"sync"

	"github.com/poolforge/stresslab/errs"
	"github.com/poolforge/stresslab/internal/ratio"
)

// Memory is an in-process Store used when no database DSN is configured
// and in tests. All methods are safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	workers map[string]WorkerSnapshot
	stats   map[string]StatsSnapshot
	errors  map[string][]ErrorRecord
	pools   map[string]ratio.PoolRatioConfig
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		workers: make(map[string]WorkerSnapshot),
		stats:   make(map[string]StatsSnapshot),
		errors:  make(map[string][]ErrorRecord),
		pools:   make(map[string]ratio.PoolRatioConfig),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) SaveWorker(_ context.Context, snapshot WorkerSnapshot) error {
	if snapshot.ID == "" {
		return errs.New("store", errs.CodeInvalid, errs.WithMessage("worker id required"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[snapshot.ID] = snapshot
	return nil
}

func (m *Memory) LoadWorker(_ context.Context, id string) (WorkerSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.workers[id]
	if !ok {
		return WorkerSnapshot{}, ErrNotFound
	}
	return snapshot, nil
}

func (m *Memory) DeleteWorker(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[id]; !ok {
		return ErrNotFound
	}
	delete(m.workers, id)
	delete(m.stats, id)
	delete(m.errors, id)
	return nil
}

func (m *Memory) ListWorkers(_ context.Context) ([]WorkerSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]WorkerSnapshot, 0, len(m.workers))
	for _, snapshot := range m.workers {
		out = append(out, snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveStatistics(_ context.Context, snapshot StatsSnapshot) error {
	if snapshot.WorkerID == "" {
		return errs.New("store", errs.CodeInvalid, errs.WithMessage("worker id required"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[snapshot.WorkerID] = snapshot
	return nil
}

func (m *Memory) LoadStatistics(_ context.Context, id string) (StatsSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.stats[id]
	if !ok {
		return StatsSnapshot{}, ErrNotFound
	}
	return snapshot, nil
}

func (m *Memory) AppendError(_ context.Context, record ErrorRecord) error {
	if record.WorkerID == "" {
		return errs.New("store", errs.CodeInvalid, errs.WithMessage("worker id required"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[record.WorkerID] = append(m.errors[record.WorkerID], record)
	return nil
}

func (m *Memory) LoadErrors(_ context.Context, id string) ([]ErrorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.errors[id]
	out := make([]ErrorRecord, len(records))
	copy(out, records)
	return out, nil
}

func (m *Memory) SavePool(_ context.Context, cfg ratio.PoolRatioConfig) error {
	if cfg.PoolID == "" {
		return errs.New("store", errs.CodeInvalid, errs.WithMessage("pool id required"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[cfg.PoolID] = cfg
	return nil
}

func (m *Memory) LoadPools(_ context.Context) ([]ratio.PoolRatioConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ratio.PoolRatioConfig, 0, len(m.pools))
	for _, cfg := range m.pools {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out, nil
}

func (m *Memory) Close() {}
