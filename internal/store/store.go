// Package store defines persistence contracts for worker and pool state.
// Concrete implementations live in subpackages (postgres) and in the
// in-memory store used for local runs and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/poolforge/stresslab/internal/ratio"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// WorkerSnapshot is the persisted form of one worker's configuration.
type WorkerSnapshot struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	PoolID          string    `json:"poolId"`
	TokenSide       string    `json:"tokenSide"`
	SwapDirection   string    `json:"swapDirection,omitempty"`
	WalletAddress   string    `json:"walletAddress"`
	WalletSecret    string    `json:"walletSecret"`
	InitialAmount   uint64    `json:"initialAmount"`
	AutoRefill      bool      `json:"autoRefill"`
	ShareOutput     bool      `json:"shareOutput"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	LastOperationAt time.Time `json:"lastOperationAt"`
}

// StatsSnapshot is the persisted form of one worker's counters.
type StatsSnapshot struct {
	WorkerID        string    `json:"workerId"`
	Succeeded       uint64    `json:"succeeded"`
	Failed          uint64    `json:"failed"`
	VolumeProcessed string    `json:"volumeProcessed"`
	LastOperationAt time.Time `json:"lastOperationAt"`
	LastError       string    `json:"lastError"`
}

// ErrorRecord is one appended failure entry for a worker.
type ErrorRecord struct {
	WorkerID string    `json:"workerId"`
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
}

// Store persists worker records and the pool registry.
type Store interface {
	SaveWorker(ctx context.Context, snapshot WorkerSnapshot) error
	LoadWorker(ctx context.Context, id string) (WorkerSnapshot, error)
	DeleteWorker(ctx context.Context, id string) error
	ListWorkers(ctx context.Context) ([]WorkerSnapshot, error)

	SaveStatistics(ctx context.Context, snapshot StatsSnapshot) error
	LoadStatistics(ctx context.Context, id string) (StatsSnapshot, error)

	AppendError(ctx context.Context, record ErrorRecord) error
	LoadErrors(ctx context.Context, id string) ([]ErrorRecord, error)

	SavePool(ctx context.Context, cfg ratio.PoolRatioConfig) error
	LoadPools(ctx context.Context) ([]ratio.PoolRatioConfig, error)

	Close()
}
