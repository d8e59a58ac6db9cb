// Package worker manages simulated trader instances and their lifecycle.
package worker

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/poolforge/stresslab/internal/chain"
	"github.com/poolforge/stresslab/internal/store"
)

// Kind names the operation a worker repeats.
type Kind string

const (
	// KindDeposit workers add single-sided liquidity each iteration.
	KindDeposit Kind = "deposit"
	// KindWithdrawal workers redeem LP tokens each iteration.
	KindWithdrawal Kind = "withdrawal"
	// KindSwap workers trade across the pool pair each iteration.
	KindSwap Kind = "swap"
)

// KnownKind reports whether value names a supported worker kind.
func KnownKind(value string) bool {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindDeposit, KindWithdrawal, KindSwap:
		return true
	}
	return false
}

// Status represents the lifecycle state of a worker.
type Status string

const (
	// StatusCreated indicates the worker is registered but not yet started.
	StatusCreated Status = "created"
	// StatusRunning indicates the worker loop is executing operations.
	StatusRunning Status = "running"
	// StatusStopping indicates a stop has been requested and the loop is
	// finishing its current iteration.
	StatusStopping Status = "stopping"
	// StatusStopped indicates the worker loop has exited cleanly.
	StatusStopped Status = "stopped"
	// StatusPaused indicates the loop was halted by a system-wide pause and
	// will restart on resume.
	StatusPaused Status = "paused"
	// StatusFailed indicates the loop hit an unrecoverable defect.
	StatusFailed Status = "failed"
	// StatusDraining indicates wallet decommissioning is in progress.
	StatusDraining Status = "draining"
	// StatusDrained indicates the wallet has been emptied and burned down.
	StatusDrained Status = "drained"
)

func statusFromString(value string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusCreated:
		return StatusCreated
	case StatusRunning:
		return StatusRunning
	case StatusStopping:
		return StatusStopping
	case StatusStopped:
		return StatusStopped
	case StatusPaused:
		return StatusPaused
	case StatusFailed:
		return StatusFailed
	case StatusDraining:
		return StatusDraining
	case StatusDrained:
		return StatusDrained
	default:
		return StatusCreated
	}
}

// normalizeRestoredStatus maps persisted in-flight states onto restartable
// ones. A worker that was running when the process died comes back stopped.
func normalizeRestoredStatus(status Status) Status {
	switch status {
	case StatusRunning, StatusStopping:
		return StatusStopped
	default:
		return status
	}
}

var (
	// ErrWorkerExists indicates that a worker with the given id already exists.
	ErrWorkerExists = errors.New("worker already exists")
	// ErrWorkerNotFound indicates that the requested worker was not found.
	ErrWorkerNotFound = errors.New("worker not found")
	// ErrWorkerRunning indicates that the worker is already running.
	ErrWorkerRunning = errors.New("worker already running")
	// ErrWorkerNotRunning indicates that the worker is not currently running.
	ErrWorkerNotRunning = errors.New("worker not running")
)

// Spec is the caller-supplied shape of a new worker.
type Spec struct {
	Kind           Kind
	PoolID         string
	TokenSide      chain.TokenSide
	SwapDirection  chain.SwapDirection
	Amount         uint64
	InitialFunding uint64
	AutoRefill     bool
	ShareOutput    bool
}

// Config is the materialised worker configuration, including its wallet.
type Config struct {
	ID             string
	Kind           Kind
	PoolID         string
	TokenSide      chain.TokenSide
	SwapDirection  chain.SwapDirection
	Amount         uint64
	InitialFunding uint64
	AutoRefill     bool
	ShareOutput    bool
	Wallet         chain.Wallet
	CreatedAt      time.Time
}

// Statistics are the per-worker counters. Counters only ever grow; the loop
// is the single writer and readers receive copies.
type Statistics struct {
	Succeeded       uint64
	Failed          uint64
	VolumeProcessed decimal.Decimal
	LastOperationAt time.Time
	LastError       string
}

// Detail is the externally visible view of one worker.
type Detail struct {
	Config     Config
	Status     Status
	Statistics Statistics
}

func snapshotFromConfig(cfg Config, status Status, lastOp time.Time) store.WorkerSnapshot {
	return store.WorkerSnapshot{
		ID:              cfg.ID,
		Kind:            string(cfg.Kind),
		PoolID:          cfg.PoolID,
		TokenSide:       string(cfg.TokenSide),
		SwapDirection:   string(cfg.SwapDirection),
		WalletAddress:   cfg.Wallet.Address,
		WalletSecret:    cfg.Wallet.Secret,
		InitialAmount:   cfg.Amount,
		AutoRefill:      cfg.AutoRefill,
		ShareOutput:     cfg.ShareOutput,
		Status:          string(status),
		CreatedAt:       cfg.CreatedAt,
		LastOperationAt: lastOp,
	}
}

func configFromSnapshot(snapshot store.WorkerSnapshot) Config {
	return Config{
		ID:            snapshot.ID,
		Kind:          Kind(snapshot.Kind),
		PoolID:        snapshot.PoolID,
		TokenSide:     chain.TokenSide(snapshot.TokenSide),
		SwapDirection: chain.SwapDirection(snapshot.SwapDirection),
		Amount:        snapshot.InitialAmount,
		AutoRefill:    snapshot.AutoRefill,
		ShareOutput:   snapshot.ShareOutput,
		Wallet:        chain.Wallet{Address: snapshot.WalletAddress, Secret: snapshot.WalletSecret},
		CreatedAt:     snapshot.CreatedAt,
	}
}

func statsSnapshot(id string, stats Statistics) store.StatsSnapshot {
	return store.StatsSnapshot{
		WorkerID:        id,
		Succeeded:       stats.Succeeded,
		Failed:          stats.Failed,
		VolumeProcessed: stats.VolumeProcessed.String(),
		LastOperationAt: stats.LastOperationAt,
		LastError:       stats.LastError,
	}
}
