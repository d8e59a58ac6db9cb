// Package drain decommissions worker wallets with a burn-first protocol.
// The input balance is burned before the terminal operation runs, so a
// failing operation can never leave spendable funds behind.
package drain

import (
	"context"
	"fmt"

	"github.com/poolforge/stresslab/config"
	"github.com/poolforge/stresslab/internal/chain"
	"github.com/poolforge/stresslab/internal/observability"
	"github.com/poolforge/stresslab/internal/worker"
)

// Outcome summarises one drain run.
type Outcome string

const (
	// OutcomeNothingToDrain means the wallet held no relevant tokens.
	OutcomeNothingToDrain Outcome = "nothing_to_drain"
	// OutcomeDrained means burn, terminal operation and output burn all
	// completed.
	OutcomeDrained Outcome = "drained"
	// OutcomeOperationFailed means the input burn completed but the terminal
	// operation failed. The burn is never rolled back.
	OutcomeOperationFailed Outcome = "operation_failed"
)

// Result reports what a drain run did.
type Result struct {
	WorkerID       string  `json:"workerId"`
	Outcome        Outcome `json:"outcome"`
	InputMint      string  `json:"inputMint"`
	BurnedInput    uint64  `json:"burnedInput"`
	OutputMint     string  `json:"outputMint,omitempty"`
	BurnedOutput   uint64  `json:"burnedOutput"`
	OperationError string  `json:"operationError,omitempty"`
	SweptNative    uint64  `json:"sweptNative"`
}

// Handler runs the drain protocol against the chain client.
type Handler struct {
	client chain.Client
	cfg    config.DrainConfig
}

// New builds a drain handler.
func New(client chain.Client, cfg config.DrainConfig) *Handler {
	return &Handler{client: client, cfg: cfg}
}

var _ worker.Drainer = (*Handler)(nil)

// Drain satisfies the worker pool's decommissioning hook.
func (h *Handler) Drain(ctx context.Context, cfg worker.Config) error {
	_, err := h.Execute(ctx, cfg)
	return err
}

// Execute runs the full protocol and reports the result. The error return is
// non-nil only when the input burn itself could not complete; a failed
// terminal operation is reported through the result.
func (h *Handler) Execute(ctx context.Context, cfg worker.Config) (Result, error) {
	result := Result{WorkerID: cfg.ID}

	pool, err := h.client.Pool(ctx, cfg.PoolID)
	if err != nil {
		return result, fmt.Errorf("drain %s: resolve pool: %w", cfg.ID, err)
	}
	result.InputMint = worker.InputMint(cfg, pool)
	result.OutputMint = outputMint(cfg, pool)

	balance, err := h.client.TokenBalance(ctx, cfg.Wallet.Address, result.InputMint)
	if err != nil {
		return result, fmt.Errorf("drain %s: read balance: %w", cfg.ID, err)
	}
	if balance == 0 {
		result.Outcome = OutcomeNothingToDrain
		result.SweptNative = h.sweepNative(ctx, cfg)
		observability.Log().Info("nothing to drain", observability.F("worker", cfg.ID))
		return result, nil
	}

	// Burn before operating. Whatever happens next, these tokens are gone
	// and the result records that.
	if _, err := h.client.Burn(ctx, cfg.Wallet, result.InputMint, balance); err != nil {
		return result, fmt.Errorf("drain %s: burn input: %w", cfg.ID, err)
	}
	result.BurnedInput = balance

	output, opErr := h.terminalOperation(ctx, cfg, balance)
	if opErr != nil {
		result.Outcome = OutcomeOperationFailed
		result.OperationError = opErr.Error()
	} else {
		result.Outcome = OutcomeDrained
		if output.Amount > 0 && result.OutputMint != "" {
			if _, err := h.client.Burn(ctx, cfg.Wallet, result.OutputMint, output.Amount); err != nil {
				observability.Log().Warn("drain output burn failed",
					observability.F("worker", cfg.ID),
					observability.F("error", err.Error()),
				)
			} else {
				result.BurnedOutput = output.Amount
			}
		}
	}

	result.SweptNative = h.sweepNative(ctx, cfg)

	observability.Log().Info("worker drained",
		observability.F("worker", cfg.ID),
		observability.F("outcome", string(result.Outcome)),
		observability.F("burnedInput", result.BurnedInput),
		observability.F("burnedOutput", result.BurnedOutput),
	)
	return result, nil
}

// terminalOperation exercises the worker's contract path one last time using
// the already-burned amount as input.
func (h *Handler) terminalOperation(ctx context.Context, cfg worker.Config, amount uint64) (chain.ExecResult, error) {
	switch cfg.Kind {
	case worker.KindDeposit:
		return h.client.Deposit(ctx, cfg.Wallet, cfg.PoolID, cfg.TokenSide, amount)
	case worker.KindWithdrawal:
		return h.client.Withdraw(ctx, cfg.Wallet, cfg.PoolID, amount)
	default: // KindSwap
		return h.client.Swap(ctx, cfg.Wallet, cfg.PoolID, cfg.SwapDirection, amount, 0)
	}
}

// sweepNative returns residual native balance to the operational wallet,
// keeping the configured fee buffer behind. Failure only logs.
func (h *Handler) sweepNative(ctx context.Context, cfg worker.Config) uint64 {
	if h.cfg.OperationalWallet == "" {
		return 0
	}
	balance, err := h.client.NativeBalance(ctx, cfg.Wallet.Address)
	if err != nil {
		observability.Log().Warn("drain native balance read failed",
			observability.F("worker", cfg.ID),
			observability.F("error", err.Error()),
		)
		return 0
	}
	if balance <= h.cfg.FeeBuffer {
		return 0
	}
	amount := balance - h.cfg.FeeBuffer
	if _, err := h.client.TransferNative(ctx, cfg.Wallet, h.cfg.OperationalWallet, amount); err != nil {
		observability.Log().Warn("drain native sweep failed",
			observability.F("worker", cfg.ID),
			observability.F("error", err.Error()),
		)
		return 0
	}
	return amount
}

func outputMint(cfg worker.Config, pool chain.PoolState) string {
	switch cfg.Kind {
	case worker.KindDeposit:
		return pool.LPMint
	case worker.KindWithdrawal:
		return pool.TokenA
	default: // KindSwap
		if cfg.SwapDirection == chain.DirectionBToA {
			return pool.TokenA
		}
		return pool.TokenB
	}
}
