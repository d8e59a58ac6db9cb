package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/poolforge/stresslab/config"
	"github.com/poolforge/stresslab/internal/chain"
	"github.com/poolforge/stresslab/internal/observability"
)

// Outcome tells the worker loop how to proceed after a failure.
type Outcome int

const (
	// OutcomeRetry repeats the failed operation immediately.
	OutcomeRetry Outcome = iota
	// OutcomeContinue records the failure and moves to the next iteration.
	OutcomeContinue
	// OutcomeFail records a permanent failure for this operation; the loop
	// still continues to its next iteration.
	OutcomeFail
)

// Subject describes the worker on whose behalf a recovery runs.
type Subject struct {
	WorkerID   string
	WorkerKind string // deposit, withdrawal, swap
	PoolID     string
	Wallet     chain.Wallet
	RefillMint string
	AutoRefill bool
}

// State is the mutable per-iteration recovery context owned by the worker
// loop and adjusted by the policies.
type State struct {
	Slippage       float64
	UnknownRetries int
}

// Engine executes the recovery policy table. All waits are cancellable; Stop
// never blocks on a sleeping policy longer than it takes the context to
// propagate.
type Engine struct {
	client chain.Client
	cfg    config.RecoveryConfig
	worker config.WorkerConfig
}

// NewEngine builds a recovery engine over the shared chain client.
func NewEngine(client chain.Client, cfg config.RecoveryConfig, worker config.WorkerConfig) *Engine {
	return &Engine{client: client, cfg: cfg, worker: worker}
}

// Resolve runs the policy for cls and reports how the loop should proceed.
// The returned error is non-nil only for OutcomeContinue/OutcomeFail, where
// it is the recordable cause, or when ctx is cancelled.
func (e *Engine) Resolve(ctx context.Context, subject Subject, cls Classification, state *State, cause error) (Outcome, error) {
	switch cls.Kind {
	case KindInsufficientFunds:
		return e.resolveInsufficientFunds(ctx, subject, cause)
	case KindPoolPaused:
		return e.pollFlag(ctx, subject, cause, e.cfg.PoolPausePolls, func(ctx context.Context) (bool, error) {
			return e.client.PoolPaused(ctx, subject.PoolID)
		})
	case KindSystemPaused:
		return e.pollFlag(ctx, subject, cause, e.cfg.SystemPausePolls, func(ctx context.Context) (bool, error) {
			return e.client.SystemPaused(ctx)
		})
	case KindInsufficientLiquidity:
		if subject.WorkerKind == "deposit" {
			// Deposits add liquidity; running out of it here means the pool
			// account wiring is wrong.
			return OutcomeFail, fmt.Errorf("unexpected liquidity failure for deposit worker: %w", cause)
		}
		if err := sleepCtx(ctx, e.cfg.LiquidityWait); err != nil {
			return OutcomeContinue, err
		}
		return OutcomeRetry, nil
	case KindSlippageExceeded:
		state.Slippage *= 1.5
		if state.Slippage > e.worker.MaxSlippage {
			state.Slippage = e.worker.MaxSlippage
		}
		if err := sleepCtx(ctx, e.cfg.SlippageWait); err != nil {
			return OutcomeContinue, err
		}
		return OutcomeRetry, nil
	case KindInvalidTokenAccount, KindInvalidLpTokenType:
		// Configuration defect; retrying cannot help.
		return OutcomeFail, cause
	case KindPoolSwapsPaused:
		if subject.WorkerKind != "swap" {
			return OutcomeContinue, nil
		}
		return e.pollFlag(ctx, subject, cause, e.cfg.SwapPausePolls, func(ctx context.Context) (bool, error) {
			return e.client.SwapsPaused(ctx, subject.PoolID)
		})
	default:
		return e.resolveUnknown(ctx, state, cause)
	}
}

func (e *Engine) resolveInsufficientFunds(ctx context.Context, subject Subject, cause error) (Outcome, error) {
	if subject.AutoRefill {
		balance, err := e.client.TokenBalance(ctx, subject.Wallet.Address, subject.RefillMint)
		if err != nil {
			return OutcomeContinue, fmt.Errorf("refill balance check: %w", err)
		}
		if balance < e.worker.RefillThreshold {
			if err := e.requestRefill(ctx, subject); err != nil {
				return OutcomeContinue, fmt.Errorf("refill request: %w", err)
			}
			observability.Log().Info("worker refilled",
				observability.F("worker", subject.WorkerID),
				observability.F("mint", subject.RefillMint),
				observability.F("amount", e.worker.RefillAmount),
			)
		}
	}
	if err := sleepCtx(ctx, e.cfg.FundsWait); err != nil {
		return OutcomeContinue, err
	}
	if !subject.AutoRefill {
		return OutcomeContinue, cause
	}
	return OutcomeRetry, nil
}

// requestRefill mints test tokens, retrying transient faucet failures with
// exponential backoff.
func (e *Engine) requestRefill(ctx context.Context, subject Subject) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second

	var lastErr error
	for attempt := 0; attempt < 4; attempt++ {
		lastErr = e.client.MintTo(ctx, subject.Wallet.Address, subject.RefillMint, e.worker.RefillAmount)
		if lastErr == nil {
			return nil
		}
		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		if err := sleepCtx(ctx, sleep); err != nil {
			return err
		}
	}
	return lastErr
}

func (e *Engine) pollFlag(ctx context.Context, subject Subject, cause error, maxPolls int, flag func(context.Context) (bool, error)) (Outcome, error) {
	for i := 0; i < maxPolls; i++ {
		if err := sleepCtx(ctx, e.cfg.PollInterval); err != nil {
			return OutcomeContinue, err
		}
		paused, err := flag(ctx)
		if err != nil {
			observability.Log().Warn("pause flag poll failed",
				observability.F("worker", subject.WorkerID),
				observability.F("error", err.Error()),
			)
			continue
		}
		if !paused {
			return OutcomeRetry, nil
		}
	}
	return OutcomeFail, fmt.Errorf("pause did not clear within %d polls: %w", maxPolls, cause)
}

func (e *Engine) resolveUnknown(ctx context.Context, state *State, cause error) (Outcome, error) {
	if state.UnknownRetries < e.cfg.UnknownRetries {
		state.UnknownRetries++
		if err := sleepCtx(ctx, e.cfg.UnknownRetryWait); err != nil {
			return OutcomeContinue, err
		}
		return OutcomeRetry, nil
	}
	return OutcomeContinue, cause
}

// sleepCtx waits for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
