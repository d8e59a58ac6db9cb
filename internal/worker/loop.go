package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/poolforge/stresslab/internal/chain"
	"github.com/poolforge/stresslab/internal/classify"
	"github.com/poolforge/stresslab/internal/observability"
	"github.com/poolforge/stresslab/internal/store"
)

// run is the worker loop. It executes one operation per paced iteration and
// exits only on cancellation or a configuration defect.
func (p *Pool) run(ctx context.Context, cfg Config, state *workerState, done chan struct{}) {
	defer close(done)

	interval := p.cfg.PacingInterval
	if interval <= 0 {
		interval = time.Second
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if p.cfg.PacingJitter > 0 {
			jitter := time.Duration(rng.Int63n(int64(p.cfg.PacingJitter)))
			if !sleepLoop(ctx, jitter) {
				return
			}
		}
		if !p.iterate(ctx, cfg, state) {
			return
		}
	}
}

// iterate executes one operation, driving the recovery engine on failure.
// It returns false when the context is cancelled or the worker has been
// marked failed.
func (p *Pool) iterate(ctx context.Context, cfg Config, state *workerState) bool {
	// Recovery state is scoped to one iteration. Slippage ratchets only
	// across retries of the same operation and resets to the configured
	// starting tolerance for the next one.
	recState := &classify.State{Slippage: p.cfg.StartingSlippage}
	for {
		if ctx.Err() != nil {
			return false
		}

		// The context is rebuilt from live chain state every attempt so a
		// ratio or pause change between iterations is always observed.
		pool, err := p.client.Pool(ctx, cfg.PoolID)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			p.recordFailure(ctx, cfg, state, "pool state: "+err.Error(), string(classify.KindUnknown))
			return true
		}

		result, opErr := p.execute(ctx, cfg, pool, recState.Slippage)
		if opErr == nil {
			p.recordSuccess(ctx, cfg, state, result)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		cls := classify.Classify(opErr)
		subject := classify.Subject{
			WorkerID:   cfg.ID,
			WorkerKind: string(cfg.Kind),
			PoolID:     cfg.PoolID,
			Wallet:     cfg.Wallet,
			RefillMint: InputMint(cfg, pool),
			AutoRefill: cfg.AutoRefill,
		}
		outcome, cause := p.recovery.Resolve(ctx, subject, cls, recState, opErr)
		switch outcome {
		case classify.OutcomeRetry:
			continue
		case classify.OutcomeContinue:
			if ctx.Err() != nil {
				return false
			}
			if cause != nil {
				p.recordFailure(ctx, cfg, state, cause.Error(), string(cls.Kind))
			}
			return true
		default: // OutcomeFail
			message := opErr.Error()
			if cause != nil {
				message = cause.Error()
			}
			observability.Log().Error("worker operation permanently failed",
				observability.F("worker", cfg.ID),
				observability.F("kind", string(cls.Kind)),
				observability.F("error", message),
			)
			p.recordFailure(ctx, cfg, state, message, string(cls.Kind))
			if configurationDefect(cls.Kind) {
				// A mis-wired worker cannot make progress; take it out of
				// rotation so aggregate health reflects it.
				p.markFailed(cfg.ID)
				return false
			}
			return true
		}
	}
}

// configurationDefect reports whether a failure kind means the worker is
// mis-wired and retrying any operation is pointless.
func configurationDefect(kind classify.Kind) bool {
	return kind == classify.KindInvalidTokenAccount || kind == classify.KindInvalidLpTokenType
}

// execute performs the worker's configured operation against the chain.
func (p *Pool) execute(ctx context.Context, cfg Config, pool chain.PoolState, slippage float64) (chain.ExecResult, error) {
	switch cfg.Kind {
	case KindDeposit:
		return p.client.Deposit(ctx, cfg.Wallet, cfg.PoolID, cfg.TokenSide, cfg.Amount)
	case KindWithdrawal:
		return p.client.Withdraw(ctx, cfg.Wallet, cfg.PoolID, cfg.Amount)
	default: // KindSwap
		minOut := minAmountOut(cfg, pool, slippage)
		return p.client.Swap(ctx, cfg.Wallet, cfg.PoolID, cfg.SwapDirection, cfg.Amount, minOut)
	}
}

// minAmountOut derives the slippage-protected floor for a swap from the
// pool's fixed exchange ratio.
func minAmountOut(cfg Config, pool chain.PoolState, slippage float64) uint64 {
	if pool.RatioA == 0 || pool.RatioB == 0 {
		return 0
	}
	amountIn := decimal.NewFromUint64(cfg.Amount)
	var expected decimal.Decimal
	if cfg.SwapDirection == chain.DirectionBToA {
		expected = amountIn.Mul(decimal.NewFromUint64(pool.RatioA)).Div(decimal.NewFromUint64(pool.RatioB))
	} else {
		expected = amountIn.Mul(decimal.NewFromUint64(pool.RatioB)).Div(decimal.NewFromUint64(pool.RatioA))
	}
	if slippage < 0 {
		slippage = 0
	}
	if slippage > 1 {
		slippage = 1
	}
	floor := expected.Mul(decimal.NewFromFloat(1 - slippage)).Floor()
	if floor.IsNegative() {
		return 0
	}
	return floor.BigInt().Uint64()
}

func (p *Pool) recordSuccess(ctx context.Context, cfg Config, state *workerState, result chain.ExecResult) {
	now := time.Now().UTC()
	state.statsMu.Lock()
	state.stats.Succeeded++
	state.stats.VolumeProcessed = state.stats.VolumeProcessed.Add(decimal.NewFromUint64(result.Amount))
	state.stats.LastOperationAt = now
	stats := state.stats
	state.statsMu.Unlock()

	p.recordOperation(p.opsSucceeded, cfg)
	p.persistStatistics(ctx, cfg.ID, stats)
}

func (p *Pool) recordFailure(ctx context.Context, cfg Config, state *workerState, message, kind string) {
	now := time.Now().UTC()
	state.statsMu.Lock()
	state.stats.Failed++
	state.stats.LastOperationAt = now
	state.stats.LastError = message
	stats := state.stats
	state.statsMu.Unlock()

	p.recordOperation(p.opsFailed, cfg)
	p.persistStatistics(ctx, cfg.ID, stats)
	if p.persistence != nil {
		record := store.ErrorRecord{WorkerID: cfg.ID, At: now, Kind: kind, Message: message}
		if err := p.persistence.AppendError(context.WithoutCancel(ctx), record); err != nil {
			observability.Log().Warn("worker error record failed",
				observability.F("worker", cfg.ID),
				observability.F("error", err.Error()),
			)
		}
	}
}

func (p *Pool) persistStatistics(ctx context.Context, id string, stats Statistics) {
	if p.persistence == nil {
		return
	}
	if err := p.persistence.SaveStatistics(context.WithoutCancel(ctx), statsSnapshot(id, stats)); err != nil {
		observability.Log().Warn("worker statistics persist failed",
			observability.F("worker", id),
			observability.F("error", err.Error()),
		)
	}
}

// sleepLoop waits for d, reporting false when ctx is cancelled first.
func sleepLoop(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
