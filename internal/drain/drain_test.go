package drain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poolforge/stresslab/config"
	"github.com/poolforge/stresslab/internal/chain"
	"github.com/poolforge/stresslab/internal/chain/sim"
	"github.com/poolforge/stresslab/internal/worker"
)

const testPoolID = "COIN:USDT"

func newTestChain(t *testing.T) (*sim.Chain, chain.Wallet) {
	t.Helper()
	c := sim.New(sim.WithSeed(11), sim.WithFeePerOperation(0))
	c.CreatePool(chain.PoolState{
		ID:        testPoolID,
		TokenA:    "COIN",
		TokenB:    "USDT",
		RatioA:    1_000_000_000,
		RatioB:    3_000_000,
		DecimalsA: 9,
		DecimalsB: 6,
		LPMint:    "lp-" + testPoolID,
	}, 1_000_000_000_000, 3_000_000_000)

	wallet, err := c.GenerateWallet(context.Background())
	require.NoError(t, err)
	return c, wallet
}

func depositConfig(wallet chain.Wallet) worker.Config {
	return worker.Config{
		ID:        "deposit_00c0ffee",
		Kind:      worker.KindDeposit,
		PoolID:    testPoolID,
		TokenSide: chain.SideA,
		Amount:    1_000,
		Wallet:    wallet,
	}
}

func TestDrainNothingToDrain(t *testing.T) {
	ctx := context.Background()
	c, wallet := newTestChain(t)
	handler := New(c, config.DrainConfig{FeeBuffer: 5_000_000})

	result, err := handler.Execute(ctx, depositConfig(wallet))
	require.NoError(t, err)
	require.Equal(t, OutcomeNothingToDrain, result.Outcome)
	require.Zero(t, result.BurnedInput)
}

func TestDrainBurnSurvivesOperationFailure(t *testing.T) {
	ctx := context.Background()
	c, wallet := newTestChain(t)
	handler := New(c, config.DrainConfig{FeeBuffer: 5_000_000})

	// Fund the wallet; the drain burns everything first, so the terminal
	// deposit must fail on insufficient funds afterwards.
	require.NoError(t, c.MintTo(ctx, wallet.Address, "COIN", 42_000))

	result, err := handler.Execute(ctx, depositConfig(wallet))
	require.NoError(t, err)
	require.Equal(t, OutcomeOperationFailed, result.Outcome)
	require.Equal(t, uint64(42_000), result.BurnedInput)
	require.NotEmpty(t, result.OperationError)

	balance, err := c.TokenBalance(ctx, wallet.Address, "COIN")
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestDrainSweepsNativeAboveBuffer(t *testing.T) {
	ctx := context.Background()
	c, wallet := newTestChain(t)

	operational, err := c.GenerateWallet(ctx)
	require.NoError(t, err)
	handler := New(c, config.DrainConfig{
		OperationalWallet: operational.Address,
		FeeBuffer:         1_000_000,
	})

	require.NoError(t, c.MintTo(ctx, wallet.Address, "COIN", 10_000))
	require.NoError(t, c.MintTo(ctx, wallet.Address, "", 9_000_000))

	result, err := handler.Execute(ctx, depositConfig(wallet))
	require.NoError(t, err)
	require.Equal(t, uint64(8_000_000), result.SweptNative)

	swept, err := c.NativeBalance(ctx, operational.Address)
	require.NoError(t, err)
	require.Equal(t, uint64(8_000_000), swept)
}

func TestDrainSweepSkippedBelowBuffer(t *testing.T) {
	ctx := context.Background()
	c, wallet := newTestChain(t)

	operational, err := c.GenerateWallet(ctx)
	require.NoError(t, err)
	handler := New(c, config.DrainConfig{
		OperationalWallet: operational.Address,
		FeeBuffer:         5_000_000,
	})

	require.NoError(t, c.MintTo(ctx, wallet.Address, "", 2_000_000))

	result, err := handler.Execute(ctx, depositConfig(wallet))
	require.NoError(t, err)
	require.Equal(t, OutcomeNothingToDrain, result.Outcome)
	require.Zero(t, result.SweptNative)
}

func TestDrainSwapWorkerBurnsBothLegs(t *testing.T) {
	ctx := context.Background()
	c, wallet := newTestChain(t)
	handler := New(c, config.DrainConfig{FeeBuffer: 5_000_000})

	cfg := worker.Config{
		ID:            "swap_00c0ffee",
		Kind:          worker.KindSwap,
		PoolID:        testPoolID,
		SwapDirection: chain.DirectionAToB,
		Amount:        1_000_000,
		Wallet:        wallet,
	}
	require.NoError(t, c.MintTo(ctx, wallet.Address, "COIN", 1_000_000))

	result, err := handler.Execute(ctx, cfg)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), result.BurnedInput)
	require.Equal(t, "COIN", result.InputMint)
	require.Equal(t, "USDT", result.OutputMint)
	// The input was burned before the swap, so the swap itself reports a
	// funds failure and no output burn happens.
	require.Equal(t, OutcomeOperationFailed, result.Outcome)
	require.Zero(t, result.BurnedOutput)
}
