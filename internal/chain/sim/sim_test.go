package sim

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poolforge/stresslab/internal/chain"
)

func testPool() chain.PoolState {
	return chain.PoolState{
		ID:        "pool-1",
		TokenA:    "mintAAA",
		TokenB:    "mintBBB",
		RatioA:    1_000_000,
		RatioB:    4_000_000,
		DecimalsA: 6,
		DecimalsB: 6,
	}
}

func TestWalletRoundTrip(t *testing.T) {
	c := New()
	ctx := context.Background()

	w, err := c.GenerateWallet(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, w.Address)

	restored, err := c.RestoreWallet(ctx, w.Secret)
	require.NoError(t, err)
	require.Equal(t, w.Address, restored.Address)
}

func TestDepositMintsLpAtRatio(t *testing.T) {
	c := New()
	c.CreatePool(testPool(), 10_000_000, 40_000_000)
	ctx := context.Background()

	w, _ := c.GenerateWallet(ctx)
	require.NoError(t, c.MintTo(ctx, w.Address, "mintBBB", 8_000_000))

	res, err := c.Deposit(ctx, w, "pool-1", chain.SideB, 8_000_000)
	require.NoError(t, err)
	// Token B deposits convert to Token A units: 8,000,000 * 1/4.
	require.Equal(t, uint64(2_000_000), res.Amount)

	lp, err := c.TokenBalance(ctx, w.Address, "lp-pool-1")
	require.NoError(t, err)
	require.Equal(t, uint64(2_000_000), lp)
}

func TestSwapHonoursMinOut(t *testing.T) {
	c := New()
	c.CreatePool(testPool(), 10_000_000, 40_000_000)
	ctx := context.Background()

	w, _ := c.GenerateWallet(ctx)
	require.NoError(t, c.MintTo(ctx, w.Address, "mintAAA", 1_000_000))

	_, err := c.Swap(ctx, w, "pool-1", chain.DirectionAToB, 1_000_000, 5_000_000)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1006")

	require.NoError(t, c.MintTo(ctx, w.Address, "mintAAA", 1_000_000))
	res, err := c.Swap(ctx, w, "pool-1", chain.DirectionAToB, 1_000_000, 4_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(4_000_000), res.Amount)
}

func TestPauseFlagsSurfaceContractCodes(t *testing.T) {
	c := New()
	c.CreatePool(testPool(), 10_000_000, 40_000_000)
	ctx := context.Background()
	w, _ := c.GenerateWallet(ctx)
	require.NoError(t, c.MintTo(ctx, w.Address, "mintAAA", 1_000_000))

	c.SetSystemPaused(true)
	_, err := c.Deposit(ctx, w, "pool-1", chain.SideA, 1_000_000)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1004")
	c.SetSystemPaused(false)

	c.SetPoolPaused("pool-1", true)
	_, err = c.Deposit(ctx, w, "pool-1", chain.SideA, 1_000_000)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1003")
	c.SetPoolPaused("pool-1", false)

	c.SetSwapsPaused("pool-1", true)
	_, err = c.Swap(ctx, w, "pool-1", chain.DirectionAToB, 1_000_000, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1008")

	// Deposits are unaffected by the swap pause.
	_, err = c.Deposit(ctx, w, "pool-1", chain.SideA, 1_000_000)
	require.NoError(t, err)
}

func TestInsufficientBalanceOnDeposit(t *testing.T) {
	c := New()
	c.CreatePool(testPool(), 0, 0)
	ctx := context.Background()
	w, _ := c.GenerateWallet(ctx)

	_, err := c.Deposit(ctx, w, "pool-1", chain.SideA, 500)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1002")
}

func TestContractErrorTextAlternatesForms(t *testing.T) {
	c := New()
	first := c.contractErr(chain.CodePoolPaused).Error()
	second := c.contractErr(chain.CodePoolPaused).Error()
	forms := first + "\n" + second
	require.Contains(t, forms, "Custom(1003)")
	if !strings.Contains(forms, "0x3eb (1003)") {
		t.Fatalf("expected hex form in %q", forms)
	}
}

func TestBurnReducesBalance(t *testing.T) {
	c := New()
	ctx := context.Background()
	w, _ := c.GenerateWallet(ctx)
	require.NoError(t, c.MintTo(ctx, w.Address, "mintAAA", 1000))

	res, err := c.Burn(ctx, w, "mintAAA", 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), res.Amount)

	bal, _ := c.TokenBalance(ctx, w.Address, "mintAAA")
	require.Zero(t, bal)
}
