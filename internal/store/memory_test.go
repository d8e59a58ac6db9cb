package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poolforge/stresslab/internal/ratio"
)

func TestMemoryWorkerRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	snapshot := WorkerSnapshot{
		ID:            "deposit_ab12cd34",
		Kind:          "deposit",
		PoolID:        "COIN:USDT",
		TokenSide:     "a",
		WalletAddress: "sim1234",
		WalletSecret:  "secret",
		InitialAmount: 1_000_000,
		AutoRefill:    true,
		Status:        "created",
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, mem.SaveWorker(ctx, snapshot))

	loaded, err := mem.LoadWorker(ctx, snapshot.ID)
	require.NoError(t, err)
	require.Equal(t, snapshot, loaded)

	list, err := mem.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, mem.DeleteWorker(ctx, snapshot.ID))
	_, err = mem.LoadWorker(ctx, snapshot.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, mem.DeleteWorker(ctx, snapshot.ID), ErrNotFound)
}

func TestMemoryWorkerIDRequired(t *testing.T) {
	mem := NewMemory()
	require.Error(t, mem.SaveWorker(context.Background(), WorkerSnapshot{}))
	require.Error(t, mem.SaveStatistics(context.Background(), StatsSnapshot{}))
	require.Error(t, mem.AppendError(context.Background(), ErrorRecord{}))
}

func TestMemoryStatisticsAndErrors(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	stats := StatsSnapshot{
		WorkerID:        "swap_0011aabb",
		Succeeded:       4,
		Failed:          1,
		VolumeProcessed: "125000",
		LastError:       "Custom(1006)",
	}
	require.NoError(t, mem.SaveStatistics(ctx, stats))

	loaded, err := mem.LoadStatistics(ctx, stats.WorkerID)
	require.NoError(t, err)
	require.Equal(t, stats, loaded)

	_, err = mem.LoadStatistics(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	first := ErrorRecord{WorkerID: stats.WorkerID, At: time.Now().UTC(), Kind: "slippage_exceeded", Message: "Custom(1006)"}
	second := ErrorRecord{WorkerID: stats.WorkerID, At: time.Now().UTC(), Kind: "pool_paused", Message: "0x3eb (1003)"}
	require.NoError(t, mem.AppendError(ctx, first))
	require.NoError(t, mem.AppendError(ctx, second))

	records, err := mem.LoadErrors(ctx, stats.WorkerID)
	require.NoError(t, err)
	require.Equal(t, []ErrorRecord{first, second}, records)
}

func TestMemoryPoolRegistry(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	coinUSDT := ratio.PoolRatioConfig{PoolID: "COIN:USDT", TokenA: "COIN", TokenB: "USDT", RatioA: 1_000_000_000, RatioB: 3_000_000}
	abPool := ratio.PoolRatioConfig{PoolID: "AAA:BBB", TokenA: "AAA", TokenB: "BBB", RatioA: 1_000_000_000, RatioB: 2_000_000_000}
	require.NoError(t, mem.SavePool(ctx, coinUSDT))
	require.NoError(t, mem.SavePool(ctx, abPool))

	pools, err := mem.LoadPools(ctx)
	require.NoError(t, err)
	require.Equal(t, []ratio.PoolRatioConfig{abPool, coinUSDT}, pools)

	require.Error(t, mem.SavePool(ctx, ratio.PoolRatioConfig{}))
}
