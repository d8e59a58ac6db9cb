package persistence_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/poolforge/stresslab/internal/ratio"
	"github.com/poolforge/stresslab/internal/store"
	"github.com/poolforge/stresslab/internal/store/migrations"
	pgstore "github.com/poolforge/stresslab/internal/store/postgres"
)

var (
	testStore   *pgstore.Store
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "stresslab"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	pgContainer = container

	setupErr = initialiseDatabase(ctx)
	exitCode := 0
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "postgres contract tests skipped: %v\n", setupErr)
	} else {
		exitCode = m.Run()
	}

	if testStore != nil {
		testStore.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/stresslab?sslmode=disable", host, port.Port())

	if err := migrations.Apply(ctx, dsn, ""); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	connected, err := pgstore.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	testStore = connected
	return nil
}

func TestPostgresStateStore(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()

	workerID := "deposit_" + uuid.NewString()[:8]
	snapshot := store.WorkerSnapshot{
		ID:            workerID,
		Kind:          "deposit",
		PoolID:        "COIN:USDT",
		TokenSide:     "a",
		WalletAddress: "sim" + uuid.NewString()[:16],
		WalletSecret:  uuid.NewString(),
		InitialAmount: 5_000_000,
		AutoRefill:    true,
		Status:        "created",
		CreatedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := testStore.SaveWorker(ctx, snapshot); err != nil {
		t.Fatalf("save worker: %v", err)
	}

	loaded, err := testStore.LoadWorker(ctx, workerID)
	if err != nil {
		t.Fatalf("load worker: %v", err)
	}
	if loaded.Kind != "deposit" || loaded.PoolID != "COIN:USDT" || loaded.InitialAmount != 5_000_000 {
		t.Fatalf("unexpected worker snapshot: %+v", loaded)
	}

	snapshot.Status = "running"
	snapshot.LastOperationAt = time.Now().UTC().Truncate(time.Microsecond)
	if err := testStore.SaveWorker(ctx, snapshot); err != nil {
		t.Fatalf("update worker: %v", err)
	}
	loaded, err = testStore.LoadWorker(ctx, workerID)
	if err != nil {
		t.Fatalf("reload worker: %v", err)
	}
	if loaded.Status != "running" {
		t.Fatalf("expected running status, got %s", loaded.Status)
	}
	if loaded.LastOperationAt.IsZero() {
		t.Fatalf("expected last operation timestamp")
	}

	stats := store.StatsSnapshot{
		WorkerID:        workerID,
		Succeeded:       12,
		Failed:          3,
		VolumeProcessed: "60000000",
		LastOperationAt: snapshot.LastOperationAt,
		LastError:       "Custom(1002)",
	}
	if err := testStore.SaveStatistics(ctx, stats); err != nil {
		t.Fatalf("save statistics: %v", err)
	}
	loadedStats, err := testStore.LoadStatistics(ctx, workerID)
	if err != nil {
		t.Fatalf("load statistics: %v", err)
	}
	if loadedStats.Succeeded != 12 || loadedStats.Failed != 3 {
		t.Fatalf("unexpected statistics: %+v", loadedStats)
	}

	record := store.ErrorRecord{
		WorkerID: workerID,
		At:       time.Now().UTC().Truncate(time.Microsecond),
		Kind:     "insufficient_funds",
		Message:  "Custom(1002)",
	}
	if err := testStore.AppendError(ctx, record); err != nil {
		t.Fatalf("append error: %v", err)
	}
	records, err := testStore.LoadErrors(ctx, workerID)
	if err != nil {
		t.Fatalf("load errors: %v", err)
	}
	if len(records) != 1 || records[0].Message != "Custom(1002)" {
		t.Fatalf("unexpected error records: %+v", records)
	}

	pool := ratio.PoolRatioConfig{
		PoolID: "COIN:USDT", TokenA: "COIN", TokenB: "USDT",
		RatioA: 1_000_000_000, RatioB: 3_000_000,
	}
	if err := testStore.SavePool(ctx, pool); err != nil {
		t.Fatalf("save pool: %v", err)
	}
	pools, err := testStore.LoadPools(ctx)
	if err != nil {
		t.Fatalf("load pools: %v", err)
	}
	if len(pools) != 1 || pools[0] != pool {
		t.Fatalf("unexpected pools: %+v", pools)
	}

	list, err := testStore.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("list workers: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(list))
	}

	if err := testStore.DeleteWorker(ctx, workerID); err != nil {
		t.Fatalf("delete worker: %v", err)
	}
	if _, err := testStore.LoadWorker(ctx, workerID); err != store.ErrNotFound {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}
