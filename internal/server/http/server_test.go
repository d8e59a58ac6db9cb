package httpserver

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/poolforge/stresslab/config"
	"github.com/poolforge/stresslab/internal/chain"
	"github.com/poolforge/stresslab/internal/chain/sim"
	"github.com/poolforge/stresslab/internal/engine"
	"github.com/poolforge/stresslab/internal/lifecycle"
	"github.com/poolforge/stresslab/internal/store"
	"github.com/poolforge/stresslab/lib/async"
)

const testPoolID = "COIN:USDT"

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	cfg := config.Default()
	cfg.Worker.PacingInterval = 5 * time.Millisecond
	cfg.Worker.PacingJitter = 0
	cfg.Recovery.PollInterval = time.Millisecond

	mem := store.NewMemory()
	factory := func() (*engine.Engine, error) {
		chainSim := sim.New(sim.WithSeed(5))
		chainSim.CreatePool(chain.PoolState{
			ID:        testPoolID,
			TokenA:    "COIN",
			TokenB:    "USDT",
			RatioA:    1_000_000_000,
			RatioB:    3_000_000,
			DecimalsA: 9,
			DecimalsB: 6,
			LPMint:    "lp-" + testPoolID,
		}, 1_000_000_000_000, 3_000_000_000)
		return engine.New(cfg, chainSim, mem), nil
	}

	controller := lifecycle.NewController(factory)
	drains, err := async.NewPool(2, 4)
	require.NoError(t, err)
	t.Cleanup(func() {
		drains.Close()
		_ = controller.Stop(t.Context())
	})

	return NewHandler(config.EnvDev, controller, drains)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestWorkerEndpointsRequireStartedService(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/workers", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLifecycleAndWorkerFlow(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/lifecycle/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "started", decodeResponse(t, rec)["state"])

	rec = doJSON(t, handler, http.MethodPost, "/api/workers", map[string]any{
		"kind":      "deposit",
		"pool":      testPoolID,
		"tokenSide": "a",
		"amount":    1_000,
		"autoStart": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeResponse(t, rec)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	require.Equal(t, "running", created["status"])

	require.Eventually(t, func() bool {
		rec := doJSON(t, handler, http.MethodGet, "/api/workers/"+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		detail := decodeResponse(t, rec)
		succeeded, _ := detail["succeeded"].(float64)
		return succeeded >= 1
	}, 5*time.Second, 20*time.Millisecond)

	rec = doJSON(t, handler, http.MethodPost, "/api/workers/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "stopped", decodeResponse(t, rec)["status"])

	rec = doJSON(t, handler, http.MethodGet, "/api/workers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	workers, _ := decodeResponse(t, rec)["workers"].([]any)
	require.Len(t, workers, 1)

	rec = doJSON(t, handler, http.MethodDelete, "/api/workers/"+id+"?drain=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/workers/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateWorkerValidation(t *testing.T) {
	handler := newTestHandler(t)
	require.Equal(t, http.StatusOK, doJSON(t, handler, http.MethodPost, "/api/lifecycle/start", nil).Code)

	rec := doJSON(t, handler, http.MethodPost, "/api/workers", map[string]any{
		"kind": "liquidate", "pool": testPoolID, "amount": 1,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/workers", map[string]any{
		"kind": "deposit", "pool": "NOPE:PAIR", "tokenSide": "a", "amount": 1,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDrainEndpointRejectsRunningWorker(t *testing.T) {
	handler := newTestHandler(t)
	require.Equal(t, http.StatusOK, doJSON(t, handler, http.MethodPost, "/api/lifecycle/start", nil).Code)

	rec := doJSON(t, handler, http.MethodPost, "/api/workers", map[string]any{
		"kind": "deposit", "pool": testPoolID, "tokenSide": "a", "amount": 1_000, "autoStart": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id, _ := decodeResponse(t, rec)["id"].(string)

	rec = doJSON(t, handler, http.MethodPost, "/api/workers/"+id+"/drain", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusOK, doJSON(t, handler, http.MethodPost, "/api/workers/"+id+"/stop", nil).Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/workers/"+id+"/drain", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeResponse(t, rec)
	require.Contains(t, []any{"drained", "operation_failed", "nothing_to_drain"}, result["outcome"])
}

func TestPoolRegistrationNormalizes(t *testing.T) {
	handler := newTestHandler(t)
	require.Equal(t, http.StatusOK, doJSON(t, handler, http.MethodPost, "/api/lifecycle/start", nil).Code)

	rec := doJSON(t, handler, http.MethodPost, "/api/pools", map[string]any{
		"tokenA": "USDT", "tokenB": "GOLD",
		"ratioA": 3_000_000, "ratioB": 1_000_000_000,
		"decimalsA": 6, "decimalsB": 9,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	canonical := decodeResponse(t, rec)
	require.Equal(t, "GOLD", canonical["tokenA"])
	require.Equal(t, true, canonical["wasSwapped"])

	rec = doJSON(t, handler, http.MethodGet, "/api/pools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pools, _ := decodeResponse(t, rec)["pools"].([]any)
	require.Len(t, pools, 1)
}

func TestBudgetEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/budget?operation=process_consolidate_pool_fees&poolCount=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeResponse(t, rec)
	require.Equal(t, "process_consolidate_pool_fees", payload["operation"])
	require.EqualValues(t, 19_000, payload["units"])

	rec = doJSON(t, handler, http.MethodGet, "/api/budget", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthReflectsLifecycle(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "stopped", decodeResponse(t, rec)["state"])

	require.Equal(t, http.StatusOK, doJSON(t, handler, http.MethodPost, "/api/lifecycle/start", nil).Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeResponse(t, rec)
	require.Equal(t, true, payload["healthy"])
	require.Equal(t, string(lifecycle.StateStarted), payload["state"])

	require.Equal(t, http.StatusOK, doJSON(t, handler, http.MethodPost, "/api/lifecycle/pause", nil).Code)
	rec = doJSON(t, handler, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.Equal(t, http.StatusOK, doJSON(t, handler, http.MethodPost, "/api/lifecycle/resume", nil).Code)
	require.Equal(t, http.StatusOK, doJSON(t, handler, http.MethodGet, "/api/health", nil).Code)
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPut, "/api/workers", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "GET, POST", rec.Header().Get("Allow"))

	rec = doJSON(t, handler, http.MethodGet, "/api/lifecycle/start", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestOpenAPISpecServedInDev(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/docs/openapi.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"openapi"`)
}
