package rpc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/poolforge/stresslab/config"
	"github.com/poolforge/stresslab/internal/chain"
	"github.com/poolforge/stresslab/internal/classify"
)

// rpcStub is a scriptable JSON-RPC node.
type rpcStub struct {
	mu      sync.Mutex
	calls   []string
	handler map[string]func(params map[string]any) (any, *rpcError)
}

func newRPCStub() *rpcStub {
	return &rpcStub{handler: make(map[string]func(map[string]any) (any, *rpcError))}
}

func (s *rpcStub) on(method string, fn func(map[string]any) (any, *rpcError)) {
	s.handler[method] = fn
}

func (s *rpcStub) callCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, call := range s.calls {
		if call == method {
			count++
		}
	}
	return count
}

func (s *rpcStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		ID     uint64         `json:"id"`
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls = append(s.calls, req.Method)
	fn := s.handler[req.Method]
	s.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if fn == nil {
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	} else if result, rpcErr := fn(req.Params); rpcErr != nil {
		resp["error"] = map[string]any{"code": rpcErr.Code, "message": rpcErr.Message}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	payload, _ := json.Marshal(resp)
	_, _ = w.Write(payload)
}

func newTestClient(t *testing.T, stub *rpcStub) *Client {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	cfg := config.Default().Chain
	cfg.RPCEndpoint = srv.URL
	cfg.RequestsPerSecond = 1000
	client, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(config.ChainConfig{})
	require.Error(t, err)
}

func TestWalletAndBalanceCalls(t *testing.T) {
	stub := newRPCStub()
	stub.on("wallet_generate", func(map[string]any) (any, *rpcError) {
		return map[string]any{"address": "addr1", "secret": "seed1"}, nil
	})
	stub.on("native_balance", func(params map[string]any) (any, *rpcError) {
		if params["address"] != "addr1" {
			return nil, &rpcError{Code: -1, Message: "unknown address"}
		}
		return map[string]any{"amount": 123_456}, nil
	})
	client := newTestClient(t, stub)

	w, err := client.GenerateWallet(context.Background())
	require.NoError(t, err)
	require.Equal(t, "addr1", w.Address)
	require.Equal(t, "seed1", w.Secret)

	amount, err := client.NativeBalance(context.Background(), "addr1")
	require.NoError(t, err)
	require.EqualValues(t, 123_456, amount)
}

func TestOperationConfirmsByPolling(t *testing.T) {
	stub := newRPCStub()
	stub.on("deposit", func(params map[string]any) (any, *rpcError) {
		if params["computeUnits"] == nil {
			return nil, &rpcError{Code: -1, Message: "missing compute budget"}
		}
		return map[string]any{"signature": "sig-d1", "amount": 500, "fee": 5000}, nil
	})
	polls := 0
	stub.on("signature_status", func(params map[string]any) (any, *rpcError) {
		polls++
		return map[string]any{"confirmed": polls >= 2}, nil
	})
	client := newTestClient(t, stub)

	result, err := client.Deposit(context.Background(), chain.Wallet{Address: "a", Secret: "s"}, "COIN:USDT", chain.SideA, 500)
	require.NoError(t, err)
	require.Equal(t, "sig-d1", result.Signature)
	require.EqualValues(t, 500, result.Amount)
	require.GreaterOrEqual(t, stub.callCount("signature_status"), 2)
}

func TestContractErrorTextSurvivesClassification(t *testing.T) {
	stub := newRPCStub()
	stub.on("swap", func(map[string]any) (any, *rpcError) {
		return nil, &rpcError{Code: -32002, Message: "transaction failed: custom program error: Custom(1006)"}
	})
	client := newTestClient(t, stub)

	_, err := client.Swap(context.Background(), chain.Wallet{}, "COIN:USDT", chain.DirectionAToB, 100, 90)
	require.Error(t, err)

	cls := classify.Classify(err)
	require.Equal(t, classify.KindSlippageExceeded, cls.Kind)
	require.Equal(t, 1006, cls.Code)
}

func TestFailedSignatureReportsContractError(t *testing.T) {
	stub := newRPCStub()
	stub.on("withdraw", func(map[string]any) (any, *rpcError) {
		return map[string]any{"signature": "sig-w1"}, nil
	})
	stub.on("signature_status", func(map[string]any) (any, *rpcError) {
		return map[string]any{"confirmed": false, "error": "0x3ea (1002)"}, nil
	})
	client := newTestClient(t, stub)

	_, err := client.Withdraw(context.Background(), chain.Wallet{}, "COIN:USDT", 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1002")
}

func TestPoolStateAndPauseFlags(t *testing.T) {
	stub := newRPCStub()
	stub.on("pool_state", func(params map[string]any) (any, *rpcError) {
		return map[string]any{
			"id": "COIN:USDT", "tokenA": "COIN", "tokenB": "USDT",
			"ratioA": 1_000_000_000, "ratioB": 3_000_000,
			"decimalsA": 9, "decimalsB": 6,
			"lpMint": "lp-COIN:USDT", "paused": true,
		}, nil
	})
	stub.on("system_state", func(map[string]any) (any, *rpcError) {
		return map[string]any{"paused": false}, nil
	})
	client := newTestClient(t, stub)

	state, err := client.Pool(context.Background(), "COIN:USDT")
	require.NoError(t, err)
	require.Equal(t, "lp-COIN:USDT", state.LPMint)
	require.True(t, state.Paused)

	paused, err := client.PoolPaused(context.Background(), "COIN:USDT")
	require.NoError(t, err)
	require.True(t, paused)

	systemPaused, err := client.SystemPaused(context.Background())
	require.NoError(t, err)
	require.False(t, systemPaused)
}

func TestHealthMapsHTTPFailure(t *testing.T) {
	stub := newRPCStub()
	stub.on("get_health", func(map[string]any) (any, *rpcError) {
		return map[string]any{"status": "ok"}, nil
	})
	client := newTestClient(t, stub)
	require.NoError(t, client.Health(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	cfg := config.Default().Chain
	cfg.RPCEndpoint = down.URL
	unhealthy, err := New(cfg)
	require.NoError(t, err)
	require.Error(t, unhealthy.Health(context.Background()))
}

func TestWebsocketConfirmation(t *testing.T) {
	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var req wsSubscribeRequest
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			note := map[string]any{
				"jsonrpc": "2.0",
				"method":  "signature_notification",
				"params":  map[string]any{"signature": req.Params.Signature},
			}
			payload, _ := json.Marshal(note)
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}))
	defer wsSrv.Close()

	stub := newRPCStub()
	stub.on("deposit", func(map[string]any) (any, *rpcError) {
		return map[string]any{"signature": "sig-ws1", "amount": 100, "fee": 5000}, nil
	})
	srv := httptest.NewServer(stub)
	defer srv.Close()

	cfg := config.Default().Chain
	cfg.RPCEndpoint = srv.URL
	cfg.WSEndpoint = "ws" + strings.TrimPrefix(wsSrv.URL, "http")
	cfg.RequestsPerSecond = 1000
	client, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := client.Deposit(ctx, chain.Wallet{Address: "a"}, "COIN:USDT", chain.SideA, 100)
	require.NoError(t, err)
	require.Equal(t, "sig-ws1", result.Signature)
	require.Zero(t, stub.callCount("signature_status"))
}
