// Package rpc implements the chain client against a JSON-RPC node fronting
// the fixed-ratio trading program. The node accepts prepared operations, so
// no transaction construction or signing happens on this side.
package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/poolforge/stresslab/config"
	"github.com/poolforge/stresslab/errs"
	"github.com/poolforge/stresslab/internal/budget"
	"github.com/poolforge/stresslab/internal/chain"
)

const (
	defaultRequestTimeout = 15 * time.Second
	confirmPollInterval   = 500 * time.Millisecond
)

// Client talks JSON-RPC to the chain node. All trading operations block
// until the node confirms the transaction at the configured commitment.
type Client struct {
	cfg       config.ChainConfig
	http      *http.Client
	limiter   *rate.Limiter
	reqID     atomic.Uint64
	confirmer *confirmer
}

var _ chain.Client = (*Client)(nil)

// New builds a client from the chain configuration. A websocket endpoint
// enables push-based signature confirmation; without one the client polls.
func New(cfg config.ChainConfig) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.RPCEndpoint)
	if endpoint == "" {
		return nil, errs.New("chain/rpc", errs.CodeInvalid, errs.WithMessage("rpc endpoint required"))
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
	if ws := strings.TrimSpace(cfg.WSEndpoint); ws != "" {
		c.confirmer = newConfirmer(ws, cfg.Commitment)
	}
	return c, nil
}

type rpcRequest struct {
	Version string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
	ID     uint64          `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error keeps the node's message verbatim so the contract error text
// (Custom(N) or the hex form) survives for classification.
func (e *rpcError) Error() string {
	return e.Message
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(rpcRequest{
		Version: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.New("chain/rpc", errs.CodeUnavailable,
			errs.WithMessage(fmt.Sprintf("%s: %v", method, err)), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return errs.New("chain/rpc", errs.CodeUnavailable,
			errs.WithMessage(fmt.Sprintf("%s: http %d", method, resp.StatusCode)))
	}

	var envelope rpcResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

type walletResult struct {
	Address string `json:"address"`
	Secret  string `json:"secret"`
}

func (c *Client) GenerateWallet(ctx context.Context) (chain.Wallet, error) {
	var result walletResult
	if err := c.call(ctx, "wallet_generate", nil, &result); err != nil {
		return chain.Wallet{}, err
	}
	return chain.Wallet{Address: result.Address, Secret: result.Secret}, nil
}

func (c *Client) RestoreWallet(ctx context.Context, secret string) (chain.Wallet, error) {
	var result walletResult
	params := map[string]any{"secret": secret}
	if err := c.call(ctx, "wallet_restore", params, &result); err != nil {
		return chain.Wallet{}, err
	}
	return chain.Wallet{Address: result.Address, Secret: result.Secret}, nil
}

type balanceResult struct {
	Amount uint64 `json:"amount"`
}

func (c *Client) NativeBalance(ctx context.Context, address string) (uint64, error) {
	var result balanceResult
	params := map[string]any{"address": address, "commitment": c.cfg.Commitment}
	if err := c.call(ctx, "native_balance", params, &result); err != nil {
		return 0, err
	}
	return result.Amount, nil
}

func (c *Client) TokenBalance(ctx context.Context, address, mint string) (uint64, error) {
	var result balanceResult
	params := map[string]any{"address": address, "mint": mint, "commitment": c.cfg.Commitment}
	if err := c.call(ctx, "token_balance", params, &result); err != nil {
		return 0, err
	}
	return result.Amount, nil
}

type execResult struct {
	Signature string `json:"signature"`
	Amount    uint64 `json:"amount"`
	Fee       uint64 `json:"fee"`
}

// operation submits a trading operation and blocks until confirmed. The
// compute-unit budget for the operation rides along with the request.
func (c *Client) operation(ctx context.Context, method string, params map[string]any) (chain.ExecResult, error) {
	params["commitment"] = c.cfg.Commitment
	params["computeUnits"] = budget.GetBudget(method, budget.Context{})

	var result execResult
	if err := c.call(ctx, method, params, &result); err != nil {
		return chain.ExecResult{}, err
	}
	if err := c.ConfirmTransaction(ctx, result.Signature); err != nil {
		return chain.ExecResult{}, err
	}
	return chain.ExecResult{Amount: result.Amount, Fee: result.Fee, Signature: result.Signature}, nil
}

func (c *Client) Deposit(ctx context.Context, w chain.Wallet, poolID string, side chain.TokenSide, amount uint64) (chain.ExecResult, error) {
	return c.operation(ctx, "deposit", map[string]any{
		"wallet": w.Address,
		"secret": w.Secret,
		"pool":   poolID,
		"side":   string(side),
		"amount": amount,
	})
}

func (c *Client) Withdraw(ctx context.Context, w chain.Wallet, poolID string, lpAmount uint64) (chain.ExecResult, error) {
	return c.operation(ctx, "withdraw", map[string]any{
		"wallet":   w.Address,
		"secret":   w.Secret,
		"pool":     poolID,
		"lpAmount": lpAmount,
	})
}

func (c *Client) Swap(ctx context.Context, w chain.Wallet, poolID string, dir chain.SwapDirection, amountIn, minAmountOut uint64) (chain.ExecResult, error) {
	return c.operation(ctx, "swap", map[string]any{
		"wallet":       w.Address,
		"secret":       w.Secret,
		"pool":         poolID,
		"direction":    string(dir),
		"amountIn":     amountIn,
		"minAmountOut": minAmountOut,
	})
}

func (c *Client) MintTo(ctx context.Context, address, mint string, amount uint64) error {
	_, err := c.operation(ctx, "mint_test_tokens", map[string]any{
		"address": address,
		"mint":    mint,
		"amount":  amount,
	})
	return err
}

func (c *Client) TransferNative(ctx context.Context, from chain.Wallet, to string, amount uint64) (chain.ExecResult, error) {
	return c.operation(ctx, "transfer_native", map[string]any{
		"wallet": from.Address,
		"secret": from.Secret,
		"to":     to,
		"amount": amount,
	})
}

func (c *Client) Burn(ctx context.Context, w chain.Wallet, mint string, amount uint64) (chain.ExecResult, error) {
	return c.operation(ctx, "burn_tokens", map[string]any{
		"wallet": w.Address,
		"secret": w.Secret,
		"mint":   mint,
		"amount": amount,
	})
}

type poolResult struct {
	ID          string `json:"id"`
	TokenA      string `json:"tokenA"`
	TokenB      string `json:"tokenB"`
	RatioA      uint64 `json:"ratioA"`
	RatioB      uint64 `json:"ratioB"`
	DecimalsA   uint8  `json:"decimalsA"`
	DecimalsB   uint8  `json:"decimalsB"`
	LPMint      string `json:"lpMint"`
	Paused      bool   `json:"paused"`
	SwapsPaused bool   `json:"swapsPaused"`
}

func (c *Client) Pool(ctx context.Context, poolID string) (chain.PoolState, error) {
	var result poolResult
	params := map[string]any{"pool": poolID, "commitment": c.cfg.Commitment}
	if err := c.call(ctx, "pool_state", params, &result); err != nil {
		return chain.PoolState{}, err
	}
	return chain.PoolState{
		ID:          result.ID,
		TokenA:      result.TokenA,
		TokenB:      result.TokenB,
		RatioA:      result.RatioA,
		RatioB:      result.RatioB,
		DecimalsA:   result.DecimalsA,
		DecimalsB:   result.DecimalsB,
		LPMint:      result.LPMint,
		Paused:      result.Paused,
		SwapsPaused: result.SwapsPaused,
	}, nil
}

func (c *Client) PoolPaused(ctx context.Context, poolID string) (bool, error) {
	state, err := c.Pool(ctx, poolID)
	if err != nil {
		return false, err
	}
	return state.Paused, nil
}

func (c *Client) SwapsPaused(ctx context.Context, poolID string) (bool, error) {
	state, err := c.Pool(ctx, poolID)
	if err != nil {
		return false, err
	}
	return state.SwapsPaused, nil
}

type systemResult struct {
	Paused bool `json:"paused"`
}

func (c *Client) SystemPaused(ctx context.Context) (bool, error) {
	var result systemResult
	if err := c.call(ctx, "system_state", nil, &result); err != nil {
		return false, err
	}
	return result.Paused, nil
}

type submitResult struct {
	Signature string `json:"signature"`
}

func (c *Client) SubmitTransaction(ctx context.Context, raw []byte) (string, error) {
	var result submitResult
	params := map[string]any{
		"transaction":  raw,
		"commitment":   c.cfg.Commitment,
		"computeUnits": budget.GetBudget("transfer_tokens", budget.Context{}),
	}
	if err := c.call(ctx, "submit_transaction", params, &result); err != nil {
		return "", err
	}
	return result.Signature, nil
}

type signatureStatus struct {
	Confirmed bool   `json:"confirmed"`
	Error     string `json:"error,omitempty"`
}

// ConfirmTransaction blocks until the signature reaches the configured
// commitment. With a websocket endpoint the node pushes the confirmation;
// otherwise the client polls signature_status.
func (c *Client) ConfirmTransaction(ctx context.Context, signature string) error {
	if strings.TrimSpace(signature) == "" {
		return errs.New("chain/rpc", errs.CodeInvalid, errs.WithMessage("signature required"))
	}
	if c.confirmer != nil {
		return c.confirmer.await(ctx, signature)
	}
	return c.pollSignature(ctx, signature)
}

func (c *Client) pollSignature(ctx context.Context, signature string) error {
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()
	for {
		var status signatureStatus
		params := map[string]any{"signature": signature, "commitment": c.cfg.Commitment}
		if err := c.call(ctx, "signature_status", params, &status); err != nil {
			return err
		}
		if status.Error != "" {
			return &rpcError{Message: status.Error}
		}
		if status.Confirmed {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirm %s: %w", signature, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, "get_health", nil, nil)
}

// Close releases the websocket confirmation channel, if any.
func (c *Client) Close() error {
	if c.confirmer != nil {
		c.confirmer.close()
	}
	return nil
}
