// Package sim provides an in-memory chain.Client used for local runs and
// tests. It models wallets, token ledgers, fixed-ratio pools, pause flags,
// and contract failures with the same free-text error surface as the real
// program.
package sim

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poolforge/stresslab/internal/chain"
)

const defaultFee = 5000

// Chain is a process-local simulation of the trading program.
type Chain struct {
	mu      sync.Mutex
	native  map[string]uint64
	tokens  map[string]map[string]uint64
	pools   map[string]*poolState
	wallets map[string]string

	systemPaused bool

	latency     time.Duration
	failureRate float64
	fee         uint64
	seed        int64
	rng         *rand.Rand
	faultCycle  int
	signatures  uint64
}

type poolState struct {
	cfg      chain.PoolState
	reserveA uint64
	reserveB uint64
	lpSupply uint64
}

// New constructs an empty simulated chain.
func New(opts ...Option) *Chain {
	c := &Chain{
		native:  make(map[string]uint64),
		tokens:  make(map[string]map[string]uint64),
		pools:   make(map[string]*poolState),
		wallets: make(map[string]string),
		fee:     defaultFee,
		seed:    time.Now().UnixNano(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.rng = rand.New(rand.NewSource(c.seed))
	return c
}

// contractErr renders a failure the way the node reports program errors. Both
// textual forms occur in the wild, so the simulation alternates between them.
func (c *Chain) contractErr(code int) error {
	c.faultCycle++
	if c.faultCycle%2 == 0 {
		return fmt.Errorf("transaction simulation failed: custom program error: %#x (%d)", code, code)
	}
	return fmt.Errorf("transaction failed: InstructionError(0, Custom(%d))", code)
}

func (c *Chain) wait(ctx context.Context) error {
	if c.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func deriveAddress(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return "sim" + hex.EncodeToString(sum[:20])
}

// GenerateWallet mints a fresh credential pair with an empty balance.
func (c *Chain) GenerateWallet(ctx context.Context) (chain.Wallet, error) {
	if err := c.wait(ctx); err != nil {
		return chain.Wallet{}, err
	}
	secret := uuid.NewString() + uuid.NewString()
	w := chain.Wallet{Address: deriveAddress(secret), Secret: secret}
	c.mu.Lock()
	c.wallets[w.Address] = secret
	c.mu.Unlock()
	return w, nil
}

// RestoreWallet re-derives a wallet from its secret.
func (c *Chain) RestoreWallet(ctx context.Context, secret string) (chain.Wallet, error) {
	if err := c.wait(ctx); err != nil {
		return chain.Wallet{}, err
	}
	if secret == "" {
		return chain.Wallet{}, fmt.Errorf("restore wallet: empty secret")
	}
	w := chain.Wallet{Address: deriveAddress(secret), Secret: secret}
	c.mu.Lock()
	c.wallets[w.Address] = secret
	c.mu.Unlock()
	return w, nil
}

// NativeBalance returns the native-currency balance for an address.
func (c *Chain) NativeBalance(ctx context.Context, address string) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.native[address], nil
}

// TokenBalance returns the balance of mint held by address.
func (c *Chain) TokenBalance(ctx context.Context, address, mint string) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[address][mint], nil
}

// CreatePool registers a pool and seeds its reserves. Not part of the
// chain.Client surface; callers hold the concrete *Chain during setup.
func (c *Chain) CreatePool(cfg chain.PoolState, reserveA, reserveB uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.LPMint == "" {
		cfg.LPMint = "lp-" + cfg.ID
	}
	c.pools[cfg.ID] = &poolState{cfg: cfg, reserveA: reserveA, reserveB: reserveB}
}

// SetSystemPaused toggles the global pause flag.
func (c *Chain) SetSystemPaused(paused bool) {
	c.mu.Lock()
	c.systemPaused = paused
	c.mu.Unlock()
}

// SetPoolPaused toggles a pool's pause flag.
func (c *Chain) SetPoolPaused(poolID string, paused bool) {
	c.mu.Lock()
	if p, ok := c.pools[poolID]; ok {
		p.cfg.Paused = paused
	}
	c.mu.Unlock()
}

// SetSwapsPaused toggles a pool's swap pause flag.
func (c *Chain) SetSwapsPaused(poolID string, paused bool) {
	c.mu.Lock()
	if p, ok := c.pools[poolID]; ok {
		p.cfg.SwapsPaused = paused
	}
	c.mu.Unlock()
}

func (c *Chain) creditLocked(address, mint string, amount uint64) {
	if c.tokens[address] == nil {
		c.tokens[address] = make(map[string]uint64)
	}
	c.tokens[address][mint] += amount
}

func (c *Chain) debitLocked(address, mint string, amount uint64) bool {
	held := c.tokens[address][mint]
	if held < amount {
		return false
	}
	c.tokens[address][mint] = held - amount
	return true
}

func (c *Chain) chargeFeeLocked(address string) uint64 {
	bal := c.native[address]
	fee := c.fee
	if bal < fee {
		fee = bal
	}
	c.native[address] = bal - fee
	return fee
}

func (c *Chain) nextSignatureLocked() string {
	c.signatures++
	return fmt.Sprintf("simsig-%012d", c.signatures)
}

// guardLocked enforces pause flags and random fault injection for a trading
// operation against poolID. Caller holds the mutex.
func (c *Chain) guardLocked(p *poolState, forSwap bool) error {
	if c.systemPaused {
		return c.contractErr(chain.CodeSystemPaused)
	}
	if p.cfg.Paused {
		return c.contractErr(chain.CodePoolPaused)
	}
	if forSwap && p.cfg.SwapsPaused {
		return c.contractErr(chain.CodePoolSwapsPaused)
	}
	if c.failureRate > 0 && c.rng.Float64() < c.failureRate {
		injectable := []int{
			chain.CodeInsufficientLiquidity,
			chain.CodeSlippageExceeded,
			chain.CodeInsufficientFunds,
		}
		return c.contractErr(injectable[c.rng.Intn(len(injectable))])
	}
	return nil
}

// Deposit moves amount of one pool leg from the wallet into the pool and
// mints LP tokens denominated in Token A units.
func (c *Chain) Deposit(ctx context.Context, w chain.Wallet, poolID string, side chain.TokenSide, amount uint64) (chain.ExecResult, error) {
	if err := c.wait(ctx); err != nil {
		return chain.ExecResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pools[poolID]
	if !ok {
		return chain.ExecResult{}, fmt.Errorf("deposit: unknown pool %s", poolID)
	}
	if err := c.guardLocked(p, false); err != nil {
		return chain.ExecResult{}, err
	}
	if amount == 0 {
		return chain.ExecResult{}, c.contractErr(chain.CodeInvalidTokenAccount)
	}

	mint := p.cfg.TokenA
	lp := amount
	if side == chain.SideB {
		mint = p.cfg.TokenB
		// LP receipts are denominated in Token A units.
		lp = amount * p.cfg.RatioA / p.cfg.RatioB
	}
	if !c.debitLocked(w.Address, mint, amount) {
		return chain.ExecResult{}, c.contractErr(chain.CodeInsufficientFunds)
	}
	if side == chain.SideA {
		p.reserveA += amount
	} else {
		p.reserveB += amount
	}
	p.lpSupply += lp
	c.creditLocked(w.Address, p.cfg.LPMint, lp)
	fee := c.chargeFeeLocked(w.Address)
	return chain.ExecResult{Amount: lp, Fee: fee, Signature: c.nextSignatureLocked()}, nil
}

// Withdraw redeems LP tokens for Token A out of the pool reserve.
func (c *Chain) Withdraw(ctx context.Context, w chain.Wallet, poolID string, lpAmount uint64) (chain.ExecResult, error) {
	if err := c.wait(ctx); err != nil {
		return chain.ExecResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pools[poolID]
	if !ok {
		return chain.ExecResult{}, fmt.Errorf("withdraw: unknown pool %s", poolID)
	}
	if err := c.guardLocked(p, false); err != nil {
		return chain.ExecResult{}, err
	}
	if lpAmount == 0 {
		return chain.ExecResult{}, c.contractErr(chain.CodeInvalidLpTokenType)
	}
	if p.reserveA < lpAmount {
		return chain.ExecResult{}, c.contractErr(chain.CodeInsufficientLiquidity)
	}
	if !c.debitLocked(w.Address, p.cfg.LPMint, lpAmount) {
		return chain.ExecResult{}, c.contractErr(chain.CodeInsufficientFunds)
	}
	p.reserveA -= lpAmount
	p.lpSupply -= lpAmount
	c.creditLocked(w.Address, p.cfg.TokenA, lpAmount)
	fee := c.chargeFeeLocked(w.Address)
	return chain.ExecResult{Amount: lpAmount, Fee: fee, Signature: c.nextSignatureLocked()}, nil
}

// Swap exchanges across the fixed ratio, honouring the caller's minimum-out
// bound.
func (c *Chain) Swap(ctx context.Context, w chain.Wallet, poolID string, dir chain.SwapDirection, amountIn, minAmountOut uint64) (chain.ExecResult, error) {
	if err := c.wait(ctx); err != nil {
		return chain.ExecResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pools[poolID]
	if !ok {
		return chain.ExecResult{}, fmt.Errorf("swap: unknown pool %s", poolID)
	}
	if err := c.guardLocked(p, true); err != nil {
		return chain.ExecResult{}, err
	}
	if amountIn == 0 {
		return chain.ExecResult{}, c.contractErr(chain.CodeInvalidTokenAccount)
	}

	var inMint, outMint string
	var out uint64
	if dir == chain.DirectionAToB {
		inMint, outMint = p.cfg.TokenA, p.cfg.TokenB
		out = amountIn * p.cfg.RatioB / p.cfg.RatioA
		if p.reserveB < out {
			return chain.ExecResult{}, c.contractErr(chain.CodeInsufficientLiquidity)
		}
	} else {
		inMint, outMint = p.cfg.TokenB, p.cfg.TokenA
		out = amountIn * p.cfg.RatioA / p.cfg.RatioB
		if p.reserveA < out {
			return chain.ExecResult{}, c.contractErr(chain.CodeInsufficientLiquidity)
		}
	}
	if minAmountOut > 0 && out < minAmountOut {
		return chain.ExecResult{}, c.contractErr(chain.CodeSlippageExceeded)
	}
	if !c.debitLocked(w.Address, inMint, amountIn) {
		return chain.ExecResult{}, c.contractErr(chain.CodeInsufficientFunds)
	}
	if dir == chain.DirectionAToB {
		p.reserveA += amountIn
		p.reserveB -= out
	} else {
		p.reserveB += amountIn
		p.reserveA -= out
	}
	c.creditLocked(w.Address, outMint, out)
	fee := c.chargeFeeLocked(w.Address)
	return chain.ExecResult{Amount: out, Fee: fee, Signature: c.nextSignatureLocked()}, nil
}

// MintTo credits test tokens (or native currency when mint is empty).
func (c *Chain) MintTo(ctx context.Context, address, mint string, amount uint64) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if mint == "" {
		c.native[address] += amount
		return nil
	}
	c.creditLocked(address, mint, amount)
	return nil
}

// TransferNative moves native currency between wallets.
func (c *Chain) TransferNative(ctx context.Context, from chain.Wallet, to string, amount uint64) (chain.ExecResult, error) {
	if err := c.wait(ctx); err != nil {
		return chain.ExecResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.native[from.Address] < amount {
		return chain.ExecResult{}, c.contractErr(chain.CodeInsufficientFunds)
	}
	c.native[from.Address] -= amount
	c.native[to] += amount
	fee := c.chargeFeeLocked(from.Address)
	return chain.ExecResult{Amount: amount, Fee: fee, Signature: c.nextSignatureLocked()}, nil
}

// Burn destroys amount of mint held by the wallet.
func (c *Chain) Burn(ctx context.Context, w chain.Wallet, mint string, amount uint64) (chain.ExecResult, error) {
	if err := c.wait(ctx); err != nil {
		return chain.ExecResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.debitLocked(w.Address, mint, amount) {
		return chain.ExecResult{}, c.contractErr(chain.CodeInsufficientFunds)
	}
	fee := c.chargeFeeLocked(w.Address)
	return chain.ExecResult{Amount: amount, Fee: fee, Signature: c.nextSignatureLocked()}, nil
}

// Pool returns a copy of the pool's on-chain state.
func (c *Chain) Pool(ctx context.Context, poolID string) (chain.PoolState, error) {
	if err := c.wait(ctx); err != nil {
		return chain.PoolState{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[poolID]
	if !ok {
		return chain.PoolState{}, fmt.Errorf("pool: unknown pool %s", poolID)
	}
	return p.cfg, nil
}

// PoolPaused reports the pool pause flag.
func (c *Chain) PoolPaused(ctx context.Context, poolID string) (bool, error) {
	state, err := c.Pool(ctx, poolID)
	if err != nil {
		return false, err
	}
	return state.Paused, nil
}

// SwapsPaused reports the pool swap pause flag.
func (c *Chain) SwapsPaused(ctx context.Context, poolID string) (bool, error) {
	state, err := c.Pool(ctx, poolID)
	if err != nil {
		return false, err
	}
	return state.SwapsPaused, nil
}

// SystemPaused reports the global pause flag.
func (c *Chain) SystemPaused(ctx context.Context) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemPaused, nil
}

// SubmitTransaction accepts a prepared transaction and assigns a signature.
func (c *Chain) SubmitTransaction(ctx context.Context, raw []byte) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("submit: empty transaction")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSignatureLocked(), nil
}

// ConfirmTransaction resolves immediately in the simulation.
func (c *Chain) ConfirmTransaction(ctx context.Context, signature string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if signature == "" {
		return fmt.Errorf("confirm: empty signature")
	}
	return nil
}

// Health always succeeds for an in-process chain.
func (c *Chain) Health(ctx context.Context) error {
	return ctx.Err()
}

// Close releases nothing; present to satisfy chain.Client.
func (c *Chain) Close() error { return nil }

var _ chain.Client = (*Chain)(nil)
