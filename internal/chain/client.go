// Package chain defines the client contract against the fixed-ratio trading
// program. Implementations live in subpackages (sim, rpc).
package chain

import "context"

// Wallet is a chain credential pair. Secret is the restorable seed material.
type Wallet struct {
	Address string
	Secret  string
}

// TokenSide selects one leg of a pool's token pair.
type TokenSide string

const (
	// SideA references the canonical Token A leg.
	SideA TokenSide = "a"
	// SideB references the canonical Token B leg.
	SideB TokenSide = "b"
)

// SwapDirection orients a swap across the pool pair.
type SwapDirection string

const (
	// DirectionAToB swaps Token A into Token B.
	DirectionAToB SwapDirection = "a_to_b"
	// DirectionBToA swaps Token B into Token A.
	DirectionBToA SwapDirection = "b_to_a"
)

// ExecResult reports the outcome of a confirmed trading operation.
type ExecResult struct {
	Amount    uint64
	Fee       uint64
	Signature string
}

// PoolState is the on-chain view of one fixed-ratio pool.
type PoolState struct {
	ID          string
	TokenA      string
	TokenB      string
	RatioA      uint64
	RatioB      uint64
	DecimalsA   uint8
	DecimalsB   uint8
	LPMint      string
	Paused      bool
	SwapsPaused bool
}

// Client is the transport-level collaborator the harness drives. All calls
// block until the operation is confirmed or fails.
type Client interface {
	GenerateWallet(ctx context.Context) (Wallet, error)
	RestoreWallet(ctx context.Context, secret string) (Wallet, error)

	NativeBalance(ctx context.Context, address string) (uint64, error)
	TokenBalance(ctx context.Context, address, mint string) (uint64, error)

	Deposit(ctx context.Context, w Wallet, poolID string, side TokenSide, amount uint64) (ExecResult, error)
	Withdraw(ctx context.Context, w Wallet, poolID string, lpAmount uint64) (ExecResult, error)
	Swap(ctx context.Context, w Wallet, poolID string, dir SwapDirection, amountIn, minAmountOut uint64) (ExecResult, error)

	MintTo(ctx context.Context, address, mint string, amount uint64) error
	TransferNative(ctx context.Context, from Wallet, to string, amount uint64) (ExecResult, error)
	Burn(ctx context.Context, w Wallet, mint string, amount uint64) (ExecResult, error)

	Pool(ctx context.Context, poolID string) (PoolState, error)
	PoolPaused(ctx context.Context, poolID string) (bool, error)
	SwapsPaused(ctx context.Context, poolID string) (bool, error)
	SystemPaused(ctx context.Context) (bool, error)

	SubmitTransaction(ctx context.Context, raw []byte) (string, error)
	ConfirmTransaction(ctx context.Context, signature string) error

	Health(ctx context.Context) error
	Close() error
}
