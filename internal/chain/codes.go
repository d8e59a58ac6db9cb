package chain

// Numeric error codes emitted by the trading program. The chain surfaces them
// inside free-text failure messages as either "Custom(N)" or "0x... (N)".
const (
	CodeInvalidTokenAccount   = 1001
	CodeInsufficientFunds     = 1002
	CodePoolPaused            = 1003
	CodeSystemPaused          = 1004
	CodeInsufficientLiquidity = 1005
	CodeSlippageExceeded      = 1006
	CodeInvalidLpTokenType    = 1007
	CodePoolSwapsPaused       = 1008
)
