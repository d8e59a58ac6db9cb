// Package classify turns raw chain-client failures into typed error kinds and
// drives the per-kind recovery policies for worker loops.
package classify

import (
	"regexp"
	"strconv"

	"github.com/poolforge/stresslab/internal/chain"
)

// Kind is the typed category of a contract failure.
type Kind string

const (
	KindUnknown               Kind = "unknown"
	KindInvalidTokenAccount   Kind = "invalid_token_account"
	KindInsufficientFunds     Kind = "insufficient_funds"
	KindPoolPaused            Kind = "pool_paused"
	KindSystemPaused          Kind = "system_paused"
	KindInsufficientLiquidity Kind = "insufficient_liquidity"
	KindSlippageExceeded      Kind = "slippage_exceeded"
	KindInvalidLpTokenType    Kind = "invalid_lp_token_type"
	KindPoolSwapsPaused       Kind = "pool_swaps_paused"
)

// Classification is the parsed view of one raw failure.
type Classification struct {
	Kind    Kind
	Code    int
	HasCode bool
}

var (
	// "InstructionError(0, Custom(1003))"
	customPattern = regexp.MustCompile(`Custom\((\d+)\)`)
	// "custom program error: 0x3eb (1003)"
	hexPattern = regexp.MustCompile(`0x[0-9a-fA-F]+ \((\d+)\)`)
)

var codeKinds = map[int]Kind{
	chain.CodeInvalidTokenAccount:   KindInvalidTokenAccount,
	chain.CodeInsufficientFunds:     KindInsufficientFunds,
	chain.CodePoolPaused:            KindPoolPaused,
	chain.CodeSystemPaused:          KindSystemPaused,
	chain.CodeInsufficientLiquidity: KindInsufficientLiquidity,
	chain.CodeSlippageExceeded:      KindSlippageExceeded,
	chain.CodeInvalidLpTokenType:    KindInvalidLpTokenType,
	chain.CodePoolSwapsPaused:       KindPoolSwapsPaused,
}

// Classify parses the numeric contract code out of a raw failure and maps it
// to a Kind. Unparseable failures classify as Unknown with no code.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown}
	}
	return ClassifyText(err.Error())
}

// ClassifyText is Classify over an already-extracted message.
func ClassifyText(msg string) Classification {
	code, ok := parseCode(msg)
	if !ok {
		return Classification{Kind: KindUnknown}
	}
	kind, known := codeKinds[code]
	if !known {
		kind = KindUnknown
	}
	return Classification{Kind: kind, Code: code, HasCode: true}
}

func parseCode(msg string) (int, bool) {
	if m := customPattern.FindStringSubmatch(msg); m != nil {
		if code, err := strconv.Atoi(m[1]); err == nil {
			return code, true
		}
	}
	if m := hexPattern.FindStringSubmatch(msg); m != nil {
		if code, err := strconv.Atoi(m[1]); err == nil {
			return code, true
		}
	}
	return 0, false
}
