// Package ratio canonicalizes fixed-ratio pool configurations. Every pool is
// identified by the lexicographically ordered token pair with the exchange
// ratio anchored so that exactly one side equals one whole token.
package ratio

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/poolforge/stresslab/errs"
	"github.com/poolforge/stresslab/internal/observability"
)

// PoolRatioConfig is the canonical representation of a pool's token pair and
// exchange ratio. Immutable once computed.
type PoolRatioConfig struct {
	TokenA     string `json:"tokenA"`
	TokenB     string `json:"tokenB"`
	RatioA     uint64 `json:"ratioA"`
	RatioB     uint64 `json:"ratioB"`
	PoolID     string `json:"poolId"`
	WasSwapped bool   `json:"wasSwapped"`
}

// Rate returns the exchange rate expressed as Token B units per Token A unit.
func (c PoolRatioConfig) Rate() decimal.Decimal {
	if c.RatioA == 0 {
		return decimal.Zero
	}
	return decimal.NewFromUint64(c.RatioB).Div(decimal.NewFromUint64(c.RatioA))
}

var (
	extremeHigh = decimal.NewFromInt(1_000_000)
	extremeLow  = decimal.New(1, -6)
)

// Normalize produces the canonical config for an unordered token pair: the
// lexicographically smaller mint becomes Token A and the ratio legs travel
// with their tokens, so the implied exchange rate is preserved.
func Normalize(mintA, mintB string, ratioA, ratioB uint64) (PoolRatioConfig, error) {
	mintA = strings.TrimSpace(mintA)
	mintB = strings.TrimSpace(mintB)
	if mintA == "" || mintB == "" {
		return PoolRatioConfig{}, errs.New("ratio", errs.CodeInvalid, errs.WithMessage("both mints required"))
	}
	if mintA == mintB {
		return PoolRatioConfig{}, errs.New("ratio", errs.CodeInvalid, errs.WithMessage("mints must differ"))
	}
	if ratioA == 0 || ratioB == 0 {
		return PoolRatioConfig{}, errs.New("ratio", errs.CodeInvalid, errs.WithMessage("ratio legs must be > 0"))
	}

	cfg := PoolRatioConfig{
		TokenA:     mintA,
		TokenB:     mintB,
		RatioA:     ratioA,
		RatioB:     ratioB,
		WasSwapped: false,
	}
	if mintA > mintB {
		cfg.TokenA, cfg.TokenB = mintB, mintA
		cfg.RatioA, cfg.RatioB = ratioB, ratioA
		cfg.WasSwapped = true
	}
	cfg.PoolID = PoolID(cfg.TokenA, cfg.TokenB)
	return cfg, nil
}

// PoolID derives the canonical pool identity for an ordered token pair.
func PoolID(tokenA, tokenB string) string {
	return fmt.Sprintf("%s:%s", tokenA, tokenB)
}

// Validate enforces the anchor-to-one invariant: exactly one ratio leg must
// equal 10^decimals of its token. Extreme implied rates are reported via the
// returned warning rather than rejected.
func Validate(cfg PoolRatioConfig, decimalsA, decimalsB uint8) error {
	unitA := pow10(decimalsA)
	unitB := pow10(decimalsB)

	anchoredA := cfg.RatioA == unitA
	anchoredB := cfg.RatioB == unitB
	if anchoredA == anchoredB {
		return errs.New("ratio", errs.CodeInvalid, errs.WithMessage(fmt.Sprintf(
			"exactly one ratio leg must anchor to one whole token: ratioA=%d (unit %d), ratioB=%d (unit %d)",
			cfg.RatioA, unitA, cfg.RatioB, unitB)))
	}

	rate := cfg.Rate()
	if rate.GreaterThan(extremeHigh) || rate.LessThan(extremeLow) {
		observability.Log().Warn("pool rate outside expected range",
			observability.F("pool", cfg.PoolID),
			observability.F("rate", rate.String()),
		)
	}
	return nil
}

func pow10(exp uint8) uint64 {
	// Token decimals never exceed 18 on the chains this harness targets.
	if exp > 19 {
		exp = 19
	}
	return uint64(math.Pow10(int(exp)))
}
