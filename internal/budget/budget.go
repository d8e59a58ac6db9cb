// Package budget computes per-operation compute-unit allowances requested
// alongside transactions.
package budget

import (
	"strings"

	"github.com/poolforge/stresslab/internal/observability"
)

// Context carries the dynamic inputs some operations price against.
type Context struct {
	// PoolCount sizes consolidation sweeps.
	PoolCount int
	// DonationAmount is in native base units.
	DonationAmount uint64
}

const (
	// DefaultUnits is returned for unrecognised operations; the budgeter
	// never fails closed.
	DefaultUnits = 150_000

	consolidateBase    = 4_000
	consolidatePerPool = 5_000
	consolidateCap     = 150_000

	donationSmall     = 25_000
	donationLarge     = 120_000
	donationThreshold = 1_000 // whole coins
	// nativeDecimals scales base units to whole-coin equivalents.
	nativeDecimals = 1_000_000_000
)

var static = map[string]uint64{
	"initialize_pool":      90_000,
	"create_token_account": 28_000,
	"deposit":              65_000,
	"withdraw":             70_000,
	"swap":                 85_000,
	"pause_pool":           12_000,
	"unpause_pool":         12_000,
	"pause_system":         10_000,
	"unpause_system":       10_000,
	"update_pool_fees":     18_000,
	"mint_test_tokens":     30_000,
	"burn_tokens":          22_000,
	"transfer_tokens":      15_000,
	"transfer_native":      15_000,
}

// GetBudget resolves the compute-unit count for the named operation. The
// context is consulted only for dynamically priced operations.
func GetBudget(operation string, bctx Context) uint64 {
	name := strings.ToLower(strings.TrimSpace(operation))

	switch name {
	case "process_consolidate_pool_fees":
		return consolidationUnits(bctx.PoolCount)
	case "donate_to_pool":
		return donationUnits(bctx.DonationAmount)
	}

	if units, ok := static[name]; ok {
		return units
	}

	observability.Log().Warn("unknown operation, using default compute budget",
		observability.F("operation", operation),
		observability.F("units", DefaultUnits),
	)
	return DefaultUnits
}

func consolidationUnits(poolCount int) uint64 {
	if poolCount < 0 {
		poolCount = 0
	}
	units := uint64(consolidateBase) + uint64(consolidatePerPool)*uint64(poolCount)
	if units > consolidateCap {
		return consolidateCap
	}
	return units
}

func donationUnits(amount uint64) uint64 {
	// Compared in base units so amounts just past the threshold are not
	// truncated back under it.
	if amount <= donationThreshold*nativeDecimals {
		return donationSmall
	}
	return donationLarge
}
