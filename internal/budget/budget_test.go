package budget

import "testing"

func TestConsolidationFormula(t *testing.T) {
	cases := []struct {
		poolCount int
		want      uint64
	}{
		{0, 4_000},
		{5, 29_000},
		{29, 149_000},
		{30, 150_000},
		{1000, 150_000},
		{-3, 4_000},
	}
	for _, tc := range cases {
		got := GetBudget("process_consolidate_pool_fees", Context{PoolCount: tc.poolCount})
		if got != tc.want {
			t.Fatalf("poolCount=%d: got %d, want %d", tc.poolCount, got, tc.want)
		}
	}
}

func TestDonationThreshold(t *testing.T) {
	small := GetBudget("donate_to_pool", Context{DonationAmount: 1_000 * 1_000_000_000})
	if small != 25_000 {
		t.Fatalf("small donation: got %d", small)
	}
	boundary := GetBudget("donate_to_pool", Context{DonationAmount: 1_000*1_000_000_000 + 1})
	if boundary != 120_000 {
		t.Fatalf("one base unit past threshold: got %d", boundary)
	}
	large := GetBudget("donate_to_pool", Context{DonationAmount: 1_001 * 1_000_000_000})
	if large != 120_000 {
		t.Fatalf("large donation: got %d", large)
	}
}

func TestStaticTable(t *testing.T) {
	if got := GetBudget("swap", Context{}); got != 85_000 {
		t.Fatalf("swap: got %d", got)
	}
	if got := GetBudget("  Deposit  ", Context{}); got != 65_000 {
		t.Fatalf("deposit (trimmed, case-folded): got %d", got)
	}
	// Native sweeps during drains must not fall through to the default.
	if got := GetBudget("transfer_native", Context{}); got != 15_000 {
		t.Fatalf("transfer_native: got %d", got)
	}
}

func TestUnknownOperationDefaultsOpen(t *testing.T) {
	if got := GetBudget("definitely_not_an_op", Context{}); got != DefaultUnits {
		t.Fatalf("unknown op: got %d", got)
	}
}
