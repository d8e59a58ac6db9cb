package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poolforge/stresslab/internal/chain"
	"github.com/poolforge/stresslab/internal/worker"
)

func writeScenario(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.js")
	require.NoError(t, os.WriteFile(path, []byte(source), 0o600))
	return path
}

func TestLoadArrayExport(t *testing.T) {
	path := writeScenario(t, `
module.exports.workers = [
  { kind: "deposit", pool: "COIN:USDT", tokenSide: "a", amount: 1000, count: 3 },
  { kind: "swap", pool: "COIN:USDT", direction: "a_to_b", amount: 500, autoRefill: true },
];
`)
	entries, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, 3, entries[0].Count)
	require.Equal(t, worker.KindDeposit, entries[0].Spec().Kind)
	require.Equal(t, chain.TokenSide("a"), entries[0].Spec().TokenSide)

	require.Equal(t, 1, entries[1].Count)
	require.Equal(t, worker.KindSwap, entries[1].Spec().Kind)
	require.True(t, entries[1].Spec().AutoRefill)
}

func TestLoadFunctionExport(t *testing.T) {
	path := writeScenario(t, `
exports.workers = function() {
  var out = [];
  for (var i = 0; i < 2; i++) {
    out.push({ kind: "withdrawal", pool: "COIN:USDT", amount: 10 + i });
  }
  return out;
};
`)
	entries, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.EqualValues(t, 10, entries[0].Amount)
	require.EqualValues(t, 11, entries[1].Amount)
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	path := writeScenario(t, `
module.exports.workers = [{ kind: "liquidate", pool: "COIN:USDT", amount: 1 }];
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown worker kind")
}

func TestLoadRejectsMissingPool(t *testing.T) {
	path := writeScenario(t, `
module.exports.workers = [{ kind: "deposit", amount: 1 }];
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingExport(t *testing.T) {
	path := writeScenario(t, `module.exports.other = 1;`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "workers export missing")
}

func TestLoadCompileError(t *testing.T) {
	path := writeScenario(t, `module.exports.workers = [`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.js"))
	require.Error(t, err)
}
