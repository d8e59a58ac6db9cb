package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, loaded, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.False(t, loaded)
	require.Equal(t, EnvDev, cfg.Environment)
	require.Equal(t, 120, cfg.Recovery.PoolPausePolls)
	require.Equal(t, 240, cfg.Recovery.SystemPausePolls)
	require.Equal(t, 60, cfg.Recovery.SwapPausePolls)
}

func TestLoadOrDefaultFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	body := `
environment: staging
apiServer:
  addr: ":9999"
worker:
  pacingInterval: 250ms
recovery:
  unknownRetries: 7
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, loaded, err := LoadOrDefault(path)
	require.NoError(t, err)
	require.True(t, loaded)
	require.Equal(t, EnvStaging, cfg.Environment)
	require.Equal(t, ":9999", cfg.APIServer.Addr)
	require.Equal(t, 250*time.Millisecond, cfg.Worker.PacingInterval)
	require.Equal(t, 7, cfg.Recovery.UnknownRetries)
	// Untouched sections keep defaults.
	require.Equal(t, 120, cfg.Recovery.PoolPausePolls)
}

func TestLoadOrDefaultEnvOverrides(t *testing.T) {
	t.Setenv("STRESSLAB_ENV", "prod")
	t.Setenv("STRESSLAB_API_ADDR", ":7001")
	cfg, _, err := LoadOrDefault("")
	require.NoError(t, err)
	require.Equal(t, EnvProd, cfg.Environment)
	require.Equal(t, ":7001", cfg.APIServer.Addr)
}

func TestValidateRejectsBadEnvironment(t *testing.T) {
	cfg := Default()
	cfg.Environment = "qa"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsSlippageInversion(t *testing.T) {
	cfg := Default()
	cfg.Worker.StartingSlippage = 0.5
	cfg.Worker.MaxSlippage = 0.1
	require.Error(t, cfg.Validate())
}
