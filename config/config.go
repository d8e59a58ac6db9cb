// Package config manages stresslab configuration loading and validation.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where stresslab operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// LoggingConfig controls the zap logging backend.
type LoggingConfig struct {
	Directory string `yaml:"directory"`
	Debug     bool   `yaml:"debug"`
}

// ChainConfig configures connectivity to the chain RPC node. An empty
// endpoint selects the in-memory simulated chain.
type ChainConfig struct {
	RPCEndpoint       string        `yaml:"rpcEndpoint"`
	WSEndpoint        string        `yaml:"wsEndpoint"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Commitment        string        `yaml:"commitment"`
}

// DatabaseConfig controls PostgreSQL connectivity. An empty DSN selects the
// in-memory state store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"maxConns"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime"`
	RunMigrations   bool          `yaml:"runMigrations"`
}

// APIServerConfig configures the control HTTP surface.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP exporters.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// WorkerConfig carries per-worker loop defaults.
type WorkerConfig struct {
	PacingInterval   time.Duration `yaml:"pacingInterval"`
	PacingJitter     time.Duration `yaml:"pacingJitter"`
	StartingSlippage float64       `yaml:"startingSlippage"`
	MaxSlippage      float64       `yaml:"maxSlippage"`
	RefillThreshold  uint64        `yaml:"refillThreshold"`
	RefillAmount     uint64        `yaml:"refillAmount"`
	OpsPerSecond     float64       `yaml:"opsPerSecond"`
}

// RecoveryConfig tunes the error-recovery policy engine. Poll caps default to
// the contract-side pause windows and should not normally be changed.
type RecoveryConfig struct {
	PollInterval     time.Duration `yaml:"pollInterval"`
	PoolPausePolls   int           `yaml:"poolPausePolls"`
	SystemPausePolls int           `yaml:"systemPausePolls"`
	SwapPausePolls   int           `yaml:"swapPausePolls"`
	UnknownRetries   int           `yaml:"unknownRetries"`
	UnknownRetryWait time.Duration `yaml:"unknownRetryWait"`
	FundsWait        time.Duration `yaml:"fundsWait"`
	LiquidityWait    time.Duration `yaml:"liquidityWait"`
	SlippageWait     time.Duration `yaml:"slippageWait"`
}

// DrainConfig controls worker decommissioning.
type DrainConfig struct {
	OperationalWallet string `yaml:"operationalWallet"`
	FeeBuffer         uint64 `yaml:"feeBuffer"`
	MaxConcurrent     int    `yaml:"maxConcurrent"`
}

// ScenarioConfig points at an optional JavaScript scenario file evaluated at
// startup to seed the worker mix.
type ScenarioConfig struct {
	Path string `yaml:"path"`
}

// Settings is the unified stresslab configuration sourced from YAML.
type Settings struct {
	Environment Environment     `yaml:"environment"`
	Logging     LoggingConfig   `yaml:"logging"`
	Chain       ChainConfig     `yaml:"chain"`
	Database    DatabaseConfig  `yaml:"database"`
	APIServer   APIServerConfig `yaml:"apiServer"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Worker      WorkerConfig    `yaml:"worker"`
	Recovery    RecoveryConfig  `yaml:"recovery"`
	Drain       DrainConfig     `yaml:"drain"`
	Scenario    ScenarioConfig  `yaml:"scenario"`
}

// Default returns the baseline stresslab configuration.
func Default() Settings {
	return Settings{
		Environment: EnvDev,
		Logging: LoggingConfig{
			Directory: "logs",
			Debug:     false,
		},
		Chain: ChainConfig{
			RPCEndpoint:       "",
			WSEndpoint:        "",
			RequestTimeout:    15 * time.Second,
			RequestsPerSecond: 20,
			Commitment:        "confirmed",
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxConns:        16,
			MaxConnLifetime: 30 * time.Minute,
			RunMigrations:   true,
		},
		APIServer: APIServerConfig{Addr: ":8180"},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "",
			ServiceName:  "stresslab",
		},
		Worker: WorkerConfig{
			PacingInterval:   2 * time.Second,
			PacingJitter:     500 * time.Millisecond,
			StartingSlippage: 0.01,
			MaxSlippage:      0.10,
			RefillThreshold:  1_000_000,
			RefillAmount:     100_000_000,
			OpsPerSecond:     5,
		},
		Recovery: RecoveryConfig{
			PollInterval:     30 * time.Second,
			PoolPausePolls:   120,
			SystemPausePolls: 240,
			SwapPausePolls:   60,
			UnknownRetries:   3,
			UnknownRetryWait: 5 * time.Second,
			FundsWait:        5 * time.Second,
			LiquidityWait:    10 * time.Second,
			SlippageWait:     2 * time.Second,
		},
		Drain: DrainConfig{
			OperationalWallet: "",
			FeeBuffer:         5_000_000,
			MaxConcurrent:     4,
		},
		Scenario: ScenarioConfig{Path: ""},
	}
}

// LoadOrDefault reads Settings from the YAML file at path, falling back to
// defaults when the file does not exist. Environment variables override the
// loaded values in both cases.
func LoadOrDefault(path string) (Settings, bool, error) {
	cfg := Default()
	loaded := false

	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer func() { _ = file.Close() }()
			bytes, readErr := io.ReadAll(file)
			if readErr != nil {
				return Settings{}, false, fmt.Errorf("read config: %w", readErr)
			}
			if err := yaml.Unmarshal(bytes, &cfg); err != nil {
				return Settings{}, false, fmt.Errorf("unmarshal config: %w", err)
			}
			loaded = true
		case os.IsNotExist(err):
		default:
			return Settings{}, false, fmt.Errorf("open config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return Settings{}, false, err
	}
	return cfg, loaded, nil
}

func (s *Settings) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("STRESSLAB_ENV")); v != "" {
		s.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("STRESSLAB_RPC_ENDPOINT")); v != "" {
		s.Chain.RPCEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("STRESSLAB_WS_ENDPOINT")); v != "" {
		s.Chain.WSEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("STRESSLAB_DATABASE_DSN")); v != "" {
		s.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("STRESSLAB_API_ADDR")); v != "" {
		s.APIServer.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("STRESSLAB_OTLP_ENDPOINT")); v != "" {
		s.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("STRESSLAB_SCENARIO")); v != "" {
		s.Scenario.Path = v
	}
}

func (s *Settings) normalise() {
	s.Environment = Environment(strings.ToLower(strings.TrimSpace(string(s.Environment))))
	s.Chain.RPCEndpoint = strings.TrimSpace(s.Chain.RPCEndpoint)
	s.Chain.WSEndpoint = strings.TrimSpace(s.Chain.WSEndpoint)
	s.Chain.Commitment = strings.ToLower(strings.TrimSpace(s.Chain.Commitment))
	s.Database.DSN = strings.TrimSpace(s.Database.DSN)
	s.APIServer.Addr = strings.TrimSpace(s.APIServer.Addr)
	s.Telemetry.OTLPEndpoint = strings.TrimSpace(s.Telemetry.OTLPEndpoint)
	s.Telemetry.ServiceName = strings.TrimSpace(s.Telemetry.ServiceName)
	s.Drain.OperationalWallet = strings.TrimSpace(s.Drain.OperationalWallet)
	s.Scenario.Path = strings.TrimSpace(s.Scenario.Path)

	def := Default()
	if s.Chain.RequestTimeout <= 0 {
		s.Chain.RequestTimeout = def.Chain.RequestTimeout
	}
	if s.Chain.RequestsPerSecond <= 0 {
		s.Chain.RequestsPerSecond = def.Chain.RequestsPerSecond
	}
	if s.Chain.Commitment == "" {
		s.Chain.Commitment = def.Chain.Commitment
	}
	if s.Database.MaxConns <= 0 {
		s.Database.MaxConns = def.Database.MaxConns
	}
	if s.Database.MaxConnLifetime <= 0 {
		s.Database.MaxConnLifetime = def.Database.MaxConnLifetime
	}
	if s.Telemetry.ServiceName == "" {
		s.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	if s.Worker.PacingInterval <= 0 {
		s.Worker.PacingInterval = def.Worker.PacingInterval
	}
	if s.Worker.PacingJitter < 0 {
		s.Worker.PacingJitter = 0
	}
	if s.Worker.StartingSlippage <= 0 {
		s.Worker.StartingSlippage = def.Worker.StartingSlippage
	}
	if s.Worker.MaxSlippage <= 0 {
		s.Worker.MaxSlippage = def.Worker.MaxSlippage
	}
	if s.Worker.RefillAmount == 0 {
		s.Worker.RefillAmount = def.Worker.RefillAmount
	}
	if s.Worker.OpsPerSecond <= 0 {
		s.Worker.OpsPerSecond = def.Worker.OpsPerSecond
	}
	if s.Recovery.PollInterval <= 0 {
		s.Recovery.PollInterval = def.Recovery.PollInterval
	}
	if s.Recovery.PoolPausePolls <= 0 {
		s.Recovery.PoolPausePolls = def.Recovery.PoolPausePolls
	}
	if s.Recovery.SystemPausePolls <= 0 {
		s.Recovery.SystemPausePolls = def.Recovery.SystemPausePolls
	}
	if s.Recovery.SwapPausePolls <= 0 {
		s.Recovery.SwapPausePolls = def.Recovery.SwapPausePolls
	}
	if s.Recovery.UnknownRetries <= 0 {
		s.Recovery.UnknownRetries = def.Recovery.UnknownRetries
	}
	if s.Recovery.UnknownRetryWait <= 0 {
		s.Recovery.UnknownRetryWait = def.Recovery.UnknownRetryWait
	}
	if s.Recovery.FundsWait <= 0 {
		s.Recovery.FundsWait = def.Recovery.FundsWait
	}
	if s.Recovery.LiquidityWait <= 0 {
		s.Recovery.LiquidityWait = def.Recovery.LiquidityWait
	}
	if s.Recovery.SlippageWait <= 0 {
		s.Recovery.SlippageWait = def.Recovery.SlippageWait
	}
	if s.Drain.MaxConcurrent <= 0 {
		s.Drain.MaxConcurrent = def.Drain.MaxConcurrent
	}
}

// Validate performs semantic validation on the configuration.
func (s Settings) Validate() error {
	switch s.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if s.APIServer.Addr == "" {
		return fmt.Errorf("apiServer.addr required")
	}
	if s.Worker.StartingSlippage > s.Worker.MaxSlippage {
		return fmt.Errorf("worker.startingSlippage must be <= worker.maxSlippage")
	}
	if s.Chain.RPCEndpoint == "" && s.Chain.WSEndpoint != "" {
		return fmt.Errorf("chain.wsEndpoint requires chain.rpcEndpoint")
	}
	return nil
}
