package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Mode string

const (
	// ModeAdvisory proposes and risk-checks actions but never executes.
	ModeAdvisory Mode = "advisory"
	// ModeAuto additionally executes approved actions.
	ModeAuto Mode = "auto"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Agent     AgentConfig     `yaml:"agent"`
	Feed      FeedConfig      `yaml:"feed"`
	State     StateConfig     `yaml:"state"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Risk      RiskConfig      `yaml:"risk"`
	Execution ExecutionConfig `yaml:"execution"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Export    ExportConfig    `yaml:"export"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type AgentConfig struct {
	Interval           time.Duration `yaml:"interval"`
	Mode               Mode          `yaml:"mode"`
	MaxActionsPerCycle int           `yaml:"max_actions_per_cycle"`
	MinConfidence      int           `yaml:"min_confidence"`
	PhaseTimeout       time.Duration `yaml:"phase_timeout"`
	ActingConcurrency  int           `yaml:"acting_concurrency"`
	HealthAddr         string        `yaml:"health_addr"`
}

type FeedConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type StrategyConfig struct {
	TargetAllocation        map[string]float64 `yaml:"target_allocation"`
	DriftTolerancePct       float64            `yaml:"drift_tolerance_pct"`
	ReserveAsset            string             `yaml:"reserve_asset"`
	MinReserve              uint64             `yaml:"min_reserve"`
	DefaultSlippageBps      int                `yaml:"default_slippage_bps"`
	ConservativeRiskCeiling int                `yaml:"conservative_risk_ceiling"`
	AssetDecimals           map[string]int     `yaml:"asset_decimals"`
}

type RiskConfig struct {
	MaxPositionSizePct  float64 `yaml:"max_position_size_pct"`
	MaxSlippageBps      int     `yaml:"max_slippage_bps"`
	MinReserve          uint64  `yaml:"min_reserve"`
	MaxVenueExposurePct float64 `yaml:"max_venue_exposure_pct"`
	MaxDailyLossPct     float64 `yaml:"max_daily_loss_pct"`
	MaxFailedExecutions int     `yaml:"max_failed_executions"`
}

type ExecutionConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	ConfirmTimeout   time.Duration `yaml:"confirm_timeout"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	ComputeUnitLimit uint32        `yaml:"compute_unit_limit"`
	PriorityFee      uint64        `yaml:"priority_fee_micro_lamports"`
	SubmitterURL     string        `yaml:"submitter_url"`
	SubmitterTimeout time.Duration `yaml:"submitter_timeout"`
}

type AnalysisConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type LedgerConfig struct {
	MaxCommitments int `yaml:"max_commitments"`
}

type ExportConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Agent.Interval == 0 {
		cfg.Agent.Interval = 60 * time.Second
	}
	if cfg.Agent.Mode == "" {
		cfg.Agent.Mode = ModeAdvisory
	}
	if cfg.Agent.MaxActionsPerCycle == 0 {
		cfg.Agent.MaxActionsPerCycle = 3
	}
	if cfg.Agent.MinConfidence == 0 {
		cfg.Agent.MinConfidence = 40
	}
	if cfg.Agent.PhaseTimeout == 0 {
		cfg.Agent.PhaseTimeout = 30 * time.Second
	}
	if cfg.Agent.ActingConcurrency == 0 {
		cfg.Agent.ActingConcurrency = 1
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Feed.PingInterval == 0 {
		cfg.Feed.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/agent.db"
	}
	if cfg.Strategy.DriftTolerancePct == 0 {
		cfg.Strategy.DriftTolerancePct = 5
	}
	if cfg.Strategy.ReserveAsset == "" {
		cfg.Strategy.ReserveAsset = "SOL"
	}
	if cfg.Strategy.DefaultSlippageBps == 0 {
		cfg.Strategy.DefaultSlippageBps = 50
	}
	if cfg.Strategy.ConservativeRiskCeiling == 0 {
		cfg.Strategy.ConservativeRiskCeiling = 30
	}
	if cfg.Risk.MaxPositionSizePct == 0 {
		cfg.Risk.MaxPositionSizePct = 25
	}
	if cfg.Risk.MaxSlippageBps == 0 {
		cfg.Risk.MaxSlippageBps = 100
	}
	if cfg.Risk.MaxVenueExposurePct == 0 {
		cfg.Risk.MaxVenueExposurePct = 50
	}
	if cfg.Risk.MaxDailyLossPct == 0 {
		cfg.Risk.MaxDailyLossPct = 5
	}
	if cfg.Risk.MaxFailedExecutions == 0 {
		cfg.Risk.MaxFailedExecutions = 3
	}
	if cfg.Execution.MaxRetries == 0 {
		cfg.Execution.MaxRetries = 3
	}
	if cfg.Execution.ConfirmTimeout == 0 {
		cfg.Execution.ConfirmTimeout = 30 * time.Second
	}
	if cfg.Execution.RetryBackoff == 0 {
		cfg.Execution.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.Execution.ComputeUnitLimit == 0 {
		cfg.Execution.ComputeUnitLimit = 400_000
	}
	if cfg.Execution.PriorityFee == 0 {
		cfg.Execution.PriorityFee = 10_000
	}
	if cfg.Execution.SubmitterTimeout == 0 {
		cfg.Execution.SubmitterTimeout = 10 * time.Second
	}
	if len(cfg.Strategy.AssetDecimals) == 0 {
		cfg.Strategy.AssetDecimals = map[string]int{"SOL": 9, "USDC": 6}
	}
	if cfg.Analysis.Timeout == 0 {
		cfg.Analysis.Timeout = 15 * time.Second
	}
	if cfg.Ledger.MaxCommitments == 0 {
		cfg.Ledger.MaxCommitments = 1000
	}
	if cfg.Export.Schema == "" {
		cfg.Export.Schema = "public"
	}
	if cfg.Export.QueueSize == 0 {
		cfg.Export.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if cfg.Agent.Mode != ModeAdvisory && cfg.Agent.Mode != ModeAuto {
		return fmt.Errorf("agent.mode must be %q or %q", ModeAdvisory, ModeAuto)
	}
	if cfg.Agent.MaxActionsPerCycle < 0 {
		return errors.New("agent.max_actions_per_cycle must be >= 0")
	}
	if cfg.Agent.MinConfidence < 0 || cfg.Agent.MinConfidence > 100 {
		return errors.New("agent.min_confidence must be within [0,100]")
	}
	if len(cfg.Strategy.TargetAllocation) > 0 {
		var sum float64
		for asset, pct := range cfg.Strategy.TargetAllocation {
			if pct < 0 {
				return fmt.Errorf("strategy.target_allocation[%s] must be >= 0", asset)
			}
			sum += pct
		}
		if math.Abs(sum-100) > 0.01 {
			return fmt.Errorf("strategy.target_allocation must sum to 100, got %.2f", sum)
		}
	}
	if cfg.Risk.MaxDailyLossPct <= 0 || cfg.Risk.MaxDailyLossPct > 100 {
		return errors.New("risk.max_daily_loss_pct must be within (0,100]")
	}
	if cfg.Agent.Mode == ModeAuto && cfg.Execution.SubmitterURL == "" {
		return errors.New("execution.submitter_url is required in auto mode")
	}
	if cfg.Export.Enabled && cfg.Export.DSN == "" {
		return errors.New("export.dsn is required when export is enabled")
	}
	if cfg.Analysis.Enabled && cfg.Analysis.URL == "" {
		return errors.New("analysis.url is required when analysis is enabled")
	}
	return nil
}
