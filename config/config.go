package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// StartupMode defines how custodian handles initialization failures
type StartupMode string

const (
	// StartupModeStrict fails fast on any initialization error (default)
	StartupModeStrict StartupMode = "strict"
	// StartupModeGraceful runs without persistence when storage cannot be opened
	StartupModeGraceful StartupMode = "graceful"
)

// DataPaths holds all data directory and file path configuration
type DataPaths struct {
	// DataDir is the base data directory (CUSTODIAN_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the SQLite database file path (CUSTODIAN_SQLITE_PATH, default: ${DataDir}/custodian.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Config holds all configuration for custodian
type Config struct {
	StartupMode StartupMode `mapstructure:"startup_mode"`
	DataPaths   DataPaths   `mapstructure:"data_paths"`

	Analysis struct {
		MaxConcurrent    int `mapstructure:"max_concurrent"`
		DefaultMaxEvents int `mapstructure:"default_max_events"`
		MinMaxEvents     int `mapstructure:"min_max_events"`
		MaxMaxEvents     int `mapstructure:"max_max_events"`
		// CorrelationWindow is the default cross-source window in seconds
		CorrelationWindow int `mapstructure:"correlation_window"`
	} `mapstructure:"analysis"`

	Detection struct {
		MaxGapSeconds          int `mapstructure:"max_gap_seconds"`
		HighGapSeconds         int `mapstructure:"high_gap_seconds"`
		HighFrequencyThreshold int `mapstructure:"high_frequency_threshold"`
		LowFrequencyThreshold  int `mapstructure:"low_frequency_threshold"`
		PatternRepeatThreshold int `mapstructure:"pattern_repeat_threshold"`
		SequenceMaxSpanSeconds int `mapstructure:"sequence_max_span_seconds"`
		// SequenceCatalog is an optional YAML or JSON catalogue replacing the defaults
		SequenceCatalog string `mapstructure:"sequence_catalog"`
	} `mapstructure:"detection"`

	Validation struct {
		MaxPathLength      int  `mapstructure:"max_path_length"`
		AllowAbsolutePaths bool `mapstructure:"allow_absolute_paths"`
	} `mapstructure:"validation"`

	Ledger struct {
		// Strict fails admissions instead of recording the sentinel evidence id
		Strict bool `mapstructure:"strict"`
	} `mapstructure:"ledger"`

	Storage struct {
		Enabled         bool `mapstructure:"enabled"`
		ResultCacheSize int  `mapstructure:"result_cache_size"`
	} `mapstructure:"storage"`

	Ingest struct {
		// EvidenceRoot is prepended to relative source paths (CUSTODIAN_EVIDENCE_ROOT)
		EvidenceRoot     string `mapstructure:"evidence_root"`
		RecordsPerSecond int    `mapstructure:"records_per_second"`
		Burst            int    `mapstructure:"burst"`
		MaxRecords       int    `mapstructure:"max_records"`
	} `mapstructure:"ingest"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("startup_mode", string(StartupModeStrict))

	v.SetDefault("data_paths.data_dir", "./data")
	v.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	v.SetDefault("analysis.max_concurrent", 3)
	v.SetDefault("analysis.default_max_events", 10000)
	v.SetDefault("analysis.min_max_events", 100)
	v.SetDefault("analysis.max_max_events", 100000)
	v.SetDefault("analysis.correlation_window", 300)

	v.SetDefault("detection.max_gap_seconds", 3600)
	v.SetDefault("detection.high_gap_seconds", 7200)
	v.SetDefault("detection.high_frequency_threshold", 10)
	v.SetDefault("detection.low_frequency_threshold", 1)
	v.SetDefault("detection.pattern_repeat_threshold", 2)
	v.SetDefault("detection.sequence_max_span_seconds", 3600)
	v.SetDefault("detection.sequence_catalog", "")

	v.SetDefault("validation.max_path_length", 500)
	v.SetDefault("validation.allow_absolute_paths", false)

	v.SetDefault("ledger.strict", false)

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.result_cache_size", 256)

	v.SetDefault("ingest.evidence_root", ".")
	v.SetDefault("ingest.records_per_second", 0) // 0 = unlimited
	v.SetDefault("ingest.burst", 0)
	v.SetDefault("ingest.max_records", 1000000)

	v.SetDefault("logging.level", "info")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix("CUSTODIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Shorter names for the path settings
	_ = v.BindEnv("startup_mode", "CUSTODIAN_STARTUP_MODE")
	_ = v.BindEnv("data_paths.data_dir", "CUSTODIAN_DATA_DIR")
	_ = v.BindEnv("data_paths.sqlite_path", "CUSTODIAN_SQLITE_PATH")
	_ = v.BindEnv("ingest.evidence_root", "CUSTODIAN_EVIDENCE_ROOT")
	_ = v.BindEnv("logging.level", "CUSTODIAN_LOG_LEVEL")
}

// LoadConfig loads configuration from config.yaml in . or ./config (optional)
// and environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: defaults and env vars only
	}

	return decode(v)
}

// LoadFromFile loads configuration from an explicit file, with environment
// variables still taking precedence
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	config.ResolveDataPaths()
	return &config, nil
}

// ResolveDataPaths derives unset paths from DataDir
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "custodian.db")
	} else if !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}

	c.DataPaths.DataDir = dataDir
}

// GetSQLitePath returns the resolved SQLite database path
func (c *Config) GetSQLitePath() string {
	if c.DataPaths.SQLitePath == "" {
		return filepath.Join(c.GetDataDir(), "custodian.db")
	}
	return c.DataPaths.SQLitePath
}

// GetDataDir returns the resolved base data directory
func (c *Config) GetDataDir() string {
	if c.DataPaths.DataDir == "" {
		return "./data"
	}
	return c.DataPaths.DataDir
}

// IsGracefulMode returns true if the startup mode is graceful
func (c *Config) IsGracefulMode() bool {
	return c.StartupMode == StartupModeGraceful
}

// validateConfig validates the configuration for consistency
func validateConfig(config *Config) error {
	switch config.StartupMode {
	case StartupModeStrict, StartupModeGraceful:
	default:
		return fmt.Errorf("invalid startup_mode %q: must be %q or %q", config.StartupMode, StartupModeStrict, StartupModeGraceful)
	}

	a := config.Analysis
	if a.MaxConcurrent < 1 {
		return fmt.Errorf("analysis.max_concurrent must be at least 1, got %d", a.MaxConcurrent)
	}
	if a.MinMaxEvents < 1 || a.MinMaxEvents > a.MaxMaxEvents {
		return fmt.Errorf("analysis.min_max_events (%d) must be between 1 and analysis.max_max_events (%d)", a.MinMaxEvents, a.MaxMaxEvents)
	}
	if a.DefaultMaxEvents < a.MinMaxEvents || a.DefaultMaxEvents > a.MaxMaxEvents {
		return fmt.Errorf("analysis.default_max_events (%d) must be within [%d, %d]", a.DefaultMaxEvents, a.MinMaxEvents, a.MaxMaxEvents)
	}
	if a.CorrelationWindow <= 0 || a.CorrelationWindow > 86400 {
		return fmt.Errorf("analysis.correlation_window must be in (0, 86400] seconds, got %d", a.CorrelationWindow)
	}

	d := config.Detection
	if d.MaxGapSeconds <= 0 {
		return fmt.Errorf("detection.max_gap_seconds must be positive, got %d", d.MaxGapSeconds)
	}
	if d.HighGapSeconds < d.MaxGapSeconds {
		return fmt.Errorf("detection.high_gap_seconds (%d) must not be below detection.max_gap_seconds (%d)", d.HighGapSeconds, d.MaxGapSeconds)
	}
	if d.LowFrequencyThreshold < 0 || d.LowFrequencyThreshold >= d.HighFrequencyThreshold {
		return fmt.Errorf("detection.low_frequency_threshold (%d) must be in [0, high_frequency_threshold=%d)", d.LowFrequencyThreshold, d.HighFrequencyThreshold)
	}
	if d.PatternRepeatThreshold < 1 {
		return fmt.Errorf("detection.pattern_repeat_threshold must be at least 1, got %d", d.PatternRepeatThreshold)
	}
	if d.SequenceMaxSpanSeconds <= 0 {
		return fmt.Errorf("detection.sequence_max_span_seconds must be positive, got %d", d.SequenceMaxSpanSeconds)
	}

	if config.Validation.MaxPathLength < 1 || config.Validation.MaxPathLength > 4096 {
		return fmt.Errorf("validation.max_path_length must be in [1, 4096], got %d", config.Validation.MaxPathLength)
	}

	if config.Ingest.RecordsPerSecond < 0 || config.Ingest.Burst < 0 || config.Ingest.MaxRecords < 0 {
		return fmt.Errorf("ingest limits must not be negative")
	}

	switch strings.ToLower(config.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", config.Logging.Level)
	}

	return nil
}
