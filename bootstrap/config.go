package bootstrap

import (
	"fmt"
	"os"

	"custodian/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output.
// CLI output goes to stdout, so logs are written to stderr.
func InitLogger(level string) (*zap.Logger, *zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		lvl,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// LoadConfig reads configFile, or searches the default locations when it is empty.
func LoadConfig(configFile string) (*config.Config, error) {
	if configFile != "" {
		return config.LoadFromFile(configFile)
	}
	return config.LoadConfig()
}

// InitConfig logs the effective configuration.
func InitConfig(cfg *config.Config, sugar *zap.SugaredLogger) {
	startupMode := cfg.StartupMode
	if startupMode == "" {
		startupMode = config.StartupModeStrict
	}
	sugar.Infow("Startup mode",
		"mode", string(startupMode),
		"description", func() string {
			if startupMode == config.StartupModeGraceful {
				return "will run without persistence if storage cannot be opened"
			}
			return "will fail fast on any initialization error"
		}())

	sugar.Infow("Data paths configuration",
		"data_dir", cfg.GetDataDir(),
		"sqlite_path", cfg.GetSQLitePath(),
		"storage_enabled", cfg.Storage.Enabled)

	sugar.Infow("Config loaded",
		"max_concurrent", cfg.Analysis.MaxConcurrent,
		"default_max_events", cfg.Analysis.DefaultMaxEvents,
		"correlation_window", cfg.Analysis.CorrelationWindow,
		"evidence_root", cfg.Ingest.EvidenceRoot,
		"ledger_strict", cfg.Ledger.Strict)
}
