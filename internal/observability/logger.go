// Package observability provides the process-wide structured logger.
//
// CLILogger is usable immediately at its default settings; Setup
// reconfigures it once the configuration has been loaded.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the shared logger for CLI commands. It defaults to
// info-level console output and is replaced by Setup.
var CLILogger = newLogger(zapcore.InfoLevel, "CONSOLE")

// Setup reconfigures CLILogger from the logging config.
//
// level is one of debug, info, warn, error; profile is STRUCTURED (JSON)
// or CONSOLE.
func Setup(level, profile string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	CLILogger = newLogger(lvl, profile)
	return nil
}

// Sync flushes buffered log entries. Called before process exit.
func Sync() {
	_ = CLILogger.Sync()
}

func newLogger(level zapcore.Level, profile string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if strings.EqualFold(profile, "CONSOLE") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	// Logs go to stderr; stdout is reserved for JSONL run traces.
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}
