// Package logger owns the process-wide zap logger. Level comes from LOG_LEVEL,
// encoding from ENVIRONMENT; tests set IsTest before the first GetLogger call.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.SugaredLogger
	once   sync.Once
)

// IsTest switches the logger to a stdout development config.
var IsTest bool

func levelFromEnv() zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func buildConfig(level zapcore.Level) zap.Config {
	var cfg zap.Config
	switch {
	case IsTest:
		cfg = zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stdout"}
	case os.Getenv("ENVIRONMENT") == "production":
		cfg = zap.NewProductionConfig()
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg
}

func initLoggerInternal() {
	zapLogger, err := buildConfig(levelFromEnv()).Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	logger = zapLogger.Sugar()
}

// InitLogger initializes the global logger. Safe for concurrent calls.
func InitLogger() {
	once.Do(initLoggerInternal)
}

// GetLogger returns the shared logger, initializing it on first use.
func GetLogger() *zap.SugaredLogger {
	once.Do(initLoggerInternal)
	return logger
}

// Close flushes buffered entries. Call once before the process exits.
func Close() error {
	if logger == nil || IsTest {
		return nil
	}
	if err := logger.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "Error syncing logger: %v\n", err)
		return err
	}
	return nil
}

// MaskSensitiveString keeps prefixLen leading and suffixLen trailing characters.
// Short strings are fully starred so their length is not revealed.
func MaskSensitiveString(s string, prefixLen, suffixLen int) string {
	if s == "" {
		return ""
	}
	if len(s) < prefixLen+suffixLen+3 {
		return strings.Repeat("*", len(s))
	}
	return s[:prefixLen] + "..." + s[len(s)-suffixLen:]
}

// MaskConnectionString hides the password of a postgres:// or redis:// URL
// and of key=value DSNs. Best effort.
func MaskConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	masked := connStr

	if idx := strings.Index(masked, "://"); idx != -1 {
		rest := masked[idx+3:]
		if at := strings.Index(rest, "@"); at != -1 {
			userInfo := rest[:at]
			if colon := strings.Index(userInfo, ":"); colon != -1 {
				masked = strings.Replace(masked, userInfo, userInfo[:colon]+":***", 1)
			}
		}
	}

	const key = "password="
	if kv := strings.Index(masked, key); kv != -1 {
		start := kv + len(key)
		end := strings.Index(masked[start:], " ")
		if end == -1 {
			masked = masked[:start] + "***"
		} else {
			masked = masked[:start] + "***" + masked[start+end:]
		}
	}
	return masked
}
