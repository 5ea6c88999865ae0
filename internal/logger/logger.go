// Package logger configures the standard library logger with size-based
// file rotation.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log file placement and rotation
type Config struct {
	LogDir     string
	LogFile    string
	MaxSize    int // MB per file before rotation
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Console    bool // also write to stdout
}

// DefaultConfig returns the rotation defaults
func DefaultConfig() *Config {
	return &Config{
		LogDir:     "logs",
		LogFile:    "relay.log",
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
		Console:    true,
	}
}

// Setup points the standard library logger at a rotating file
func Setup(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(cfg.LogDir, cfg.LogFile)
	rotating := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	var writer io.Writer = rotating
	if cfg.Console {
		writer = io.MultiWriter(os.Stdout, rotating)
	}

	log.SetOutput(writer)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	log.Printf("📝 Logging to %s (rotate at %dMB, keep %d backups, %d days)",
		logPath, cfg.MaxSize, cfg.MaxBackups, cfg.MaxAge)
	return nil
}
