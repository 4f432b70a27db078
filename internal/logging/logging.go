// Package logging builds the node's zap logger. Besides the usual console
// or JSON output, every entry is kept in an in-memory ring buffer that the
// HTTP surface can query.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const DefaultBufferSize = 500

// Config holds logging configuration
type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	BufferSize int    `mapstructure:"buffer_size"`
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(c.Format) {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Format)
	}
}

// New builds a logger writing to stderr and to a fresh Buffer.
func New(cfg Config) (*zap.Logger, *Buffer, error) {
	return NewWithSink(cfg, zapcore.Lock(os.Stderr))
}

// NewWithSink is New with an explicit output sink.
func NewWithSink(cfg Config, sink zapcore.WriteSyncer) (*zap.Logger, *Buffer, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	level, _ := zapcore.ParseLevel(cfg.Level)
	atom := zap.NewAtomicLevelAt(level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if strings.ToLower(cfg.Format) == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	buffer := NewBuffer(cfg.BufferSize)
	core := zapcore.NewTee(
		zapcore.NewCore(enc, sink, atom),
		NewBufferCore(buffer, atom),
	)
	return zap.New(core, zap.AddCaller()), buffer, nil
}
