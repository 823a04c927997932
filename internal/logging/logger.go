package logging

import (
	"io"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New creates an slog logger backed by a zap core. Format "console" selects the
// development encoder; anything else produces JSON. An invalid level string
// defaults to info.
func New(level, format string) *slog.Logger {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var cfg zap.Config
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	base, err := cfg.Build()
	if err != nil {
		base = zap.NewNop()
	}
	return FromCore(base.Core())
}

// FromCore wraps an existing zap core, such as an observer core in tests.
func FromCore(core zapcore.Core) *slog.Logger {
	return slog.New(zapslog.NewHandler(core, zapslog.WithCaller(true)))
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}
