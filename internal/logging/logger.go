// Package logging builds the process zap logger and hands out per-category
// child loggers. Categories can be switched off individually in config.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a subsystem logger.
type Category string

const (
	CategoryPipeline   Category = "pipeline"
	CategoryCalibrate  Category = "calibrate"
	CategoryPortal     Category = "portal"
	CategoryBrowser    Category = "browser"
	CategorySelectors  Category = "selectors"
	CategorySettlement Category = "settlement"
	CategoryEvidence   Category = "evidence"
	CategoryStore      Category = "store"
	CategoryHealth     Category = "health"
	CategoryServer     Category = "server"
	CategoryAudit      Category = "audit"
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level      string
	Format     string
	Categories map[string]bool
	Verbose    bool
}

// Logger is the root logger plus the category filter.
type Logger struct {
	root       *zap.Logger
	categories map[string]bool
}

// New builds a production zap logger. Verbose forces debug level.
func New(opts Options) (*Logger, error) {
	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(opts.Format, "console") {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	root, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return Wrap(root, opts.Categories), nil
}

// Wrap adopts an existing zap logger.
func Wrap(root *zap.Logger, categories map[string]bool) *Logger {
	if root == nil {
		root = zap.NewNop()
	}
	return &Logger{root: root, categories: categories}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return Wrap(zap.NewNop(), nil)
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Root returns the unnamed logger.
func (l *Logger) Root() *zap.Logger { return l.root }

// Enabled reports whether category is switched on. Unlisted categories are on.
func (l *Logger) Enabled(category Category) bool {
	enabled, ok := l.categories[string(category)]
	return !ok || enabled
}

// For returns the named child logger for category, or a no-op logger when
// the category is disabled.
func (l *Logger) For(category Category) *zap.Logger {
	if !l.Enabled(category) {
		return zap.NewNop()
	}
	return l.root.Named(string(category))
}

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func (l *Logger) Sync() {
	_ = l.root.Sync()
}
