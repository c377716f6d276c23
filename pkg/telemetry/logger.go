package telemetry

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StructuredLogger emits structured log entries.
type StructuredLogger interface {
	Emit(Entry) error
}

// Severity represents the log severity level.
type Severity string

const (
	// SeverityDebug captures verbose diagnostics.
	SeverityDebug Severity = "debug"
	// SeverityInfo captures normal operation messages.
	SeverityInfo Severity = "info"
	// SeverityWarn captures recoverable anomalies.
	SeverityWarn Severity = "warn"
	// SeverityError captures unrecoverable or failure states.
	SeverityError Severity = "error"
)

// Category captures the structured log category.
type Category string

const (
	// CategoryWorkflow marks orchestration phases.
	CategoryWorkflow Category = "workflow"
	// CategoryConfig marks configuration resolution and persistence events.
	CategoryConfig Category = "config"
	// CategoryDiagnostic marks ancillary diagnostic events.
	CategoryDiagnostic Category = "diagnostic"
)

// Entry describes a structured log entry prior to serialization.
type Entry struct {
	Category Category
	Message  string
	Severity Severity
	Step     string
	Command  string
	Metadata map[string]string
	Error    error
}

// SanitizeFunc rewrites metadata before it is written.
type SanitizeFunc func(map[string]string) map[string]string

// Option configures a Logger.
type Option func(*options)

type options struct {
	level    string
	format   string
	sanitize SanitizeFunc
}

// WithLevel sets the minimum severity written: debug, info, warn or error.
func WithLevel(level string) Option { return func(o *options) { o.level = level } }

// WithFormat selects json or console output.
func WithFormat(format string) Option { return func(o *options) { o.format = format } }

// WithSanitizer installs a metadata sanitizer.
func WithSanitizer(fn SanitizeFunc) Option { return func(o *options) { o.sanitize = fn } }

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// Logger emits structured logs through zap. Every entry carries the run id.
type Logger struct {
	zl       *zap.Logger
	runID    string
	sanitize SanitizeFunc
}

// NewLogger constructs a logger for a run writing to w.
func NewLogger(w io.Writer, runID string, opts ...Option) (*Logger, error) {
	if w == nil {
		return nil, errors.New("logger writer is required")
	}
	trimmed := strings.TrimSpace(runID)
	if trimmed == "" {
		return nil, errors.New("run ID is required")
	}
	o := options{level: "info", format: "json"}
	for _, opt := range opts {
		opt(&o)
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(o.level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	var encoder zapcore.Encoder
	switch o.format {
	case "json", "":
		encoder = zapcore.NewJSONEncoder(encoderConfig(false))
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig(true))
	default:
		return nil, fmt.Errorf("unsupported log format %q", o.format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), zap.NewAtomicLevelAt(level))
	return &Logger{zl: zap.New(core), runID: trimmed, sanitize: o.sanitize}, nil
}

// RunID returns the run identifier attached to every entry.
func (l *Logger) RunID() string { return l.runID }

// Emit writes the provided entry.
func (l *Logger) Emit(entry Entry) error {
	if l == nil || l.zl == nil {
		return errors.New("logger is nil")
	}

	severity := entry.Severity
	if severity == "" {
		severity = SeverityInfo
	}

	metadata := map[string]string{}
	for k, v := range entry.Metadata {
		metadata[k] = v
	}
	if entry.Error != nil {
		severity = SeverityError
		metadata["error"] = entry.Error.Error()
	}
	if l.sanitize != nil {
		metadata = l.sanitize(metadata)
	}

	ce := l.zl.Check(zapLevel(severity), entry.Message)
	if ce == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("category", string(entry.Category)),
		zap.String("runId", l.runID),
	}
	if entry.Step != "" {
		fields = append(fields, zap.String("step", entry.Step))
	}
	if entry.Command != "" {
		fields = append(fields, zap.String("command", entry.Command))
	}
	if len(metadata) > 0 {
		fields = append(fields, zap.Any("metadata", metadata))
	}
	ce.Write(fields...)
	return nil
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil || l.zl == nil {
		return nil
	}
	return l.zl.Sync()
}

func zapLevel(s Severity) zapcore.Level {
	switch s {
	case SeverityDebug:
		return zapcore.DebugLevel
	case SeverityWarn:
		return zapcore.WarnLevel
	case SeverityError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig(console bool) zapcore.EncoderConfig {
	if console {
		return zapcore.EncoderConfig{
			TimeKey:        "T",
			LevelKey:       "L",
			MessageKey:     "M",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		}
	}
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "severity",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Emit(Entry) error { return nil }
