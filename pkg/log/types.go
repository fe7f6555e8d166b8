package log

// Logger is the structured logger used across the wallet node.
// keysAndValues are alternating keys and values, e.g. "method", "eth_sign".
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	// Fatal logs and may terminate the program.
	Fatal(msg string, keysAndValues ...any)

	// WithKV returns a logger that adds key and value to every entry.
	WithKV(key string, value any) Logger
	// GetAllKV returns the pairs added with WithKV.
	GetAllKV() []any
	// WithName returns a child logger; names are joined with dots.
	WithName(name string) Logger
	Name() string
	// AddCallerSkip returns a logger that reports callers skip frames higher.
	// Implementations without caller reporting return themselves.
	AddCallerSkip(skip int) Logger
}

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// SpanEventRecorder records log entries as events of a trace span.
type SpanEventRecorder interface {
	TraceID() string
	SpanID() string

	RecordEvent(name string, keysAndValues ...any)
	// RecordError records the event and marks the span as failed.
	RecordError(name string, keysAndValues ...any)
}
