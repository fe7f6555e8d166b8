package log

var _ Logger = SpanLogger{}

// SpanLogger writes every entry to a wrapped logger and to a trace span.
// Entries in the wrapped logger carry traceId and spanId; span events carry
// the level, the logger name and all persistent pairs.
type SpanLogger struct {
	lg  Logger
	ser SpanEventRecorder
}

// NewSpanLogger wraps lg. The caller skip grows by one for the wrapper frame.
func NewSpanLogger(lg Logger, ser SpanEventRecorder) Logger {
	return SpanLogger{lg: lg.AddCallerSkip(1), ser: ser}
}

func (sl SpanLogger) Debug(msg string, keysAndValues ...any) {
	sl.ser.RecordEvent(msg, sl.eventKV(LevelDebug, keysAndValues)...)
	sl.lg.Debug(msg, sl.traceKV(keysAndValues)...)
}

func (sl SpanLogger) Info(msg string, keysAndValues ...any) {
	sl.ser.RecordEvent(msg, sl.eventKV(LevelInfo, keysAndValues)...)
	sl.lg.Info(msg, sl.traceKV(keysAndValues)...)
}

func (sl SpanLogger) Warn(msg string, keysAndValues ...any) {
	sl.ser.RecordEvent(msg, sl.eventKV(LevelWarn, keysAndValues)...)
	sl.lg.Warn(msg, sl.traceKV(keysAndValues)...)
}

func (sl SpanLogger) Error(msg string, keysAndValues ...any) {
	sl.ser.RecordError(msg, sl.eventKV(LevelError, keysAndValues)...)
	sl.lg.Error(msg, sl.traceKV(keysAndValues)...)
}

func (sl SpanLogger) Fatal(msg string, keysAndValues ...any) {
	sl.ser.RecordError(msg, sl.eventKV(LevelFatal, keysAndValues)...)
	sl.lg.Fatal(msg, sl.traceKV(keysAndValues)...)
}

func (sl SpanLogger) WithKV(key string, value any) Logger {
	return SpanLogger{lg: sl.lg.WithKV(key, value), ser: sl.ser}
}

func (sl SpanLogger) GetAllKV() []any { return sl.lg.GetAllKV() }

func (sl SpanLogger) WithName(name string) Logger {
	return SpanLogger{lg: sl.lg.WithName(name), ser: sl.ser}
}

func (sl SpanLogger) Name() string { return sl.lg.Name() }

func (sl SpanLogger) AddCallerSkip(skip int) Logger {
	return SpanLogger{lg: sl.lg.AddCallerSkip(skip), ser: sl.ser}
}

func (sl SpanLogger) traceKV(keysAndValues []any) []any {
	return append([]any{"traceId", sl.ser.TraceID(), "spanId", sl.ser.SpanID()}, keysAndValues...)
}

// eventKV goes to the span exporter, so sensitive values are masked here too.
func (sl SpanLogger) eventKV(level Level, keysAndValues []any) []any {
	kv := []any{"level", string(level), "component", sl.lg.Name()}
	kv = append(kv, sl.lg.GetAllKV()...)
	return redactKV(append(kv, keysAndValues...))
}
