package log

import (
	"os"
	"path/filepath"
	"time"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Logger = &ZapLogger{}

// Config configures NewZapLogger.
type Config struct {
	Format string `env:"LOG_FORMAT" env-default:"console"` // console, logfmt or json
	Level  Level  `env:"LOG_LEVEL" env-default:"info"`     // debug, info, warn, error or fatal
	Output string `env:"LOG_OUTPUT" env-default:"stderr"`  // stderr, stdout or a file path
}

// ZapLogger is the production Logger. Values under sensitive keys are
// replaced before they reach the encoder.
type ZapLogger struct {
	lg            *zap.SugaredLogger
	keysAndValues []any
}

// NewZapLogger builds a logger writing to conf.Output and every extra writer.
func NewZapLogger(conf Config, extraWriters ...zapcore.WriteSyncer) Logger {
	writers := append(extraWriters, openOutput(conf.Output))
	core := zapcore.NewCore(newEncoder(conf.Format), zapcore.NewMultiWriteSyncer(writers...), zapLevel(conf.Level))

	// Skip log() and the public level method.
	return &ZapLogger{lg: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()}
}

func newEncoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = func(ts time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(ts.UTC().Format(time.RFC3339))
	}

	switch format {
	case "logfmt":
		return zaplogfmt.NewEncoder(cfg)
	case "json":
		return zapcore.NewJSONEncoder(cfg)
	default:
		return zapcore.NewConsoleEncoder(cfg)
	}
}

// openOutput falls back to stderr when the file cannot be opened.
func openOutput(output string) zapcore.WriteSyncer {
	switch output {
	case "", "stderr":
		return zapcore.Lock(os.Stderr)
	case "stdout":
		return zapcore.Lock(os.Stdout)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return zapcore.Lock(os.Stderr)
	}
	f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(f)
}

func (l *ZapLogger) Debug(msg string, keysAndValues ...any) { l.log(LevelDebug, msg, keysAndValues) }
func (l *ZapLogger) Info(msg string, keysAndValues ...any)  { l.log(LevelInfo, msg, keysAndValues) }
func (l *ZapLogger) Warn(msg string, keysAndValues ...any)  { l.log(LevelWarn, msg, keysAndValues) }
func (l *ZapLogger) Error(msg string, keysAndValues ...any) { l.log(LevelError, msg, keysAndValues) }
func (l *ZapLogger) Fatal(msg string, keysAndValues ...any) { l.log(LevelFatal, msg, keysAndValues) }

func (l *ZapLogger) log(level Level, msg string, keysAndValues []any) {
	l.lg.Logw(zapLevel(level), msg, redactKV(keysAndValues)...)
}

func (l *ZapLogger) WithKV(key string, value any) Logger {
	if IsSensitiveKey(key) {
		value = Redacted
	}
	kv := make([]any, 0, len(l.keysAndValues)+2)
	kv = append(append(kv, l.keysAndValues...), key, value)
	return &ZapLogger{lg: l.lg.With(key, value), keysAndValues: kv}
}

func (l *ZapLogger) GetAllKV() []any { return l.keysAndValues }

func (l *ZapLogger) WithName(name string) Logger {
	return &ZapLogger{lg: l.lg.Named(name), keysAndValues: l.keysAndValues}
}

func (l *ZapLogger) Name() string { return l.lg.Desugar().Name() }

func (l *ZapLogger) AddCallerSkip(skip int) Logger {
	return &ZapLogger{lg: l.lg.WithOptions(zap.AddCallerSkip(skip)), keysAndValues: l.keysAndValues}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
