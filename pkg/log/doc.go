// Package log is the structured logger of the wallet node.
//
// Loggers are passed explicitly or through a context:
//
//	lg := log.NewZapLogger(log.Config{Format: "logfmt", Level: log.LevelInfo})
//	ctx = log.SetContextLogger(ctx, lg.WithName("rpc"))
//	log.FromContext(ctx).Info("request served", "method", "eth_sign")
//
// If the context carries a valid OpenTelemetry span, SetContextLogger wraps
// the logger in a SpanLogger and every entry is also recorded as a span
// event. Error and Fatal mark the span as failed.
//
// Values logged under keys that look like credentials (privateKey, secret,
// password, mnemonic, seed) are replaced with [REDACTED] by every logger in
// this package, including the span events.
//
// Config is read from LOG_FORMAT, LOG_LEVEL and LOG_OUTPUT. SetupSubsystems
// applies the same settings to go-log subsystem loggers.
package log
