package log

import (
	ipfslog "github.com/ipfs/go-log/v2"
)

// SetupSubsystems configures the go-log registry used by libraries that take
// an *ipfslog.ZapEventLogger, such as the clearsync retry helpers, so their
// output follows the same level, format and destination as conf.
func SetupSubsystems(conf Config) {
	lvl, err := ipfslog.Parse(string(conf.Level))
	if err != nil {
		lvl = ipfslog.LevelInfo
	}

	cfg := ipfslog.Config{Level: lvl, Format: ipfslog.PlaintextOutput}
	if conf.Format == "json" {
		cfg.Format = ipfslog.JSONOutput
	}
	switch conf.Output {
	case "", "stderr":
		cfg.Stderr = true
	case "stdout":
		cfg.Stdout = true
	default:
		cfg.File = conf.Output
	}
	ipfslog.SetupLogging(cfg)
}

// Subsystem returns the go-log logger registered under name.
func Subsystem(name string) *ipfslog.ZapEventLogger {
	return ipfslog.Logger(name)
}
