// Package logger provides the process-wide structured logger. Every package
// in this module obtains its logger via Logger() rather than constructing
// its own zap instance.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once  sync.Once
	sug   *zap.SugaredLogger
	level = zap.NewAtomicLevel()
)

// Logger returns the shared sugared logger, building it lazily on first use.
func Logger() *zap.SugaredLogger {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.Encoding = "console"
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		z, err := cfg.Build()
		if err != nil {
			z = zap.NewNop()
		}
		sug = z.Sugar()
	})
	return sug
}

// SetDebug raises the global level to debug, used by the CLI's --verbose flag.
func SetDebug(debug bool) {
	Logger()
	if debug {
		level.SetLevel(zap.DebugLevel)
	} else {
		level.SetLevel(zap.InfoLevel)
	}
}
