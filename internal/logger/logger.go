package logger

import (
	"github.com/sufrahq/sufra/internal/config"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Production uses the JSON encoder; anything
// else gets the development console encoder.
func New(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

var Module = fx.Module("logger",
	fx.Provide(New),
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		fxLog := &fxevent.ZapLogger{Logger: log.Named("fx")}
		fxLog.UseLogLevel(zapcore.DebugLevel)
		return fxLog
	}),
)
