package observability

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rl1809/stock-ledger/internal/config"
)

const instrumentationScopeName = "github.com/rl1809/stock-ledger"

// NewLogger builds the JSON console logger. With bridge set, records are
// also handed to the global OpenTelemetry logger provider.
func NewLogger(level string, bridge bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		lvl,
	)

	if bridge {
		otelCore := otelzap.NewCore(instrumentationScopeName,
			otelzap.WithLoggerProvider(global.GetLoggerProvider()),
		)
		core = zapcore.NewTee(core, levelFilter{Core: otelCore, level: lvl})
	}

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", config.ServiceName)),
	), nil
}

// levelFilter drops entries below level before they reach the wrapped core.
type levelFilter struct {
	zapcore.Core
	level zapcore.Level
}

func (f levelFilter) Enabled(l zapcore.Level) bool {
	return l >= f.level && f.Core.Enabled(l)
}

func (f levelFilter) With(fields []zapcore.Field) zapcore.Core {
	return levelFilter{Core: f.Core.With(fields), level: f.level}
}

func (f levelFilter) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !f.Enabled(entry.Level) {
		return ce
	}
	return f.Core.Check(entry, ce)
}
