package logging

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// instrumentationName is the scope name of records sent through the
// OpenTelemetry bridge.
const instrumentationName = "github.com/fyrsmithlabs/curio"

var errNoOutput = errors.New("at least one output must be enabled and available")

// newCore builds the stdout and OpenTelemetry cores and wraps them in the
// sampler.
func newCore(cfg *Config, w io.Writer, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stdout {
		if w == nil {
			w = os.Stdout
		}
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(w), cfg.Level.Zap()))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		minLevel := cfg.Level.Zap()
		cores = append(cores, &levelFilterCore{
			Core:  otelzap.NewCore(instrumentationName, otelzap.WithLoggerProvider(otelProvider)),
			allow: func(l zapcore.Level) bool { return l >= minLevel },
		})
	}

	var core zapcore.Core
	switch len(cores) {
	case 0:
		return nil, errNoOutput
	case 1:
		core = cores[0]
	default:
		core = zapcore.NewTee(cores...)
	}
	return newSampledCore(core, cfg.Sampling), nil
}
