// Package logging builds the process logger for curio.
//
// It wraps zap with a Trace level below Debug, stdout and OpenTelemetry
// outputs, per-level sampling (Error and above are never sampled) and an
// encoder that masks secret-looking fields.
//
// Core packages never depend on this package; they accept a *zap.Logger.
// The CLI builds a Logger from config and hands each component its own
// child:
//
//	logger, err := logging.NewLogger(cfg.Logging, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//	buf, err := experience.NewBuffer(cfg.Buffer, provider, logger.Component("experience"))
//
// Context-aware methods add trace, session, agent, task and epoch fields:
//
//	ctx = logging.WithSessionID(ctx, session.ID)
//	ctx = logging.WithEpoch(ctx, 3)
//	logger.Info(ctx, "epoch finished", zap.Int("executed", n))
//
// TestLogger records entries for assertions in tests.
package logging
