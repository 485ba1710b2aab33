package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	sessionCtxKey struct{}
	agentCtxKey   struct{}
	taskCtxKey    struct{}
	epochCtxKey   struct{}
	loggerCtxKey  struct{}
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

// ContextFields returns the correlation fields carried by ctx: the active
// span, then training session, agent, task and epoch.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("session.id", id))
	}
	if id := AgentIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("agent.id", id))
	}
	if id := TaskIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("task.id", id))
	}
	if epoch, ok := EpochFromContext(ctx); ok {
		fields = append(fields, zap.Int("epoch", epoch))
	}
	return fields
}

// WithSessionID attaches a training session id. Ids that are empty, longer
// than 128 bytes or contain characters outside [a-zA-Z0-9_.:-] are ignored
// and ctx is returned unchanged.
func WithSessionID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

// SessionIDFromContext returns the session id, or "".
func SessionIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sessionCtxKey{}).(string)
	return s
}

// WithAgentID attaches an agent id, subject to the same rules as
// WithSessionID.
func WithAgentID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, agentCtxKey{}, id)
}

// AgentIDFromContext returns the agent id, or "".
func AgentIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(agentCtxKey{}).(string)
	return s
}

// WithTaskID attaches a task id.
func WithTaskID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, taskCtxKey{}, id)
}

// TaskIDFromContext returns the task id, or "".
func TaskIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(taskCtxKey{}).(string)
	return s
}

// WithEpoch attaches a training epoch number. Negative values are ignored.
func WithEpoch(ctx context.Context, epoch int) context.Context {
	if epoch < 0 {
		return ctx
	}
	return context.WithValue(ctx, epochCtxKey{}, epoch)
}

// EpochFromContext returns the epoch number and whether one was set.
func EpochFromContext(ctx context.Context) (int, bool) {
	e, ok := ctx.Value(epochCtxKey{}).(int)
	return e, ok
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
