package curiosity

import "context"

// Outcome is what an executor reports for one task.
type Outcome struct {
	// QualityScore is the executor's 0-100 assessment. Values outside the
	// range are clamped by the trainer.
	QualityScore float64

	// Payload is the work product, opaque to this package.
	Payload any

	// ActionSummary describes what was done. Empty summaries fall back to
	// the task description.
	ActionSummary string
}

// Executor performs a practice task. It is the only call in an epoch
// expected to block; timeouts are the executor's concern.
type Executor interface {
	Execute(ctx context.Context, description string) (Outcome, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, description string) (Outcome, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, description string) (Outcome, error) {
	return f(ctx, description)
}
