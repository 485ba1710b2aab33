package attribution

import "errors"

var (
	// ErrEmptyAgentID indicates a missing agent identifier.
	ErrEmptyAgentID = errors.New("agent id cannot be empty")

	// ErrEmptyTaskID indicates a missing task identifier.
	ErrEmptyTaskID = errors.New("task id cannot be empty")

	// ErrInvalidQuality indicates a quality value outside [0, 100] or NaN.
	ErrInvalidQuality = errors.New("quality must be between 0 and 100")

	// ErrInvalidFactor indicates a negative or non-finite effort ratio or
	// impact multiplier.
	ErrInvalidFactor = errors.New("factor must be a finite non-negative number")

	// ErrInvalidScore indicates a contribution score outside [0, 1] or NaN.
	ErrInvalidScore = errors.New("score must be between 0 and 1")

	// ErrInvalidReward indicates a negative or non-finite reward.
	ErrInvalidReward = errors.New("reward must be a finite non-negative number")

	// ErrInvalidWindow indicates a non-positive window size.
	ErrInvalidWindow = errors.New("window size must be positive")

	// ErrNoAgents indicates an attribution request without agents.
	ErrNoAgents = errors.New("at least one agent is required")

	// ErrUnknownStrategy indicates an unsupported reward strategy.
	ErrUnknownStrategy = errors.New("unknown reward strategy")

	// ErrNoTracker indicates a tracker-backed operation on an engine built
	// without WithTracker.
	ErrNoTracker = errors.New("engine has no contribution tracker")
)
