package experience

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Common errors for experience operations.
var (
	ErrInvalidTrajectory  = errors.New("invalid trajectory")
	ErrInvalidQuality     = errors.New("quality score must be a number between 0 and 100")
	ErrInvalidTopK        = errors.New("top_k must be positive")
	ErrEmptyID            = errors.New("experience ID cannot be empty")
	ErrEmptyQuery         = errors.New("query cannot be empty")
	ErrEmptyDescription   = errors.New("description and action summary cannot both be empty")
	ErrExperienceNotFound = errors.New("experience not found")
	ErrDuplicateID        = errors.New("experience already stored")
)

// Outcome is the terminal status of a trajectory.
type Outcome string

const (
	// OutcomeSuccess indicates the trajectory solved its task.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure indicates the trajectory did not solve its task.
	OutcomeFailure Outcome = "failure"
)

// Trajectory is one agent's attempt at a task. It is immutable once created.
type Trajectory struct {
	// ID is the unique trajectory identifier (UUID).
	ID string `json:"id"`

	// AgentID identifies the agent that produced the trajectory.
	AgentID string `json:"agent_id"`

	// TaskID links the trajectory to the task it attempted.
	TaskID string `json:"task_id,omitempty"`

	// Generation counts how many training epochs preceded this attempt.
	Generation int `json:"generation"`

	// ActionSummary is a short description of what the agent did.
	ActionSummary string `json:"action_summary"`

	// Outcome is success or failure.
	Outcome Outcome `json:"outcome"`

	// QualityScore is the externally assigned score in [0, 100].
	QualityScore float64 `json:"quality_score"`

	// CreatedAt is when the trajectory was produced.
	CreatedAt time.Time `json:"created_at"`
}

// NewTrajectory creates a trajectory with a generated UUID.
func NewTrajectory(agentID, taskID, actionSummary string, generation int, outcome Outcome, quality float64) (*Trajectory, error) {
	t := &Trajectory{
		ID:            uuid.New().String(),
		AgentID:       agentID,
		TaskID:        taskID,
		Generation:    generation,
		ActionSummary: actionSummary,
		Outcome:       outcome,
		QualityScore:  quality,
		CreatedAt:     time.Now(),
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks if the trajectory has valid fields.
func (t *Trajectory) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidTrajectory, ErrEmptyID)
	}
	if t.AgentID == "" {
		return fmt.Errorf("%w: agent ID cannot be empty", ErrInvalidTrajectory)
	}
	if t.Generation < 0 {
		return fmt.Errorf("%w: generation cannot be negative", ErrInvalidTrajectory)
	}
	if t.Outcome != OutcomeSuccess && t.Outcome != OutcomeFailure {
		return fmt.Errorf("%w: outcome must be 'success' or 'failure'", ErrInvalidTrajectory)
	}
	if err := validateQuality(t.QualityScore); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTrajectory, err)
	}
	return nil
}

func validateQuality(q float64) error {
	if math.IsNaN(q) || q < 0 || q > 100 {
		return ErrInvalidQuality
	}
	return nil
}

// Metadata is the reuse bookkeeping kept beside each stored trajectory.
// MarkExperienceReused is its only mutation.
type Metadata struct {
	ExperienceID      string     `json:"experience_id"`
	QualityScore      float64    `json:"quality_score"`
	CreatedAt         time.Time  `json:"created_at"`
	ReuseCount        int        `json:"reuse_count"`
	LastReusedAt      *time.Time `json:"last_reused_at,omitempty"`
	SourceDescription string     `json:"source_description"`
}

// Value is the high-value ranking key: quality weighted by how often the
// experience has been reused.
func (m Metadata) Value() float64 {
	return m.QualityScore * float64(1+m.ReuseCount)
}

// Match is a stored experience returned from a query, copied out of the
// buffer.
type Match struct {
	Trajectory Trajectory `json:"trajectory"`
	Metadata   Metadata   `json:"metadata"`

	// Similarity is the cosine similarity to the query. Zero for results
	// not produced by a similarity query.
	Similarity float64 `json:"similarity"`

	// Embedding is a copy of the stored vector.
	Embedding []float32 `json:"-"`
}

// Stats summarizes buffer contents and admission history.
type Stats struct {
	Size                int     `json:"size" yaml:"size"`
	MaxSize             int     `json:"max_size" yaml:"max_size"`
	MinQuality          float64 `json:"min_quality" yaml:"min_quality"`
	TotalStored         int64   `json:"total_stored" yaml:"total_stored"`
	RejectedLowQuality  int64   `json:"rejected_low_quality" yaml:"rejected_low_quality"`
	RejectedCapacity    int64   `json:"rejected_capacity" yaml:"rejected_capacity"`
	TotalReuses         int64   `json:"total_reuses" yaml:"total_reuses"`
	AvgQuality          float64 `json:"avg_quality" yaml:"avg_quality"`
	MinQualityStored    float64 `json:"min_quality_stored" yaml:"min_quality_stored"`
	MaxQualityStored    float64 `json:"max_quality_stored" yaml:"max_quality_stored"`
	CapacityUtilization float64 `json:"capacity_utilization" yaml:"capacity_utilization"`
	Dimension           int     `json:"dimension" yaml:"dimension"`
}
