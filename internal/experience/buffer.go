package experience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curio/internal/embeddings"
)

var validate = validator.New()

// Config holds buffer admission parameters.
type Config struct {
	// MaxSize is the hard capacity. Inserts beyond it are rejected.
	MaxSize int `koanf:"max_size" validate:"gt=0"`

	// MinQuality is the lowest quality score (0-100) admitted.
	MinQuality float64 `koanf:"min_quality" validate:"gte=0,lte=100"`
}

// DefaultConfig returns the default buffer configuration.
func DefaultConfig() Config {
	return Config{MaxSize: 10000, MinQuality: 90}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid buffer config: %w", err)
	}
	return nil
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithClock overrides the time source used for CreatedAt and LastReusedAt.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		b.now = now
	}
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *Metrics) Option {
	return func(b *Buffer) {
		b.metrics = m
	}
}

// entry is one stored experience; entries[i] pairs with matrix row i.
type entry struct {
	traj Trajectory
	meta Metadata
}

// Buffer is the admission-controlled experience store.
type Buffer struct {
	cfg      Config
	provider embeddings.Provider
	logger   *zap.Logger
	metrics  *Metrics
	now      func() time.Time

	mu                 sync.RWMutex
	entries            []entry
	index              map[string]int
	matrix             *embeddings.Matrix
	totalStored        int64
	rejectedLowQuality int64
	rejectedCapacity   int64
}

// NewBuffer creates an empty buffer.
func NewBuffer(cfg Config, provider embeddings.Provider, logger *zap.Logger, opts ...Option) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, fmt.Errorf("embedding provider cannot be nil")
	}
	if provider.Dimension() <= 0 {
		return nil, fmt.Errorf("embedding provider reports invalid dimension %d", provider.Dimension())
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Buffer{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		now:      time.Now,
		index:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = NewMetrics(logger)
	}

	// Preallocate modestly; huge MaxSize values should not reserve memory up front.
	initial := cfg.MaxSize
	if initial > 1024 {
		initial = 1024
	}
	b.entries = make([]entry, 0, initial)
	b.matrix = embeddings.NewMatrix(provider.Dimension(), initial)

	return b, nil
}

// Config returns the buffer configuration.
func (b *Buffer) Config() Config {
	return b.cfg
}

// Provider returns the embedding provider the buffer embeds with.
func (b *Buffer) Provider() embeddings.Provider {
	return b.provider
}

// Store admits traj if qualityScore >= MinQuality and the buffer has room.
//
// A rejection returns (false, nil) and leaves the buffer unchanged. description
// is the text embedded for retrieval; it falls back to the trajectory's action
// summary when empty.
func (b *Buffer) Store(ctx context.Context, traj *Trajectory, qualityScore float64, description string) (bool, error) {
	if traj == nil {
		return false, fmt.Errorf("%w: trajectory cannot be nil", ErrInvalidTrajectory)
	}
	if err := traj.Validate(); err != nil {
		return false, err
	}
	if err := validateQuality(qualityScore); err != nil {
		return false, err
	}
	if description == "" {
		description = traj.ActionSummary
	}
	if description == "" {
		return false, ErrEmptyDescription
	}

	if ok := b.admissible(ctx, qualityScore); !ok {
		return false, nil
	}

	vec, err := b.provider.Embed(ctx, description)
	if err != nil {
		return false, fmt.Errorf("embedding description: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Capacity may have filled while embedding.
	if len(b.entries) >= b.cfg.MaxSize {
		b.rejectedCapacity++
		b.metrics.RecordRejected(ctx, reasonCapacity)
		return false, nil
	}
	if _, exists := b.index[traj.ID]; exists {
		return false, fmt.Errorf("%w: %s", ErrDuplicateID, traj.ID)
	}
	if err := b.matrix.Append(vec); err != nil {
		return false, fmt.Errorf("appending embedding: %w", err)
	}

	now := b.now()
	b.entries = append(b.entries, entry{
		traj: *traj,
		meta: Metadata{
			ExperienceID:      traj.ID,
			QualityScore:      qualityScore,
			CreatedAt:         now,
			SourceDescription: description,
		},
	})
	b.index[traj.ID] = len(b.entries) - 1
	b.totalStored++
	b.metrics.RecordAdmitted(ctx)

	b.logger.Debug("experience stored",
		zap.String("experience_id", traj.ID),
		zap.String("agent_id", traj.AgentID),
		zap.Float64("quality_score", qualityScore),
		zap.Int("size", len(b.entries)))

	return true, nil
}

// admissible performs the cheap rejection checks before the embedding is
// computed, counting rejections.
func (b *Buffer) admissible(ctx context.Context, qualityScore float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if qualityScore < b.cfg.MinQuality {
		b.rejectedLowQuality++
		b.metrics.RecordRejected(ctx, reasonLowQuality)
		return false
	}
	if len(b.entries) >= b.cfg.MaxSize {
		b.rejectedCapacity++
		b.metrics.RecordRejected(ctx, reasonCapacity)
		return false
	}
	return true
}

// GetSimilarExperiences returns up to topK stored experiences ranked by
// similarity to query, highest first. Equal similarities rank the most
// recently stored first. Arguments are validated before the buffer is
// consulted, so a non-positive topK or empty query fails even when the
// buffer is empty; otherwise an empty buffer yields an empty slice.
func (b *Buffer) GetSimilarExperiences(ctx context.Context, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, topK)
	}
	if query == "" {
		return nil, ErrEmptyQuery
	}
	start := time.Now()

	if b.Size() == 0 {
		return []Match{}, nil
	}

	qvec, err := b.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	scores, err := embeddings.SimilarityBatch(qvec, b.matrix)
	if err != nil {
		return nil, fmt.Errorf("scoring experiences: %w", err)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(x, y int) bool {
		i, j := order[x], order[y]
		if scores[i] != scores[j] {
			return scores[i] > scores[j]
		}
		ti, tj := b.entries[i].meta.CreatedAt, b.entries[j].meta.CreatedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return i > j
	})

	if topK > len(order) {
		topK = len(order)
	}
	matches := make([]Match, topK)
	for r := 0; r < topK; r++ {
		matches[r] = b.matchAt(order[r])
		matches[r].Similarity = scores[order[r]]
	}

	b.metrics.RecordRetrieval(ctx, time.Since(start), len(b.entries))
	return matches, nil
}

// matchAt copies entry i out of the buffer. Caller holds b.mu.
func (b *Buffer) matchAt(i int) Match {
	e := b.entries[i]
	meta := e.meta
	if meta.LastReusedAt != nil {
		t := *meta.LastReusedAt
		meta.LastReusedAt = &t
	}
	return Match{
		Trajectory: e.traj,
		Metadata:   meta,
		Embedding:  b.matrix.Row(i),
	}
}

// MarkExperienceReused increments the reuse count of experience id and
// stamps LastReusedAt.
func (b *Buffer) MarkExperienceReused(id string) error {
	if id == "" {
		return ErrEmptyID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	i, ok := b.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExperienceNotFound, id)
	}
	now := b.now()
	b.entries[i].meta.ReuseCount++
	b.entries[i].meta.LastReusedAt = &now
	return nil
}

// Get returns the stored experience with the given id.
func (b *Buffer) Get(id string) (Match, error) {
	if id == "" {
		return Match{}, ErrEmptyID
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	i, ok := b.index[id]
	if !ok {
		return Match{}, fmt.Errorf("%w: %s", ErrExperienceNotFound, id)
	}
	return b.matchAt(i), nil
}

// GetHighValueExperiences returns up to topN experiences ranked by
// quality * (1 + reuse_count).
func (b *Buffer) GetHighValueExperiences(topN int) ([]Match, error) {
	if topN <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, topN)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	order := make([]int, len(b.entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		return b.entries[order[x]].meta.Value() > b.entries[order[y]].meta.Value()
	})

	if topN > len(order) {
		topN = len(order)
	}
	out := make([]Match, topN)
	for r := 0; r < topN; r++ {
		out[r] = b.matchAt(order[r])
	}
	return out, nil
}

// GetBufferStats returns a consistent snapshot of buffer statistics.
func (b *Buffer) GetBufferStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{
		Size:               len(b.entries),
		MaxSize:            b.cfg.MaxSize,
		MinQuality:         b.cfg.MinQuality,
		TotalStored:        b.totalStored,
		RejectedLowQuality: b.rejectedLowQuality,
		RejectedCapacity:   b.rejectedCapacity,
		Dimension:          b.matrix.Dim(),
	}
	s.CapacityUtilization = float64(s.Size) / float64(s.MaxSize)
	if s.Size == 0 {
		return s
	}

	s.MinQualityStored = math.Inf(1)
	s.MaxQualityStored = math.Inf(-1)
	var sum float64
	for _, e := range b.entries {
		q := e.meta.QualityScore
		sum += q
		s.MinQualityStored = math.Min(s.MinQualityStored, q)
		s.MaxQualityStored = math.Max(s.MaxQualityStored, q)
		s.TotalReuses += int64(e.meta.ReuseCount)
	}
	s.AvgQuality = sum / float64(s.Size)
	return s
}

// Size returns the number of stored experiences.
func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Clear empties the buffer and resets its counters.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = b.entries[:0]
	b.index = make(map[string]int)
	b.matrix.Reset()
	b.totalStored = 0
	b.rejectedLowQuality = 0
	b.rejectedCapacity = 0

	b.logger.Info("experience buffer cleared")
}

// IsNotFound reports whether err is an unknown-experience error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrExperienceNotFound)
}
