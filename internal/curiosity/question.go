package curiosity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curio/internal/embeddings"
)

var validate = validator.New()

var (
	// ErrInvalidTaskCount indicates a non-positive task count.
	ErrInvalidTaskCount = errors.New("task count must be positive")

	// ErrUnknownDomain indicates a domain the engine does not track.
	ErrUnknownDomain = errors.New("unknown domain")

	// ErrNegativeIncrease indicates a negative coverage increase.
	ErrNegativeIncrease = errors.New("coverage increase cannot be negative")

	// ErrInvalidTemplate indicates a template without exactly one %s verb.
	ErrInvalidTemplate = errors.New("template must contain exactly one %s verb")
)

// MaxCoverage is the saturation point of a domain's coverage.
const MaxCoverage = 100.0

// Task is a generated practice task.
type Task struct {
	ID              string    `json:"id" yaml:"id"`
	Domain          string    `json:"domain" yaml:"domain"`
	Description     string    `json:"description" yaml:"description"`
	NoveltyScore    float64   `json:"novelty_score" yaml:"novelty_score"`
	CoverageGap     float64   `json:"coverage_gap" yaml:"coverage_gap"`
	OverallPriority float64   `json:"overall_priority" yaml:"overall_priority"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
}

// QuestionConfig tunes task generation.
type QuestionConfig struct {
	// NoveltyWeight balances novelty against coverage gap in priority.
	NoveltyWeight float64 `koanf:"novelty_weight" validate:"gte=0,lte=1"`

	// MaxRecentPerDomain bounds the descriptions remembered per domain for
	// novelty scoring.
	MaxRecentPerDomain int `koanf:"max_recent_per_domain" validate:"gt=0"`

	// Seed makes sampling reproducible. Zero seeds from the clock.
	Seed int64 `koanf:"seed"`
}

// DefaultQuestionConfig returns the default generation settings.
func DefaultQuestionConfig() QuestionConfig {
	return QuestionConfig{
		NoveltyWeight:      0.5,
		MaxRecentPerDomain: 256,
	}
}

type domainState struct {
	spec     DomainSpec
	coverage float64
	cursor   int
	seen     map[string]int
	recent   [][]float32
}

// QuestionEngine generates practice tasks. It is safe for concurrent use.
type QuestionEngine struct {
	cfg      QuestionConfig
	embedder embeddings.Provider
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	rng     *rand.Rand
	order   []string
	domains map[string]*domainState
}

// QuestionOption configures a QuestionEngine.
type QuestionOption func(*QuestionEngine)

// WithQuestionConfig replaces the generation settings.
func WithQuestionConfig(cfg QuestionConfig) QuestionOption {
	return func(q *QuestionEngine) {
		q.cfg = cfg
	}
}

// WithEmbedder scores novelty by embedding similarity to earlier
// descriptions instead of by repetition count.
func WithEmbedder(p embeddings.Provider) QuestionOption {
	return func(q *QuestionEngine) {
		q.embedder = p
	}
}

// WithQuestionLogger sets the logger.
func WithQuestionLogger(l *zap.Logger) QuestionOption {
	return func(q *QuestionEngine) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithQuestionClock overrides the timestamp source.
func WithQuestionClock(now func() time.Time) QuestionOption {
	return func(q *QuestionEngine) {
		q.now = now
	}
}

// NewQuestionEngine creates an engine over domains. A nil or empty slice
// uses DefaultDomains.
func NewQuestionEngine(domains []DomainSpec, opts ...QuestionOption) (*QuestionEngine, error) {
	if len(domains) == 0 {
		domains = DefaultDomains()
	}

	q := &QuestionEngine{
		cfg:     DefaultQuestionConfig(),
		logger:  zap.NewNop(),
		now:     time.Now,
		domains: make(map[string]*domainState, len(domains)),
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := validate.Struct(q.cfg); err != nil {
		return nil, fmt.Errorf("invalid question config: %w", err)
	}

	for _, d := range domains {
		if err := validate.Struct(d); err != nil {
			return nil, fmt.Errorf("invalid domain %q: %w", d.Name, err)
		}
		for _, tmpl := range d.Templates {
			if strings.Count(tmpl, "%s") != 1 || strings.Count(tmpl, "%") != 1 {
				return nil, fmt.Errorf("%w: %q", ErrInvalidTemplate, tmpl)
			}
		}
		if _, dup := q.domains[d.Name]; dup {
			return nil, fmt.Errorf("duplicate domain %q", d.Name)
		}
		q.order = append(q.order, d.Name)
		q.domains[d.Name] = &domainState{
			spec:     d,
			coverage: d.InitialCoverage,
			seen:     make(map[string]int),
		}
	}

	seed := q.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	q.rng = rand.New(rand.NewSource(seed))
	return q, nil
}

// GenerateTasks returns n tasks ordered by OverallPriority, highest first.
// Each task's domain is drawn with weight (100 - coverage) + 1, so
// saturated domains remain possible but rare.
func (q *QuestionEngine) GenerateTasks(ctx context.Context, n int) ([]Task, error) {
	if n <= 0 {
		return nil, ErrInvalidTaskCount
	}

	tasks := make([]Task, 0, n)
	for i := 0; i < n; i++ {
		q.mu.Lock()
		domain := q.pickDomain()
		st := q.domains[domain]
		desc := q.render(st)
		q.mu.Unlock()

		var vec []float32
		if q.embedder != nil {
			v, err := q.embedder.Embed(ctx, desc)
			if err != nil {
				return nil, fmt.Errorf("embedding task description: %w", err)
			}
			vec = v
		}

		q.mu.Lock()
		novelty := q.novelty(st, desc, vec)
		gap := MaxCoverage - st.coverage
		q.mu.Unlock()

		tasks = append(tasks, Task{
			ID:              uuid.New().String(),
			Domain:          domain,
			Description:     desc,
			NoveltyScore:    novelty,
			CoverageGap:     gap,
			OverallPriority: q.cfg.NoveltyWeight*novelty*100 + (1-q.cfg.NoveltyWeight)*gap,
			CreatedAt:       q.now(),
		})
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].OverallPriority > tasks[j].OverallPriority
	})

	q.logger.Debug("generated practice tasks", zap.Int("count", len(tasks)))
	return tasks, nil
}

// pickDomain draws a domain weighted by remaining coverage. Caller holds q.mu.
func (q *QuestionEngine) pickDomain() string {
	var total float64
	for _, name := range q.order {
		total += MaxCoverage - q.domains[name].coverage + 1
	}
	r := q.rng.Float64() * total
	for _, name := range q.order {
		r -= MaxCoverage - q.domains[name].coverage + 1
		if r < 0 {
			return name
		}
	}
	return q.order[len(q.order)-1]
}

// render rotates through templates and draws a topic. Caller holds q.mu.
func (q *QuestionEngine) render(st *domainState) string {
	tmpl := st.spec.Templates[st.cursor%len(st.spec.Templates)]
	st.cursor++
	topic := st.spec.Topics[q.rng.Intn(len(st.spec.Topics))]
	return fmt.Sprintf(tmpl, topic)
}

// novelty scores desc against what the domain has produced before and
// remembers it. Without a vector, novelty decays with exact repeats.
// Caller holds q.mu.
func (q *QuestionEngine) novelty(st *domainState, desc string, vec []float32) float64 {
	repeats := st.seen[desc]
	st.seen[desc] = repeats + 1

	if vec == nil {
		return 1 / float64(1+repeats)
	}

	maxSim := 0.0
	for _, prior := range st.recent {
		if sim, err := embeddings.Similarity(vec, prior); err == nil && sim > maxSim {
			maxSim = sim
		}
	}
	st.recent = append(st.recent, vec)
	if over := len(st.recent) - q.cfg.MaxRecentPerDomain; over > 0 {
		st.recent = append(st.recent[:0], st.recent[over:]...)
	}
	return math.Max(0, math.Min(1, 1-maxSim))
}

// UpdateExplorationFrontier raises domain's coverage by increase, capped at
// MaxCoverage.
func (q *QuestionEngine) UpdateExplorationFrontier(domain string, increase float64) error {
	if math.IsNaN(increase) || increase < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeIncrease, increase)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	st, ok := q.domains[domain]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	st.coverage = math.Min(MaxCoverage, st.coverage+increase)
	return nil
}

// Coverage returns domain's coverage score.
func (q *QuestionEngine) Coverage(domain string) (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, ok := q.domains[domain]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	return st.coverage, nil
}

// Frontier returns a copy of every domain's coverage.
func (q *QuestionEngine) Frontier() map[string]float64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]float64, len(q.domains))
	for name, st := range q.domains {
		out[name] = st.coverage
	}
	return out
}

// Domains returns the domain names in registration order.
func (q *QuestionEngine) Domains() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.order...)
}
