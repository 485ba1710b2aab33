package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curio/internal/curiosity"
	"github.com/fyrsmithlabs/curio/internal/embeddings"
	"github.com/fyrsmithlabs/curio/internal/experience"
)

var _ curiosity.Archiver = (*ChromemArchive)(nil)

var (
	// ErrMissingEmbedding indicates an experience without a vector.
	ErrMissingEmbedding = errors.New("experience has no embedding")

	// ErrNoProvider indicates a text query on an archive built without an
	// embeddings provider.
	ErrNoProvider = errors.New("archive has no embeddings provider")

	// ErrInvalidLimit indicates a non-positive result limit.
	ErrInvalidLimit = errors.New("limit must be positive")
)

// Metadata keys stored on each document.
const (
	keyAgentID       = "agent_id"
	keyTaskID        = "task_id"
	keyGeneration    = "generation"
	keyOutcome       = "outcome"
	keyQuality       = "quality_score"
	keyReuseCount    = "reuse_count"
	keyActionSummary = "action_summary"
	keyCreatedAt     = "created_at"
)

// Config configures a ChromemArchive.
type Config struct {
	// Path is the persistence directory. Empty keeps the archive in memory.
	Path string `koanf:"path"`

	// Compress gzips persisted documents.
	Compress bool `koanf:"compress"`

	// Collection names the chromem collection.
	Collection string `koanf:"collection"`
}

// Record is an archived experience.
type Record struct {
	ID            string             `json:"id" yaml:"id"`
	AgentID       string             `json:"agent_id" yaml:"agent_id"`
	TaskID        string             `json:"task_id" yaml:"task_id"`
	Generation    int                `json:"generation" yaml:"generation"`
	Outcome       experience.Outcome `json:"outcome" yaml:"outcome"`
	QualityScore  float64            `json:"quality_score" yaml:"quality_score"`
	ReuseCount    int                `json:"reuse_count" yaml:"reuse_count"`
	Description   string             `json:"description" yaml:"description"`
	ActionSummary string             `json:"action_summary" yaml:"action_summary"`
	CreatedAt     time.Time          `json:"created_at" yaml:"created_at"`

	// Similarity is set on query results only.
	Similarity float64 `json:"similarity,omitempty" yaml:"similarity,omitempty"`
}

// ChromemArchive is an Archiver backed by chromem-go.
type ChromemArchive struct {
	db         *chromem.DB
	collection *chromem.Collection
	provider   embeddings.Provider
	logger     *zap.Logger
}

// NewChromemArchive opens or creates the archive. provider may be nil, in
// which case only vector queries are available.
func NewChromemArchive(cfg Config, provider embeddings.Provider, logger *zap.Logger) (*ChromemArchive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		cfg.Collection = "experiences"
	}

	var db *chromem.DB
	if cfg.Path != "" {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, err
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem database: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	a := &ChromemArchive{db: db, provider: provider, logger: logger}
	coll, err := db.GetOrCreateCollection(cfg.Collection, nil, a.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("opening collection %q: %w", cfg.Collection, err)
	}
	a.collection = coll

	logger.Info("experience archive ready",
		zap.String("path", cfg.Path),
		zap.String("collection", cfg.Collection),
		zap.Int("documents", coll.Count()))
	return a, nil
}

func (a *ChromemArchive) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		if a.provider == nil {
			return nil, ErrNoProvider
		}
		return a.provider.Embed(ctx, text)
	}
}

// Archive stores m under its trajectory id, replacing any earlier copy.
func (a *ChromemArchive) Archive(ctx context.Context, m experience.Match) error {
	if m.Trajectory.ID == "" {
		return experience.ErrEmptyID
	}
	if len(m.Embedding) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingEmbedding, m.Trajectory.ID)
	}

	content := m.Metadata.SourceDescription
	if content == "" {
		content = m.Trajectory.ActionSummary
	}
	doc := chromem.Document{
		ID:        m.Trajectory.ID,
		Content:   content,
		Embedding: append([]float32(nil), m.Embedding...),
		Metadata: map[string]string{
			keyAgentID:       m.Trajectory.AgentID,
			keyTaskID:        m.Trajectory.TaskID,
			keyGeneration:    strconv.Itoa(m.Trajectory.Generation),
			keyOutcome:       string(m.Trajectory.Outcome),
			keyQuality:       strconv.FormatFloat(m.Metadata.QualityScore, 'g', -1, 64),
			keyReuseCount:    strconv.Itoa(m.Metadata.ReuseCount),
			keyActionSummary: m.Trajectory.ActionSummary,
			keyCreatedAt:     m.Metadata.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := a.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("archiving experience %s: %w", doc.ID, err)
	}
	a.logger.Debug("archived experience", zap.String("experience_id", doc.ID))
	return nil
}

// Query returns up to n archived experiences nearest to embedding.
func (a *ChromemArchive) Query(ctx context.Context, embedding []float32, n int) ([]Record, error) {
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	count := a.collection.Count()
	if count == 0 {
		return []Record{}, nil
	}
	if n > count {
		n = count
	}

	results, err := a.collection.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}
	out := make([]Record, 0, len(results))
	for _, r := range results {
		rec := toRecord(r.ID, r.Content, r.Metadata)
		rec.Similarity = float64(r.Similarity)
		out = append(out, rec)
	}
	return out, nil
}

// QueryText embeds text with the archive's provider and queries by vector.
func (a *ChromemArchive) QueryText(ctx context.Context, text string, n int) ([]Record, error) {
	if a.provider == nil {
		return nil, ErrNoProvider
	}
	vec, err := a.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return a.Query(ctx, vec, n)
}

// Get returns the archived experience with id.
func (a *ChromemArchive) Get(ctx context.Context, id string) (Record, error) {
	if id == "" {
		return Record{}, experience.ErrEmptyID
	}
	doc, err := a.collection.GetByID(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s", experience.ErrExperienceNotFound, id)
	}
	return toRecord(doc.ID, doc.Content, doc.Metadata), nil
}

// Delete removes archived experiences by id.
func (a *ChromemArchive) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := a.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting archived experiences: %w", err)
	}
	return nil
}

// Count returns the number of archived experiences.
func (a *ChromemArchive) Count() int {
	return a.collection.Count()
}

func toRecord(id, content string, md map[string]string) Record {
	rec := Record{
		ID:            id,
		AgentID:       md[keyAgentID],
		TaskID:        md[keyTaskID],
		Outcome:       experience.Outcome(md[keyOutcome]),
		Description:   content,
		ActionSummary: md[keyActionSummary],
	}
	rec.Generation, _ = strconv.Atoi(md[keyGeneration])
	rec.ReuseCount, _ = strconv.Atoi(md[keyReuseCount])
	rec.QualityScore, _ = strconv.ParseFloat(md[keyQuality], 64)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, md[keyCreatedAt])
	return rec
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
