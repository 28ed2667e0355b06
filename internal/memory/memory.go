// Package memory is the Remediation Memory: an embedded, persisted vector
// store of past repair outcomes that RepoMapper and Planner search for
// precedent before acting, and that Finalizer writes to once a job
// concludes. It is a supplemental, best-effort aid — every failure here
// degrades to "no memory available" rather than failing a step.
package memory

import (
	"context"
	"fmt"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrator/internal/config"
)

// Entry is one recorded remediation outcome.
type Entry struct {
	JobID           string    `json:"job_id"`
	TaskDescription string    `json:"task_description"`
	Diagnosis       string    `json:"diagnosis"`
	FixSummary      string    `json:"fix_summary"`
	TestsPassed     bool      `json:"tests_passed"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// Match is a search hit: the composed summary text chromem-go returned
// plus its similarity score. chromem-go only stores the flattened content
// string, not the original Entry, so Summary carries the "Task/
// Diagnosis/Fix" block Record composed rather than a reconstructed Entry.
type Match struct {
	JobID   string
	Summary string
	Score   float32
}

// Memory wraps a chromem-go persistent collection. A disabled Memory
// (Enabled == false in config, or embedder construction failed at
// startup) makes Search and Record no-ops instead of erroring, so callers
// never need to special-case it.
type Memory struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	logger     *zap.Logger
	topK       int
	enabled    bool
}

// New opens (or creates) the persisted chromem-go database at
// cfg.PersistPath and gets or creates cfg.Collection using embedder for
// vectorization. If cfg.Enabled is false, New returns a disabled Memory
// without touching disk.
func New(cfg config.MemoryConfig, logger *zap.Logger) (*Memory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return &Memory{logger: logger}, nil
	}

	embedder, err := NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("memory: building embedder: %w", err)
	}

	path := cfg.PersistPath
	if path == "" {
		path = "./orchestrator_memory"
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("memory: opening chromem db at %s: %w", path, err)
	}

	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("memory: getting/creating collection %s: %w", cfg.Collection, err)
	}

	return &Memory{
		db:         db,
		collection: collection,
		embedder:   embedder,
		logger:     logger,
		topK:       cfg.TopK,
		enabled:    true,
	}, nil
}

// Record stores a remediation outcome. Failures are logged and swallowed
// — a job's terminal transition must never fail because memory couldn't
// be written.
func (m *Memory) Record(ctx context.Context, entry Entry) {
	if !m.enabled {
		return
	}

	content := fmt.Sprintf("Task: %s\nDiagnosis: %s\nFix: %s", entry.TaskDescription, entry.Diagnosis, entry.FixSummary)
	embedding, err := m.embedder.EmbedDocuments(ctx, []string{content})
	if err != nil {
		m.logger.Warn("failed to embed remediation entry", zap.Error(err), zap.String("job.id", entry.JobID))
		return
	}

	doc := chromem.Document{
		ID:        entry.JobID,
		Content:   content,
		Metadata:  map[string]string{"tests_passed": fmt.Sprintf("%t", entry.TestsPassed)},
		Embedding: embedding[0],
	}
	if err := m.collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		m.logger.Warn("failed to record remediation entry", zap.Error(err), zap.String("job.id", entry.JobID))
	}
}

// Search returns up to top-K past remediations relevant to query. An
// empty result (rather than an error) is returned on any failure or when
// memory is disabled or empty.
func (m *Memory) Search(ctx context.Context, query string) []Match {
	if !m.enabled {
		return nil
	}

	k := m.topK
	if docCount := m.collection.Count(); docCount == 0 {
		return nil
	} else if k > docCount {
		k = docCount
	}

	results, err := m.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		m.logger.Warn("remediation memory search failed", zap.Error(err))
		return nil
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{JobID: r.ID, Summary: r.Content, Score: r.Similarity})
	}
	return matches
}

// IsEnabled reports whether this Memory is backed by a live collection.
func (m *Memory) IsEnabled() bool {
	return m.enabled
}
