package search

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Candidate is one ranked search hit: an id and its similarity score. The
// payload is never trusted as data; callers hydrate from the index tables.
type Candidate struct {
	SessionID string  `json:"sessionId"`
	Score     float64 `json:"score"`
}

// Searcher ranks conversations for a free-text query.
type Searcher interface {
	Search(ctx context.Context, firmID, query string, limit int) ([]Candidate, error)
}

// Index is an in-memory cosine-similarity index over conversation summaries,
// partitioned by firm. It holds vectors only; conversation content stays in
// the authoritative stores.
type Index struct {
	embedder Embedder

	mu      sync.RWMutex
	vectors map[string]map[string][]float32 // firmID -> sessionID -> vector
}

// NewIndex creates an empty index over the given embedder.
func NewIndex(embedder Embedder) *Index {
	if embedder == nil {
		panic("search: embedder cannot be nil")
	}
	return &Index{
		embedder: embedder,
		vectors:  make(map[string]map[string][]float32),
	}
}

var _ Searcher = (*Index)(nil)

// Upsert embeds a conversation summary and stores its vector.
func (ix *Index) Upsert(ctx context.Context, firmID, sessionID, summary string) error {
	vec, err := ix.embedder.Embed(ctx, summary)
	if err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	firm, ok := ix.vectors[firmID]
	if !ok {
		firm = make(map[string][]float32)
		ix.vectors[firmID] = firm
	}
	firm[sessionID] = vec
	return nil
}

// Remove drops a conversation's vector. Absent entries are a no-op.
func (ix *Index) Remove(firmID, sessionID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if firm, ok := ix.vectors[firmID]; ok {
		delete(firm, sessionID)
	}
}

// Search embeds the query and returns the firm's conversations ranked by
// cosine similarity, best first.
func (ix *Index) Search(ctx context.Context, firmID, query string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 10
	}
	qvec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	ix.mu.RLock()
	firm := ix.vectors[firmID]
	candidates := make([]Candidate, 0, len(firm))
	for sessionID, vec := range firm {
		candidates = append(candidates, Candidate{SessionID: sessionID, Score: cosine(qvec, vec)})
	}
	ix.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].SessionID < candidates[j].SessionID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
