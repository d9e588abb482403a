package knowledge

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mode selects a search strategy.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

const (
	hybridSemanticWeight = 0.7
	hybridKeywordWeight  = 0.3
)

// ErrNotFound is returned for an unknown or deleted entry id.
var ErrNotFound = errors.New("knowledge entry not found")

// Entry is one knowledge base document.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	CreatedBy string    `json:"created_by"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	embedding []float64
	tokens    map[string]bool
}

// Result pairs an entry with its search score.
type Result struct {
	Entry *Entry  `json:"entry"`
	Score float64 `json:"score"`
}

// Index holds entries with a tokenized inverted index over
// title+summary+content and a per-entry embedding.
type Index struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	inverted map[string]map[string]bool // token -> entry ids
}

func NewIndex() *Index {
	return &Index{
		entries:  map[string]*Entry{},
		inverted: map[string]map[string]bool{},
	}
}

func searchableText(e *Entry) string {
	return e.Title + " " + e.Summary + " " + e.Content
}

// Add indexes a new entry, assigning id and timestamps when absent.
func (ix *Index) Add(e Entry) *Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = "active"
	}

	text := searchableText(&e)
	e.embedding = Embed(text)
	e.tokens = map[string]bool{}
	for _, tok := range Tokenize(text) {
		e.tokens[tok] = true
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[e.ID] = &e
	for tok := range e.tokens {
		ids := ix.inverted[tok]
		if ids == nil {
			ids = map[string]bool{}
			ix.inverted[tok] = ids
		}
		ids[e.ID] = true
	}
	return &e
}

// Update reindexes an existing entry's content fields.
func (ix *Index) Update(id string, mutate func(*Entry)) (*Entry, error) {
	ix.mu.Lock()
	cur, ok := ix.entries[id]
	if !ok || cur.Status == "deleted" {
		ix.mu.Unlock()
		return nil, ErrNotFound
	}
	ix.removeTokensLocked(cur)
	cp := *cur
	ix.mu.Unlock()

	mutate(&cp)
	cp.ID = id
	cp.CreatedAt = cur.CreatedAt
	cp.UpdatedAt = time.Now().UTC()

	text := searchableText(&cp)
	cp.embedding = Embed(text)
	cp.tokens = map[string]bool{}
	for _, tok := range Tokenize(text) {
		cp.tokens[tok] = true
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[id] = &cp
	for tok := range cp.tokens {
		ids := ix.inverted[tok]
		if ids == nil {
			ids = map[string]bool{}
			ix.inverted[tok] = ids
		}
		ids[id] = true
	}
	return &cp, nil
}

// Delete soft-deletes: the entry disappears from Get and Search but stays
// countable for analytics.
func (ix *Index) Delete(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[id]
	if !ok || e.Status == "deleted" {
		return ErrNotFound
	}
	e.Status = "deleted"
	ix.removeTokensLocked(e)
	return nil
}

func (ix *Index) removeTokensLocked(e *Entry) {
	for tok := range e.tokens {
		if ids := ix.inverted[tok]; ids != nil {
			delete(ids, e.ID)
			if len(ids) == 0 {
				delete(ix.inverted, tok)
			}
		}
	}
}

// Get returns a live entry.
func (ix *Index) Get(id string) (*Entry, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[id]
	if !ok || e.Status == "deleted" {
		return nil, ErrNotFound
	}
	return e, nil
}

// List returns live entries, newest-updated first, optionally filtered by
// category.
func (ix *Index) List(category string) []*Entry {
	ix.mu.RLock()
	var out []*Entry
	for _, e := range ix.entries {
		if e.Status == "deleted" {
			continue
		}
		if category != "" && e.Category != category {
			continue
		}
		out = append(out, e)
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Count reports (live, total) entry counts; total includes soft-deleted.
func (ix *Index) Count() (live, total int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, e := range ix.entries {
		if e.Status != "deleted" {
			live++
		}
	}
	return live, len(ix.entries)
}

// Search ranks live entries against the query under the given mode.
func (ix *Index) Search(query string, mode Mode, limit int) []Result {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	switch mode {
	case ModeKeyword:
		return topN(ix.keywordScores(query), limit)
	case ModeSemantic:
		return topN(ix.semanticScores(query), limit)
	default:
		kw := ix.keywordScores(query)
		sem := ix.semanticScores(query)
		merged := map[string]*Result{}
		for _, r := range sem {
			merged[r.Entry.ID] = &Result{Entry: r.Entry, Score: hybridSemanticWeight * r.Score}
		}
		for _, r := range kw {
			if m, ok := merged[r.Entry.ID]; ok {
				m.Score += hybridKeywordWeight * r.Score
			} else {
				merged[r.Entry.ID] = &Result{Entry: r.Entry, Score: hybridKeywordWeight * r.Score}
			}
		}
		var all []Result
		for _, r := range merged {
			all = append(all, *r)
		}
		return topN(all, limit)
	}
}

// keywordScores ranks by token overlap: |query ∩ doc| / |query tokens|.
func (ix *Index) keywordScores(query string) []Result {
	qTokens := Tokenize(query)
	if len(qTokens) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := map[string]int{}
	seen := map[string]bool{}
	for _, tok := range qTokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		for id := range ix.inverted[tok] {
			hits[id]++
		}
	}

	var out []Result
	for id, n := range hits {
		e := ix.entries[id]
		if e == nil || e.Status == "deleted" {
			continue
		}
		out = append(out, Result{Entry: e, Score: float64(n) / float64(len(seen))})
	}
	return out
}

// semanticScores ranks by cosine similarity against the query embedding.
func (ix *Index) semanticScores(query string) []Result {
	qVec := Embed(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []Result
	for _, e := range ix.entries {
		if e.Status == "deleted" {
			continue
		}
		score := Cosine(qVec, e.embedding)
		if score > 0 {
			out = append(out, Result{Entry: e, Score: score})
		}
	}
	return out
}

func topN(rs []Result, n int) []Result {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		return rs[i].Entry.ID < rs[j].Entry.ID
	})
	if len(rs) > n {
		rs = rs[:n]
	}
	return rs
}
