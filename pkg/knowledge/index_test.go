package knowledge

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbedIsDeterministicAndUnitNorm(t *testing.T) {
	a := Embed("capital adequacy requirements for broker-dealers")
	b := Embed("capital adequacy requirements for broker-dealers")
	require.Equal(t, a, b)
	require.Len(t, a, Dim)

	var norm float64
	for _, v := range a {
		norm += v * v
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)

	require.Equal(t, make([]float64, Dim), Embed(""))
}

func TestCosineSelfSimilarity(t *testing.T) {
	v := Embed("anti money laundering controls")
	require.InDelta(t, 1.0, Cosine(v, v), 1e-9)

	other := Embed("quarterly earnings forecast spreadsheet")
	require.Less(t, Cosine(v, other), 0.99)
}

func seedIndex(t *testing.T) *Index {
	t.Helper()
	ix := NewIndex()
	ix.Add(Entry{ID: "e1", Title: "Capital requirements", Summary: "Bank capital rules", Content: "Minimum capital adequacy ratios for banks.", Category: "banking", CreatedBy: "u1"})
	ix.Add(Entry{ID: "e2", Title: "Suspicious activity reporting", Summary: "SAR filing duties", Content: "When to file a suspicious activity report.", Category: "aml", CreatedBy: "u1"})
	ix.Add(Entry{ID: "e3", Title: "Consumer complaints handling", Summary: "Complaint workflow", Content: "Deadlines for acknowledging consumer complaints.", Category: "conduct", CreatedBy: "u2"})
	return ix
}

func TestHybridSearchRanksExactTitleFirst(t *testing.T) {
	ix := seedIndex(t)

	results := ix.Search("Suspicious activity reporting", ModeHybrid, 10)
	require.NotEmpty(t, results)
	require.Equal(t, "e2", results[0].Entry.ID)

	// Hybrid score of the exact-title match: full keyword overlap plus a
	// high semantic component, comfortably above 0.3 keyword weight alone.
	require.Greater(t, results[0].Score, hybridKeywordWeight)

	// Determinism: the same query yields the same ranking.
	again := ix.Search("Suspicious activity reporting", ModeHybrid, 10)
	require.Equal(t, len(results), len(again))
	for i := range results {
		require.Equal(t, results[i].Entry.ID, again[i].Entry.ID)
		require.Equal(t, results[i].Score, again[i].Score)
	}
}

func TestKeywordSearchScoresOverlap(t *testing.T) {
	ix := seedIndex(t)
	results := ix.Search("capital adequacy", ModeKeyword, 10)
	require.NotEmpty(t, results)
	require.Equal(t, "e1", results[0].Entry.ID)
	require.InDelta(t, 1.0, results[0].Score, 1e-9)

	require.Empty(t, ix.Search("", ModeKeyword, 10))
}

func TestSemanticSearchFindsRelatedEntry(t *testing.T) {
	ix := seedIndex(t)
	results := ix.Search("file a suspicious activity report", ModeSemantic, 3)
	require.NotEmpty(t, results)
	require.Equal(t, "e2", results[0].Entry.ID)
}

func TestSoftDeleteHidesFromSearchAndGet(t *testing.T) {
	ix := seedIndex(t)
	require.NoError(t, ix.Delete("e2"))

	_, err := ix.Get("e2")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, ix.Delete("e2"), ErrNotFound)

	for _, r := range ix.Search("suspicious activity", ModeHybrid, 10) {
		require.NotEqual(t, "e2", r.Entry.ID)
	}

	live, total := ix.Count()
	require.Equal(t, 2, live)
	require.Equal(t, 3, total)
}

func TestUpdateReindexesTokens(t *testing.T) {
	ix := seedIndex(t)
	_, err := ix.Update("e3", func(e *Entry) {
		e.Title = "Whistleblower procedures"
		e.Summary = "Internal reporting channels"
		e.Content = "How employees escalate misconduct reports."
	})
	require.NoError(t, err)

	results := ix.Search("whistleblower procedures", ModeKeyword, 10)
	require.NotEmpty(t, results)
	require.Equal(t, "e3", results[0].Entry.ID)

	for _, r := range ix.Search("consumer complaints", ModeKeyword, 10) {
		require.NotEqual(t, "e3", r.Entry.ID)
	}

	_, err = ix.Update("missing", func(e *Entry) {})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListFiltersByCategory(t *testing.T) {
	ix := seedIndex(t)
	all := ix.List("")
	require.Len(t, all, 3)
	aml := ix.List("aml")
	require.Len(t, aml, 1)
	require.Equal(t, "e2", aml[0].ID)
}

func TestAskStoresSessionWithSources(t *testing.T) {
	ix := seedIndex(t)
	var saved []Session
	store := sessionStoreFunc(func(ctx context.Context, s Session) error {
		saved = append(saved, s)
		return nil
	})

	session, err := ix.Ask(context.Background(), "when must a suspicious activity report be filed", "u9", 2, nil, store)
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)
	require.Equal(t, "u9", session.CreatedBy)
	require.Contains(t, session.SourceIDs, "e2")
	require.NotEmpty(t, session.Answer)
	require.Len(t, saved, 1)
	require.Equal(t, session.ID, saved[0].ID)
}

func TestAskWithEmptyIndex(t *testing.T) {
	ix := NewIndex()
	session, err := ix.Ask(context.Background(), "anything", "u1", 5, nil, nil)
	require.NoError(t, err)
	require.Empty(t, session.SourceIDs)
	require.Contains(t, session.Answer, "No relevant knowledge base entries")
}

type sessionStoreFunc func(ctx context.Context, s Session) error

func (f sessionStoreFunc) SaveSession(ctx context.Context, s Session) error { return f(ctx, s) }
