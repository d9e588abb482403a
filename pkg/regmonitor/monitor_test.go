package regmonitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veridian-labs/veridian/core/pkg/httpclient"
	"github.com/veridian-labs/veridian/core/pkg/patterns"
)

const secIndexHTML = `<html><body>
<a href="/rules/final/2026/34-99991.htm">Final rule: amendments to broker-dealer reporting</a>
<a href="/rules/proposed/2026/33-11501.htm">Proposed rule on climate-related disclosures for issuers</a>
<a href="#top">Top</a>
<a href="/about.htm">About</a>
</body></html>`

func newTestMonitor(t *testing.T, url string) (*Monitor, *MemoryChangeStore, *patterns.Engine) {
	t.Helper()
	changes := NewMemoryChangeStore()
	engine := patterns.NewEngine(patterns.Config{}, nil)
	m := NewMonitor(Config{FailureThreshold: 5}, httpclient.New(5*time.Second), changes, nil, engine)
	m.AddSource(Source{
		ID: "sec_edgar", Name: "SEC", BaseURL: url, SourceType: "sec",
		CheckIntervalMinutes: 60, Active: true,
	})
	return m, changes, engine
}

func TestDedupAcrossTwoCycles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(secIndexHTML))
	}))
	defer srv.Close()

	m, changes, engine := newTestMonitor(t, srv.URL)
	ctx := context.Background()

	first, err := m.CheckSource(ctx, "sec_edgar")
	require.NoError(t, err)
	require.Equal(t, 2, first.Inserted)
	require.Equal(t, 0, first.Duplicated)

	rows, err := changes.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NotEqual(t, rows[0].ContentHash, rows[1].ContentHash)
	firstSeen := map[string]time.Time{}
	for _, c := range rows {
		firstSeen[c.ContentHash] = c.LastSeenAt
	}

	// Second cycle over the same page inserts nothing and advances
	// lastSeenAt on both rows.
	m.now = func() time.Time { return time.Now().UTC().Add(time.Minute) }
	second, err := m.CheckSource(ctx, "sec_edgar")
	require.NoError(t, err)
	require.Equal(t, 0, second.Inserted)
	require.Equal(t, 2, second.Duplicated)

	rows, err = changes.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, c := range rows {
		require.True(t, c.LastSeenAt.After(firstSeen[c.ContentHash]))
	}

	// Each successful cycle emits one data point into the engine.
	require.Equal(t, int64(2), engine.Stats().TotalPoints)
}

func TestQuarantineAndForceCheckRecovery(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(secIndexHTML))
	}))
	defer srv.Close()

	m, _, _ := newTestMonitor(t, srv.URL)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := m.CheckSource(ctx, "sec_edgar")
		require.Error(t, err)
	}

	stats := m.Stats()
	require.Len(t, stats.Sources, 1)
	require.Equal(t, 5, stats.Sources[0].ConsecutiveFailures)
	require.True(t, stats.Sources[0].Quarantined)

	healthy.Store(true)
	result, err := m.ForceCheck(ctx, "sec_edgar")
	require.NoError(t, err)
	require.Equal(t, 2, result.Inserted)

	stats = m.Stats()
	require.Equal(t, 0, stats.Sources[0].ConsecutiveFailures)
	require.False(t, stats.Sources[0].Quarantined)
}

func TestBackoffDoublesUnderQuarantine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m, _, _ := newTestMonitor(t, srv.URL)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, _ = m.CheckSource(ctx, "sec_edgar")
	}

	m.mu.Lock()
	backoff := m.sources["sec_edgar"].backoff
	m.mu.Unlock()
	// Threshold crossed at 5 (15m), doubled at 6 (30m) and 7 (1h).
	require.Equal(t, time.Hour, backoff)
}

func TestForceCheckUnknownSource(t *testing.T) {
	m := NewMonitor(Config{}, httpclient.New(time.Second), NewMemoryChangeStore(), nil, nil)
	_, err := m.ForceCheck(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownSource)
}

func TestLoadSourcesSeedsDefaults(t *testing.T) {
	store := NewMemorySourceStore(nil)
	m := NewMonitor(Config{}, httpclient.New(time.Second), NewMemoryChangeStore(), store, nil)
	require.NoError(t, m.LoadSources(context.Background()))

	srcs := m.Sources()
	require.Len(t, srcs, 2)

	persisted, err := store.ListSources(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 2)
}

func TestLoadSourcesRestoresQuarantineFlag(t *testing.T) {
	store := NewMemorySourceStore([]Source{{
		ID: "broken", Name: "Broken", BaseURL: "http://x", SourceType: "generic",
		CheckIntervalMinutes: 60, Active: true, ConsecutiveFailures: 9,
	}})
	m := NewMonitor(Config{FailureThreshold: 5}, httpclient.New(time.Second), NewMemoryChangeStore(), store, nil)
	require.NoError(t, m.LoadSources(context.Background()))

	srcs := m.Sources()
	require.Len(t, srcs, 1)
	require.True(t, srcs[0].Quarantined)
}

func TestNormalizeCollapsesRenderingNoise(t *testing.T) {
	a := Normalize("  Final Rule:   Broker-Dealer\tReporting  [PDF] ")
	b := Normalize("final rule: broker-dealer reporting")
	require.Equal(t, b, a)
}

func TestContentHashIsPureAndDistinct(t *testing.T) {
	h1 := ContentHash("Final Rule: Reporting", "body text")
	h2 := ContentHash("  final   rule: reporting ", "BODY TEXT")
	require.Equal(t, h1, h2)

	h3 := ContentHash("A different rule", "body text")
	require.NotEqual(t, h1, h3)
	require.Len(t, h1, 64)
}

func TestExtractorFiltersByTree(t *testing.T) {
	src := Source{BaseURL: "https://www.sec.gov/rules/index.htm", SourceType: "sec"}
	got := ExtractorFor("sec").Extract([]byte(secIndexHTML), src)
	require.Len(t, got, 2)
	require.Equal(t, "https://www.sec.gov/rules/final/2026/34-99991.htm", got[0].URL)
	require.Equal(t, "rule", got[0].ChangeType)
	require.Equal(t, "high", got[0].Severity)
	require.Equal(t, "consultation", got[1].ChangeType)

	// Generic keeps any substantial link; the fragment anchor and the
	// short-titled about link fall below the title floor.
	generic := ExtractorFor("unknown").Extract([]byte(secIndexHTML), src)
	require.Len(t, generic, 2)
}

func TestSchedulerRunsDueSources(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(secIndexHTML))
	}))
	defer srv.Close()

	changes := NewMemoryChangeStore()
	m := NewMonitor(Config{SchedulerTick: 10 * time.Millisecond}, httpclient.New(time.Second), changes, nil, nil)
	m.AddSource(Source{
		ID: "fast", Name: "Fast", BaseURL: srv.URL, SourceType: "generic",
		CheckIntervalMinutes: 60, Active: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.True(t, m.Start(ctx))

	require.Eventually(t, func() bool { return hits.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	m.Stop()

	// One cycle ran; the next is an hour out.
	require.Equal(t, int32(1), hits.Load())
}
