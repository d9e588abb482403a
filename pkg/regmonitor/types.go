// Package regmonitor implements the regulatory monitoring pipeline: per-source
// scrape scheduling, change extraction, content-hash deduplication, and
// failure quarantine with exponential backoff.
package regmonitor

import "time"

// Source is one monitored regulatory publisher.
type Source struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	BaseURL              string    `json:"base_url"`
	SourceType           string    `json:"source_type"`
	CheckIntervalMinutes int       `json:"check_interval_minutes"`
	Active               bool      `json:"active"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	Quarantined          bool      `json:"quarantined"`
	LastCheckedAt        time.Time `json:"last_checked_at,omitempty"`
}

// Candidate is one change extracted from a source's index page, before
// deduplication.
type Candidate struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Body       string `json:"body"`
	Severity   string `json:"severity"`
	ChangeType string `json:"change_type"`
}

// Change is a deduplicated regulatory change row.
type Change struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	ContentHash string    `json:"content_hash"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Severity    string    `json:"severity"`
	ChangeType  string    `json:"change_type"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// CycleResult counts one scrape cycle's outcomes.
type CycleResult struct {
	SourceID   string `json:"source_id"`
	Inserted   int    `json:"inserted"`
	Duplicated int    `json:"duplicated"`
	Failed     int    `json:"failed"`
}

// Stats aggregates monitor counters across all cycles.
type Stats struct {
	Cycles     int64    `json:"cycles"`
	Inserted   int64    `json:"inserted"`
	Duplicated int64    `json:"duplicated"`
	Failed     int64    `json:"failed"`
	Sources    []Source `json:"sources"`
}

// DefaultSources are the publishers monitored out of the box.
func DefaultSources() []Source {
	return []Source{
		{
			ID:                   "sec_edgar",
			Name:                 "SEC EDGAR Rulemaking",
			BaseURL:              "https://www.sec.gov/rules/rulemaking-index.htm",
			SourceType:           "sec",
			CheckIntervalMinutes: 60,
			Active:               true,
		},
		{
			ID:                   "fca",
			Name:                 "FCA News and Publications",
			BaseURL:              "https://www.fca.org.uk/news",
			SourceType:           "fca",
			CheckIntervalMinutes: 60,
			Active:               true,
		},
	}
}
