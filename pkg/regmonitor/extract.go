package regmonitor

import (
	"regexp"
	"strings"
)

// Extractor turns a fetched index page into candidate changes. Extraction
// is best-effort; a page that parses to nothing is not an error.
type Extractor interface {
	Extract(body []byte, source Source) []Candidate
}

// ExtractorFor maps a source type to its extractor.
func ExtractorFor(sourceType string) Extractor {
	switch sourceType {
	case "sec":
		return secExtractor{}
	case "fca":
		return fcaExtractor{}
	default:
		return genericExtractor{}
	}
}

var anchorRe = regexp.MustCompile(`(?is)<a[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)

var tagRe = regexp.MustCompile(`(?s)<[^>]+>`)

// anchors pulls (href, text) pairs from raw HTML, stripping nested markup
// from the link text.
func anchors(body []byte) [][2]string {
	matches := anchorRe.FindAllSubmatch(body, -1)
	out := make([][2]string, 0, len(matches))
	for _, m := range matches {
		href := strings.TrimSpace(string(m[1]))
		text := strings.TrimSpace(tagRe.ReplaceAllString(string(m[2]), " "))
		text = strings.Join(strings.Fields(text), " ")
		if href == "" || text == "" {
			continue
		}
		out = append(out, [2]string{href, text})
	}
	return out
}

// classify derives a severity and change type from title keywords.
func classify(title string) (severity, changeType string) {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "enforcement") || strings.Contains(t, "penalty") || strings.Contains(t, "fine"):
		return "critical", "enforcement"
	case strings.Contains(t, "final rule") || strings.Contains(t, "adopted"):
		return "high", "rule"
	case strings.Contains(t, "proposed") || strings.Contains(t, "consultation"):
		return "medium", "consultation"
	case strings.Contains(t, "guidance") || strings.Contains(t, "statement"):
		return "medium", "guidance"
	default:
		return "low", "notice"
	}
}

func resolveURL(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "/") {
		if i := strings.Index(base, "://"); i >= 0 {
			if j := strings.Index(base[i+3:], "/"); j >= 0 {
				return base[:i+3+j] + href
			}
		}
		return strings.TrimRight(base, "/") + href
	}
	return strings.TrimRight(base, "/") + "/" + href
}

func buildCandidates(body []byte, source Source, keep func(href, title string) bool) []Candidate {
	var out []Candidate
	for _, a := range anchors(body) {
		href, title := a[0], a[1]
		if len(title) < 10 || !keep(href, title) {
			continue
		}
		severity, changeType := classify(title)
		out = append(out, Candidate{
			Title:      title,
			URL:        resolveURL(source.BaseURL, href),
			Severity:   severity,
			ChangeType: changeType,
		})
	}
	return out
}

// secExtractor keeps links into the SEC rulemaking and litigation trees.
type secExtractor struct{}

func (secExtractor) Extract(body []byte, source Source) []Candidate {
	return buildCandidates(body, source, func(href, title string) bool {
		h := strings.ToLower(href)
		return strings.Contains(h, "/rules/") ||
			strings.Contains(h, "/litigation/") ||
			strings.Contains(h, "/news/")
	})
}

// fcaExtractor keeps links into the FCA news and publications trees.
type fcaExtractor struct{}

func (fcaExtractor) Extract(body []byte, source Source) []Candidate {
	return buildCandidates(body, source, func(href, title string) bool {
		h := strings.ToLower(href)
		return strings.Contains(h, "/news") ||
			strings.Contains(h, "/publication") ||
			strings.Contains(h, "/consultation")
	})
}

// genericExtractor keeps every substantial link on the page.
type genericExtractor struct{}

func (genericExtractor) Extract(body []byte, source Source) []Candidate {
	return buildCandidates(body, source, func(href, title string) bool {
		return !strings.HasPrefix(href, "#") && !strings.HasPrefix(href, "mailto:")
	})
}
