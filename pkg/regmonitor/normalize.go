package regmonitor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gowebpki/jcs"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)

	// Boilerplate fragments that vary between renderings of the same
	// announcement and must not perturb the hash.
	boilerplate = []string{
		"press release",
		"federal register",
		"read more",
		"view pdf",
		"[pdf]",
		"&nbsp;",
		"&amp;",
	}
)

// Normalize lowercases, strips boilerplate tokens, and collapses whitespace
// so the same announcement hashes identically across renderings.
func Normalize(text string) string {
	out := strings.ToLower(text)
	for _, token := range boilerplate {
		out = strings.ReplaceAll(out, token, " ")
	}
	out = whitespaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// ContentHash is a pure function of the normalized title and body: the pair
// is serialized as canonical JSON (RFC 8785) and hashed with SHA-256. Two
// candidates with the same normalized content always collide, which is what
// the (sourceId, contentHash) uniqueness barrier relies on.
func ContentHash(title, body string) string {
	payload, err := json.Marshal(map[string]string{
		"title": Normalize(title),
		"body":  Normalize(body),
	})
	if err != nil {
		// Marshalling a map[string]string cannot fail; fall back to the
		// raw concatenation if it somehow does.
		payload = []byte(Normalize(title) + "\n" + Normalize(body))
	}
	canonical, err := jcs.Transform(payload)
	if err != nil {
		canonical = payload
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
