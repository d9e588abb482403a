// Package knowledge implements the knowledge base: entries with
// deterministic embeddings, a tokenized inverted index, keyword/semantic/
// hybrid search, and ask-the-KB composition over a pluggable answerer.
package knowledge

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"regexp"
	"strings"
)

// Dim is the embedding dimensionality.
const Dim = 384

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// Tokenize lowercases and splits on non-alphanumerics, dropping one-char
// fragments.
func Tokenize(text string) []string {
	raw := tokenRe.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, tok := range raw {
		if len(tok) > 1 {
			out = append(out, tok)
		}
	}
	return out
}

// Embed maps text to a unit-norm vector of dimension Dim. It is a pure
// function: each token contributes signed weight to positions derived from
// its digest, so identical text always embeds identically and token overlap
// shows up as cosine similarity.
func Embed(text string) []float64 {
	vec := make([]float64, Dim)
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return vec
	}

	for _, tok := range tokens {
		digest := sha256.Sum256([]byte(tok))
		// Four (position, sign) contributions per token.
		for i := 0; i < 4; i++ {
			chunk := digest[i*8 : i*8+8]
			v := binary.BigEndian.Uint64(chunk)
			pos := int(v % Dim)
			sign := 1.0
			if v&(1<<63) != 0 {
				sign = -1.0
			}
			vec[pos] += sign
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// Cosine returns the cosine similarity of two equal-length vectors.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
