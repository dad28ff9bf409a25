package vector

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token length bounds. Tokens outside this range carry little signal and
// are dropped during tokenization.
const (
	minTokenLen = 3
	maxTokenLen = 19
)

// Vector is a sparse TF-IDF vector keyed by term. Vectors produced by a
// Generator are L2-normalized, so Cosine reduces to a dot product.
type Vector map[string]float64

// Generator computes TF-IDF vectors over a live corpus of documents.
//
// The corpus grows and shrinks with the cache: Add registers a document
// and returns its vector, Remove retires one. Vectors are computed with
// the corpus statistics current at the time of the call and are not
// recomputed when the corpus changes afterwards.
type Generator struct {
	docs int
	df   map[string]int
}

// NewGenerator returns an empty Generator.
func NewGenerator() *Generator {
	return &Generator{df: make(map[string]int)}
}

// Docs returns the number of documents currently in the corpus.
func (g *Generator) Docs() int {
	return g.docs
}

// Tokenize normalizes text into the token stream used for vectorization:
// lowercased, with every non-alphanumeric rune treated as a separator.
// Tokens shorter than 3 or longer than 19 runes and English stopwords
// are dropped.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := fields[:0]
	for _, tok := range fields {
		n := utf8.RuneCountInString(tok)
		if n < minTokenLen || n > maxTokenLen {
			continue
		}
		if _, ok := stopwords[tok]; ok {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Vectorize computes the TF-IDF vector of text against the current corpus
// without modifying the corpus. It returns nil when the text yields no
// tokens.
func (g *Generator) Vectorize(text string) Vector {
	return g.fromTokens(Tokenize(text))
}

// Add registers text as a new corpus document and returns its vector,
// computed with the updated statistics. It returns nil when the text
// yields no tokens, in which case the corpus is left unchanged.
func (g *Generator) Add(text string) Vector {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	g.docs++
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		g.df[tok]++
	}

	return g.fromTokens(tokens)
}

// Remove retires a previously added document from the corpus, identified
// by the vector Add returned for it. Removing a nil or empty vector is a
// no-op.
func (g *Generator) Remove(v Vector) {
	if len(v) == 0 {
		return
	}
	if g.docs > 0 {
		g.docs--
	}
	for term := range v {
		if g.df[term] > 1 {
			g.df[term]--
		} else {
			delete(g.df, term)
		}
	}
}

// Restore re-registers a document restored from a snapshot. Unlike Add it
// keeps the supplied vector as-is and only rebuilds the corpus statistics.
func (g *Generator) Restore(v Vector) {
	if len(v) == 0 {
		return
	}
	g.docs++
	for term := range v {
		g.df[term]++
	}
}

// fromTokens weights the token counts with TF-IDF and normalizes the
// result. The document count and per-term document frequency are floored
// at 1 so an empty or cold corpus never produces infinities. When every
// term appears in every document the IDF weighting zeroes the whole
// vector; the corpus's first document always hits this (IDF = ln(1/1)),
// so a degenerate vector falls back to plain term-frequency weights to
// keep the document matchable.
func (g *Generator) fromTokens(tokens []string) Vector {
	if len(tokens) == 0 {
		return nil
	}

	counts := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}

	docs := g.docs
	if docs < 1 {
		docs = 1
	}

	total := float64(len(tokens))
	v := make(Vector, len(counts))
	var sum float64
	for term, n := range counts {
		df := g.df[term]
		if df < 1 {
			df = 1
		}
		tf := float64(n) / total
		w := tf * math.Log(float64(docs)/float64(df))
		v[term] = w
		sum += w * w
	}
	if sum == 0 {
		for term, n := range counts {
			v[term] = float64(n) / total
		}
	}
	return v.normalize()
}

// normalize scales v to unit length in place. A zero-magnitude vector is
// returned unchanged.
func (v Vector) normalize() Vector {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	if sum == 0 {
		return v
	}
	mag := math.Sqrt(sum)
	for term, w := range v {
		v[term] = w / mag
	}
	return v
}

// Cosine returns the cosine similarity of two normalized vectors, clamped
// to [0, 1]. Either vector being nil or empty yields 0.
func Cosine(a, b Vector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for term, wa := range a {
		if wb, ok := b[term]; ok {
			dot += wa * wb
		}
	}
	switch {
	case dot < 0:
		return 0
	case dot > 1:
		return 1
	}
	return dot
}

// HashText returns a stable hex digest of the normalized token stream of
// text. Texts that tokenize identically share a hash regardless of case
// or punctuation.
func HashText(text string) string {
	h := fnv.New64a()
	for i, tok := range Tokenize(text) {
		if i > 0 {
			h.Write([]byte{' '})
		}
		h.Write([]byte(tok))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
