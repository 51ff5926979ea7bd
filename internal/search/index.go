// Package search ranks cached remote files for quick-open. Documents are
// file paths; the base name weighs more than the directories above it.
package search

import (
	"iter"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/remotecpp-dev/remotecpp/internal/index"
	"github.com/remotecpp-dev/remotecpp/internal/rpath"
)

const DefaultLimit = 20

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

type Document struct {
	Path   string
	Name   string
	Length int
	Terms  map[string]int
}

type Index struct {
	DocumentCount int
	AvgDocLength  float64
	DocFreq       map[string]int
	Documents     []Document
}

type Result struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// Build indexes every file in entries. Paths are made relative to root for
// term extraction so the shared project prefix does not dilute scores.
func Build(root string, entries iter.Seq[index.Entry]) *Index {
	documents := make([]Document, 0)
	docFreq := make(map[string]int)
	totalLength := 0

	for entry := range entries {
		if entry.IsDir() {
			continue
		}
		full := entry.Path()
		rel, ok := rpath.Rel(root, full)
		if !ok {
			rel = full
		}
		terms := buildTerms(entry.Name, rpath.Dir(rel))
		length := 0
		for _, count := range terms {
			length += count
		}
		if length == 0 {
			continue
		}
		documents = append(documents, Document{Path: full, Name: entry.Name, Length: length, Terms: terms})
		totalLength += length
		for term := range terms {
			docFreq[term]++
		}
	}

	sort.Slice(documents, func(i, j int) bool {
		return documents[i].Path < documents[j].Path
	})

	avgDocLength := 0.0
	if len(documents) > 0 {
		avgDocLength = float64(totalLength) / float64(len(documents))
	}
	return &Index{
		DocumentCount: len(documents),
		AvgDocLength:  avgDocLength,
		DocFreq:       docFreq,
		Documents:     documents,
	}
}

// Search scores documents with BM25 and falls back to edit distance on the
// file name when nothing matches a term.
func Search(idx *Index, query string, limit int) []Result {
	if idx == nil || len(idx.Documents) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}
	seenTerms := make(map[string]bool, len(queryTerms))
	uniqueTerms := make([]string, 0, len(queryTerms))
	for _, term := range queryTerms {
		if seenTerms[term] {
			continue
		}
		seenTerms[term] = true
		uniqueTerms = append(uniqueTerms, term)
	}

	k1 := 1.2
	b := 0.75
	n := float64(idx.DocumentCount)
	avgLen := idx.AvgDocLength
	if avgLen <= 0 {
		avgLen = 1
	}

	results := make([]Result, 0)
	for _, doc := range idx.Documents {
		score := 0.0
		docLen := float64(doc.Length)
		for _, term := range uniqueTerms {
			tf := float64(doc.Terms[term])
			if tf <= 0 {
				continue
			}
			df := float64(idx.DocFreq[term])
			if df <= 0 {
				continue
			}
			idf := math.Log(1.0 + ((n - df + 0.5) / (df + 0.5)))
			score += idf * (tf * (k1 + 1.0)) / (tf + k1*(1.0-b+b*(docLen/avgLen)))
		}
		if score > 0 {
			results = append(results, Result{Path: doc.Path, Score: score})
		}
	}
	sortResults(results)

	if len(results) > limit {
		results = results[:limit]
	}
	if len(results) == 0 {
		return fuzzyNameFallback(idx.Documents, query, limit)
	}
	return results
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Path < results[j].Path
	})
}

func buildTerms(name, dir string) map[string]int {
	terms := make(map[string]int)
	addWeighted(terms, name, 4)
	addWeighted(terms, dir, 1)
	return terms
}

func addWeighted(terms map[string]int, value string, weight int) {
	for _, token := range tokenize(value) {
		terms[token] += weight
	}
}

// tokenize lower-cases value and splits it on punctuation and camel-case
// boundaries, so "FooBar_baz.h" yields foo, bar, baz, h.
func tokenize(value string) []string {
	if value == "" {
		return nil
	}
	var b strings.Builder
	runes := []rune(value)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			b.WriteByte(' ')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return tokenPattern.FindAllString(b.String(), -1)
}

func fuzzyNameFallback(documents []Document, query string, limit int) []Result {
	needle := normalizeForFuzzy(query)
	if needle == "" {
		return nil
	}

	results := make([]Result, 0)
	for _, doc := range documents {
		candidate := normalizeForFuzzy(rpath.Stem(doc.Name))
		if candidate == "" {
			continue
		}
		distance := levenshteinDistance(needle, candidate)
		threshold := len(candidate) / 3
		if threshold < 2 {
			threshold = 2
		}
		if distance > threshold {
			continue
		}
		results = append(results, Result{Path: doc.Path, Score: 1.0 / float64(1+distance)})
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func normalizeForFuzzy(value string) string {
	return strings.Join(tokenize(value), "")
}

func levenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		current := make([]int, len(b)+1)
		current[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			current[j] = min(current[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev = current
	}
	return prev[len(b)]
}
