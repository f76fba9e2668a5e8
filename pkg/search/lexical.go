package search

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/quarryhq/quarry/pkg/db"
)

// BM25 constants, standard values.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"to": {}, "was": {}, "were": {}, "will": {}, "with": {},
}

// Tokenize lowercases text and splits it into letter/number runs,
// dropping stopwords.
func Tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if _, skip := stopwords[tok]; skip {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

type lexicalDoc struct {
	id         string
	documentID string
	content    string
	terms      map[string]int
	length     int
}

// LexicalIndex is a per-request BM25 index over one document's segments.
type LexicalIndex struct {
	docs   []lexicalDoc
	df     map[string]int
	avgLen float64
}

// NewLexicalIndex builds an index over the given segments.
func NewLexicalIndex(segments []db.Segment) *LexicalIndex {
	ix := &LexicalIndex{
		docs: make([]lexicalDoc, 0, len(segments)),
		df:   make(map[string]int),
	}
	var totalLen int
	for _, seg := range segments {
		tokens := Tokenize(seg.Content)
		terms := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			terms[tok]++
		}
		for tok := range terms {
			ix.df[tok]++
		}
		totalLen += len(tokens)
		ix.docs = append(ix.docs, lexicalDoc{
			id:         seg.ID,
			documentID: seg.DocumentID,
			content:    seg.Content,
			terms:      terms,
			length:     len(tokens),
		})
	}
	if len(ix.docs) > 0 {
		ix.avgLen = float64(totalLen) / float64(len(ix.docs))
	}
	return ix
}

// Search scores all segments against the query and returns the top k,
// with scores normalized to [0,1] by the best hit.
func (ix *LexicalIndex) Search(query string, k int) []Hit {
	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 || len(ix.docs) == 0 || k <= 0 {
		return nil
	}

	n := float64(len(ix.docs))
	scores := make([]float64, len(ix.docs))
	for i, doc := range ix.docs {
		if doc.length == 0 {
			continue
		}
		var score float64
		for _, term := range queryTerms {
			tf := float64(doc.terms[term])
			if tf == 0 {
				continue
			}
			df := float64(ix.df[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(doc.length)/ix.avgLen))
			score += idf * norm
		}
		scores[i] = score
	}

	var best float64
	for _, s := range scores {
		if s > best {
			best = s
		}
	}
	if best == 0 {
		return nil
	}

	hits := make([]Hit, 0, len(ix.docs))
	for i, doc := range ix.docs {
		if scores[i] == 0 {
			continue
		}
		hits = append(hits, Hit{
			ID:         doc.id,
			DocumentID: doc.documentID,
			Content:    doc.content,
			Similarity: scores[i] / best,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
