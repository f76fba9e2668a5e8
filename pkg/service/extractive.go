package service

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/quarryhq/quarry/pkg/search"
)

var sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?\n]+[.!?])`)

// extractiveAnswer picks the corpus sentences most related to the
// query: token frequency scoring with a boost for query-term overlap,
// length-normalized, returned in their original order. It backs the
// builtin provider kind.
func extractiveAnswer(corpus, query string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	sentences := sentencePattern.FindAllString(corpus, -1)
	if len(sentences) == 0 {
		return ""
	}

	queryTerms := make(map[string]struct{})
	for _, tok := range search.Tokenize(query) {
		queryTerms[tok] = struct{}{}
	}

	freq := map[string]float64{}
	for _, sentence := range sentences {
		for _, tok := range search.Tokenize(sentence) {
			freq[tok]++
		}
	}
	var maxF float64
	for _, v := range freq {
		if v > maxF {
			maxF = v
		}
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, 0, len(sentences))
	for i, sentence := range sentences {
		tokens := search.Tokenize(sentence)
		if len(tokens) == 0 {
			continue
		}
		var score float64
		var overlap float64
		for _, tok := range tokens {
			score += freq[tok]
			if _, hit := queryTerms[tok]; hit {
				overlap++
			}
		}
		if len(queryTerms) > 0 && overlap == 0 {
			continue
		}
		score /= math.Sqrt(float64(len(tokens)))
		// Sentences sharing more query terms dominate generic frequent ones.
		score += 2 * overlap
		scores = append(scores, scored{idx: i, score: score})
	}
	if len(scores) == 0 {
		return ""
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if maxSentences > len(scores) {
		maxSentences = len(scores)
	}

	selected := make([]int, maxSentences)
	for i := 0; i < maxSentences; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)

	out := make([]string, 0, maxSentences)
	for _, idx := range selected {
		out = append(out, strings.TrimSpace(sentences[idx]))
	}
	return strings.Join(out, " ")
}
