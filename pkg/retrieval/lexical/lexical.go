// Package lexical provides the tokenization and overlap scoring shared by
// the relevance grader, query refiner, and reranker fallbacks.
package lexical

import (
	"strings"
	"unicode"
)

// stopwords is the small English stop-word set used for token filtering.
// Deliberately short: over-aggressive filtering hurts short queries more
// than leftover stop-words hurt long ones.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "i": true, "in": true, "is": true, "it": true,
	"of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "will": true, "with": true,
	"my": true, "me": true, "do": true, "does": true, "did": true,
	"about": true, "how": true,
	// Tokenize splits on apostrophes, so possessives and contractions shed
	// single-letter fragments ("user's" -> "user", "s").
	"s": true, "t": true,
}

// IsStopword reports whether the lowercased token is a stop-word.
func IsStopword(token string) bool {
	return stopwords[strings.ToLower(token)]
}

// Tokenize lowercases text and splits it into alphanumeric tokens.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// ContentTokens returns the non-stop-word tokens of text.
func ContentTokens(text string) []string {
	tokens := Tokenize(text)
	out := tokens[:0]
	for _, tok := range tokens {
		if !stopwords[tok] {
			out = append(out, tok)
		}
	}
	return out
}

// Overlap returns the fraction of query tokens present in the candidate,
// stop-words excluded. Zero when the query has no content tokens.
func Overlap(query, candidate string) float64 {
	queryTokens := ContentTokens(query)
	if len(queryTokens) == 0 {
		return 0
	}
	candidateSet := tokenSet(ContentTokens(candidate))
	matched := 0
	for _, tok := range queryTokens {
		if candidateSet[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

// Bigrams returns the adjacent token pairs of text, stop-words included so
// phrases like "vp of finance" survive.
func Bigrams(text string) []string {
	tokens := Tokenize(text)
	if len(tokens) < 2 {
		return nil
	}
	out := make([]string, 0, len(tokens)-1)
	for i := 0; i < len(tokens)-1; i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}

// BigramOverlap returns the fraction of query bigrams present in the
// candidate.
func BigramOverlap(query, candidate string) float64 {
	queryBigrams := Bigrams(query)
	if len(queryBigrams) == 0 {
		return 0
	}
	candidateSet := tokenSet(Bigrams(candidate))
	matched := 0
	for _, bg := range queryBigrams {
		if candidateSet[bg] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryBigrams))
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		set[tok] = true
	}
	return set
}

// TermFrequencies counts content-token occurrences in text.
func TermFrequencies(text string) map[string]int {
	freqs := make(map[string]int)
	for _, tok := range ContentTokens(text) {
		freqs[tok]++
	}
	return freqs
}
