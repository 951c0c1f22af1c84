package refiner

import (
	"context"
	"strings"
	"unicode"

	"github.com/justice-rest/intelmem/pkg/retrieval/lexical"
)

// longQueryTokens is the token count past which stop-word trimming applies.
const longQueryTokens = 8

// synonyms is a small domain-term table for expansion. First applicable
// strategy wins, so this only fires when no proper nouns were found.
var synonyms = map[string][]string{
	"job":      {"role", "position"},
	"work":     {"job", "occupation"},
	"boss":     {"manager", "supervisor"},
	"company":  {"employer", "organization"},
	"likes":    {"prefers", "enjoys"},
	"dislikes": {"avoids", "hates"},
	"money":    {"finance", "budget"},
	"home":     {"house", "residence"},
	"kids":     {"children", "family"},
	"car":      {"vehicle"},
	"food":     {"meal", "diet"},
	"trip":     {"travel", "vacation"},
}

// Heuristic refines queries deterministically, without a remote call. Three
// strategies are tried in priority order, first applicable wins: quote
// proper-noun phrases for exact-match focus, expand with the synonym table,
// trim stop-words from over-long queries.
type Heuristic struct{}

// NewHeuristic creates a heuristic refiner.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Refine rewrites the query locally. Never returns an error.
func (h *Heuristic) Refine(_ context.Context, req Request) (*Result, error) {
	if res := skipResult(req); res != nil {
		return res, nil
	}

	if refined, entities := quoteProperNouns(req.CurrentQuery); refined != req.CurrentQuery {
		return &Result{
			Query:      refined,
			Type:       TypeEntityFocus,
			Reasoning:  "quoted proper-noun phrases for exact-match focus",
			Entities:   entities,
			Confidence: 0.5,
		}, nil
	}

	if expanded, terms := expandSynonyms(req.CurrentQuery); expanded != req.CurrentQuery {
		return &Result{
			Query:        expanded,
			Type:         TypeExpansion,
			Reasoning:    "expanded domain terms with synonyms",
			Alternatives: terms,
			Confidence:   0.4,
		}, nil
	}

	if trimmed := trimStopwords(req.CurrentQuery); trimmed != req.CurrentQuery {
		return &Result{
			Query:      trimmed,
			Type:       TypeReformulation,
			Reasoning:  "trimmed stop-words from an over-long query",
			Confidence: 0.4,
		}, nil
	}

	return &Result{
		Query:      req.CurrentQuery,
		Type:       TypeNone,
		Reasoning:  "no applicable local refinement",
		Confidence: 0.3,
	}, nil
}

// quoteProperNouns wraps runs of capitalized words in quotes. A single
// capitalized word at the start of the query is treated as sentence case,
// not a proper noun.
func quoteProperNouns(query string) (string, []string) {
	if strings.Contains(query, `"`) {
		return query, nil
	}
	words := strings.Fields(query)
	var out []string
	var entities []string

	for i := 0; i < len(words); {
		if !isCapitalized(words[i]) {
			out = append(out, words[i])
			i++
			continue
		}
		j := i
		for j < len(words) && isCapitalized(words[j]) {
			j++
		}
		phrase := strings.Join(words[i:j], " ")
		if i == 0 && j-i == 1 {
			out = append(out, phrase)
		} else {
			out = append(out, `"`+phrase+`"`)
			entities = append(entities, phrase)
		}
		i = j
	}
	if len(entities) == 0 {
		return query, nil
	}
	return strings.Join(out, " "), entities
}

func isCapitalized(word string) bool {
	runes := []rune(word)
	return len(runes) > 0 && unicode.IsUpper(runes[0])
}

// expandSynonyms appends synonyms for the first matching domain term.
func expandSynonyms(query string) (string, []string) {
	for _, tok := range lexical.Tokenize(query) {
		if subs, ok := synonyms[tok]; ok {
			return query + " " + strings.Join(subs, " "), subs
		}
	}
	return query, nil
}

// trimStopwords drops stop-words from queries longer than longQueryTokens.
func trimStopwords(query string) string {
	words := strings.Fields(query)
	if len(words) <= longQueryTokens {
		return query
	}
	kept := make([]string, 0, len(words))
	for _, word := range words {
		if !lexical.IsStopword(strings.Trim(word, `"'.,?!`)) {
			kept = append(kept, word)
		}
	}
	if len(kept) == 0 || len(kept) == len(words) {
		return query
	}
	return strings.Join(kept, " ")
}

var _ Refiner = (*Heuristic)(nil)
