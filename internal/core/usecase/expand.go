package usecase

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// TermAssociation maps one query token to the terms it pulls into the query.
type TermAssociation struct {
	Term  string
	Terms []string
}

// Dictionary is the declared term-association table for one strategy. Entry
// order is significant: it decides the append order on multi-entry matches.
type Dictionary struct {
	Strategy domain.ExpansionStrategy
	Entries  []TermAssociation
}

// Expander enriches raw queries with strategy-keyed associated terms. Expansion
// is a pure function of (query, strategy, maxTerms), so results are cached in a
// bounded TTL map safe for concurrent use; cached values are never mutated.
type Expander struct {
	dictionaries map[domain.ExpansionStrategy][]TermAssociation
	cache        *expirable.LRU[string, domain.ExpansionResult]
}

func NewExpander(dictionaries []Dictionary, cacheSize int, cacheTTL time.Duration) *Expander {
	e := &Expander{
		dictionaries: make(map[domain.ExpansionStrategy][]TermAssociation, len(dictionaries)),
	}
	for _, d := range dictionaries {
		e.dictionaries[d.Strategy] = d.Entries
	}
	if cacheSize > 0 {
		e.cache = expirable.NewLRU[string, domain.ExpansionResult](cacheSize, nil, cacheTTL)
	}
	return e
}

// Expand appends up to maxTerms associated terms for the query's significant
// tokens, deduplicated in insertion order. Strategy "none" or an unknown
// strategy returns the query unchanged.
func (e *Expander) Expand(query string, strategy domain.ExpansionStrategy, maxTerms int) domain.ExpansionResult {
	unchanged := domain.ExpansionResult{
		Original:   query,
		Expanded:   query,
		AddedTerms: []string{},
	}
	if strategy == domain.StrategyNone || maxTerms <= 0 {
		return unchanged
	}
	entries, ok := e.dictionaries[strategy]
	if !ok || len(entries) == 0 {
		return unchanged
	}

	cacheKey := query + "\x1f" + string(strategy) + "\x1f" + strconv.Itoa(maxTerms)
	if e.cache != nil {
		if cached, hit := e.cache.Get(cacheKey); hit {
			return cached
		}
	}

	added := make([]string, 0, maxTerms)
	seen := make(map[string]struct{}, maxTerms)
	for _, token := range significantTokens(query) {
		if len(added) >= maxTerms {
			break
		}
		for _, entry := range entries {
			if len(added) >= maxTerms {
				break
			}
			if !strings.EqualFold(entry.Term, token) {
				continue
			}
			for _, term := range entry.Terms {
				if len(added) >= maxTerms {
					break
				}
				if _, dup := seen[term]; dup {
					continue
				}
				seen[term] = struct{}{}
				added = append(added, term)
			}
		}
	}

	result := domain.ExpansionResult{
		Original:   query,
		Expanded:   query,
		AddedTerms: added,
	}
	if len(added) > 0 {
		result.Expanded = query + " " + strings.Join(added, " ")
	}
	if e.cache != nil {
		e.cache.Add(cacheKey, result)
	}
	return result
}

var expansionStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "how": {}, "in": {}, "is": {}, "it": {}, "of": {},
	"on": {}, "or": {}, "the": {}, "to": {}, "was": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "why": {}, "with": {},
}

func significantTokens(s string) []string {
	tokens := splitAlphaNumLower(s)
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, stop := expansionStopwords[token]; stop {
			continue
		}
		out = append(out, token)
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
