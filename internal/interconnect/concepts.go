// Package interconnect builds associative links between memory entries. It
// extracts lightweight concepts from entry content, scores pairwise
// similarity deterministically, and exposes related-entry lookup plus a
// whole-store concept network.
package interconnect

import (
	"regexp"
	"sort"
	"strings"
)

// maxConcepts caps how many concepts a single entry contributes. Extraction
// order is deterministic so the cap truncates consistently.
const maxConcepts = 20

var (
	camelRe  = regexp.MustCompile(`\b[a-z]+(?:[A-Z][a-z0-9]+)+\b`)
	snakeRe  = regexp.MustCompile(`\b[a-z][a-z0-9]*(?:_[a-z0-9]+)+\b`)
	upperRe  = regexp.MustCompile(`\b[A-Z][A-Z0-9]{2,}(?:_[A-Z0-9]+)*\b`)
	quotedRe = regexp.MustCompile("[\"'`]([^\"'`]{2,60})[\"'`]")
	pathRe   = regexp.MustCompile(`\b[\w.-]+(?:/[\w.-]+)+\b`)
	wordRe   = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9-]{3,}\b`)
)

// stopWords are common words excluded from plain-word concepts.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "have": {}, "this": {},
	"that": {}, "with": {}, "from": {}, "they": {}, "been": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "while": {}, "will": {},
	"would": {}, "could": {}, "should": {}, "there": {}, "their": {},
	"about": {}, "after": {}, "before": {}, "into": {}, "over": {},
	"under": {}, "then": {}, "than": {}, "them": {}, "these": {},
	"those": {}, "some": {}, "such": {}, "very": {}, "just": {},
	"also": {}, "only": {}, "more": {}, "most": {}, "other": {},
	"because": {}, "between": {}, "through": {}, "during": {}, "being": {},
	"does": {}, "doing": {}, "each": {}, "using": {}, "used": {},
	"need": {}, "needs": {}, "like": {}, "make": {}, "made": {},
	"want": {}, "work": {}, "must": {},
}

// technicalTerms get a similarity boost when shared between two entries;
// shared jargon is a stronger signal than shared plain words.
var technicalTerms = map[string]struct{}{
	"api": {}, "database": {}, "sqlite": {}, "postgres": {}, "server": {},
	"client": {}, "config": {}, "cache": {}, "queue": {}, "docker": {},
	"kubernetes": {}, "deploy": {}, "test": {}, "debug": {}, "error": {},
	"timeout": {}, "async": {}, "thread": {}, "mutex": {}, "socket": {},
	"http": {}, "json": {}, "yaml": {}, "auth": {}, "token": {},
	"schema": {}, "index": {}, "migration": {}, "endpoint": {}, "websocket": {},
	"goroutine": {}, "channel": {}, "protocol": {}, "session": {}, "memory": {},
}

// ExtractConcepts pulls identifier-like tokens, quoted phrases, paths, and
// significant words out of content. The result is lowercased, deduplicated,
// deterministic, and capped at maxConcepts.
func ExtractConcepts(content string) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var concepts []string
	add := func(c string) {
		c = strings.ToLower(strings.TrimSpace(c))
		if len(c) < 3 {
			return
		}
		if _, dup := seen[c]; dup {
			return
		}
		seen[c] = struct{}{}
		concepts = append(concepts, c)
	}

	// Identifier-shaped tokens first: they are the strongest signals.
	for _, m := range camelRe.FindAllString(content, -1) {
		add(m)
	}
	for _, m := range snakeRe.FindAllString(content, -1) {
		add(m)
	}
	for _, m := range upperRe.FindAllString(content, -1) {
		add(m)
	}
	for _, m := range quotedRe.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range pathRe.FindAllString(content, -1) {
		add(m)
	}

	// Plain words fill the remaining slots, frequency-weighted so recurring
	// terms beat one-offs.
	counts := make(map[string]int)
	var order []string
	for _, w := range wordRe.FindAllString(content, -1) {
		lw := strings.ToLower(w)
		if _, stop := stopWords[lw]; stop {
			continue
		}
		if counts[lw] == 0 {
			order = append(order, lw)
		}
		counts[lw]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	for _, w := range order {
		if len(concepts) >= maxConcepts {
			break
		}
		add(w)
	}

	if len(concepts) > maxConcepts {
		concepts = concepts[:maxConcepts]
	}
	return concepts
}
