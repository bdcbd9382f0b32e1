package memory

import (
	"sort"
	"strings"
)

// Rank bases per match kind. An exact tag match always outranks any
// substring match regardless of bonuses.
const (
	rankTag     = 3.0
	rankKey     = 2.0
	rankContent = 1.0
)

// RankEntries scores candidate entries against a free-text query and sorts
// them best first. Both engines use it so ranking semantics are identical
// regardless of how candidates were prefiltered. Ties break on recency then
// entry id, so output is deterministic.
func RankEntries(entries []Entry, query string) []SearchResult {
	q := strings.ToLower(strings.TrimSpace(query))
	var results []SearchResult
	for _, e := range entries {
		rank, match, ok := scoreEntry(&e, q)
		if !ok {
			continue
		}
		results = append(results, SearchResult{Entry: e, Rank: rank, Match: match})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Rank != results[j].Rank {
			return results[i].Rank > results[j].Rank
		}
		if !results[i].Entry.UpdatedAt.Equal(results[j].Entry.UpdatedAt) {
			return results[i].Entry.UpdatedAt.After(results[j].Entry.UpdatedAt)
		}
		return results[i].Entry.ID() < results[j].Entry.ID()
	})
	return results
}

func scoreEntry(e *Entry, q string) (float64, MatchKind, bool) {
	for _, tag := range e.Tags {
		if strings.ToLower(tag) == q {
			return rankTag, MatchTag, true
		}
	}
	if strings.Contains(strings.ToLower(e.Key), q) {
		return rankKey, MatchKey, true
	}
	content := strings.ToLower(e.Content)
	if n := strings.Count(content, q); n > 0 {
		// Repeated occurrences nudge the rank but never reach the key tier.
		bonus := float64(n-1) * 0.1
		if bonus > 0.9 {
			bonus = 0.9
		}
		return rankContent + bonus, MatchContent, true
	}
	// Tag substring matches land between content and key tiers.
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return rankContent + 0.95, MatchTag, true
		}
	}
	return 0, "", false
}
