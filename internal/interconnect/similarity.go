package interconnect

import "strings"

// technicalBoostPerTerm is added per shared technical term, capped so jargon
// overlap can lift a score but never dominate it.
const (
	technicalBoostPerTerm = 0.05
	technicalBoostCap     = 0.2
)

// Similarity scores two content strings in [0, 1]. The score is the Jaccard
// index of their concept sets plus a capped boost for shared technical
// terms; when neither string yields concepts it falls back to character
// bigram overlap. Symmetric and deterministic by construction.
func Similarity(a, b string) float64 {
	ca := ExtractConcepts(a)
	cb := ExtractConcepts(b)
	if len(ca) == 0 && len(cb) == 0 {
		return bigramJaccard(a, b)
	}
	if len(ca) == 0 || len(cb) == 0 {
		return 0
	}

	setA := toSet(ca)
	setB := toSet(cb)
	shared := 0
	boost := 0.0
	for c := range setA {
		if _, ok := setB[c]; !ok {
			continue
		}
		shared++
		if _, tech := technicalTerms[c]; tech {
			boost += technicalBoostPerTerm
		}
	}
	if shared == 0 {
		return 0
	}
	if boost > technicalBoostCap {
		boost = technicalBoostCap
	}

	union := len(setA) + len(setB) - shared
	score := float64(shared)/float64(union) + boost
	if score > 1 {
		score = 1
	}
	return score
}

// ConceptSimilarity scores two precomputed concept sets. Used by the engine
// so per-entry extraction happens once, not per pair.
func ConceptSimilarity(ca, cb []string) float64 {
	if len(ca) == 0 || len(cb) == 0 {
		return 0
	}
	setA := toSet(ca)
	setB := toSet(cb)
	shared := 0
	boost := 0.0
	for c := range setA {
		if _, ok := setB[c]; !ok {
			continue
		}
		shared++
		if _, tech := technicalTerms[c]; tech {
			boost += technicalBoostPerTerm
		}
	}
	if shared == 0 {
		return 0
	}
	if boost > technicalBoostCap {
		boost = technicalBoostCap
	}
	union := len(setA) + len(setB) - shared
	score := float64(shared)/float64(union) + boost
	if score > 1 {
		score = 1
	}
	return score
}

// SharedConcepts returns the sorted intersection of two concept slices.
func SharedConcepts(ca, cb []string) []string {
	setB := toSet(cb)
	var shared []string
	seen := make(map[string]struct{})
	for _, c := range ca {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if _, ok := setB[c]; ok {
			shared = append(shared, c)
		}
	}
	return shared
}

func toSet(concepts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(concepts))
	for _, c := range concepts {
		set[c] = struct{}{}
	}
	return set
}

// bigramJaccard is the fallback for content too short or plain to produce
// concepts, comparing lowercase character bigrams.
func bigramJaccard(a, b string) float64 {
	ga := bigrams(strings.ToLower(a))
	gb := bigrams(strings.ToLower(b))
	if len(ga) == 0 || len(gb) == 0 {
		return 0
	}
	shared := 0
	for g := range ga {
		if _, ok := gb[g]; ok {
			shared++
		}
	}
	if shared == 0 {
		return 0
	}
	return float64(shared) / float64(len(ga)+len(gb)-shared)
}

func bigrams(s string) map[string]struct{} {
	s = strings.Join(strings.Fields(s), " ")
	out := make(map[string]struct{})
	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])] = struct{}{}
	}
	return out
}
