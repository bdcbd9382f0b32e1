package interconnect

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/ristretto"

	"github.com/marrow-mcp/marrow/internal/memory"
)

// Link is one associative edge from a source entry to a related entry.
type Link struct {
	EntryID        string   `json:"entry_id"`
	Score          float64  `json:"score"`
	SharedConcepts []string `json:"shared_concepts,omitempty"`
}

// Network is the store-wide concept graph: which entries mention each
// concept, and which entry pairs clear the link threshold.
type Network struct {
	Concepts map[string][]string `json:"concepts"`
	Links    []NetworkLink       `json:"links,omitempty"`
}

// NetworkLink is an undirected scored edge in the concept network. A is
// always the lexically smaller entry id.
type NetworkLink struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Score float64 `json:"score"`
}

// Engine computes links lazily against the live store. Concept extraction is
// memoized in a ristretto cache keyed by entry id and content hash, so an
// entry is re-extracted only after its content actually changes.
type Engine struct {
	store     memory.Store
	cache     *ristretto.Cache
	threshold float64
	limit     int
}

// NewEngine wires an interconnect engine over a memory store. threshold is
// the minimum similarity for a link; limit caps RelatedTo results.
func NewEngine(store memory.Store, threshold float64, limit int) (*Engine, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     16 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("interconnect: failed to create concept cache: %w", err)
	}
	return &Engine{store: store, cache: cache, threshold: threshold, limit: limit}, nil
}

// Close releases the concept cache.
func (e *Engine) Close() {
	e.cache.Close()
}

// conceptsFor returns the entry's concepts, from cache when the content is
// unchanged since last extraction.
func (e *Engine) conceptsFor(entry *memory.Entry) []string {
	key := entry.ID() + "#" + entry.ContentHash
	if cached, ok := e.cache.Get(key); ok {
		if concepts, ok := cached.([]string); ok {
			return concepts
		}
	}
	concepts := ExtractConcepts(entry.Content)
	cost := int64(0)
	for _, c := range concepts {
		cost += int64(len(c))
	}
	e.cache.Set(key, concepts, cost+1)
	return concepts
}

// RelatedTo returns entries associated with the given entry, strongest
// first. The entry id is "category:key". Results below the threshold are
// dropped; ties break on entry id so output is deterministic. A limit of
// zero or less falls back to the engine's configured cap.
func (e *Engine) RelatedTo(ctx context.Context, entryID string, limit int) ([]Link, error) {
	category, key, ok := splitID(entryID)
	if !ok {
		return nil, fmt.Errorf("%w: malformed entry id %q", memory.ErrInvalidInput, entryID)
	}
	source, err := e.store.GetIn(ctx, category, key)
	if err != nil {
		return nil, err
	}

	entries, err := e.store.All(ctx)
	if err != nil {
		return nil, err
	}

	sourceConcepts := e.conceptsFor(source)
	var links []Link
	for i := range entries {
		other := &entries[i]
		if other.ID() == source.ID() {
			continue
		}
		var score float64
		otherConcepts := e.conceptsFor(other)
		if len(sourceConcepts) == 0 && len(otherConcepts) == 0 {
			score = bigramJaccard(source.Content, other.Content)
		} else {
			score = ConceptSimilarity(sourceConcepts, otherConcepts)
		}
		if score < e.threshold {
			continue
		}
		links = append(links, Link{
			EntryID:        other.ID(),
			Score:          score,
			SharedConcepts: SharedConcepts(sourceConcepts, otherConcepts),
		})
	}

	sort.Slice(links, func(i, j int) bool {
		if links[i].Score != links[j].Score {
			return links[i].Score > links[j].Score
		}
		return links[i].EntryID < links[j].EntryID
	})
	if limit <= 0 {
		limit = e.limit
	}
	if limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	return links, nil
}

// ConceptNetwork builds the concept graph: concept membership for every
// entry plus all pairwise links at or above the threshold. A non-empty
// rootConcept restricts the graph to entries mentioning that concept, so
// the result is the root's neighbourhood rather than the whole store.
func (e *Engine) ConceptNetwork(ctx context.Context, rootConcept string) (*Network, error) {
	entries, err := e.store.All(ctx)
	if err != nil {
		return nil, err
	}

	if rootConcept != "" {
		root := strings.ToLower(rootConcept)
		kept := entries[:0]
		for i := range entries {
			for _, c := range e.conceptsFor(&entries[i]) {
				if c == root {
					kept = append(kept, entries[i])
					break
				}
			}
		}
		entries = kept
	}

	net := &Network{Concepts: make(map[string][]string)}
	concepts := make([][]string, len(entries))
	for i := range entries {
		concepts[i] = e.conceptsFor(&entries[i])
		for _, c := range concepts[i] {
			net.Concepts[c] = append(net.Concepts[c], entries[i].ID())
		}
	}
	for c := range net.Concepts {
		sort.Strings(net.Concepts[c])
	}

	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			score := ConceptSimilarity(concepts[i], concepts[j])
			if score < e.threshold {
				continue
			}
			a, b := entries[i].ID(), entries[j].ID()
			if b < a {
				a, b = b, a
			}
			net.Links = append(net.Links, NetworkLink{A: a, B: b, Score: score})
		}
	}
	sort.Slice(net.Links, func(i, j int) bool {
		if net.Links[i].Score != net.Links[j].Score {
			return net.Links[i].Score > net.Links[j].Score
		}
		if net.Links[i].A != net.Links[j].A {
			return net.Links[i].A < net.Links[j].A
		}
		return net.Links[i].B < net.Links[j].B
	})
	return net, nil
}

func splitID(id string) (category, key string, ok bool) {
	idx := strings.Index(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", false
	}
	return id[:idx], id[idx+1:], true
}
