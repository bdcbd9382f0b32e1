package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// SimilarityFunc scores two content strings in [0, 1]. It must be symmetric
// and deterministic; the interconnect engine provides the production
// implementation.
type SimilarityFunc func(a, b string) float64

// ConsolidateReport describes what a consolidation pass changed.
type ConsolidateReport struct {
	Examined int     `json:"examined"`
	Merged   int     `json:"merged"`
	Removed  int     `json:"removed"`
	Groups   []Merge `json:"groups,omitempty"`
}

// Merge records one duplicate group collapsed into a surviving entry.
type Merge struct {
	Category string   `json:"category"`
	Survivor string   `json:"survivor"`
	Absorbed []string `json:"absorbed"`
}

// Consolidator merges near-duplicate entries within each category. Two
// entries are near-duplicates when their normalized content is equal or their
// similarity meets the threshold. Duplicate groups are the transitive closure
// of that relation, so a second pass over consolidated data is a no-op.
type Consolidator struct {
	store     Store
	sim       SimilarityFunc
	threshold float64

	// mu serializes passes; two overlapping runs could both pick survivors
	// for the same group and delete each other's choice.
	mu sync.Mutex
}

// NewConsolidator wires a consolidator over a store. threshold is the
// similarity at or above which two entries in the same category merge.
func NewConsolidator(store Store, sim SimilarityFunc, threshold float64) *Consolidator {
	return &Consolidator{store: store, sim: sim, threshold: threshold}
}

// Run performs one consolidation pass over the whole store.
//
// Within each duplicate group the survivor is the entry with the earliest
// CreatedAt (ties broken by key order). The survivor keeps its key and
// CreatedAt, takes the longest content from the group, and acquires the
// sorted union of all tags. Absorbed entries are deleted.
func (c *Consolidator) Run(ctx context.Context) (*ConsolidateReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.store.All(ctx)
	if err != nil {
		return nil, err
	}
	report := &ConsolidateReport{Examined: len(entries)}

	byCategory := make(map[string][]Entry)
	for _, e := range entries {
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	for _, cat := range categories {
		group := byCategory[cat]
		sort.Slice(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			}
			return group[i].Key < group[j].Key
		})

		parent := make([]int, len(group))
		for i := range parent {
			parent[i] = i
		}
		var find func(int) int
		find = func(i int) int {
			for parent[i] != i {
				parent[i] = parent[parent[i]]
				i = parent[i]
			}
			return i
		}
		union := func(a, b int) {
			ra, rb := find(a), find(b)
			if ra != rb {
				if rb < ra {
					ra, rb = rb, ra
				}
				parent[rb] = ra
			}
		}

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if c.duplicate(group[i], group[j]) {
					union(i, j)
				}
			}
		}

		clusters := make(map[int][]int)
		for i := range group {
			root := find(i)
			clusters[root] = append(clusters[root], i)
		}

		roots := make([]int, 0, len(clusters))
		for root := range clusters {
			roots = append(roots, root)
		}
		sort.Ints(roots)

		for _, root := range roots {
			members := clusters[root]
			if len(members) < 2 {
				continue
			}
			// Group sorted earliest-first, so the root index is the survivor.
			survivor := group[members[0]]
			merge := Merge{Category: cat, Survivor: survivor.Key}

			tagSet := make(map[string]struct{})
			for _, t := range survivor.Tags {
				tagSet[t] = struct{}{}
			}
			content := survivor.Content
			for _, idx := range members[1:] {
				absorbed := group[idx]
				merge.Absorbed = append(merge.Absorbed, absorbed.Key)
				for _, t := range absorbed.Tags {
					tagSet[t] = struct{}{}
				}
				if len(absorbed.Content) > len(content) {
					content = absorbed.Content
				}
			}

			tags := make([]string, 0, len(tagSet))
			for t := range tagSet {
				tags = append(tags, t)
			}
			sort.Strings(tags)

			survivor.Tags = tags
			survivor.Content = content
			survivor.ContentHash = HashContent(content)
			survivor.UpdatedAt = time.Now().UTC()
			if err := c.store.Store(ctx, &survivor); err != nil {
				return nil, err
			}
			for _, idx := range members[1:] {
				if err := c.store.DeleteIn(ctx, cat, group[idx].Key); err != nil {
					return nil, err
				}
				report.Removed++
			}
			report.Merged++
			report.Groups = append(report.Groups, merge)
		}
	}
	return report, nil
}

func (c *Consolidator) duplicate(a, b Entry) bool {
	if normalize(a.Content) == normalize(b.Content) {
		return true
	}
	return c.sim != nil && c.sim(a.Content, b.Content) >= c.threshold
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
