package memory

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal in-memory Store for consolidator tests.
type fakeStore struct {
	entries map[string]Entry // keyed by Entry.ID()
}

func newFakeStore(entries ...Entry) *fakeStore {
	s := &fakeStore{entries: make(map[string]Entry)}
	for _, e := range entries {
		s.entries[e.ID()] = e
	}
	return s
}

func (s *fakeStore) Store(_ context.Context, e *Entry) error {
	s.entries[e.ID()] = *e
	return nil
}

func (s *fakeStore) Get(_ context.Context, key string) (*Entry, error) {
	for _, e := range s.entries {
		if e.Key == key {
			out := e
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeStore) GetIn(_ context.Context, category, key string) (*Entry, error) {
	e, ok := s.entries[category+":"+key]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	deleted := false
	for id, e := range s.entries {
		if e.Key == key {
			delete(s.entries, id)
			deleted = true
		}
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

func (s *fakeStore) DeleteIn(_ context.Context, category, key string) error {
	id := category + ":" + key
	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

func (s *fakeStore) List(_ context.Context, category string, _ int) ([]Entry, error) {
	var out []Entry
	for _, e := range s.entries {
		if category == "" || e.Category == category {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) Search(context.Context, string, int) ([]SearchResult, error) {
	return nil, nil
}

func (s *fakeStore) All(_ context.Context) ([]Entry, error) {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (s *fakeStore) Stats(context.Context) (*Stats, error) {
	return &Stats{Entries: len(s.entries)}, nil
}

func (s *fakeStore) Close() error { return nil }

func wordOverlap(a, b string) float64 {
	aw := strings.Fields(strings.ToLower(a))
	bw := strings.Fields(strings.ToLower(b))
	set := make(map[string]struct{}, len(aw))
	for _, w := range aw {
		set[w] = struct{}{}
	}
	shared := 0
	seen := make(map[string]struct{})
	for _, w := range bw {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := set[w]; ok {
			shared++
		}
	}
	total := len(set) + len(seen) - shared
	if total == 0 {
		return 0
	}
	return float64(shared) / float64(total)
}

func entryAt(key, category, content string, tags []string, created time.Time) Entry {
	return Entry{
		Key:         key,
		Category:    category,
		Content:     content,
		Tags:        tags,
		CreatedAt:   created,
		UpdatedAt:   created,
		ContentHash: HashContent(content),
	}
}

func TestConsolidateMergesNearDuplicates(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(
		entryAt("a", "project", "the build uses sqlite for storage", []string{"build"}, t0),
		entryAt("b", "project", "The build uses SQLite for storage", []string{"storage"}, t0.Add(time.Hour)),
		entryAt("c", "project", "unrelated note about websockets", []string{"ws"}, t0.Add(2*time.Hour)),
	)

	c := NewConsolidator(store, wordOverlap, 0.9)
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Examined)
	assert.Equal(t, 1, report.Merged)
	assert.Equal(t, 1, report.Removed)

	// Survivor is the earliest entry and keeps its key and CreatedAt.
	survivor, err := store.GetIn(context.Background(), "project", "a")
	require.NoError(t, err)
	assert.True(t, survivor.CreatedAt.Equal(t0))
	assert.Equal(t, []string{"build", "storage"}, survivor.Tags)

	_, err = store.GetIn(context.Background(), "project", "b")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetIn(context.Background(), "project", "c")
	assert.NoError(t, err)
}

func TestConsolidateIsIdempotent(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(
		entryAt("x", "notes", "remember to rotate the auth token weekly", []string{"auth"}, t0),
		entryAt("y", "notes", "remember to rotate the auth token weekly!", nil, t0.Add(time.Minute)),
	)

	c := NewConsolidator(store, wordOverlap, 0.8)
	first, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Merged)

	second, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Merged)
	assert.Equal(t, 0, second.Removed)

	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestConsolidateKeepsCategoriesApart(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(
		entryAt("k", "project", "same content here", nil, t0),
		entryAt("k2", "personal", "same content here", nil, t0.Add(time.Minute)),
	)

	c := NewConsolidator(store, wordOverlap, 0.9)
	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Merged)

	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
