package memory

import "context"

// Store is the persistence contract for memory entries. Both the sqlite and
// postgres engines implement it.
//
// Writes are durable before the call returns: a crash immediately after a
// successful Store must not lose the entry.
type Store interface {
	// Store upserts an entry by its (category, key) identity. On update the
	// original CreatedAt is preserved and UpdatedAt is advanced; content and
	// tags are replaced, not merged.
	Store(ctx context.Context, e *Entry) error

	// Get returns the entry with the given key. If the key exists in more
	// than one category, the most recently updated entry wins. Returns
	// ErrNotFound when no entry matches.
	Get(ctx context.Context, key string) (*Entry, error)

	// GetIn returns the entry with the given key in the given category.
	GetIn(ctx context.Context, category, key string) (*Entry, error)

	// Delete removes all entries matching key across categories. Returns
	// ErrNotFound when nothing matched.
	Delete(ctx context.Context, key string) error

	// DeleteIn removes a single entry by its (category, key) identity.
	DeleteIn(ctx context.Context, category, key string) error

	// List returns entries in a category, newest first. An empty category
	// lists everything.
	List(ctx context.Context, category string, limit int) ([]Entry, error)

	// Search ranks entries against a free-text query. Exact tag matches rank
	// above key and content substring matches. Results are ordered by rank
	// descending with deterministic tie-breaking.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// All returns every entry in the store. Used by the consolidator and the
	// interconnect engine, which need the full corpus.
	All(ctx context.Context) ([]Entry, error)

	// Stats reports entry counts by category plus age bounds.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases underlying resources. The store is unusable afterwards.
	Close() error
}

// Validate performs the basic input checks shared by all engines.
func Validate(e *Entry) error {
	if e == nil {
		return ErrInvalidInput
	}
	if e.Content == "" {
		return ErrInvalidInput
	}
	if e.Category == "" {
		return ErrInvalidInput
	}
	return nil
}
