// Package memory defines the durable memory model for marrow and the
// composable store interfaces its engines implement.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed; the sqlite engine is the
// default and the postgres engine is a drop-in alternative.
package memory

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"
)

// Common storage errors. Engines return these sentinels (possibly wrapped)
// so callers can classify failures with errors.Is.
var (
	// ErrNotFound is returned when a requested entry does not exist.
	ErrNotFound = errors.New("memory: entry not found")

	// ErrInvalidInput is returned when an entry fails basic validation.
	ErrInvalidInput = errors.New("memory: invalid input")
)

// Entry is a single persisted memory unit. Identity is the (Category, Key)
// pair: keys are unique within their category. Freeform entries get a
// generated key at store time.
type Entry struct {
	Key             string    `json:"key"`
	Category        string    `json:"category"`
	Content         string    `json:"content"`
	Tags            []string  `json:"tags,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	SourceSessionID string    `json:"source_session_id,omitempty"` // weak reference, lookup only
	ContentHash     string    `json:"content_hash,omitempty"`      // sha-256 of Content
	AccessCount     int       `json:"access_count"`
}

// ID returns the entry's stable identifier, derived from its category and
// key. Concept links reference entries by this id.
func (e *Entry) ID() string {
	return e.Category + ":" + e.Key
}

// HashContent computes the sha-256 content hash used for dedup detection and
// link invalidation.
func HashContent(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}

// MatchKind describes which field of an entry matched a search query.
type MatchKind string

const (
	// MatchTag is an exact tag match; ranked above all substring matches.
	MatchTag MatchKind = "tag"
	// MatchKey is a key substring match.
	MatchKey MatchKind = "key"
	// MatchContent is a content substring match.
	MatchContent MatchKind = "content"
)

// SearchResult pairs a matched entry with its rank. Higher rank sorts first;
// exact tag matches always outrank substring matches.
type SearchResult struct {
	Entry Entry     `json:"entry"`
	Rank  float64   `json:"rank"`
	Match MatchKind `json:"match"`
}

// Stats summarises the store contents for health and diagnostics output.
type Stats struct {
	Entries    int            `json:"entries"`
	Categories map[string]int `json:"categories"`
	Oldest     *time.Time     `json:"oldest,omitempty"`
	Newest     *time.Time     `json:"newest,omitempty"`
}
