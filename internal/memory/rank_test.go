package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankEntriesTierOrdering(t *testing.T) {
	now := time.Now().UTC()
	entries := []Entry{
		{Key: "by-content", Category: "n", Content: "we talked about docker today", UpdatedAt: now},
		{Key: "docker-notes", Category: "n", Content: "unrelated body", UpdatedAt: now},
		{Key: "by-tag", Category: "n", Content: "container things", Tags: []string{"docker"}, UpdatedAt: now},
	}

	results := RankEntries(entries, "docker")
	require.Len(t, results, 3)
	assert.Equal(t, "by-tag", results[0].Entry.Key)
	assert.Equal(t, MatchTag, results[0].Match)
	assert.Equal(t, "docker-notes", results[1].Entry.Key)
	assert.Equal(t, MatchKey, results[1].Match)
	assert.Equal(t, "by-content", results[2].Entry.Key)
	assert.Equal(t, MatchContent, results[2].Match)
}

func TestRankEntriesSkipsNonMatches(t *testing.T) {
	entries := []Entry{
		{Key: "k", Category: "n", Content: "nothing relevant here"},
	}
	assert.Empty(t, RankEntries(entries, "docker"))
}

func TestRankEntriesRecencyBreaksTies(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	entries := []Entry{
		{Key: "old", Category: "n", Content: "docker", UpdatedAt: older},
		{Key: "new", Category: "n", Content: "docker", UpdatedAt: newer},
	}
	results := RankEntries(entries, "docker")
	require.Len(t, results, 2)
	assert.Equal(t, "new", results[0].Entry.Key)
}
