package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marrow-mcp/marrow/internal/memory"
	"github.com/marrow-mcp/marrow/internal/session"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marrow.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func storeEntry(t *testing.T, s *Store, key, category, content string, tags ...string) *memory.Entry {
	t.Helper()
	e := &memory.Entry{Key: key, Category: category, Content: content, Tags: tags}
	require.NoError(t, s.Store(context.Background(), e))
	return e
}

func TestStoreAndGet(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	storeEntry(t, s, "status", "project", "migrating to the new build system", "build")

	got, err := s.Get(ctx, "status")
	require.NoError(t, err)
	assert.Equal(t, "project", got.Category)
	assert.Equal(t, "migrating to the new build system", got.Content)
	assert.Equal(t, []string{"build"}, got.Tags)
	assert.Equal(t, memory.HashContent(got.Content), got.ContentHash)
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	err := s.Store(ctx, &memory.Entry{Key: "k", Category: "c"})
	assert.ErrorIs(t, err, memory.ErrInvalidInput)

	err = s.Store(ctx, &memory.Entry{Key: "k", Content: "body"})
	assert.ErrorIs(t, err, memory.ErrInvalidInput)

	err = s.Store(ctx, &memory.Entry{Category: "c", Content: "body"})
	assert.ErrorIs(t, err, memory.ErrInvalidInput)
}

func TestUpsertPreservesCreatedAt(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	first := storeEntry(t, s, "status", "project", "version one")
	created := first.CreatedAt

	time.Sleep(10 * time.Millisecond)
	storeEntry(t, s, "status", "project", "version two", "updated")

	got, err := s.GetIn(ctx, "project", "status")
	require.NoError(t, err)
	assert.Equal(t, "version two", got.Content)
	assert.Equal(t, []string{"updated"}, got.Tags)
	assert.True(t, got.CreatedAt.Equal(created), "CreatedAt must survive upsert")
	assert.True(t, got.UpdatedAt.After(created) || got.UpdatedAt.Equal(created))
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marrow.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	e := &memory.Entry{Key: "survivor", Category: "notes", Content: "written before restart"}
	require.NoError(t, store.Store(ctx, e))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "survivor")
	require.NoError(t, err)
	assert.Equal(t, "written before restart", got.Content)
}

func TestDeleteUnknownKeyReturnsNotFound(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Delete(ctx, "ghost"), memory.ErrNotFound)
	assert.ErrorIs(t, s.DeleteIn(ctx, "project", "ghost"), memory.ErrNotFound)

	storeEntry(t, s, "real", "project", "exists")
	require.NoError(t, s.Delete(ctx, "real"))
	_, err := s.Get(ctx, "real")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestListFiltersByCategory(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	storeEntry(t, s, "a", "project", "alpha")
	storeEntry(t, s, "b", "project", "beta")
	storeEntry(t, s, "c", "personal", "gamma")

	project, err := s.List(ctx, "project", 0)
	require.NoError(t, err)
	assert.Len(t, project, 2)

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := s.List(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSearchRanksExactTagAboveSubstring(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	storeEntry(t, s, "mentions", "notes", "we discussed the docker setup at length")
	storeEntry(t, s, "tagged", "notes", "container runtime decisions", "docker")

	results, err := s.Search(ctx, "docker", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "tagged", results[0].Entry.Key)
	assert.Equal(t, memory.MatchTag, results[0].Match)
	assert.Equal(t, memory.MatchContent, results[1].Match)
	assert.Greater(t, results[0].Rank, results[1].Rank)
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	storeEntry(t, s, "mixed", "notes", "The PostgreSQL migration plan")

	results, err := s.Search(ctx, "postgresql", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mixed", results[0].Entry.Key)
}

func TestSearchEmptyQueryIsInvalid(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.Search(context.Background(), "   ", 0)
	assert.ErrorIs(t, err, memory.ErrInvalidInput)
}

func TestCorruptDatabaseIsQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marrow.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite database at all"), 0o644))

	store, err := Open(path)
	require.NoError(t, err, "open must recover from a corrupt file")
	defer store.Close()

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries, "recovered store starts empty")

	matches, err := filepath.Glob(path + ".corrupt.*")
	require.NoError(t, err)
	assert.NotEmpty(t, matches, "corrupt file must be preserved under a quarantine name")
	assert.True(t, store.Recovered())
}

func TestStatsCountsByCategory(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	storeEntry(t, s, "a", "project", "one")
	storeEntry(t, s, "b", "project", "two")
	storeEntry(t, s, "c", "personal", "three")

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, 2, stats.Categories["project"])
	assert.Equal(t, 1, stats.Categories["personal"])
	require.NotNil(t, stats.Oldest)
	require.NotNil(t, stats.Newest)
}

func TestSessionRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	sess := &session.Session{
		ID:        "sess-1",
		Goal:      "wire the transport",
		State:     session.StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.SaveSession(ctx, sess))

	ev := &session.Event{Kind: session.EventMilestone, Detail: "framer done", At: now}
	require.NoError(t, s.AppendEvent(ctx, "sess-1", ev))
	assert.Equal(t, 1, ev.Seq)

	ev2 := &session.Event{Kind: session.EventNote, Detail: "next: dispatcher", At: now}
	require.NoError(t, s.AppendEvent(ctx, "sess-1", ev2))
	assert.Equal(t, 2, ev2.Seq)

	got, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, got.State)
	require.Len(t, got.Events, 2)
	assert.Equal(t, "framer done", got.Events[0].Detail)

	listed, err := s.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, 2, listed[0].EventCount)
	assert.Nil(t, listed[0].Events)
}

func TestAppendEventUnknownSession(t *testing.T) {
	s, _ := openTestStore(t)
	ev := &session.Event{Kind: session.EventNote, Detail: "orphan", At: time.Now()}
	err := s.AppendEvent(context.Background(), "missing", ev)
	assert.ErrorIs(t, err, session.ErrNotFound)
}
