// Package sqlite is the default persistence engine, backed by a single
// SQLite database file in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/marrow-mcp/marrow/internal/memory"
	"github.com/marrow-mcp/marrow/internal/session"
)

// Store implements memory.Store and session.Store over one SQLite database.
type Store struct {
	db *sql.DB

	// recovered is set when the database file was quarantined as corrupt at
	// open time and replaced with a fresh empty one.
	recovered bool
}

// Recovered reports whether this store started empty after quarantining a
// corrupt database file.
func (s *Store) Recovered() bool { return s.recovered }

// Open opens (or creates) a SQLite store with WAL self-healing and
// corruption quarantine.
//
// If the initial open fails due to stale WAL files left behind by a crashed
// process, it verifies no other process holds them and retries once after
// removing the stale -shm/-wal files. If the database file itself is
// corrupt, the file is quarantined with a timestamped suffix and a fresh
// empty database takes its place; startup proceeds with a warning rather
// than failing.
func Open(dsn string) (*Store, error) {
	store, err := open(dsn)
	if err == nil {
		return store, nil
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" {
		return nil, err
	}

	if isRecoverableWALError(err) && isWALStale(dbPath) {
		removeStaleWAL(dbPath)
		store, retryErr := open(dsn)
		if retryErr == nil {
			log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
			return store, nil
		}
		err = fmt.Errorf("after WAL recovery: %w (original: %v)", retryErr, err)
	}

	if isCorruptionError(err) {
		quarantined := quarantine(dbPath)
		store, retryErr := open(dsn)
		if retryErr != nil {
			return nil, fmt.Errorf("after quarantine of corrupt database: %w (original: %v)", retryErr, err)
		}
		log.Printf("sqlite: WARNING: database was corrupt, quarantined to %s and starting empty", quarantined)
		store.recovered = true
		return store, nil
	}

	return nil, err
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Store upserts an entry by its (category, key) identity, preserving the
// original CreatedAt on update.
func (s *Store) Store(ctx context.Context, e *memory.Entry) error {
	if err := memory.Validate(e); err != nil {
		return err
	}
	if e.Key == "" {
		return fmt.Errorf("%w: key is required", memory.ErrInvalidInput)
	}

	e.ContentHash = memory.HashContent(e.Content)
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	var tagsJSON []byte
	if len(e.Tags) > 0 {
		var err error
		tagsJSON, err = json.Marshal(e.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (category, key, content, tags, created_at, updated_at, source_session_id, content_hash, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(category, key) DO UPDATE SET
			content = excluded.content,
			tags = excluded.tags,
			updated_at = excluded.updated_at,
			source_session_id = excluded.source_session_id,
			content_hash = excluded.content_hash`,
		e.Category, e.Key, e.Content, nullable(tagsJSON),
		e.CreatedAt, e.UpdatedAt, e.SourceSessionID, e.ContentHash)
	if err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}
	return nil
}

// Get returns the entry with the given key. Across categories the most
// recently updated entry wins.
func (s *Store) Get(ctx context.Context, key string) (*memory.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT category, key, content, tags, created_at, updated_at, source_session_id, content_hash, access_count
		FROM memories WHERE key = ?
		ORDER BY updated_at DESC LIMIT 1`, key)
	e, err := scanEntry(row)
	if err != nil {
		return nil, err
	}
	s.bumpAccess(ctx, e.Category, e.Key)
	return e, nil
}

// GetIn returns the entry with the given key in the given category.
func (s *Store) GetIn(ctx context.Context, category, key string) (*memory.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT category, key, content, tags, created_at, updated_at, source_session_id, content_hash, access_count
		FROM memories WHERE category = ? AND key = ?`, category, key)
	return scanEntry(row)
}

func (s *Store) bumpAccess(ctx context.Context, category, key string) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1 WHERE category = ? AND key = ?`,
		category, key); err != nil {
		log.Printf("sqlite: failed to bump access count for %s:%s: %v", category, key, err)
	}
}

// Delete removes all entries matching key across categories.
func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// DeleteIn removes a single entry by its (category, key) identity.
func (s *Store) DeleteIn(ctx context.Context, category, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE category = ? AND key = ?`, category, key)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// List returns entries in a category, newest first.
func (s *Store) List(ctx context.Context, category string, limit int) ([]memory.Entry, error) {
	query := `
		SELECT category, key, content, tags, created_at, updated_at, source_session_id, content_hash, access_count
		FROM memories`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY updated_at DESC, category, key`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// All returns every entry in the store in a deterministic order.
func (s *Store) All(ctx context.Context) ([]memory.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, key, content, tags, created_at, updated_at, source_session_id, content_hash, access_count
		FROM memories ORDER BY category, key`)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Stats reports entry counts and age bounds.
func (s *Store) Stats(ctx context.Context) (*memory.Stats, error) {
	stats := &memory.Stats{Categories: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM memories GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		stats.Categories[cat] = n
		stats.Entries += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest, newest sql.NullTime
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(created_at), MAX(created_at) FROM memories`).Scan(&oldest, &newest); err != nil {
		return nil, err
	}
	if oldest.Valid {
		t := oldest.Time.UTC()
		stats.Oldest = &t
	}
	if newest.Valid {
		t := newest.Time.UTC()
		stats.Newest = &t
	}
	return stats, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*memory.Entry, error) {
	var e memory.Entry
	var tagsJSON sql.NullString
	err := row.Scan(&e.Category, &e.Key, &e.Content, &tagsJSON,
		&e.CreatedAt, &e.UpdatedAt, &e.SourceSessionID, &e.ContentHash, &e.AccessCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &e.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]memory.Entry, error) {
	var out []memory.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveSession upserts session metadata.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	var endedAt any
	if sess.EndedAt != nil {
		endedAt = sess.EndedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, goal, focus, state, created_at, updated_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			goal = excluded.goal,
			focus = excluded.focus,
			state = excluded.state,
			updated_at = excluded.updated_at,
			ended_at = excluded.ended_at`,
		sess.ID, sess.Goal, sess.Focus, string(sess.State),
		sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(), endedAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession loads a session with its full event log.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, goal, focus, state, created_at, updated_at, ended_at
		FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, detail, at FROM session_events
		WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ev session.Event
		if err := rows.Scan(&ev.Seq, &ev.Kind, &ev.Detail, &ev.At); err != nil {
			return nil, err
		}
		ev.At = ev.At.UTC()
		sess.Events = append(sess.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sess.EventCount = len(sess.Events)
	return sess, nil
}

// ListSessions returns sessions newest first with event counts.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]session.Session, error) {
	query := `
		SELECT s.id, s.goal, s.focus, s.state, s.created_at, s.updated_at, s.ended_at,
		       (SELECT COUNT(*) FROM session_events e WHERE e.session_id = s.id)
		FROM sessions s ORDER BY s.created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		var sess session.Session
		var state string
		var endedAt sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.Goal, &sess.Focus, &state,
			&sess.CreatedAt, &sess.UpdatedAt, &endedAt, &sess.EventCount); err != nil {
			return nil, err
		}
		sess.State = session.State(state)
		sess.CreatedAt = sess.CreatedAt.UTC()
		sess.UpdatedAt = sess.UpdatedAt.UTC()
		if endedAt.Valid {
			t := endedAt.Time.UTC()
			sess.EndedAt = &t
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AppendEvent durably appends an event with the next sequence number.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, ev *session.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin event append: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return session.ErrNotFound
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM session_events WHERE session_id = ?`,
		sessionID).Scan(&next); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_events (session_id, seq, kind, detail, at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, next, ev.Kind, ev.Detail, ev.At.UTC()); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event append: %w", err)
	}
	ev.Seq = next
	return nil
}

func scanSession(row rowScanner) (*session.Session, error) {
	var sess session.Session
	var state string
	var endedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.Goal, &sess.Focus, &state,
		&sess.CreatedAt, &sess.UpdatedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.State = session.State(state)
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.UpdatedAt = sess.UpdatedAt.UTC()
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		sess.EndedAt = &t
	}
	return &sess, nil
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN. Handles bare
// paths and file: URIs. Returns empty string for in-memory databases.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}
	return dsn
}

// isRecoverableWALError matches errors caused by stale WAL files left behind
// after a crash (SIGKILL, OOM).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isCorruptionError matches errors indicating the database file itself is
// damaged beyond SQLite's ability to open it.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file is encrypted")
}

// isWALStale checks whether -shm/-wal files exist for the given database
// path and no other process currently holds them open (via lsof). Returns
// false if lsof is unavailable: no deletion without proof.
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		// lsof exits 1 when no files are open, which means stale.
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

// quarantine renames a corrupt database file (and any WAL siblings) aside so
// a fresh database can be created. Returns the quarantine path.
func quarantine(dbPath string) string {
	dest := fmt.Sprintf("%s.corrupt.%s", dbPath, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(dbPath, dest); err != nil && !os.IsNotExist(err) {
		log.Printf("sqlite: failed to quarantine corrupt database: %v", err)
	}
	for _, suffix := range []string{"-shm", "-wal"} {
		if err := os.Rename(dbPath+suffix, dest+suffix); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to quarantine %s: %v", dbPath+suffix, err)
		}
	}
	return dest
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
