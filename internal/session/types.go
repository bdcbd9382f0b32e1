// Package session tracks work sessions: their lifecycle, logged events, and
// aggregate patterns across sessions. Persistence is delegated to a Store so
// the sqlite and postgres engines can both back it.
package session

import (
	"context"
	"errors"
	"time"
)

// State is a session lifecycle state.
type State string

const (
	StateActive State = "active"
	StatePaused State = "paused"
	StateEnded  State = "ended"
)

var (
	// ErrNotFound is returned when a session id does not exist.
	ErrNotFound = errors.New("session: not found")

	// ErrInvalidState is returned when an operation is not legal in the
	// session's current state, including transitions out of ended.
	ErrInvalidState = errors.New("session: invalid state for operation")
)

// Event kinds. Milestones, decisions and blockers are considered
// memory-worthy and are captured into the memory store automatically.
const (
	EventMilestone = "milestone"
	EventDecision  = "decision"
	EventBlocker   = "blocker"
	EventNote      = "note"
	EventFocus     = "focus"
)

// Event is one logged occurrence within a session. Seq is assigned by the
// store and is strictly increasing per session.
type Event struct {
	Seq    int       `json:"seq"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// Session is a tracked work session.
type Session struct {
	ID         string     `json:"id"`
	Goal       string     `json:"goal"`
	Focus      string     `json:"focus,omitempty"`
	State      State      `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Events     []Event    `json:"events,omitempty"`
	EventCount int        `json:"event_count"`
}

// canTransition reports whether moving to the target state is legal.
// Ended is terminal.
func (s *Session) canTransition(to State) bool {
	switch s.State {
	case StateActive:
		return to == StatePaused || to == StateEnded
	case StatePaused:
		return to == StateActive || to == StateEnded
	default:
		return false
	}
}

// Store is the persistence contract for sessions. Event appends and state
// saves are durable before returning.
type Store interface {
	// SaveSession upserts session metadata (not events).
	SaveSession(ctx context.Context, s *Session) error

	// GetSession loads a session with its full event log. Returns
	// ErrNotFound for unknown ids.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns sessions newest first, with EventCount populated
	// but Events omitted.
	ListSessions(ctx context.Context, limit int) ([]Session, error)

	// AppendEvent durably appends an event, assigning the next Seq into ev.
	AppendEvent(ctx context.Context, sessionID string, ev *Event) error
}

// Summary is the rollup of a single session.
type Summary struct {
	ID          string         `json:"id"`
	Goal        string         `json:"goal"`
	Focus       string         `json:"focus,omitempty"`
	State       State          `json:"state"`
	Duration    time.Duration  `json:"duration"`
	EventCounts map[string]int `json:"event_counts"`
	Milestones  []string       `json:"milestones,omitempty"`
	Decisions   []string       `json:"decisions,omitempty"`
	Blockers    []string       `json:"blockers,omitempty"`
}

// Patterns aggregates behaviour across all recorded sessions.
type Patterns struct {
	TotalSessions   int            `json:"total_sessions"`
	EndedSessions   int            `json:"ended_sessions"`
	AverageDuration time.Duration  `json:"average_duration"`
	EventKindTotals map[string]int `json:"event_kind_totals"`
	CommonBlockers  []string       `json:"common_blockers,omitempty"`
}
