package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marrow-mcp/marrow/internal/memory"
)

// memoryCategory is the category auto-captured session entries land in.
const memoryCategory = "session"

// Manager coordinates session lifecycle and event logging. All state changes
// go through the persistent store; the manager only holds per-session locks
// so concurrent operations on the same session serialise while different
// sessions proceed independently.
type Manager struct {
	store    Store
	memories memory.Store // optional; nil disables auto-capture

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wires a session manager over a store. memories may be nil, in
// which case memory-worthy events are not captured.
func NewManager(store Store, memories memory.Store) *Manager {
	return &Manager{
		store:    store,
		memories: memories,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Start creates a new active session with the given goal.
func (m *Manager) Start(ctx context.Context, goal string) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		Goal:      goal,
		State:     StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.SaveSession(ctx, s); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return s, nil
}

// Pause transitions an active session to paused.
func (m *Manager) Pause(ctx context.Context, id string) (*Session, error) {
	return m.transition(ctx, id, StatePaused)
}

// Resume transitions a paused session back to active.
func (m *Manager) Resume(ctx context.Context, id string) (*Session, error) {
	return m.transition(ctx, id, StateActive)
}

func (m *Manager) transition(ctx context.Context, id string, to State) (*Session, error) {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidState, s.State, to)
	}
	s.State = to
	s.UpdatedAt = time.Now().UTC()
	if err := m.store.SaveSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// End transitions a session (active or paused) to the terminal ended state
// and returns its summary. The summary is also captured into the memory
// store so later sessions can retrieve it.
func (m *Manager) End(ctx context.Context, id string) (*Summary, error) {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canTransition(StateEnded) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidState, s.State, StateEnded)
	}
	now := time.Now().UTC()
	s.State = StateEnded
	s.UpdatedAt = now
	s.EndedAt = &now
	if err := m.store.SaveSession(ctx, s); err != nil {
		return nil, err
	}

	summary := summarize(s)
	m.capture(ctx, s.ID, "summary-"+shortID(s.ID), summaryContent(summary), []string{"session-summary"})
	return summary, nil
}

// LogEvent appends an event to an active session. Milestones, decisions and
// blockers are additionally captured into the memory store.
func (m *Manager) LogEvent(ctx context.Context, id, kind, detail string) (*Event, error) {
	if detail == "" {
		return nil, fmt.Errorf("%w: event detail is required", memory.ErrInvalidInput)
	}
	switch kind {
	case EventMilestone, EventDecision, EventBlocker, EventNote:
	default:
		return nil, fmt.Errorf("%w: unknown event kind %q", memory.ErrInvalidInput, kind)
	}

	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.State != StateActive {
		return nil, fmt.Errorf("%w: cannot log events while %s", ErrInvalidState, s.State)
	}

	ev := &Event{Kind: kind, Detail: detail, At: time.Now().UTC()}
	if err := m.store.AppendEvent(ctx, id, ev); err != nil {
		return nil, err
	}

	if kind != EventNote {
		key := fmt.Sprintf("%s-%s-%d", kind, shortID(id), ev.Seq)
		m.capture(ctx, id, key, detail, []string{kind})
	}
	return ev, nil
}

// UpdateFocus records what the session is currently working on. Only legal
// while active; the change is logged as a focus event.
func (m *Manager) UpdateFocus(ctx context.Context, id, focus string) (*Session, error) {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.State != StateActive {
		return nil, fmt.Errorf("%w: cannot update focus while %s", ErrInvalidState, s.State)
	}
	s.Focus = focus
	s.UpdatedAt = time.Now().UTC()
	if err := m.store.SaveSession(ctx, s); err != nil {
		return nil, err
	}
	ev := &Event{Kind: EventFocus, Detail: focus, At: s.UpdatedAt}
	if err := m.store.AppendEvent(ctx, id, ev); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a session with its event log.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.GetSession(ctx, id)
}

// List returns recent sessions, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]Session, error) {
	return m.store.ListSessions(ctx, limit)
}

// Summary rolls up a single session's events.
func (m *Manager) Summary(ctx context.Context, id string) (*Summary, error) {
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return summarize(s), nil
}

// Patterns aggregates event and duration statistics across all sessions.
func (m *Manager) Patterns(ctx context.Context) (*Patterns, error) {
	sessions, err := m.store.ListSessions(ctx, 0)
	if err != nil {
		return nil, err
	}
	p := &Patterns{
		TotalSessions:   len(sessions),
		EventKindTotals: make(map[string]int),
	}

	var totalDuration time.Duration
	blockerCounts := make(map[string]int)
	for i := range sessions {
		full, err := m.store.GetSession(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		if full.State == StateEnded && full.EndedAt != nil {
			p.EndedSessions++
			totalDuration += full.EndedAt.Sub(full.CreatedAt)
		}
		for _, ev := range full.Events {
			p.EventKindTotals[ev.Kind]++
			if ev.Kind == EventBlocker {
				blockerCounts[strings.ToLower(strings.TrimSpace(ev.Detail))]++
			}
		}
	}
	if p.EndedSessions > 0 {
		p.AverageDuration = totalDuration / time.Duration(p.EndedSessions)
	}

	type bc struct {
		detail string
		count  int
	}
	recurring := make([]bc, 0, len(blockerCounts))
	for detail, count := range blockerCounts {
		if count > 1 {
			recurring = append(recurring, bc{detail, count})
		}
	}
	sort.Slice(recurring, func(i, j int) bool {
		if recurring[i].count != recurring[j].count {
			return recurring[i].count > recurring[j].count
		}
		return recurring[i].detail < recurring[j].detail
	})
	for _, b := range recurring {
		p.CommonBlockers = append(p.CommonBlockers, b.detail)
	}
	return p, nil
}

// capture writes a memory entry for a memory-worthy session artifact.
// Capture failures are logged but never fail the session operation.
func (m *Manager) capture(ctx context.Context, sessionID, key, content string, tags []string) {
	if m.memories == nil {
		return
	}
	now := time.Now().UTC()
	entry := &memory.Entry{
		Key:             key,
		Category:        memoryCategory,
		Content:         content,
		Tags:            tags,
		CreatedAt:       now,
		UpdatedAt:       now,
		SourceSessionID: sessionID,
		ContentHash:     memory.HashContent(content),
	}
	if err := m.memories.Store(ctx, entry); err != nil {
		log.Printf("session: failed to capture %s into memory: %v", key, err)
	}
}

func summarize(s *Session) *Summary {
	sum := &Summary{
		ID:          s.ID,
		Goal:        s.Goal,
		Focus:       s.Focus,
		State:       s.State,
		EventCounts: make(map[string]int),
	}
	end := s.UpdatedAt
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	sum.Duration = end.Sub(s.CreatedAt)
	for _, ev := range s.Events {
		sum.EventCounts[ev.Kind]++
		switch ev.Kind {
		case EventMilestone:
			sum.Milestones = append(sum.Milestones, ev.Detail)
		case EventDecision:
			sum.Decisions = append(sum.Decisions, ev.Detail)
		case EventBlocker:
			sum.Blockers = append(sum.Blockers, ev.Detail)
		}
	}
	return sum
}

func summaryContent(sum *Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session ended: %s", sum.Goal)
	if len(sum.Milestones) > 0 {
		fmt.Fprintf(&b, "\nMilestones: %s", strings.Join(sum.Milestones, "; "))
	}
	if len(sum.Decisions) > 0 {
		fmt.Fprintf(&b, "\nDecisions: %s", strings.Join(sum.Decisions, "; "))
	}
	if len(sum.Blockers) > 0 {
		fmt.Fprintf(&b, "\nBlockers: %s", strings.Join(sum.Blockers, "; "))
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
