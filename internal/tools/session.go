package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marrow-mcp/marrow/internal/session"
)

// SessionTools exposes session lifecycle and event logging as tools.
type SessionTools struct {
	manager *session.Manager
}

// NewSessionTools wires the session tool set.
func NewSessionTools(manager *session.Manager) *SessionTools {
	return &SessionTools{manager: manager}
}

type sessionStartInput struct {
	Goal string `json:"goal" jsonschema_description:"What this session sets out to do."`
}

type sessionIDInput struct {
	SessionID string `json:"session_id" jsonschema_description:"Session id."`
}

type sessionLogEventInput struct {
	SessionID string `json:"session_id" jsonschema_description:"Session id."`
	Kind      string `json:"kind" jsonschema_description:"Event kind: milestone, decision, blocker, or note."`
	Detail    string `json:"detail" jsonschema_description:"What happened."`
}

type sessionFocusInput struct {
	SessionID string `json:"session_id" jsonschema_description:"Session id."`
	Focus     string `json:"focus" jsonschema_description:"What the session is working on right now."`
}

type sessionListInput struct {
	Limit int `json:"limit,omitempty" jsonschema_description:"Maximum sessions to return, newest first."`
}

// Definitions returns the session tool set.
func (s *SessionTools) Definitions() []Definition {
	return []Definition{
		{
			Name:        "session_start",
			Description: "Start a new active work session with a goal.",
			InputSchema: GenerateSchema[sessionStartInput](),
			Handler:     s.start,
		},
		{
			Name:        "session_pause",
			Description: "Pause an active session. Events cannot be logged while paused.",
			InputSchema: GenerateSchema[sessionIDInput](),
			Handler:     s.pause,
		},
		{
			Name:        "session_resume",
			Description: "Resume a paused session.",
			InputSchema: GenerateSchema[sessionIDInput](),
			Handler:     s.resume,
		},
		{
			Name:        "session_end",
			Description: "End a session permanently and return its summary. The summary is captured into memory.",
			InputSchema: GenerateSchema[sessionIDInput](),
			Handler:     s.end,
		},
		{
			Name:        "session_log_event",
			Description: "Log a milestone, decision, blocker, or note to an active session. Memory-worthy events are captured into the memory store.",
			InputSchema: GenerateSchema[sessionLogEventInput](),
			Handler:     s.logEvent,
		},
		{
			Name:        "session_update_focus",
			Description: "Update what an active session is currently focused on.",
			InputSchema: GenerateSchema[sessionFocusInput](),
			Handler:     s.updateFocus,
		},
		{
			Name:        "session_list",
			Description: "List recent sessions, newest first.",
			InputSchema: GenerateSchema[sessionListInput](),
			Handler:     s.list,
		},
		{
			Name:        "session_summary",
			Description: "Summarise a session: duration plus its milestones, decisions, and blockers.",
			InputSchema: GenerateSchema[sessionIDInput](),
			Handler:     s.summary,
		},
		{
			Name:        "session_patterns",
			Description: "Aggregate patterns across all sessions: durations, event kind totals, recurring blockers.",
			InputSchema: GenerateSchema[struct{}](),
			Handler:     s.patterns,
		},
	}
}

func (s *SessionTools) start(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[sessionStartInput](input)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Goal) == "" {
		return nil, fmt.Errorf("%w: goal is required", ErrBadInput)
	}
	return s.manager.Start(ctx, in.Goal)
}

func (s *SessionTools) pause(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := s.decodeID(input)
	if err != nil {
		return nil, err
	}
	return s.manager.Pause(ctx, in.SessionID)
}

func (s *SessionTools) resume(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := s.decodeID(input)
	if err != nil {
		return nil, err
	}
	return s.manager.Resume(ctx, in.SessionID)
}

func (s *SessionTools) end(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := s.decodeID(input)
	if err != nil {
		return nil, err
	}
	return s.manager.End(ctx, in.SessionID)
}

func (s *SessionTools) logEvent(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[sessionLogEventInput](input)
	if err != nil {
		return nil, err
	}
	if in.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrBadInput)
	}
	return s.manager.LogEvent(ctx, in.SessionID, in.Kind, in.Detail)
}

func (s *SessionTools) updateFocus(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[sessionFocusInput](input)
	if err != nil {
		return nil, err
	}
	if in.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrBadInput)
	}
	if strings.TrimSpace(in.Focus) == "" {
		return nil, fmt.Errorf("%w: focus is required", ErrBadInput)
	}
	return s.manager.UpdateFocus(ctx, in.SessionID, in.Focus)
}

func (s *SessionTools) list(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[sessionListInput](input)
	if err != nil {
		return nil, err
	}
	sessions, err := s.manager.List(ctx, in.Limit)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	return map[string]any{"sessions": sessions, "count": len(sessions)}, nil
}

func (s *SessionTools) summary(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := s.decodeID(input)
	if err != nil {
		return nil, err
	}
	return s.manager.Summary(ctx, in.SessionID)
}

func (s *SessionTools) patterns(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.manager.Patterns(ctx)
}

func (s *SessionTools) decodeID(input json.RawMessage) (sessionIDInput, error) {
	in, err := decodeInput[sessionIDInput](input)
	if err != nil {
		return in, err
	}
	if in.SessionID == "" {
		return in, fmt.Errorf("%w: session_id is required", ErrBadInput)
	}
	return in, nil
}
