package jobs

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zen-systems/agentgate/pkg/apperr"
	"github.com/zen-systems/agentgate/pkg/schema"
	"github.com/zen-systems/agentgate/pkg/worker"
)

// Voices are the accepted realtime voices.
var Voices = []string{"alloy", "echo", "fable", "nova", "onyx", "shimmer"}

// DefaultInstructions seed sessions started without instructions.
const DefaultInstructions = "You are a helpful AI assistant integrated with a knowledge base. " +
	"You can access documents and provide contextual responses. Be conversational and helpful."

// SessionState is a session lifecycle state.
type SessionState string

const (
	SessionActive SessionState = "active"
	SessionEnded  SessionState = "ended"
)

// SessionConfig holds session defaults.
type SessionConfig struct {
	DefaultVoice        string
	DefaultInstructions string
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.DefaultVoice == "" {
		c.DefaultVoice = "nova"
	}
	if c.DefaultInstructions == "" {
		c.DefaultInstructions = DefaultInstructions
	}
	return c
}

type session struct {
	id           string
	voice        string
	instructions string
	status       SessionState
	createdAt    time.Time
	lastActiveAt time.Time
	endedAt      time.Time
}

func (s *session) response() schema.SessionResponse {
	return schema.SessionResponse{
		SessionID:    s.id,
		Voice:        s.voice,
		Instructions: s.instructions,
		Status:       string(s.status),
		CreatedAt:    s.createdAt,
	}
}

// ParseVoice canonicalizes a voice name; empty means the default.
func ParseVoice(raw string) (string, error) {
	v := worker.Canonicalize(raw)
	if slices.Contains(Voices, v) {
		return v, nil
	}
	return "", apperr.InvalidArgument(fmt.Sprintf("unknown voice %q (want one of %s)", raw, strings.Join(Voices, ", ")))
}

// StartSession creates an active session. A caller-chosen id must be unused.
func (m *Manager) StartSession(req schema.SessionStartRequest) (schema.SessionResponse, error) {
	voice := m.sessCfg.DefaultVoice
	if strings.TrimSpace(req.Voice) != "" {
		v, err := ParseVoice(req.Voice)
		if err != nil {
			return schema.SessionResponse{}, err
		}
		voice = v
	}
	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" {
		instructions = m.sessCfg.DefaultInstructions
	}
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = "sess_" + uuid.NewString()
	}

	now := m.now()
	s := &session{
		id:           id,
		voice:        voice,
		instructions: instructions,
		status:       SessionActive,
		createdAt:    now,
		lastActiveAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions.lookup(id); exists {
		return schema.SessionResponse{}, apperr.InvalidArgument(fmt.Sprintf("session %s already exists", id))
	}
	m.sessions.insert(id, s)
	m.logger.Info("session started", "session_id", id, "voice", voice)
	return s.response(), nil
}

// EndSession ends a session. Ending an ended session is a no-op.
func (m *Manager) EndSession(id string) (schema.SessionEndResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.sessionLocked(id)
	if err != nil {
		return schema.SessionEndResponse{}, err
	}
	if s.status == SessionActive {
		s.status = SessionEnded
		s.endedAt = m.now()
		m.logger.Info("session ended", "session_id", id)
	}
	return schema.SessionEndResponse{SessionID: id, Status: string(s.status)}, nil
}

// TouchSession records activity on an active session.
func (m *Manager) TouchSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.sessionLocked(id)
	if err != nil {
		return err
	}
	if s.status != SessionActive {
		return apperr.InvalidArgument(fmt.Sprintf("session %s has ended", id))
	}
	s.lastActiveAt = m.now()
	return nil
}

// Session returns a session by id.
func (m *Manager) Session(id string) (schema.SessionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.sessionLocked(id)
	if err != nil {
		return schema.SessionResponse{}, err
	}
	return s.response(), nil
}

// SweepIdleSessions ends active sessions idle for longer than idle and
// returns how many it ended.
func (m *Manager) SweepIdleSessions(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	now := m.now()
	cutoff := now.Add(-idle)
	n := 0
	m.mu.Lock()
	m.sessions.each(func(_ ref, s *session) {
		if s.status == SessionActive && s.lastActiveAt.Before(cutoff) {
			s.status = SessionEnded
			s.endedAt = now
			n++
		}
	})
	m.mu.Unlock()
	if n > 0 {
		m.logger.Info("idle sessions ended", "count", n, "idle", idle)
	}
	return n
}

func (m *Manager) sessionLocked(id string) (*session, error) {
	r, ok := m.sessions.lookup(id)
	if !ok {
		return nil, apperr.JobNotFound(fmt.Sprintf("session %s not found", id))
	}
	s, ok := m.sessions.get(r)
	if !ok {
		return nil, apperr.JobNotFound(fmt.Sprintf("session %s not found", id))
	}
	return s, nil
}
