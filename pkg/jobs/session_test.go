package jobs

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/agentgate/pkg/apperr"
	"github.com/zen-systems/agentgate/pkg/schema"
)

func TestStartSessionDefaults(t *testing.T) {
	m := NewManager(&fakeProcessor{})

	s, err := m.StartSession(schema.SessionStartRequest{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s.SessionID, "sess_"))
	assert.Equal(t, "nova", s.Voice)
	assert.Equal(t, DefaultInstructions, s.Instructions)
	assert.Equal(t, string(SessionActive), s.Status)

	active, _, _ := m.Counts()
	assert.Equal(t, 1, active)
}

func TestStartSessionVoice(t *testing.T) {
	m := NewManager(&fakeProcessor{}, WithSessionConfig(SessionConfig{DefaultVoice: "echo"}))

	s, err := m.StartSession(schema.SessionStartRequest{Voice: " Shimmer "})
	require.NoError(t, err)
	assert.Equal(t, "shimmer", s.Voice)

	s, err = m.StartSession(schema.SessionStartRequest{})
	require.NoError(t, err)
	assert.Equal(t, "echo", s.Voice)

	_, err = m.StartSession(schema.SessionStartRequest{Voice: "baritone"})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestStartSessionDuplicateID(t *testing.T) {
	m := NewManager(&fakeProcessor{})

	_, err := m.StartSession(schema.SessionStartRequest{SessionID: "room-1", Instructions: "Be brief."})
	require.NoError(t, err)
	_, err = m.StartSession(schema.SessionStartRequest{SessionID: "room-1"})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	got, err := m.Session("room-1")
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", got.Instructions)
}

func TestEndSessionIsIdempotent(t *testing.T) {
	m := NewManager(&fakeProcessor{})
	s, err := m.StartSession(schema.SessionStartRequest{})
	require.NoError(t, err)

	for range 2 {
		end, err := m.EndSession(s.SessionID)
		require.NoError(t, err)
		assert.Equal(t, string(SessionEnded), end.Status)
	}

	_, err = m.EndSession("sess_unknown")
	assert.Equal(t, apperr.CodeJobNotFound, apperr.CodeOf(err))

	active, _, _ := m.Counts()
	assert.Zero(t, active)
}

func TestTouchAndSweepIdleSessions(t *testing.T) {
	clk := newClock()
	m := NewManager(&fakeProcessor{}, WithClock(clk.Now))

	busy, err := m.StartSession(schema.SessionStartRequest{})
	require.NoError(t, err)
	idle, err := m.StartSession(schema.SessionStartRequest{})
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)
	require.NoError(t, m.TouchSession(busy.SessionID))
	clk.Advance(20 * time.Minute)

	assert.Equal(t, 1, m.SweepIdleSessions(30*time.Minute))
	got, err := m.Session(idle.SessionID)
	require.NoError(t, err)
	assert.Equal(t, string(SessionEnded), got.Status)

	got, err = m.Session(busy.SessionID)
	require.NoError(t, err)
	assert.Equal(t, string(SessionActive), got.Status)

	err = m.TouchSession(idle.SessionID)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
	assert.Zero(t, m.SweepIdleSessions(0))
}
