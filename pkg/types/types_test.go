package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestSession_IsTerminal(t *testing.T) {
	tests := []struct {
		status   string
		terminal bool
	}{
		{StatusDraft, false},
		{StatusActive, false},
		{StatusPaused, false},
		{StatusLocked, false},
		{StatusEnded, true},
		{StatusArchived, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			s := &Session{Status: tt.status}
			assert.Equal(t, tt.terminal, s.IsTerminal())
			assert.Equal(t, tt.terminal, IsTerminalStatus(tt.status))
		})
	}
}

func TestTimerState_Remaining(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("running timer counts down", func(t *testing.T) {
		timer := &TimerState{StartedAt: start, DurationSeconds: 300}
		assert.Equal(t, 200*time.Second, timer.Remaining(start.Add(100*time.Second)))
		assert.False(t, timer.Expired(start.Add(100*time.Second)))
	})

	t.Run("paused timer freezes at pause time", func(t *testing.T) {
		paused := start.Add(60 * time.Second)
		timer := &TimerState{StartedAt: start, DurationSeconds: 300, PausedAt: &paused}
		assert.Equal(t, 240*time.Second, timer.Remaining(start.Add(time.Hour)))
		assert.True(t, timer.IsPaused())
	})

	t.Run("expired timer clamps to zero", func(t *testing.T) {
		timer := &TimerState{StartedAt: start, DurationSeconds: 10}
		assert.Equal(t, time.Duration(0), timer.Remaining(start.Add(time.Minute)))
		assert.True(t, timer.Expired(start.Add(time.Minute)))
	})

	t.Run("nil timer", func(t *testing.T) {
		var timer *TimerState
		assert.Equal(t, time.Duration(0), timer.Remaining(start))
		assert.False(t, timer.IsPaused())
		assert.False(t, timer.Expired(start))
	})
}

func TestIsValidSessionCode(t *testing.T) {
	assert.True(t, IsValidSessionCode("AB12CD"))
	assert.False(t, IsValidSessionCode("ab12cd"))
	assert.False(t, IsValidSessionCode("AB12C"))
	assert.False(t, IsValidSessionCode("AB-2CD"))
	assert.Equal(t, "AB12CD", NormalizeSessionCode("  ab12cd "))
}

func TestIsValidUserID(t *testing.T) {
	assert.True(t, IsValidUserID("host_1"))
	assert.True(t, IsValidUserID("0b7a5d2c-6a1e-4b8e-9a55-2f1f0d3c9e11"))
	assert.False(t, IsValidUserID(""))
	assert.False(t, IsValidUserID("bad id"))
	assert.False(t, IsValidUserID(strings.Repeat("a", 65)))
}

func TestOutcome_Validate(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		wantErr error
	}{
		{name: "valid", outcome: Outcome{Title: "The vault opens", Body: "Gold everywhere"}},
		{name: "empty title", outcome: Outcome{Title: "  "}, wantErr: ErrInvalidTitle},
		{name: "long title", outcome: Outcome{Title: strings.Repeat("a", 201)}, wantErr: ErrInvalidTitle},
		{name: "huge body", outcome: Outcome{Title: "ok", Body: strings.Repeat("b", MaxBodyLength+1)}, wantErr: ErrBodyTooLarge},
		{name: "long type", outcome: Outcome{Title: "ok", OutcomeType: strings.Repeat("t", 51)}, wantErr: ErrInvalidOutcomeType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.outcome.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecision_Validate(t *testing.T) {
	assert.NoError(t, (&Decision{Title: "Open the door?", Options: []string{"yes", "no"}}).Validate())
	assert.ErrorIs(t, (&Decision{Title: "x", Options: []string{"yes", ""}}).Validate(), ErrInvalidOptions)
	assert.ErrorIs(t, (&Decision{Title: ""}).Validate(), ErrInvalidTitle)
}

func TestGame_Validate(t *testing.T) {
	valid := func() Game {
		return Game{
			ID:     "game-1",
			Name:   "Heist",
			Steps:  []Step{{ID: "s1", Title: "Intro", Order: 1}},
			Phases: []Phase{{ID: "p1", Name: "Act I", Order: 1}},
			Roles:  []Role{{ID: "r1", Name: "Thief"}},
			Artifacts: []Artifact{{
				ID: "a1", Title: "Map",
				Variants: []ArtifactVariant{
					{ID: "v1", Visibility: VisibilityPublic, StepIndex: intPtr(0)},
					{ID: "v2", Visibility: VisibilityRolePrivate, VisibleToRoleID: "r1"},
				},
			}},
			Triggers: []Trigger{{ID: "t1", Name: "Welcome"}},
		}
	}

	g := valid()
	require.NoError(t, g.Validate())

	g = valid()
	g.Triggers[0].ID = "s1"
	assert.ErrorIs(t, g.Validate(), ErrInvalidGame)

	g = valid()
	g.Artifacts[0].Variants[1].VisibleToRoleID = "missing"
	assert.ErrorIs(t, g.Validate(), ErrInvalidGame)

	g = valid()
	g.Artifacts[0].Variants[0].Visibility = "secret"
	assert.ErrorIs(t, g.Validate(), ErrInvalidVisibility)

	g = valid()
	g.Artifacts[0].Variants[0].StepIndex = intPtr(-1)
	assert.ErrorIs(t, g.Validate(), ErrInvalidGame)

	g = valid()
	g.Name = ""
	assert.ErrorIs(t, g.Validate(), ErrInvalidGame)
}

func TestGame_Find(t *testing.T) {
	g := Game{
		Roles:     []Role{{ID: "r1"}},
		Triggers:  []Trigger{{ID: "t1"}},
		Artifacts: []Artifact{{ID: "a1", Variants: []ArtifactVariant{{ID: "v1"}}}},
	}

	_, ok := g.FindRole("r1")
	assert.True(t, ok)
	_, ok = g.FindTrigger("t2")
	assert.False(t, ok)
	v, ok := g.FindVariant("v1")
	require.True(t, ok)
	assert.Equal(t, "v1", v.ID)
}

func TestBroadcastEvent_JSONShape(t *testing.T) {
	evt := BroadcastEvent{
		SessionID: "s1",
		Seq:       7,
		Type:      BroadcastTimerUpdate,
		Payload:   map[string]any{"action": "start"},
		Timestamp: "2026-01-01T12:00:00Z",
	}
	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "timer_update", decoded["type"])
	assert.Equal(t, float64(7), decoded["seq"])
	assert.Contains(t, decoded, "payload")
	assert.Contains(t, decoded, "timestamp")
	assert.Equal(t, "play:s1", ChannelName("s1"))
}

func TestViewer(t *testing.T) {
	assert.False(t, Anonymous().IsAuthenticated())

	host := Viewer{Kind: ViewerHost, UserID: "u1"}
	assert.True(t, host.IsAuthenticated())
	assert.Equal(t, "u1", host.ActorID())
	assert.Equal(t, ActorHost, host.ActorType())

	p := Viewer{Kind: ViewerParticipant, ParticipantID: "p1"}
	assert.Equal(t, "p1", p.ActorID())
	assert.Equal(t, ActorParticipant, p.ActorType())
}
