package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	dbconfig "playsession/pkg/database"
	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	cfg.BusyRetryDelay = 10 * time.Millisecond

	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func intPtr0(v int) *int { return &v }

func testGame() *types.Game {
	return &types.Game{
		ID:   "game-1",
		Name: "Mystery Manor",
		Steps: []types.Step{
			{ID: "step-b", Title: "Second", Order: 20},
			{ID: "step-a", Title: "First", Order: 10},
		},
		Phases: []types.Phase{{ID: "phase-1", Name: "Intro", Order: 1}},
		Roles: []types.Role{
			{ID: "role-detective", Name: "Detective", SecretInstructions: "Trust no one", Order: 1},
			{ID: "role-butler", Name: "Butler", SecretInstructions: "You did it", Order: 2},
		},
		Artifacts: []types.Artifact{{
			ID: "art-1", Title: "Letter", Order: 1,
			Variants: []types.ArtifactVariant{
				{ID: "var-2", Title: "Private", Visibility: types.VisibilityRolePrivate, VisibleToRoleID: "role-butler", Order: 2},
				{ID: "var-1", Title: "Public", Visibility: types.VisibilityPublic, StepIndex: intPtr0(1), KeypadCode: "1234", Order: 1},
			},
		}},
		Triggers: []types.Trigger{{
			ID: "trg-1", Name: "Welcome", ExecuteOnce: true, Order: 1,
			Condition: types.TriggerCondition{Type: types.EventStepStarted, StepID: "step-a"},
			Actions:   []types.TriggerAction{{Type: types.ActionSendMessage, Message: "Welcome"}},
		}},
	}
}

func seedSession(t *testing.T, m *Manager, id, code string) *types.Session {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.SaveGame(ctx, testGame()))

	now := time.Now().UTC()
	session := &types.Session{
		ID:         id,
		GameID:     "game-1",
		HostUserID: "host-1",
		Code:       code,
		Status:     types.StatusActive,
		BoardState: types.BoardState{Overrides: map[string]bool{}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, m.CreateSession(ctx, session))
	return session
}

func TestManager_CloseStopsWriter(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "leak.db")
	m, err := NewManager(cfg)
	require.NoError(t, err)

	require.NoError(t, m.HealthCheck(context.Background()))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "second close is a no-op")

	err = m.SaveGame(context.Background(), testGame())
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestManager_SessionRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")

	got, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", got.Code)
	assert.Equal(t, types.StatusActive, got.Status)
	assert.Nil(t, got.TimerState)
	assert.NotNil(t, got.BoardState.Overrides)

	byCode, err := m.GetSessionByCode(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "s1", byCode.ID)

	_, err = m.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestManager_CreateSessionDuplicateCode(t *testing.T) {
	m := newTestManager(t)
	seedSession(t, m, "s1", "ABC123")

	now := time.Now().UTC()
	err := m.CreateSession(context.Background(), &types.Session{
		ID: "s2", GameID: "game-1", HostUserID: "h", Code: "ABC123",
		Status: types.StatusActive, CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, interfaces.ErrDuplicate)
}

func TestManager_UpdateSessionPersistsState(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := "hello"
	_, err := m.UpdateSession(ctx, "s1", func(s *types.Session) error {
		s.CurrentStepIndex = 3
		s.TimerState = &types.TimerState{StartedAt: started, DurationSeconds: 300}
		s.BoardState.Message = &msg
		return nil
	})
	require.NoError(t, err)

	got, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentStepIndex)
	require.NotNil(t, got.TimerState)
	assert.True(t, got.TimerState.StartedAt.Equal(started))
	assert.Equal(t, 300, got.TimerState.DurationSeconds)
	require.NotNil(t, got.BoardState.Message)
	assert.Equal(t, "hello", *got.BoardState.Message)
}

func TestManager_UpdateSessionMutateErrorRollsBack(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")

	sentinel := errors.New("rejected")
	_, err := m.UpdateSession(ctx, "s1", func(s *types.Session) error {
		s.CurrentStepIndex = 9
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	got, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentStepIndex)

	_, err = m.UpdateSession(ctx, "missing", func(*types.Session) error { return nil })
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestManager_SecretsGateCounts(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")

	for i := 1; i <= 3; i++ {
		require.NoError(t, m.CreateParticipant(ctx, &types.Participant{
			ID: fmt.Sprintf("p%d", i), SessionID: "s1", DisplayName: "P",
			Token: fmt.Sprintf("tok-%d", i), TokenExpiresAt: time.Now().Add(time.Hour), JoinedAt: time.Now(),
		}))
	}
	require.NoError(t, m.UpsertAssignments(ctx, "s1", []types.RoleAssignment{
		{ParticipantID: "p1", RoleID: "role-detective"},
		{ParticipantID: "p2", RoleID: "role-butler"},
	}))
	_, err := m.MarkSecretRevealed(ctx, "s1", "p1", time.Now(), nil)
	require.NoError(t, err)

	_, stats, err := m.UpdateSecretsGate(ctx, "s1", func(*types.Session, types.SecretStats) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, types.SecretStats{ParticipantCount: 3, AssignedCount: 2, RevealedCount: 1}, stats)
}

func TestManager_TriggerFireIncrementsAndUpserts(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")

	fire := interfaces.TriggerMutation{SessionID: "s1", TriggerID: "trg-1", Action: types.TriggerActionFire, At: time.Now()}
	res, err := m.ApplyTriggerMutation(ctx, fire)
	require.NoError(t, err)
	assert.Equal(t, types.TriggerFired, res.Runtime.Status)
	assert.Equal(t, 1, res.Runtime.FiredCount)
	require.NotNil(t, res.Runtime.FiredAt)

	res, err = m.ApplyTriggerMutation(ctx, fire)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Runtime.FiredCount)

	res, err = m.ApplyTriggerMutation(ctx, interfaces.TriggerMutation{SessionID: "s1", TriggerID: "trg-1", Action: types.TriggerActionDisable, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, types.TriggerDisabled, res.Runtime.Status)
	assert.Equal(t, 2, res.Runtime.FiredCount, "disable keeps fired_count")

	res, err = m.ApplyTriggerMutation(ctx, interfaces.TriggerMutation{SessionID: "s1", TriggerID: "trg-1", Action: types.TriggerActionArm, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, types.TriggerArmed, res.Runtime.Status)

	runtimes, err := m.ListTriggerRuntime(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, runtimes, 1)

	_, err = m.ApplyTriggerMutation(ctx, interfaces.TriggerMutation{SessionID: "s1", TriggerID: "trg-1", Action: "explode", At: time.Now()})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestManager_TriggerFireKeepsDisabledStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")

	_, err := m.ApplyTriggerMutation(ctx, interfaces.TriggerMutation{SessionID: "s1", TriggerID: "trg-1", Action: types.TriggerActionDisable, At: time.Now()})
	require.NoError(t, err)

	res, err := m.ApplyTriggerMutation(ctx, interfaces.TriggerMutation{SessionID: "s1", TriggerID: "trg-1", Action: types.TriggerActionFire, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, types.TriggerDisabled, res.Runtime.Status)
	assert.Equal(t, 1, res.Runtime.FiredCount)
	require.NotNil(t, res.Runtime.FiredAt)

	res, err = m.ApplyTriggerMutation(ctx, interfaces.TriggerMutation{SessionID: "s1", TriggerID: "trg-1", Action: types.TriggerActionArm, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, types.TriggerArmed, res.Runtime.Status)
	assert.Equal(t, 1, res.Runtime.FiredCount)
}

func TestManager_TriggerArmWithoutRowCreatesArmedState(t *testing.T) {
	m := newTestManager(t)
	seedSession(t, m, "s1", "ABC123")

	res, err := m.ApplyTriggerMutation(context.Background(), interfaces.TriggerMutation{
		SessionID: "s1", TriggerID: "trg-new", Action: types.TriggerActionArm, At: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, types.TriggerArmed, res.Runtime.Status)
	assert.Equal(t, 0, res.Runtime.FiredCount)
	assert.Nil(t, res.Runtime.FiredAt)
}

func TestManager_TriggerGuardSeesCurrentState(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")

	blocked := errors.New("already fired")
	guard := func(rt types.TriggerRuntime) error {
		if rt.Status == types.TriggerFired {
			return blocked
		}
		return nil
	}
	mutation := interfaces.TriggerMutation{SessionID: "s1", TriggerID: "trg-1", Action: types.TriggerActionFire, At: time.Now(), Guard: guard}

	_, err := m.ApplyTriggerMutation(ctx, mutation)
	require.NoError(t, err)
	_, err = m.ApplyTriggerMutation(ctx, mutation)
	assert.ErrorIs(t, err, blocked)

	runtimes, err := m.ListTriggerRuntime(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, runtimes, 1)
	assert.Equal(t, 1, runtimes[0].FiredCount)
}

func TestManager_TriggerIdempotencyKeyReplays(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mutation := interfaces.TriggerMutation{SessionID: "s1", TriggerID: "trg-1", Action: types.TriggerActionFire, At: first, IdempotencyKey: "k1"}

	res, err := m.ApplyTriggerMutation(ctx, mutation)
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	mutation.At = first.Add(time.Minute)
	res, err = m.ApplyTriggerMutation(ctx, mutation)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	require.NotNil(t, res.OriginalFiredAt)
	assert.True(t, res.OriginalFiredAt.Equal(first))
	assert.Equal(t, 1, res.Runtime.FiredCount)

	mutation.IdempotencyKey = "k2"
	res, err = m.ApplyTriggerMutation(ctx, mutation)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, 2, res.Runtime.FiredCount)
}

func TestManager_ConcurrentFiresMergeIntoOneRow(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")

	const fires = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < fires; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ApplyTriggerMutation(ctx, interfaces.TriggerMutation{
				SessionID: "s1", TriggerID: "trg-1", Action: types.TriggerActionFire, At: time.Now(),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	runtimes, err := m.ListTriggerRuntime(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, runtimes, 1)
	assert.Equal(t, succeeded, runtimes[0].FiredCount)
	assert.Equal(t, fires, succeeded)
}

func TestManager_GameRoundTripOrdersChildren(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.SaveGame(ctx, testGame()))

	game, err := m.GetGame(ctx, "game-1")
	require.NoError(t, err)
	require.Len(t, game.Steps, 2)
	assert.Equal(t, "step-a", game.Steps[0].ID)
	require.Len(t, game.Artifacts, 1)
	require.Len(t, game.Artifacts[0].Variants, 2)
	assert.Equal(t, "var-1", game.Artifacts[0].Variants[0].ID)
	assert.Equal(t, "1234", game.Artifacts[0].Variants[0].KeypadCode)
	require.NotNil(t, game.Artifacts[0].Variants[0].StepIndex)
	assert.Equal(t, 1, *game.Artifacts[0].Variants[0].StepIndex)
	assert.Nil(t, game.Artifacts[0].Variants[1].StepIndex)
	require.Len(t, game.Triggers, 1)
	assert.True(t, game.Triggers[0].ExecuteOnce)
	assert.Equal(t, "step-a", game.Triggers[0].Condition.StepID)

	// Re-import replaces children.
	updated := testGame()
	updated.Steps = updated.Steps[:1]
	require.NoError(t, m.SaveGame(ctx, updated))
	game, err = m.GetGame(ctx, "game-1")
	require.NoError(t, err)
	assert.Len(t, game.Steps, 1)

	_, err = m.GetGame(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestManager_OutcomesAndDecisions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")

	now := time.Now().UTC()
	require.NoError(t, m.CreateOutcome(ctx, &types.Outcome{
		ID: "o1", SessionID: "s1", Title: "Found the key", StepIndex: intPtr0(0), PhaseIndex: intPtr0(0),
		CreatedAt: now, UpdatedAt: now,
	}))

	revealed := now.Add(time.Second)
	o, err := m.UpdateOutcome(ctx, "s1", "o1", func(o *types.Outcome) error {
		o.RevealedAt = &revealed
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, o.RevealedAt)

	outcomes, err := m.ListOutcomes(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 0, *outcomes[0].StepIndex)
	assert.NotNil(t, outcomes[0].RevealedAt)

	_, err = m.UpdateOutcome(ctx, "s1", "missing", func(*types.Outcome) error { return nil })
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, m.CreateDecision(ctx, &types.Decision{
		ID: "d1", SessionID: "s1", Title: "Open the door?", Options: []string{"yes", "no"},
		CreatedAt: now, UpdatedAt: now,
	}))
	result := "yes"
	d, err := m.UpdateDecision(ctx, "s1", "d1", func(d *types.Decision) error {
		d.Result = &result
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "yes", *d.Result)

	decisions, err := m.ListDecisions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, []string{"yes", "no"}, decisions[0].Options)
	assert.Nil(t, decisions[0].StepIndex)
}

func TestManager_AssignmentRoleChangeClearsReveal(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")
	require.NoError(t, m.CreateParticipant(ctx, &types.Participant{
		ID: "p1", SessionID: "s1", DisplayName: "Ana", Token: "tok-1",
		TokenExpiresAt: time.Now().Add(time.Hour), JoinedAt: time.Now(),
	}))

	require.NoError(t, m.UpsertAssignments(ctx, "s1", []types.RoleAssignment{{ParticipantID: "p1", RoleID: "role-butler"}}))
	a, err := m.MarkSecretRevealed(ctx, "s1", "p1", time.Now(), nil)
	require.NoError(t, err)
	require.NotNil(t, a.RevealedAt)

	require.NoError(t, m.UpsertAssignments(ctx, "s1", []types.RoleAssignment{{ParticipantID: "p1", RoleID: "role-butler"}}))
	list, err := m.ListAssignments(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotNil(t, list[0].RevealedAt, "same role keeps the reveal")

	require.NoError(t, m.UpsertAssignments(ctx, "s1", []types.RoleAssignment{{ParticipantID: "p1", RoleID: "role-detective"}}))
	list, err = m.ListAssignments(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "role-detective", list[0].RoleID)
	assert.Nil(t, list[0].RevealedAt)
}

func TestManager_MarkSecretRevealedGuardAndMissing(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")

	locked := errors.New("locked")
	_, err := m.MarkSecretRevealed(ctx, "s1", "p1", time.Now(), func(*types.Session) error { return locked })
	assert.ErrorIs(t, err, locked)

	_, err = m.MarkSecretRevealed(ctx, "s1", "p-unknown", time.Now(), nil)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestManager_ParticipantTokens(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")

	p := &types.Participant{ID: "p1", SessionID: "s1", DisplayName: "Ana", Token: "tok-1",
		TokenExpiresAt: time.Now().Add(time.Hour), JoinedAt: time.Now()}
	require.NoError(t, m.CreateParticipant(ctx, p))

	got, err := m.GetParticipantByToken(ctx, "s1", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)

	_, err = m.GetParticipantByToken(ctx, "other", "tok-1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	dup := *p
	dup.ID = "p2"
	assert.ErrorIs(t, m.CreateParticipant(ctx, &dup), interfaces.ErrDuplicate)

	count, err := m.CountParticipants(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestManager_ArtifactStateUpsert(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")

	at := time.Now().UTC()
	st, err := m.UpdateArtifactState(ctx, "s1", "var-1", func(s *types.ArtifactState) error {
		assert.Nil(t, s.RevealedAt, "missing row starts hidden")
		s.RevealedAt = &at
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, st.RevealedAt)

	_, err = m.UpdateArtifactState(ctx, "s1", "var-1", func(s *types.ArtifactState) error {
		s.HighlightedAt = &at
		return nil
	})
	require.NoError(t, err)

	states, err := m.ListArtifactStates(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.NotNil(t, states[0].RevealedAt)
	assert.NotNil(t, states[0].HighlightedAt)
}

func TestManager_EventsNewestFirst(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedSession(t, m, "s1", "ABC123")

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, m.AppendEvent(ctx, &types.SessionEvent{
			ID: fmt.Sprintf("e%d", i), SessionID: "s1", EventType: "step_changed",
			ActorType: types.ActorHost, ActorID: "host-1",
			Payload:   map[string]any{"step_index": float64(i)},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	events, err := m.ListEvents(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e2", events[0].ID)
	assert.Equal(t, float64(2), events[0].Payload["step_index"])
	assert.Equal(t, "e1", events[1].ID)
}

func TestManager_WriteHonoursCancelledContext(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.SaveGame(ctx, testGame())
	assert.Error(t, err)
}
