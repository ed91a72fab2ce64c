package integration

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playsession/internal/session"
	"playsession/pkg/types"
)

func murderMystery() *types.Game {
	step := 0
	return &types.Game{
		ID:   "game-manor",
		Name: "Mystery Manor",
		Steps: []types.Step{
			{ID: "step-arrival", Title: "Arrival", Order: 0},
			{ID: "step-dinner", Title: "Dinner", Order: 1},
			{ID: "step-accusation", Title: "Accusation", Order: 2},
		},
		Phases: []types.Phase{{ID: "phase-main", Name: "Main", Order: 0}},
		Roles: []types.Role{
			{ID: "role-detective", Name: "Detective", SecretInstructions: "Find the butler", Order: 0},
			{ID: "role-butler", Name: "Butler", SecretInstructions: "You did it", Order: 1},
		},
		Artifacts: []types.Artifact{{
			ID: "art-will", Title: "The will", Order: 0,
			Variants: []types.ArtifactVariant{
				{ID: "var-will", Title: "Torn will", Visibility: types.VisibilityPublic, Order: 0},
				{ID: "var-confession", Title: "Confession", Visibility: types.VisibilityRolePrivate, VisibleToRoleID: "role-butler", Order: 1},
				{ID: "var-desk", Title: "Desk lock", Visibility: types.VisibilityPublic, KeypadCode: "1899", StepIndex: &step, Order: 2},
			},
		}},
		Triggers: []types.Trigger{{
			ID: "trg-desk", Name: "Desk opens", Order: 0, ExecuteOnce: true,
			Condition: types.TriggerCondition{Type: types.EventKeypadCorrect, KeypadID: "var-desk"},
			Actions:   []types.TriggerAction{{Type: types.ActionRevealArtifact, VariantID: "var-will"}},
		}},
	}
}

type liveSession struct {
	id    string
	code  string
	host  string
	alice string
	bob   string

	aliceID string
	bobID   string
}

func setupSession(t *testing.T, in *instance) *liveSession {
	t.Helper()
	admin := in.hostToken(t, "admin-1", true)
	require.Equal(t, http.StatusOK, in.call(t, http.MethodPut, "/api/games/game-manor", admin, murderMystery(), nil))

	ls := &liveSession{host: in.hostToken(t, "host-1", false)}
	var created struct {
		Session types.Session `json:"session"`
	}
	require.Equal(t, http.StatusCreated, in.call(t, http.MethodPost, "/api/sessions", ls.host, map[string]any{"game_id": "game-manor"}, &created))
	ls.id, ls.code = created.Session.ID, created.Session.Code

	var alice, bob session.JoinResult
	require.Equal(t, http.StatusCreated, in.call(t, http.MethodPost, "/api/sessions/join", "", map[string]any{"code": ls.code, "display_name": "Alice"}, &alice))
	require.Equal(t, http.StatusCreated, in.call(t, http.MethodPost, "/api/sessions/join", "", map[string]any{"code": ls.code, "display_name": "Bob"}, &bob))
	ls.alice, ls.aliceID = "p:"+alice.Token, alice.Participant.ID
	ls.bob, ls.bobID = "p:"+bob.Token, bob.Participant.ID
	return ls
}

func (ls *liveSession) path(suffix string) string {
	return "/api/sessions/" + ls.id + suffix
}

func TestLiveSessionScenario(t *testing.T) {
	in := startInstance(t, newConfig(t, "", ""))
	ls := setupSession(t, in)

	hostSub, snapshot := in.subscribe(t, ls.id, ls.host)
	state, ok := snapshot.Payload["state"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, state["participant_count"])
	aliceSub, _ := in.subscribe(t, ls.id, ls.alice)
	bobSub, _ := in.subscribe(t, ls.id, ls.bob)
	in.waitForSubscribers(t, 3)

	// Roles, then the secret gate.
	require.Equal(t, http.StatusOK, in.call(t, http.MethodPost, ls.path("/assignments"), ls.host, map[string]any{
		"assignments": []map[string]any{
			{"participant_id": ls.aliceID, "role_id": "role-detective"},
			{"participant_id": ls.bobID, "role_id": "role-butler"},
		},
	}, nil))
	for _, sub := range []*subscriber{hostSub, aliceSub, bobSub} {
		sub.waitFor(t, types.BroadcastRoleUpdate)
	}

	require.Equal(t, http.StatusOK, in.call(t, http.MethodPost, ls.path("/secrets"), ls.host, map[string]any{"action": "unlock"}, nil))
	aliceSub.waitFor(t, types.BroadcastSecretsUpdate)

	var own session.OwnSecret
	require.Equal(t, http.StatusOK, in.call(t, http.MethodPost, ls.path("/secrets/reveal"), ls.bob, nil, &own))
	assert.Equal(t, "You did it", own.SecretInstructions)

	// Role-private content follows the assignment.
	require.Equal(t, http.StatusOK, in.call(t, http.MethodPatch, ls.path("/artifacts"), ls.host, map[string]any{"variantId": "var-confession", "action": "reveal"}, nil))
	update := aliceSub.waitFor(t, types.BroadcastArtifactUpdate)
	assert.Equal(t, "var-confession", update.Payload["variant_id"])
	bobSub.waitFor(t, types.BroadcastArtifactUpdate)

	var aliceView, bobView struct {
		Artifacts []map[string]any `json:"artifacts"`
	}
	require.Equal(t, http.StatusOK, in.call(t, http.MethodGet, ls.path("/artifacts"), ls.alice, nil, &aliceView))
	require.Equal(t, http.StatusOK, in.call(t, http.MethodGet, ls.path("/artifacts"), ls.bob, nil, &bobView))
	assert.False(t, containsID(aliceView.Artifacts, "var-confession"))
	assert.True(t, containsID(bobView.Artifacts, "var-confession"))

	// Solving the desk lock cascades into the will reveal.
	var keypad session.KeypadResult
	require.Equal(t, http.StatusOK, in.call(t, http.MethodPost, ls.path("/artifacts/var-desk/keypad"), ls.alice, map[string]any{"code": "1899"}, &keypad))
	assert.True(t, keypad.Correct)
	hostSub.waitFor(t, types.BroadcastTriggerUpdate)

	// Every subscriber sees the same seq for the same change.
	require.Equal(t, http.StatusOK, in.call(t, http.MethodPatch, ls.path("/state"), ls.host, map[string]any{"action": "set_step", "step_index": 1}, nil))
	h := hostSub.waitFor(t, types.BroadcastStateChange)
	a := aliceSub.waitFor(t, types.BroadcastStateChange)
	b := bobSub.waitFor(t, types.BroadcastStateChange)
	assert.Equal(t, h.Seq, a.Seq)
	assert.Equal(t, h.Seq, b.Seq)
	assert.EqualValues(t, 1, h.Payload["current_step_index"])

	// Repeating the same step is a no-op and broadcasts nothing.
	require.Equal(t, http.StatusOK, in.call(t, http.MethodPatch, ls.path("/state"), ls.host, map[string]any{"action": "set_step", "step_index": 1}, nil))
	hostSub.expectNone(t, 200*time.Millisecond)

	// Ending the session freezes it.
	require.Equal(t, http.StatusOK, in.call(t, http.MethodPatch, ls.path("/status"), ls.host, map[string]any{"status": types.StatusEnded}, nil))
	aliceSub.waitFor(t, types.BroadcastStatusChange)
	assert.Equal(t, http.StatusConflict, in.call(t, http.MethodPatch, ls.path("/state"), ls.host, map[string]any{"action": "set_step", "step_index": 2}, nil))
}

func TestMultiInstanceFanOut(t *testing.T) {
	mr := miniredis.RunT(t)
	dbPath := filepath.Join(t.TempDir(), "shared.db")

	first := startInstance(t, newConfig(t, dbPath, mr.Addr()))
	second := startInstance(t, newConfig(t, dbPath, mr.Addr()))
	ls := setupSession(t, first)

	onFirst, snapFirst := first.subscribe(t, ls.id, ls.host)
	onSecond, snapSecond := second.subscribe(t, ls.id, ls.alice)
	assert.Equal(t, snapFirst.Seq, snapSecond.Seq, "seq is shared across instances")
	first.waitForSubscribers(t, 1)
	second.waitForSubscribers(t, 1)

	// A command on one instance reaches subscribers on both.
	require.Equal(t, http.StatusOK, first.call(t, http.MethodPatch, ls.path("/state"), ls.host, map[string]any{"action": "set_step", "step_index": 2}, nil))
	a := onFirst.waitFor(t, types.BroadcastStateChange)
	b := onSecond.waitFor(t, types.BroadcastStateChange)
	assert.Equal(t, a.Seq, b.Seq)

	// And the other way round, continuing the same counter.
	require.Equal(t, http.StatusOK, second.call(t, http.MethodPatch, ls.path("/state"), ls.host, map[string]any{"action": "set_board_message", "message": "Dessert is served"}, nil))
	c := onFirst.waitFor(t, types.BroadcastBoardUpdate)
	d := onSecond.waitFor(t, types.BroadcastBoardUpdate)
	assert.Equal(t, a.Seq+1, c.Seq)
	assert.Equal(t, c.Seq, d.Seq)
}

func containsID(items []map[string]any, id string) bool {
	for _, it := range items {
		if it["id"] == id {
			return true
		}
	}
	return false
}
