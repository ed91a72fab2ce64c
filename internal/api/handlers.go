package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"playsession/internal/session"
	"playsession/internal/trigger"
	"playsession/pkg/types"
)

// State command actions accepted by PATCH /sessions/{id}/state.
const (
	StateSetStep         = "set_step"
	StateSetPhase        = "set_phase"
	StateTimerStart      = "timer_start"
	StateTimerPause      = "timer_pause"
	StateTimerResume     = "timer_resume"
	StateTimerReset      = "timer_reset"
	StateSetBoardMessage = "set_board_message"
)

// Secrets gate actions accepted by POST /sessions/{id}/secrets.
const (
	SecretsUnlock = "unlock"
	SecretsRelock = "relock"
)

// HeaderIdempotencyKey deduplicates host trigger fires.
const HeaderIdempotencyKey = "X-Idempotency-Key"

func invalidField(field string, err error) error {
	return &session.ValidationError{Field: field, Err: err}
}

// sessionViewer resolves the {id} route parameter and the caller.
func (s *Server) sessionViewer(w http.ResponseWriter, r *http.Request) (types.Viewer, string, bool) {
	id := chi.URLParam(r, "id")
	viewer, err := s.viewer(r, id)
	if err != nil {
		writeError(w, r, err)
		return types.Viewer{}, "", false
	}
	return viewer, id, true
}

type createSessionRequest struct {
	GameID string `json:"game_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	viewer, err := s.viewer(r, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.GameID == "" {
		writeError(w, r, invalidField("game_id", types.ErrInvalidGame))
		return
	}
	created, err := s.ctrl.Create(r.Context(), viewer, req.GameID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": created})
}

type joinRequest struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.ctrl.Join(r.Context(), req.Code, req.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	detail, err := s.ctrl.Get(r.Context(), viewer, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.ctrl.SetStatus(r.Context(), viewer, id, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": updated})
}

// handleGetState serves the runtime snapshot to anyone holding the id.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.ctrl.State(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type stateRequest struct {
	Action          string          `json:"action"`
	StepIndex       *int            `json:"step_index"`
	PhaseIndex      *int            `json:"phase_index"`
	DurationSeconds *int            `json:"duration_seconds"`
	Message         *string         `json:"message"`
	Overrides       map[string]bool `json:"overrides"`
}

func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	var req stateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	var (
		updated *types.Session
		err     error
	)
	switch req.Action {
	case StateSetStep:
		if req.StepIndex == nil {
			err = invalidField("step_index", session.ErrInvalidIndex)
			break
		}
		updated, err = s.ctrl.SetStep(ctx, viewer, id, *req.StepIndex)
	case StateSetPhase:
		if req.PhaseIndex == nil {
			err = invalidField("phase_index", session.ErrInvalidIndex)
			break
		}
		updated, err = s.ctrl.SetPhase(ctx, viewer, id, *req.PhaseIndex)
	case StateTimerStart:
		if req.DurationSeconds == nil {
			err = invalidField("duration_seconds", session.ErrInvalidDuration)
			break
		}
		updated, err = s.ctrl.TimerStart(ctx, viewer, id, *req.DurationSeconds)
	case StateTimerPause:
		updated, err = s.ctrl.TimerPause(ctx, viewer, id)
	case StateTimerResume:
		updated, err = s.ctrl.TimerResume(ctx, viewer, id)
	case StateTimerReset:
		updated, err = s.ctrl.TimerReset(ctx, viewer, id)
	case StateSetBoardMessage:
		updated, err = s.ctrl.SetBoardMessage(ctx, viewer, id, req.Message, req.Overrides)
	default:
		err = invalidField("action", session.ErrUnknownAction)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": updated})
}

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	list, err := s.ctrl.ListTriggers(r.Context(), viewer, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []trigger.State{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": list})
}

type triggerRequest struct {
	TriggerID string `json:"triggerId"`
	Action    string `json:"action"`
}

func (s *Server) handleUpdateTrigger(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	var req triggerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.TriggerID == "" {
		writeError(w, r, invalidField("triggerId", session.ErrUnknownTrigger))
		return
	}
	res, err := s.ctrl.UpdateTrigger(r.Context(), viewer, id, req.TriggerID, req.Action, r.Header.Get(HeaderIdempotencyKey))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, invalidField("limit", strconv.ErrSyntax))
			return
		}
		limit = n
	}
	events, err := s.ctrl.ListEvents(r.Context(), viewer, id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	var event types.RuntimeEvent
	if err := decodeJSON(w, r, &event); err != nil {
		writeError(w, r, err)
		return
	}
	reports, err := s.ctrl.RecordEvent(r.Context(), viewer, id, event)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reports == nil {
		reports = []session.FireReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": reports})
}

func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	list, err := s.ctrl.ListOutcomes(r.Context(), viewer, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": list})
}

func (s *Server) handleCreateOutcome(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	var in session.OutcomeInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.ctrl.CreateOutcome(r.Context(), viewer, id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"outcome": created})
}

type outcomeRequest struct {
	OutcomeID string `json:"outcomeId"`
	Action    string `json:"action"`
	session.OutcomeUpdate
}

func (s *Server) handleUpdateOutcome(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	var req outcomeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	var (
		outcome *types.Outcome
		err     error
	)
	switch req.Action {
	case session.ActionUpdate:
		outcome, err = s.ctrl.UpdateOutcome(ctx, viewer, id, req.OutcomeID, req.OutcomeUpdate)
	case session.ActionReveal:
		outcome, err = s.ctrl.RevealOutcome(ctx, viewer, id, req.OutcomeID)
	case session.ActionHide:
		outcome, err = s.ctrl.HideOutcome(ctx, viewer, id, req.OutcomeID)
	default:
		err = invalidField("action", session.ErrUnknownAction)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	list, err := s.ctrl.ListDecisions(r.Context(), viewer, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": list})
}

func (s *Server) handleCreateDecision(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	var in session.DecisionInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.ctrl.CreateDecision(r.Context(), viewer, id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"decision": created})
}

type decisionRequest struct {
	DecisionID string  `json:"decisionId"`
	Action     string  `json:"action"`
	Result     *string `json:"result"`
}

func (s *Server) handleUpdateDecision(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var (
		decision *types.Decision
		err      error
	)
	switch req.Action {
	case session.ActionReveal:
		decision, err = s.ctrl.RevealDecision(r.Context(), viewer, id, req.DecisionID, req.Result)
	case session.ActionHide:
		decision, err = s.ctrl.HideDecision(r.Context(), viewer, id, req.DecisionID)
	default:
		err = invalidField("action", session.ErrUnknownAction)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decision": decision})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	list, err := s.ctrl.ListArtifacts(r.Context(), viewer, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": list})
}

type artifactRequest struct {
	VariantID string `json:"variantId"`
	Action    string `json:"action"`
}

func (s *Server) handleUpdateArtifact(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	var req artifactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	state, err := s.ctrl.UpdateArtifact(r.Context(), viewer, id, req.VariantID, req.Action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifact_state": state})
}

type keypadRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleKeypad(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	var req keypadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.ctrl.SubmitKeypad(r.Context(), viewer, id, chi.URLParam(r, "variantId"), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Triggers == nil {
		res.Triggers = []session.FireReport{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	list, err := s.ctrl.ListAssignments(r.Context(), viewer, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": list})
}

type assignRequest struct {
	Assignments []session.AssignmentInput `json:"assignments"`
}

func (s *Server) handleAssignRoles(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.ctrl.AssignRoles(r.Context(), viewer, id, req.Assignments)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": list})
}

func (s *Server) handleGetSecrets(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	view, err := s.ctrl.Secrets(r.Context(), viewer, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type secretsRequest struct {
	Action string `json:"action"`
}

// secretsSession is the session part of a secrets gate response.
type secretsSession struct {
	ID         string     `json:"id"`
	UnlockedAt *time.Time `json:"secret_instructions_unlocked_at"`
	UnlockedBy *string    `json:"secret_instructions_unlocked_by"`
}

func (s *Server) handleChangeSecrets(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	var req secretsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var (
		status *session.SecretsStatus
		err    error
	)
	switch req.Action {
	case SecretsUnlock:
		status, err = s.ctrl.UnlockSecrets(r.Context(), viewer, id)
	case SecretsRelock:
		status, err = s.ctrl.RelockSecrets(r.Context(), viewer, id)
	default:
		err = invalidField("action", session.ErrUnknownAction)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": secretsSession{ID: id, UnlockedAt: status.UnlockedAt, UnlockedBy: status.UnlockedBy},
		"stats":   status.Stats,
	})
}

func (s *Server) handleRevealSecret(w http.ResponseWriter, r *http.Request) {
	viewer, id, ok := s.sessionViewer(w, r)
	if !ok {
		return
	}
	own, err := s.ctrl.RevealSecret(r.Context(), viewer, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, own)
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	board, err := s.ctrl.Board(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *Server) handleImportGame(w http.ResponseWriter, r *http.Request) {
	viewer, err := s.viewer(r, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var game types.Game
	if err := decodeJSON(w, r, &game); err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if game.ID == "" {
		game.ID = id
	}
	if game.ID != id {
		writeError(w, r, invalidField("id", types.ErrInvalidGame))
		return
	}
	res, err := s.ctrl.ImportGame(r.Context(), viewer, &game)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
