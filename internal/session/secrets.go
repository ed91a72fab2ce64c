package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"playsession/pkg/types"
)

// SecretsStatus is the host view of the secret instructions gate.
type SecretsStatus struct {
	UnlockedAt *time.Time        `json:"secret_instructions_unlocked_at"`
	UnlockedBy *string           `json:"secret_instructions_unlocked_by,omitempty"`
	Stats      types.SecretStats `json:"stats"`
}

// OwnSecret is what a participant sees of their own role.
type OwnSecret struct {
	Unlocked           bool       `json:"unlocked"`
	RoleID             string     `json:"role_id,omitempty"`
	RoleName           string     `json:"role_name,omitempty"`
	SecretInstructions string     `json:"secret_instructions,omitempty"`
	RevealedAt         *time.Time `json:"revealed_at,omitempty"`
}

// UnlockSecrets opens the secret instructions. Every participant must hold a
// role first; otherwise the conflict carries the counts to fix.
func (c *Controller) UnlockSecrets(ctx context.Context, viewer types.Viewer, sessionID string) (*SecretsStatus, error) {
	return c.changeSecrets(ctx, viewer, sessionID, "unlock_secrets", func(s *types.Session, stats types.SecretStats) error {
		if stats.ParticipantCount > 0 && stats.AssignedCount < stats.ParticipantCount {
			return &ConflictError{
				Code:    ConflictSecretsUnassigned,
				Message: fmt.Sprintf("assign roles first: %d of %d participants have a role", stats.AssignedCount, stats.ParticipantCount),
				Details: map[string]any{"stats": stats},
			}
		}
		if s.SecretsUnlocked() {
			return errUnchanged
		}
		now := c.now()
		by := viewer.UserID
		s.SecretsUnlockedAt = &now
		s.SecretsUnlockedBy = &by
		return nil
	})
}

// RelockSecrets closes the secret instructions again, which is only allowed
// while nobody has revealed theirs. A refused relock keeps the unlock stamp.
func (c *Controller) RelockSecrets(ctx context.Context, viewer types.Viewer, sessionID string) (*SecretsStatus, error) {
	return c.changeSecrets(ctx, viewer, sessionID, "relock_secrets", func(s *types.Session, stats types.SecretStats) error {
		if stats.RevealedCount > 0 {
			return &ConflictError{
				Code:    ConflictSecretsRevealed,
				Message: fmt.Sprintf("cannot relock: %d participants already revealed their instructions", stats.RevealedCount),
				Details: map[string]any{"revealed_count": stats.RevealedCount, "stats": stats},
			}
		}
		if !s.SecretsUnlocked() {
			return errUnchanged
		}
		s.SecretsUnlockedAt = nil
		s.SecretsUnlockedBy = nil
		return nil
	})
}

func (c *Controller) changeSecrets(ctx context.Context, viewer types.Viewer, sessionID, op string, fn func(*types.Session, types.SecretStats) error) (*SecretsStatus, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, done(op, err)
	}

	var (
		current *types.Session
		changed = true
	)
	s, stats, err := c.store.UpdateSecretsGate(ctx, sessionID, func(s *types.Session, stats types.SecretStats) error {
		if err := authorizeHost(viewer, s); err != nil {
			return err
		}
		if s.IsTerminal() {
			return notMutable(s.Status)
		}
		current = s
		return fn(s, stats)
	})
	if errors.Is(err, errUnchanged) {
		s, err, changed = current, nil, false
	}
	if err != nil {
		return nil, done(op, storeErr("update secrets", err))
	}

	status := &SecretsStatus{UnlockedAt: s.SecretsUnlockedAt, UnlockedBy: s.SecretsUnlockedBy, Stats: stats}
	if changed {
		c.recordBy(ctx, viewer, sessionID, op, map[string]any{"stats": stats})
		c.publish(ctx, sessionID, types.BroadcastSecretsUpdate, map[string]any{
			"unlocked":                        s.SecretsUnlocked(),
			"secret_instructions_unlocked_at": s.SecretsUnlockedAt,
		})
	}
	return status, done(op, nil)
}

// Secrets returns the gate status to the host, or the participant's own
// instructions once unlocked.
func (c *Controller) Secrets(ctx context.Context, viewer types.Viewer, sessionID string) (any, error) {
	s, err := c.loadForMember(ctx, viewer, sessionID)
	if err != nil {
		return nil, storeErr("load session", err)
	}

	if viewer.Kind == types.ViewerHost {
		participants, err := c.store.ListParticipants(ctx, sessionID)
		if err != nil {
			return nil, storeErr("list participants", err)
		}
		assignments, err := c.store.ListAssignments(ctx, sessionID)
		if err != nil {
			return nil, storeErr("list assignments", err)
		}
		stats := types.SecretStats{ParticipantCount: len(participants), AssignedCount: len(assignments)}
		for _, a := range assignments {
			if a.RevealedAt != nil {
				stats.RevealedCount++
			}
		}
		return &SecretsStatus{UnlockedAt: s.SecretsUnlockedAt, UnlockedBy: s.SecretsUnlockedBy, Stats: stats}, nil
	}

	own := &OwnSecret{Unlocked: s.SecretsUnlocked()}
	if !own.Unlocked {
		return own, nil
	}
	a, err := c.assignmentOf(ctx, sessionID, viewer.ParticipantID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return own, nil
	}
	own.RoleID = a.RoleID
	own.RevealedAt = a.RevealedAt
	if g, err := c.game(ctx, s.GameID); err == nil {
		if role, ok := g.FindRole(a.RoleID); ok {
			own.RoleName = role.Name
			own.SecretInstructions = role.SecretInstructions
		}
	}
	return own, nil
}

// RevealSecret marks the participant's own instructions as opened.
func (c *Controller) RevealSecret(ctx context.Context, viewer types.Viewer, sessionID string) (*OwnSecret, error) {
	if !viewer.IsAuthenticated() {
		return nil, done("reveal_secret", ErrUnauthenticated)
	}
	if viewer.Kind != types.ViewerParticipant || viewer.SessionID != sessionID {
		return nil, done("reveal_secret", ErrForbidden)
	}

	var gameID string
	a, err := c.store.MarkSecretRevealed(ctx, sessionID, viewer.ParticipantID, c.now(), func(s *types.Session) error {
		if s.IsTerminal() {
			return notMutable(s.Status)
		}
		if !s.SecretsUnlocked() {
			return invalid("secrets", ErrSecretsLocked)
		}
		gameID = s.GameID
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = invalid("assignment", ErrNoAssignment)
		}
		return nil, done("reveal_secret", storeErr("reveal secret", err))
	}

	own := &OwnSecret{Unlocked: true, RoleID: a.RoleID, RevealedAt: a.RevealedAt}
	if g, err := c.game(ctx, gameID); err == nil {
		if role, ok := g.FindRole(a.RoleID); ok {
			own.RoleName = role.Name
			own.SecretInstructions = role.SecretInstructions
		}
	}
	c.recordBy(ctx, viewer, sessionID, "secret_revealed", map[string]any{"role_id": a.RoleID})
	c.publish(ctx, sessionID, types.BroadcastSecretsUpdate, map[string]any{
		"action":         "revealed",
		"participant_id": viewer.ParticipantID,
	})
	return own, done("reveal_secret", nil)
}

// AssignmentInput binds one participant to one role.
type AssignmentInput struct {
	ParticipantID string `json:"participant_id"`
	RoleID        string `json:"role_id"`
}

// AssignRoles upserts role assignments. Every participant must belong to the
// session and every role to its game. Changing a role clears its reveal.
func (c *Controller) AssignRoles(ctx context.Context, viewer types.Viewer, sessionID string, in []AssignmentInput) ([]types.RoleAssignment, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, done("assign_roles", err)
	}
	if len(in) == 0 {
		return nil, done("assign_roles", invalid("assignments", ErrInvalidAssignments))
	}
	s, err := c.loadForHost(ctx, viewer, sessionID, true)
	if err != nil {
		return nil, done("assign_roles", storeErr("load session", err))
	}
	g, err := c.game(ctx, s.GameID)
	if err != nil {
		return nil, done("assign_roles", storeErr("load game", err))
	}
	participants, err := c.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, done("assign_roles", storeErr("list participants", err))
	}
	known := make(map[string]bool, len(participants))
	for _, p := range participants {
		known[p.ID] = true
	}

	var bad []string
	now := c.now()
	assignments := make([]types.RoleAssignment, 0, len(in))
	for _, a := range in {
		if !known[a.ParticipantID] {
			bad = append(bad, a.ParticipantID)
			continue
		}
		if _, ok := g.FindRole(a.RoleID); !ok {
			bad = append(bad, a.RoleID)
			continue
		}
		assignments = append(assignments, types.RoleAssignment{
			SessionID: sessionID, ParticipantID: a.ParticipantID, RoleID: a.RoleID, AssignedAt: now,
		})
	}
	if len(bad) > 0 {
		return nil, done("assign_roles", invalidAssignments(bad))
	}

	if err := c.store.UpsertAssignments(ctx, sessionID, assignments); err != nil {
		return nil, done("assign_roles", storeErr("save assignments", err))
	}
	c.recordBy(ctx, viewer, sessionID, "roles_assigned", map[string]any{"count": len(assignments)})
	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		ids = append(ids, a.ParticipantID)
	}
	c.publish(ctx, sessionID, types.BroadcastRoleUpdate, map[string]any{"participant_ids": ids})

	all, err := c.store.ListAssignments(ctx, sessionID)
	if err != nil {
		return nil, done("assign_roles", storeErr("list assignments", err))
	}
	return nonNilAssignments(all), done("assign_roles", nil)
}

// ListAssignments returns all role assignments to the host.
func (c *Controller) ListAssignments(ctx context.Context, viewer types.Viewer, sessionID string) ([]types.RoleAssignment, error) {
	if _, err := c.loadForHost(ctx, viewer, sessionID, false); err != nil {
		return nil, storeErr("load session", err)
	}
	all, err := c.store.ListAssignments(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list assignments", err)
	}
	return nonNilAssignments(all), nil
}

// assignmentOf returns the participant's assignment or nil.
func (c *Controller) assignmentOf(ctx context.Context, sessionID, participantID string) (*types.RoleAssignment, error) {
	all, err := c.store.ListAssignments(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list assignments", err)
	}
	for i := range all {
		if all[i].ParticipantID == participantID {
			return &all[i], nil
		}
	}
	return nil, nil
}

func nonNilAssignments(a []types.RoleAssignment) []types.RoleAssignment {
	if a == nil {
		return []types.RoleAssignment{}
	}
	return a
}
