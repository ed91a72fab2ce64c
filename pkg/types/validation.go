package types

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	userIDRegex      = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	sessionCodeRegex = regexp.MustCompile(`^[A-Z0-9]{6}$`)
)

// Field limits shared by validation and the HTTP layer.
const (
	MaxTitleLength       = 200
	MaxBodyLength        = 10000
	MaxOutcomeTypeLength = 50
	MaxDecisionOptions   = 20
	MaxDisplayNameLength = 50
	MaxBoardMessage      = 1000
)

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidSessionCode checks the shareable session code format.
func IsValidSessionCode(code string) bool {
	return sessionCodeRegex.MatchString(code)
}

// NormalizeSessionCode uppercases and trims a user-typed code.
func NormalizeSessionCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidSessionStatus checks that status is one of the known session statuses.
func IsValidSessionStatus(status string) bool {
	switch status {
	case StatusDraft, StatusActive, StatusPaused, StatusLocked,
		StatusEnded, StatusArchived, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidDisplayName checks a participant display name.
func IsValidDisplayName(name string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	return n >= 1 && n <= MaxDisplayNameLength
}

func validTitle(title string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(title))
	return n >= 1 && n <= MaxTitleLength
}

// Validate ensures the outcome text fields are within limits.
func (o *Outcome) Validate() error {
	if !validTitle(o.Title) {
		return ErrInvalidTitle
	}
	if utf8.RuneCountInString(o.Body) > MaxBodyLength {
		return ErrBodyTooLarge
	}
	if utf8.RuneCountInString(o.OutcomeType) > MaxOutcomeTypeLength {
		return ErrInvalidOutcomeType
	}
	return nil
}

// Validate ensures the decision title and options are within limits.
func (d *Decision) Validate() error {
	if !validTitle(d.Title) {
		return ErrInvalidTitle
	}
	if len(d.Options) > MaxDecisionOptions {
		return ErrInvalidOptions
	}
	for _, opt := range d.Options {
		if strings.TrimSpace(opt) == "" {
			return ErrInvalidOptions
		}
	}
	return nil
}

// Validate ensures the board message is within limits.
func (b *BoardState) Validate() error {
	if b.Message != nil && utf8.RuneCountInString(*b.Message) > MaxBoardMessage {
		return ErrMessageTooLong
	}
	return nil
}

// IsValidVisibility checks an artifact variant visibility value.
func IsValidVisibility(v string) bool {
	switch v {
	case VisibilityPublic, VisibilityLeaderOnly, VisibilityRolePrivate:
		return true
	default:
		return false
	}
}

// Validate checks structural integrity of a game: ids present and unique,
// variant visibility known, role references resolvable. Trigger rule checks
// live with the trigger evaluator.
func (g *Game) Validate() error {
	if strings.TrimSpace(g.ID) == "" {
		return fmt.Errorf("%w: game id is required", ErrInvalidGame)
	}
	if strings.TrimSpace(g.Name) == "" {
		return fmt.Errorf("%w: game name is required", ErrInvalidGame)
	}

	seen := make(map[string]string)
	claim := func(kind, id string) error {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: %s id is required", ErrInvalidGame, kind)
		}
		if prev, exists := seen[id]; exists {
			return fmt.Errorf("%w: id %q used by both %s and %s", ErrInvalidGame, id, prev, kind)
		}
		seen[id] = kind
		return nil
	}

	for _, s := range g.Steps {
		if err := claim("step", s.ID); err != nil {
			return err
		}
	}
	for _, p := range g.Phases {
		if err := claim("phase", p.ID); err != nil {
			return err
		}
	}
	roles := make(map[string]bool, len(g.Roles))
	for _, r := range g.Roles {
		if err := claim("role", r.ID); err != nil {
			return err
		}
		roles[r.ID] = true
	}
	for _, a := range g.Artifacts {
		if err := claim("artifact", a.ID); err != nil {
			return err
		}
		for _, v := range a.Variants {
			if err := claim("artifact variant", v.ID); err != nil {
				return err
			}
			if !IsValidVisibility(v.Visibility) {
				return fmt.Errorf("%w: variant %s has visibility %q", ErrInvalidVisibility, v.ID, v.Visibility)
			}
			if v.Visibility == VisibilityRolePrivate && !roles[v.VisibleToRoleID] {
				return fmt.Errorf("%w: variant %s references unknown role %q", ErrInvalidGame, v.ID, v.VisibleToRoleID)
			}
			if (v.StepIndex != nil && *v.StepIndex < 0) || (v.PhaseIndex != nil && *v.PhaseIndex < 0) {
				return fmt.Errorf("%w: variant %s has a negative position", ErrInvalidGame, v.ID)
			}
		}
	}
	for _, t := range g.Triggers {
		if err := claim("trigger", t.ID); err != nil {
			return err
		}
	}
	return nil
}
