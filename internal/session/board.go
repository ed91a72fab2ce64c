package session

import (
	"context"
	"fmt"

	"playsession/internal/trigger"
	"playsession/internal/visibility"
	"playsession/pkg/types"
)

// ImportResult reports a stored game and any trigger authoring warnings.
type ImportResult struct {
	GameID   string   `json:"game_id"`
	Warnings []string `json:"warnings"`
}

// ImportGame validates and stores a game configuration. Only admins may
// import; running sessions pick up the new configuration on their next read.
func (c *Controller) ImportGame(ctx context.Context, viewer types.Viewer, game *types.Game) (*ImportResult, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, done("import_game", err)
	}
	if !viewer.IsAdmin {
		return nil, done("import_game", ErrForbidden)
	}
	if err := ValidateGame(game); err != nil {
		return nil, done("import_game", err)
	}

	if err := c.store.SaveGame(ctx, game); err != nil {
		return nil, done("import_game", storeErr("save game", err))
	}
	c.forgetGame(game.ID)

	warnings := []string{}
	for _, t := range game.Triggers {
		warnings = append(warnings, trigger.DetectLoops(t)...)
	}
	c.logger.Info().Str("game_id", game.ID).Int("triggers", len(game.Triggers)).Int("warnings", len(warnings)).Msg("game imported")
	return &ImportResult{GameID: game.ID, Warnings: warnings}, done("import_game", nil)
}

// ValidateGame checks the game structure and every trigger definition.
func ValidateGame(game *types.Game) error {
	if game == nil {
		return invalid("game", types.ErrInvalidGame)
	}
	if err := game.Validate(); err != nil {
		return invalid("game", err)
	}
	for _, t := range game.Triggers {
		if err := trigger.ValidateConfig(t); err != nil {
			return invalid("triggers", err)
		}
		for _, a := range t.Actions {
			if a.Type == types.ActionRevealArtifact {
				if _, ok := game.FindVariant(a.VariantID); !ok {
					return invalid("triggers", fmt.Errorf("trigger %s: %w: %s", t.ID, ErrUnknownVariant, a.VariantID))
				}
			}
		}
	}
	return nil
}

// Board is the public spectator aggregate addressed by session code.
type Board struct {
	Code      string                   `json:"code"`
	GameName  string                   `json:"game_name"`
	State     *StateView               `json:"state"`
	Artifacts []visibility.VariantView `json:"artifacts"`
	Decisions []types.Decision         `json:"decisions"`
	Outcomes  []types.Outcome          `json:"outcomes"`
}

// Board returns the public view of the session with the given code. It needs
// no credentials and applies participant rules with no role. Concurrent reads
// of the same code share one load.
func (c *Controller) Board(ctx context.Context, code string) (*Board, error) {
	code = types.NormalizeSessionCode(code)
	if !types.IsValidSessionCode(code) {
		return nil, invalid("code", types.ErrInvalidSessionCode)
	}
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := c.boards.Do(code, func() (interface{}, error) {
		return c.loadBoard(loadCtx, code)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Board), nil
}

func (c *Controller) loadBoard(ctx context.Context, code string) (*Board, error) {
	s, err := c.store.GetSessionByCode(ctx, code)
	if err != nil {
		return nil, storeErr("load session", err)
	}
	g, err := c.game(ctx, s.GameID)
	if err != nil {
		return nil, storeErr("load game", err)
	}
	state, err := c.stateView(ctx, s)
	if err != nil {
		return nil, err
	}
	states, err := c.store.ListArtifactStates(ctx, s.ID)
	if err != nil {
		return nil, storeErr("list artifact state", err)
	}
	decisions, err := c.store.ListDecisions(ctx, s.ID)
	if err != nil {
		return nil, storeErr("list decisions", err)
	}
	outcomes, err := c.store.ListOutcomes(ctx, s.ID)
	if err != nil {
		return nil, storeErr("list outcomes", err)
	}

	pos := position(s)
	return &Board{
		Code:      s.Code,
		GameName:  g.Name,
		State:     state,
		Artifacts: visibility.FilterVariants(g.Artifacts, states, visibility.Public, pos),
		Decisions: visibility.FilterDecisions(decisions, visibility.Public, pos),
		Outcomes:  visibility.FilterOutcomes(outcomes, visibility.Public, pos),
	}, nil
}

// Snapshot is the state a new subscriber starts from. Hidden content is
// never included; clients fetch their filtered lists separately.
func (c *Controller) Snapshot(ctx context.Context, viewer types.Viewer, sessionID string) (*StateView, error) {
	s, err := c.loadForMember(ctx, viewer, sessionID)
	if err != nil {
		return nil, storeErr("load session", err)
	}
	return c.stateView(ctx, s)
}
