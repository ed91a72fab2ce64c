package types

import "time"

// Artifact variant visibility values.
const (
	VisibilityPublic      = "public"
	VisibilityLeaderOnly  = "leader_only"
	VisibilityRolePrivate = "role_private"
)

// Game is the read-only configuration a session runs.
type Game struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Steps     []Step     `json:"steps" yaml:"steps"`
	Phases    []Phase    `json:"phases" yaml:"phases"`
	Roles     []Role     `json:"roles" yaml:"roles"`
	Artifacts []Artifact `json:"artifacts" yaml:"artifacts"`
	Triggers  []Trigger  `json:"triggers" yaml:"triggers"`
	CreatedAt time.Time  `json:"created_at" yaml:"-"`
}

// Step is one ordered subdivision of a game script.
type Step struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Order int    `json:"order" yaml:"order"`
}

// Phase is one ordered act of a game.
type Phase struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Order int    `json:"order" yaml:"order"`
}

// Role is a game role with secret instructions for its holder.
type Role struct {
	ID                 string `json:"id" yaml:"id"`
	Name               string `json:"name" yaml:"name"`
	SecretInstructions string `json:"secret_instructions,omitempty" yaml:"secret_instructions"`
	Order              int    `json:"order" yaml:"order"`
}

// Artifact groups the variants of one piece of revealable content.
type Artifact struct {
	ID       string            `json:"id" yaml:"id"`
	Title    string            `json:"title" yaml:"title"`
	Order    int               `json:"order" yaml:"order"`
	Variants []ArtifactVariant `json:"variants" yaml:"variants"`
}

// ArtifactVariant is the unit of artifact visibility.
type ArtifactVariant struct {
	ID              string `json:"id" yaml:"id"`
	ArtifactID      string `json:"artifact_id" yaml:"-"`
	Title           string `json:"title" yaml:"title"`
	Body            string `json:"body" yaml:"body"`
	Visibility      string `json:"visibility" yaml:"visibility"`
	VisibleToRoleID string `json:"visible_to_role_id,omitempty" yaml:"visible_to_role_id"`
	StepIndex       *int   `json:"step_index,omitempty" yaml:"step_index"`
	PhaseIndex      *int   `json:"phase_index,omitempty" yaml:"phase_index"`
	KeypadCode      string `json:"keypad_code,omitempty" yaml:"keypad_code"`
	Order           int    `json:"order" yaml:"order"`
}

// HasKeypad reports whether the variant is a keypad lock.
func (v *ArtifactVariant) HasKeypad() bool {
	return v.KeypadCode != ""
}

// FindVariant returns the variant with the given id across all artifacts.
func (g *Game) FindVariant(variantID string) (*ArtifactVariant, bool) {
	for i := range g.Artifacts {
		for j := range g.Artifacts[i].Variants {
			if g.Artifacts[i].Variants[j].ID == variantID {
				return &g.Artifacts[i].Variants[j], true
			}
		}
	}
	return nil, false
}

// FindTrigger returns the trigger with the given id.
func (g *Game) FindTrigger(triggerID string) (*Trigger, bool) {
	for i := range g.Triggers {
		if g.Triggers[i].ID == triggerID {
			return &g.Triggers[i], true
		}
	}
	return nil, false
}

// FindRole returns the role with the given id.
func (g *Game) FindRole(roleID string) (*Role, bool) {
	for i := range g.Roles {
		if g.Roles[i].ID == roleID {
			return &g.Roles[i], true
		}
	}
	return nil, false
}
