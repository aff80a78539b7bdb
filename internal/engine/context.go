package engine

import "AI-Adventure/server/internal/models"

// Stage is the pacing label handed to the oracle
type Stage string

const (
	StageOpening     Stage = "opening"
	StageDevelopment Stage = "development"
	StageClimax      Stage = "climax"
	StageResolution  Stage = "resolution"
)

// MaxRecentActions bounds how many past player actions reach the prompt
const MaxRecentActions = 5

// NarrativeStage derives the stage from the number of committed turns
func NarrativeStage(turns int) Stage {
	switch {
	case turns < 3:
		return StageOpening
	case turns < 8:
		return StageDevelopment
	case turns < 12:
		return StageClimax
	default:
		return StageResolution
	}
}

// NarrativeContext is everything the oracle sees for one call. It is computed
// per call and never stored.
type NarrativeContext struct {
	Settings       models.Settings
	Language       string
	Stage          Stage
	CharacterNames []string
	StoryText      string
	RecentActions  []string
	Action         string
}

// BuildContext reads the session without modifying it
func BuildContext(s *models.Session, action string) NarrativeContext {
	return NarrativeContext{
		Settings:       s.Settings,
		Language:       s.Language,
		Stage:          NarrativeStage(s.Turns.Len()),
		CharacterNames: s.Characters.Names(),
		StoryText:      s.Turns.FullText(),
		RecentActions:  s.Turns.PlayerActions(MaxRecentActions),
		Action:         action,
	}
}
