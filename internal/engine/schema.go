package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"AI-Adventure/server/internal/models"
)

var errMissingOptions = errors.New("options field missing")

// TurnSchemaName names the structured output format
const TurnSchemaName = "story_turn"

// TurnSchema is the structured output contract for one turn
func TurnSchema() *jsonschema.Definition {
	str := jsonschema.Definition{Type: jsonschema.String}
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"storyText": {Type: jsonschema.String, Description: "new story text for this turn only"},
			"options": {
				Type:        jsonschema.Array,
				Description: "choices offered to the player, label text only",
				Items:       &str,
			},
			"imagePrompt": {Type: jsonschema.String, Description: "scene to illustrate, empty for none"},
			"newCharacter": {
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"id":     str,
					"name":   str,
					"desc":   str,
					"detail": str,
					"event":  str,
				},
				Required: []string{"id", "name", "desc", "detail", "event"},
			},
		},
		Required: []string{"storyText", "options"},
	}
}

type turnPayload struct {
	StoryText    *string                    `json:"storyText"`
	Options      *[]string                  `json:"options"`
	ImagePrompt  *string                    `json:"imagePrompt"`
	NewCharacter *models.CharacterCandidate `json:"newCharacter"`
}

// ParseStructuredReply validates a JSON reply against the turn contract
func ParseStructuredReply(raw string) (models.TurnResult, error) {
	var payload turnPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return models.TurnResult{}, fmt.Errorf("failed to decode reply: %w", err)
	}
	if payload.StoryText == nil || strings.TrimSpace(*payload.StoryText) == "" {
		return models.TurnResult{}, errEmptyStory
	}
	if payload.Options == nil {
		return models.TurnResult{}, errMissingOptions
	}

	options := make([]string, 0, len(*payload.Options))
	for _, opt := range *payload.Options {
		if label := CleanOptionLabel(opt); label != "" {
			options = append(options, label)
		}
	}

	result := models.TurnResult{
		NarrativeText: strings.TrimSpace(*payload.StoryText),
		Options:       options,
	}
	if payload.ImagePrompt != nil {
		result.ImagePrompt = NormalizeImagePrompt(*payload.ImagePrompt)
	}
	if payload.NewCharacter != nil {
		result.NewCharacter = candidateOrNil(*payload.NewCharacter)
	}
	return result, nil
}
