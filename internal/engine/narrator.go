package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"AI-Adventure/server/internal/llm"
	"AI-Adventure/server/internal/models"
	"AI-Adventure/server/internal/prompts"
)

// Mode selects how the oracle output is constrained and validated
type Mode string

const (
	ModeSchema  Mode = "schema"
	ModeMarkers Mode = "markers"
)

const defaultAttempts = 3

// NarratorConfig tunes oracle calls
type NarratorConfig struct {
	Mode        Mode
	Attempts    int
	RetryDelay  time.Duration
	Temperature float32
	MaxTokens   int
}

// Narrator is the narrative oracle adapter: it builds the prompt, calls the
// model with retries and returns a validated turn.
type Narrator struct {
	completer llm.Completer
	templates *prompts.TemplateEngine
	cfg       NarratorConfig
}

// NewNarrator creates a narrator. Unknown modes fall back to schema mode.
func NewNarrator(completer llm.Completer, templates *prompts.TemplateEngine, cfg NarratorConfig) *Narrator {
	if cfg.Mode != ModeMarkers {
		cfg.Mode = ModeSchema
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if templates == nil {
		templates = prompts.NewTemplateEngine()
	}
	return &Narrator{completer: completer, templates: templates, cfg: cfg}
}

// Mode reports the active validation strategy
func (n *Narrator) Mode() Mode {
	return n.cfg.Mode
}

// Generate produces the next turn for action. It never touches the session.
func (n *Narrator) Generate(ctx context.Context, s *models.Session, action string) (models.TurnResult, error) {
	nc := BuildContext(s, action)
	req, err := n.buildRequest(nc, s.APIKey.Value())
	if err != nil {
		return models.TurnResult{}, &OracleError{Kind: ErrOracleFormat, Err: err}
	}
	markers := prompts.Markers(nc.Language)

	result, attempts, err := Attempt(ctx, n.cfg.Attempts, n.cfg.RetryDelay, func(ctx context.Context, attempt int) (models.TurnResult, error) {
		reply, err := n.completer.Complete(ctx, req)
		if err != nil {
			log.Printf("[Narrator] session %s attempt %d/%d: oracle call failed: %v", s.ID, attempt, n.cfg.Attempts, err)
			if errors.Is(err, llm.ErrCredential) || errors.Is(err, llm.ErrNoAPIKey) {
				return models.TurnResult{}, Permanent(transportFailure(err))
			}
			if errors.Is(err, llm.ErrMalformedOutput) {
				return models.TurnResult{}, formatFailure(err)
			}
			return models.TurnResult{}, transportFailure(err)
		}

		var parsed models.TurnResult
		if n.cfg.Mode == ModeMarkers {
			parsed, err = ParseMarkedReply(reply, markers)
		} else {
			parsed, err = ParseStructuredReply(reply)
		}
		if err != nil {
			log.Printf("[Narrator] session %s attempt %d/%d: malformed reply: %v", s.ID, attempt, n.cfg.Attempts, err)
			return models.TurnResult{}, formatFailure(err)
		}
		return parsed, nil
	})
	if err != nil {
		kind := ErrOracleFormat
		if ctx.Err() != nil || errors.Is(err, ErrOracleTransport) {
			kind = ErrOracleTransport
		}
		return models.TurnResult{}, &OracleError{Kind: kind, Attempts: attempts, Err: err}
	}
	return result, nil
}

func (n *Narrator) buildRequest(nc NarrativeContext, apiKey string) (*llm.CompletionRequest, error) {
	lang := nc.Language
	markers := prompts.Markers(lang)

	templateName := prompts.TemplateTurnSchema
	if n.cfg.Mode == ModeMarkers {
		templateName = prompts.TemplateTurnMarkers
	}
	system, err := n.templates.Render(prompts.Localized(templateName, lang), prompts.Vars{
		"theme":            nc.Settings.Theme,
		"style":            nc.Settings.Style,
		"difficulty":       nc.Settings.Difficulty,
		"intro":            nc.Settings.Intro,
		"stage":            prompts.StageLabel(string(nc.Stage), lang),
		"story_marker":     markers.Story,
		"options_marker":   markers.Options,
		"image_marker":     markers.Image,
		"character_marker": markers.Character,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render system prompt: %w", err)
	}

	messages := make([]llm.ChatMessage, 0, len(nc.RecentActions)+3)
	add := func(name string, vars prompts.Vars) error {
		text, err := n.templates.Render(prompts.Localized(name, lang), vars)
		if err != nil {
			return fmt.Errorf("failed to render %s: %w", name, err)
		}
		messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: text})
		return nil
	}

	if len(nc.CharacterNames) > 0 {
		sep := ", "
		if prompts.NormalizeLanguage(lang) == prompts.LangZH {
			sep = "，"
		}
		err = add(prompts.TemplateKnownCharacters, prompts.Vars{"names": strings.Join(nc.CharacterNames, sep)})
	} else {
		err = add(prompts.TemplateNoCharacters, nil)
	}
	if err != nil {
		return nil, err
	}
	if err := add(prompts.TemplatePreviousStory, prompts.Vars{"story": nc.StoryText}); err != nil {
		return nil, err
	}
	for _, action := range nc.RecentActions {
		messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: n.actionText(action, lang)})
	}
	if err := add(prompts.TemplateCurrentAction, prompts.Vars{"action": n.actionText(nc.Action, lang)}); err != nil {
		return nil, err
	}

	req := &llm.CompletionRequest{
		APIKey:      apiKey,
		System:      system,
		Messages:    messages,
		Temperature: n.cfg.Temperature,
		MaxTokens:   n.cfg.MaxTokens,
	}
	if n.cfg.Mode == ModeSchema {
		req.Schema = TurnSchema()
		req.SchemaName = TurnSchemaName
	}
	return req, nil
}

// actionText shows the synthetic opening action in the player's language
func (n *Narrator) actionText(action, lang string) string {
	if action != models.InitialAction {
		return action
	}
	text, err := n.templates.Render(prompts.Localized(prompts.TemplateOpeningAction, lang), nil)
	if err != nil {
		return action
	}
	return text
}
