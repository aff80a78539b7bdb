package models

import (
	"fmt"
	"time"
)

// Settings are chosen by the player when a game starts
type Settings struct {
	Theme      string `json:"theme"`
	Style      string `json:"style"`
	Difficulty string `json:"difficulty"`
	Intro      string `json:"intro"`
}

// Secret is an opaque credential. It marshals as its value so sessions can be
// persisted, but it never prints.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

func (s Secret) GoString() string {
	return `models.Secret("[REDACTED]")`
}

func (s Secret) Format(f fmt.State, verb rune) {
	_, _ = f.Write([]byte(s.String()))
}

// Value returns the raw credential for the oracle clients
func (s Secret) Value() string {
	return string(s)
}

// Session is the narrative state of one player. Turns, Characters and the
// pending image slot are only changed through the transition methods below.
type Session struct {
	ID                 string            `json:"id"`
	GameID             string            `json:"game_id"`
	Settings           Settings          `json:"settings"`
	Language           string            `json:"language"`
	ImagesEnabled      bool              `json:"images_enabled"`
	APIKey             Secret            `json:"api_key,omitempty"`
	Turns              TurnLog           `json:"turns"`
	Characters         CharacterRegistry `json:"characters"`
	PendingImagePrompt string            `json:"pending_image_prompt,omitempty"`
	PendingImageTurn   int               `json:"pending_image_turn"`
	Stats              PlayerStats       `json:"player_stats"`
	Version            int64             `json:"version"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// NewSession creates a session with no turns yet
func NewSession(id string, settings Settings, language string, imagesEnabled bool, apiKey string) *Session {
	return &Session{
		ID:               id,
		Settings:         settings,
		Language:         language,
		ImagesEnabled:    imagesEnabled,
		APIKey:           Secret(apiKey),
		Turns:            TurnLog{},
		Characters:       CharacterRegistry{},
		PendingImageTurn: -1,
		Stats:            DefaultPlayerStats(),
	}
}

// Started reports whether gameplay has produced at least one turn
func (s *Session) Started() bool {
	return s.Turns.Len() > 0
}

// CommitTurn appends the oracle result as the new current turn, merges its
// character mention and, when illustration applies, claims the pending image
// slot for it. A previous turn still waiting for its image loses the slot and
// is marked failed with placeholder.
func (s *Session) CommitTurn(action string, result TurnResult, avatar AvatarFunc, placeholder string) int {
	if latest := s.Turns.Len() - 1; latest >= 0 && s.Turns[latest].ImageStatus == ImagePending {
		s.Turns.setImage(latest, ImageFailed, placeholder)
	}

	record := TurnRecord{
		PlayerAction:  action,
		NarrativeText: result.NarrativeText,
		Options:       result.Options,
		ImagePrompt:   result.ImagePrompt,
		ImageStatus:   ImageNone,
	}
	pending := s.ImagesEnabled && result.ImagePrompt != ""
	if pending {
		record.ImageStatus = ImagePending
	}
	index := s.Turns.Append(record)

	if result.NewCharacter != nil {
		s.Characters.Merge(*result.NewCharacter, avatar)
	}

	if pending {
		s.PendingImagePrompt = result.ImagePrompt
		s.PendingImageTurn = index
	} else {
		s.clearPendingImage()
	}
	return index
}

// TakePendingImage clears the pending slot and returns what it held. The
// caller must persist the cleared slot before generating, so that a retried
// or concurrent pull never sees the same prompt twice.
func (s *Session) TakePendingImage() (prompt string, turn int, ok bool) {
	if s.PendingImagePrompt == "" {
		return "", -1, false
	}
	prompt, turn = s.PendingImagePrompt, s.PendingImageTurn
	s.clearPendingImage()
	return prompt, turn, true
}

// ResolveImage marks a still pending turn as illustrated
func (s *Session) ResolveImage(turn int, url string) bool {
	if url == "" || !s.isPending(turn) {
		return false
	}
	return s.Turns.setImage(turn, ImageReady, url)
}

// FailImage marks a still pending turn as failed, pointing at placeholder
func (s *Session) FailImage(turn int, placeholder string) bool {
	if !s.isPending(turn) {
		return false
	}
	return s.Turns.setImage(turn, ImageFailed, placeholder)
}

// HealImageDesync fails the current turn when it is pending but no prompt is
// tracked for it anymore, so that polling terminates.
func (s *Session) HealImageDesync(placeholder string) bool {
	latest := s.Turns.Len() - 1
	if latest < 0 || s.Turns[latest].ImageStatus != ImagePending {
		return false
	}
	if s.PendingImagePrompt != "" && s.PendingImageTurn == latest {
		return false
	}
	return s.Turns.setImage(latest, ImageFailed, placeholder)
}

func (s *Session) isPending(turn int) bool {
	return turn >= 0 && turn < s.Turns.Len() && s.Turns[turn].ImageStatus == ImagePending
}

func (s *Session) clearPendingImage() {
	s.PendingImagePrompt = ""
	s.PendingImageTurn = -1
}
