package models

import "strings"

// ImageStatus tracks the illustration state of a single turn
type ImageStatus string

const (
	ImageNone    ImageStatus = "none"
	ImagePending ImageStatus = "pending"
	ImageReady   ImageStatus = "ready"
	ImageFailed  ImageStatus = "failed"
)

// InitialAction is the synthetic player action recorded for the opening turn
const InitialAction = "initial"

// TurnRecord represents one player action and the narrative that answered it.
// Only ImageStatus and ImageURL change after the record is appended.
type TurnRecord struct {
	PlayerAction  string      `json:"player_action"`
	NarrativeText string      `json:"narrative_text"`
	Options       []string    `json:"options"`
	ImagePrompt   string      `json:"image_prompt,omitempty"`
	ImageStatus   ImageStatus `json:"image_status"`
	ImageURL      string      `json:"image_url,omitempty"`
}

// TurnResult is a validated oracle answer, ready to be committed as a turn
type TurnResult struct {
	NarrativeText string              `json:"narrative_text"`
	Options       []string            `json:"options"`
	ImagePrompt   string              `json:"image_prompt,omitempty"`
	NewCharacter  *CharacterCandidate `json:"new_character,omitempty"`
}

// TurnLog is the append-only ordered sequence of turns for one session
type TurnLog []TurnRecord

// Append adds a turn and returns its index
func (l *TurnLog) Append(turn TurnRecord) int {
	turn.Options = append([]string(nil), turn.Options...)
	if turn.ImageStatus == "" {
		turn.ImageStatus = ImageNone
	}
	*l = append(*l, turn)
	return len(*l) - 1
}

// Len returns the number of committed turns
func (l TurnLog) Len() int {
	return len(l)
}

// Latest returns a copy of the current turn
func (l TurnLog) Latest() (TurnRecord, bool) {
	if len(l) == 0 {
		return TurnRecord{}, false
	}
	turn := l[len(l)-1]
	turn.Options = append([]string(nil), turn.Options...)
	return turn, true
}

// RecentNarrative returns the narrative text of up to n turns preceding the
// latest one, oldest first. The latest turn is never included.
func (l TurnLog) RecentNarrative(n int) []string {
	if n <= 0 || len(l) < 2 {
		return []string{}
	}
	previous := l[:len(l)-1]
	if len(previous) > n {
		previous = previous[len(previous)-n:]
	}
	texts := make([]string, 0, len(previous))
	for _, turn := range previous {
		texts = append(texts, turn.NarrativeText)
	}
	return texts
}

// FullText is the authoritative transcript: every narrative text in append
// order, joined by newlines.
func (l TurnLog) FullText() string {
	texts := make([]string, 0, len(l))
	for _, turn := range l {
		texts = append(texts, turn.NarrativeText)
	}
	return strings.Join(texts, "\n")
}

// PlayerActions returns the actions of the last n turns, oldest first
func (l TurnLog) PlayerActions(n int) []string {
	if n <= 0 {
		return []string{}
	}
	window := l
	if len(window) > n {
		window = window[len(window)-n:]
	}
	actions := make([]string, 0, len(window))
	for _, turn := range window {
		actions = append(actions, turn.PlayerAction)
	}
	return actions
}

// setImage updates the mutable image fields of the turn at index
func (l TurnLog) setImage(index int, status ImageStatus, url string) bool {
	if index < 0 || index >= len(l) {
		return false
	}
	l[index].ImageStatus = status
	l[index].ImageURL = url
	return true
}
