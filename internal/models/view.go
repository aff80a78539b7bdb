package models

import "strings"

// RecapWindow is how many turns before the current one make up the recap
const RecapWindow = 3

// TurnView is the client-facing projection of the current turn
type TurnView struct {
	NarrativeText string      `json:"narrative_text"`
	RecapText     string      `json:"recap_text"`
	FullText      string      `json:"full_text"`
	ImageURL      string      `json:"image_url,omitempty"`
	ImageStatus   ImageStatus `json:"image_status"`
	Options       []string    `json:"options"`
	Turn          int         `json:"turn"`
}

// View projects the session's current turn. A session without turns yields
// an empty view with status none.
func View(s *Session) TurnView {
	view := TurnView{
		ImageStatus: ImageNone,
		Options:     []string{},
	}
	if s == nil {
		return view
	}

	latest, ok := s.Turns.Latest()
	if !ok {
		return view
	}

	view.NarrativeText = latest.NarrativeText
	view.RecapText = strings.Join(s.Turns.RecentNarrative(RecapWindow), "\n\n")
	view.FullText = s.Turns.FullText()
	view.ImageURL = latest.ImageURL
	view.ImageStatus = latest.ImageStatus
	view.Options = latest.Options
	if view.Options == nil {
		view.Options = []string{}
	}
	view.Turn = s.Turns.Len()
	return view
}
