package models

import (
	"strings"
	"unicode"
)

// Character is a recurring figure of the story. ID, Name, ShortDesc and Detail
// are fixed at first mention; only Events grows afterwards.
type Character struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ShortDesc string   `json:"desc"`
	Detail    string   `json:"detail"`
	Avatar    string   `json:"avatar"`
	Events    []string `json:"events"`
}

// CharacterCandidate is a character mention proposed by the oracle
type CharacterCandidate struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Desc   string `json:"desc"`
	Detail string `json:"detail"`
	Event  string `json:"event"`
}

// Normalize trims every field and derives a missing ID from the name.
// It returns false when the candidate carries no identity at all.
func (c *CharacterCandidate) Normalize() bool {
	c.ID = strings.TrimSpace(c.ID)
	c.Name = strings.TrimSpace(c.Name)
	c.Desc = strings.TrimSpace(c.Desc)
	c.Detail = strings.TrimSpace(c.Detail)
	c.Event = strings.TrimSpace(c.Event)
	if c.ID == "" && c.Name != "" {
		c.ID = CharacterIDFromName(c.Name)
	}
	return c.ID != ""
}

// CharacterIDFromName derives a stable identity key from a display name
func CharacterIDFromName(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// AvatarFunc resolves an avatar reference for a character description.
// It must always return a usable reference, falling back to a placeholder.
type AvatarFunc func(desc string) string

// CharacterRegistry holds the session's characters in introduction order,
// unique by ID.
type CharacterRegistry []Character

// Get looks a character up by ID
func (r CharacterRegistry) Get(id string) (Character, bool) {
	for _, c := range r {
		if c.ID == id {
			c.Events = append([]string(nil), c.Events...)
			return c, true
		}
	}
	return Character{}, false
}

// Has reports whether id is already registered
func (r CharacterRegistry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Len returns the number of known characters
func (r CharacterRegistry) Len() int {
	return len(r)
}

// Names returns the display names in introduction order
func (r CharacterRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for _, c := range r {
		names = append(names, c.Name)
	}
	return names
}

// WouldInsert reports whether merging candidate would add a new character,
// which is when an avatar has to be resolved for it
func (r CharacterRegistry) WouldInsert(candidate CharacterCandidate) bool {
	if !candidate.Normalize() || candidate.Name == "" {
		return false
	}
	return !r.Has(candidate.ID)
}

// Merge folds a candidate into the registry. Unknown IDs are inserted and the
// avatar is resolved exactly once, at insert time. Known IDs only get the event
// appended; name, description and detail from later mentions are ignored.
// Events are not deduplicated: the same event merged twice is recorded twice.
// Candidates without an ID, or new candidates without a name, are dropped.
// It returns true when a new character was inserted.
func (r *CharacterRegistry) Merge(candidate CharacterCandidate, avatar AvatarFunc) bool {
	if !candidate.Normalize() {
		return false
	}

	for i := range *r {
		existing := &(*r)[i]
		if existing.ID != candidate.ID {
			continue
		}
		if candidate.Event != "" {
			existing.Events = append(existing.Events, candidate.Event)
		}
		return false
	}

	if candidate.Name == "" {
		return false
	}

	events := []string{}
	if candidate.Event != "" {
		events = append(events, candidate.Event)
	}

	ref := ""
	if avatar != nil {
		ref = avatar(candidate.Desc)
	}

	*r = append(*r, Character{
		ID:        candidate.ID,
		Name:      candidate.Name,
		ShortDesc: candidate.Desc,
		Detail:    candidate.Detail,
		Avatar:    ref,
		Events:    events,
	})
	return true
}
