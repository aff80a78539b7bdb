package models

// PlayerStats is the player's status sheet shown alongside the story
type PlayerStats struct {
	Items         []string          `json:"items"`
	Relationships map[string]string `json:"relationships"`
	Stats         map[string]int    `json:"stats"`
	Achievements  []string          `json:"achievements"`
}

// DefaultPlayerStats returns the sheet every new game starts with
func DefaultPlayerStats() PlayerStats {
	return PlayerStats{
		Items:         []string{},
		Relationships: map[string]string{},
		Stats:         map[string]int{"energy": 100, "mood": 50},
		Achievements:  []string{},
	}
}
