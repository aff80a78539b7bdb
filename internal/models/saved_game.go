package models

import (
	"time"

	"gorm.io/gorm"
)

// SavedGame is a named save slot holding a full session snapshot
type SavedGame struct {
	ID        string         `gorm:"primaryKey;size:64" json:"id"`
	OwnerID   string         `gorm:"index;size:64" json:"owner_id"` // session id of the player who saved
	Name      string         `gorm:"size:255" json:"name"`
	Turns     int            `json:"turns"`
	Snapshot  string         `gorm:"type:longtext" json:"-"` // EncodeSnapshot output
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName pins the table name for the MySQL save store
func (SavedGame) TableName() string {
	return "saved_games"
}

// SaveSummary is the listing entry for a save slot
type SaveSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary returns the listing entry without the snapshot body
func (g SavedGame) Summary() SaveSummary {
	return SaveSummary{ID: g.ID, Name: g.Name, Turns: g.Turns, CreatedAt: g.CreatedAt}
}
