package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SnapshotFormatVersion is bumped whenever the snapshot document changes shape
const SnapshotFormatVersion = 1

var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Snapshot is the self-contained document a session is saved as
type Snapshot struct {
	FormatVersion int       `json:"format_version"`
	SavedAt       time.Time `json:"saved_at"`
	Session       Session   `json:"session"`
}

// EncodeSnapshot serializes a full session
func EncodeSnapshot(s *Session, savedAt time.Time) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil session", ErrInvalidSnapshot)
	}
	return json.Marshal(Snapshot{
		FormatVersion: SnapshotFormatVersion,
		SavedAt:       savedAt.UTC(),
		Session:       *s,
	})
}

// DecodeSnapshot parses a snapshot document and checks the session invariants
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if snap.FormatVersion != SnapshotFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrInvalidSnapshot, snap.FormatVersion)
	}
	if err := snap.Session.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Validate checks the invariants every persisted session must hold
func (s *Session) Validate() error {
	if s.Turns == nil {
		s.Turns = TurnLog{}
	}
	if s.Characters == nil {
		s.Characters = CharacterRegistry{}
	}
	if s.Stats.Stats == nil {
		s.Stats = DefaultPlayerStats()
	}

	for i, turn := range s.Turns {
		switch turn.ImageStatus {
		case ImageNone, ImageFailed:
		case ImageReady:
			if turn.ImageURL == "" {
				return fmt.Errorf("%w: turn %d is ready without an image url", ErrInvalidSnapshot, i)
			}
		case ImagePending:
			if turn.ImagePrompt == "" {
				return fmt.Errorf("%w: turn %d is pending without an image prompt", ErrInvalidSnapshot, i)
			}
		default:
			return fmt.Errorf("%w: turn %d has unknown image status %q", ErrInvalidSnapshot, i, turn.ImageStatus)
		}
	}

	seen := make(map[string]bool, len(s.Characters))
	for _, c := range s.Characters {
		if c.ID == "" {
			return fmt.Errorf("%w: character without id", ErrInvalidSnapshot)
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: duplicate character id %q", ErrInvalidSnapshot, c.ID)
		}
		seen[c.ID] = true
	}

	if s.PendingImagePrompt == "" {
		s.PendingImageTurn = -1
	} else if s.PendingImageTurn < 0 || s.PendingImageTurn >= s.Turns.Len() {
		return fmt.Errorf("%w: pending image points at missing turn %d", ErrInvalidSnapshot, s.PendingImageTurn)
	}
	return nil
}
