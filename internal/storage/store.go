package storage

import (
	"context"
	"errors"
	"fmt"

	"AI-Adventure/server/internal/config"
	"AI-Adventure/server/internal/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrVersionConflict  = errors.New("version conflict")
	ErrInvalidStoreType = errors.New("invalid store type")
)

// SessionStore persists sessions per player. Put replaces unconditionally;
// Update only succeeds when the stored version still matches s.Version.
// Both bump s.Version on success.
type SessionStore interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	Put(ctx context.Context, s *models.Session) error
	Update(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// SaveStore keeps named save slots per owner
type SaveStore interface {
	Save(ctx context.Context, game *models.SavedGame) error
	List(ctx context.Context, ownerID string) ([]models.SavedGame, error)
	Get(ctx context.Context, ownerID, id string) (*models.SavedGame, error)
	Close() error
}

// NewSessionStore builds the configured session driver
func NewSessionStore(cfg config.SessionConfig, redisCfg config.RedisConfig) (SessionStore, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemorySessionStore(cfg.TTL), nil
	case "redis":
		return NewRedisStore(redisCfg, cfg.TTL)
	default:
		return nil, fmt.Errorf("%w: session store %q", ErrInvalidStoreType, cfg.Store)
	}
}

// NewSaveStore builds the configured save slot driver
func NewSaveStore(cfg config.SavesConfig, mysqlCfg config.MySQLConfig) (SaveStore, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemorySaveStore(cfg.MaxPerPlayer), nil
	case "mysql":
		return NewMySQLStore(mysqlCfg, cfg.MaxPerPlayer)
	default:
		return nil, fmt.Errorf("%w: save store %q", ErrInvalidStoreType, cfg.Store)
	}
}
