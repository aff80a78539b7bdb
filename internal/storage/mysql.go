package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"AI-Adventure/server/internal/config"
	"AI-Adventure/server/internal/models"
)

// MySQLStore keeps named save slots in MySQL
type MySQLStore struct {
	db       *gorm.DB
	maxSlots int
}

func NewMySQLStore(cfg config.MySQLConfig, maxSlots int) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&models.SavedGame{}); err != nil {
		return nil, fmt.Errorf("failed to migrate saved games: %w", err)
	}

	return NewMySQLStoreWithDB(db, maxSlots), nil
}

// NewMySQLStoreWithDB wraps an open gorm handle
func NewMySQLStoreWithDB(db *gorm.DB, maxSlots int) *MySQLStore {
	return &MySQLStore{db: db, maxSlots: maxSlots}
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn in a transaction
func (s *MySQLStore) WithTx(ctx context.Context, fn func(*gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Save upserts a slot and evicts the owner's oldest slots beyond the limit
func (s *MySQLStore) Save(ctx context.Context, game *models.SavedGame) error {
	return s.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Save(game).Error; err != nil {
			return fmt.Errorf("failed to save game: %w", err)
		}
		if s.maxSlots <= 0 {
			return nil
		}

		var stale []string
		err := tx.Model(&models.SavedGame{}).
			Where("owner_id = ?", game.OwnerID).
			Order("created_at DESC").
			Offset(s.maxSlots).
			Pluck("id", &stale).Error
		if err != nil {
			return fmt.Errorf("failed to list stale saves: %w", err)
		}
		if len(stale) == 0 {
			return nil
		}
		if err := tx.Where("id IN ?", stale).Delete(&models.SavedGame{}).Error; err != nil {
			return fmt.Errorf("failed to evict saves: %w", err)
		}
		return nil
	})
}

// List returns the owner's saves, newest first, without snapshot bodies
func (s *MySQLStore) List(ctx context.Context, ownerID string) ([]models.SavedGame, error) {
	var games []models.SavedGame
	err := s.db.WithContext(ctx).
		Select("id", "owner_id", "name", "turns", "created_at", "updated_at").
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&games).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}
	return games, nil
}

func (s *MySQLStore) Get(ctx context.Context, ownerID, id string) (*models.SavedGame, error) {
	var game models.SavedGame
	err := s.db.WithContext(ctx).Where("owner_id = ? AND id = ?", ownerID, id).First(&game).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get save: %w", err)
	}
	return &game, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
