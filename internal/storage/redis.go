package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"AI-Adventure/server/internal/config"
	"AI-Adventure/server/internal/models"
)

const (
	defaultKeyPrefix = "adventure:session:"
	maxWatchRetries  = 3
)

// RedisStore keeps sessions as JSON values, one key per session, guarded by
// WATCH so concurrent writers from several processes cannot lose updates.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(cfg config.RedisConfig, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.KeyPrefix, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *RedisStore) Put(ctx context.Context, session *models.Session) error {
	return s.write(ctx, session, false)
}

func (s *RedisStore) Update(ctx context.Context, session *models.Session) error {
	return s.write(ctx, session, true)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) write(ctx context.Context, session *models.Session, compare bool) error {
	key := s.key(session.ID)
	prevVersion, prevCreated, prevUpdated := session.Version, session.CreatedAt, session.UpdatedAt

	txf := func(tx *redis.Tx) error {
		stored, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if compare {
			if stored < 0 {
				return ErrNotFound
			}
			if stored != prevVersion {
				return ErrVersionConflict
			}
		}

		now := time.Now()
		session.Version = max(stored, 0) + 1
		session.UpdatedAt = now
		if prevCreated.IsZero() {
			session.CreatedAt = now
		}
		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		if compare {
			err = ErrVersionConflict
			break
		}
		log.Printf("[RedisStore] watch on %s lost a race, retrying", key)
	}
	if err != nil {
		session.Version, session.CreatedAt, session.UpdatedAt = prevVersion, prevCreated, prevUpdated
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// storedVersion returns -1 when the key does not exist
func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read session: %w", err)
	}
	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return head.Version, nil
}
