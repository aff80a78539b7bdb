package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"AI-Adventure/server/internal/models"
)

type memoryEntry struct {
	data      []byte
	version   int64
	expiresAt time.Time
}

// MemorySessionStore keeps sessions in process. Values are stored encoded so
// callers never share state with the store.
type MemorySessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]memoryEntry
	now      func() time.Time
}

// NewMemorySessionStore creates an in-process store; ttl <= 0 disables expiry
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		ttl:      ttl,
		sessions: make(map[string]memoryEntry),
		now:      time.Now,
	}
}

func (m *MemorySessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	entry, ok := m.lookup(id)
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	var s models.Session
	if err := json.Unmarshal(entry.data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (m *MemorySessionStore) Put(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := int64(1)
	if entry, ok := m.lookup(s.ID); ok {
		next = entry.version + 1
	}
	return m.store(s, next)
}

func (m *MemorySessionStore) Update(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookup(s.ID)
	if !ok {
		return ErrNotFound
	}
	if entry.version != s.Version {
		return ErrVersionConflict
	}
	return m.store(s, entry.version+1)
}

func (m *MemorySessionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemorySessionStore) Close() error {
	return nil
}

// lookup must be called with mu held
func (m *MemorySessionStore) lookup(id string) (memoryEntry, bool) {
	entry, ok := m.sessions[id]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		delete(m.sessions, id)
		return memoryEntry{}, false
	}
	return entry, true
}

// store must be called with mu held
func (m *MemorySessionStore) store(s *models.Session, version int64) error {
	now := m.now()
	prevVersion, prevUpdated := s.Version, s.UpdatedAt
	s.Version = version
	s.UpdatedAt = now
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}

	data, err := json.Marshal(s)
	if err != nil {
		s.Version, s.UpdatedAt = prevVersion, prevUpdated
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	entry := memoryEntry{data: data, version: version}
	if m.ttl > 0 {
		entry.expiresAt = now.Add(m.ttl)
	}
	m.sessions[s.ID] = entry
	return nil
}

// MemorySaveStore keeps save slots in process
type MemorySaveStore struct {
	mu       sync.Mutex
	maxSlots int
	saves    map[string][]models.SavedGame
}

// NewMemorySaveStore creates an in-process save store; maxSlots <= 0 is unlimited
func NewMemorySaveStore(maxSlots int) *MemorySaveStore {
	return &MemorySaveStore{
		maxSlots: maxSlots,
		saves:    make(map[string][]models.SavedGame),
	}
}

func (m *MemorySaveStore) Save(ctx context.Context, game *models.SavedGame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if game.CreatedAt.IsZero() {
		game.CreatedAt = now
	}
	game.UpdatedAt = now

	slots := m.saves[game.OwnerID]
	for i := range slots {
		if slots[i].ID == game.ID {
			slots[i] = *game
			return nil
		}
	}
	slots = append(slots, *game)
	if m.maxSlots > 0 && len(slots) > m.maxSlots {
		sort.SliceStable(slots, func(i, j int) bool { return slots[i].CreatedAt.Before(slots[j].CreatedAt) })
		slots = slots[len(slots)-m.maxSlots:]
	}
	m.saves[game.OwnerID] = slots
	return nil
}

// List returns the owner's saves, newest first
func (m *MemorySaveStore) List(ctx context.Context, ownerID string) ([]models.SavedGame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]models.SavedGame(nil), m.saves[ownerID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemorySaveStore) Get(ctx context.Context, ownerID, id string) (*models.SavedGame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, g := range m.saves[ownerID] {
		if g.ID == id {
			game := g
			return &game, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemorySaveStore) Close() error {
	return nil
}
