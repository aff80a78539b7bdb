package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"AI-Adventure/server/internal/models"
	"AI-Adventure/server/internal/prompts"
	"AI-Adventure/server/internal/storage"
)

const (
	storeRetries        = 3
	defaultImageTimeout = 2 * time.Minute
)

var (
	ErrInvalidChoice = errors.New("choice is not one of the offered options")
	errNoIllustrator = errors.New("no image backend configured")
)

// Oracle produces the next turn for a session without modifying it
type Oracle interface {
	Generate(ctx context.Context, s *models.Session, action string) (models.TurnResult, error)
}

// Illustrator draws scene images and character avatars
type Illustrator interface {
	Illustrate(ctx context.Context, apiKey, language, prompt, story string) (string, error)
	// Avatar always returns a usable reference
	Avatar(ctx context.Context, apiKey, language, desc string) string
}

// Config holds the engine policies
type Config struct {
	// ImagesEnabled is the default for new games
	ImagesEnabled     bool
	ScenePlaceholder  string
	AvatarPlaceholder string
	ImageTimeout      time.Duration
}

// StartRequest carries the player's choices for a new game
type StartRequest struct {
	Settings      models.Settings
	Language      string
	ImagesEnabled *bool
	APIKey        string
}

// ImagePull is the answer to an image poll
type ImagePull struct {
	Turn        int                `json:"turn"`
	ImageStatus models.ImageStatus `json:"image_status"`
	ImageURL    string             `json:"image_url,omitempty"`
}

// GameStatus is the player status sheet plus progress
type GameStatus struct {
	Turn          int                `json:"turn"`
	Stage         Stage              `json:"stage"`
	Language      string             `json:"language"`
	Settings      models.Settings    `json:"settings"`
	Characters    int                `json:"characters"`
	ImagesEnabled bool               `json:"images_enabled"`
	Stats         models.PlayerStats `json:"player_stats"`
}

// EngineStats are process-wide counters
type EngineStats struct {
	TurnsCommitted int64 `json:"turns_committed"`
	TurnsFailed    int64 `json:"turns_failed"`
	ImagesReady    int64 `json:"images_ready"`
	ImagesFailed   int64 `json:"images_failed"`
	ImagesInFlight int64 `json:"images_in_flight"`
}

// StoryEngine drives sessions through their turns. Turn generation is
// serialized per session by the turn lock; every read-modify-write of a stored
// session happens under the shorter state lock, so image polls can run while a
// turn is being generated.
type StoryEngine struct {
	oracle      Oracle
	illustrator Illustrator
	sessions    storage.SessionStore
	saves       storage.SaveStore
	notifier    Notifier
	cfg         Config
	now         func() time.Time

	turnLocks  *keyedMutex
	stateLocks *keyedMutex

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	turnsCommitted atomic.Int64
	turnsFailed    atomic.Int64
	imagesReady    atomic.Int64
	imagesFailed   atomic.Int64
}

// NewStoryEngine wires an engine. illustrator may be nil, which disables images.
func NewStoryEngine(oracle Oracle, illustrator Illustrator, sessions storage.SessionStore, saves storage.SaveStore, cfg Config) *StoryEngine {
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = defaultImageTimeout
	}
	return &StoryEngine{
		oracle:      oracle,
		illustrator: illustrator,
		sessions:    sessions,
		saves:       saves,
		notifier:    nopNotifier{},
		cfg:         cfg,
		now:         time.Now,
		turnLocks:   newKeyedMutex(),
		stateLocks:  newKeyedMutex(),
		inflight:    make(map[string]struct{}),
	}
}

// SetNotifier registers the listener for session events
func (e *StoryEngine) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	e.notifier = n
}

// StartGame replaces any session under id with a new game and narrates its
// opening. When the opening fails the empty session is kept and Current
// retries it.
func (e *StoryEngine) StartGame(ctx context.Context, id string, req StartRequest) (models.TurnView, error) {
	unlock := e.turnLocks.Lock(id)
	defer unlock()

	images := e.cfg.ImagesEnabled
	if req.ImagesEnabled != nil {
		images = *req.ImagesEnabled
	}
	images = images && e.illustrator != nil

	s := models.NewSession(id, req.Settings, prompts.NormalizeLanguage(req.Language), images, strings.TrimSpace(req.APIKey))
	s.GameID = uuid.NewString()
	s.CreatedAt = e.now()
	if err := e.put(ctx, s); err != nil {
		return models.TurnView{}, err
	}
	log.Printf("[StoryEngine] session %s started game %s (language=%s, images=%v)", id, s.GameID, s.Language, images)

	s, err := e.advance(ctx, s, models.InitialAction)
	if err != nil {
		return models.TurnView{}, err
	}
	return models.View(s), nil
}

// Current returns the view of the current turn, narrating the opening first
// when the game has none yet
func (e *StoryEngine) Current(ctx context.Context, id string) (models.TurnView, error) {
	s, err := e.load(ctx, id)
	if err != nil {
		return models.TurnView{}, err
	}
	if s.Started() {
		return models.View(s), nil
	}

	unlock := e.turnLocks.Lock(id)
	defer unlock()

	if s, err = e.load(ctx, id); err != nil {
		return models.TurnView{}, err
	}
	if !s.Started() {
		if s, err = e.advance(ctx, s, models.InitialAction); err != nil {
			return models.TurnView{}, err
		}
	}
	return models.View(s), nil
}

// TakeTurn narrates the outcome of a free-form player action
func (e *StoryEngine) TakeTurn(ctx context.Context, id, action string) (models.TurnView, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return models.TurnView{}, ErrEmptyAction
	}
	return e.takeTurn(ctx, id, func(*models.Session) (string, error) {
		return action, nil
	})
}

// Choose takes the option at index (0-based) of the current turn as the action
func (e *StoryEngine) Choose(ctx context.Context, id string, index int) (models.TurnView, error) {
	return e.takeTurn(ctx, id, func(s *models.Session) (string, error) {
		latest, _ := s.Turns.Latest()
		if index < 0 || index >= len(latest.Options) {
			return "", ErrInvalidChoice
		}
		return latest.Options[index], nil
	})
}

func (e *StoryEngine) takeTurn(ctx context.Context, id string, pick func(*models.Session) (string, error)) (models.TurnView, error) {
	unlock := e.turnLocks.Lock(id)
	defer unlock()

	s, err := e.load(ctx, id)
	if err != nil {
		return models.TurnView{}, err
	}
	if !s.Started() {
		return models.TurnView{}, ErrGameNotStarted
	}
	action, err := pick(s)
	if err != nil {
		return models.TurnView{}, err
	}

	if s, err = e.advance(ctx, s, action); err != nil {
		return models.TurnView{}, err
	}
	return models.View(s), nil
}

// advance asks the oracle for the next turn and commits it. Nothing is written
// unless the oracle succeeded and the session is still where it was when the
// call began. Must be called with the turn lock held.
func (e *StoryEngine) advance(ctx context.Context, s *models.Session, action string) (*models.Session, error) {
	start := time.Now()
	result, err := e.oracle.Generate(ctx, s, action)
	if err != nil {
		e.turnsFailed.Inc()
		log.Printf("[StoryEngine] session %s turn %d failed: %v", s.ID, s.Turns.Len()+1, err)
		return nil, err
	}

	avatar := e.avatarFor(ctx, s, result.NewCharacter)
	before, gameID := s.Turns.Len(), s.GameID

	index := -1
	committed, err := e.mutate(ctx, s.ID, func(cur *models.Session) (bool, error) {
		if cur.GameID != gameID || cur.Turns.Len() != before {
			return false, ErrTurnConflict
		}
		index = cur.CommitTurn(action, result, avatar, e.cfg.ScenePlaceholder)
		return true, nil
	})
	if err != nil {
		e.turnsFailed.Inc()
		log.Printf("[StoryEngine] session %s: failed to commit turn %d: %v", s.ID, before+1, err)
		return nil, err
	}

	e.turnsCommitted.Inc()
	turn := committed.Turns[index]
	e.notifier.Notify(Event{Type: EventTurnCommitted, SessionID: s.ID, Turn: index, ImageStatus: turn.ImageStatus})
	log.Printf("[StoryEngine] session %s committed turn %d in %s (options=%d, image=%s, characters=%d)",
		s.ID, index+1, time.Since(start).Round(time.Millisecond), len(turn.Options), turn.ImageStatus, committed.Characters.Len())
	return committed, nil
}

// avatarFor resolves the avatar of a character the turn introduces before the
// commit, so that no image call happens under the state lock
func (e *StoryEngine) avatarFor(ctx context.Context, s *models.Session, candidate *models.CharacterCandidate) models.AvatarFunc {
	ref := e.cfg.AvatarPlaceholder
	if candidate != nil && s.ImagesEnabled && e.illustrator != nil && s.Characters.WouldInsert(*candidate) {
		actx, cancel := context.WithTimeout(ctx, e.cfg.ImageTimeout)
		if got := e.illustrator.Avatar(actx, s.APIKey.Value(), s.Language, strings.TrimSpace(candidate.Desc)); got != "" {
			ref = got
		}
		cancel()
	}
	return func(string) string { return ref }
}

// PullImage resolves the pending illustration, if any. The pending prompt is
// cleared and persisted before generation starts, so a prompt is generated at
// most once however often or concurrently this is called. Image failures
// never surface as errors; the turn is marked failed with the placeholder.
func (e *StoryEngine) PullImage(ctx context.Context, id string) (ImagePull, error) {
	var (
		prompt string
		turn   = -1
		taken  bool
		healed bool
	)

	unlock := e.stateLocks.Lock(id)
	s, err := e.mutateLocked(ctx, id, func(cur *models.Session) (bool, error) {
		prompt, turn, taken, healed = "", -1, false, false
		if p, t, ok := cur.TakePendingImage(); ok {
			prompt, turn, taken = p, t, true
			return true, nil
		}
		if e.isInflight(cur.GameID, cur.Turns.Len()-1) {
			return false, nil
		}
		healed = cur.HealImageDesync(e.cfg.ScenePlaceholder)
		return healed, nil
	})
	if err == nil && taken {
		e.setInflight(s.GameID, turn, true)
	}
	unlock()
	if err != nil {
		return ImagePull{}, err
	}

	if healed {
		latest := s.Turns.Len() - 1
		log.Printf("[StoryEngine] session %s: turn %d was pending without a prompt, marked failed", id, latest+1)
		e.imagesFailed.Inc()
		e.notifier.Notify(Event{Type: EventImageFailed, SessionID: id, Turn: latest, ImageStatus: models.ImageFailed, ImageURL: e.cfg.ScenePlaceholder})
	}
	if !taken {
		return pullState(s, s.Turns.Len()-1), nil
	}

	return e.generateImage(ctx, s, prompt, turn), nil
}

func (e *StoryEngine) generateImage(ctx context.Context, s *models.Session, prompt string, turn int) ImagePull {
	gameID := s.GameID
	defer e.setInflight(gameID, turn, false)

	start := time.Now()
	url, genErr := e.illustrate(ctx, s, prompt)

	applied := false
	final, err := e.mutate(context.WithoutCancel(ctx), s.ID, func(cur *models.Session) (bool, error) {
		applied = false
		if cur.GameID != gameID {
			return false, nil
		}
		if genErr == nil {
			applied = cur.ResolveImage(turn, url)
		} else {
			applied = cur.FailImage(turn, e.cfg.ScenePlaceholder)
		}
		return applied, nil
	})

	failed := ImagePull{Turn: turn, ImageStatus: models.ImageFailed, ImageURL: e.cfg.ScenePlaceholder}
	if genErr != nil {
		e.imagesFailed.Inc()
		log.Printf("[StoryEngine] %v", &ImageError{SessionID: s.ID, Turn: turn + 1, Err: genErr})
	} else {
		e.imagesReady.Inc()
		log.Printf("[StoryEngine] session %s: image for turn %d ready in %s", s.ID, turn+1, time.Since(start).Round(time.Millisecond))
	}

	if err != nil {
		log.Printf("[StoryEngine] session %s: failed to record image for turn %d: %v", s.ID, turn+1, err)
		return failed
	}
	if !applied || final.GameID != gameID {
		// superseded by a newer turn or game while generating
		return pullState(final, turn)
	}

	pull := pullState(final, turn)
	eventType := EventImageReady
	if pull.ImageStatus != models.ImageReady {
		eventType = EventImageFailed
	}
	e.notifier.Notify(Event{Type: eventType, SessionID: s.ID, Turn: turn, ImageStatus: pull.ImageStatus, ImageURL: pull.ImageURL})
	return pull
}

// illustrate runs detached from the caller so that a dropped poll does not
// waste the single attempt a prompt gets
func (e *StoryEngine) illustrate(ctx context.Context, s *models.Session, prompt string) (string, error) {
	if e.illustrator == nil {
		return "", errNoIllustrator
	}
	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ImageTimeout)
	defer cancel()
	return e.illustrator.Illustrate(ictx, s.APIKey.Value(), s.Language, prompt, s.Turns.FullText())
}

func pullState(s *models.Session, turn int) ImagePull {
	if s == nil || turn < 0 || turn >= s.Turns.Len() {
		return ImagePull{Turn: turn, ImageStatus: models.ImageNone}
	}
	record := s.Turns[turn]
	return ImagePull{Turn: turn, ImageStatus: record.ImageStatus, ImageURL: record.ImageURL}
}

// Characters lists the session's characters in introduction order
func (e *StoryEngine) Characters(ctx context.Context, id string) ([]models.Character, error) {
	s, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	characters := make([]models.Character, 0, s.Characters.Len())
	for _, c := range s.Characters {
		c.Events = append([]string{}, c.Events...)
		characters = append(characters, c)
	}
	return characters, nil
}

// Status returns the player status sheet
func (e *StoryEngine) Status(ctx context.Context, id string) (GameStatus, error) {
	s, err := e.load(ctx, id)
	if err != nil {
		return GameStatus{}, err
	}
	return GameStatus{
		Turn:          s.Turns.Len(),
		Stage:         NarrativeStage(s.Turns.Len()),
		Language:      s.Language,
		Settings:      s.Settings,
		Characters:    s.Characters.Len(),
		ImagesEnabled: s.ImagesEnabled,
		Stats:         s.Stats,
	}, nil
}

// Export returns the session as a snapshot document without its credential
func (e *StoryEngine) Export(ctx context.Context, id string) ([]byte, error) {
	s, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return encodeRedacted(s, e.now())
}

// Import replaces the session with a snapshot document. The credential of the
// current session is kept unless apiKey is given.
func (e *StoryEngine) Import(ctx context.Context, id string, data []byte, apiKey string) (models.TurnView, error) {
	snap, err := models.DecodeSnapshot(data)
	if err != nil {
		return models.TurnView{}, err
	}

	unlock := e.turnLocks.Lock(id)
	defer unlock()
	return e.restore(ctx, id, snap, apiKey)
}

// SaveGame stores the current session in a named slot owned by id
func (e *StoryEngine) SaveGame(ctx context.Context, id, name string) (models.SaveSummary, error) {
	s, err := e.load(ctx, id)
	if err != nil {
		return models.SaveSummary{}, err
	}
	if !s.Started() {
		return models.SaveSummary{}, ErrGameNotStarted
	}

	data, err := encodeRedacted(s, e.now())
	if err != nil {
		return models.SaveSummary{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultSaveName(s)
	}

	game := &models.SavedGame{
		ID:       uuid.NewString(),
		OwnerID:  id,
		Name:     name,
		Turns:    s.Turns.Len(),
		Snapshot: string(data),
	}
	if err := e.saves.Save(ctx, game); err != nil {
		return models.SaveSummary{}, fmt.Errorf("failed to save game: %w", err)
	}
	log.Printf("[StoryEngine] session %s saved slot %s at turn %d", id, game.ID, game.Turns)
	return game.Summary(), nil
}

// ListSaves lists the save slots owned by id, newest first
func (e *StoryEngine) ListSaves(ctx context.Context, id string) ([]models.SaveSummary, error) {
	games, err := e.saves.List(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}
	summaries := make([]models.SaveSummary, 0, len(games))
	for _, g := range games {
		summaries = append(summaries, g.Summary())
	}
	return summaries, nil
}

// LoadGame replaces the session with a save slot owned by id
func (e *StoryEngine) LoadGame(ctx context.Context, id, saveID string) (models.TurnView, error) {
	game, err := e.saves.Get(ctx, id, saveID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.TurnView{}, ErrSaveNotFound
	}
	if err != nil {
		return models.TurnView{}, fmt.Errorf("failed to load save: %w", err)
	}
	snap, err := models.DecodeSnapshot([]byte(game.Snapshot))
	if err != nil {
		return models.TurnView{}, err
	}

	unlock := e.turnLocks.Lock(id)
	defer unlock()
	return e.restore(ctx, id, snap, "")
}

// Reset discards the session. Save slots are kept.
func (e *StoryEngine) Reset(ctx context.Context, id string) error {
	unlock := e.turnLocks.Lock(id)
	defer unlock()
	stateUnlock := e.stateLocks.Lock(id)
	defer stateUnlock()

	if err := e.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	e.notifier.Notify(Event{Type: EventSessionReset, SessionID: id})
	log.Printf("[StoryEngine] session %s reset", id)
	return nil
}

// Stats returns the process-wide counters
func (e *StoryEngine) Stats() EngineStats {
	e.inflightMu.Lock()
	inflight := len(e.inflight)
	e.inflightMu.Unlock()

	return EngineStats{
		TurnsCommitted: e.turnsCommitted.Load(),
		TurnsFailed:    e.turnsFailed.Load(),
		ImagesReady:    e.imagesReady.Load(),
		ImagesFailed:   e.imagesFailed.Load(),
		ImagesInFlight: int64(inflight),
	}
}

// restore must be called with the turn lock held
func (e *StoryEngine) restore(ctx context.Context, id string, snap *models.Snapshot, apiKey string) (models.TurnView, error) {
	restored := snap.Session
	restored.ID = id
	restored.GameID = uuid.NewString()
	restored.Version = 0
	restored.APIKey = models.Secret(strings.TrimSpace(apiKey))
	if restored.APIKey == "" {
		cur, err := e.load(ctx, id)
		switch {
		case err == nil:
			restored.APIKey = cur.APIKey
		case !errors.Is(err, ErrSessionNotFound):
			return models.TurnView{}, err
		}
	}
	if e.illustrator == nil {
		restored.ImagesEnabled = false
	}

	if err := e.put(ctx, &restored); err != nil {
		return models.TurnView{}, err
	}
	log.Printf("[StoryEngine] session %s restored a snapshot from %s with %d turns", id, snap.SavedAt.Format(time.RFC3339), restored.Turns.Len())
	return models.View(&restored), nil
}

func (e *StoryEngine) load(ctx context.Context, id string) (*models.Session, error) {
	s, err := e.sessions.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return s, nil
}

func (e *StoryEngine) put(ctx context.Context, s *models.Session) error {
	unlock := e.stateLocks.Lock(s.ID)
	defer unlock()
	if err := e.sessions.Put(ctx, s); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// mutate applies fn to the freshest stored session under the state lock and
// writes it back. fn reports whether it changed anything.
func (e *StoryEngine) mutate(ctx context.Context, id string, fn func(*models.Session) (bool, error)) (*models.Session, error) {
	unlock := e.stateLocks.Lock(id)
	defer unlock()
	return e.mutateLocked(ctx, id, fn)
}

// mutateLocked retries on version conflicts, which only happen when another
// process writes the same session
func (e *StoryEngine) mutateLocked(ctx context.Context, id string, fn func(*models.Session) (bool, error)) (*models.Session, error) {
	var lastErr error
	for attempt := 1; attempt <= storeRetries; attempt++ {
		s, err := e.load(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := fn(s)
		if err != nil {
			return nil, err
		}
		if !changed {
			return s, nil
		}

		err = e.sessions.Update(ctx, s)
		switch {
		case err == nil:
			return s, nil
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrSessionNotFound
		case !errors.Is(err, storage.ErrVersionConflict):
			return nil, fmt.Errorf("failed to update session: %w", err)
		}
		lastErr = err
		log.Printf("[StoryEngine] session %s: version conflict on attempt %d", id, attempt)
	}
	return nil, fmt.Errorf("failed to update session after %d attempts: %w", storeRetries, lastErr)
}

func (e *StoryEngine) isInflight(gameID string, turn int) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	_, ok := e.inflight[inflightKey(gameID, turn)]
	return ok
}

func (e *StoryEngine) setInflight(gameID string, turn int, on bool) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if on {
		e.inflight[inflightKey(gameID, turn)] = struct{}{}
	} else {
		delete(e.inflight, inflightKey(gameID, turn))
	}
}

func inflightKey(gameID string, turn int) string {
	return fmt.Sprintf("%s/%d", gameID, turn)
}

func encodeRedacted(s *models.Session, savedAt time.Time) ([]byte, error) {
	redacted := *s
	redacted.APIKey = ""
	data, err := models.EncodeSnapshot(&redacted, savedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

func defaultSaveName(s *models.Session) string {
	if prompts.NormalizeLanguage(s.Language) == prompts.LangZH {
		return fmt.Sprintf("第%d回合", s.Turns.Len())
	}
	return fmt.Sprintf("Turn %d", s.Turns.Len())
}
