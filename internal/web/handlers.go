package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"AI-Adventure/server/internal/engine"
	"AI-Adventure/server/internal/generators"
	"AI-Adventure/server/internal/llm"
	"AI-Adventure/server/internal/models"
)

const (
	// APIKeyHeader lets a client hand its own oracle credential to import
	APIKeyHeader   = "X-API-Key"
	maxImportBytes = 8 << 20
	cookieMaxAge   = 30 * 24 * 60 * 60
)

// Game is the part of the story engine the API drives
type Game interface {
	StartGame(ctx context.Context, id string, req engine.StartRequest) (models.TurnView, error)
	Current(ctx context.Context, id string) (models.TurnView, error)
	TakeTurn(ctx context.Context, id, action string) (models.TurnView, error)
	Choose(ctx context.Context, id string, index int) (models.TurnView, error)
	PullImage(ctx context.Context, id string) (engine.ImagePull, error)
	Characters(ctx context.Context, id string) ([]models.Character, error)
	Status(ctx context.Context, id string) (engine.GameStatus, error)
	Export(ctx context.Context, id string) ([]byte, error)
	Import(ctx context.Context, id string, data []byte, apiKey string) (models.TurnView, error)
	SaveGame(ctx context.Context, id, name string) (models.SaveSummary, error)
	ListSaves(ctx context.Context, id string) ([]models.SaveSummary, error)
	LoadGame(ctx context.Context, id, saveID string) (models.TurnView, error)
	Reset(ctx context.Context, id string) error
	Stats() engine.EngineStats
}

// RouterOptions wires the API. Hub, Cache and Queue are optional.
type RouterOptions struct {
	Game         Game
	Hub          *SessionHub
	Cache        *generators.ImageCache
	Queue        *generators.ImageQueue
	CookieName   string
	SecureCookie bool
	AllowOrigin  string
}

// Handlers serves the game API for the player identified by the session cookie
type Handlers struct {
	game         Game
	hub          *SessionHub
	cache        *generators.ImageCache
	queue        *generators.ImageQueue
	cookieName   string
	secureCookie bool
	upgrader     websocket.Upgrader
}

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StartGameRequest starts a new game
type StartGameRequest struct {
	Theme         string `json:"theme"`
	Style         string `json:"style"`
	Difficulty    string `json:"difficulty"`
	Intro         string `json:"intro"`
	Language      string `json:"language"`
	ImagesEnabled *bool  `json:"images_enabled,omitempty"`
	APIKey        string `json:"api_key"`
}

// TurnRequest plays a turn with either a free-form action or the 0-based
// index of an offered option
type TurnRequest struct {
	Action string `json:"action"`
	Choice *int   `json:"choice,omitempty"`
}

// SaveRequest names a save slot
type SaveRequest struct {
	Name string `json:"name"`
}

// NewHandlers creates the API handlers
func NewHandlers(opts RouterOptions) *Handlers {
	cookieName := opts.CookieName
	if cookieName == "" {
		cookieName = "adventure_session"
	}
	return &Handlers{
		game:         opts.Game,
		hub:          opts.Hub,
		cache:        opts.Cache,
		queue:        opts.Queue,
		cookieName:   cookieName,
		secureCookie: opts.SecureCookie,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowOrigin),
		},
	}
}

// NewRouter builds the HTTP routes of the server
func NewRouter(opts RouterOptions) *chi.Mux {
	h := NewHandlers(opts)
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(corsMiddleware(opts.AllowOrigin))

	r.Get("/health", h.HealthCheck)
	r.Get("/api/placeholder/{width}/{height}", h.Placeholder)
	if h.cache != nil {
		r.Handle("/images/*", http.StripPrefix("/images/", http.FileServer(http.Dir(h.cache.Dir()))))
	}

	r.Route("/api/v1/game", func(r chi.Router) {
		r.Post("/start", h.StartGame)
		r.Get("/", h.CurrentTurn)
		r.Post("/turn", h.TakeTurn)
		r.Get("/image", h.PullImage)
		r.Get("/characters", h.Characters)
		r.Get("/status", h.Status)
		r.Get("/export", h.Export)
		r.Post("/import", h.Import)
		r.Post("/saves", h.SaveGame)
		r.Get("/saves", h.ListSaves)
		r.Post("/saves/{saveID}/load", h.LoadGame)
		r.Post("/reset", h.Reset)
		r.Get("/events", h.Events)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Printf("REQUEST: %s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond))
	})
}

// corsMiddleware answers "*" with a literal wildcard and no credentials. An
// explicit, comma separated origin list gets the matching origin reflected
// together with credentials.
func corsMiddleware(allowOrigin string) func(http.Handler) http.Handler {
	allowed := parseOrigins(allowOrigin)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowed == nil:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			default:
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+APIKeyHeader)
			w.Header().Set("Access-Control-Max-Age", "300")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// originChecker guards the websocket upgrade. Without an explicit origin list
// only same-host pages may connect.
func originChecker(allowOrigin string) func(*http.Request) bool {
	allowed := parseOrigins(allowOrigin)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowed != nil {
			return allowed[origin]
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// parseOrigins returns nil for the wildcard
func parseOrigins(allowOrigin string) map[string]bool {
	allowed := make(map[string]bool)
	for _, o := range strings.Split(allowOrigin, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return nil
		}
		if o != "" {
			allowed[o] = true
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	return allowed
}

// HealthCheck reports liveness and pipeline counters
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"service": "ai-adventure",
		"engine":  h.game.Stats(),
	}
	if h.hub != nil {
		body["hub"] = h.hub.Stats()
	}
	if h.cache != nil {
		body["image_cache"] = h.cache.GetStats()
	}
	if h.queue != nil {
		body["image_queue"] = h.queue.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

// Placeholder serves a neutral SVG of the requested size for turns and
// characters without an image
func (h *Handlers) Placeholder(w http.ResponseWriter, r *http.Request) {
	width, errW := strconv.Atoi(chi.URLParam(r, "width"))
	height, errH := strconv.Atoi(chi.URLParam(r, "height"))
	if errW != nil || errH != nil || width <= 0 || height <= 0 || width > 4096 || height > 4096 {
		writeFailure(w, http.StatusBadRequest, "invalid placeholder size")
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	fmt.Fprintf(w, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+
		`<rect width="100%%" height="100%%" fill="#2b2b33"/>`+
		`<text x="50%%" y="50%%" fill="#8a8a99" font-family="sans-serif" font-size="%d" text-anchor="middle" dominant-baseline="middle">%dx%d</text></svg>`,
		width, height, width, height, max(10, min(width, height)/8), width, height)
}

// StartGame begins a new game, issuing a session cookie when the player has none
func (h *Handlers) StartGame(w http.ResponseWriter, r *http.Request) {
	var req StartGameRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := h.ensureSessionID(w, r)
	view, err := h.game.StartGame(r.Context(), id, engine.StartRequest{
		Settings: models.Settings{
			Theme:      req.Theme,
			Style:      req.Style,
			Difficulty: req.Difficulty,
			Intro:      req.Intro,
		},
		Language:      req.Language,
		ImagesEnabled: req.ImagesEnabled,
		APIKey:        req.APIKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, view)
}

// CurrentTurn returns the view of the current turn
func (h *Handlers) CurrentTurn(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(id string) (any, error) {
		return h.game.Current(r.Context(), id)
	})
}

// TakeTurn plays the player's action or choice
func (h *Handlers) TakeTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.withSession(w, r, func(id string) (any, error) {
		if req.Choice != nil {
			return h.game.Choose(r.Context(), id, *req.Choice)
		}
		return h.game.TakeTurn(r.Context(), id, req.Action)
	})
}

// PullImage resolves the pending illustration of the session
func (h *Handlers) PullImage(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(id string) (any, error) {
		return h.game.PullImage(r.Context(), id)
	})
}

// Characters lists the characters met so far
func (h *Handlers) Characters(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(id string) (any, error) {
		return h.game.Characters(r.Context(), id)
	})
}

// Status returns the player status sheet
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(id string) (any, error) {
		return h.game.Status(r.Context(), id)
	})
}

// Export downloads the session as a snapshot document
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(r)
	if !ok {
		writeError(w, engine.ErrSessionNotFound)
		return
	}
	data, err := h.game.Export(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="adventure.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Import replaces the session with an uploaded snapshot document
func (h *Handlers) Import(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	id := h.ensureSessionID(w, r)
	view, err := h.game.Import(r.Context(), id, data, r.Header.Get(APIKeyHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, view)
}

// SaveGame stores the session in a named slot
func (h *Handlers) SaveGame(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.withSession(w, r, func(id string) (any, error) {
		return h.game.SaveGame(r.Context(), id, req.Name)
	})
}

// ListSaves lists the player's save slots
func (h *Handlers) ListSaves(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(r)
	if !ok {
		writeSuccess(w, []models.SaveSummary{})
		return
	}
	saves, err := h.game.ListSaves(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, saves)
}

// LoadGame restores one of the player's save slots
func (h *Handlers) LoadGame(w http.ResponseWriter, r *http.Request) {
	saveID := chi.URLParam(r, "saveID")
	h.withSession(w, r, func(id string) (any, error) {
		return h.game.LoadGame(r.Context(), id, saveID)
	})
}

// Reset discards the current game
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(id string) (any, error) {
		return map[string]bool{"reset": true}, h.game.Reset(r.Context(), id)
	})
}

// Events streams the session's turn and image events over a websocket
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeFailure(w, http.StatusServiceUnavailable, "Event stream not available")
		return
	}
	id, ok := h.sessionID(r)
	if !ok {
		writeError(w, engine.ErrSessionNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client
		log.Printf("[Hub] Failed to upgrade: %v", err)
		return
	}
	h.hub.Attach(id, conn)
}

func (h *Handlers) withSession(w http.ResponseWriter, r *http.Request, fn func(id string) (any, error)) {
	id, ok := h.sessionID(r)
	if !ok {
		writeError(w, engine.ErrSessionNotFound)
		return
	}
	data, err := fn(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, data)
}

func (h *Handlers) sessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(h.cookieName)
	if err != nil {
		return "", false
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return "", false
	}
	return c.Value, true
}

func (h *Handlers) ensureSessionID(w http.ResponseWriter, r *http.Request) string {
	if id, ok := h.sessionID(r); ok {
		return id
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// statusFor maps engine failures to HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, llm.ErrCredential):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrOracleFormat):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrOracleTransport):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrSessionNotFound),
		errors.Is(err, engine.ErrGameNotStarted),
		errors.Is(err, engine.ErrSaveNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrEmptyAction),
		errors.Is(err, engine.ErrInvalidChoice),
		errors.Is(err, models.ErrInvalidSnapshot):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrTurnConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("[API] internal error: %v", err)
		msg = "Internal server error"
	}
	writeFailure(w, status, msg)
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{Success: false, Error: msg})
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] failed to encode response: %v", err)
	}
}
