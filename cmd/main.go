package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"AI-Adventure/server/internal/config"
	"AI-Adventure/server/internal/engine"
	"AI-Adventure/server/internal/generators"
	"AI-Adventure/server/internal/llm"
	"AI-Adventure/server/internal/prompts"
	"AI-Adventure/server/internal/storage"
	"AI-Adventure/server/internal/web"
)

const cacheSweepInterval = 30 * time.Minute

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Output != "" {
		logFile, err := openLogFile(cfg.Logging.Output)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer logFile.Close()
		log.SetOutput(logFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, err := storage.NewSessionStore(cfg.Session, cfg.Database.Redis)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer sessions.Close()
	log.Printf("Session store: %s", cfg.Session.Store)

	saves, err := storage.NewSaveStore(cfg.Saves, cfg.Database.MySQL)
	if err != nil {
		log.Fatalf("Failed to open save store: %v", err)
	}
	defer saves.Close()
	log.Printf("Save store: %s", cfg.Saves.Store)

	templates := prompts.NewTemplateEngine()
	if cfg.AI.TemplatesFile != "" {
		n, err := templates.LoadOverrides(cfg.AI.TemplatesFile)
		if err != nil {
			log.Fatalf("Failed to load prompt templates: %v", err)
		}
		log.Printf("Loaded %d prompt template overrides", n)
	}

	openaiClient := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:    cfg.AI.OpenAI.BaseURL,
		APIKey:     cfg.AI.OpenAI.APIKey,
		ChatModel:  cfg.AI.OpenAI.ChatModel,
		ImageModel: cfg.AI.OpenAI.ImageModel,
		Timeout:    cfg.AI.RequestTimeout,
	})

	var completer llm.Completer = openaiClient
	if cfg.AI.Provider == "gemini" {
		gemini := llm.NewGeminiClient(llm.GeminiConfig{
			APIKey: cfg.AI.Gemini.APIKey,
			Model:  cfg.AI.Gemini.Model,
		})
		defer gemini.Close()
		completer = gemini
	}
	if cfg.AI.OpenAI.APIKey == "" && cfg.AI.Gemini.APIKey == "" {
		log.Println("Warning: no server API key configured; players must bring their own")
	}

	narrator := engine.NewNarrator(completer, templates, engine.NarratorConfig{
		Mode:        engine.Mode(cfg.AI.Mode),
		Attempts:    cfg.AI.Attempts,
		RetryDelay:  cfg.AI.RetryDelay,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
	})
	log.Printf("Narrator: provider=%s mode=%s", cfg.AI.Provider, narrator.Mode())

	imageCache := generators.NewImageCache(cfg.Images.CacheDir, "/images", cfg.Images.CacheMaxEntries, cfg.Images.CacheTTL)
	if err := imageCache.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize image cache: %v", err)
	}

	imageQueue := generators.NewImageQueue(cfg.Images.Workers, cfg.Images.QueueSize)
	imageQueue.Start(ctx)
	defer imageQueue.Stop()

	// the engine must see a nil interface, not a typed nil, when images are off
	var illustrator engine.Illustrator
	if backend, err := newImageBackend(ctx, cfg, openaiClient); err != nil {
		log.Fatalf("Failed to create image backend: %v", err)
	} else if backend != nil {
		illustrator = generators.NewIllustrator(backend, generators.IllustratorOptions{
			Refiner:           completer,
			Templates:         templates,
			Cache:             imageCache,
			Queue:             imageQueue,
			AvatarPlaceholder: cfg.Images.AvatarPlaceholder,
			Timeout:           cfg.Images.Timeout,
		})
		log.Printf("Illustrator: backend=%s", backend.Name())
	}

	storyEngine := engine.NewStoryEngine(narrator, illustrator, sessions, saves, engine.Config{
		ImagesEnabled:     cfg.ImagesActive(),
		ScenePlaceholder:  cfg.Images.ScenePlaceholder,
		AvatarPlaceholder: cfg.Images.AvatarPlaceholder,
		ImageTimeout:      cfg.Images.Timeout,
	})

	hub := web.NewSessionHub()
	storyEngine.SetNotifier(hub)
	go hub.Run(ctx)

	go sweepImageCache(ctx, imageCache)

	router := web.NewRouter(web.RouterOptions{
		Game:         storyEngine,
		Hub:          hub,
		Cache:        imageCache,
		Queue:        imageQueue,
		CookieName:   cfg.Session.CookieName,
		SecureCookie: cfg.Session.Secure,
		AllowOrigin:  cfg.Server.AllowOrigin,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// newImageBackend returns nil when illustrations are switched off
func newImageBackend(ctx context.Context, cfg *config.Config, openaiClient *llm.OpenAIClient) (generators.Backend, error) {
	if !cfg.ImagesActive() {
		return nil, nil
	}
	switch cfg.Images.Backend {
	case "openai":
		return generators.NewOpenAIImageBackend(openaiClient), nil
	case "comfyui":
		client, err := generators.NewComfyUIClient(cfg.Images.ComfyUI)
		if err != nil {
			return nil, err
		}
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.HealthCheck(hctx); err != nil {
			log.Printf("Warning: ComfyUI not reachable at %s: %v", cfg.Images.ComfyUI.BaseURL, err)
		}
		return client, nil
	default:
		return nil, nil
	}
}

func sweepImageCache(ctx context.Context, cache *generators.ImageCache) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := cache.CleanExpired(ctx); n > 0 {
				log.Printf("[ImageCache] Removed %d expired entries", n)
			}
		}
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}
