package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	AI       AIConfig       `yaml:"ai"`
	Images   ImagesConfig   `yaml:"images"`
	Session  SessionConfig  `yaml:"session"`
	Saves    SavesConfig    `yaml:"saves"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	AllowOrigin  string        `yaml:"allow_origin"`
}

type DatabaseConfig struct {
	MySQL MySQLConfig `yaml:"mysql"`
	Redis RedisConfig `yaml:"redis"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	LogLevel        string        `yaml:"log_level"`
}

type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

type AIConfig struct {
	Provider       string        `yaml:"provider"` // "openai" or "gemini"
	Mode           string        `yaml:"mode"`     // "schema" or "markers"
	Attempts       int           `yaml:"attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Temperature    float32       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	TemplatesFile  string        `yaml:"templates_file"`
	OpenAI         OpenAIConfig  `yaml:"openai"`
	Gemini         GeminiConfig  `yaml:"gemini"`
}

type OpenAIConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	ChatModel  string `yaml:"chat_model"`
	ImageModel string `yaml:"image_model"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type ImagesConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Backend           string        `yaml:"backend"` // "openai", "comfyui" or "none"
	CacheDir          string        `yaml:"cache_dir"`
	CacheMaxEntries   int           `yaml:"cache_max_entries"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	Workers           int           `yaml:"workers"`
	QueueSize         int           `yaml:"queue_size"`
	Timeout           time.Duration `yaml:"timeout"`
	ScenePlaceholder  string        `yaml:"scene_placeholder"`
	AvatarPlaceholder string        `yaml:"avatar_placeholder"`
	ComfyUI           ComfyUIConfig `yaml:"comfyui"`
}

type ComfyUIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	WorkflowFile   string        `yaml:"workflow_file"`
	Timeout        time.Duration `yaml:"timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Checkpoint     string        `yaml:"checkpoint"`
	NegativePrompt string        `yaml:"negative_prompt"`
	Steps          int           `yaml:"steps"`
	CFGScale       float64       `yaml:"cfg_scale"`
	Lora           string        `yaml:"lora"`
	LoraStrength   float64       `yaml:"lora_strength"`
}

type SessionConfig struct {
	Store      string        `yaml:"store"` // "memory" or "redis"
	TTL        time.Duration `yaml:"ttl"`
	CookieName string        `yaml:"cookie_name"`
	Secure     bool          `yaml:"secure"`
}

type SavesConfig struct {
	Store        string `yaml:"store"` // "memory" or "mysql"
	MaxPerPlayer int    `yaml:"max_per_player"`
}

type LoggingConfig struct {
	Output string `yaml:"output"`
}

// envOverrides holds values that may come from the environment or .env
type envOverrides struct {
	Port          int    `env:"PORT"`
	Provider      string `env:"AI_PROVIDER"`
	Mode          string `env:"AI_MODE"`
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	SessionStore  string `env:"SESSION_STORE"`
	SavesStore    string `env:"SAVES_STORE"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	MySQLPassword string `env:"MYSQL_PASSWORD"`
}

// Load reads configuration from a YAML file, then applies .env and
// environment overrides and defaults. A missing file yields defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Printf("[Config] %s not found, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var raw envOverrides
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("failed to parse env: %w", err)
	}

	if raw.Port != 0 {
		c.Server.Port = raw.Port
	}
	if raw.Provider != "" {
		c.AI.Provider = raw.Provider
	}
	if raw.Mode != "" {
		c.AI.Mode = raw.Mode
	}
	if raw.OpenAIAPIKey != "" {
		c.AI.OpenAI.APIKey = raw.OpenAIAPIKey
	}
	if raw.OpenAIBaseURL != "" {
		c.AI.OpenAI.BaseURL = raw.OpenAIBaseURL
	}
	if raw.GeminiAPIKey != "" {
		c.AI.Gemini.APIKey = raw.GeminiAPIKey
	}
	if raw.SessionStore != "" {
		c.Session.Store = raw.SessionStore
	}
	if raw.SavesStore != "" {
		c.Saves.Store = raw.SavesStore
	}
	if raw.RedisPassword != "" {
		c.Database.Redis.Password = raw.RedisPassword
	}
	if raw.MySQLPassword != "" {
		c.Database.MySQL.Password = raw.MySQLPassword
	}
	return nil
}

func (c *Config) applyDefaults() {
	setString(&c.Server.Host, "0.0.0.0")
	setInt(&c.Server.Port, 8080)
	setDuration(&c.Server.ReadTimeout, 30*time.Second)
	setDuration(&c.Server.WriteTimeout, 5*time.Minute)
	setString(&c.Server.AllowOrigin, "*")

	setString(&c.AI.Provider, "openai")
	setString(&c.AI.Mode, "schema")
	setInt(&c.AI.Attempts, 3)
	setDuration(&c.AI.RetryDelay, time.Second)
	setDuration(&c.AI.RequestTimeout, 120*time.Second)
	setString(&c.AI.OpenAI.BaseURL, "https://api.openai.com/v1")
	setString(&c.AI.OpenAI.ChatModel, "gpt-4o-mini")
	setString(&c.AI.OpenAI.ImageModel, "dall-e-2")
	setString(&c.AI.Gemini.Model, "gemini-2.5-flash")

	setString(&c.Images.Backend, "openai")
	setString(&c.Images.CacheDir, "./data/image_cache")
	setInt(&c.Images.CacheMaxEntries, 1000)
	setDuration(&c.Images.CacheTTL, 24*time.Hour)
	setInt(&c.Images.Workers, 2)
	setInt(&c.Images.QueueSize, 16)
	setDuration(&c.Images.Timeout, 2*time.Minute)
	setString(&c.Images.ScenePlaceholder, "/api/placeholder/800/400")
	setString(&c.Images.AvatarPlaceholder, "/api/placeholder/100/100")
	setString(&c.Images.ComfyUI.BaseURL, "http://127.0.0.1:8188")
	setDuration(&c.Images.ComfyUI.Timeout, 5*time.Minute)
	setDuration(&c.Images.ComfyUI.PollInterval, time.Second)
	setString(&c.Images.ComfyUI.Checkpoint, "sd_xl_turbo_1.0_fp16.safetensors")
	setString(&c.Images.ComfyUI.NegativePrompt, "text, watermark, blurry, lowres")
	setInt(&c.Images.ComfyUI.Steps, 8)
	if c.Images.ComfyUI.CFGScale == 0 {
		c.Images.ComfyUI.CFGScale = 2.0
	}
	if c.Images.ComfyUI.Lora != "" && c.Images.ComfyUI.LoraStrength == 0 {
		c.Images.ComfyUI.LoraStrength = 0.8
	}

	setString(&c.Session.Store, "memory")
	setDuration(&c.Session.TTL, 24*time.Hour)
	setString(&c.Session.CookieName, "adventure_session")

	setString(&c.Saves.Store, "memory")
	setInt(&c.Saves.MaxPerPlayer, 20)

	setString(&c.Database.Redis.Host, "localhost")
	setInt(&c.Database.Redis.Port, 6379)
	setInt(&c.Database.Redis.PoolSize, 10)
	setString(&c.Database.MySQL.Host, "localhost")
	setInt(&c.Database.MySQL.Port, 3306)
	setInt(&c.Database.MySQL.MaxOpenConns, 10)
	setInt(&c.Database.MySQL.MaxIdleConns, 5)
	setDuration(&c.Database.MySQL.ConnMaxLifetime, time.Hour)
}

// Validate rejects values the server cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if !oneOf(c.AI.Provider, "openai", "gemini") {
		return fmt.Errorf("invalid ai provider %q", c.AI.Provider)
	}
	if !oneOf(c.AI.Mode, "schema", "markers") {
		return fmt.Errorf("invalid ai mode %q", c.AI.Mode)
	}
	if !oneOf(c.Images.Backend, "openai", "comfyui", "none") {
		return fmt.Errorf("invalid image backend %q", c.Images.Backend)
	}
	if !oneOf(c.Session.Store, "memory", "redis") {
		return fmt.Errorf("invalid session store %q", c.Session.Store)
	}
	if !oneOf(c.Saves.Store, "memory", "mysql") {
		return fmt.Errorf("invalid saves store %q", c.Saves.Store)
	}
	if c.Images.Workers <= 0 || c.Images.QueueSize <= 0 {
		return fmt.Errorf("image workers and queue size must be positive")
	}
	return nil
}

// ImagesActive reports whether new games get illustrations by default
func (c *Config) ImagesActive() bool {
	return c.Images.Enabled && c.Images.Backend != "none"
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}
