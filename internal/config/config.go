package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Embedding  EmbeddingConfig
	Ollama     OllamaConfig
	Generation GenerationConfig
	Gemini     GeminiConfig
	Retrieval  RetrievalConfig
	Curriculum CurriculumConfig
	Log        LogConfig
	Tracing    TracingConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins string
	MCPStdio    bool
	APIToken    string
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Origins splits CORSOrigins on commas.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type StorageConfig struct {
	DataDir string
}

type EmbeddingConfig struct {
	Provider       string
	Model          string
	Dimensions     int
	CacheRedisAddr string
	CacheTTL       time.Duration
}

type OllamaConfig struct {
	BaseURL   string
	ChatModel string
}

type GenerationConfig struct {
	Provider       string
	Model          string
	APIKey         string
	MaxAttempts    int
	InitialBackoff time.Duration
	Deadline       time.Duration
	RateLimit      float64
}

type GeminiConfig struct {
	APIKey     string
	Model      string
	EmbedModel string
}

type RetrievalConfig struct {
	DefaultLimit int
	PromptLimit  int
}

type CurriculumConfig struct {
	MinBlockMinutes   float64
	MaxBlockMinutes   float64
	MaxResources      int
	ResourcesPerTopic int
}

type LogConfig struct {
	Level  string
	Format string
}

type TracingConfig struct {
	Enabled bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8000,
			CORSOrigins: "http://localhost:3000,http://127.0.0.1:3000",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 384,
			CacheTTL:   24 * time.Hour,
		},
		Ollama: OllamaConfig{
			BaseURL:   "http://localhost:11434",
			ChatModel: "phi3.5",
		},
		Generation: GenerationConfig{
			Provider:       "openrouter",
			Model:          "google/gemini-2.0-flash-001",
			MaxAttempts:    3,
			InitialBackoff: 5 * time.Second,
			Deadline:       90 * time.Second,
			RateLimit:      2,
		},
		Gemini: GeminiConfig{
			Model:      "gemini-2.5-flash",
			EmbedModel: "gemini-embedding-001",
		},
		Retrieval: RetrievalConfig{
			DefaultLimit: 10,
			PromptLimit:  50,
		},
		Curriculum: CurriculumConfig{
			MinBlockMinutes:   10,
			MaxBlockMinutes:   30,
			MaxResources:      12,
			ResourcesPerTopic: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the config file and environment variables.
//
// The file lives at $XDG_CONFIG_HOME/ethika/config.yaml. Environment
// variables (ETHIKA_*) override file values. Secrets (API keys and the
// server token) are read from environment variables only.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadFromPath(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !oneOf(c.Embedding.Provider, "ollama", "gemini", "hash") {
		return fmt.Errorf("invalid config: embedding.provider %q (want ollama, gemini or hash)", c.Embedding.Provider)
	}
	if !oneOf(c.Generation.Provider, "openrouter", "gemini", "ollama", "none") {
		return fmt.Errorf("invalid config: generation.provider %q (want openrouter, gemini, ollama or none)", c.Generation.Provider)
	}
	if !oneOf(c.Log.Format, "text", "json", "console") {
		return fmt.Errorf("invalid config: log.format %q (want text, json or console)", c.Log.Format)
	}
	if c.Embedding.Provider == "hash" && c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("invalid config: embedding.dimensions must be positive")
	}
	if c.Curriculum.MinBlockMinutes > c.Curriculum.MaxBlockMinutes {
		return fmt.Errorf("invalid config: curriculum.min_block_minutes exceeds max_block_minutes")
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	return slices.Contains(allowed, v)
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "ethika-data"
		}
	}
	return filepath.Join(dir, "ethika")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "ethika", "config.yaml")
}
