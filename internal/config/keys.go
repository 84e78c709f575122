package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "ETHIKA_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "ETHIKA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.cors_origins", typ: kString, env: "ETHIKA_SERVER_CORS_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigins },
	},
	{
		key: "server.mcp_stdio", typ: kBool, env: "ETHIKA_SERVER_MCP_STDIO",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPStdio = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPStdio },
	},
	{
		key: "server.api_token", typ: kString, env: "ETHIKA_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ETHIKA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "embedding.provider", typ: kString, env: "ETHIKA_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "ETHIKA_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.dimensions", typ: kInt, env: "ETHIKA_EMBEDDING_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimensions },
	},
	{
		key: "embedding.cache_redis_addr", typ: kString, env: "ETHIKA_EMBEDDING_CACHE_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Embedding.CacheRedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.CacheRedisAddr },
	},
	{
		key: "embedding.cache_ttl", typ: kDuration, env: "ETHIKA_EMBEDDING_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Embedding.CacheTTL },
	},
	{
		key: "ollama.base_url", typ: kString, env: "ETHIKA_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "ETHIKA_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "generation.provider", typ: kString, env: "ETHIKA_GENERATION_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Generation.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Provider },
	},
	{
		key: "generation.model", typ: kString, env: "ETHIKA_GENERATION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Model },
	},
	{
		key: "generation.api_key", typ: kString, env: "ETHIKA_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Generation.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.APIKey },
	},
	{
		key: "generation.max_attempts", typ: kInt, env: "ETHIKA_GENERATION_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxAttempts },
	},
	{
		key: "generation.initial_backoff", typ: kDuration, env: "ETHIKA_GENERATION_INITIAL_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Generation.InitialBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.InitialBackoff },
	},
	{
		key: "generation.deadline", typ: kDuration, env: "ETHIKA_GENERATION_DEADLINE",
		apply:   func(cfg *Config, v any) { cfg.Generation.Deadline = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.Deadline },
	},
	{
		key: "generation.rate_limit", typ: kFloat, env: "ETHIKA_GENERATION_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Generation.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.RateLimit },
	},
	{
		key: "gemini.api_key", typ: kString, env: "ETHIKA_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.model", typ: kString, env: "ETHIKA_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "gemini.embed_model", typ: kString, env: "ETHIKA_GEMINI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.EmbedModel },
	},
	{
		key: "retrieval.default_limit", typ: kInt, env: "ETHIKA_RETRIEVAL_DEFAULT_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.DefaultLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.DefaultLimit },
	},
	{
		key: "retrieval.prompt_limit", typ: kInt, env: "ETHIKA_RETRIEVAL_PROMPT_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.PromptLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.PromptLimit },
	},
	{
		key: "curriculum.min_block_minutes", typ: kFloat, env: "ETHIKA_CURRICULUM_MIN_BLOCK_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Curriculum.MinBlockMinutes = v.(float64) },
		extract: func(cfg Config) any { return cfg.Curriculum.MinBlockMinutes },
	},
	{
		key: "curriculum.max_block_minutes", typ: kFloat, env: "ETHIKA_CURRICULUM_MAX_BLOCK_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Curriculum.MaxBlockMinutes = v.(float64) },
		extract: func(cfg Config) any { return cfg.Curriculum.MaxBlockMinutes },
	},
	{
		key: "curriculum.max_resources", typ: kInt, env: "ETHIKA_CURRICULUM_MAX_RESOURCES",
		apply:   func(cfg *Config, v any) { cfg.Curriculum.MaxResources = v.(int) },
		extract: func(cfg Config) any { return cfg.Curriculum.MaxResources },
	},
	{
		key: "curriculum.resources_per_topic", typ: kInt, env: "ETHIKA_CURRICULUM_RESOURCES_PER_TOPIC",
		apply:   func(cfg *Config, v any) { cfg.Curriculum.ResourcesPerTopic = v.(int) },
		extract: func(cfg Config) any { return cfg.Curriculum.ResourcesPerTopic },
	},
	{
		key: "log.level", typ: kString, env: "ETHIKA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "ETHIKA_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "tracing.enabled", typ: kBool, env: "ETHIKA_TRACING_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Tracing.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Tracing.Enabled },
	},
}

// parse converts a raw string into the key's value type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if parsed, err := s.parse(v); err == nil {
					s.apply(cfg, parsed)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
