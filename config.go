package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port           string
	TasksDir       string
	AllowedOrigins []string
	Debug          bool
	LogFormat      string

	RedisURL       string
	CacheTTL       time.Duration
	IdempotencyTTL time.Duration
	EventsChannel  string

	StorageConnStr   string
	EventsQueue      string
	ReportsTable     string
	StorageProvision bool

	AnthropicAPIKey string
	AnthropicModel  string
	OllamaHost      string
	OllamaModel     string
	AIProviders     []string
	AITimeout       time.Duration
}

func loadConfig() (Config, error) {
	cfg := Config{
		Port:             envString("PORT", "8000"),
		TasksDir:         envString("TASKS_DIR", "./data/tasks"),
		AllowedOrigins:   envList("ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		LogFormat:        strings.ToLower(envString("LOG_FORMAT", "text")),
		RedisURL:         os.Getenv("REDIS_URL"),
		EventsChannel:    os.Getenv("EVENTS_CHANNEL"),
		StorageConnStr:   os.Getenv("STORAGE_CONNECTION_STRING"),
		EventsQueue:      os.Getenv("EVENTS_QUEUE"),
		ReportsTable:     os.Getenv("REPORTS_TABLE"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:   os.Getenv("ANTHROPIC_MODEL"),
		OllamaHost:       os.Getenv("OLLAMA_HOST"),
		OllamaModel:      os.Getenv("OLLAMA_MODEL"),
		AIProviders:      envList("AI_PROVIDERS", []string{"anthropic", "ollama"}),
		StorageProvision: true,
	}

	var err error
	if cfg.Debug, err = envBool("DEBUG", false); err != nil {
		return cfg, err
	}
	if cfg.StorageProvision, err = envBool("STORAGE_PROVISION", true); err != nil {
		return cfg, err
	}
	if cfg.CacheTTL, err = envDuration("CACHE_TTL", time.Minute); err != nil {
		return cfg, err
	}
	if cfg.IdempotencyTTL, err = envDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.AITimeout, err = envDuration("AI_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return cfg, fmt.Errorf("invalid PORT: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return cfg, fmt.Errorf("invalid LOG_FORMAT %q: must be text or json", cfg.LogFormat)
	}
	for _, p := range cfg.AIProviders {
		if p != "anthropic" && p != "ollama" {
			return cfg, fmt.Errorf("invalid AI_PROVIDERS entry %q", p)
		}
	}
	if (cfg.EventsQueue != "" || cfg.ReportsTable != "") && cfg.StorageConnStr == "" {
		return cfg, fmt.Errorf("EVENTS_QUEUE and REPORTS_TABLE require STORAGE_CONNECTION_STRING")
	}
	if cfg.EventsChannel != "" && cfg.RedisURL == "" {
		return cfg, fmt.Errorf("EVENTS_CHANNEL requires REDIS_URL")
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return def, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return d, nil
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// redisOptions accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
