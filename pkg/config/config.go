package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the engine configuration, loaded from an optional yaml
// file with environment variable overrides for deploy-specific values.
// Durations are plain integers with the unit in the key name so they
// survive yaml round trips.
type Config struct {
	Backend      Backend      `yaml:"backend"`
	Cache        Cache        `yaml:"cache"`
	Feed         Feed         `yaml:"feed"`
	Interactions Interactions `yaml:"interactions"`
	Playback     Playback     `yaml:"playback"`
	Redis        Redis        `yaml:"redis"`
	HTTP         HTTP         `yaml:"http"`
}

// Backend points at the remote data service.
type Backend struct {
	BaseUrl           string `yaml:"base_url"`
	EventsUrl         string `yaml:"events_url"`
	FetchTimeoutMs    int    `yaml:"fetch_timeout_ms"`
	MutationTimeoutMs int    `yaml:"mutation_timeout_ms"`
}

func (b Backend) FetchTimeout() time.Duration {
	return time.Duration(b.FetchTimeoutMs) * time.Millisecond
}

func (b Backend) MutationTimeout() time.Duration {
	return time.Duration(b.MutationTimeoutMs) * time.Millisecond
}

// Cache bounds the entity cache per kind.
type Cache struct {
	PostCapacity         int `yaml:"post_capacity"`
	AvatarCapacity       int `yaml:"avatar_capacity"`
	InteractionCapacity  int `yaml:"interaction_capacity"`
	CommentCapacity      int `yaml:"comment_capacity"`
	TTLSeconds           int `yaml:"ttl_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

func (c Cache) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c Cache) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

type Feed struct {
	PageSize          int     `yaml:"page_size"`
	PrefetchThreshold float64 `yaml:"prefetch_threshold"`
}

type Interactions struct {
	DebounceMs int `yaml:"debounce_ms"`
}

func (i Interactions) Debounce() time.Duration {
	return time.Duration(i.DebounceMs) * time.Millisecond
}

type Playback struct {
	PoolSize        int `yaml:"pool_size"`
	ViewThresholdMs int `yaml:"view_threshold_ms"`
	BufferRetryMs   int `yaml:"buffer_retry_ms"`
}

func (p Playback) ViewThreshold() time.Duration {
	return time.Duration(p.ViewThresholdMs) * time.Millisecond
}

func (p Playback) BufferRetryWait() time.Duration {
	return time.Duration(p.BufferRetryMs) * time.Millisecond
}

type Redis struct {
	Url string `yaml:"url"`
}

type HTTP struct {
	Port string `yaml:"port"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend: Backend{
			BaseUrl:           "http://localhost:8080",
			EventsUrl:         "ws://localhost:8080/events",
			FetchTimeoutMs:    10_000,
			MutationTimeoutMs: 15_000,
		},
		Cache: Cache{
			PostCapacity:         200,
			AvatarCapacity:       100,
			InteractionCapacity:  500,
			CommentCapacity:      500,
			TTLSeconds:           1800,
			SweepIntervalSeconds: 60,
		},
		Feed: Feed{
			PageSize:          25,
			PrefetchThreshold: 0.7,
		},
		Interactions: Interactions{
			DebounceMs: 250,
		},
		Playback: Playback{
			PoolSize:        3,
			ViewThresholdMs: 2000,
			BufferRetryMs:   500,
		},
		Redis: Redis{
			Url: "redis://localhost:6379",
		},
		HTTP: HTTP{
			Port: "3000",
		},
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BACKEND_URL"); v != "" {
		cfg.Backend.BaseUrl = v
	}
	if v := os.Getenv("BACKEND_EVENTS_URL"); v != "" {
		cfg.Backend.EventsUrl = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.Url = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.HTTP.Port = v
	}
}

func (c Config) validate() error {
	if c.Cache.PostCapacity <= 0 || c.Cache.AvatarCapacity <= 0 || c.Cache.InteractionCapacity <= 0 {
		return fmt.Errorf("cache capacities must be positive")
	}
	if c.Playback.PoolSize < 1 {
		return fmt.Errorf("playback pool_size must be at least 1")
	}
	if c.Feed.PageSize <= 0 {
		return fmt.Errorf("feed page_size must be positive")
	}
	if c.Feed.PrefetchThreshold <= 0 || c.Feed.PrefetchThreshold > 1 {
		return fmt.Errorf("feed prefetch_threshold must be in (0, 1]")
	}
	return nil
}
