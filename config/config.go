// Package config loads application configuration from defaults, an optional
// YAML file, an optional .env file and the process environment, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rulesmaster/progress-sync/internal/domain/progress"
	"github.com/rulesmaster/progress-sync/pkg/timeutil"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Cache backends.
const (
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// Remote backends.
const (
	RemotePostgres  = "postgres"
	RemotePostgREST = "postgrest"
	RemoteMemory    = "memory"
)

// EnvConfigFile names the YAML file read by Load when no path is given.
const EnvConfigFile = "RULESMASTER_CONFIG"

// Config holds all application configuration.
type Config struct {
	App           AppConfig           `yaml:"app"`
	Cache         CacheConfig         `yaml:"cache"`
	Remote        RemoteConfig        `yaml:"remote"`
	Sync          SyncConfig          `yaml:"sync"`
	Quiz          QuizConfig          `yaml:"quiz"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string      `yaml:"name"`
	Environment Environment `yaml:"environment"`

	// Timezone is used by the calendar day policy.
	Timezone string `yaml:"timezone"`

	// DayPolicy selects how streak days are counted: "elapsed" or "calendar".
	DayPolicy string `yaml:"day_policy"`

	// UserID is the signed-in user the CLI acts for when --user is omitted.
	UserID string `yaml:"user_id"`

	// AnonymousUserID owns progress recorded before sign-in. Only its
	// snapshots are migrated into a signed-in account.
	AnonymousUserID string `yaml:"anonymous_user_id"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CacheConfig selects and configures the local durable cache.
type CacheConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`

	RedisHost      string `yaml:"redis_host"`
	RedisPort      int    `yaml:"redis_port"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`
}

// RemoteConfig selects and configures the remote progress store.
type RemoteConfig struct {
	Backend string `yaml:"backend"`

	// DatabaseURL is the Postgres connection string for the postgres backend.
	DatabaseURL string `yaml:"database_url"`

	// BaseURL and APIKey address the PostgREST endpoint.
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	AccessToken string `yaml:"access_token"`

	RequestTimeout time.Duration `yaml:"request_timeout"`

	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`

	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
}

// SyncConfig holds background work settings.
type SyncConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`

	// ResyncInterval drives the pending quiz upload job.
	ResyncInterval time.Duration `yaml:"resync_interval"`

	// RefreshInterval drives the cached progress refresh job. Zero disables it.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// QuizConfig holds quiz scoring defaults.
type QuizConfig struct {
	DefaultPassingScore int `yaml:"default_passing_score"`
	BonusXP             int `yaml:"bonus_xp"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console

	// StatusAddr is where the worker serves health and sync status.
	// Empty disables the endpoint.
	StatusAddr string `yaml:"status_addr"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:            "rulesmaster",
			Environment:     EnvDevelopment,
			Timezone:        "UTC",
			DayPolicy:       timeutil.PolicyElapsed,
			AnonymousUserID: progress.DefaultAnonymousUserID,
			ShutdownTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Backend:        CacheSQLite,
			SQLitePath:     "rulesmaster.db",
			RedisHost:      "localhost",
			RedisPort:      6379,
			RedisKeyPrefix: "rulesmaster:",
		},
		Remote: RemoteConfig{
			Backend:          RemotePostgREST,
			RequestTimeout:   5 * time.Second,
			MaxRetries:       3,
			RetryBaseDelay:   200 * time.Millisecond,
			RetryMaxDelay:    5 * time.Second,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Sync: SyncConfig{
			MaxConcurrent:   4,
			TaskTimeout:     15 * time.Second,
			ResyncInterval:  5 * time.Minute,
			RefreshInterval: 30 * time.Minute,
		},
		Quiz: QuizConfig{
			DefaultPassingScore: 60,
			BonusXP:             50,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration. path names an optional YAML file; when
// empty, RULESMASTER_CONFIG is consulted. A .env file in the working
// directory seeds the environment without overriding variables already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	env := &envReader{}
	cfg.applyEnv(env)
	if err := errors.Join(env.errs...); err != nil {
		return nil, fmt.Errorf("config environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(e *envReader) {
	e.str("APP_NAME", &c.App.Name)
	var env string
	if e.str("APP_ENV", &env) {
		c.App.Environment = Environment(env)
	}
	e.str("APP_TIMEZONE", &c.App.Timezone)
	e.str("APP_DAY_POLICY", &c.App.DayPolicy)
	e.str("APP_USER_ID", &c.App.UserID)
	e.str("APP_ANONYMOUS_USER_ID", &c.App.AnonymousUserID)
	e.duration("APP_SHUTDOWN_TIMEOUT", &c.App.ShutdownTimeout)

	e.str("CACHE_BACKEND", &c.Cache.Backend)
	e.str("CACHE_SQLITE_PATH", &c.Cache.SQLitePath)
	e.str("REDIS_HOST", &c.Cache.RedisHost)
	e.int("REDIS_PORT", &c.Cache.RedisPort)
	e.str("REDIS_PASSWORD", &c.Cache.RedisPassword)
	e.int("REDIS_DB", &c.Cache.RedisDB)
	e.str("REDIS_KEY_PREFIX", &c.Cache.RedisKeyPrefix)

	e.str("REMOTE_BACKEND", &c.Remote.Backend)
	e.str("DATABASE_URL", &c.Remote.DatabaseURL)
	e.str("SUPABASE_URL", &c.Remote.BaseURL)
	e.str("SUPABASE_ANON_KEY", &c.Remote.APIKey)
	e.str("SUPABASE_ACCESS_TOKEN", &c.Remote.AccessToken)
	e.duration("REMOTE_REQUEST_TIMEOUT", &c.Remote.RequestTimeout)
	e.int("REMOTE_MAX_RETRIES", &c.Remote.MaxRetries)
	e.duration("REMOTE_RETRY_BASE_DELAY", &c.Remote.RetryBaseDelay)
	e.duration("REMOTE_RETRY_MAX_DELAY", &c.Remote.RetryMaxDelay)
	e.int("REMOTE_CB_THRESHOLD", &c.Remote.BreakerThreshold)
	e.duration("REMOTE_CB_TIMEOUT", &c.Remote.BreakerTimeout)

	e.int("SYNC_MAX_CONCURRENT", &c.Sync.MaxConcurrent)
	e.duration("SYNC_TASK_TIMEOUT", &c.Sync.TaskTimeout)
	e.duration("SYNC_RESYNC_INTERVAL", &c.Sync.ResyncInterval)
	e.duration("SYNC_REFRESH_INTERVAL", &c.Sync.RefreshInterval)

	e.int("QUIZ_PASSING_SCORE", &c.Quiz.DefaultPassingScore)
	e.int("QUIZ_BONUS_XP", &c.Quiz.BonusXP)

	e.str("LOG_LEVEL", &c.Observability.LogLevel)
	e.str("LOG_FORMAT", &c.Observability.LogFormat)
	e.str("STATUS_ADDR", &c.Observability.StatusAddr)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	switch c.App.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Sprintf("APP_ENV %q is not one of development, staging, production", c.App.Environment))
	}
	if _, err := c.DayPolicy(); err != nil {
		errs = append(errs, "APP_DAY_POLICY: "+err.Error())
	}
	if c.App.ShutdownTimeout <= 0 {
		errs = append(errs, "APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.App.AnonymousUserID) == "" {
		errs = append(errs, "APP_ANONYMOUS_USER_ID is required")
	}

	switch c.Cache.Backend {
	case CacheSQLite:
		if c.Cache.SQLitePath == "" {
			errs = append(errs, "CACHE_SQLITE_PATH is required for the sqlite cache")
		}
	case CacheRedis:
		if c.Cache.RedisHost == "" {
			errs = append(errs, "REDIS_HOST is required for the redis cache")
		}
	case CacheMemory:
		if c.IsProduction() {
			errs = append(errs, "the memory cache is not durable and cannot be used in production")
		}
	default:
		errs = append(errs, fmt.Sprintf("CACHE_BACKEND %q is not one of sqlite, redis, memory", c.Cache.Backend))
	}

	switch c.Remote.Backend {
	case RemotePostgres:
		if c.Remote.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres remote")
		}
	case RemotePostgREST:
		if c.Remote.BaseURL == "" {
			errs = append(errs, "SUPABASE_URL is required for the postgrest remote")
		}
		if c.Remote.APIKey == "" {
			errs = append(errs, "SUPABASE_ANON_KEY is required for the postgrest remote")
		}
	case RemoteMemory:
		if c.IsProduction() {
			errs = append(errs, "the memory remote cannot be used in production")
		}
	default:
		errs = append(errs, fmt.Sprintf("REMOTE_BACKEND %q is not one of postgres, postgrest, memory", c.Remote.Backend))
	}
	if c.Remote.RequestTimeout <= 0 {
		errs = append(errs, "REMOTE_REQUEST_TIMEOUT must be positive")
	}
	if c.Remote.MaxRetries < 1 {
		errs = append(errs, "REMOTE_MAX_RETRIES must be at least 1")
	}

	if c.Sync.MaxConcurrent < 1 {
		errs = append(errs, "SYNC_MAX_CONCURRENT must be at least 1")
	}
	if c.Sync.ResyncInterval <= 0 {
		errs = append(errs, "SYNC_RESYNC_INTERVAL must be positive")
	}
	if c.Sync.RefreshInterval < 0 {
		errs = append(errs, "SYNC_REFRESH_INTERVAL must not be negative")
	}

	if c.Quiz.DefaultPassingScore < 0 || c.Quiz.DefaultPassingScore > 100 {
		errs = append(errs, "QUIZ_PASSING_SCORE must be 0-100")
	}
	if c.Quiz.BonusXP < 0 {
		errs = append(errs, "QUIZ_BONUS_XP must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// DayPolicy resolves the configured streak day policy.
func (c *Config) DayPolicy() (timeutil.DayPolicy, error) {
	return timeutil.ParseDayPolicy(c.App.DayPolicy, c.App.Timezone)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// --- Helper functions for environment variable parsing ---

// envReader overrides fields with set environment variables and collects
// parse failures instead of silently keeping defaults.
type envReader struct {
	errs []error
}

func (e *envReader) str(key string, dst *string) bool {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return false
	}
	*dst = val
	return true
}

func (e *envReader) int(key string, dst *int) {
	var raw string
	if !e.str(key, &raw) {
		return
	}
	i, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, raw))
		return
	}
	*dst = i
}

func (e *envReader) duration(key string, dst *time.Duration) {
	var raw string
	if !e.str(key, &raw) {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a duration", key, raw))
		return
	}
	*dst = d
}
