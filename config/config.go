// Package config loads the engine configuration from YAML with
// AUTOMATION_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "AUTOMATION_"

type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Stats     StatsConfig     `yaml:"stats"`
	Engine    EngineConfig    `yaml:"engine"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Log       LogConfig       `yaml:"log"`
}

// StoreConfig selects the rule and execution store. Driver is memory,
// sqlite or postgres.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// StatsConfig selects where rule counters live. Backend is store or redis.
type StatsConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	MaxAttempts   int    `yaml:"max_attempts"`
}

type EngineConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
	DedupWindow   time.Duration `yaml:"dedup_window"`
}

type WebhookConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	Burst          int           `yaml:"burst"`
}

type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Owners   []string      `yaml:"owners"`
	Location string        `yaml:"location"`
	Parser   string        `yaml:"parser"`
	Resync   time.Duration `yaml:"resync"`
}

// ArchiveConfig selects an execution exporter. Driver is none, ndjson or minio.
type ArchiveConfig struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration that runs fully in memory.
func Default() Config {
	return Config{
		Store: StoreConfig{Driver: "memory"},
		Stats: StatsConfig{Backend: "store", MaxAttempts: 16},
		Engine: EngineConfig{
			Concurrency:   8,
			ActionTimeout: 30 * time.Second,
		},
		Webhook: WebhookConfig{
			DefaultTimeout: 10 * time.Second,
			MaxTimeout:     60 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Location: "UTC",
			Parser:   "standard",
			Resync:   5 * time.Minute,
		},
		Archive: ArchiveConfig{Driver: "none", Prefix: "executions"},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path on top of the defaults and applies environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from AUTOMATION_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.setString("STORE_DRIVER", &c.Store.Driver)
	e.setString("STORE_DSN", &c.Store.DSN)

	e.setString("STATS_BACKEND", &c.Stats.Backend)
	e.setString("STATS_REDIS_ADDR", &c.Stats.RedisAddr)
	e.setString("STATS_REDIS_PASSWORD", &c.Stats.RedisPassword)
	e.setInt("STATS_REDIS_DB", &c.Stats.RedisDB)
	e.setInt("STATS_MAX_ATTEMPTS", &c.Stats.MaxAttempts)

	e.setInt("ENGINE_CONCURRENCY", &c.Engine.Concurrency)
	e.setDuration("ENGINE_ACTION_TIMEOUT", &c.Engine.ActionTimeout)
	e.setDuration("ENGINE_RUN_TIMEOUT", &c.Engine.RunTimeout)
	e.setDuration("ENGINE_DEDUP_WINDOW", &c.Engine.DedupWindow)

	e.setDuration("WEBHOOK_DEFAULT_TIMEOUT", &c.Webhook.DefaultTimeout)
	e.setDuration("WEBHOOK_MAX_TIMEOUT", &c.Webhook.MaxTimeout)
	e.setFloat("WEBHOOK_RATE_PER_SECOND", &c.Webhook.RatePerSecond)
	e.setInt("WEBHOOK_BURST", &c.Webhook.Burst)

	e.setBool("SCHEDULER_ENABLED", &c.Scheduler.Enabled)
	e.setList("SCHEDULER_OWNERS", &c.Scheduler.Owners)
	e.setString("SCHEDULER_LOCATION", &c.Scheduler.Location)
	e.setString("SCHEDULER_PARSER", &c.Scheduler.Parser)
	e.setDuration("SCHEDULER_RESYNC", &c.Scheduler.Resync)

	e.setString("ARCHIVE_DRIVER", &c.Archive.Driver)
	e.setString("ARCHIVE_PATH", &c.Archive.Path)
	e.setString("ARCHIVE_ENDPOINT", &c.Archive.Endpoint)
	e.setString("ARCHIVE_BUCKET", &c.Archive.Bucket)
	e.setString("ARCHIVE_PREFIX", &c.Archive.Prefix)
	e.setString("ARCHIVE_REGION", &c.Archive.Region)
	e.setString("ARCHIVE_ACCESS_KEY", &c.Archive.AccessKey)
	e.setString("ARCHIVE_SECRET_KEY", &c.Archive.SecretKey)
	e.setBool("ARCHIVE_USE_SSL", &c.Archive.UseSSL)

	e.setString("LOG_LEVEL", &c.Log.Level)
	e.setString("LOG_FORMAT", &c.Log.Format)

	return e.err
}

// Validate checks the configuration as a whole.
func (c Config) Validate() error {
	if err := errors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&c,
			validation.Field(&c.Store),
			validation.Field(&c.Stats),
			validation.Field(&c.Engine),
			validation.Field(&c.Webhook),
			validation.Field(&c.Scheduler),
			validation.Field(&c.Archive),
			validation.Field(&c.Log),
		)
	}, "invalid configuration"); err != nil {
		return err
	}
	return nil
}

func (s StoreConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.Required, validation.In("memory", "sqlite", "postgres")),
		validation.Field(&s.DSN, validation.When(s.Driver != "memory", validation.Required)),
	)
}

func (s StatsConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Backend, validation.Required, validation.In("store", "redis")),
		validation.Field(&s.RedisAddr, validation.When(s.Backend == "redis", validation.Required)),
		validation.Field(&s.RedisDB, validation.Min(0)),
		validation.Field(&s.MaxAttempts, validation.Min(1)),
	)
}

func (e EngineConfig) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Concurrency, validation.Required, validation.Min(1)),
		validation.Field(&e.ActionTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&e.RunTimeout, validation.Min(time.Duration(0))),
		validation.Field(&e.DedupWindow, validation.Min(time.Duration(0))),
	)
}

func (w WebhookConfig) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.DefaultTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&w.MaxTimeout, validation.Required, validation.Min(w.DefaultTimeout)),
		validation.Field(&w.RatePerSecond, validation.Min(0.0)),
		validation.Field(&w.Burst, validation.Min(0)),
	)
}

func (s SchedulerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Location, validation.By(validLocation)),
		validation.Field(&s.Parser, validation.In("", "default", "standard", "seconds")),
		validation.Field(&s.Resync, validation.Min(time.Duration(0))),
	)
}

func (a ArchiveConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Driver, validation.In("", "none", "ndjson", "minio")),
		validation.Field(&a.Endpoint, validation.When(a.Driver == "minio", validation.Required)),
		validation.Field(&a.Bucket, validation.When(a.Driver == "minio", validation.Required)),
	)
}

func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("trace", "debug", "info", "warn", "error", "fatal")),
		validation.Field(&l.Format, validation.In("", "console", "json", "pretty")),
	)
}

// TimeLocation resolves the scheduler location.
func (s SchedulerConfig) TimeLocation() (*time.Location, error) {
	if s.Location == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Location)
}

func validLocation(value any) error {
	name, _ := value.(string)
	if name == "" {
		return nil
	}
	if _, err := time.LoadLocation(name); err != nil {
		return validation.NewError("validation_location", "must be a known time zone")
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.lookup == nil {
		return "", false
	}
	v, ok := e.lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setList(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}
