package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"listings_sync/models"
)

type Config struct {
	Postgres  PostgresConfig
	Redis     RedisConfig
	S3        S3Config
	Server    ServerConfig
	Scheduler SchedulerConfig
	Sync      SyncConfig
	Feed      FeedConfig
	Geocode   GeocodeConfig
	DBPath    string
	LogLevel  string
	LogFormat string
	LogFile   string
	Feeds     map[models.SyncType]*FeedSource
}

type PostgresConfig struct {
	URL      string
	MaxConns int32
	Migrate  bool
}

type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

type ServerConfig struct {
	Port            int
	RateLimitPerMin int
	ShutdownTimeout time.Duration
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type SyncConfig struct {
	BatchSize          int
	CheckpointInterval int
	StallThreshold     int
	StartTimestamp     string
	GeocodeTimeout     time.Duration
}

type FeedConfig struct {
	RequestsPerMinute int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	Timeout           time.Duration
}

type GeocodeConfig struct {
	Enabled           bool
	URL               string
	UserAgent         string
	RequestsPerSecond float64
}

// FeedSource describes one upstream OData feed.
type FeedSource struct {
	ID        models.SyncType   `yaml:"id"`
	Name      string            `yaml:"name"`
	BaseURL   string            `yaml:"base_url"`
	TokenEnv  string            `yaml:"token_env"`
	Filter    string            `yaml:"filter"`
	Endpoints map[string]string `yaml:"endpoints"`
	Token     string            `yaml:"-"`
}

// Endpoint returns the resource path for an entity set, defaulting to the
// standard RESO names.
func (f *FeedSource) Endpoint(resource string) string {
	if p, ok := f.Endpoints[resource]; ok && p != "" {
		return p
	}
	return resource
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Postgres: PostgresConfig{
			URL:      os.Getenv("DATABASE_URL"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			Migrate:  getEnvBool("DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:     os.Getenv("REDIS_URL"),
			LockTTL: getEnvDuration("SYNC_LOCK_TTL", 2*time.Hour),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8080),
			RateLimitPerMin: getEnvInt("API_RATE_LIMIT_PER_MIN", 300),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("SYNC_CRON"),
			Interval: getEnvDuration("SYNC_INTERVAL", 0),
		},
		Sync: SyncConfig{
			BatchSize:          getEnvInt("SYNC_BATCH_SIZE", 100),
			CheckpointInterval: getEnvInt("SYNC_CHECKPOINT_INTERVAL", 1000),
			StallThreshold:     getEnvInt("SYNC_STALL_THRESHOLD", 3),
			StartTimestamp:     getEnv("SYNC_START_TIMESTAMP", "2000-01-01T00:00:00Z"),
			GeocodeTimeout:     getEnvDuration("GEOCODE_TIMEOUT", 15*time.Second),
		},
		Feed: FeedConfig{
			RequestsPerMinute: getEnvInt("FEED_REQUESTS_PER_MINUTE", 120),
			MaxRetries:        getEnvInt("FEED_MAX_RETRIES", 5),
			RetryBaseDelay:    getEnvDuration("FEED_RETRY_BASE_DELAY", time.Second),
			Timeout:           getEnvDuration("FEED_TIMEOUT", 60*time.Second),
		},
		Geocode: GeocodeConfig{
			Enabled:           getEnvBool("GEOCODE_ENABLED", false),
			URL:               getEnv("GEOCODE_URL", "https://nominatim.openstreetmap.org"),
			UserAgent:         getEnv("GEOCODE_USER_AGENT", "listings-sync/1.0"),
			RequestsPerSecond: getEnvFloat("GEOCODE_REQUESTS_PER_SECOND", 1),
		},
		DBPath:    getEnv("DB_PATH", "sync.db"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogFile:   os.Getenv("LOG_FILE"),
		Feeds:     make(map[models.SyncType]*FeedSource),
	}

	if err := cfg.loadFeedConfigs(getEnv("FEED_CONFIG_DIR", "config/feeds")); err != nil {
		return nil, err
	}
	cfg.applyEnvFeeds()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFeedConfigs(configDir string) error {
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var feed FeedSource
		if err := yaml.Unmarshal(data, &feed); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if _, ok := models.ParseSyncType(string(feed.ID)); !ok {
			return fmt.Errorf("parse %s: unknown feed id %q", path, feed.ID)
		}
		if feed.TokenEnv != "" {
			feed.Token = os.Getenv(feed.TokenEnv)
		}

		c.Feeds[feed.ID] = &feed
	}

	return nil
}

// applyEnvFeeds fills in feeds that have no yaml file from FEED_URL and the
// per-type token variables (IDX_TOKEN, VOW_TOKEN).
func (c *Config) applyEnvFeeds() {
	baseURL := os.Getenv("FEED_URL")
	for _, t := range models.AllSyncTypes {
		if _, ok := c.Feeds[t]; ok {
			continue
		}
		tokenEnv := strings.ToUpper(string(t)) + "_TOKEN"
		token := os.Getenv(tokenEnv)
		if baseURL == "" || token == "" {
			continue
		}
		c.Feeds[t] = &FeedSource{
			ID:       t,
			Name:     strings.ToUpper(string(t)),
			BaseURL:  baseURL,
			TokenEnv: tokenEnv,
			Token:    token,
		}
	}
}

func (c *Config) Validate() error {
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be positive")
	}
	if c.Sync.CheckpointInterval <= 0 {
		return fmt.Errorf("SYNC_CHECKPOINT_INTERVAL must be positive")
	}
	if c.Sync.StallThreshold <= 0 {
		return fmt.Errorf("SYNC_STALL_THRESHOLD must be positive")
	}
	if c.Feed.RequestsPerMinute <= 0 {
		return fmt.Errorf("FEED_REQUESTS_PER_MINUTE must be positive")
	}
	return nil
}

// FeedTypes returns the configured sync types in a stable order.
func (c *Config) FeedTypes() []models.SyncType {
	types := make([]models.SyncType, 0, len(c.Feeds))
	for t := range c.Feeds {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
