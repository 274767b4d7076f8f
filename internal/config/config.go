package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// File paths
	SourcesCSVPath string
	DBPath         string

	// Server settings
	ServerHost string
	ServerPort int
	APIKey     string

	// Pipeline settings
	WorkerCount   int
	Interval      time.Duration
	RetentionDays int
	MinHealth     int
	BatchSize     int
	BatchDelay    time.Duration
	FetchTimeout  time.Duration
	UserAgent     string
	FeedReader    string

	// Classifier settings
	ClassifierEndpoint string
	ClassifierModel    string
	ClassifierAPIKey   string

	// Seen cache; empty RedisAddr keeps it in memory
	RedisAddr string
	SeenTTL   time.Duration

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		SourcesCSVPath:     DefaultSourcesCSVPath,
		DBPath:             DefaultDBPath,
		ServerHost:         DefaultServerHost,
		ServerPort:         DefaultServerPort,
		WorkerCount:        DefaultWorkerCount,
		Interval:           time.Duration(DefaultInterval) * time.Minute,
		RetentionDays:      DefaultRetentionDays,
		MinHealth:          DefaultMinHealth,
		BatchSize:          DefaultBatchSize,
		BatchDelay:         DefaultBatchDelay,
		FetchTimeout:       DefaultFetchTimeout,
		UserAgent:          DefaultUserAgent,
		FeedReader:         DefaultFeedReader,
		ClassifierEndpoint: DefaultClassifierEndpoint,
		ClassifierModel:    DefaultClassifierModel,
		SeenTTL:            DefaultSeenTTL,
		LogLevel:           logLevel,
	}
}

// Load builds the configuration from the defaults, the YAML file at path (if
// any) and the BREAKING_* environment variables, in that order. Command line
// flags are applied on top by the caller.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// Retention returns the article retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// fileConfig is the YAML layout. Zero values leave the current setting alone.
type fileConfig struct {
	SourcesCSV string `yaml:"sourcesCsv"`
	Database   struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Server struct {
		Host   string `yaml:"host"`
		Port   int    `yaml:"port"`
		APIKey string `yaml:"apiKey"`
	} `yaml:"server"`
	Pipeline struct {
		Workers       int           `yaml:"workers"`
		Interval      time.Duration `yaml:"interval"`
		RetentionDays int           `yaml:"retentionDays"`
		MinHealth     *int          `yaml:"minHealth"`
		BatchSize     int           `yaml:"batchSize"`
		BatchDelay    time.Duration `yaml:"batchDelay"`
		FetchTimeout  time.Duration `yaml:"fetchTimeout"`
		UserAgent     string        `yaml:"userAgent"`
		Reader        string        `yaml:"reader"`
	} `yaml:"pipeline"`
	Classifier struct {
		Endpoint string `yaml:"endpoint"`
		Model    string `yaml:"model"`
		APIKey   string `yaml:"apiKey"`
	} `yaml:"classifier"`
	Redis struct {
		Addr    string        `yaml:"addr"`
		SeenTTL time.Duration `yaml:"seenTtl"`
	} `yaml:"redis"`
	LogLevel string `yaml:"logLevel"`
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&c.SourcesCSVPath, f.SourcesCSV)
	setString(&c.DBPath, f.Database.Path)
	setString(&c.ServerHost, f.Server.Host)
	setInt(&c.ServerPort, f.Server.Port)
	setString(&c.APIKey, f.Server.APIKey)
	setInt(&c.WorkerCount, f.Pipeline.Workers)
	setDuration(&c.Interval, f.Pipeline.Interval)
	setInt(&c.RetentionDays, f.Pipeline.RetentionDays)
	if f.Pipeline.MinHealth != nil {
		c.MinHealth = *f.Pipeline.MinHealth
	}
	setInt(&c.BatchSize, f.Pipeline.BatchSize)
	setDuration(&c.BatchDelay, f.Pipeline.BatchDelay)
	setDuration(&c.FetchTimeout, f.Pipeline.FetchTimeout)
	setString(&c.UserAgent, f.Pipeline.UserAgent)
	setString(&c.FeedReader, f.Pipeline.Reader)
	setString(&c.ClassifierEndpoint, f.Classifier.Endpoint)
	setString(&c.ClassifierModel, f.Classifier.Model)
	setString(&c.ClassifierAPIKey, f.Classifier.APIKey)
	setString(&c.RedisAddr, f.Redis.Addr)
	setDuration(&c.SeenTTL, f.Redis.SeenTTL)

	if f.LogLevel != "" {
		level, err := zerolog.ParseLevel(f.LogLevel)
		if err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		c.LogLevel = level
	}
	return nil
}

func (c *Config) applyEnv() {
	c.SourcesCSVPath = GetEnvString("BREAKING_CSV_PATH", c.SourcesCSVPath)
	c.DBPath = GetEnvString("BREAKING_DB_PATH", c.DBPath)
	c.ServerHost = GetEnvString("BREAKING_HOST", c.ServerHost)
	c.ServerPort = GetEnvInt("BREAKING_PORT", c.ServerPort)
	c.APIKey = GetEnvString("BREAKING_API_KEY", c.APIKey)
	c.WorkerCount = GetEnvInt("BREAKING_WORKER_COUNT", c.WorkerCount)
	c.Interval = GetEnvDuration("BREAKING_INTERVAL", c.Interval)
	c.RetentionDays = GetEnvInt("BREAKING_RETENTION_DAYS", c.RetentionDays)
	c.MinHealth = GetEnvInt("BREAKING_MIN_HEALTH", c.MinHealth)
	c.BatchSize = GetEnvInt("BREAKING_BATCH_SIZE", c.BatchSize)
	c.BatchDelay = GetEnvDuration("BREAKING_BATCH_DELAY", c.BatchDelay)
	c.FetchTimeout = GetEnvDuration("BREAKING_FETCH_TIMEOUT", c.FetchTimeout)
	c.UserAgent = GetEnvString("BREAKING_USER_AGENT", c.UserAgent)
	c.FeedReader = GetEnvString("BREAKING_FEED_READER", c.FeedReader)
	c.ClassifierEndpoint = GetEnvString("BREAKING_CLASSIFIER_ENDPOINT", c.ClassifierEndpoint)
	c.ClassifierModel = GetEnvString("BREAKING_CLASSIFIER_MODEL", c.ClassifierModel)
	c.ClassifierAPIKey = GetEnvString("BREAKING_CLASSIFIER_API_KEY", GetEnvString(EnvOpenAIKey, c.ClassifierAPIKey))
	c.RedisAddr = GetEnvString("BREAKING_REDIS_ADDR", c.RedisAddr)
	c.SeenTTL = GetEnvDuration("BREAKING_SEEN_TTL", c.SeenTTL)
	c.LogLevel = GetEnvLogLevel("BREAKING_LOG_LEVEL", c.LogLevel)
}

// PathFromArgs returns the value of a -config flag in args, falling back to
// the BREAKING_CONFIG environment variable.
func PathFromArgs(args []string) string {
	for i, a := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return GetEnvString(EnvConfigPath, "")
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
