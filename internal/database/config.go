package database

import "time"

const (
	defaultMaxIdleConns    = 8
	defaultMaxOpenConns    = 8
	defaultConnMaxLifetime = time.Hour
	defaultBusyTimeoutMS   = 5000
	defaultCacheSizeKB     = -64000 // 64MB
)

// Config holds database configuration settings
type Config struct {
	DBPath string

	// Zero values fall back to the package defaults.
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	CacheSizeKB     int
	BusyTimeoutMS   int
	ReadOnly        bool
}

// NewConfig creates a new database configuration with default values
func NewConfig(dbPath string) *Config {
	return &Config{
		DBPath:          dbPath,
		ConnMaxLifetime: defaultConnMaxLifetime,
		CacheSizeKB:     defaultCacheSizeKB,
		BusyTimeoutMS:   defaultBusyTimeoutMS,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if c.BusyTimeoutMS <= 0 {
		c.BusyTimeoutMS = defaultBusyTimeoutMS
	}
	if c.CacheSizeKB == 0 {
		c.CacheSizeKB = defaultCacheSizeKB
	}
}
