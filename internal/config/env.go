package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// GetEnvString returns the value of key, or defaultValue when it is unset or blank.
func GetEnvString(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt returns key parsed as an integer, or defaultValue.
func GetEnvInt(key string, defaultValue int) int {
	val, err := strconv.Atoi(GetEnvString(key, ""))
	if err != nil {
		return defaultValue
	}
	return val
}

// GetEnvBool returns key parsed as a boolean, or defaultValue.
func GetEnvBool(key string, defaultValue bool) bool {
	val, err := strconv.ParseBool(GetEnvString(key, ""))
	if err != nil {
		return defaultValue
	}
	return val
}

// GetEnvDuration returns key parsed as a duration ("90s", "1h30m").
// A bare number is interpreted as minutes.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valStr := GetEnvString(key, "")
	if valStr == "" {
		return defaultValue
	}
	if d, err := ParseDuration(valStr); err == nil {
		return d
	}
	return defaultValue
}

// ParseDuration parses s as a Go duration, or as whole minutes when it has no unit.
func ParseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	return time.ParseDuration(s)
}

// GetEnvLogLevel returns key parsed as a zerolog level, or defaultValue.
func GetEnvLogLevel(key string, defaultValue zerolog.Level) zerolog.Level {
	valStr := GetEnvString(key, "")
	if valStr == "" {
		return defaultValue
	}
	level, err := zerolog.ParseLevel(valStr)
	if err != nil {
		return defaultValue
	}
	return level
}
