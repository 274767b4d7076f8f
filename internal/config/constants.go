package config

import "time"

// Constants defining default values for application configuration
const (
	DefaultSourcesCSVPath = "./sources.csv"
	DefaultDBPath         = "./news.db"

	RemoteSourcesURL = "https://raw.githubusercontent.com/reddot-watch/curated-world-news/main/feeds.csv"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultWorkerCount   = 0  // 0 means no limit
	DefaultInterval      = 15 // Minutes between pipeline runs
	DefaultRetentionDays = 7  // Days to keep articles before purging

	DefaultMinHealth    = 30
	DefaultBatchSize    = 5
	DefaultBatchDelay   = time.Second
	DefaultFetchTimeout = 10 * time.Second
	DefaultUserAgent    = "Mozilla/5.0 (compatible; NewsBot/1.0)"
	DefaultFeedReader   = "gofeed"
	DefaultSeenTTL      = 24 * time.Hour

	DefaultClassifierEndpoint = "https://api.openai.com/v1/chat/completions"
	DefaultClassifierModel    = "gpt-4o-mini"

	DefaultLogLevel = "info"
)

// Environment variable names.
const (
	EnvConfigPath = "BREAKING_CONFIG"
	EnvOpenAIKey  = "OPENAI_API_KEY"
)
