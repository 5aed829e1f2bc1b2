// Package config loads ether-guru settings from defaults, an optional .env file and the environment.
//
// Precedence, lowest to highest: built-in defaults, variables loaded from a .env file,
// process environment. Every setting has an explicit ETHERGURU_* variable; the sink DSN
// also honours SUPABASE_DB_URL and DATABASE_URL.
package config

import (
	"net/url"
	"time"
)

// Config is the complete application configuration
type Config struct {
	Chunk  ChunkConfig  `koanf:"chunk"`
	Sink   SinkConfig   `koanf:"sink"`
	Crawl  CrawlConfig  `koanf:"crawl"`
	Index  IndexConfig  `koanf:"index"`
	Embed  EmbedConfig  `koanf:"embed"`
	Search SearchConfig `koanf:"search"`
	Log    LogConfig    `koanf:"log"`
}

// ChunkConfig sizes chunks, in characters
type ChunkConfig struct {
	Size    int `koanf:"size"    env:"ETHERGURU_CHUNK_SIZE"    validate:"gt=0"`
	Overlap int `koanf:"overlap" env:"ETHERGURU_CHUNK_OVERLAP" validate:"gte=0,ltfield=Size"`
}

// SinkConfig selects and configures the chunk store
type SinkConfig struct {
	Driver      string `koanf:"driver"       env:"ETHERGURU_SINK_DRIVER"       validate:"oneof=sqlite postgres bleve"`
	Path        string `koanf:"path"         env:"ETHERGURU_SINK_PATH"         validate:"required_unless=Driver postgres"`
	DSN         string `koanf:"dsn"          env:"ETHERGURU_SINK_DSN"          validate:"required_if=Driver postgres"`
	Table       string `koanf:"table"        env:"ETHERGURU_SINK_TABLE"        validate:"required,identifier"`
	VectorTable string `koanf:"vector_table" env:"ETHERGURU_SINK_VECTOR_TABLE" validate:"required,identifier"`
	BatchSize   int    `koanf:"batch_size"   env:"ETHERGURU_SINK_BATCH_SIZE"   validate:"gt=0"`
}

// CrawlConfig controls page discovery
type CrawlConfig struct {
	StartURL     string        `koanf:"start_url"      env:"ETHERGURU_CRAWL_START_URL"      validate:"omitempty,url"`
	Include      []string      `koanf:"include"        env:"ETHERGURU_CRAWL_INCLUDE"        validate:"dive,regexp"`
	Exclude      []string      `koanf:"exclude"        env:"ETHERGURU_CRAWL_EXCLUDE"        validate:"dive,regexp"`
	MaxDepth     int           `koanf:"max_depth"      env:"ETHERGURU_CRAWL_MAX_DEPTH"      validate:"gte=0"`
	Concurrency  int           `koanf:"concurrency"    env:"ETHERGURU_CRAWL_CONCURRENCY"    validate:"gt=0"`
	Delay        time.Duration `koanf:"delay"          env:"ETHERGURU_CRAWL_DELAY"          validate:"gte=0"`
	Timeout      time.Duration `koanf:"timeout"        env:"ETHERGURU_CRAWL_TIMEOUT"        validate:"gt=0"`
	Retries      int           `koanf:"retries"        env:"ETHERGURU_CRAWL_RETRIES"        validate:"gte=0"`
	UserAgent    string        `koanf:"user_agent"     env:"ETHERGURU_CRAWL_USER_AGENT"`
	MaxPageBytes int64         `koanf:"max_page_bytes" env:"ETHERGURU_CRAWL_MAX_PAGE_BYTES" validate:"gt=0"`
}

// IndexConfig sizes the ingestion worker pool
type IndexConfig struct {
	Workers int `koanf:"workers" env:"ETHERGURU_INDEX_WORKERS" validate:"gt=0"`
}

// EmbedConfig selects the embedding provider used for stored chunks and queries.
// An empty Provider is resolved at load time from the API keys present.
type EmbedConfig struct {
	Provider        string        `koanf:"provider"          env:"ETHERGURU_EMBED_PROVIDER"          validate:"oneof=openai jina local"`
	Model           string        `koanf:"model"             env:"ETHERGURU_EMBED_MODEL"`
	APIKey          string        `koanf:"api_key"           env:"ETHERGURU_EMBED_API_KEY"           validate:"required_unless=Provider local"`
	BaseURL         string        `koanf:"base_url"          env:"ETHERGURU_EMBED_BASE_URL"          validate:"omitempty,url"`
	Dimension       int           `koanf:"dimension"         env:"ETHERGURU_EMBED_DIMENSION"         validate:"gte=0"`
	BatchSize       int           `koanf:"batch_size"        env:"ETHERGURU_EMBED_BATCH_SIZE"        validate:"gt=0,lte=100"`
	UpsertBatchSize int           `koanf:"upsert_batch_size" env:"ETHERGURU_EMBED_UPSERT_BATCH_SIZE" validate:"gt=0"`
	CacheSize       int           `koanf:"cache_size"        env:"ETHERGURU_EMBED_CACHE_SIZE"        validate:"gte=0"`
	Timeout         time.Duration `koanf:"timeout"           env:"ETHERGURU_EMBED_TIMEOUT"           validate:"gt=0"`
	Retries         int           `koanf:"retries"           env:"ETHERGURU_EMBED_RETRIES"           validate:"gte=0"`
}

// SearchConfig tunes the query side
type SearchConfig struct {
	CacheSize      int     `koanf:"cache_size"      env:"ETHERGURU_SEARCH_CACHE_SIZE"      validate:"gte=0"`
	MatchThreshold float64 `koanf:"match_threshold" env:"ETHERGURU_SEARCH_MATCH_THRESHOLD" validate:"gte=-1,lte=1"`
	MatchCount     int     `koanf:"match_count"     env:"ETHERGURU_SEARCH_MATCH_COUNT"     validate:"gt=0,lte=100"`
}

// LogConfig controls the default logger
type LogConfig struct {
	Level string `koanf:"level" env:"ETHERGURU_LOG_LEVEL" validate:"oneof=debug info warn error disabled"`
	JSON  bool   `koanf:"json"  env:"ETHERGURU_LOG_JSON"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Chunk: ChunkConfig{
			Size:    1000,
			Overlap: 150,
		},
		Sink: SinkConfig{
			Driver:      "sqlite",
			Path:        "etherguru.db",
			Table:       "raw_chunks",
			VectorTable: "documents",
			BatchSize:   50,
		},
		Crawl: CrawlConfig{
			StartURL:     "https://docs.soliditylang.org/en/v0.8.29/",
			Include:      []string{},
			Exclude:      []string{`.*/genindex\.html`, `.*/search\.html`},
			MaxDepth:     2,
			Concurrency:  3,
			Delay:        500 * time.Millisecond,
			Timeout:      30 * time.Second,
			Retries:      2,
			UserAgent:    "ether-guru-crawler/1.0",
			MaxPageBytes: 4 << 20,
		},
		Index: IndexConfig{
			Workers: 4,
		},
		Embed: EmbedConfig{
			BatchSize:       50,
			UpsertBatchSize: 100,
			CacheSize:       10000,
			Timeout:         30 * time.Second,
			Retries:         3,
		},
		Search: SearchConfig{
			CacheSize:      256,
			MatchThreshold: 0.78,
			MatchCount:     5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// RedactedDSN returns the DSN with any password masked, for logging
func (s SinkConfig) RedactedDSN() string {
	if s.DSN == "" {
		return ""
	}
	u, err := url.Parse(s.DSN)
	if err != nil || u.User == nil {
		return "<redacted>"
	}
	return u.Redacted()
}
