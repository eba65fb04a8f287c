package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"grantradar"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"grantradar"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`
	AuthSecret    string `envconfig:"AUTH_SECRET"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	NSQMaxMsgSize int64  `envconfig:"NSQ_MAX_MSG_SIZE" default:"10485760"` // 10MB

	// Grant feed
	GrantsFeedURL string `envconfig:"GRANTS_FEED_URL" default:"https://oursggrants.gov.sg"`

	// Search pipeline
	SearchTopK      int           `envconfig:"SEARCH_TOP_K" default:"10"`
	EvalConcurrency int           `envconfig:"EVAL_CONCURRENCY" default:"4"`
	EvalTimeout     time.Duration `envconfig:"EVAL_TIMEOUT" default:"30s"`

	// Ingestion
	IngestInterval  time.Duration `envconfig:"INGEST_INTERVAL" default:"24h"`
	EnableScheduler bool          `envconfig:"ENABLE_SCHEDULER" default:"true"`
	EnableConsumer  bool          `envconfig:"ENABLE_CONSUMER" default:"true"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may come from the shell instead, so a missing .env is fine.
	_ = godotenv.Load(".env")

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.SearchTopK <= 0 {
		return fmt.Errorf("%w: SEARCH_TOP_K must be positive", ErrMissingRequired)
	}
	if c.EvalConcurrency <= 0 {
		return fmt.Errorf("%w: EVAL_CONCURRENCY must be positive", ErrMissingRequired)
	}
	return nil
}
