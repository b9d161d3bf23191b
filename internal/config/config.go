package config

import (
	"time"

	"github.com/IBM/sarama"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	Ingest   *ingestConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"causewatch"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	StatusAddress   string `envconfig:"CAUSEWATCH_STATUS_ADDRESS" default:":8090"`
	LogLevel        string `envconfig:"CAUSEWATCH_LOG_LEVEL" default:"info"`
	MigrationFolder string `envconfig:"CAUSEWATCH_MIGRATIONS_FOLDER" default:""`
	Kafka           kafkaConfig
	Archive         archiveConfig
}

type kafkaConfig struct {
	Brokers  []string `envconfig:"CAUSEWATCH_KAFKA_BROKERS" default:""`
	Topic    string   `envconfig:"CAUSEWATCH_KAFKA_TOPIC" default:""`
	Version  string   `envconfig:"CAUSEWATCH_KAFKA_VERSION" default:""`
	ClientID string   `envconfig:"CAUSEWATCH_KAFKA_CLIENT_ID" default:""`
}

// ParsedVersion resolves the configured broker protocol version. Empty means
// sarama's default.
func (k kafkaConfig) ParsedVersion() (sarama.KafkaVersion, error) {
	if k.Version == "" {
		return sarama.KafkaVersion{}, nil
	}
	return sarama.ParseKafkaVersion(k.Version)
}

type archiveConfig struct {
	Endpoint  string `envconfig:"CAUSEWATCH_ARCHIVE_ENDPOINT" default:""`
	Bucket    string `envconfig:"CAUSEWATCH_ARCHIVE_BUCKET" default:"causewatch-snapshots"`
	AccessKey string `envconfig:"CAUSEWATCH_ARCHIVE_ACCESS_KEY" default:""`
	SecretKey string `envconfig:"CAUSEWATCH_ARCHIVE_SECRET_KEY" default:""`
	UseSSL    bool   `envconfig:"CAUSEWATCH_ARCHIVE_USE_SSL" default:"false"`
}

// ingestConfig carries the tuning knobs of the ingestion pipeline. Defaults
// mirror the production deployment.
type ingestConfig struct {
	ScheduleInterval     time.Duration `envconfig:"CAUSEWATCH_SCHEDULE_INTERVAL" default:"1h" validate:"gte=60000000000"`
	ScheduleWindow       time.Duration `envconfig:"CAUSEWATCH_SCHEDULE_WINDOW" default:"1h" validate:"gte=60000000000"`
	ScheduleJitterMax    time.Duration `envconfig:"CAUSEWATCH_SCHEDULE_JITTER_MAX" default:"30s"`
	ProcessInterval      time.Duration `envconfig:"CAUSEWATCH_PROCESS_INTERVAL" default:"2m" validate:"gte=10000000000"`
	ProcessBatchSize     int           `envconfig:"CAUSEWATCH_PROCESS_BATCH_SIZE" default:"10" validate:"gte=1"`
	MaxRetries           int           `envconfig:"CAUSEWATCH_MAX_RETRIES" default:"3" validate:"gte=0"`
	RetryBackoffBase     time.Duration `envconfig:"CAUSEWATCH_RETRY_BACKOFF_BASE" default:"1m" validate:"gte=1000000000"`
	StuckJobTimeout      time.Duration `envconfig:"CAUSEWATCH_STUCK_JOB_TIMEOUT" default:"15m" validate:"gte=60000000000"`
	JobTimeout           time.Duration `envconfig:"CAUSEWATCH_JOB_TIMEOUT" default:"20m" validate:"gte=60000000000"`
	TwitterDelayMin      time.Duration `envconfig:"CAUSEWATCH_TWITTER_DELAY_MIN" default:"30s"`
	TwitterDelayMax      time.Duration `envconfig:"CAUSEWATCH_TWITTER_DELAY_MAX" default:"90s"`
	FarcasterDelayMin    time.Duration `envconfig:"CAUSEWATCH_FARCASTER_DELAY_MIN" default:"5s"`
	FarcasterDelayMax    time.Duration `envconfig:"CAUSEWATCH_FARCASTER_DELAY_MAX" default:"15s"`
	LookbackWindow       time.Duration `envconfig:"CAUSEWATCH_LOOKBACK_WINDOW" default:"2160h"`
	FetchPageSize        int           `envconfig:"CAUSEWATCH_FETCH_PAGE_SIZE" default:"15" validate:"gte=1,lte=100"`
	FetchScanLimit       int           `envconfig:"CAUSEWATCH_FETCH_SCAN_LIMIT" default:"100" validate:"gte=1"`
	RetentionWindow      time.Duration `envconfig:"CAUSEWATCH_POST_RETENTION" default:"2160h"`
	PostsPerProjectCap   int           `envconfig:"CAUSEWATCH_POSTS_PER_PROJECT_CAP" default:"200" validate:"gte=1"`
	MaintenanceInterval  time.Duration `envconfig:"CAUSEWATCH_MAINTENANCE_INTERVAL" default:"10m" validate:"gte=60000000000"`
	SyncPageSize         int           `envconfig:"CAUSEWATCH_SYNC_PAGE_SIZE" default:"50" validate:"gte=1"`
	SyncBatchSize        int           `envconfig:"CAUSEWATCH_SYNC_BATCH_SIZE" default:"20" validate:"gte=1"`
	SyncConcurrency      int           `envconfig:"CAUSEWATCH_SYNC_CONCURRENCY" default:"3" validate:"gte=1,lte=16"`
	SyncFailureThreshold int           `envconfig:"CAUSEWATCH_SYNC_FAILURE_THRESHOLD" default:"5" validate:"gte=1"`
	LockTTL              time.Duration `envconfig:"CAUSEWATCH_LOCK_TTL" default:"30m" validate:"gte=60000000000"`
	CatalogURL           string        `envconfig:"CAUSEWATCH_CATALOG_URL" default:""`
	FarcasterAPIURL      string        `envconfig:"CAUSEWATCH_FARCASTER_API_URL" default:""`
	ScraperBaseURL       string        `envconfig:"CAUSEWATCH_SCRAPER_BASE_URL" default:""`
	ScraperUsername      string        `envconfig:"CAUSEWATCH_SCRAPER_USERNAME" default:""`
	ScraperPassword      string        `envconfig:"CAUSEWATCH_SCRAPER_PASSWORD" default:""`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
		if err := singleConfig.Validate(); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a config populated with defaults only, ignoring the
// environment. Used by tests.
func NewDefault() *Config {
	cfg := new(Config)
	// shared cache so every pooled connection sees the same in-memory db
	cfg.Database = &dbConfig{Type: "sqlite", Name: "file::memory:?cache=shared"}
	cfg.Service = &svcConfig{LogLevel: "debug"}
	cfg.Ingest = &ingestConfig{
		ScheduleInterval:     time.Hour,
		ScheduleWindow:       time.Hour,
		ScheduleJitterMax:    30 * time.Second,
		ProcessInterval:      2 * time.Minute,
		ProcessBatchSize:     10,
		MaxRetries:           3,
		RetryBackoffBase:     time.Minute,
		StuckJobTimeout:      15 * time.Minute,
		JobTimeout:           20 * time.Minute,
		LookbackWindow:       90 * 24 * time.Hour,
		FetchPageSize:        15,
		FetchScanLimit:       100,
		RetentionWindow:      90 * 24 * time.Hour,
		PostsPerProjectCap:   200,
		MaintenanceInterval:  10 * time.Minute,
		SyncPageSize:         50,
		SyncBatchSize:        20,
		SyncConcurrency:      3,
		SyncFailureThreshold: 5,
		LockTTL:              30 * time.Minute,
	}
	return cfg
}

func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c.Ingest)
}
