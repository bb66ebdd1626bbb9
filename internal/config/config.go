package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
)

// DefaultConfigPath is used when neither --config nor CONFIG_PATH is given.
const DefaultConfigPath = "config.yml"

// Queue backends.
const (
	QueueBackendRedis = "redis"
	QueueBackendKafka = "kafka"
)

// Config is the complete service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Queue         QueueConfig         `yaml:"queue"`
	Worker        WorkerConfig        `yaml:"worker"`
	Crawl         CrawlConfig         `yaml:"crawl"`
	Fetcher       FetcherConfig       `yaml:"fetcher"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Logging       logger.Config       `yaml:"logging"`
	Schedules     []ScheduleConfig    `yaml:"schedules"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `env:"SERVER_HOST"    yaml:"host"`
	Port         int           `env:"SERVER_PORT"    yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// APIKey, when set, is required in the X-API-Key header of /api routes.
	APIKey string `env:"SERVER_API_KEY" yaml:"api_key"`
}

// Address returns the listen address in host:port form.
func (c *ServerConfig) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `env:"POSTGRES_HOST"     yaml:"host"`
	Port            int           `env:"POSTGRES_PORT"     yaml:"port"`
	User            string        `env:"POSTGRES_USER"     yaml:"user"`
	Password        string        `env:"POSTGRES_PASSWORD" yaml:"password"`
	Database        string        `env:"POSTGRES_DB"       yaml:"database"`
	SSLMode         string        `env:"POSTGRES_SSLMODE"  yaml:"sslmode"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxIdleConns    int           `yaml:"max_idle_connections"`
	ConnMaxLifetime time.Duration `yaml:"connection_max_lifetime"`
}

// DSN returns the lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
}

// QueueConfig selects and configures the execution substrate.
type QueueConfig struct {
	Backend      string        `env:"QUEUE_BACKEND"  yaml:"backend"`
	StreamPrefix string        `yaml:"stream_prefix"`
	Group        string        `yaml:"consumer_group"`
	Consumer     string        `env:"QUEUE_CONSUMER" yaml:"consumer"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
	ClaimIdle    time.Duration `yaml:"claim_idle"`
	BatchSize    int64         `yaml:"batch_size"`
	KafkaBrokers []string      `env:"KAFKA_BROKERS"  yaml:"kafka_brokers"`
	KafkaTopic   string        `yaml:"kafka_topic"`
}

// WorkerConfig configures the worker pool.
type WorkerConfig struct {
	PoolSize int           `env:"WORKER_POOL_SIZE" yaml:"pool_size"`
	Timeout  time.Duration `yaml:"job_timeout"`
}

// CrawlConfig holds crawl defaults. Per-source settings come from the
// registry, pagination memory, and job overrides.
type CrawlConfig struct {
	MaxPages      int           `yaml:"max_pages"`
	Delay         time.Duration `yaml:"delay"`
	Timeout       time.Duration `yaml:"timeout"`
	UserAgent     string        `env:"CRAWL_USER_AGENT" yaml:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	MemoryTTL     time.Duration `yaml:"memory_ttl"`
	RegistryPath  string        `env:"CRAWL_REGISTRY"   yaml:"registry_path"`
	Transport     string        `yaml:"transport"`
	RespectRobots bool          `yaml:"respect_robots"`
}

// FetcherConfig adjusts the SSRF denylist.
type FetcherConfig struct {
	// AllowCIDRs are carved out of the denylist, for fixtures on private networks.
	AllowCIDRs []string `env:"FETCHER_ALLOW_CIDRS" yaml:"allow_cidrs"`
	// DenyCIDRs extend the built-in denylist.
	DenyCIDRs []string `yaml:"deny_cidrs"`
}

// ElasticsearchConfig configures the document index sink.
type ElasticsearchConfig struct {
	Enabled   bool     `env:"ELASTICSEARCH_ENABLED"   yaml:"enabled"`
	Addresses []string `env:"ELASTICSEARCH_ADDRESSES" yaml:"addresses"`
	Username  string   `env:"ELASTICSEARCH_USERNAME"  yaml:"username"`
	Password  string   `env:"ELASTICSEARCH_PASSWORD"  yaml:"password"`
	Index     string   `yaml:"index"`
}

// ScheduleConfig is one cron-triggered job template.
type ScheduleConfig struct {
	Name      string         `yaml:"name"`
	Cron      string         `yaml:"cron"`
	SourceIDs []string       `yaml:"source_ids"`
	Priority  *int           `yaml:"priority"`
	Overrides map[string]any `yaml:"overrides"`
}

// Load reads configuration from path.
func Load(path string) (*Config, error) {
	cfg, err := LoadWithDefaults[Config](path, SetDefaults)
	if err != nil {
		return nil, err
	}
	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, validateErr
	}
	return cfg, nil
}

// SetDefaults fills every unset field.
func SetDefaults(cfg *Config) {
	setDefault(&cfg.Server.Port, 8080)
	setDefault(&cfg.Server.ReadTimeout, 30*time.Second)
	setDefault(&cfg.Server.WriteTimeout, 30*time.Second)

	setDefault(&cfg.Database.Host, "localhost")
	setDefault(&cfg.Database.Port, 5432)
	setDefault(&cfg.Database.User, "postgres")
	setDefault(&cfg.Database.Database, "harvester")
	setDefault(&cfg.Database.SSLMode, "disable")
	setDefault(&cfg.Database.MaxConnections, 25)
	setDefault(&cfg.Database.MaxIdleConns, 5)
	setDefault(&cfg.Database.ConnMaxLifetime, 5*time.Minute)

	setDefault(&cfg.Redis.Address, "localhost:6379")

	setDefault(&cfg.Queue.Backend, QueueBackendRedis)
	setDefault(&cfg.Queue.StreamPrefix, "harvester")
	setDefault(&cfg.Queue.Group, "harvester-workers")
	setDefault(&cfg.Queue.Consumer, "worker-1")
	setDefault(&cfg.Queue.BlockTimeout, 5*time.Second)
	setDefault(&cfg.Queue.ClaimIdle, 10*time.Minute)
	setDefault(&cfg.Queue.BatchSize, int64(10))
	setDefault(&cfg.Queue.KafkaTopic, "harvester.units")

	setDefault(&cfg.Worker.PoolSize, 4)
	setDefault(&cfg.Worker.Timeout, 30*time.Minute)

	setDefault(&cfg.Crawl.MaxPages, 3)
	setDefault(&cfg.Crawl.Delay, 2*time.Second)
	setDefault(&cfg.Crawl.Timeout, 30*time.Second)
	setDefault(&cfg.Crawl.UserAgent, "harvester/1.0 (+https://northcloud.one/bot)")
	setDefault(&cfg.Crawl.MaxBodyBytes, int64(10*1024*1024))
	setDefault(&cfg.Crawl.MemoryTTL, 30*24*time.Hour)
	setDefault(&cfg.Crawl.Transport, "http")

	setDefault(&cfg.Elasticsearch.Index, "harvester_documents")

	cfg.Logging.SetDefaults()
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ValidationError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	switch c.Queue.Backend {
	case QueueBackendRedis:
	case QueueBackendKafka:
		if len(c.Queue.KafkaBrokers) == 0 {
			return &ValidationError{Field: "queue.kafka_brokers", Message: "is required for the kafka backend"}
		}
	default:
		return &ValidationError{Field: "queue.backend", Message: "must be one of: redis, kafka"}
	}
	if c.Worker.PoolSize <= 0 {
		return &ValidationError{Field: "worker.pool_size", Message: "must be positive"}
	}
	if c.Crawl.MaxPages <= 0 {
		return &ValidationError{Field: "crawl.max_pages", Message: "must be positive"}
	}
	if c.Elasticsearch.Enabled && len(c.Elasticsearch.Addresses) == 0 {
		return &ValidationError{Field: "elasticsearch.addresses", Message: "is required when enabled"}
	}
	for i, s := range c.Schedules {
		if s.Cron == "" || len(s.SourceIDs) == 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("schedules[%d]", i),
				Message: "needs a cron expression and at least one source",
			}
		}
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
