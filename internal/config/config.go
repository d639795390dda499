package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	SMTP     SMTPConfig
	Worker   WorkerConfig
	Batch    BatchConfig
	Cache    CacheConfig
	Log      LogConfig
	HTTP     HTTPConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type QueueConfig struct {
	Driver          string
	OutboundQueue   string
	DeadLetterQueue string
	WorkerGroup     string
	ReconcilerGroup string
	ConsumerName    string
	BlockTimeout    time.Duration
	ClaimIdle       time.Duration
	PublishTimeout  time.Duration
}

type SMTPConfig struct {
	Driver   string
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
	TLS      string
}

type WorkerConfig struct {
	Enabled         bool
	Count           int
	MaxRetries      int
	RetryDelay      time.Duration
	DeliveryTimeout time.Duration
}

type BatchConfig struct {
	Enabled         bool
	Schedule        string
	TimeZone        string
	DeductionAmount decimal.Decimal
	RunOnStart      bool
}

// Location resolves the batch time zone.
func (c BatchConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

type CacheConfig struct {
	TTL         time.Duration
	RecentLimit int
}

type LogConfig struct {
	Level  string
	Format string
}

type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// OpsToken guards the /ops routes when set.
	OpsToken string
}

var bindings = map[string]string{
	"database.driver":            "DATABASE_DRIVER",
	"database.host":              "DATABASE_HOST",
	"database.port":              "DATABASE_PORT",
	"database.user":              "DATABASE_USER",
	"database.password":          "DATABASE_PASSWORD",
	"database.name":              "DATABASE_NAME",
	"database.ssl_mode":          "DATABASE_SSL_MODE",
	"database.sqlite_path":       "DATABASE_SQLITE_PATH",
	"database.max_open_conns":    "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DATABASE_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DATABASE_CONN_MAX_LIFETIME",

	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"queue.driver":           "QUEUE_DRIVER",
	"queue.outbound":         "QUEUE_OUTBOUND",
	"queue.dead_letter":      "QUEUE_DEAD_LETTER",
	"queue.worker_group":     "QUEUE_WORKER_GROUP",
	"queue.reconciler_group": "QUEUE_RECONCILER_GROUP",
	"queue.consumer_name":    "QUEUE_CONSUMER_NAME",
	"queue.block_timeout":    "QUEUE_BLOCK_TIMEOUT",
	"queue.claim_idle":       "QUEUE_CLAIM_IDLE",
	"queue.publish_timeout":  "QUEUE_PUBLISH_TIMEOUT",

	"smtp.driver":   "SMTP_DRIVER",
	"smtp.host":     "SMTP_HOST",
	"smtp.port":     "SMTP_PORT",
	"smtp.username": "SMTP_USERNAME",
	"smtp.password": "SMTP_PASSWORD",
	"smtp.from":     "SMTP_FROM",
	"smtp.timeout":  "SMTP_TIMEOUT",
	"smtp.tls":      "SMTP_TLS",

	"worker.enabled":          "WORKER_ENABLED",
	"worker.count":            "WORKER_COUNT",
	"worker.max_retries":      "WORKER_MAX_RETRIES",
	"worker.retry_delay":      "WORKER_RETRY_DELAY",
	"worker.delivery_timeout": "WORKER_DELIVERY_TIMEOUT",

	"batch.enabled":          "BATCH_ENABLED",
	"batch.schedule":         "BATCH_SCHEDULE",
	"batch.timezone":         "BATCH_TIMEZONE",
	"batch.deduction_amount": "BATCH_DEDUCTION_AMOUNT",
	"batch.run_on_start":     "BATCH_RUN_ON_START",

	"cache.ttl":          "CACHE_TTL",
	"cache.recent_limit": "CACHE_RECENT_LIMIT",

	"log.level":  "LOG_LEVEL",
	"log.format": "LOG_FORMAT",

	"http.port":          "PORT",
	"http.read_timeout":  "HTTP_READ_TIMEOUT",
	"http.write_timeout": "HTTP_WRITE_TIMEOUT",
	"http.idle_timeout":  "HTTP_IDLE_TIMEOUT",
	"http.ops_token":     "OPS_TOKEN",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "tasknexus")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.sqlite_path", "tasknexus.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Minute*5)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.driver", "redis")
	v.SetDefault("queue.outbound", "messages:outbound")
	v.SetDefault("queue.dead_letter", "messages:dead")
	v.SetDefault("queue.worker_group", "message-workers")
	v.SetDefault("queue.reconciler_group", "dead-letter-reconciler")
	v.SetDefault("queue.consumer_name", "")
	v.SetDefault("queue.block_timeout", 5*time.Second)
	v.SetDefault("queue.claim_idle", 5*time.Minute)
	v.SetDefault("queue.publish_timeout", 5*time.Second)

	v.SetDefault("smtp.driver", "smtp")
	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "no-reply@tasknexus.local")
	v.SetDefault("smtp.timeout", 30*time.Second)
	v.SetDefault("smtp.tls", "opportunistic")

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.retry_delay", 5*time.Second)
	v.SetDefault("worker.delivery_timeout", 30*time.Second)

	v.SetDefault("batch.enabled", true)
	v.SetDefault("batch.schedule", "0 1 * * *")
	v.SetDefault("batch.timezone", "UTC")
	v.SetDefault("batch.deduction_amount", "50.00")
	v.SetDefault("batch.run_on_start", false)

	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.recent_limit", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
}

// Load reads the optional env file at path, lets the environment override it
// and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
		// env files are keyed by variable name; the environment still wins.
		for key, env := range bindings {
			if val := v.Get(strings.ToLower(env)); val != nil {
				v.SetDefault(key, val)
			}
		}
	}

	amount, err := decimal.NewFromString(v.GetString("batch.deduction_amount"))
	if err != nil {
		return nil, fmt.Errorf("invalid BATCH_DEDUCTION_AMOUNT: %w", err)
	}

	consumer := v.GetString("queue.consumer_name")
	if consumer == "" {
		consumer = defaultConsumerName()
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Driver:          strings.ToLower(v.GetString("database.driver")),
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Queue: QueueConfig{
			Driver:          strings.ToLower(v.GetString("queue.driver")),
			OutboundQueue:   v.GetString("queue.outbound"),
			DeadLetterQueue: v.GetString("queue.dead_letter"),
			WorkerGroup:     v.GetString("queue.worker_group"),
			ReconcilerGroup: v.GetString("queue.reconciler_group"),
			ConsumerName:    consumer,
			BlockTimeout:    v.GetDuration("queue.block_timeout"),
			ClaimIdle:       v.GetDuration("queue.claim_idle"),
			PublishTimeout:  v.GetDuration("queue.publish_timeout"),
		},
		SMTP: SMTPConfig{
			Driver:   strings.ToLower(v.GetString("smtp.driver")),
			Host:     v.GetString("smtp.host"),
			Port:     v.GetInt("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			From:     v.GetString("smtp.from"),
			Timeout:  v.GetDuration("smtp.timeout"),
			TLS:      strings.ToLower(v.GetString("smtp.tls")),
		},
		Worker: WorkerConfig{
			Enabled:         v.GetBool("worker.enabled"),
			Count:           v.GetInt("worker.count"),
			MaxRetries:      v.GetInt("worker.max_retries"),
			RetryDelay:      v.GetDuration("worker.retry_delay"),
			DeliveryTimeout: v.GetDuration("worker.delivery_timeout"),
		},
		Batch: BatchConfig{
			Enabled:         v.GetBool("batch.enabled"),
			Schedule:        v.GetString("batch.schedule"),
			TimeZone:        v.GetString("batch.timezone"),
			DeductionAmount: amount,
			RunOnStart:      v.GetBool("batch.run_on_start"),
		},
		Cache: CacheConfig{
			TTL:         v.GetDuration("cache.ttl"),
			RecentLimit: v.GetInt("cache.recent_limit"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		HTTP: HTTPConfig{
			Port:         v.GetString("http.port"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			IdleTimeout:  v.GetDuration("http.idle_timeout"),
			OpsToken:     v.GetString("http.ops_token"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	switch c.Queue.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported QUEUE_DRIVER %q", c.Queue.Driver)
	}
	switch c.SMTP.Driver {
	case "smtp", "log":
	default:
		return fmt.Errorf("unsupported SMTP_DRIVER %q", c.SMTP.Driver)
	}
	if c.Queue.OutboundQueue == "" || c.Queue.DeadLetterQueue == "" {
		return errors.New("queue names must not be empty")
	}
	if c.Queue.OutboundQueue == c.Queue.DeadLetterQueue {
		return errors.New("dead-letter queue must differ from the outbound queue")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.Worker.Count)
	}
	if c.Worker.MaxRetries < 1 {
		return fmt.Errorf("WORKER_MAX_RETRIES must be at least 1, got %d", c.Worker.MaxRetries)
	}
	if !c.Batch.DeductionAmount.IsPositive() {
		return fmt.Errorf("BATCH_DEDUCTION_AMOUNT must be positive, got %s", c.Batch.DeductionAmount)
	}
	if _, err := c.Batch.Location(); err != nil {
		return fmt.Errorf("invalid BATCH_TIMEZONE: %w", err)
	}
	return nil
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
