package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"pricewatch/internal/models"
)

// Config holds runtime configuration for the service.
// Every field can be overridden from the environment (or a .env file).
type Config struct {
	Env      string `env:"ENV, overwrite"`
	LogLevel string `env:"LOG_LEVEL, overwrite"`
	// NodeID tags journal records; empty means hostname
	NodeID string `env:"NODE_ID, overwrite"`

	Server   ServerConfig   `env:", prefix=SERVER_"`
	Kafka    KafkaConfig    `env:", prefix=KAFKA_"`
	Database DatabaseConfig `env:", prefix=DB_"`
	Redis    RedisConfig    `env:", prefix=REDIS_"`
	Feed     FeedConfig     `env:", prefix=FEED_"`
	Dispatch DispatchConfig `env:", prefix=DISPATCH_"`
	Sweep    SweepConfig    `env:", prefix=SWEEP_"`
	WebPush  WebPushConfig  `env:", prefix=VAPID_"`
	Telegram TelegramConfig `env:", prefix=TELEGRAM_"`
}

type ServerConfig struct {
	Addr         string        `env:"ADDR, overwrite"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, overwrite"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, overwrite"`
	MaxBodySize  int64         `env:"MAX_BODY_SIZE, overwrite"`
	// AdminToken guards /api/sweep; empty disables the check
	AdminToken string `env:"ADMIN_TOKEN, overwrite"`
}

type KafkaConfig struct {
	// Journal delivery records to Topic
	Enabled bool     `env:"ENABLED, overwrite"`
	Brokers []string `env:"BROKERS, overwrite"`
	Topic   string   `env:"TOPIC, overwrite"`
	// Topic consumed when Feed.Source is "kafka"
	TickTopic string         `env:"TICK_TOPIC, overwrite"`
	GroupID   string         `env:"GROUP_ID, overwrite"`
	Producer  ProducerConfig `env:", prefix=PRODUCER_"`
}

// ProducerConfig tunes the journal writer pool
type ProducerConfig struct {
	PoolSize     int           `env:"POOL_SIZE, overwrite"`
	BatchSize    int           `env:"BATCH_SIZE, overwrite"`
	BatchTimeout time.Duration `env:"BATCH_TIMEOUT, overwrite"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, overwrite"`
	RequiredAcks int           `env:"REQUIRED_ACKS, overwrite"`
	Compression  string        `env:"COMPRESSION, overwrite"`
	MaxRetries   int           `env:"MAX_RETRIES, overwrite"`
	RetryBackoff time.Duration `env:"RETRY_BACKOFF, overwrite"`
}

type DatabaseConfig struct {
	// Driver is "memory" or "postgres"
	Driver          string        `env:"DRIVER, overwrite"`
	DSN             string        `env:"DSN, overwrite"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS, overwrite"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS, overwrite"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME, overwrite"`
}

type RedisConfig struct {
	// Without redis the channel registry and outbox live in memory
	Enabled   bool   `env:"ENABLED, overwrite"`
	Addr      string `env:"ADDR, overwrite"`
	Password  string `env:"PASSWORD, overwrite"`
	DB        int    `env:"DB, overwrite"`
	KeyPrefix string `env:"KEY_PREFIX, overwrite"`
}

type FeedConfig struct {
	// Source is one of "poll", "stream", "kafka" or "none"
	Source         string        `env:"SOURCE, overwrite"`
	Symbols        []string      `env:"SYMBOLS, overwrite"`
	Interval       string        `env:"INTERVAL, overwrite"`
	PollInterval   time.Duration `env:"POLL_INTERVAL, overwrite"`
	RESTBaseURL    string        `env:"REST_BASE_URL, overwrite"`
	StreamURL      string        `env:"STREAM_URL, overwrite"`
	ReconnectDelay time.Duration `env:"RECONNECT_DELAY, overwrite"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT, overwrite"`
}

type DispatchConfig struct {
	QueueSize    int           `env:"QUEUE_SIZE, overwrite"`
	Workers      int           `env:"WORKERS, overwrite"`
	BatchSize    int           `env:"BATCH_SIZE, overwrite"`
	BatchTimeout time.Duration `env:"BATCH_TIMEOUT, overwrite"`
	SendTimeout  time.Duration `env:"SEND_TIMEOUT, overwrite"`
	// Redelivery attempts from the outbox before an event is abandoned
	MaxAttempts int `env:"MAX_ATTEMPTS, overwrite"`
}

type SweepConfig struct {
	Enabled     bool          `env:"ENABLED, overwrite"`
	Interval    time.Duration `env:"INTERVAL, overwrite"`
	OutboxBatch int           `env:"OUTBOX_BATCH, overwrite"`
}

type WebPushConfig struct {
	PublicKey  string `env:"PUBLIC_KEY, overwrite"`
	PrivateKey string `env:"PRIVATE_KEY, overwrite"`
	Subscriber string `env:"SUBSCRIBER, overwrite"`
	TTL        int    `env:"TTL, overwrite"`
}

type TelegramConfig struct {
	BotToken string `env:"BOT_TOKEN, overwrite"`
}

var (
	ErrUnknownDriver     = errors.New("unknown database driver")
	ErrUnknownFeedSource = errors.New("unknown feed source")
	ErrMissingDSN        = errors.New("postgres driver requires DB_DSN")
	ErrMissingBrokers    = errors.New("kafka requires at least one broker")
)

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		Env:      "production",
		LogLevel: "info",
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			MaxBodySize:  1 << 20,
		},
		Kafka: KafkaConfig{
			Brokers:   []string{"localhost:9092"},
			Topic:     "pricewatch.deliveries",
			TickTopic: "pricewatch.ticks",
			GroupID:   "pricewatch",
			Producer: ProducerConfig{
				PoolSize:     2,
				BatchSize:    100,
				BatchTimeout: 50 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: 1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "pricewatch:",
		},
		Feed: FeedConfig{
			Source:         "poll",
			Symbols:        []string{"BTCUSDT", "ETHUSDT"},
			Interval:       string(models.Interval5m),
			PollInterval:   15 * time.Second,
			RESTBaseURL:    "https://api.binance.com",
			StreamURL:      "wss://stream.binance.com:9443/ws",
			ReconnectDelay: 5 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Dispatch: DispatchConfig{
			QueueSize:    1000,
			Workers:      4,
			BatchSize:    20,
			BatchTimeout: 100 * time.Millisecond,
			SendTimeout:  10 * time.Second,
			MaxAttempts:  5,
		},
		Sweep: SweepConfig{
			Enabled:     true,
			Interval:    5 * time.Minute,
			OutboxBatch: 100,
		},
		WebPush: WebPushConfig{
			Subscriber: "mailto:alerts@pricewatch.local",
			TTL:        3600,
		},
	}
}

// Load reads envFile (when present) into the process environment and then
// overlays environment variables on top of Default.
func Load(ctx context.Context, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return ErrMissingDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Database.Driver)
	}

	switch c.Feed.Source {
	case "poll", "stream", "none":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return ErrMissingBrokers
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFeedSource, c.Feed.Source)
	}

	if _, err := models.ParseInterval(c.Feed.Interval); err != nil {
		return fmt.Errorf("feed interval %q: %w", c.Feed.Interval, err)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return ErrMissingBrokers
	}

	return nil
}
