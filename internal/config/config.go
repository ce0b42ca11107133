package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BusMemory = "memory"
	BusKafka  = "kafka"
	BusRedis  = "redis"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the process configuration, read from the environment.
type Config struct {
	LogMode  string
	LogLevel string

	BusDriver    string
	KafkaBrokers []string
	KafkaGroupID string
	RedisAddr    string
	RedisGroup   string
	RedisMaxLen  int

	StoreDriver string
	DatabaseURL string

	MaxDeliveries       int
	ConsumerConcurrency int
	HandlerTimeout      time.Duration
	ShutdownTimeout     time.Duration

	ConflictMaxAttempts int
	ConflictBackoff     time.Duration

	BrokerConnectAttempts int
	BrokerConnectDelay    time.Duration
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}
	cfg := Config{
		LogMode:  String("LOG_MODE", "development"),
		LogLevel: String("LOG_LEVEL", ""),

		BusDriver:    strings.ToLower(String("BUS_DRIVER", BusMemory)),
		KafkaBrokers: Strings("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: String("KAFKA_GROUP_ID", "ledger-consolidation"),
		RedisAddr:    String("REDIS_ADDR", "localhost:6379"),
		RedisGroup:   String("REDIS_GROUP", "ledger-consolidation"),
		RedisMaxLen:  Int("REDIS_STREAM_MAXLEN", 100000),

		StoreDriver: strings.ToLower(String("STORE_DRIVER", StoreMemory)),
		DatabaseURL: String("DATABASE_URL", ""),

		MaxDeliveries:       Int("MAX_DELIVERIES", 5),
		ConsumerConcurrency: Int("CONSUMER_CONCURRENCY", 4),
		HandlerTimeout:      Duration("HANDLER_TIMEOUT", 30*time.Second),
		ShutdownTimeout:     Duration("SHUTDOWN_TIMEOUT", 30*time.Second),

		ConflictMaxAttempts: Int("CONFLICT_MAX_ATTEMPTS", 3),
		ConflictBackoff:     Duration("CONFLICT_BACKOFF", 100*time.Millisecond),

		BrokerConnectAttempts: Int("BROKER_CONNECT_ATTEMPTS", 5),
		BrokerConnectDelay:    Duration("BROKER_CONNECT_DELAY", 5*time.Second),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.BusDriver {
	case BusMemory, BusKafka, BusRedis:
	default:
		return errors.New("BUS_DRIVER must be one of memory, kafka, redis")
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return errors.New("STORE_DRIVER must be one of memory, postgres")
	}
	if c.BusDriver == BusKafka && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when BUS_DRIVER=kafka")
	}
	if c.MaxDeliveries < 1 || c.ConflictMaxAttempts < 1 || c.BrokerConnectAttempts < 1 {
		return errors.New("MAX_DELIVERIES, CONFLICT_MAX_ATTEMPTS and BROKER_CONNECT_ATTEMPTS must be positive")
	}
	if c.BusDriver == BusRedis && c.RedisMaxLen < 1 {
		return errors.New("REDIS_STREAM_MAXLEN must be positive")
	}
	if c.ConsumerConcurrency < 1 {
		return errors.New("CONSUMER_CONCURRENCY must be positive")
	}
	return nil
}

func String(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func Int(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func Duration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Strings reads a comma separated list, dropping empty items.
func Strings(name string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
