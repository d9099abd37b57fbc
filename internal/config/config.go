package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/rl1809/stock-ledger/internal/platform/tls"
)

const ServiceName = "stock-ledger"

const (
	StoreMySQL    = "mysql"
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"
)

type Config struct {
	HTTPPort string `envconfig:"HTTP_PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"50051"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	Store string `envconfig:"STORE_BACKEND" default:"mysql"`

	// Embedded so envconfig reads their tags without a field-name prefix.
	MySQLConfig
	RedisConfig
	DynamoDBConfig
	KafkaConfig
	RelayConfig
	CommandConfig
	tls.TLSConfig

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

type MySQLConfig struct {
	DSN             string        `envconfig:"MYSQL_DSN" default:"root:root@tcp(localhost:3306)/stockledger?parseTime=true"`
	MaxOpenConns    int           `envconfig:"MYSQL_MAX_OPEN_CONNS" default:"50"`
	MaxIdleConns    int           `envconfig:"MYSQL_MAX_IDLE_CONNS" default:"25"`
	ConnMaxLifetime time.Duration `envconfig:"MYSQL_CONN_MAX_LIFETIME" default:"5m"`
	AutoMigrate     bool          `envconfig:"MYSQL_AUTO_MIGRATE" default:"true"`
}

type RedisConfig struct {
	Enabled     bool          `envconfig:"REDIS_ENABLED" default:"false"`
	Addr        string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	PoolSize    int           `envconfig:"REDIS_POOL_SIZE" default:"100"`
	SnapshotTTL time.Duration `envconfig:"REDIS_SNAPSHOT_TTL" default:"10m"`
}

type DynamoDBConfig struct {
	Table    string `envconfig:"DYNAMODB_TABLE" default:"stock-ledger"`
	Region   string `envconfig:"AWS_REGION" default:"ap-northeast-2"`
	Endpoint string `envconfig:"DYNAMODB_ENDPOINT"`
}

type KafkaConfig struct {
	Enabled      bool          `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers      []string      `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	Topic        string        `envconfig:"KAFKA_TOPIC" default:"stock-events"`
	BatchTimeout time.Duration `envconfig:"KAFKA_BATCH_TIMEOUT" default:"10ms"`
	BatchSize    int           `envconfig:"KAFKA_BATCH_SIZE" default:"100"`
}

type RelayConfig struct {
	Workers   int `envconfig:"RELAY_WORKERS" default:"4"`
	QueueSize int `envconfig:"RELAY_QUEUE_SIZE" default:"10000"`
}

type CommandConfig struct {
	MaxAttempts       int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	Backoff           time.Duration `envconfig:"RETRY_BACKOFF" default:"10ms"`
	IdempotencyTTL    time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	LowStockThreshold string        `envconfig:"LOW_STOCK_THRESHOLD" default:"10"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMySQL, StoreDynamoDB, StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	if c.KafkaConfig.Enabled && len(c.Brokers) == 0 {
		return errors.New("kafka enabled without brokers")
	}
	if c.Workers <= 0 {
		return errors.New("relay workers must be positive")
	}
	return nil
}
