package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App       App      `yaml:"app"`
	HTTP      HTTP     `yaml:"http"`
	Log       Log      `yaml:"log"`
	Postgres  Postgres `yaml:"postgres"`
	Redis     Redis    `yaml:"redis"`
	Kafka     Kafka    `yaml:"kafka"`
	EventLog  EventLog `yaml:"eventlog"`
	Relay     Relay    `yaml:"relay"`
	Notifier  Consumer `yaml:"notifier"`
	Analytics Consumer `yaml:"analytics"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"orderpipe-api"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"orderpipe_db"`
}

type Redis struct {
	Addr        string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" env-default:"5s"`
}

type Kafka struct {
	Brokers      []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	DLQTopic     string        `yaml:"dlq_topic" env:"KAFKA_DLQ_TOPIC" env-default:"orders-dead-letter"`
	MaxAttempts  int           `yaml:"max_attempts" env:"KAFKA_MAX_ATTEMPTS" env-default:"5"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"KAFKA_WRITE_TIMEOUT" env-default:"10s"`
}

type EventLog struct {
	// Partitions is fixed at provisioning time; changing it on an existing
	// log is rejected at startup.
	Partitions  int           `yaml:"partitions" env:"EVENTLOG_PARTITIONS" env-default:"8"`
	PollTimeout time.Duration `yaml:"poll_timeout" env:"EVENTLOG_POLL_TIMEOUT" env-default:"5s"`
	Retention   time.Duration `yaml:"retention" env:"EVENTLOG_RETENTION" env-default:"720h"`
}

type Relay struct {
	Interval    time.Duration `yaml:"interval" env:"RELAY_INTERVAL" env-default:"2s"`
	BatchSize   int           `yaml:"batch_size" env:"RELAY_BATCH_SIZE" env-default:"32"`
	MaxAttempts int           `yaml:"max_attempts" env:"RELAY_MAX_ATTEMPTS" env-default:"5"`
	Backoff     time.Duration `yaml:"backoff" env:"RELAY_BACKOFF" env-default:"500ms"`
}

type Consumer struct {
	GroupID      string        `yaml:"group_id" env-default:""`
	MaxRetries   int           `yaml:"max_retries" env-default:"5"`
	RetryForever bool          `yaml:"retry_forever" env-default:"false"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env-default:"200ms"`
	ApplyTimeout time.Duration `yaml:"apply_timeout" env-default:"30s"`
	FetchBatch   int           `yaml:"fetch_batch" env-default:"64"`
	LeaseTTL     time.Duration `yaml:"lease_ttl" env-default:"15s"`
	DrainGrace   time.Duration `yaml:"drain_grace" env-default:"10s"`
	MetricsPort  string        `yaml:"metrics_port" env-default:"9090"`
}

func New() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else {
		// Allow env vars to override config file
		cleanenv.ReadEnv(cfg)
	}

	return cfg, nil
}
