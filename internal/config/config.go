package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Scylla     ScyllaConfig     `mapstructure:"scylla"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthQuery     string        `mapstructure:"health_query"`
}

type ScyllaConfig struct {
	Hosts             []string      `mapstructure:"hosts"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DisableInitSchema bool          `mapstructure:"disable_init_schema"`
}

type KafkaConfig struct {
	Brokers                []string      `mapstructure:"brokers"`
	ClientID               string        `mapstructure:"client_id"`
	SendTopic              string        `mapstructure:"send_topic"`
	OutcomeTopic           string        `mapstructure:"outcome_topic"`
	ConsumerGroupID        string        `mapstructure:"consumer_group_id"`
	ReceiptConsumerGroupID string        `mapstructure:"receipt_consumer_group_id"`
	CommitInterval         time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	ServiceName       string        `mapstructure:"service_name"`
	SampleRatio       float64       `mapstructure:"sample_ratio"`
	MetricsInterval   time.Duration `mapstructure:"metrics_interval"`
	MetricsEnabled    bool          `mapstructure:"metrics_enabled"`
	TracingEnabled    bool          `mapstructure:"tracing_enabled"`
	Propagators       []string      `mapstructure:"propagators"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	CollectorProtocol string        `mapstructure:"collector_protocol"`
}

type DispatcherConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	ClaimBatchSize int           `mapstructure:"claim_batch_size"`
	QueueKey       string        `mapstructure:"queue_key"`
}

// ThrottleConfig bounds the static per-campaign pacing policy.
type ThrottleConfig struct {
	MinDelaySeconds     int `mapstructure:"min_delay_seconds"`
	MaxDelaySeconds     int `mapstructure:"max_delay_seconds"`
	DefaultDelaySeconds int `mapstructure:"default_delay_seconds"`
}

type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type WorkerConfig struct {
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("WACAMPAIGN")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// ClampDelay bounds a campaign delay to the configured throttle range.
func (t ThrottleConfig) ClampDelay(seconds int) int {
	min := t.MinDelaySeconds
	if min <= 0 {
		min = 2
	}
	max := t.MaxDelaySeconds
	if max < min {
		max = 10
	}
	if seconds <= 0 {
		if t.DefaultDelaySeconds > 0 {
			seconds = t.DefaultDelaySeconds
		} else {
			seconds = min
		}
	}
	if seconds < min {
		return min
	}
	if seconds > max {
		return max
	}
	return seconds
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
