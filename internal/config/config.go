package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"flirtmarket/internal/reward"
)

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config is the root service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Gate     GateConfig     `mapstructure:"gate"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Rewards  RewardsConfig  `mapstructure:"rewards"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled         bool             `mapstructure:"enabled"`
	Brokers         []string         `mapstructure:"brokers"`
	Topic           KafkaTopicConfig `mapstructure:"topic"`
	MaxRetryCount   int              `mapstructure:"max_retry_count"`
	PollInterval    time.Duration    `mapstructure:"poll_interval"`
	BatchSize       int              `mapstructure:"batch_size"`
	RequeueInterval time.Duration    `mapstructure:"requeue_interval"`
	RequeueAfter    time.Duration    `mapstructure:"requeue_after"`
}

type KafkaTopicConfig struct {
	Ledger string `mapstructure:"ledger"`
	Reward string `mapstructure:"reward"`
}

type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	WorkerID int64  `mapstructure:"worker_id"`
}

type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	InternalKey string        `mapstructure:"internal_key"`
}

type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

type GateConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// PricingConfig maps a content kind (the part of a content id before ':')
// to its cost in coins.
type PricingConfig struct {
	Coins map[string]int64 `mapstructure:"coins"`
}

type RewardsConfig struct {
	TimeZone string                       `mapstructure:"time_zone"`
	Tables   map[string]reward.PrizeTable `mapstructure:"tables"`
}

// Location resolves the configured reward day zone, UTC when unset.
func (c RewardsConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.TimeZone)
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("redis.cache_ttl", 30*time.Second)
	v.SetDefault("kafka.topic.ledger", "zyra.ledger")
	v.SetDefault("kafka.topic.reward", "zyra.reward")
	v.SetDefault("kafka.max_retry_count", 5)
	v.SetDefault("kafka.poll_interval", 100*time.Millisecond)
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.requeue_interval", time.Minute)
	v.SetDefault("kafka.requeue_after", 10*time.Minute)
	v.SetDefault("storage.driver", DriverMySQL)
	v.SetDefault("storage.worker_id", 1)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("telegram.max_age", time.Hour)
	v.SetDefault("gate.timeout", 10*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads the YAML file at path (optional when empty), applies a .env file
// if present and lets ZYRA_* environment variables override any key.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ZYRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMySQL, DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret is required")
	}
	if c.Gate.Timeout <= 0 {
		return errors.New("config: gate.timeout must be positive")
	}
	for kind, price := range c.Pricing.Coins {
		if price < 0 {
			return fmt.Errorf("config: negative price for %q", kind)
		}
	}
	for source, table := range c.Rewards.Tables {
		if err := table.Validate(); err != nil {
			return fmt.Errorf("config: rewards table %q: %w", source, err)
		}
	}
	if _, err := c.Rewards.Location(); err != nil {
		return fmt.Errorf("config: rewards.time_zone: %w", err)
	}
	return nil
}
