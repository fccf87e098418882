package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Драйверы хранилища.
const (
	MemoryDriver   = "memory"
	PostgresDriver = "postgres"
)

// Config - структура для хранения конфигураций приложения
type Config struct {
	ServerAddress  string        `mapstructure:"SERVER_ADDRESS"`
	StorageDriver  string        `mapstructure:"STORAGE_DRIVER"`
	PostgresConn   string        `mapstructure:"POSTGRES_CONN"`
	MigrationURL   string        `mapstructure:"MIGRATION_URL"`
	RedisAddr      string        `mapstructure:"REDIS_ADDR"`
	JWTSecret      string        `mapstructure:"JWT_SECRET"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	NegotiationTTL time.Duration `mapstructure:"NEGOTIATION_TTL"`
	FanoutRetries  int           `mapstructure:"FANOUT_RETRIES"`
	FanoutBackoff  time.Duration `mapstructure:"FANOUT_BACKOFF"`
	EventBuffer    int           `mapstructure:"EVENT_BUFFER"`
}

var defaults = map[string]any{
	"SERVER_ADDRESS":  "0.0.0.0:8080",
	"STORAGE_DRIVER":  MemoryDriver,
	"POSTGRES_CONN":   "",
	"MIGRATION_URL":   "file://migrations",
	"REDIS_ADDR":      "",
	"JWT_SECRET":      "",
	"REQUEST_TIMEOUT": 5 * time.Second,
	"NEGOTIATION_TTL": 7 * 24 * time.Hour,
	"FANOUT_RETRIES":  3,
	"FANOUT_BACKOFF":  100 * time.Millisecond,
	"EVENT_BUFFER":    256,
}

// LoadConfig загружает конфигурацию из файла app.env в path и переменных окружения.
// Переменные окружения важнее файла, файла может не быть.
func LoadConfig(path string) (cfg Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
	}
	if err = v.Unmarshal(&cfg); err != nil {
		return
	}
	err = cfg.Validate()
	return
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case MemoryDriver:
	case PostgresDriver:
		if c.PostgresConn == "" {
			return errors.New("POSTGRES_CONN is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.RequestTimeout <= 0 || c.NegotiationTTL <= 0 {
		return errors.New("REQUEST_TIMEOUT and NEGOTIATION_TTL must be positive")
	}
	if c.FanoutRetries < 1 {
		return errors.New("FANOUT_RETRIES must be at least 1")
	}
	return nil
}
