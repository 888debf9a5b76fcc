package schema_migrator

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const envPrefix = "SCHEMA_MIGRATOR_"

type Config struct {
	DSN         string        `env:"DSN,required,notEmpty"`
	Schema      string        `env:"SCHEMA" envDefault:"default"`
	LedgerTable string        `env:"LEDGER_TABLE" envDefault:"schema_versions"`
	LockLease   time.Duration `env:"LOCK_LEASE" envDefault:"0s"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig читает конфигурацию из переменных окружения с префиксом SCHEMA_MIGRATOR_.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Open подключается к PostgreSQL. Ошибки драйвера переводятся в ошибки gorm (gorm.ErrDuplicatedKey и т.п.).
func (c Config) Open() (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  c.DSN,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func (c Config) Logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// Options переводит конфигурацию в опции координатора.
func (c Config) Options() ([]Option, error) {
	log, err := c.Logger()
	if err != nil {
		return nil, err
	}
	return []Option{
		WithLogger(log),
		WithLedgerTable(c.LedgerTable),
		WithLockLease(c.LockLease),
	}, nil
}
