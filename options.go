package schema_migrator

import (
	"io"
	"log/slog"
	"time"

	"github.com/Maksumys/schema-migrator/internal/repository"
	"github.com/Maksumys/schema-migrator/schema"
)

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithLogWriter пишет журнал в текстовом виде в w, например в logrus.StandardLogger().Writer().
func WithLogWriter(w io.Writer) Option {
	return func(c *Coordinator) {
		c.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}

// WithCreateStatements задает выражения, выполняемые при первой инициализации схемы.
func WithCreateStatements(statements ...string) Option {
	return func(c *Coordinator) {
		c.createStatements = append(c.createStatements, statements...)
	}
}

// WithSnapshot строит выражения первой инициализации из снимка схемы в порядке зависимостей.
func WithSnapshot(snapshot schema.Snapshot) Option {
	return func(c *Coordinator) {
		c.snapshot = &snapshot
	}
}

func WithLedgerTable(table string) Option {
	return func(c *Coordinator) {
		c.ledgerTable = table
	}
}

// WithLockLease позволяет перехватить флаг блокировки, установленный раньше, чем lease назад.
// По умолчанию флаг не истекает.
func WithLockLease(lease time.Duration) Option {
	return func(c *Coordinator) {
		c.lockLease = lease
	}
}

func withStore(store repository.Store) Option {
	return func(c *Coordinator) {
		c.store = store
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}
