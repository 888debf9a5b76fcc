package schema_migrator

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/Maksumys/schema-migrator/internal/models"
	"github.com/Maksumys/schema-migrator/internal/repository"
	"github.com/Maksumys/schema-migrator/schema"
)

var (
	ErrAlreadyInitialized   = errors.New("schema coordinator already initialized")
	ErrNotInitialized       = errors.New("schema coordinator not initialized, call Init first")
	ErrInvalidTargetVersion = errors.New("target version must be greater than 1")
	ErrMigrationNotFound    = errors.New("migration not found")
	ErrInvalidMigrationSet  = errors.New("migration versions must start at 2")
)

// Coordinator применяет пронумерованные шаги миграции одной схемы ровно один раз, даже если
// одновременно стартует несколько экземпляров приложения. Экземпляры согласуются только через
// реестр версий в базе, общего состояния в памяти у них нет.
type Coordinator struct {
	name       string
	migrations MigrationSet

	createStatements []string
	snapshot         *schema.Snapshot
	ledgerTable      string
	lockLease        time.Duration

	store  repository.Store
	logger *slog.Logger
	now    func() time.Time

	mutex       sync.Mutex
	initialized bool
	version     int
}

// NewCoordinator создает координатор схемы name. db используется и для реестра версий, и для шагов.
func NewCoordinator(db *gorm.DB, name string, migrations MigrationSet, opts ...Option) (*Coordinator, error) {
	coordinator := Coordinator{
		name:        name,
		migrations:  migrations,
		ledgerTable: models.DefaultLedgerTable,
		logger:      slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(&coordinator)
	}

	if name == "" {
		return nil, errors.New("schema name is required")
	}
	for version, step := range migrations {
		if version <= GenesisVersion {
			return nil, fmt.Errorf("%w: got %d", ErrInvalidMigrationSet, version)
		}
		if step == nil {
			return nil, fmt.Errorf("migration %d has no step function", version)
		}
	}

	if coordinator.snapshot != nil {
		statements, err := schema.ComposeCreateTableStatements(*coordinator.snapshot)
		if err != nil {
			return nil, fmt.Errorf("compose create statements for %s: %w", coordinator.snapshot.Name, err)
		}
		coordinator.createStatements = append(statements, coordinator.createStatements...)
	}

	if coordinator.store == nil {
		if db == nil {
			return nil, errors.New("database handle is required")
		}
		coordinator.store = repository.NewStore(db, coordinator.ledgerTable)
	}

	return &coordinator, nil
}

func (c *Coordinator) Name() string {
	return c.name
}

// Version возвращает версию, известную этому экземпляру.
func (c *Coordinator) Version() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.version
}

func (c *Coordinator) Initialized() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.initialized
}

func (c *Coordinator) LatestVersion() int {
	return c.migrations.Latest()
}
