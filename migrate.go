package schema_migrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/Maksumys/schema-migrator/internal/repository"
)

type stepOutcome int

const (
	stepApplied stepOutcome = iota
	// другой экземпляр уже продвинул версию
	stepAdvanced
	// версией владеет другой экземпляр
	stepLocked
	stepMissingRecord
)

type stepResult struct {
	outcome stepOutcome
	version int
}

// Init создает реестр версий при необходимости и загружает текущую версию схемы.
// При первом запуске схема регистрируется сразу на последней известной версии набора миграций,
// а начальные CREATE-выражения выполняются в той же транзакции. Выигрывает транзакция,
// первой вставившая запись; остальные экземпляры получают нарушение уникальности
// и просто принимают сохраненную версию.
func (c *Coordinator) Init(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.initialized {
		return ErrAlreadyInitialized
	}

	latest := c.migrations.Latest()
	version := 0
	genesis := false

	err := c.store.Transaction(ctx, func(tx repository.Tx) error {
		if err := tx.CreateTable(); err != nil {
			return fmt.Errorf("create ledger table: %w", err)
		}

		record, err := tx.Find(c.name, false)
		if err == nil {
			version = record.Version
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("read version of %s: %w", c.name, err)
		}

		if err = tx.Insert(c.name, latest); err != nil {
			return fmt.Errorf("register %s: %w", c.name, err)
		}
		for i, statement := range c.createStatements {
			if err = tx.Exec(statement); err != nil {
				return fmt.Errorf("create statement %d of %s: %w", i+1, c.name, err)
			}
		}

		version = latest
		genesis = true
		return nil
	})

	switch {
	case err == nil:
	case repository.IsUniqueViolation(err):
		c.logger.Info("schema initialized concurrently by another node", "schema", c.name)
		record, findErr := c.store.Find(ctx, c.name)
		if findErr != nil {
			return fmt.Errorf("read version of %s after concurrent init: %w", c.name, findErr)
		}
		version = record.Version
	default:
		return err
	}

	if genesis {
		c.logger.Info("schema created", "schema", c.name, "version", version, "statements", len(c.createStatements))
	} else {
		c.logger.Info("schema loaded", "schema", c.name, "version", version)
	}

	c.version = version
	c.initialized = true
	return nil
}

// MigrateLatest применяет все шаги до максимальной версии набора.
// Для набора без шагов применять нечего: схема уже на версии GenesisVersion.
func (c *Coordinator) MigrateLatest(ctx context.Context) error {
	latest := c.migrations.Latest()
	if latest == GenesisVersion {
		if !c.Initialized() {
			return ErrNotInitialized
		}
		return nil
	}
	return c.MigrateToVersion(ctx, latest)
}

// MigrateToVersion последовательно применяет шаги от текущей версии до target, каждый в своей транзакции.
// Уже достигнутая версия - не ошибка. При ошибке шага уже примененные шаги остаются,
// реестр указывает на последний успешный, оставшиеся шаги не выполняются.
func (c *Coordinator) MigrateToVersion(ctx context.Context, target int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.initialized {
		return ErrNotInitialized
	}
	if target <= GenesisVersion {
		return fmt.Errorf("%w: got %d", ErrInvalidTargetVersion, target)
	}

	for c.version < target {
		next := c.version + 1

		result, err := c.migrateStep(ctx, next)
		if err != nil {
			c.logger.Error("migration failed", "schema", c.name, "version", next, "error", err)
			return err
		}

		switch result.outcome {
		case stepApplied:
			c.logger.Info("migration applied", "schema", c.name, "version", next)
			c.version = next
		case stepAdvanced:
			c.logger.Info("migration already applied by another node", "schema", c.name, "version", result.version)
			c.version = result.version
		case stepLocked:
			c.logger.Warn("migration is held by another node, stopping", "schema", c.name, "version", next)
			return nil
		case stepMissingRecord:
			c.logger.Warn("version record disappeared, stopping", "schema", c.name, "version", next)
			return nil
		}
	}

	return nil
}

// migrateStep выполняет один переход в отдельной транзакции:
// блокировка реестра, чтение записи с FOR UPDATE, флаг locked, шаг, запись версии.
func (c *Coordinator) migrateStep(ctx context.Context, version int) (stepResult, error) {
	var (
		result  stepResult
		stepErr error
	)

	err := c.store.Transaction(ctx, func(tx repository.Tx) error {
		if err := tx.LockTable(); err != nil {
			return fmt.Errorf("lock ledger table: %w", err)
		}

		record, err := tx.Find(c.name, true)
		if errors.Is(err, repository.ErrNotFound) {
			result.outcome = stepMissingRecord
			return nil
		}
		if err != nil {
			return fmt.Errorf("read version of %s: %w", c.name, err)
		}

		if record.Version >= version {
			result = stepResult{outcome: stepAdvanced, version: record.Version}
			return nil
		}
		if record.Locked {
			if !record.LockExpired(c.now(), c.lockLease) {
				result.outcome = stepLocked
				return nil
			}
			c.logger.Warn("reclaiming stale migration lock", "schema", c.name, "locked_at", record.LockedAt.Time)
		}

		if err = tx.Lock(c.name, c.now()); err != nil {
			return fmt.Errorf("set lock flag: %w", err)
		}

		step, ok := c.migrations[version]
		if !ok {
			// снятие флага фиксируется, несмотря на ошибку, чтобы повторный запуск мог продолжить
			if err = tx.Unlock(c.name); err != nil {
				return fmt.Errorf("release lock flag: %w", err)
			}
			stepErr = fmt.Errorf("%w: schema %s version %d", ErrMigrationNotFound, c.name, version)
			return nil
		}

		statements, err := step(ctx, Handles{Tx: tx.DB(), DB: c.store.DB()})
		if err != nil {
			return fmt.Errorf("migration %d of %s: %w", version, c.name, err)
		}
		for i, statement := range statements {
			if err = tx.Exec(statement); err != nil {
				return fmt.Errorf("migration %d of %s, statement %d: %w", version, c.name, i+1, err)
			}
		}

		if err = tx.SaveVersion(c.name, version); err != nil {
			return fmt.Errorf("save version %d of %s: %w", version, c.name, err)
		}

		result.outcome = stepApplied
		return nil
	})
	if err != nil {
		return result, err
	}

	return result, stepErr
}
