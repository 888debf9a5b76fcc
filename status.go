package schema_migrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Maksumys/schema-migrator/internal/repository"
)

// Status описывает сохраненное состояние схемы и шаги, оставшиеся до целевой версии.
type Status struct {
	Schema string
	// Registered ложно, если схема еще не создавалась: тогда Init выполнит начальные выражения
	// и сразу запишет последнюю версию.
	Registered bool
	Current    int
	Target     int
	Locked     bool
	LockedAt   *time.Time
	Pending    []int
	// Missing - версии из Pending, для которых не зарегистрирован шаг.
	Missing []int
}

func (s Status) UpToDate() bool {
	return s.Registered && len(s.Pending) == 0
}

// Status - состояние относительно последней версии набора.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	return c.StatusAt(ctx, c.migrations.Latest())
}

// StatusAt читает сохраненную версию без блокировок, поэтому результат носит справочный характер:
// к моменту миграции другой экземпляр может продвинуть версию.
func (c *Coordinator) StatusAt(ctx context.Context, target int) (Status, error) {
	status := Status{Schema: c.name, Target: target}

	if !c.store.HasTable(ctx) {
		return status, nil
	}

	record, err := c.store.Find(ctx, c.name)
	if errors.Is(err, repository.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read version of %s: %w", c.name, err)
	}

	status.Registered = true
	status.Current = record.Version
	status.Locked = record.Locked
	if record.LockedAt != nil {
		lockedAt := record.LockedAt.Time
		status.LockedAt = &lockedAt
	}

	for version := record.Version + 1; version <= target; version++ {
		status.Pending = append(status.Pending, version)
		if _, ok := c.migrations[version]; !ok {
			status.Missing = append(status.Missing, version)
		}
	}

	return status, nil
}
