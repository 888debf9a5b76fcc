package schema_migrator

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/Maksumys/schema-migrator/internal/models"
	"github.com/Maksumys/schema-migrator/internal/repository"
)

// memoryLedger эмулирует реестр версий: транзакции выполняются строго по очереди,
// при ошибке состояние откатывается.
type memoryLedger struct {
	mutex sync.Mutex

	tableCreated bool
	records      map[string]models.VersionRecord
	executed     []string

	// racingVersion имитирует другой узел, успевший зарегистрировать схему первым:
	// Insert завершается нарушением уникальности, а запись другого узла фиксируется.
	racingVersion int
	racing        *models.VersionRecord
	failOn        map[string]error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		records: map[string]models.VersionRecord{},
		failOn:  map[string]error{},
	}
}

// seed создает реестр с уже зарегистрированной схемой.
func (l *memoryLedger) seed(name string, version int) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.tableCreated = true
	l.records[name] = models.VersionRecord{
		Name:      name,
		Version:   version,
		DateAdded: models.NewCustomTime(time.Now()),
	}
}

func (l *memoryLedger) record(name string) (models.VersionRecord, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	record, ok := l.records[name]
	return record, ok
}

func (l *memoryLedger) update(name string, fn func(record *models.VersionRecord)) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	record := l.records[name]
	fn(&record)
	l.records[name] = record
}

func (l *memoryLedger) statements() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return append([]string(nil), l.executed...)
}

func (l *memoryLedger) Transaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	records := make(map[string]models.VersionRecord, len(l.records))
	for name, record := range l.records {
		records[name] = record
	}
	tableCreated := l.tableCreated

	tx := &memoryTx{ledger: l}
	if err := fn(tx); err != nil {
		l.records = records
		l.tableCreated = tableCreated
		if l.racing != nil {
			l.records[l.racing.Name] = *l.racing
			l.racing = nil
		}
		return err
	}

	l.executed = append(l.executed, tx.executed...)
	return nil
}

func (l *memoryLedger) Find(_ context.Context, name string) (models.VersionRecord, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	record, ok := l.records[name]
	if !ok {
		return models.VersionRecord{}, repository.ErrNotFound
	}
	return record, nil
}

func (l *memoryLedger) HasTable(context.Context) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.tableCreated
}

func (l *memoryLedger) DB() *gorm.DB {
	return nil
}

// memoryTx работает под мьютексом memoryLedger, захваченным в Transaction.
type memoryTx struct {
	ledger   *memoryLedger
	executed []string
}

func (t *memoryTx) CreateTable() error {
	t.ledger.tableCreated = true
	return nil
}

func (t *memoryTx) LockTable() error {
	return nil
}

func (t *memoryTx) Find(name string, _ bool) (models.VersionRecord, error) {
	record, ok := t.ledger.records[name]
	if !ok {
		return models.VersionRecord{}, repository.ErrNotFound
	}
	return record, nil
}

func (t *memoryTx) Insert(name string, version int) error {
	if t.ledger.racingVersion > 0 {
		t.ledger.racing = &models.VersionRecord{
			Name:      name,
			Version:   t.ledger.racingVersion,
			DateAdded: models.NewCustomTime(time.Now()),
		}
		t.ledger.racingVersion = 0
		return gorm.ErrDuplicatedKey
	}
	if _, ok := t.ledger.records[name]; ok {
		return gorm.ErrDuplicatedKey
	}

	t.ledger.records[name] = models.VersionRecord{
		Name:      name,
		Version:   version,
		DateAdded: models.NewCustomTime(time.Now()),
	}
	return nil
}

func (t *memoryTx) Lock(name string, at time.Time) error {
	record := t.ledger.records[name]
	lockedAt := models.NewCustomTime(at)
	record.Locked = true
	record.LockedAt = &lockedAt
	t.ledger.records[name] = record
	return nil
}

func (t *memoryTx) Unlock(name string) error {
	record := t.ledger.records[name]
	record.Locked = false
	record.LockedAt = nil
	t.ledger.records[name] = record
	return nil
}

func (t *memoryTx) SaveVersion(name string, version int) error {
	record := t.ledger.records[name]
	record.Version = version
	record.Locked = false
	record.LockedAt = nil
	t.ledger.records[name] = record
	return nil
}

func (t *memoryTx) Exec(statement string) error {
	if err := t.ledger.failOn[statement]; err != nil {
		return err
	}
	t.executed = append(t.executed, statement)
	return nil
}

func (t *memoryTx) DB() *gorm.DB {
	return nil
}
