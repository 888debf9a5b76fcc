package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Maksumys/schema-migrator/ddl"
	"github.com/Maksumys/schema-migrator/internal/models"
)

const uniqueViolation = "23505"

var ErrNotFound = errors.New("version record not found")

// Store - реестр версий. Все изменения записей выполняются внутри Transaction.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Tx) error) error
	// Find читает запись без блокировок.
	Find(ctx context.Context, name string) (models.VersionRecord, error)
	HasTable(ctx context.Context) bool
	// DB - соединение вне транзакции.
	DB() *gorm.DB
}

// Tx - операции реестра в рамках одной транзакции.
type Tx interface {
	CreateTable() error
	// LockTable берет исключительную блокировку всей таблицы реестра до конца транзакции.
	LockTable() error
	Find(name string, forUpdate bool) (models.VersionRecord, error)
	Insert(name string, version int) error
	Lock(name string, at time.Time) error
	Unlock(name string) error
	// SaveVersion записывает версию и снимает флаг блокировки.
	SaveVersion(name string, version int) error
	Exec(statement string) error
	DB() *gorm.DB
}

type gormStore struct {
	db    *gorm.DB
	table string
}

func NewStore(db *gorm.DB, table string) Store {
	if table == "" {
		table = models.DefaultLedgerTable
	}
	return &gormStore{db: db, table: table}
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx, table: s.table})
	})
}

func (s *gormStore) Find(ctx context.Context, name string) (models.VersionRecord, error) {
	return FindRecord(s.db.WithContext(ctx), s.table, name, false)
}

func (s *gormStore) HasTable(ctx context.Context) bool {
	return HasLedgerTable(s.db.WithContext(ctx), s.table)
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

type gormTx struct {
	db    *gorm.DB
	table string
}

func (t *gormTx) CreateTable() error { return CreateLedgerTable(t.db, t.table) }
func (t *gormTx) LockTable() error { return LockLedgerTable(t.db, t.table) }
func (t *gormTx) Insert(name string, version int) error { return InsertRecord(t.db, t.table, name, version) }
func (t *gormTx) Lock(name string, at time.Time) error { return SetLocked(t.db, t.table, name, &at) }
func (t *gormTx) Unlock(name string) error { return SetLocked(t.db, t.table, name, nil) }
func (t *gormTx) Exec(statement string) error { return t.db.Exec(statement).Error }
func (t *gormTx) DB() *gorm.DB { return t.db }

func (t *gormTx) Find(name string, forUpdate bool) (models.VersionRecord, error) {
	return FindRecord(t.db, t.table, name, forUpdate)
}

func (t *gormTx) SaveVersion(name string, version int) error {
	return SaveVersion(t.db, t.table, name, version)
}

func CreateLedgerTable(db *gorm.DB, table string) error {
	return db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			version INTEGER NOT NULL CHECK (version >= 1),
			date_added TIMESTAMPTZ NOT NULL DEFAULT now(),
			locked BOOLEAN NOT NULL DEFAULT FALSE,
			locked_at TIMESTAMPTZ
		)
	`, ddl.QuoteIdentifier(table))).Error
}

func HasLedgerTable(db *gorm.DB, table string) bool {
	return db.Migrator().HasTable(table)
}

func LockLedgerTable(db *gorm.DB, table string) error {
	return db.Exec(fmt.Sprintf("LOCK TABLE %s IN EXCLUSIVE MODE", ddl.QuoteIdentifier(table))).Error
}

// FindRecord читает запись схемы. С forUpdate ждет, пока строку не отпустит другая транзакция.
func FindRecord(db *gorm.DB, table, name string, forUpdate bool) (models.VersionRecord, error) {
	var row models.VersionRecord

	query := db.Table(table).Where("name = ?", name)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	res := query.Take(&row)
	if res.Error != nil {
		switch {
		case errors.Is(res.Error, gorm.ErrRecordNotFound):
			return models.VersionRecord{}, ErrNotFound
		default:
			return models.VersionRecord{}, res.Error
		}
	}

	return row, nil
}

func InsertRecord(db *gorm.DB, table, name string, version int) error {
	return db.Table(table).Create(&models.VersionRecord{
		Name:      name,
		Version:   version,
		DateAdded: models.NewCustomTime(time.Now()),
	}).Error
}

func SetLocked(db *gorm.DB, table, name string, at *time.Time) error {
	values := map[string]interface{}{"locked": at != nil, "locked_at": nil}
	if at != nil {
		values["locked_at"] = models.NewCustomTime(*at)
	}
	return db.Table(table).Where("name = ?", name).Updates(values).Error
}

func SaveVersion(db *gorm.DB, table, name string, version int) error {
	return db.Table(table).Where("name = ?", name).Updates(map[string]interface{}{
		"version":   version,
		"locked":    false,
		"locked_at": nil,
	}).Error
}

// IsUniqueViolation распознает нарушение уникальности: код PostgreSQL 23505
// либо ошибку, переведенную gorm при TranslateError.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
