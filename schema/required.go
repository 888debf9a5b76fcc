package schema

import (
	"errors"
	"fmt"

	"github.com/Maksumys/schema-migrator/ddl"
)

var ErrPrimaryKeyColumn = errors.New("primary key column can not be added or replaced in place, recreate the table")

// ReplacedColumnName - имя, под которым исходная колонка живет, пока в новую переносятся данные.
func ReplacedColumnName(column string) string {
	return column + "_replaced"
}

// AddRequiredColumn добавляет колонку как nullable, выполняет backfill и только затем ставит NOT NULL,
// чтобы существующие строки не нарушали ограничение посреди миграции.
func AddRequiredColumn(table string, column ddl.Column, backfill ...string) ([]string, error) {
	if column.PrimaryKey {
		return nil, fmt.Errorf("%s.%s: %w", table, column.Name, ErrPrimaryKeyColumn)
	}

	nullable := column
	nullable.Nullable = true
	statements, err := ddl.AddTableColumn(table, nullable, false)
	if err != nil {
		return nil, err
	}

	statements = append(statements, backfill...)
	if !column.Nullable {
		statements = append(statements, ddl.SetNotNull(table, column.Name))
	}
	return append(statements, ddl.ColumnIndexes(table, column)...), nil
}

// ReplaceTableColumn пересоздает колонку. Данные колонки теряются.
func ReplaceTableColumn(table string, column ddl.Column) ([]string, error) {
	if column.PrimaryKey {
		return nil, fmt.Errorf("%s.%s: %w", table, column.Name, ErrPrimaryKeyColumn)
	}

	statements := []string{ddl.DropTableColumn(table, column.Name, true)}
	added, err := ddl.AddTableColumn(table, column, false)
	if err != nil {
		return nil, err
	}
	statements = append(statements, added...)
	return append(statements, ddl.ColumnIndexes(table, column)...), nil
}

// ReplaceRequiredColumn заменяет колонку без потери данных: старая колонка переименовывается,
// новая добавляется как nullable, transfer переносит данные (старая колонка доступна как ReplacedColumnName),
// затем ставится NOT NULL и старая колонка удаляется.
func ReplaceRequiredColumn(table string, old, replacement ddl.Column, transfer ...string) ([]string, error) {
	if old.PrimaryKey || replacement.PrimaryKey {
		return nil, fmt.Errorf("%s.%s: %w", table, old.Name, ErrPrimaryKeyColumn)
	}

	aside := ReplacedColumnName(old.Name)

	var statements []string
	for i := range old.References {
		statements = append(statements, ddl.DropConstraint(table, ddl.ForeignKeyName(table, old.Name, i)))
	}
	if old.Unique {
		statements = append(statements, ddl.DropIndex(true, table, old.Name))
	}
	if old.Index {
		statements = append(statements, ddl.DropIndex(false, table, old.Name))
	}
	statements = append(statements, ddl.RenameColumn(table, old.Name, aside))

	required, err := AddRequiredColumn(table, replacement, transfer...)
	if err != nil {
		return nil, err
	}
	statements = append(statements, required...)

	return append(statements, ddl.DropTableColumn(table, aside, true)), nil
}
