package ddl

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoPrimaryKey    = errors.New("table has no primary key column")
	ErrInvalidColumn   = errors.New("invalid column definition")
	ErrDuplicateColumn = errors.New("duplicate column name")
)

// Action - правило ссылочной целостности для ON DELETE / ON UPDATE.
type Action string

const (
	Cascade    Action = "CASCADE"
	Restrict   Action = "RESTRICT"
	NoAction   Action = "NO ACTION"
	SetNull    Action = "SET NULL"
	SetDefault Action = "SET DEFAULT"
)

func (a Action) valid() bool {
	switch a {
	case "", Cascade, Restrict, NoAction, SetNull, SetDefault:
		return true
	}
	return false
}

// ForeignKey ссылается на колонку другой таблицы. Владельцем ссылки является колонка, в которой она объявлена.
type ForeignKey struct {
	Table    string
	Column   string
	OnDelete Action
	OnUpdate Action
}

// Func - именованная функция БД, используемая как значение по умолчанию. Выводится без кавычек.
type Func string

const (
	CurrentTimestamp Func = "CURRENT_TIMESTAMP"
	CurrentDate      Func = "CURRENT_DATE"
	Now              Func = "now()"
	GenRandomUUID    Func = "gen_random_uuid()"
)

type Column struct {
	Name          string
	Type          DataType
	Nullable      bool
	PrimaryKey    bool
	Unique        bool
	AutoIncrement bool
	// Default - литерал (строка, число, время, json-значение) либо Func.
	Default    any
	References []ForeignKey
	Index      bool
}

func (c Column) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: empty column name", ErrInvalidColumn)
	}
	if err := c.Type.validate(); err != nil {
		return fmt.Errorf("%w: column %s: %v", ErrInvalidColumn, c.Name, err)
	}
	if c.AutoIncrement && !c.Type.isInteger() {
		return fmt.Errorf("%w: column %s: auto increment requires an integer type, got %s", ErrInvalidColumn, c.Name, c.Type)
	}
	if c.AutoIncrement && c.Default != nil {
		return fmt.Errorf("%w: column %s: auto increment column can not have a default", ErrInvalidColumn, c.Name)
	}
	if c.PrimaryKey && c.Nullable {
		return fmt.Errorf("%w: column %s: primary key column can not be nullable", ErrInvalidColumn, c.Name)
	}
	for _, ref := range c.References {
		if ref.Table == "" || ref.Column == "" {
			return fmt.Errorf("%w: column %s: foreign key without target", ErrInvalidColumn, c.Name)
		}
		if !ref.OnDelete.valid() || !ref.OnUpdate.valid() {
			return fmt.Errorf("%w: column %s: unknown referential action", ErrInvalidColumn, c.Name)
		}
	}
	if c.Default != nil {
		if _, err := Literal(c.Default); err != nil {
			return fmt.Errorf("%w: column %s: %v", ErrInvalidColumn, c.Name, err)
		}
	}
	return nil
}

// Equal сравнивает определения колонок. Значения по умолчанию сравниваются по их SQL-представлению.
func (c Column) Equal(other Column) bool {
	if c.Name != other.Name || !c.Type.Equal(other.Type) || c.Nullable != other.Nullable ||
		c.PrimaryKey != other.PrimaryKey || c.Unique != other.Unique ||
		c.AutoIncrement != other.AutoIncrement || c.Index != other.Index {
		return false
	}
	if len(c.References) != len(other.References) {
		return false
	}
	for i := range c.References {
		if c.References[i] != other.References[i] {
			return false
		}
	}
	left, _ := Literal(c.Default)
	right, _ := Literal(other.Default)
	return left == right
}

// Table - определение таблицы. Порядок колонок сохраняется для детерминированной генерации.
type Table struct {
	Name    string
	Columns []Column
}

// NewTable проверяет определение: колонки корректны, имена уникальны, есть хотя бы один первичный ключ.
func NewTable(name string, columns ...Column) (Table, error) {
	table := Table{Name: name, Columns: columns}
	if err := table.Validate(); err != nil {
		return Table{}, err
	}
	return table, nil
}

func MustTable(name string, columns ...Column) Table {
	table, err := NewTable(name, columns...)
	if err != nil {
		panic(err)
	}
	return table
}

func (t Table) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("table name is empty")
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, column := range t.Columns {
		if err := column.Validate(); err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}
		if _, ok := seen[column.Name]; ok {
			return fmt.Errorf("table %s: %w: %s", t.Name, ErrDuplicateColumn, column.Name)
		}
		seen[column.Name] = struct{}{}
	}
	if len(t.PrimaryKey()) == 0 {
		return fmt.Errorf("table %s: %w", t.Name, ErrNoPrimaryKey)
	}
	return nil
}

// PrimaryKey возвращает имена колонок первичного ключа в порядке объявления.
func (t Table) PrimaryKey() []string {
	var keys []string
	for _, column := range t.Columns {
		if column.PrimaryKey {
			keys = append(keys, column.Name)
		}
	}
	return keys
}

func (t Table) Column(name string) (Column, bool) {
	for _, column := range t.Columns {
		if column.Name == name {
			return column, true
		}
	}
	return Column{}, false
}

// Dependencies возвращает таблицы, на которые ссылается данная, без повторов и ссылок на себя.
func (t Table) Dependencies() []string {
	var deps []string
	seen := make(map[string]struct{})
	for _, column := range t.Columns {
		for _, ref := range column.References {
			if ref.Table == t.Name {
				continue
			}
			if _, ok := seen[ref.Table]; ok {
				continue
			}
			seen[ref.Table] = struct{}{}
			deps = append(deps, ref.Table)
		}
	}
	return deps
}
