// Package schema упорядочивает определения таблиц по внешним ключам
// и вычисляет разницу между двумя состояниями схемы.
package schema

import (
	"errors"
	"fmt"

	"github.com/Maksumys/schema-migrator/ddl"
)

var (
	ErrDependencyCycle  = errors.New("tables reference each other in a cycle")
	ErrUnknownReference = errors.New("foreign key references unknown table or column")
	ErrDuplicateTable   = errors.New("duplicate table name")
)

// Snapshot - именованный набор таблиц на момент времени.
type Snapshot struct {
	Name   string
	Tables []ddl.Table
}

func NewSnapshot(name string, tables ...ddl.Table) (Snapshot, error) {
	snapshot := Snapshot{Name: name, Tables: tables}
	if err := snapshot.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

func (s Snapshot) Table(name string) (ddl.Table, bool) {
	for _, table := range s.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return ddl.Table{}, false
}

// Validate проверяет таблицы и то, что каждый внешний ключ указывает на существующую колонку снимка.
func (s Snapshot) Validate() error {
	seen := make(map[string]struct{}, len(s.Tables))
	for _, table := range s.Tables {
		if err := table.Validate(); err != nil {
			return err
		}
		if _, ok := seen[table.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTable, table.Name)
		}
		seen[table.Name] = struct{}{}
	}

	for _, table := range s.Tables {
		for _, column := range table.Columns {
			for _, ref := range column.References {
				target, ok := s.Table(ref.Table)
				if !ok {
					return fmt.Errorf("%w: %s.%s -> %s", ErrUnknownReference, table.Name, column.Name, ref.Table)
				}
				if _, ok = target.Column(ref.Column); !ok {
					return fmt.Errorf("%w: %s.%s -> %s.%s", ErrUnknownReference, table.Name, column.Name, ref.Table, ref.Column)
				}
			}
		}
	}
	return nil
}
