package schema

import (
	"fmt"
	"strings"

	"github.com/Maksumys/schema-migrator/ddl"
)

// SortTableDependencies упорядочивает таблицы так, чтобы каждая шла после всех таблиц, на которые ссылается.
// При равенстве сохраняется порядок объявления. Цикл ссылок - ошибка конфигурации.
func SortTableDependencies(tables []ddl.Table) ([]ddl.Table, error) {
	index := make(map[string]int, len(tables))
	for i, table := range tables {
		if _, ok := index[table.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTable, table.Name)
		}
		index[table.Name] = i
	}

	// pending[i] - число еще не размещенных таблиц, на которые ссылается i
	pending := make([]int, len(tables))
	dependents := make([][]int, len(tables))
	for i, table := range tables {
		for _, dep := range table.Dependencies() {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %s -> %s", ErrUnknownReference, table.Name, dep)
			}
			pending[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	sorted := make([]ddl.Table, 0, len(tables))
	placed := make([]bool, len(tables))
	for len(sorted) < len(tables) {
		next := -1
		for i := range tables {
			if !placed[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(unplaced(tables, placed), ", "))
		}

		placed[next] = true
		sorted = append(sorted, tables[next])
		for _, dependent := range dependents[next] {
			pending[dependent]--
		}
	}

	return sorted, nil
}

// ComposeCreateTableStatements строит набор CREATE-выражений для всей схемы в безопасном порядке.
func ComposeCreateTableStatements(snapshot Snapshot) ([]string, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	sorted, err := SortTableDependencies(snapshot.Tables)
	if err != nil {
		return nil, err
	}

	var statements []string
	for _, table := range sorted {
		created, err := ddl.CreateTableStatements(table)
		if err != nil {
			return nil, err
		}
		statements = append(statements, created...)
	}
	return statements, nil
}

func unplaced(tables []ddl.Table, placed []bool) []string {
	var names []string
	for i, table := range tables {
		if !placed[i] {
			names = append(names, table.Name)
		}
	}
	return names
}
