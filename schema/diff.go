package schema

import (
	"fmt"
	"slices"

	"github.com/Maksumys/schema-migrator/ddl"
)

type DiffOptions struct {
	// Recreate - таблицы, которые пересоздаются целиком (данные теряются).
	Recreate []string
	// Backfill - выражения переноса данных по ключу BackfillKey(table, column).
	// Добавляемая NOT NULL колонка с backfill идет через AddRequiredColumn,
	// измененная колонка с backfill - через ReplaceRequiredColumn.
	Backfill map[string][]string
}

func BackfillKey(table, column string) string {
	return table + "." + column
}

// Diff вычисляет выражения, переводящие схему from в схему to.
//
// Порядок: удаляемые и пересоздаваемые таблицы (сначала зависимые); колонки общих таблиц в порядке
// зависимостей - добавленные, измененные и удаленные; создаваемые и пересоздаваемые таблицы
// (сначала те, на которые ссылаются); в конце внешние ключи колонок общих таблиц, когда все целевые
// таблицы и колонки уже существуют.
func Diff(from, to Snapshot, opts DiffOptions) ([]string, error) {
	if err := from.Validate(); err != nil {
		return nil, fmt.Errorf("old snapshot %s: %w", from.Name, err)
	}
	if err := to.Validate(); err != nil {
		return nil, fmt.Errorf("new snapshot %s: %w", to.Name, err)
	}

	recreate := make(map[string]bool, len(opts.Recreate))
	for _, name := range opts.Recreate {
		_, inOld := from.Table(name)
		_, inNew := to.Table(name)
		if !inOld || !inNew {
			return nil, fmt.Errorf("table %s must exist in both snapshots to be recreated", name)
		}
		recreate[name] = true
	}
	// первичный ключ на месте не меняется, такие таблицы пересоздаются
	for _, table := range to.Tables {
		if previous, ok := from.Table(table.Name); ok && primaryKeyChanged(previous, table) {
			recreate[table.Name] = true
		}
	}

	oldSorted, err := SortTableDependencies(from.Tables)
	if err != nil {
		return nil, fmt.Errorf("old snapshot %s: %w", from.Name, err)
	}
	newSorted, err := SortTableDependencies(to.Tables)
	if err != nil {
		return nil, fmt.Errorf("new snapshot %s: %w", to.Name, err)
	}

	var statements []string

	for i := len(oldSorted) - 1; i >= 0; i-- {
		table := oldSorted[i]
		if _, kept := to.Table(table.Name); kept && !recreate[table.Name] {
			continue
		}
		statements = append(statements, ddl.DropTable(table.Name, true)...)
	}

	plan := columnPlan{recreated: recreate, replaced: map[string]bool{}, opts: opts}
	for _, table := range newSorted {
		previous, ok := from.Table(table.Name)
		if !ok || recreate[table.Name] {
			continue
		}
		altered, err := plan.diffColumns(previous, table)
		if err != nil {
			return nil, err
		}
		statements = append(statements, altered...)
	}

	for _, table := range newSorted {
		if _, existed := from.Table(table.Name); existed && !recreate[table.Name] {
			continue
		}
		created, err := ddl.CreateTableStatements(table)
		if err != nil {
			return nil, err
		}
		statements = append(statements, created...)
	}

	for _, table := range newSorted {
		previous, ok := from.Table(table.Name)
		if !ok || recreate[table.Name] {
			continue
		}
		statements = append(statements, plan.references(previous, table)...)
	}

	return statements, nil
}

// columnPlan накапливает сведения, нужные для восстановления внешних ключей после изменения колонок.
type columnPlan struct {
	recreated map[string]bool
	// replaced - колонки, пересозданные с CASCADE, по ключу BackfillKey(table, column)
	replaced map[string]bool
	opts     DiffOptions
}

// diffColumns изменяет колонки общей таблицы. Внешние ключи здесь не создаются, их добавляет references.
func (p columnPlan) diffColumns(before, after ddl.Table) ([]string, error) {
	var statements []string

	for _, column := range after.Columns {
		if _, ok := before.Column(column.Name); ok {
			continue
		}
		bare := withoutReferences(column)
		backfill, hasBackfill := p.opts.Backfill[BackfillKey(after.Name, column.Name)]
		var (
			added []string
			err   error
		)
		if hasBackfill && !column.Nullable {
			added, err = AddRequiredColumn(after.Name, bare, backfill...)
		} else {
			added, err = ddl.AddTableColumn(after.Name, bare, false)
			added = append(added, ddl.ColumnIndexes(after.Name, bare)...)
		}
		if err != nil {
			return nil, err
		}
		statements = append(statements, added...)
	}

	for _, column := range after.Columns {
		previous, ok := before.Column(column.Name)
		if !ok || previous.Equal(column) {
			continue
		}
		if sameDefinition(previous, column) {
			statements = append(statements, indexChanges(after.Name, previous, column)...)
			if !slices.Equal(previous.References, column.References) {
				for i := range previous.References {
					statements = append(statements, ddl.DropConstraint(after.Name, ddl.ForeignKeyName(after.Name, column.Name, i)))
				}
			}
			continue
		}

		var (
			replaced []string
			err      error
		)
		bare := withoutReferences(column)
		if transfer, ok := p.opts.Backfill[BackfillKey(after.Name, column.Name)]; ok {
			replaced, err = ReplaceRequiredColumn(after.Name, previous, bare, transfer...)
		} else {
			replaced, err = ReplaceTableColumn(after.Name, bare)
		}
		if err != nil {
			return nil, err
		}
		p.replaced[BackfillKey(after.Name, column.Name)] = true
		statements = append(statements, replaced...)
	}

	for _, column := range before.Columns {
		if _, ok := after.Column(column.Name); ok {
			continue
		}
		statements = append(statements, ddl.DropTableColumn(after.Name, column.Name, true))
	}

	return statements, nil
}

// references добавляет внешние ключи новых и измененных колонок и восстанавливает те,
// которые снял CASCADE при пересоздании целевой таблицы или колонки.
func (p columnPlan) references(before, after ddl.Table) []string {
	var statements []string
	for _, column := range after.Columns {
		previous, existed := before.Column(column.Name)
		rebuilt := !existed || p.replaced[BackfillKey(after.Name, column.Name)] ||
			!slices.Equal(previous.References, column.References)

		for i, ref := range column.References {
			switch {
			case rebuilt:
				statements = append(statements, ddl.AddForeignKey(after.Name, column.Name, i, ref))
			case p.recreated[ref.Table] || p.replaced[BackfillKey(ref.Table, ref.Column)]:
				statements = append(statements,
					ddl.DropConstraint(after.Name, ddl.ForeignKeyName(after.Name, column.Name, i)),
					ddl.AddForeignKey(after.Name, column.Name, i, ref),
				)
			}
		}
	}
	return statements
}

func withoutReferences(column ddl.Column) ddl.Column {
	column.References = nil
	return column
}

// sameDefinition сравнивает колонки без учета индексов и внешних ключей:
// такие изменения применяются без пересоздания колонки.
func sameDefinition(before, after ddl.Column) bool {
	before.Index, before.Unique, before.References = false, false, nil
	after.Index, after.Unique, after.References = false, false, nil
	return before.Equal(after)
}

func indexChanges(table string, before, after ddl.Column) []string {
	var statements []string
	if before.Unique && !after.Unique {
		statements = append(statements, ddl.DropIndex(true, table, after.Name))
	}
	if before.Index && !after.Index {
		statements = append(statements, ddl.DropIndex(false, table, after.Name))
	}
	if after.Unique && !before.Unique {
		statements = append(statements, ddl.CreateIndex(true, table, after.Name))
	}
	if after.Index && !before.Index {
		statements = append(statements, ddl.CreateIndex(false, table, after.Name))
	}
	return statements
}

func primaryKeyChanged(before, after ddl.Table) bool {
	keys := after.PrimaryKey()
	if !slices.Equal(before.PrimaryKey(), keys) {
		return true
	}
	for _, name := range keys {
		previous, _ := before.Column(name)
		current, _ := after.Column(name)
		if !previous.Equal(current) {
			return true
		}
	}
	return false
}
