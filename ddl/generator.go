// Package ddl формирует DDL-выражения PostgreSQL по декларативным определениям таблиц.
// Все функции пакета чистые: они только строят текст запросов и ничего не выполняют.
package ddl

import (
	"fmt"
	"strconv"
	"strings"
)

func PrimaryKeyName(table string, columns []string) string {
	return "PK_" + table + "_" + strings.Join(columns, "_")
}

// ForeignKeyName возвращает имя ограничения для n-й ссылки колонки. Первая ссылка суффикса не получает.
func ForeignKeyName(table, column string, n int) string {
	name := table + "_" + column + "_fkey"
	if n > 0 {
		name += strconv.Itoa(n)
	}
	return name
}

// IndexName - уникальные индексы получают инфикс u, чтобы не пересекаться с обычными на той же колонке.
func IndexName(unique bool, table, column string) string {
	if unique {
		return table + "_" + column + "_uindex"
	}
	return table + "_" + column + "_index"
}

// CreateTable формирует CREATE TABLE и следом CREATE INDEX для уникальных и индексируемых колонок.
// Без колонки первичного ключа возвращает ErrNoPrimaryKey и ни одного выражения.
func CreateTable(name string, columns ...Column) ([]string, error) {
	table, err := NewTable(name, columns...)
	if err != nil {
		return nil, err
	}

	clauses := make([]string, 0, len(table.Columns)+1)
	for _, column := range table.Columns {
		clause, err := columnClause(column)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		clauses = append(clauses, clause)
	}

	primaryKey := table.PrimaryKey()
	clauses = append(clauses, fmt.Sprintf(
		"CONSTRAINT %s PRIMARY KEY (%s)",
		QuoteIdentifier(PrimaryKeyName(name, primaryKey)), identifierList(primaryKey),
	))

	for _, column := range table.Columns {
		for i, ref := range column.References {
			clauses = append(clauses, foreignKeyClause(name, column.Name, i, ref))
		}
	}

	statements := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", QuoteIdentifier(name), strings.Join(clauses, ", ")),
	}
	for _, column := range table.Columns {
		statements = append(statements, ColumnIndexes(name, column)...)
	}

	return statements, nil
}

// CreateTableStatements - CreateTable для уже собранного определения.
func CreateTableStatements(table Table) ([]string, error) {
	return CreateTable(table.Name, table.Columns...)
}

// ColumnIndexes возвращает индексы, запрошенные колонкой.
func ColumnIndexes(table string, column Column) []string {
	var statements []string
	if column.Unique {
		statements = append(statements, CreateIndex(true, table, column.Name))
	}
	if column.Index {
		statements = append(statements, CreateIndex(false, table, column.Name))
	}
	return statements
}

// AddColumns добавляет колонки, затем ограничения внешних ключей для них.
func AddColumns(table string, columns ...Column) ([]string, error) {
	return addColumns(table, false, columns)
}

// AddTableColumn добавляет одну колонку, опционально с IF NOT EXISTS.
func AddTableColumn(table string, column Column, ifNotExists bool) ([]string, error) {
	return addColumns(table, ifNotExists, []Column{column})
}

func addColumns(table string, ifNotExists bool, columns []Column) ([]string, error) {
	modifier := ""
	if ifNotExists {
		modifier = "IF NOT EXISTS "
	}

	statements := make([]string, 0, len(columns))
	for _, column := range columns {
		if err := column.Validate(); err != nil {
			return nil, fmt.Errorf("table %s: %w", table, err)
		}
		clause, err := columnClause(column)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", table, err)
		}
		statements = append(statements, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s%s", QuoteIdentifier(table), modifier, clause))
	}

	for _, column := range columns {
		for i, ref := range column.References {
			statements = append(statements, AddForeignKey(table, column.Name, i, ref))
		}
	}

	return statements, nil
}

// AddForeignKey добавляет ограничение для n-й ссылки колонки.
func AddForeignKey(table, column string, n int, ref ForeignKey) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s", QuoteIdentifier(table), foreignKeyClause(table, column, n, ref))
}

// DropColumns удаляет колонки. Имена ограничений внешних ключей выводятся из объявленных ссылок,
// ограничения удаляются раньше колонок.
func DropColumns(table string, columns ...Column) []string {
	var constraints []string
	names := make([]string, 0, len(columns))
	for _, column := range columns {
		names = append(names, column.Name)
		for i := range column.References {
			constraints = append(constraints, ForeignKeyName(table, column.Name, i))
		}
	}
	return DropColumnsByName(table, names, constraints)
}

// DropColumnsByName используется, когда исходные определения колонок недоступны
// и имена ограничений приходится передавать явно.
func DropColumnsByName(table string, columns []string, constraints []string) []string {
	statements := make([]string, 0, len(columns)+len(constraints))
	for _, constraint := range constraints {
		statements = append(statements, DropConstraint(table, constraint))
	}
	for _, column := range columns {
		statements = append(statements, DropTableColumn(table, column, false))
	}
	return statements
}

func DropTableColumn(table, column string, cascade bool) string {
	statement := fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", QuoteIdentifier(table), QuoteIdentifier(column))
	if cascade {
		statement += " CASCADE"
	}
	return statement
}

func CreateIndex(unique bool, table, column string) string {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf(
		"CREATE %s IF NOT EXISTS %s ON %s (%s)",
		kind, QuoteIdentifier(IndexName(unique, table, column)), QuoteIdentifier(table), QuoteIdentifier(column),
	)
}

func DropIndex(unique bool, table, column string) string {
	return "DROP INDEX IF EXISTS " + QuoteIdentifier(IndexName(unique, table, column))
}

func DropConstraint(table, constraint string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", QuoteIdentifier(table), QuoteIdentifier(constraint))
}

func RenameColumn(table, from, to string) string {
	return fmt.Sprintf(
		"ALTER TABLE %s RENAME COLUMN %s TO %s", QuoteIdentifier(table), QuoteIdentifier(from), QuoteIdentifier(to),
	)
}

func SetNotNull(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", QuoteIdentifier(table), QuoteIdentifier(column))
}

func DropNotNull(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", QuoteIdentifier(table), QuoteIdentifier(column))
}

// DropTable удаляет таблицу. При dropConstraints сначала удаляются ограничения и индексы именно этой
// таблицы, имена которых начинаются с ее имени: часть из них создается базой автоматически
// и по определению колонок не выводится. Одноименные таблицы других схем не затрагиваются.
func DropTable(name string, dropConstraints bool) []string {
	if !dropConstraints {
		return []string{"DROP TABLE IF EXISTS " + QuoteIdentifier(name)}
	}

	prefix := QuoteLiteral(escapeLike(name) + `\_%`)
	relation := QuoteLiteral(QuoteIdentifier(name))
	dropDependents := fmt.Sprintf(`DO $$
DECLARE r record;
BEGIN
	FOR r IN SELECT con.conname FROM pg_constraint con WHERE con.conrelid = to_regclass(%[1]s) AND con.conname LIKE %[2]s LOOP
		EXECUTE format('ALTER TABLE %%s DROP CONSTRAINT IF EXISTS %%I', %[1]s, r.conname);
	END LOOP;
	FOR r IN SELECT ns.nspname, ic.relname FROM pg_index i
		JOIN pg_class ic ON ic.oid = i.indexrelid
		JOIN pg_namespace ns ON ns.oid = ic.relnamespace
		WHERE i.indrelid = to_regclass(%[1]s) AND ic.relname LIKE %[2]s LOOP
		EXECUTE format('DROP INDEX IF EXISTS %%I.%%I', r.nspname, r.relname);
	END LOOP;
END $$`, relation, prefix)

	return []string{dropDependents, "DROP TABLE IF EXISTS " + QuoteIdentifier(name) + " CASCADE"}
}

func columnClause(column Column) (string, error) {
	var b strings.Builder
	b.WriteString(QuoteIdentifier(column.Name))
	b.WriteByte(' ')
	b.WriteString(column.Type.keyword(column.AutoIncrement))
	if !column.Nullable {
		b.WriteString(" NOT NULL")
	}
	if column.Default != nil {
		literal, err := Literal(column.Default)
		if err != nil {
			return "", fmt.Errorf("column %s default: %w", column.Name, err)
		}
		b.WriteString(" DEFAULT ")
		b.WriteString(literal)
	}
	return b.String(), nil
}

func foreignKeyClause(table, column string, n int, ref ForeignKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		QuoteIdentifier(ForeignKeyName(table, column, n)), QuoteIdentifier(column),
		QuoteIdentifier(ref.Table), QuoteIdentifier(ref.Column),
	)
	if ref.OnDelete != "" {
		b.WriteString(" ON DELETE ")
		b.WriteString(string(ref.OnDelete))
	}
	if ref.OnUpdate != "" {
		b.WriteString(" ON UPDATE ")
		b.WriteString(string(ref.OnUpdate))
	}
	return b.String()
}

func identifierList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = QuoteIdentifier(name)
	}
	return strings.Join(quoted, ", ")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
