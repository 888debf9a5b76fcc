package schema_migrator

import (
	"context"

	"gorm.io/gorm"

	"github.com/Maksumys/schema-migrator/schema"
)

// GenesisVersion - версия, в которую схему переводит начальный набор CREATE-выражений.
const GenesisVersion = 1

// Handles передаются шагу миграции: Tx - текущая транзакция шага, DB - соединение вне ее
// (например, для операций, которым нужна автономная транзакция).
type Handles struct {
	Tx *gorm.DB
	DB *gorm.DB
}

// Step переводит схему из версии N-1 в N. Возвращенные выражения выполняются в той же транзакции.
type Step func(ctx context.Context, h Handles) ([]string, error)

// MigrationSet сопоставляет версии (начиная с 2) шагам миграции.
// Пропуски в нумерации обнаруживаются только при попытке применить отсутствующую версию.
type MigrationSet map[int]Step

// Latest возвращает максимальную известную версию либо GenesisVersion для пустого набора.
func (s MigrationSet) Latest() int {
	latest := GenesisVersion
	for version := range s {
		if version > latest {
			latest = version
		}
	}
	return latest
}

// Statements - шаг, состоящий только из готовых выражений.
func Statements(statements ...string) Step {
	return func(context.Context, Handles) ([]string, error) {
		return statements, nil
	}
}

// FromDiff строит шаг из разницы двух снимков схемы. Разница вычисляется сразу,
// чтобы ошибки конфигурации проявились при регистрации, а не при миграции.
func FromDiff(from, to schema.Snapshot, opts schema.DiffOptions) (Step, error) {
	statements, err := schema.Diff(from, to, opts)
	if err != nil {
		return nil, err
	}
	return Statements(statements...), nil
}
