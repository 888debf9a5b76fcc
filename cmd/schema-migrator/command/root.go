// Package command собирает дерево команд cobra для приложений, которые
// встраивают собственный набор миграций в свой бинарник.
package command

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	migrator "github.com/Maksumys/schema-migrator"
)

type runner struct {
	envFile string
	schema  string

	migrations migrator.MigrationSet
	opts       []migrator.Option

	db          *gorm.DB
	coordinator *migrator.Coordinator
}

// NewRootCommand возвращает команду с подкомандами migrate и status.
// Подключение настраивается переменными SCHEMA_MIGRATOR_*, которые можно положить в .env.
func NewRootCommand(migrations migrator.MigrationSet, opts ...migrator.Option) *cobra.Command {
	r := &runner{migrations: migrations, opts: opts}

	root := &cobra.Command{
		Use:   "schema-migrator",
		Short: "Apply numbered schema migrations exactly once across nodes",
		Long: `schema-migrator keeps a version ledger in PostgreSQL and applies the
registered migration steps one at a time, each in its own transaction.

Connection settings are read from SCHEMA_MIGRATOR_* environment variables,
optionally loaded from a .env file.`,
		SilenceUsage:      true,
		PersistentPreRunE: r.open,
	}

	root.PersistentFlags().StringVar(&r.envFile, "env-file", ".env", "file with SCHEMA_MIGRATOR_* variables, skipped if absent")
	root.PersistentFlags().StringVar(&r.schema, "schema", "", "schema name (default: SCHEMA_MIGRATOR_SCHEMA)")

	root.AddCommand(newMigrateCommand(r))
	root.AddCommand(newStatusCommand(r))

	return root
}

func (r *runner) open(cmd *cobra.Command, args []string) error {
	if r.envFile != "" {
		if err := godotenv.Load(r.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", r.envFile, err)
		}
	}

	cfg, err := migrator.LoadConfig()
	if err != nil {
		return err
	}
	if r.schema != "" {
		cfg.Schema = r.schema
	}

	opts, err := cfg.Options()
	if err != nil {
		return err
	}

	db, err := cfg.Open()
	if err != nil {
		return err
	}
	r.db = db

	r.coordinator, err = migrator.NewCoordinator(db, cfg.Schema, r.migrations, append(opts, r.opts...)...)
	if err != nil {
		_ = r.close()
		return fmt.Errorf("create coordinator: %w", err)
	}
	return nil
}

// withDatabase закрывает пул соединений после команды, в том числе когда она завершилась ошибкой:
// PersistentPostRunE в этом случае cobra не вызывает.
func (r *runner) withDatabase(run func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if closeErr := r.close(); err == nil {
				err = closeErr
			}
		}()
		return run(cmd, args)
	}
}

func (r *runner) close() error {
	if r.db == nil {
		return nil
	}
	db := r.db
	r.db = nil

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
