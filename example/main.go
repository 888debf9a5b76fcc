package main

import (
	"context"
	"embed"
	"os"

	"github.com/sirupsen/logrus"

	migrator "github.com/Maksumys/schema-migrator"
	"github.com/Maksumys/schema-migrator/cmd/schema-migrator/command"
	"github.com/Maksumys/schema-migrator/ddl"
	"github.com/Maksumys/schema-migrator/schema"
)

//go:embed migrations
var migrations embed.FS

func readFile(file string) string {
	bytes, err := migrations.ReadFile("migrations/" + file)
	if err != nil {
		panic(err)
	}
	return string(bytes)
}

var (
	connectionsV1 = ddl.MustTable("connections",
		ddl.Column{Name: "id", Type: ddl.BigInt(), PrimaryKey: true, AutoIncrement: true},
		ddl.Column{Name: "url", Type: ddl.Text()},
		ddl.Column{Name: "created_at", Type: ddl.TimestampTZ(), Default: ddl.Now},
	)

	connectionsV2 = ddl.MustTable("connections",
		ddl.Column{Name: "id", Type: ddl.BigInt(), PrimaryKey: true, AutoIncrement: true},
		ddl.Column{Name: "name", Type: ddl.Varchar(64), Unique: true},
		ddl.Column{Name: "url", Type: ddl.Text()},
		ddl.Column{Name: "created_at", Type: ddl.TimestampTZ(), Default: ddl.Now},
	)

	checks = ddl.MustTable("checks",
		ddl.Column{Name: "id", Type: ddl.UUID(), PrimaryKey: true, Default: ddl.GenRandomUUID},
		ddl.Column{Name: "connection_id", Type: ddl.BigInt(), Index: true,
			References: []ddl.ForeignKey{{Table: "connections", Column: "id", OnDelete: ddl.Cascade}}},
		ddl.Column{Name: "latency_ms", Type: ddl.Integer(), Nullable: true},
		ddl.Column{Name: "checked_at", Type: ddl.TimestampTZ(), Default: ddl.CurrentTimestamp},
	)
)

func main() {
	logrus.SetLevel(logrus.InfoLevel)

	v1, err := schema.NewSnapshot("v1", connectionsV1)
	if err != nil {
		logrus.Fatalln(err)
	}
	v2, err := schema.NewSnapshot("v2", checks, connectionsV2)
	if err != nil {
		logrus.Fatalln(err)
	}

	// имя заполняется из url до того, как колонка станет обязательной
	toV2, err := migrator.FromDiff(v1, v2, schema.DiffOptions{
		Backfill: map[string][]string{
			schema.BackfillKey("connections", "name"): {`UPDATE "connections" SET "name" = 'connection-' || "id"`},
		},
	})
	if err != nil {
		logrus.Fatalln(err)
	}

	steps := migrator.MigrationSet{
		2: toV2,
		3: migrator.Statements(readFile("v3_seed_connections.sql")),
		4: func(ctx context.Context, h migrator.Handles) ([]string, error) {
			var count int64
			if err := h.Tx.WithContext(ctx).Table("connections").Count(&count).Error; err != nil {
				return nil, err
			}
			if count == 0 {
				return nil, nil
			}
			return []string{`ANALYZE "connections"`}, nil
		},
	}

	root := command.NewRootCommand(steps,
		migrator.WithSnapshot(v2),
		migrator.WithLogWriter(logrus.StandardLogger().Writer()),
	)
	if err = root.Execute(); err != nil {
		os.Exit(1)
	}
}
