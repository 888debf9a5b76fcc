package schema_migrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maksumys/schema-migrator/ddl"
	"github.com/Maksumys/schema-migrator/internal/repository"
	"github.com/Maksumys/schema-migrator/schema"
)

const testSchema = "billing"

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type stepCounter struct {
	mutex sync.Mutex
	calls map[int]int
}

func newStepCounter() *stepCounter {
	return &stepCounter{calls: map[int]int{}}
}

func (s *stepCounter) step(version int, statements ...string) Step {
	return func(context.Context, Handles) ([]string, error) {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		s.calls[version]++
		return statements, nil
	}
}

func (s *stepCounter) count(version int) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.calls[version]
}

func newTestCoordinator(t *testing.T, ledger *memoryLedger, migrations MigrationSet, opts ...Option) *Coordinator {
	t.Helper()

	opts = append([]Option{withStore(ledger), WithLogger(quietLogger)}, opts...)
	coordinator, err := NewCoordinator(nil, testSchema, migrations, opts...)
	require.NoError(t, err)
	return coordinator
}

func TestNewCoordinatorValidation(t *testing.T) {
	ledger := newMemoryLedger()
	noop := Statements()

	_, err := NewCoordinator(nil, "", MigrationSet{}, withStore(ledger))
	assert.Error(t, err)

	_, err = NewCoordinator(nil, testSchema, MigrationSet{1: noop}, withStore(ledger))
	assert.ErrorIs(t, err, ErrInvalidMigrationSet)

	_, err = NewCoordinator(nil, testSchema, MigrationSet{2: nil}, withStore(ledger))
	assert.Error(t, err)

	_, err = NewCoordinator(nil, testSchema, MigrationSet{2: noop})
	assert.Error(t, err)

	a := ddl.MustTable("a", ddl.Column{Name: "id", Type: ddl.BigInt(), PrimaryKey: true},
		ddl.Column{Name: "b_id", Type: ddl.BigInt(), References: []ddl.ForeignKey{{Table: "b", Column: "id"}}})
	_, err = NewCoordinator(nil, testSchema, MigrationSet{}, withStore(ledger),
		WithSnapshot(schema.Snapshot{Name: "broken", Tables: []ddl.Table{a}}))
	assert.ErrorIs(t, err, schema.ErrUnknownReference)
}

func TestInitCreatesSchemaAtLatestVersion(t *testing.T) {
	ledger := newMemoryLedger()
	steps := newStepCounter()

	accounts := ddl.MustTable("accounts", ddl.Column{Name: "id", Type: ddl.BigInt(), PrimaryKey: true, AutoIncrement: true})
	invoices := ddl.MustTable("invoices",
		ddl.Column{Name: "id", Type: ddl.BigInt(), PrimaryKey: true, AutoIncrement: true},
		ddl.Column{Name: "account_id", Type: ddl.BigInt(), References: []ddl.ForeignKey{{Table: "accounts", Column: "id"}}},
	)
	snapshot, err := schema.NewSnapshot("v3", invoices, accounts)
	require.NoError(t, err)

	coordinator := newTestCoordinator(t, ledger,
		MigrationSet{2: steps.step(2), 3: steps.step(3)},
		WithSnapshot(snapshot),
		WithCreateStatements("INSERT INTO accounts DEFAULT VALUES"),
	)

	require.NoError(t, coordinator.Init(context.Background()))
	assert.True(t, coordinator.Initialized())
	assert.Equal(t, 3, coordinator.Version())

	expected, err := schema.ComposeCreateTableStatements(snapshot)
	require.NoError(t, err)
	expected = append(expected, "INSERT INTO accounts DEFAULT VALUES")
	assert.Equal(t, expected, ledger.statements())

	record, ok := ledger.record(testSchema)
	require.True(t, ok)
	assert.Equal(t, 3, record.Version)
	assert.False(t, record.Locked)

	require.NoError(t, coordinator.MigrateLatest(context.Background()))
	assert.Zero(t, steps.count(2))
	assert.Zero(t, steps.count(3))
}

func TestInitEmptySetRegistersGenesis(t *testing.T) {
	ledger := newMemoryLedger()
	coordinator := newTestCoordinator(t, ledger, MigrationSet{})

	require.NoError(t, coordinator.Init(context.Background()))
	assert.Equal(t, GenesisVersion, coordinator.Version())
}

func TestMigrateLatestWithoutSteps(t *testing.T) {
	ledger := newMemoryLedger()
	coordinator := newTestCoordinator(t, ledger, MigrationSet{}, WithCreateStatements("CREATE TABLE a (id int)"))

	assert.ErrorIs(t, coordinator.MigrateLatest(context.Background()), ErrNotInitialized)

	require.NoError(t, coordinator.Init(context.Background()))
	require.NoError(t, coordinator.MigrateLatest(context.Background()))
	assert.Equal(t, GenesisVersion, coordinator.Version())
	assert.Equal(t, []string{"CREATE TABLE a (id int)"}, ledger.statements())
}

func TestInitTwice(t *testing.T) {
	coordinator := newTestCoordinator(t, newMemoryLedger(), MigrationSet{})

	require.NoError(t, coordinator.Init(context.Background()))
	assert.ErrorIs(t, coordinator.Init(context.Background()), ErrAlreadyInitialized)
}

func TestInitLoadsExistingVersion(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.seed(testSchema, 2)

	coordinator := newTestCoordinator(t, ledger, MigrationSet{2: Statements(), 3: Statements()},
		WithCreateStatements("CREATE TABLE never_created (id int)"))

	require.NoError(t, coordinator.Init(context.Background()))
	assert.Equal(t, 2, coordinator.Version())
	assert.Empty(t, ledger.statements())
}

func TestConcurrentInitRunsCreateStatementsOnce(t *testing.T) {
	ledger := newMemoryLedger()

	const nodes = 8
	coordinators := make([]*Coordinator, nodes)
	for i := range coordinators {
		coordinators[i] = newTestCoordinator(t, ledger, MigrationSet{2: Statements()},
			WithCreateStatements("CREATE TABLE items (id bigint PRIMARY KEY)"))
	}

	var wg sync.WaitGroup
	errs := make([]error, nodes)
	for i, coordinator := range coordinators {
		wg.Add(1)
		go func(i int, coordinator *Coordinator) {
			defer wg.Done()
			errs[i] = coordinator.Init(context.Background())
		}(i, coordinator)
	}
	wg.Wait()

	for i, coordinator := range coordinators {
		require.NoError(t, errs[i])
		assert.Equal(t, 2, coordinator.Version())
	}
	assert.Equal(t, []string{"CREATE TABLE items (id bigint PRIMARY KEY)"}, ledger.statements())
}

func TestInitUniqueViolationAdoptsStoredVersion(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.racingVersion = 5

	coordinator := newTestCoordinator(t, ledger, MigrationSet{2: Statements()},
		WithCreateStatements("CREATE TABLE items (id bigint PRIMARY KEY)"))

	require.NoError(t, coordinator.Init(context.Background()))
	assert.Equal(t, 5, coordinator.Version())
	assert.Empty(t, ledger.statements())
}

func TestInitCreateStatementFailureRollsBack(t *testing.T) {
	ledger := newMemoryLedger()
	broken := errors.New("syntax error")
	ledger.failOn["CREATE TABLE broken"] = broken

	coordinator := newTestCoordinator(t, ledger, MigrationSet{},
		WithCreateStatements("CREATE TABLE ok (id int)", "CREATE TABLE broken"))

	err := coordinator.Init(context.Background())
	assert.ErrorIs(t, err, broken)
	assert.False(t, coordinator.Initialized())

	_, ok := ledger.record(testSchema)
	assert.False(t, ok)
	assert.Empty(t, ledger.statements())
}

func TestMigrateRequiresInit(t *testing.T) {
	coordinator := newTestCoordinator(t, newMemoryLedger(), MigrationSet{2: Statements()})

	assert.ErrorIs(t, coordinator.MigrateLatest(context.Background()), ErrNotInitialized)
	assert.ErrorIs(t, coordinator.MigrateToVersion(context.Background(), 2), ErrNotInitialized)
}

func TestMigrateToVersionRejectsGenesisTarget(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.seed(testSchema, 1)
	coordinator := newTestCoordinator(t, ledger, MigrationSet{2: Statements()})
	require.NoError(t, coordinator.Init(context.Background()))

	assert.ErrorIs(t, coordinator.MigrateToVersion(context.Background(), 1), ErrInvalidTargetVersion)
	assert.ErrorIs(t, coordinator.MigrateToVersion(context.Background(), 0), ErrInvalidTargetVersion)
}

func TestMigrateAppliesStepsInOrder(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.seed(testSchema, 1)
	steps := newStepCounter()

	coordinator := newTestCoordinator(t, ledger, MigrationSet{
		2: steps.step(2, "ALTER TABLE a ADD COLUMN b int"),
		3: steps.step(3, "CREATE INDEX a_b ON a (b)", "ANALYZE a"),
		4: steps.step(4),
	})
	require.NoError(t, coordinator.Init(context.Background()))

	require.NoError(t, coordinator.MigrateToVersion(context.Background(), 3))
	assert.Equal(t, 3, coordinator.Version())
	assert.Zero(t, steps.count(4))

	require.NoError(t, coordinator.MigrateLatest(context.Background()))
	assert.Equal(t, 4, coordinator.Version())

	assert.Equal(t, []string{
		"ALTER TABLE a ADD COLUMN b int",
		"CREATE INDEX a_b ON a (b)",
		"ANALYZE a",
	}, ledger.statements())

	record, _ := ledger.record(testSchema)
	assert.Equal(t, 4, record.Version)
	assert.False(t, record.Locked)
	assert.Nil(t, record.LockedAt)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.seed(testSchema, 1)
	steps := newStepCounter()

	coordinator := newTestCoordinator(t, ledger, MigrationSet{2: steps.step(2), 3: steps.step(3)})
	require.NoError(t, coordinator.Init(context.Background()))

	for i := 0; i < 3; i++ {
		require.NoError(t, coordinator.MigrateLatest(context.Background()))
	}
	assert.Equal(t, 1, steps.count(2))
	assert.Equal(t, 1, steps.count(3))
}

func TestMigrateBelowCurrentVersionIsNoop(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.seed(testSchema, 3)
	steps := newStepCounter()

	coordinator := newTestCoordinator(t, ledger, MigrationSet{2: steps.step(2), 3: steps.step(3)})
	require.NoError(t, coordinator.Init(context.Background()))

	require.NoError(t, coordinator.MigrateToVersion(context.Background(), 2))
	assert.Equal(t, 3, coordinator.Version())
	assert.Zero(t, steps.count(2))
}

func TestMigrateMissingStepStops(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.seed(testSchema, 1)
	steps := newStepCounter()

	coordinator := newTestCoordinator(t, ledger, MigrationSet{2: steps.step(2), 4: steps.step(4)})
	require.NoError(t, coordinator.Init(context.Background()))

	err := coordinator.MigrateLatest(context.Background())
	assert.ErrorIs(t, err, ErrMigrationNotFound)
	assert.Equal(t, 2, coordinator.Version())
	assert.Zero(t, steps.count(4))

	record, _ := ledger.record(testSchema)
	assert.Equal(t, 2, record.Version)
	assert.False(t, record.Locked)
}

func TestMigrateFailingStepKeepsEarlierSteps(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.seed(testSchema, 1)
	broken := errors.New("constraint violated")

	coordinator := newTestCoordinator(t, ledger, MigrationSet{
		2: Statements("ALTER TABLE a ADD COLUMN b int"),
		3: func(context.Context, Handles) ([]string, error) {
			return nil, broken
		},
		4: Statements("ALTER TABLE a ADD COLUMN d int"),
	})
	require.NoError(t, coordinator.Init(context.Background()))

	err := coordinator.MigrateLatest(context.Background())
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, 2, coordinator.Version())
	assert.Equal(t, []string{"ALTER TABLE a ADD COLUMN b int"}, ledger.statements())

	record, _ := ledger.record(testSchema)
	assert.Equal(t, 2, record.Version)
	assert.False(t, record.Locked)
}

func TestMigrateFailingStatementRollsBackStep(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.seed(testSchema, 1)
	broken := errors.New("relation does not exist")
	ledger.failOn["ALTER TABLE missing ADD COLUMN c int"] = broken

	coordinator := newTestCoordinator(t, ledger, MigrationSet{
		2: Statements("CREATE TABLE a (id int)", "ALTER TABLE missing ADD COLUMN c int"),
	})
	require.NoError(t, coordinator.Init(context.Background()))

	assert.ErrorIs(t, coordinator.MigrateLatest(context.Background()), broken)
	assert.Equal(t, 1, coordinator.Version())
	assert.Empty(t, ledger.statements())
}

func TestMigrateStopsOnForeignLock(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := newMemoryLedger()
	ledger.seed(testSchema, 1)
	steps := newStepCounter()

	coordinator := newTestCoordinator(t, ledger, MigrationSet{2: steps.step(2)},
		withClock(func() time.Time { return now }))
	require.NoError(t, coordinator.Init(context.Background()))

	require.NoError(t, ledger.Transaction(context.Background(), func(tx repository.Tx) error {
		return tx.Lock(testSchema, now.Add(-time.Hour))
	}))

	require.NoError(t, coordinator.MigrateLatest(context.Background()))
	assert.Equal(t, 1, coordinator.Version())
	assert.Zero(t, steps.count(2))

	record, _ := ledger.record(testSchema)
	assert.True(t, record.Locked)
}

func TestMigrateReclaimsStaleLockWithLease(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := newMemoryLedger()
	ledger.seed(testSchema, 1)
	steps := newStepCounter()

	coordinator := newTestCoordinator(t, ledger, MigrationSet{2: steps.step(2), 3: steps.step(3)},
		withClock(func() time.Time { return now }),
		WithLockLease(10*time.Minute))
	require.NoError(t, coordinator.Init(context.Background()))

	// свежий флаг еще действует
	require.NoError(t, ledger.Transaction(context.Background(), func(tx repository.Tx) error {
		return tx.Lock(testSchema, now.Add(-time.Minute))
	}))
	require.NoError(t, coordinator.MigrateLatest(context.Background()))
	assert.Equal(t, 1, coordinator.Version())

	require.NoError(t, ledger.Transaction(context.Background(), func(tx repository.Tx) error {
		return tx.Lock(testSchema, now.Add(-time.Hour))
	}))
	require.NoError(t, coordinator.MigrateLatest(context.Background()))
	assert.Equal(t, 3, coordinator.Version())
	assert.Equal(t, 1, steps.count(2))
	assert.Equal(t, 1, steps.count(3))

	record, _ := ledger.record(testSchema)
	assert.False(t, record.Locked)
}

func TestMigrateStopsWhenRecordDisappears(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.seed(testSchema, 1)
	steps := newStepCounter()

	coordinator := newTestCoordinator(t, ledger, MigrationSet{2: steps.step(2)})
	require.NoError(t, coordinator.Init(context.Background()))

	ledger.mutex.Lock()
	delete(ledger.records, testSchema)
	ledger.mutex.Unlock()

	require.NoError(t, coordinator.MigrateLatest(context.Background()))
	assert.Equal(t, 1, coordinator.Version())
	assert.Zero(t, steps.count(2))
}

func TestMigrateAdoptsVersionAdvancedByAnotherNode(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.seed(testSchema, 1)
	steps := newStepCounter()
	migrations := MigrationSet{2: steps.step(2), 3: steps.step(3)}

	first := newTestCoordinator(t, ledger, migrations)
	second := newTestCoordinator(t, ledger, migrations)
	require.NoError(t, first.Init(context.Background()))
	require.NoError(t, second.Init(context.Background()))

	require.NoError(t, first.MigrateLatest(context.Background()))
	require.NoError(t, second.MigrateLatest(context.Background()))

	assert.Equal(t, 3, second.Version())
	assert.Equal(t, 1, steps.count(2))
	assert.Equal(t, 1, steps.count(3))
}

func TestConcurrentMigrationAppliesEachStepOnce(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.seed(testSchema, 1)
	steps := newStepCounter()

	migrations := MigrationSet{}
	for version := 2; version <= 12; version++ {
		migrations[version] = steps.step(version, fmt.Sprintf("ALTER TABLE t ADD COLUMN c%d int", version))
	}

	const nodes = 16
	var (
		wg      sync.WaitGroup
		failed  atomic.Int32
		reached atomic.Int32
	)
	for i := 0; i < nodes; i++ {
		coordinator := newTestCoordinator(t, ledger, migrations)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := coordinator.Init(context.Background()); err != nil {
				failed.Add(1)
				return
			}
			if err := coordinator.MigrateLatest(context.Background()); err != nil {
				failed.Add(1)
				return
			}
			if coordinator.Version() == 12 {
				reached.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failed.Load())
	assert.EqualValues(t, nodes, reached.Load())
	for version := 2; version <= 12; version++ {
		assert.Equal(t, 1, steps.count(version), "version %d", version)
	}
	assert.Len(t, ledger.statements(), 11)
}

func TestStepReceivesContext(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.seed(testSchema, 1)

	type key struct{}
	var seen any
	coordinator := newTestCoordinator(t, ledger, MigrationSet{
		2: func(ctx context.Context, h Handles) ([]string, error) {
			seen = ctx.Value(key{})
			return nil, nil
		},
	})
	require.NoError(t, coordinator.Init(context.Background()))

	ctx := context.WithValue(context.Background(), key{}, "request")
	require.NoError(t, coordinator.MigrateLatest(ctx))
	assert.Equal(t, "request", seen)
}

func TestFromDiff(t *testing.T) {
	id := ddl.Column{Name: "id", Type: ddl.BigInt(), PrimaryKey: true}
	before, err := schema.NewSnapshot("v1", ddl.MustTable("users", id))
	require.NoError(t, err)
	after, err := schema.NewSnapshot("v2", ddl.MustTable("users", id,
		ddl.Column{Name: "email", Type: ddl.Text(), Nullable: true, Unique: true}))
	require.NoError(t, err)

	step, err := FromDiff(before, after, schema.DiffOptions{})
	require.NoError(t, err)

	statements, err := step(context.Background(), Handles{})
	require.NoError(t, err)

	expected, err := schema.Diff(before, after, schema.DiffOptions{})
	require.NoError(t, err)
	assert.Equal(t, expected, statements)
	assert.NotEmpty(t, statements)

	broken := schema.Snapshot{Name: "broken", Tables: []ddl.Table{{Name: "nokey", Columns: []ddl.Column{{Name: "a", Type: ddl.Text()}}}}}
	_, err = FromDiff(before, broken, schema.DiffOptions{})
	assert.Error(t, err)
}

func TestLatestVersion(t *testing.T) {
	assert.Equal(t, GenesisVersion, MigrationSet{}.Latest())
	assert.Equal(t, 7, MigrationSet{2: Statements(), 7: Statements(), 3: Statements()}.Latest())
}
