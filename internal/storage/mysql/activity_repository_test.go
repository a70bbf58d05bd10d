package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"

	"x402-Dashboard/internal/activity"

	"github.com/go-sql-driver/mysql"
)

func TestActivityRepositoryRecord(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		execOp(insertActivitySQL, mockResult{rowsAffected: 1}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &ActivityRepository{db: db}
	err := repo.Record(context.Background(), activity.Entry{
		Kind:    activity.KindDeploy,
		Account: "0xABC",
		TxHash:  "0x01",
		Status:  activity.StatusSuccess,
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
}

func TestActivityRepositoryRecordDuplicateIsIgnored(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		{typ: opExec, query: insertActivitySQL, err: &mysql.MySQLError{Number: duplicateEntry, Message: "Duplicate entry"}},
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &ActivityRepository{db: db}
	if err := repo.Record(context.Background(), activity.Entry{ID: "same", Kind: activity.KindDeposit}); err != nil {
		t.Fatalf("duplicate should be ignored, got %v", err)
	}
}

func TestActivityRepositoryRecordFailure(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		{typ: opExec, query: insertActivitySQL, err: errors.New("connection reset")},
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &ActivityRepository{db: db}
	if err := repo.Record(context.Background(), activity.Entry{Kind: activity.KindDeposit}); err == nil {
		t.Fatal("expected error")
	}
}

func TestActivityRepositoryListByAccount(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := mockRowsData{
		columns: []string{"id", "kind", "account", "agent_address", "tx_hash", "status", "detail", "created_at"},
		values: [][]driver.Value{
			{"b", "register", "0xabc", "0xagent", "", "failed", "backend down", created.UnixMilli()},
			{"a", "deploy", "0xabc", "0xagent", "0x01", "success", nil, created.Add(-time.Minute).UnixMilli()},
		},
	}
	db, driver := newMockDB(t, []mockOperation{queryOp(listActivitySQL, rows)})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &ActivityRepository{db: db}
	entries, err := repo.ListByAccount(context.Background(), "0xABC", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != activity.KindRegister || entries[0].Detail != "backend down" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if !entries[0].CreatedAt.Equal(created) {
		t.Fatalf("unexpected created_at: %v", entries[0].CreatedAt)
	}
	if entries[1].Detail != "" || entries[1].Status != activity.StatusSuccess {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestRunMigrationsAppliesPending(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createSchemaMigrationsSQL(), mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(readMigrationStatement(), mockResult{}),
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestRunMigrationsSkipsApplied(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createSchemaMigrationsSQL(), mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestRunMigrationsRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createSchemaMigrationsSQL(), mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		{typ: opExec, query: readMigrationStatement(), err: errors.New("syntax error")},
		rollbackOp(),
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err == nil {
		t.Fatal("expected migration error")
	}
}

func TestReadMigrationsOrdersSQLFiles(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"0002_add_index.sql":   {Data: []byte("CREATE INDEX a ON activity (kind);\n")},
		"0001_create.sql":      {Data: []byte("CREATE TABLE a (id INT);\nCREATE TABLE b (id INT);")},
		"0003_empty.sql":       {Data: []byte("  ;\n")},
		"README.md":            {Data: []byte("not a migration;")},
		"archive/0000_old.sql": {Data: []byte("DROP TABLE a;")},
	}
	files, err := readMigrations(fsys)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 migrations, got %+v", files)
	}
	if files[0].version != "0001" || len(files[0].statements) != 2 {
		t.Fatalf("unexpected first migration: %+v", files[0])
	}
	if files[1].version != "0002" || files[1].name != "0002_add_index.sql" {
		t.Fatalf("unexpected second migration: %+v", files[1])
	}
}

func TestMigrationVersion(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]string{
		"0001_create_activity.sql": "0001",
		"0002.sql":                 "0002",
		"_leading.sql":             "_leading",
	} {
		if got := migrationVersion(name); got != want {
			t.Fatalf("%s: want %q got %q", name, want, got)
		}
	}
}

func createSchemaMigrationsSQL() string {
	return `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`
}

func readMigrationStatement() string {
	content, err := fs.ReadFile(embeddedMigrations, "0001_create_activity.sql")
	if err != nil {
		panic(fmt.Sprintf("failed to read migration: %v", err))
	}
	statements := splitSQLStatements(string(content))
	if len(statements) == 0 {
		panic("no statements in migration")
	}
	return statements[0]
}
