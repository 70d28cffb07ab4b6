package warehouse

import (
	"context"
	"path/filepath"
	"testing"

	logx "flowwatch/pkg/logx"
)

func openTestDB(t *testing.T) Client {
	t.Helper()
	c, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "wh.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestQueryRoundtrip(t *testing.T) {
	t.Parallel()
	c := openTestDB(t)
	ctx := context.Background()

	if err := c.Exec(ctx, `CREATE TABLE events (name TEXT, status TEXT)`); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if err := c.Exec(ctx, `INSERT INTO events VALUES ('conn_a', 'RUNNING'), ('conn_b', 'STOPPED')`); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	tab, err := c.Query(ctx, `SELECT name, status FROM events ORDER BY name`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(tab.Columns) != 2 || tab.Columns[0] != "name" {
		t.Fatalf("Columns = %v", tab.Columns)
	}
	if len(tab.Rows) != 2 {
		t.Fatalf("Rows = %d, want 2", len(tab.Rows))
	}
	if got := tab.Rows[0][0]; got != "conn_a" {
		t.Fatalf("Rows[0][0] = %v (%T), want conn_a string", got, got)
	}
}

func TestQueryError(t *testing.T) {
	t.Parallel()
	c := openTestDB(t)
	if _, err := c.Query(context.Background(), `SELECT * FROM missing_table`); err == nil {
		t.Fatal("expected error for missing table")
	}
}

func TestUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "oracle"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestEmpty(t *testing.T) {
	t.Parallel()
	e := Empty("A", "B")
	if len(e.Columns) != 2 || e.Rows == nil || len(e.Rows) != 0 {
		t.Fatalf("unexpected empty table: %+v", e)
	}
}
