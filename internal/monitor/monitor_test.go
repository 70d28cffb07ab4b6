package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"flowwatch/internal/warehouse"
	logx "flowwatch/pkg/logx"
)

// fakeClient returns a canned table, or an error when failing is set.
type fakeClient struct {
	table   warehouse.Table
	failing bool
	queries []string
}

func (f *fakeClient) Query(_ context.Context, q string, _ ...any) (warehouse.Table, error) {
	f.queries = append(f.queries, q)
	if f.failing {
		return warehouse.Table{}, errors.New("transport down")
	}
	return f.table, nil
}

func (f *fakeClient) Exec(context.Context, string, ...any) error { return nil }
func (f *fakeClient) Close() error                               { return nil }

func TestConnectorStatusEmptyFallback(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{failing: true}
	s := New(Config{}, fc, logx.Nop())

	got := s.ConnectorStatus(context.Background())
	if len(got.Rows) != 0 {
		t.Fatalf("Rows = %d, want 0", len(got.Rows))
	}
	if len(got.Columns) != len(connectorStatusColumns) {
		t.Fatalf("Columns = %v, want the fixed connector status set", got.Columns)
	}
	if got.Columns[0] != "DEPLOYMENT_ID" || got.Columns[5] != "STATUS" {
		t.Fatalf("unexpected column order: %v", got.Columns)
	}
}

func TestConnectorStatusPassthrough(t *testing.T) {
	t.Parallel()
	want := warehouse.Table{
		Columns: connectorStatusColumns,
		Rows:    [][]any{{"dp1", "runtime-a", "pod-1", "conn_a", "id1", "RUNNING", nil, nil, nil, nil}},
	}
	fc := &fakeClient{table: want}
	s := New(Config{LookbackMinutes: 60}, fc, logx.Nop())

	got := s.ConnectorStatus(context.Background())
	if len(got.Rows) != 1 || got.Rows[0][3] != "conn_a" {
		t.Fatalf("unexpected table: %+v", got)
	}
	if len(fc.queries) != 1 || !strings.Contains(fc.queries[0], "-60,") {
		t.Fatalf("lookback not applied: %q", fc.queries)
	}
}

func TestAvailableConnectors(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{table: warehouse.Table{
		Columns: []string{"CONNECTOR_NAME"},
		Rows:    [][]any{{"conn_a"}, {"conn_b"}, {nil}, {""}},
	}}
	s := New(Config{}, fc, logx.Nop())

	got := s.AvailableConnectors(context.Background())
	if len(got) != 2 || got[0] != "conn_a" || got[1] != "conn_b" {
		t.Fatalf("AvailableConnectors = %v", got)
	}
}

func TestAvailableConnectorsOnFailure(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeClient{failing: true}, logx.Nop())
	got := s.AvailableConnectors(context.Background())
	if got == nil || len(got) != 0 {
		t.Fatalf("want empty non-nil slice, got %v", got)
	}
}

func TestStuckFlowFilesThreshold(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{table: warehouse.Empty(stuckFlowFilesColumns...)}
	s := New(Config{StuckThresholdMinutes: 45}, fc, logx.Nop())
	s.StuckFlowFiles(context.Background())
	if len(fc.queries) != 1 || !strings.Contains(fc.queries[0], "> 45") {
		t.Fatalf("threshold not applied: %q", fc.queries)
	}
}

func TestLookbackClamped(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want int
	}{
		{0, 30},
		{1, 5},
		{30, 30},
		{99999, 1440},
	}
	for _, tt := range tests {
		got := Config{LookbackMinutes: tt.in}.withDefaults().LookbackMinutes
		if got != tt.want {
			t.Fatalf("withDefaults(%d).LookbackMinutes = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestApplyChangesLookback(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{table: warehouse.Empty(errorLogsColumns...)}
	s := New(Config{LookbackMinutes: 30}, fc, logx.Nop())
	s.Apply(Config{LookbackMinutes: 120})
	s.ErrorLogs(context.Background())
	if !strings.Contains(fc.queries[0], "-120,") {
		t.Fatalf("lookback not hot-applied: %q", fc.queries[0])
	}
}
