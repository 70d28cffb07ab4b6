package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flowwatch/internal/eventbus"
	logx "flowwatch/pkg/logx"
)

type call struct {
	connector string
	stage     string
}

// recordExec records Backup invocations and can fail selected connectors.
type recordExec struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
	// block, when non-nil, is received from before Backup returns.
	block   chan struct{}
	started chan string
}

func (e *recordExec) Backup(ctx context.Context, connector, stage string) error {
	e.mu.Lock()
	e.calls = append(e.calls, call{connector, stage})
	e.mu.Unlock()
	if e.started != nil {
		e.started <- connector
	}
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err, ok := e.fail[connector]; ok {
		return err
	}
	return nil
}

func (e *recordExec) snapshot() []call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]call(nil), e.calls...)
}

func newTestLoop(t *testing.T, cfg Config, exec *recordExec, bus eventbus.Bus, now time.Time) (*Loop, *Registry) {
	t.Helper()
	reg := NewRegistry(time.UTC)
	reg.now = func() time.Time { return now }
	l := NewLoop(cfg, reg, exec, bus, logx.Nop())
	l.now = func() time.Time { return now }
	return l, reg
}

func drainEvents(ch <-chan eventbus.Event, n int, timeout time.Duration) ([]eventbus.Event, error) {
	var out []eventbus.Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-deadline:
			return out, errors.New("timed out waiting for events")
		}
	}
	return out, nil
}

func TestLoopFiresDueInKeyOrderAndIsolatesFailures(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	boom := errors.New("export blew up")
	exec := &recordExec{fail: map[string]error{"alpha": boom}}
	l, reg := newTestLoop(t, Config{PollInterval: time.Hour}, exec, bus, now)

	// Both registered in the past relative to now, so both are due at once.
	reg.now = func() time.Time { return now.Add(-2 * time.Hour) }
	if _, err := reg.Register("zeta", TimeOfDay{9, 0}, "S"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Register("alpha", TimeOfDay{9, 0}, "S"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)
	defer l.Stop(context.Background())

	events, err := drainEvents(ch, 4, 5*time.Second)
	if err != nil {
		t.Fatalf("%v (got %d)", err, len(events))
	}

	calls := exec.snapshot()
	if len(calls) != 2 {
		t.Fatalf("executor calls = %d, want 2", len(calls))
	}
	if calls[0].connector != "alpha" || calls[1].connector != "zeta" {
		t.Errorf("call order = %v, want alpha then zeta", calls)
	}

	var failed, finished int
	for _, e := range events {
		switch e.Type {
		case eventbus.TypeBackupFailed:
			failed++
			be := e.Data.(eventbus.BackupEvent)
			if be.Connector != "alpha" || be.Error == "" {
				t.Errorf("failed event = %+v, want alpha with error text", be)
			}
		case eventbus.TypeBackupFinished:
			finished++
		}
	}
	if failed != 1 || finished != 1 {
		t.Errorf("failed = %d, finished = %d, want 1 and 1", failed, finished)
	}

	// Both schedules advanced to tomorrow despite alpha failing.
	if due := reg.Due(now); len(due) != 0 {
		t.Errorf("still due after cycle: %d entries", len(due))
	}
}

func TestLoopStartIsIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	exec := &recordExec{started: make(chan string, 8)}
	l, reg := newTestLoop(t, Config{PollInterval: time.Hour}, exec, nil, now)

	reg.now = func() time.Time { return now.Add(-time.Hour) }
	if _, err := reg.Register("pg", TimeOfDay{9, 30}, "S"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	l.Start(ctx)
	l.Start(ctx)
	l.Start(ctx)
	defer l.Stop(context.Background())

	select {
	case <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first fire never happened")
	}
	// A second poller would fire the schedule again before it advances.
	select {
	case c := <-exec.started:
		t.Fatalf("duplicate fire for %q, a second poller is running", c)
	case <-time.After(200 * time.Millisecond):
	}
	if !l.Running() {
		t.Error("Running() = false while started")
	}
}

func TestLoopStopIsPromptAndIdempotent(t *testing.T) {
	t.Parallel()
	exec := &recordExec{}
	l, _ := newTestLoop(t, Config{PollInterval: time.Hour}, exec, nil, time.Now())

	l.Start(context.Background())
	begin := time.Now()
	l.Stop(context.Background())
	if took := time.Since(begin); took > 5*time.Second {
		t.Fatalf("Stop took %v despite 1h poll interval", took)
	}
	if l.Running() {
		t.Error("Running() = true after Stop")
	}
	l.Stop(context.Background())

	// Restart works and yields exactly one live poller again.
	l.Start(context.Background())
	if !l.Running() {
		t.Error("Running() = false after restart")
	}
	l.Stop(context.Background())
}

func TestLoopStopDoesNotCancelInflightBackup(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	exec := &recordExec{
		block:   make(chan struct{}),
		started: make(chan string, 1),
	}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	l, reg := newTestLoop(t, Config{PollInterval: time.Hour}, exec, bus, now)
	reg.now = func() time.Time { return now.Add(-time.Hour) }
	if _, err := reg.Register("pg", TimeOfDay{9, 30}, "S"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	l.Start(context.Background())
	select {
	case <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("backup never started")
	}

	// Stop with a short deadline: it returns without killing the backup.
	sctx, scancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	l.Stop(sctx)
	scancel()

	// Release the executor; the run must complete successfully.
	close(exec.block)
	events, err := drainEvents(ch, 2, 5*time.Second)
	if err != nil {
		t.Fatalf("%v", err)
	}
	last := events[len(events)-1]
	if last.Type != eventbus.TypeBackupFinished {
		t.Errorf("final event = %s, want %s", last.Type, eventbus.TypeBackupFinished)
	}
}

func TestLoopRegisterReplacementMidFlight(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	exec := &recordExec{
		block:   make(chan struct{}),
		started: make(chan string, 1),
	}
	l, reg := newTestLoop(t, Config{PollInterval: time.Hour}, exec, nil, now)
	reg.now = func() time.Time { return now.Add(-time.Hour) }
	if _, err := reg.Register("pg", TimeOfDay{9, 30}, "S1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	l.Start(context.Background())
	defer l.Stop(context.Background())
	select {
	case <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("backup never started")
	}

	// Replace the slot while its backup is still running, then let the run
	// finish. The cycle's Advance must land on the replacement entry.
	if _, err := reg.Register("pg", TimeOfDay{9, 30}, "S2"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	close(exec.block)

	deadline := time.Now().Add(5 * time.Second)
	for len(reg.Due(now)) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("replacement entry never advanced")
		}
		time.Sleep(5 * time.Millisecond)
	}

	list := reg.List()
	if len(list) != 1 || list[0].Stage != "S2" {
		t.Fatalf("registry = %+v, want the single replacement entry", list)
	}
	if calls := exec.snapshot(); len(calls) != 1 || calls[0].stage != "S1" {
		t.Fatalf("calls = %v, want only the in-flight run", calls)
	}
}

func TestLoopOnFailureHook(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	boom := errors.New("boom")
	exec := &recordExec{fail: map[string]error{"pg": boom}}

	got := make(chan error, 1)
	cfg := Config{
		PollInterval: time.Hour,
		OnFailure:    func(s Schedule, err error) { got <- err },
	}
	l, reg := newTestLoop(t, cfg, exec, nil, now)
	reg.now = func() time.Time { return now.Add(-time.Hour) }
	if _, err := reg.Register("pg", TimeOfDay{9, 30}, "S"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	l.Start(context.Background())
	defer l.Stop(context.Background())

	select {
	case err := <-got:
		if !errors.Is(err, boom) {
			t.Errorf("hook err = %v, want %v", err, boom)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("failure hook never called")
	}
	// Hook fires after the schedule has advanced.
	if due := reg.Due(now); len(due) != 0 {
		t.Errorf("schedule still due when hook ran: %d entries", len(due))
	}
}

func TestLoopHonorsBackupTimeout(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	exec := &recordExec{block: make(chan struct{})}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	cfg := Config{PollInterval: time.Hour, BackupTimeout: 50 * time.Millisecond}
	l, reg := newTestLoop(t, cfg, exec, bus, now)
	reg.now = func() time.Time { return now.Add(-time.Hour) }
	if _, err := reg.Register("pg", TimeOfDay{9, 30}, "S"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	l.Start(context.Background())
	defer l.Stop(context.Background())
	defer close(exec.block)

	events, err := drainEvents(ch, 2, 5*time.Second)
	if err != nil {
		t.Fatalf("%v", err)
	}
	last := events[len(events)-1]
	if last.Type != eventbus.TypeBackupFailed {
		t.Fatalf("final event = %s, want %s", last.Type, eventbus.TypeBackupFailed)
	}
	if be := last.Data.(eventbus.BackupEvent); be.Error == "" {
		t.Error("failed event carries no error text")
	}
}
