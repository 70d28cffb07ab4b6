package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"flowwatch/internal/eventbus"
	logx "flowwatch/pkg/logx"
)

func newTestService(t *testing.T, cfg Config, exec *recordExec, bus eventbus.Bus) *Service {
	t.Helper()
	svc, err := NewService(cfg, exec, bus, logx.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { svc.Stop(context.Background()) })
	return svc
}

func TestServiceRegisterStartsLoop(t *testing.T) {
	t.Parallel()
	cfg := Config{Enabled: true, PollInterval: time.Hour, Timezone: "UTC"}
	svc := newTestService(t, cfg, &recordExec{}, nil)

	if svc.Running() {
		t.Fatal("loop running before first registration")
	}
	if _, err := svc.Register(context.Background(), "pg", TimeOfDay{23, 59}, "S"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !svc.Running() {
		t.Error("loop not running after first registration")
	}
}

func TestServiceDisabledNeverStartsLoop(t *testing.T) {
	t.Parallel()
	cfg := Config{Enabled: false, PollInterval: time.Hour, Timezone: "UTC"}
	svc := newTestService(t, cfg, &recordExec{}, nil)

	if _, err := svc.Register(context.Background(), "pg", TimeOfDay{23, 59}, "S"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if svc.Running() {
		t.Error("loop running despite scheduler disabled")
	}
	if got := len(svc.List()); got != 1 {
		t.Errorf("List len = %d, want 1; disabled only blocks the loop", got)
	}
}

func TestServiceDefaultStage(t *testing.T) {
	t.Parallel()
	cfg := Config{PollInterval: time.Hour, Timezone: "UTC", DefaultStage: "OPENFLOW_BACKUPS"}
	svc := newTestService(t, cfg, &recordExec{}, nil)

	s, err := svc.Register(context.Background(), "pg", TimeOfDay{3, 0}, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if s.Stage != "OPENFLOW_BACKUPS" {
		t.Errorf("stage = %q, want default %q", s.Stage, "OPENFLOW_BACKUPS")
	}
}

func TestServiceBadTimezone(t *testing.T) {
	t.Parallel()
	_, err := NewService(Config{Timezone: "Mars/Olympus"}, &recordExec{}, nil, logx.Nop())
	if err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestServiceRunNow(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	exec := &recordExec{}
	cfg := Config{Timezone: "UTC", DefaultStage: "DEF"}
	svc := newTestService(t, cfg, exec, bus)

	if err := svc.RunNow(context.Background(), "pg", ""); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	calls := exec.snapshot()
	if len(calls) != 1 || calls[0] != (call{"pg", "DEF"}) {
		t.Fatalf("calls = %v, want one pg/DEF call", calls)
	}

	events, err := drainEvents(ch, 2, 5*time.Second)
	if err != nil {
		t.Fatalf("%v", err)
	}
	for _, e := range events {
		be := e.Data.(eventbus.BackupEvent)
		if !be.Manual {
			t.Errorf("event %s not flagged manual", e.Type)
		}
	}
	if events[1].Type != eventbus.TypeBackupFinished {
		t.Errorf("final event = %s, want %s", events[1].Type, eventbus.TypeBackupFinished)
	}
}

func TestServiceRunNowFailure(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	boom := errors.New("stage gone")
	exec := &recordExec{fail: map[string]error{"pg": boom}}
	svc := newTestService(t, Config{Timezone: "UTC"}, exec, bus)

	if err := svc.RunNow(context.Background(), "pg", "S"); !errors.Is(err, boom) {
		t.Fatalf("RunNow error = %v, want %v", err, boom)
	}
	events, err := drainEvents(ch, 2, 5*time.Second)
	if err != nil {
		t.Fatalf("%v", err)
	}
	if events[1].Type != eventbus.TypeBackupFailed {
		t.Errorf("final event = %s, want %s", events[1].Type, eventbus.TypeBackupFailed)
	}
}

func TestServiceRunNowValidation(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, Config{Timezone: "UTC"}, &recordExec{}, nil)

	if err := svc.RunNow(context.Background(), "", "S"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty connector error = %v, want ErrInvalidInput", err)
	}
	// No default stage configured and none supplied.
	if err := svc.RunNow(context.Background(), "pg", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty stage error = %v, want ErrInvalidInput", err)
	}
}

func TestServiceApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Enabled: true, PollInterval: time.Hour, Timezone: "UTC", DefaultStage: "OLD"}
	svc := newTestService(t, cfg, &recordExec{}, nil)

	if _, err := svc.Register(ctx, "pg", TimeOfDay{23, 59}, ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !svc.Running() {
		t.Fatal("loop not running after registration")
	}

	// Disabling stops the poller; re-enabling with schedules present
	// restarts it.
	next := cfg
	next.Enabled = false
	svc.Apply(ctx, next)
	if svc.Running() {
		t.Fatal("loop still running after disable")
	}
	next.Enabled = true
	next.PollInterval = 30 * time.Minute
	next.DefaultStage = "NEW"
	svc.Apply(ctx, next)
	if !svc.Running() {
		t.Fatal("loop not running after re-enable")
	}

	// Later registrations pick up the applied default stage.
	s, err := svc.Register(ctx, "mysql", TimeOfDay{4, 0}, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if s.Stage != "NEW" {
		t.Errorf("stage = %q, want applied default %q", s.Stage, "NEW")
	}
}

func TestServiceApplyKeepsTimezone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{PollInterval: time.Hour, Timezone: "UTC"}
	svc := newTestService(t, cfg, &recordExec{}, nil)

	next := cfg
	next.Timezone = "America/New_York"
	svc.Apply(ctx, next)
	if got := svc.config().Timezone; got != "UTC" {
		t.Errorf("Timezone = %q after Apply, want construction-time %q", got, "UTC")
	}
}

func TestServiceRemove(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, Config{Timezone: "UTC"}, &recordExec{}, nil)
	s, err := svc.Register(context.Background(), "pg", TimeOfDay{3, 0}, "S")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	svc.Remove(s.Key)
	svc.Remove(s.Key)
	if got := len(svc.List()); got != 0 {
		t.Errorf("List len = %d after remove, want 0", got)
	}
}
