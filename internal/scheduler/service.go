package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flowwatch/internal/backup"
	"flowwatch/internal/eventbus"
	logx "flowwatch/pkg/logx"
)

// Service bundles the registry and the poll loop behind the operations the
// HTTP layer exposes: register, list, remove, run-now, stop.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	reg  *Registry
	loop *Loop
	exec backup.Executor
	bus  eventbus.Bus
	log  logx.Logger
}

func NewService(cfg Config, exec backup.Executor, bus eventbus.Bus, log logx.Logger) (*Service, error) {
	if exec == nil {
		return nil, fmt.Errorf("scheduler: nil executor")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("scheduler: load timezone %q: %w", cfg.Timezone, err)
		}
	}
	reg := NewRegistry(loc)
	svc := &Service{
		cfg:  cfg,
		reg:  reg,
		loop: NewLoop(cfg, reg, exec, bus, log),
		exec: exec,
		bus:  bus,
		log:  log,
	}
	return svc, nil
}

// Apply installs updated settings on a live service. A running poller picks
// up the new interval on its next cycle; disabling stops the poller and
// re-enabling restarts it when schedules exist. The timezone is fixed at
// construction and a changed value only takes effect on restart.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	if cfg.Timezone != s.cfg.Timezone {
		s.log.Warn("scheduler timezone change needs a restart",
			logx.String("active", s.cfg.Timezone), logx.String("requested", cfg.Timezone))
		cfg.Timezone = s.cfg.Timezone
	}
	s.cfg = cfg
	s.mu.Unlock()

	s.loop.Apply(cfg)
	if !cfg.Enabled {
		s.loop.Stop(ctx)
		return
	}
	if s.reg.Len() > 0 {
		s.loop.Start(ctx)
	}
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Register adds or replaces a daily schedule and starts the poll loop if it
// is not already running. ctx is retained by the loop for the lifetime of
// the poller, so pass the process run context, not a request context.
func (s *Service) Register(ctx context.Context, connector string, at TimeOfDay, stage string) (Schedule, error) {
	cfg := s.config()
	if stage == "" {
		stage = cfg.DefaultStage
	}
	sched, err := s.reg.Register(connector, at, stage)
	if err != nil {
		return Schedule{}, err
	}
	s.log.Info("schedule registered",
		logx.String("key", sched.Key), logx.String("connector", sched.Connector),
		logx.String("stage", sched.Stage), logx.Time("next_fire", sched.NextFire))
	if cfg.Enabled {
		s.loop.Start(ctx)
	}
	return sched, nil
}

// List returns all schedules ordered by key.
func (s *Service) List() []Schedule { return s.reg.List() }

// Remove deletes a schedule by key. Removing an unknown key is a no-op.
// The loop keeps running even when the registry empties; an idle poller is
// cheap and the next Register reuses it.
func (s *Service) Remove(key string) {
	s.reg.Remove(key)
	s.log.Info("schedule removed", logx.String("key", key))
}

// RunNow executes a backup immediately, outside the schedule cadence. It
// publishes the same event stream as a scheduled run, flagged manual, and
// does not touch any schedule's next fire time.
func (s *Service) RunNow(ctx context.Context, connector, stage string) error {
	if connector == "" {
		return fmt.Errorf("%w: empty connector", ErrInvalidInput)
	}
	cfg := s.config()
	if stage == "" {
		stage = cfg.DefaultStage
	}
	if stage == "" {
		return fmt.Errorf("%w: empty stage", ErrInvalidInput)
	}

	started := time.Now()
	s.publish(eventbus.TypeBackupStarted, eventbus.BackupEvent{
		Connector: connector, Stage: stage, Manual: true, Started: started,
	})

	bctx := ctx
	var cancel context.CancelFunc
	if cfg.BackupTimeout > 0 {
		bctx, cancel = context.WithTimeout(ctx, cfg.BackupTimeout)
		defer cancel()
	}
	err := s.exec.Backup(bctx, connector, stage)
	dur := time.Since(started)
	if err != nil {
		s.publish(eventbus.TypeBackupFailed, eventbus.BackupEvent{
			Connector: connector, Stage: stage, Manual: true,
			Started: started, Duration: dur, Error: err.Error(),
		})
		return err
	}
	s.publish(eventbus.TypeBackupFinished, eventbus.BackupEvent{
		Connector: connector, Stage: stage, Manual: true,
		Started: started, Duration: dur,
	})
	return nil
}

// Running reports whether the poll loop is active.
func (s *Service) Running() bool { return s.loop.Running() }

// Stop halts the poll loop. In-flight backups run to completion; only the
// wait between cycles is interrupted. Idempotent.
func (s *Service) Stop(ctx context.Context) { s.loop.Stop(ctx) }

func (s *Service) publish(typ string, data eventbus.BackupEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
