package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"flowwatch/internal/backup"
	"flowwatch/internal/eventbus"
	logx "flowwatch/pkg/logx"
)

// Loop is the single background poller that turns due schedules into
// executor invocations.
//
// State machine: Stopped -> Running -> Stopped. Start is a no-op while
// running (never a second poller), Stop is idempotent and interrupts the
// inter-cycle wait promptly. Stop never cancels an in-flight executor call;
// it waits for the current cycle to finish.
type Loop struct {
	mu  sync.Mutex
	cfg Config

	reg  *Registry
	exec backup.Executor
	bus  eventbus.Bus
	log  logx.Logger

	// now is swappable for tests.
	now func() time.Time

	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; closed when the
	// poller has fully exited.
	stopDone chan struct{}
	wg       sync.WaitGroup
}

func NewLoop(cfg Config, reg *Registry, exec backup.Executor, bus eventbus.Bus, log logx.Logger) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{cfg: cfg, reg: reg, exec: exec, bus: bus, log: log, now: time.Now}
}

// Apply updates loop settings. A running poller picks up the new poll
// interval on its next cycle; the backup timeout and failure hook apply to
// the next fire.
func (l *Loop) Apply(cfg Config) {
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

func (l *Loop) config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Running reports whether the poller is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopCh != nil && l.stopDone == nil
}

// Start transitions Stopped -> Running. If a Stop is in progress it waits for
// it to complete first (prevents a second concurrent poller); if already
// running it returns immediately.
func (l *Loop) Start(ctx context.Context) {
	for {
		l.mu.Lock()
		if l.stopCh == nil {
			break
		}
		done := l.stopDone
		if done == nil {
			// already running
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()
		select {
		case <-done:
			// loop and try again
		case <-ctx.Done():
			return
		}
	}
	defer l.mu.Unlock()

	l.stopCh = make(chan struct{})
	stopCh := l.stopCh
	interval := l.cfg.pollInterval()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				l.log.Error("panic in scheduler loop",
					logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		l.run(ctx, stopCh)
	}()
	l.log.Info("scheduler loop started", logx.Duration("interval", interval))
}

// Stop transitions Running -> Stopped. It interrupts the current wait,
// blocks until the in-progress cycle (if any) completes, then returns.
// Calling Stop when already stopped is a no-op. If ctx expires first, the
// shutdown continues in the background.
func (l *Loop) Stop(ctx context.Context) {
	l.mu.Lock()
	if l.stopCh == nil {
		l.mu.Unlock()
		return
	}
	if l.stopDone != nil {
		done := l.stopDone
		l.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	l.stopDone = done
	stopCh := l.stopCh
	l.mu.Unlock()

	start := time.Now()
	close(stopCh)

	go func() {
		l.wg.Wait()
		l.mu.Lock()
		l.stopCh = nil
		l.stopDone = nil
		l.mu.Unlock()
		close(done)
		l.log.Info("scheduler loop stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

func (l *Loop) run(ctx context.Context, stopCh <-chan struct{}) {
	for {
		l.poll(ctx)
		// The interval is re-read each cycle so Apply retunes a running
		// poller without a restart.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-time.After(l.config().pollInterval()):
		}
	}
}

// poll fires every due schedule once, in key order. The executor call runs
// outside any lock; a registration replacing a key mid-execution is fine
// because Advance operates on whatever entry currently holds that key.
func (l *Loop) poll(ctx context.Context) {
	now := l.now()
	cfg := l.config()
	due := l.reg.Due(now)
	for _, s := range due {
		err := l.fire(ctx, cfg, s)
		// Advance regardless of outcome: no sub-daily retry, the next
		// chance is tomorrow's fire time.
		l.reg.Advance(s.Key, l.now())
		if err != nil && cfg.OnFailure != nil {
			cfg.OnFailure(s, err)
		}
	}
}

func (l *Loop) fire(ctx context.Context, cfg Config, s Schedule) error {
	started := l.now()
	l.publish(eventbus.TypeBackupStarted, eventbus.BackupEvent{
		Key: s.Key, Connector: s.Connector, Stage: s.Stage, Started: started,
	})

	bctx := ctx
	var cancel context.CancelFunc
	if cfg.BackupTimeout > 0 {
		bctx, cancel = context.WithTimeout(ctx, cfg.BackupTimeout)
	}
	err := l.exec.Backup(bctx, s.Connector, s.Stage)
	if cancel != nil {
		cancel()
	}

	dur := l.now().Sub(started)
	if err != nil {
		l.log.Warn("scheduled backup failed",
			logx.String("key", s.Key), logx.String("connector", s.Connector),
			logx.String("stage", s.Stage), logx.Duration("dur", dur), logx.Err(err))
		l.publish(eventbus.TypeBackupFailed, eventbus.BackupEvent{
			Key: s.Key, Connector: s.Connector, Stage: s.Stage,
			Started: started, Duration: dur, Error: err.Error(),
		})
		return err
	}
	l.log.Info("scheduled backup finished",
		logx.String("key", s.Key), logx.String("connector", s.Connector),
		logx.String("stage", s.Stage), logx.Duration("dur", dur))
	l.publish(eventbus.TypeBackupFinished, eventbus.BackupEvent{
		Key: s.Key, Connector: s.Connector, Stage: s.Stage,
		Started: started, Duration: dur,
	})
	return nil
}

func (l *Loop) publish(typ string, data eventbus.BackupEvent) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
