// Package app wires configuration, telemetry, scheduling and the HTTP API
// into one process.
package app

import (
	"context"
	"time"

	"flowwatch/internal/backup"
	"flowwatch/internal/config"
	"flowwatch/internal/eventbus"
	"flowwatch/internal/monitor"
	"flowwatch/internal/notify"
	"flowwatch/internal/runtime/supervisor"
	"flowwatch/internal/scheduler"
	"flowwatch/internal/server"
	"flowwatch/internal/store"
	"flowwatch/internal/warehouse"
	logx "flowwatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	wh    warehouse.Client
	mon   *monitor.Service
	st    store.Store
	jan   *store.Janitor
	sched *scheduler.Service
	srv   *server.Service
	notif *notify.Notifier
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	whCfg, err := mapWarehouseConfig(cfg)
	if err != nil {
		return nil, err
	}
	wh, err := warehouse.Open(whCfg, log.With(logx.String("comp", "warehouse")))
	if err != nil {
		return nil, err
	}

	mon := monitor.New(mapMonitorConfig(cfg), wh, log.With(logx.String("comp", "monitor")))

	var (
		st  store.Store
		jan *store.Janitor
	)
	if sc, enabled, err := mapStoreConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err = store.Open(sc, log.With(logx.String("comp", "store")))
		if err != nil {
			return nil, err
		}
		jan = store.NewJanitor(st, sc.Retention, log.With(logx.String("comp", "store")))
		log.Info("run history enabled", logx.String("driver", sc.Driver))
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	exporter := backup.NewStageExporter(wh, log.With(logx.String("comp", "backup")))
	sched, err := scheduler.NewService(schedCfg, exporter, bus, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		return nil, err
	}

	notif, err := notify.New(mapNotifyConfig(cfg), bus, log.With(logx.String("comp", "notify")))
	if err != nil {
		return nil, err
	}

	// The server is built in Start: its API handler needs the supervisor's
	// run context, which does not exist yet. Validate its config now so a
	// bad file fails fast.
	if _, err := mapServerConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		wh:    wh,
		mon:   mon,
		st:    st,
		jan:   jan,
		sched: sched,
		notif: notif,
	}
	return a, nil
}

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	// The API needs the run context so dashboard registrations can start
	// the poll loop with a context that outlives the request.
	srvCfg, err := mapServerConfig(a.cfgm.Get())
	if err != nil {
		return err
	}
	api := server.NewAPI(run, a.mon, a.sched, a.history(), a.log.With(logx.String("comp", "api")))
	a.srv = server.New(srvCfg, api, a.log.With(logx.String("comp", "api")))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapWarehouseConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapServerConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStoreConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	a.srv.Start(run)
	a.notif.Start(run)
	if a.jan != nil {
		a.jan.Start()
	}

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// Hot-reload fan-out: logging, monitor and scheduler settings apply in
	// place. Warehouse and server changes need a restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				a.mon.Apply(mapMonitorConfig(cfg))
				// The validator vetted this config before publish, so
				// mapping cannot fail here.
				if sc, err := mapSchedulerConfig(cfg); err == nil {
					a.sched.Apply(c, sc)
				}
				a.log.Info("config reloaded")
			}
		}
	})

	// Record every finished or failed backup in the run history.
	if a.st != nil {
		events, unsub := a.bus.Subscribe(64)
		a.sup.Go("history.record", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					a.recordRun(e)
				}
			}
		})
	}

	a.log.Info("flowwatch started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// Order: stop intake first (API), then the loop, then sinks.
	if a.srv != nil {
		a.srv.Stop(ctx)
	}
	a.sched.Stop(ctx)
	a.notif.Stop()
	if a.jan != nil {
		a.jan.Stop()
	}

	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if a.st != nil {
		_ = a.st.Close()
	}
	if a.wh != nil {
		_ = a.wh.Close()
	}
	a.log.Info("flowwatch stopped")
	_ = a.logs.Close()
	return err
}

func (a *App) history() server.History {
	if a.st == nil {
		return nil
	}
	return a.st
}

func (a *App) recordRun(e eventbus.Event) {
	if e.Type != eventbus.TypeBackupFinished && e.Type != eventbus.TypeBackupFailed {
		return
	}
	be, ok := e.Data.(eventbus.BackupEvent)
	if !ok {
		return
	}
	rec := store.RunRecord{
		At:        be.Started,
		Connector: be.Connector,
		Stage:     be.Stage,
		Key:       be.Key,
		Manual:    be.Manual,
		OK:        e.Type == eventbus.TypeBackupFinished,
		TookMS:    be.Duration.Milliseconds(),
		Error:     be.Error,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.st.AppendRun(ctx, rec); err != nil {
		a.log.Warn("run record not persisted",
			logx.String("connector", rec.Connector), logx.Err(err))
	}
}
