package app

import (
	"fmt"
	"strings"
	"time"

	"flowwatch/internal/config"
	"flowwatch/internal/monitor"
	"flowwatch/internal/notify"
	"flowwatch/internal/scheduler"
	"flowwatch/internal/server"
	"flowwatch/internal/store"
	"flowwatch/internal/warehouse"
)

// Mapping functions translate the on-disk config (string durations, JSON
// shapes) into the typed configs each component takes. They also double as
// validators for hot reload: a mapping error rejects the new config before
// anything is applied.

func mapWarehouseConfig(cfg *config.Config) (warehouse.Config, error) {
	w := cfg.Warehouse
	timeout, err := config.ParseDurationOrDefault("warehouse.query_timeout", w.QueryTimeout, 0)
	if err != nil {
		return warehouse.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(w.Driver))
	switch driver {
	case "", "snowflake":
		if strings.TrimSpace(w.Account) == "" {
			return warehouse.Config{}, fmt.Errorf("warehouse.account is required for the snowflake driver")
		}
	case "sqlite", "sqlite3":
		if strings.TrimSpace(w.Path) == "" {
			return warehouse.Config{}, fmt.Errorf("warehouse.path is required for the sqlite driver")
		}
	default:
		return warehouse.Config{}, fmt.Errorf("warehouse.driver: unknown driver %q", w.Driver)
	}
	return warehouse.Config{
		Driver:       w.Driver,
		Account:      w.Account,
		User:         w.User,
		Password:     w.Password,
		Warehouse:    w.Warehouse,
		Database:     w.Database,
		Schema:       w.Schema,
		Path:         w.Path,
		QueryTimeout: timeout,
		RatePerSec:   w.RatePerSec,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler
	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", s.PollInterval, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("scheduler.backup_timeout", s.BackupTimeout, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{
		Enabled:       s.Enabled,
		PollInterval:  poll,
		BackupTimeout: timeout,
		Timezone:      s.Timezone,
		DefaultStage:  s.DefaultStage,
	}, nil
}

func mapMonitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		LookbackMinutes:       cfg.Monitor.LookbackMinutes,
		StuckThresholdMinutes: cfg.Monitor.StuckThresholdMinutes,
	}
}

func mapServerConfig(cfg *config.Config) (server.Config, error) {
	s := cfg.Server
	read, err := config.ParseDurationOrDefault("server.read_timeout", s.ReadTimeout, 10*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("server.write_timeout", s.WriteTimeout, 30*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("server.idle_timeout", s.IdleTimeout, time.Minute)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Enabled:       s.Enabled,
		Addr:          s.Addr,
		Token:         s.Token,
		AllowInsecure: s.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// mapStoreConfig returns (cfg, enabled, err). A nil or "none" store section
// disables persistence.
func mapStoreConfig(cfg *config.Config) (store.Config, bool, error) {
	if cfg.Store == nil {
		return store.Config{}, false, nil
	}
	s := cfg.Store
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" || driver == "none" {
		return store.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("store.busy_timeout", s.BusyTimeout, 0)
	if err != nil {
		return store.Config{}, false, err
	}
	retention, err := config.ParseDurationOrDefault("store.retention", s.Retention, 720*time.Hour)
	if err != nil {
		return store.Config{}, false, err
	}
	if strings.TrimSpace(s.Path) == "" {
		return store.Config{}, false, fmt.Errorf("store.path is required when store.driver is %q", s.Driver)
	}
	return store.Config{
		Driver:      s.Driver,
		Path:        s.Path,
		BusyTimeout: busy,
		Retention:   retention,
	}, true, nil
}

func mapNotifyConfig(cfg *config.Config) notify.Config {
	if cfg.Notify == nil {
		return notify.Config{}
	}
	return notify.Config{
		Enabled: cfg.Notify.Enabled,
		Token:   cfg.Notify.Token,
		ChatID:  cfg.Notify.ChatID,
	}
}
