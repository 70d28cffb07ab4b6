package config

type Config struct {
	Warehouse WarehouseConfig `json:"warehouse"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Monitor   MonitorConfig   `json:"monitor"`
	Server    ServerConfig    `json:"server"`
	Store     *StoreConfig    `json:"store,omitempty"`
	Notify    *NotifyConfig   `json:"notify,omitempty"`
}

// WarehouseConfig selects and configures the analytics store the dashboard
// queries. Driver "snowflake" is the production target; "sqlite" exists for
// local development against a fixture database.
type WarehouseConfig struct {
	Driver    string `json:"driver"`
	Account   string `json:"account,omitempty"`
	User      string `json:"user,omitempty"`
	Password  string `json:"password,omitempty"`
	Warehouse string `json:"warehouse,omitempty"`
	Database  string `json:"database,omitempty"`
	Schema    string `json:"schema,omitempty"`
	// Path is the database file for the sqlite driver.
	Path string `json:"path,omitempty"`
	// QueryTimeout is a Go duration string (e.g. "30s").
	QueryTimeout string `json:"query_timeout,omitempty"`
	// RatePerSec bounds queries issued per second (0 = default).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the backup scheduler loop.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// PollInterval is a Go duration string; default "60s". It bounds the
	// worst-case fire latency of a due schedule.
	PollInterval string `json:"poll_interval,omitempty"`
	// Timezone is the IANA zone fire times are interpreted in.
	// Empty means process-local time.
	Timezone string `json:"timezone,omitempty"`
	// BackupTimeout is a Go duration string applied per executor call.
	BackupTimeout string `json:"backup_timeout,omitempty"`
	// DefaultStage is the stage used when a registration omits one.
	DefaultStage string `json:"default_stage,omitempty"`
}

// MonitorConfig controls the read-only telemetry queries.
type MonitorConfig struct {
	// LookbackMinutes is how far back telemetry queries reach (5..1440).
	LookbackMinutes int `json:"lookback_minutes,omitempty"`
	// StuckThresholdMinutes flags connections with flowfiles queued longer
	// than this. Default 30.
	StuckThresholdMinutes int `json:"stuck_threshold_minutes,omitempty"`
}

// ServerConfig controls the dashboard JSON API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type ServerConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StoreConfig controls the backup run-history store.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./flowwatch.db" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// Retention is how long run records are kept; Go duration string,
	// default "720h" (30 days).
	Retention string `json:"retention,omitempty"`
}

// NotifyConfig controls the optional Telegram alert sink for failed backups.
type NotifyConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
}
