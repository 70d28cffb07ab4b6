package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sf "github.com/snowflakedb/gosnowflake"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	logx "flowwatch/pkg/logx"
)

// Table is a generic tabular query result, the unit of exchange between the
// warehouse and the dashboard.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Empty returns a Table with the given columns and no rows. Monitor queries
// use it to keep the dashboard shape stable when the warehouse is unreachable.
func Empty(columns ...string) Table {
	return Table{Columns: columns, Rows: [][]any{}}
}

// Client issues read queries against the analytics store.
type Client interface {
	Query(ctx context.Context, query string, args ...any) (Table, error)
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

type Config struct {
	Driver    string
	Account   string
	User      string
	Password  string
	Warehouse string
	Database  string
	Schema    string
	Path      string // sqlite only

	QueryTimeout time.Duration
	RatePerSec   int
}

// Open initializes the configured warehouse client.
func Open(cfg Config, log logx.Logger) (Client, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "snowflake":
		return openSnowflake(cfg, log)
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("warehouse.path is required for sqlite driver")
		}
		db, err := sql.Open("sqlite", cfg.Path)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return newSQLClient(db, cfg, log), nil
	default:
		return nil, errors.New("unknown warehouse driver: " + driver)
	}
}

func openSnowflake(cfg Config, log logx.Logger) (Client, error) {
	if cfg.Account == "" || cfg.User == "" || cfg.Password == "" || cfg.Warehouse == "" {
		return nil, errors.New("warehouse: account, user, password and warehouse are required")
	}
	dsn, err := sf.DSN(&sf.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  cfg.Password,
		Warehouse: cfg.Warehouse,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
	})
	if err != nil {
		return nil, fmt.Errorf("warehouse: build dsn: %w", err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, err
	}
	// Dashboard traffic is bursty but small; keep the pool tiny.
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newSQLClient(db, cfg, log), nil
}

type sqlClient struct {
	db      *sql.DB
	limiter *rate.Limiter
	timeout time.Duration
	log     logx.Logger
}

func newSQLClient(db *sql.DB, cfg Config, log logx.Logger) *sqlClient {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &sqlClient{
		db:      db,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		timeout: timeout,
		log:     log,
	}
}

func (c *sqlClient) Query(ctx context.Context, query string, args ...any) (Table, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Table{}, err
	}
	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	rows, err := c.db.QueryContext(qctx, query, args...)
	if err != nil {
		return Table{}, fmt.Errorf("warehouse query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Table{}, fmt.Errorf("warehouse columns: %w", err)
	}

	t := Table{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Table{}, fmt.Errorf("warehouse scan: %w", err)
		}
		for i, v := range vals {
			// Drivers hand back []byte for text; keep rows JSON-friendly.
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		t.Rows = append(t.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("warehouse rows: %w", err)
	}
	// The SQL text can run long; only pay for trimming it when trace is on.
	if c.log.Enabled(logx.LevelTrace) {
		c.log.Trace("query done", logx.String("sql", headSQL(query)),
			logx.Int("rows", len(t.Rows)), logx.Duration("dur", time.Since(start)))
	}
	return t, nil
}

// headSQL collapses whitespace and truncates a statement to a log-friendly
// prefix.
func headSQL(query string) string {
	s := strings.Join(strings.Fields(query), " ")
	const max = 120
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func (c *sqlClient) Exec(ctx context.Context, query string, args ...any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := c.db.ExecContext(qctx, query, args...); err != nil {
		return fmt.Errorf("warehouse exec: %w", err)
	}
	return nil
}

func (c *sqlClient) Close() error { return c.db.Close() }
