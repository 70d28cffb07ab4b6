package monitor

import (
	"context"
	"fmt"
	"sync"

	"flowwatch/internal/warehouse"
	logx "flowwatch/pkg/logx"
)

// Config controls the telemetry lookback window and thresholds.
type Config struct {
	// LookbackMinutes bounds how far back telemetry queries reach.
	// Clamped to [5, 1440]; default 30.
	LookbackMinutes int
	// StuckThresholdMinutes flags connections whose flowfiles have been
	// queued longer than this. Default 30.
	StuckThresholdMinutes int
}

func (c Config) withDefaults() Config {
	if c.LookbackMinutes <= 0 {
		c.LookbackMinutes = 30
	}
	if c.LookbackMinutes < 5 {
		c.LookbackMinutes = 5
	}
	if c.LookbackMinutes > 1440 {
		c.LookbackMinutes = 1440
	}
	if c.StuckThresholdMinutes <= 0 {
		c.StuckThresholdMinutes = 30
	}
	return c
}

// Service runs the dashboard's read-only queries against the warehouse.
//
// Every query absorbs transport failures: the dashboard always receives a
// table with the expected column set, empty when the warehouse is unreachable.
type Service struct {
	client warehouse.Client
	log    logx.Logger

	mu  sync.Mutex
	cfg Config
}

func New(cfg Config, client warehouse.Client, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{client: client, log: log, cfg: cfg.withDefaults()}
}

// Apply updates the lookback/threshold settings. Safe during hot reload.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) run(ctx context.Context, what, query string, fallback []string) warehouse.Table {
	t, err := s.client.Query(ctx, query)
	if err != nil {
		s.log.Warn("telemetry query failed; substituting empty result",
			logx.String("query", what), logx.Err(err))
		return warehouse.Empty(fallback...)
	}
	if len(t.Columns) == 0 {
		return warehouse.Empty(fallback...)
	}
	return t
}

// ConnectorStatus returns the latest run-status sample per connector pod.
func (s *Service) ConnectorStatus(ctx context.Context) warehouse.Table {
	cfg := s.config()
	return s.run(ctx, "connector_status", fmt.Sprintf(connectorStatusQuery, cfg.LookbackMinutes), connectorStatusColumns)
}

// AvailableConnectors lists connector names seen in the lookback window.
func (s *Service) AvailableConnectors(ctx context.Context) []string {
	cfg := s.config()
	t, err := s.client.Query(ctx, fmt.Sprintf(availableConnectorsQuery, cfg.LookbackMinutes))
	if err != nil {
		s.log.Warn("available connectors query failed", logx.Err(err))
		return []string{}
	}
	names := make([]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		if len(row) == 0 {
			continue
		}
		if name, ok := row[0].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}

// ErrorLogs returns ERROR-level runtime log records.
func (s *Service) ErrorLogs(ctx context.Context) warehouse.Table {
	cfg := s.config()
	return s.run(ctx, "error_logs", fmt.Sprintf(errorLogsQuery, cfg.LookbackMinutes), errorLogsColumns)
}

// StuckFlowFiles returns connections whose queued flowfiles exceed the
// configured threshold.
func (s *Service) StuckFlowFiles(ctx context.Context) warehouse.Table {
	cfg := s.config()
	return s.run(ctx, "stuck_flowfiles",
		fmt.Sprintf(stuckFlowFilesQuery, cfg.LookbackMinutes, cfg.StuckThresholdMinutes), stuckFlowFilesColumns)
}

// CreditUsage returns the rolling 30-day credit analysis per runtime.
func (s *Service) CreditUsage(ctx context.Context) warehouse.Table {
	return s.run(ctx, "credit_usage", creditUsageQuery, creditUsageColumns)
}
