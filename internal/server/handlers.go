package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"flowwatch/internal/scheduler"
	"flowwatch/internal/store"
	"flowwatch/internal/warehouse"
	logx "flowwatch/pkg/logx"
)

// Monitor is the telemetry surface the dashboard reads.
type Monitor interface {
	ConnectorStatus(ctx context.Context) warehouse.Table
	AvailableConnectors(ctx context.Context) []string
	ErrorLogs(ctx context.Context) warehouse.Table
	StuckFlowFiles(ctx context.Context) warehouse.Table
	CreditUsage(ctx context.Context) warehouse.Table
}

// Backups is the slice of the scheduler service the API drives.
type Backups interface {
	Register(ctx context.Context, connector string, at scheduler.TimeOfDay, stage string) (scheduler.Schedule, error)
	List() []scheduler.Schedule
	Remove(key string)
	RunNow(ctx context.Context, connector, stage string) error
}

// History reads persisted run records. May be nil when persistence is off.
type History interface {
	RecentRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
}

// API holds the handlers behind the HTTP service.
type API struct {
	mon   Monitor
	sched Backups
	hist  History
	log   logx.Logger

	// run outlives any single request; schedule registrations hand it to
	// the poll loop.
	run context.Context
}

func NewAPI(run context.Context, mon Monitor, sched Backups, hist History, log logx.Logger) *API {
	if run == nil {
		run = context.Background()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &API{mon: mon, sched: sched, hist: hist, log: log, run: run}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/connectors", a.handleConnectors)
	mux.HandleFunc("GET /api/connectors/names", a.handleNames)
	mux.HandleFunc("GET /api/errors", a.handleErrors)
	mux.HandleFunc("GET /api/stuck", a.handleStuck)
	mux.HandleFunc("GET /api/credits", a.handleCredits)

	mux.HandleFunc("GET /api/backup/schedules", a.handleListSchedules)
	mux.HandleFunc("POST /api/backup/schedules", a.handleRegisterSchedule)
	mux.HandleFunc("DELETE /api/backup/schedules/{key}", a.handleRemoveSchedule)
	mux.HandleFunc("POST /api/backup/run", a.handleRunNow)
	mux.HandleFunc("GET /api/backup/history", a.handleHistory)

	return mux
}

func (a *API) handleConnectors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.mon.ConnectorStatus(r.Context()))
}

func (a *API) handleNames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"connectors": a.mon.AvailableConnectors(r.Context())})
}

func (a *API) handleErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.mon.ErrorLogs(r.Context()))
}

func (a *API) handleStuck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.mon.StuckFlowFiles(r.Context()))
}

func (a *API) handleCredits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.mon.CreditUsage(r.Context()))
}

func (a *API) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schedules": a.sched.List()})
}

type registerRequest struct {
	Connector string `json:"connector"`
	Time      string `json:"time"`
	Stage     string `json:"stage"`
}

func (a *API) handleRegisterSchedule(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	at, err := scheduler.ParseTimeOfDay(req.Time)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s, err := a.sched.Register(a.run, req.Connector, at, req.Stage)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (a *API) handleRemoveSchedule(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if strings.TrimSpace(key) == "" {
		writeError(w, http.StatusBadRequest, errors.New("schedule key is required"))
		return
	}
	a.sched.Remove(key)
	w.WriteHeader(http.StatusNoContent)
}

type runRequest struct {
	Connector string `json:"connector"`
	Stage     string `json:"stage"`
}

func (a *API) handleRunNow(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.sched.RunNow(r.Context(), req.Connector, req.Stage); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.hist == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []store.RunRecord{}})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be 1..1000"))
			return
		}
		limit = n
	}
	runs, err := a.hist.RecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// statusFor maps domain errors onto HTTP codes: bad input is the caller's
// fault, anything else surfaced here is a failed backup attempt.
func statusFor(err error) int {
	if errors.Is(err, scheduler.ErrInvalidInput) {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
