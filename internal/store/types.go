package store

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("store disabled")

// Config configures run-history persistence.
//
// Driver values:
//   - "file": dependency-free append-only JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", persistence is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retention bounds how long finished run records are kept.
	// Zero disables pruning.
	Retention time.Duration
}

// RunRecord is one backup attempt, scheduled or manual.
// Keep it compact and schema-stable.
type RunRecord struct {
	At        time.Time `json:"at"`
	Connector string    `json:"connector"`
	Stage     string    `json:"stage"`
	Key       string    `json:"key,omitempty"`
	Manual    bool      `json:"manual,omitempty"`
	OK        bool      `json:"ok"`
	TookMS    int64     `json:"took_ms"`
	Error     string    `json:"error,omitempty"`
}
