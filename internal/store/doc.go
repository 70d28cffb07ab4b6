// Package store persists backup run history.
//
// It currently supports:
//   - Append-only run records (one per backup attempt)
//   - Recent-run queries for the dashboard history endpoint
//   - Retention pruning via a daily janitor
package store
