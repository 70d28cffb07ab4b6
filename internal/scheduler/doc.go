// Package scheduler implements daily connector backup scheduling.
//
// A Registry holds at most one schedule per (connector, time-of-day) pair,
// keyed "connector_HH:MM"; registering the same pair again replaces the
// entry. A single Loop polls the registry, fires due schedules through a
// backup.Executor and advances each fired schedule to the next day
// regardless of outcome. One schedule failing never prevents the others in
// the same cycle from firing.
package scheduler
