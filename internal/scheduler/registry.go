package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry is the guarded map of schedule key -> Schedule. It owns all
// schedule state exclusively; the loop and the dashboard surface go through
// its methods and never share references to internal entries.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Schedule
	loc     *time.Location

	// now is swappable for tests.
	now func() time.Time
}

func NewRegistry(loc *time.Location) *Registry {
	if loc == nil {
		loc = time.Local
	}
	return &Registry{
		entries: map[string]Schedule{},
		loc:     loc,
		now:     time.Now,
	}
}

// Key derives the registry key for a (connector, time-of-day) pair. Two
// registrations with the same pair address the same slot, so re-registering
// replaces rather than duplicates.
func Key(connector string, at TimeOfDay) string {
	return fmt.Sprintf("%s_%s", connector, at)
}

// Register creates (or replaces) the schedule for (connector, at). The
// initial NextFire is the next occurrence of at strictly after now: today if
// the time is still ahead, tomorrow otherwise.
//
// Replacing an existing key implicitly cancels the old entry's pending fire:
// the loop consults live registry state, not a separate timer list.
func (r *Registry) Register(connector string, at TimeOfDay, stage string) (Schedule, error) {
	connector = strings.TrimSpace(connector)
	stage = strings.TrimSpace(stage)
	if connector == "" {
		return Schedule{}, fmt.Errorf("%w: connector is required", ErrInvalidInput)
	}
	if !at.Valid() {
		return Schedule{}, fmt.Errorf("%w: time of day %d:%d out of range", ErrInvalidInput, at.Hour, at.Minute)
	}
	if stage == "" {
		return Schedule{}, fmt.Errorf("%w: stage is required", ErrInvalidInput)
	}

	key := Key(connector, at)

	r.mu.Lock()
	defer r.mu.Unlock()
	s := Schedule{
		Key:       key,
		Connector: connector,
		Stage:     stage,
		At:        at,
		NextFire:  r.nextOccurrenceLocked(r.now(), at),
	}
	r.entries[key] = s
	return s, nil
}

// List returns a snapshot of all schedules ordered by key. Mutating the
// returned slice does not affect the registry.
func (r *Registry) List() []Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Schedule, 0, len(r.entries))
	for _, s := range r.entries {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Due returns every schedule with NextFire <= now, ordered by key. It does
// not mutate state; advancing is the loop's explicit follow-up step.
func (r *Registry) Due(now time.Time) []Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Schedule
	for _, s := range r.entries {
		if !s.NextFire.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Advance moves the schedule's NextFire to the next occurrence of its
// time-of-day strictly after now. Unknown keys are a no-op so the loop never
// trips over a schedule removed or replaced mid-cycle.
func (r *Registry) Advance(key string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[key]
	if !ok {
		return
	}
	s.NextFire = r.nextOccurrenceLocked(now, s.At)
	r.entries[key] = s
}

// Remove deletes the schedule. Removing an absent key is a no-op.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}

// Len reports the number of registered schedules.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// nextOccurrenceLocked returns the first instant at time-of-day strictly
// after now, in the registry's location. Building candidates via time.Date
// keeps the wall-clock time stable across DST transitions.
func (r *Registry) nextOccurrenceLocked(now time.Time, at TimeOfDay) time.Time {
	local := now.In(r.loc)
	y, m, d := local.Date()
	for add := 0; ; add++ {
		cand := time.Date(y, m, d+add, at.Hour, at.Minute, 0, 0, r.loc)
		if cand.After(now) {
			return cand
		}
	}
}
