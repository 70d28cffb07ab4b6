package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidInput marks malformed registration parameters. Callers can test
// for it with errors.Is and map it to a 400-class response.
var ErrInvalidInput = errors.New("invalid input")

// TimeOfDay is a daily fire time (hour/minute) in the registry's location.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MarshalJSON renders the time as its "HH:MM" string form.
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("%w: time must be a %q string", ErrInvalidInput, "HH:MM")
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("%w: time %q, expected HH:MM", ErrInvalidInput, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("%w: invalid hour in %q", ErrInvalidInput, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: invalid minute in %q", ErrInvalidInput, s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// Schedule is a recurring daily backup intent.
type Schedule struct {
	Key       string    `json:"key"`
	Connector string    `json:"connector"`
	Stage     string    `json:"stage"`
	At        TimeOfDay `json:"time"`
	NextFire  time.Time `json:"next_fire"`
}

// Config controls the scheduler service.
type Config struct {
	Enabled bool
	// PollInterval bounds worst-case fire latency; default 60s.
	PollInterval time.Duration
	// BackupTimeout is applied per executor call; 0 disables the timeout.
	BackupTimeout time.Duration
	// Timezone is the IANA zone fire times are interpreted in; empty = local.
	Timezone string
	// DefaultStage is used when a registration omits the stage.
	DefaultStage string
	// OnFailure, when set, observes each failed attempt after its schedule
	// has been advanced. It must not block; the loop calls it inline.
	OnFailure func(s Schedule, err error)
}

const defaultPollInterval = 60 * time.Second

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return defaultPollInterval
}
