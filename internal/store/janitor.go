package store

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	logx "flowwatch/pkg/logx"
)

// Janitor prunes old run records on a fixed cron cadence.
type Janitor struct {
	c         *cron.Cron
	st        Store
	retention time.Duration
	log       logx.Logger
}

// NewJanitor schedules a daily prune of records older than retention.
// Returns nil when the store is absent or retention is zero.
func NewJanitor(st Store, retention time.Duration, log logx.Logger) *Janitor {
	if st == nil || retention <= 0 {
		return nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	j := &Janitor{
		c:         cron.New(),
		st:        st,
		retention: retention,
		log:       log,
	}
	// @daily runs at midnight; the exact hour does not matter for retention.
	_, _ = j.c.AddFunc("@daily", j.pruneOnce)
	return j
}

func (j *Janitor) Start() {
	if j == nil {
		return
	}
	// Prune immediately so a long-stopped instance catches up on start.
	go j.pruneOnce()
	j.c.Start()
}

func (j *Janitor) Stop() {
	if j == nil {
		return
	}
	<-j.c.Stop().Done()
}

func (j *Janitor) pruneOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cutoff := time.Now().Add(-j.retention).UnixMilli()
	n, err := j.st.Prune(ctx, cutoff)
	if err != nil {
		j.log.Warn("run history prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		j.log.Info("run history pruned", logx.Int64("dropped", n))
	}
}
