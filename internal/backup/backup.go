package backup

import (
	"context"
	"fmt"
	"regexp"
)

// Executor performs a one-shot export of a connector's configuration to a
// named stage. Implementations must be safe for concurrent use; callers may
// retry the same (connector, stage) pair across days.
type Executor interface {
	Backup(ctx context.Context, connector, stage string) error
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, connector, stage string) error

func (f Func) Backup(ctx context.Context, connector, stage string) error {
	return f(ctx, connector, stage)
}

// identRe matches identifiers we are willing to splice into SQL statements.
// Connector and stage names come from operator input and telemetry, never
// from bind parameters (DDL does not accept them), so they are validated hard.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.$-]*$`)

func validIdent(s string) bool { return identRe.MatchString(s) }

// ExecError reports a failed backup attempt for a single connector.
type ExecError struct {
	Connector string
	Stage     string
	Err       error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("backup connector %s to stage %s: %v", e.Connector, e.Stage, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }
