package ticket

import (
	"errors"
	"fmt"
)

// Error kinds shared across the coordinator, the CLI, and the supervisor.
// Callers classify with errors.Is; messages carry the specifics.
var (
	// ErrNotFound covers missing tickets, blocker edges, and containers.
	ErrNotFound = errors.New("not found")

	// ErrConflict covers duplicate blocker edges and forbidden transitions.
	ErrConflict = errors.New("conflict")

	// ErrValidation covers empty titles, empty update sets, and bad enums.
	ErrValidation = errors.New("invalid input")

	// ErrUnavailable means the container runtime could not be reached.
	ErrUnavailable = errors.New("runtime unavailable")

	// ErrBusy means the write lock could not be acquired within the busy
	// timeout. Retryable.
	ErrBusy = errors.New("database busy")

	// ErrNoWork means no ticket currently satisfies the claim conditions.
	ErrNoWork = errors.New("no claimable ticket")
)

// SchemaError reports a mismatch between the schema version recorded in the
// database and the version this binary expects. Fatal: the operator must
// run migrate or update the binary.
type SchemaError struct {
	Current  int  // version recorded in the database
	Expected int  // version this binary was built against
	Missing  bool // no schema_version record at all
}

func (e *SchemaError) Error() string {
	switch {
	case e.Missing:
		return "database not initialized: run 'ticket migrate' first"
	case e.Current < e.Expected:
		return fmt.Sprintf("database schema outdated (v%d, need v%d): run 'ticket migrate'", e.Current, e.Expected)
	default:
		return fmt.Sprintf("database schema newer than this binary (v%d > v%d): update your swarm toolkit", e.Current, e.Expected)
	}
}
