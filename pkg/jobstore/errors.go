package jobstore

import "errors"

// Domain error kinds (spec §7). Wrapped with context via fmt.Errorf("...: %w")
// and matched with errors.Is at call sites.
var (
	ErrSchemaInvalid     = errors.New("jobstore: schema invalid")
	ErrUnknownBody       = errors.New("jobstore: unknown body")
	ErrParentTerminal    = errors.New("jobstore: parent already terminal")
	ErrIllegalTransition = errors.New("jobstore: illegal state transition")
	ErrCycleDetected     = errors.New("jobstore: cycle detected")
	ErrNotFound          = errors.New("jobstore: job not found")
)
