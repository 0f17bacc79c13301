package dispatch

import "errors"

// Transient transport error kinds (spec §7); retried per §4.4 policy before
// being converted into a job's FAILED terminal state.
var (
	ErrNodeUnreachable = errors.New("dispatch: node unreachable")
	ErrTimeout         = errors.New("dispatch: job timed out")
	ErrChannelClosed   = errors.New("dispatch: node channel closed")
	ErrDuplicateResult = errors.New("dispatch: duplicate result delivery")
)
