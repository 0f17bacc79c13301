package bodies

import (
	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
)

// ExtendFunc grows the tree beneath job, creating one or more children via
// store. It must not call onSuccess/onFailure itself — PivotBody owns that.
type ExtendFunc func(job *types.Job, store jobstore.Store, logger zerolog.Logger) error

// PivotBody is a Body that extends the job tree beneath itself rather than
// producing output directly (spec §4.5: "a body MAY create additional
// child jobs beneath itself before reporting success"). It never calls
// onSuccess: the Dispatcher's tryFinalizeParent completes a pivot job once
// every child it created has reached SUCCESS, using the job's own
// accumulated context as its output. A PivotBody only calls onFailure, and
// only if growing the tree itself fails before any child exists.
type PivotBody struct {
	Store  jobstore.Store
	Extend ExtendFunc
}

// Start implements Body.
func (p *PivotBody) Start(job *types.Job, logger zerolog.Logger, onSuccess SuccessFunc, onFailure FailureFunc) {
	if err := p.Extend(job, p.Store, logger); err != nil {
		onFailure(err.Error())
	}
}

// WorkFunc performs a body's own synchronous work before it pivots into a
// child job, returning a context fragment to merge into the job's own
// context (visible to the Extend step and to whatever later reads this
// job's output).
type WorkFunc func(job *types.Job, logger zerolog.Logger) (types.Context, error)

// ChainBody composes a body that does its own work and then extends the
// tree beneath itself with the next step, the pattern SPEC_FULL.md
// describes for register_request -> select_locations and for
// pre_startup -> startup -> routing.update: "each step is a pivot body
// that creates the next step as its own child". Like PivotBody, it never
// calls onSuccess itself; the Dispatcher completes it once its child
// reaches SUCCESS.
type ChainBody struct {
	Store  jobstore.Store
	Work   WorkFunc
	Extend ExtendFunc
}

// Start implements Body.
func (c *ChainBody) Start(job *types.Job, logger zerolog.Logger, onSuccess SuccessFunc, onFailure FailureFunc) {
	frag, err := c.Work(job, logger)
	if err != nil {
		onFailure(err.Error())
		return
	}
	if len(frag) > 0 {
		if err := c.Store.AppendContext(job.JobID, frag); err != nil {
			onFailure(err.Error())
			return
		}
	}
	current, err := c.Store.Get(job.JobID)
	if err != nil {
		onFailure(err.Error())
		return
	}
	if err := c.Extend(current, c.Store, logger); err != nil {
		onFailure(err.Error())
	}
}
