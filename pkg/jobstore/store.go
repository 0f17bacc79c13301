package jobstore

import "github.com/cuemby/pacemaker/pkg/types"

// BodyRegistry is the narrow view of the Job Body Registry the store needs
// to validate a job at creation time, without importing pkg/bodies and
// creating a package cycle (pkg/bodies in turn depends on pkg/jobstore to
// extend trees from a running body).
type BodyRegistry interface {
	Exists(bodyType string) bool
	Validate(bodyType string, parameters types.Context) error
}

// CreateJobSpec describes a job to insert (spec §4.1 create_job).
type CreateJobSpec struct {
	BodyType     string
	Parameters   types.Context
	Title        string
	ParentID     string
	Node         string
	ContextSeed  types.Context
}

// Store is the Job Record Store (spec §4.1): the single source of truth for
// every job in every tree.
type Store interface {
	CreateJob(spec CreateJobSpec) (string, error)
	Get(jobID string) (*types.Job, error)
	Children(jobID string) ([]*types.Job, error)
	Tree(rootID string) ([]*types.Job, error)
	SetState(jobID string, newState types.JobState, summary string) error
	AppendContext(jobID string, fragment types.Context) error
	Arm(rootID string) error
	// Roots returns the id of every root job currently armed and not yet
	// terminal, for the Runnable Selector to sweep.
	Roots() ([]string, error)
	Close() error
}
