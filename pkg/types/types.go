// Package types holds the data model shared by every package in the job
// manager: jobs, nodes, and the opaque entity identifiers the job bodies
// operate on.
package types

import "time"

// JobState is one of a job's lifecycle states. Initial state is always
// JobNew; JobSuccess, JobFailed, and JobAborted are terminal.
type JobState string

const (
	JobNew     JobState = "NEW"
	JobWaiting JobState = "WAITING"
	JobRunning JobState = "RUNNING"
	JobSuccess JobState = "SUCCESS"
	JobFailed  JobState = "FAILED"
	JobAborted JobState = "ABORTED"
)

// Terminal reports whether s is one of the three terminal states.
func (s JobState) Terminal() bool {
	switch s {
	case JobSuccess, JobFailed, JobAborted:
		return true
	default:
		return false
	}
}

// Context is the mutable, dynamically-typed output/input bag that flows
// between ancestors and descendants in a job tree (spec §3, §4.2).
type Context map[string]interface{}

// Clone returns a shallow copy of c, safe to mutate independently.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Job is a single node in a job tree: the unit of work the coordinator
// schedules, dispatches, and tracks to a terminal state.
type Job struct {
	JobID    string `json:"job_id"`
	RootID   string `json:"root_id"`
	ParentID string `json:"parent_id,omitempty"`

	BodyType   string  `json:"body_type"`
	Parameters Context `json:"parameters"`
	Context    Context `json:"context"`

	Node string `json:"node,omitempty"`

	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`

	State JobState `json:"state"`

	TimeCreated  time.Time `json:"time_created"`
	TimeStarted  time.Time `json:"time_started,omitempty"`
	TimeFinished time.Time `json:"time_finished,omitempty"`

	LogOffsetEnd int64 `json:"log_offset_end"`

	// Armed is true once the root this job belongs to has had
	// allow-execution called on it. Stored per-job for fast frontier scans;
	// always equal to the root's Armed flag.
	Armed bool `json:"armed"`
}

// IsRoot reports whether j is the root of its own tree.
func (j *Job) IsRoot() bool {
	return j.ParentID == ""
}

// NodeRole is one of the three roles a cluster node may hold; a node can
// hold more than one simultaneously.
type NodeRole string

const (
	RolePacemaker NodeRole = "pacemaker"
	RoleHeart     NodeRole = "heart"
	RoleRouter    NodeRole = "router"
)

// NodeState reflects whether a node is considered reachable for dispatch.
type NodeState string

const (
	NodeActive   NodeState = "ACTIVE"
	NodeInactive NodeState = "INACTIVE"
)

// Node is a dispatch target and affinity key (spec §3).
type Node struct {
	UUID      string            `json:"uuid"`
	Route     string            `json:"route"`
	Port      int               `json:"port"`
	Roles     []NodeRole        `json:"roles"`
	Tags      map[string]string `json:"tags"`
	State     NodeState         `json:"state"`
	LastHeard time.Time         `json:"last_heard"`
}

// HasRole reports whether n holds role r.
func (n *Node) HasRole(r NodeRole) bool {
	for _, have := range n.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// InstanceState mirrors the relational entity store's application-instance
// state machine. The job manager only ever reads/writes this through
// pkg/placement's narrow projection; the authoritative table lives outside
// this module (spec §1 Out-of-scope).
type InstanceState string

const (
	InstanceAllocated  InstanceState = "ALLOCATED"
	InstanceRegistered InstanceState = "REGISTERED"
	InstanceRunning    InstanceState = "RUNNING"
	InstanceStopped    InstanceState = "STOPPED"
)

// Instance is the opaque application-instance record placement and routing
// job bodies read and update (spec §3, "Application / Version / Instance
// Type / Instance").
type Instance struct {
	InstanceID     string        `json:"instance_id"`
	VersionID      string        `json:"version_id"`
	Hostname       string        `json:"hostname"`
	ClusterHost    string        `json:"cluster_host"`
	InstanceTypeID string        `json:"instance_type_id"`
	NodeUUID       string        `json:"node_uuid"`
	Port           int           `json:"port"`
	State          InstanceState `json:"state"`
}
