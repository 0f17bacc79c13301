package bodies

import (
	"context"

	"github.com/cuemby/pacemaker/pkg/types"
)

// PlacementService is the narrow view of pkg/placement a body needs:
// picking a target node and reserving a port for a new instance.
type PlacementService interface {
	SelectNode(role types.NodeRole) (*types.Node, error)
	AllocatePort(nodeUUID string) (int, error)
	ReleasePort(nodeUUID string, port int) error
}

// InstanceService is the narrow write interface onto the application
// instance projection (spec §3): bodies read and transition instance state
// through this, never by holding a direct reference into the relational
// entity store (spec §1, out of scope).
type InstanceService interface {
	Create(inst *types.Instance) error
	Get(instanceID string) (*types.Instance, error)
	SetState(instanceID string, state types.InstanceState) error
	Delete(instanceID string) error
}

// RouterService is the narrow view of pkg/router a routing.update body
// needs.
type RouterService interface {
	Add(ctx context.Context, key, hostPort string) error
	Remove(ctx context.Context, key, hostPort string) error
}

// NodeResolver resolves a node uuid to its advertised route (ip:port or
// hostname), so routing.update can publish a dialable address rather than
// an opaque node id.
type NodeResolver interface {
	Get(uuid string) (*types.Node, bool)
}

// RuntimePlugin is the opaque runtime capability spec §1 places out of
// scope ("runtime plugins... treated as opaque capabilities invoked by job
// bodies"): whatever actually starts and stops an application instance's
// process.
type RuntimePlugin interface {
	Start(ctx context.Context, inst *types.Instance) error
	Stop(ctx context.Context, inst *types.Instance) error
}

// PlacementPlugin is the opaque placement capability spec §4.5 names for
// coordinate.register_request ("Ask placement plugin which hearts will run
// the type"). It resolves an application instance type to the set of heart
// nodes eligible to run it.
type PlacementPlugin interface {
	CandidateNodes(ctx context.Context, applicationInstanceTypeID string) ([]string, error)
}

// PackagePlugin is the opaque SCM/packager capability spec §1 places out
// of scope, invoked by heart.pre_startup to unpack the application package
// and render its environment before the runtime plugin starts it.
type PackagePlugin interface {
	Prepare(ctx context.Context, inst *types.Instance) error
}
