package bodies

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/cuemby/pacemaker/pkg/router"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
)

// RoutingUpdate implements paasmaker.job.routing.update(add|remove) (spec
// §4.5 table, §6): atomically add or remove the instance's host:port from
// every hostname's router set. Both directions are commutative set
// operations (spec P6), so the body is idempotent under retry (spec P7).
type RoutingUpdate struct {
	Instances InstanceService
	Placement PlacementService
	Nodes     NodeResolver
	Router    RouterService
	Add       bool // true for routing.update.add, false for .remove
}

// Start implements Body.
func (r *RoutingUpdate) Start(job *types.Job, logger zerolog.Logger, onSuccess SuccessFunc, onFailure FailureFunc) {
	go r.run(job, logger, onSuccess, onFailure)
}

func (r *RoutingUpdate) run(job *types.Job, logger zerolog.Logger, onSuccess SuccessFunc, onFailure FailureFunc) {
	instanceID, _ := job.Parameters["instance_id"].(string)
	if instanceID == "" {
		onFailure("routing.update: missing instance_id")
		return
	}
	inst, err := r.Instances.Get(instanceID)
	if err != nil {
		onFailure(fmt.Sprintf("routing.update: %v", err))
		return
	}
	if inst.Hostname == "" || inst.ClusterHost == "" {
		onFailure("routing.update: instance has no hostname/cluster_host to route")
		return
	}

	node, ok := r.Nodes.Get(inst.NodeUUID)
	if !ok {
		onFailure(fmt.Sprintf("routing.update: node %s unknown", inst.NodeUUID))
		return
	}
	nodeIP := node.Route
	if host, _, err := net.SplitHostPort(node.Route); err == nil {
		nodeIP = host
	}
	hostPort := net.JoinHostPort(nodeIP, strconv.Itoa(inst.Port))

	key := router.Key(inst.VersionID, inst.Hostname, inst.ClusterHost)
	ctx := context.Background()
	if r.Add {
		err = r.Router.Add(ctx, key, hostPort)
	} else {
		err = r.Router.Remove(ctx, key, hostPort)
	}
	if err != nil {
		onFailure(fmt.Sprintf("routing.update: %v", err))
		return
	}

	action := "added"
	if !r.Add {
		action = "removed"
	}
	logger.Info().Str("key", key).Str("member", hostPort).Msg("routing " + action)

	// coordinate.deregister_root's tree carries cleanup_instance=true on its
	// routing.update.remove step (SUPPLEMENTED FEATURES: "heart.shutdown +
	// routing.update(remove) + instance-row deletion"); plain shutdown_root
	// never sets it, so the instance row survives for an eventual restart.
	if !r.Add {
		if cleanup, _ := job.Parameters["cleanup_instance"].(bool); cleanup {
			_ = r.Placement.ReleasePort(inst.NodeUUID, inst.Port)
			if err := r.Instances.Delete(instanceID); err != nil {
				onFailure(fmt.Sprintf("routing.update: cleanup instance: %v", err))
				return
			}
		}
	}

	onSuccess(nil, action)
}
