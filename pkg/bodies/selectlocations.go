package bodies

import (
	"fmt"

	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SelectLocationsParams is select_locations' own parameter schema: the
// instance type to place, plus the version and hostnames stored on the new
// instance row for the routing body to use later. The candidate_nodes list
// register_request resolves is read from the job's context or parameters
// directly and is not part of this schema.
type SelectLocationsParams struct {
	ApplicationInstanceTypeID string `json:"application_instance_type_id" validate:"required"`
	VersionID                 string `json:"version_id"`
	Hostname                  string `json:"hostname"`
	ClusterHostname           string `json:"cluster_hostname"`
}

// SelectLocations is a leaf Body implementing coordinate.select_locations
// (spec §4.5 table): allocate a port on the least-loaded active heart node
// and persist the new instance row as REGISTERED. When candidate_nodes is
// set and that node is not among them, the job fails; the other candidates
// are not tried. Unlike the pivot
// bodies, it produces terminal output directly: {instances:
// {instance_id: "REGISTERED"}}.
type SelectLocations struct {
	Placement PlacementService
	Instances InstanceService
}

// Start implements Body.
func (s *SelectLocations) Start(job *types.Job, logger zerolog.Logger, onSuccess SuccessFunc, onFailure FailureFunc) {
	go s.run(job, logger, onSuccess, onFailure)
}

func (s *SelectLocations) run(job *types.Job, logger zerolog.Logger, onSuccess SuccessFunc, onFailure FailureFunc) {
	typeID, _ := job.Parameters["application_instance_type_id"].(string)
	if typeID == "" {
		onFailure("select_locations: missing application_instance_type_id")
		return
	}
	candidates := stringSlice(job.Context["candidate_nodes"])
	if len(candidates) == 0 {
		candidates = stringSlice(job.Parameters["candidate_nodes"])
	}

	node, err := s.Placement.SelectNode(types.RoleHeart)
	if err != nil {
		onFailure(fmt.Sprintf("select_locations: %v", err))
		return
	}
	if len(candidates) > 0 && !contains(candidates, node.UUID) {
		onFailure(fmt.Sprintf("select_locations: least-loaded node %s is not among candidates", node.UUID))
		return
	}

	port, err := s.Placement.AllocatePort(node.UUID)
	if err != nil {
		onFailure(fmt.Sprintf("select_locations: %v", err))
		return
	}

	instanceID := uuid.NewString()
	inst := &types.Instance{
		InstanceID:     instanceID,
		VersionID:      stringParam(job.Parameters["version_id"]),
		Hostname:       stringParam(job.Parameters["hostname"]),
		ClusterHost:    stringParam(job.Parameters["cluster_hostname"]),
		InstanceTypeID: typeID,
		NodeUUID:       node.UUID,
		Port:           port,
		State:          types.InstanceRegistered,
	}
	if err := s.Instances.Create(inst); err != nil {
		_ = s.Placement.ReleasePort(node.UUID, port)
		onFailure(fmt.Sprintf("select_locations: %v", err))
		return
	}

	logger.Info().Str("instance_id", instanceID).Str("node", node.UUID).Int("port", port).Msg("instance registered")
	onSuccess(types.Context{
		"instances": map[string]interface{}{instanceID: string(types.InstanceRegistered)},
		"instance_id": instanceID,
		"node_uuid":   node.UUID,
		"port":        port,
	}, "registered")
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func stringParam(v interface{}) string {
	s, _ := v.(string)
	return s
}
