package bodies

import (
	"fmt"

	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
)

// DeregisterRootParams is the parameter schema for
// paasmaker.job.coordinate.deregister_root.
type DeregisterRootParams struct {
	InstanceID string `json:"instance_id" validate:"required"`
}

// NewDeregisterRoot builds the deregister-root tree (spec §2, SUPPLEMENTED
// FEATURES): heart.shutdown -> routing.update.remove, the same chain as
// shutdown_root, but with cleanup_instance set so routing.update's final
// step releases the allocated port and deletes the instance row once the
// route is gone. Use this instead of shutdown_root when the instance is
// being torn down for good rather than paused for a future restart.
func NewDeregisterRoot(instances InstanceService) *PivotBody {
	return &PivotBody{
		Extend: func(job *types.Job, store jobstore.Store, logger zerolog.Logger) error {
			instanceID, _ := job.Parameters["instance_id"].(string)
			if instanceID == "" {
				return fmt.Errorf("deregister_root: missing instance_id")
			}
			inst, err := instances.Get(instanceID)
			if err != nil {
				return fmt.Errorf("deregister_root: %w", err)
			}
			_, err = store.CreateJob(jobstore.CreateJobSpec{
				BodyType: HeartShutdown,
				Title:    "Stop and deregister instance",
				ParentID: job.JobID,
				Node:     inst.NodeUUID,
				Parameters: types.Context{
					"instance_id":      instanceID,
					"cleanup_instance": true,
				},
			})
			if err != nil {
				return fmt.Errorf("deregister_root: create heart.shutdown: %w", err)
			}
			return nil
		},
	}
}
