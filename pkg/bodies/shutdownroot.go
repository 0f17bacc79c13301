package bodies

import (
	"fmt"

	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
)

// ShutdownRootParams is the parameter schema for
// paasmaker.job.coordinate.shutdown_root.
type ShutdownRootParams struct {
	InstanceID string `json:"instance_id" validate:"required"`
}

// NewShutdownRoot builds the shutdown-root tree (spec §2, SUPPLEMENTED
// FEATURES): a single heart.shutdown child, which chains into
// routing.update.remove. The instance row itself is kept, marked STOPPED by
// heart.shutdown, so an operator can start it again; only deregister_root
// deletes it (see NewDeregisterRoot).
func NewShutdownRoot(instances InstanceService) *PivotBody {
	return &PivotBody{
		Extend: func(job *types.Job, store jobstore.Store, logger zerolog.Logger) error {
			instanceID, _ := job.Parameters["instance_id"].(string)
			if instanceID == "" {
				return fmt.Errorf("shutdown_root: missing instance_id")
			}
			inst, err := instances.Get(instanceID)
			if err != nil {
				return fmt.Errorf("shutdown_root: %w", err)
			}
			_, err = store.CreateJob(jobstore.CreateJobSpec{
				BodyType: HeartShutdown,
				Title:    "Stop instance",
				ParentID: job.JobID,
				Node:     inst.NodeUUID,
				Parameters: types.Context{
					"instance_id": instanceID,
				},
			})
			if err != nil {
				return fmt.Errorf("shutdown_root: create heart.shutdown: %w", err)
			}
			return nil
		},
	}
}
