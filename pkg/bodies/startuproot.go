package bodies

import (
	"fmt"

	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
)

// StartupRootParams is the parameter schema for
// paasmaker.job.coordinate.startup_root.
type StartupRootParams struct {
	InstanceID string `json:"instance_id" validate:"required"`
}

// NewStartupRoot builds the startup-root tree (spec §2, SUPPLEMENTED
// FEATURES): a single per-instance heart.pre_startup child, which itself
// chains into heart.startup then routing.update.add. The root never
// fans out siblings; it relies entirely on the pivot chain for ordering.
func NewStartupRoot(instances InstanceService) *PivotBody {
	return &PivotBody{
		Extend: func(job *types.Job, store jobstore.Store, logger zerolog.Logger) error {
			instanceID, _ := job.Parameters["instance_id"].(string)
			if instanceID == "" {
				return fmt.Errorf("startup_root: missing instance_id")
			}
			inst, err := instances.Get(instanceID)
			if err != nil {
				return fmt.Errorf("startup_root: %w", err)
			}
			_, err = store.CreateJob(jobstore.CreateJobSpec{
				BodyType: HeartPreStartup,
				Title:    "Prepare instance",
				ParentID: job.JobID,
				Node:     inst.NodeUUID,
				Parameters: types.Context{
					"instance_id": instanceID,
				},
			})
			if err != nil {
				return fmt.Errorf("startup_root: create heart.pre_startup: %w", err)
			}
			return nil
		},
	}
}
