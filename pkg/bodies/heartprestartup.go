package bodies

import (
	"context"
	"fmt"

	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
)

// NewHeartPreStartup builds paasmaker.job.heart.pre_startup (spec §4.5
// table): unpack the package, render the environment, and run pre-start
// commands via the opaque package plugin, then pivot into heart.startup on
// the same node so the Selector's children-all-SUCCESS rule enforces the
// ordering without any extra sequencing code.
func NewHeartPreStartup(store jobstore.Store, instances InstanceService, pkg PackagePlugin) *ChainBody {
	return &ChainBody{
		Store: store,
		Work: func(job *types.Job, logger zerolog.Logger) (types.Context, error) {
			instanceID, _ := job.Parameters["instance_id"].(string)
			if instanceID == "" {
				return nil, fmt.Errorf("heart.pre_startup: missing instance_id")
			}
			inst, err := instances.Get(instanceID)
			if err != nil {
				return nil, fmt.Errorf("heart.pre_startup: %w", err)
			}
			if err := pkg.Prepare(context.Background(), inst); err != nil {
				return nil, fmt.Errorf("heart.pre_startup: %w", err)
			}
			logger.Info().Str("instance_id", instanceID).Msg("package prepared")
			return nil, nil
		},
		Extend: func(job *types.Job, store jobstore.Store, logger zerolog.Logger) error {
			instanceID, _ := job.Parameters["instance_id"].(string)
			_, err := store.CreateJob(jobstore.CreateJobSpec{
				BodyType: HeartStartup,
				Title:    "Start instance",
				ParentID: job.JobID,
				Node:     job.Node,
				Parameters: types.Context{
					"instance_id": instanceID,
				},
			})
			if err != nil {
				return fmt.Errorf("heart.pre_startup: create heart.startup: %w", err)
			}
			return nil
		},
	}
}
