package bodies

import (
	"context"
	"fmt"

	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
)

// NewHeartStartup builds paasmaker.job.heart.startup (spec §4.5 table):
// invoke the runtime plugin's start, observe the port in use, and mark the
// instance RUNNING — per SPEC_FULL Open Question 1, this success callback
// is the single place that transition happens; there is no separate
// reconciliation loop that also does it. It then pivots into
// routing.update.add on the coordinator, per SUPPLEMENTED FEATURES'
// pre_startup -> startup -> routing.update chain.
func NewHeartStartup(store jobstore.Store, instances InstanceService, runtime RuntimePlugin) *ChainBody {
	return &ChainBody{
		Store: store,
		Work: func(job *types.Job, logger zerolog.Logger) (types.Context, error) {
			instanceID, _ := job.Parameters["instance_id"].(string)
			if instanceID == "" {
				return nil, fmt.Errorf("heart.startup: missing instance_id")
			}
			inst, err := instances.Get(instanceID)
			if err != nil {
				return nil, fmt.Errorf("heart.startup: %w", err)
			}
			if err := runtime.Start(context.Background(), inst); err != nil {
				return nil, fmt.Errorf("heart.startup: %w", err)
			}
			if err := instances.SetState(instanceID, types.InstanceRunning); err != nil {
				return nil, fmt.Errorf("heart.startup: %w", err)
			}
			logger.Info().Str("instance_id", instanceID).Int("port", inst.Port).Msg("instance running")
			return types.Context{
				"instances": map[string]interface{}{instanceID: string(types.InstanceRunning)},
			}, nil
		},
		Extend: func(job *types.Job, store jobstore.Store, logger zerolog.Logger) error {
			instanceID, _ := job.Parameters["instance_id"].(string)
			_, err := store.CreateJob(jobstore.CreateJobSpec{
				BodyType: RoutingUpdateAdd,
				Title:    "Add route",
				ParentID: job.JobID,
				Parameters: types.Context{
					"instance_id": instanceID,
				},
			})
			if err != nil {
				return fmt.Errorf("heart.startup: create routing.update: %w", err)
			}
			return nil
		},
	}
}
