package bodies

import (
	"context"
	"fmt"

	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
)

// NewHeartShutdown builds paasmaker.job.heart.shutdown (spec §4.5 table):
// invoke the runtime plugin's stop and mark the instance STOPPED, then
// pivot into routing.update.remove so the instance is taken out of
// rotation as part of the same tree (SUPPLEMENTED FEATURES). Idempotent
// under retry (spec P7): stopping an already-stopped instance still
// chains into the routing removal, which is itself idempotent (P6).
func NewHeartShutdown(store jobstore.Store, instances InstanceService, runtime RuntimePlugin) *ChainBody {
	return &ChainBody{
		Store: store,
		Work: func(job *types.Job, logger zerolog.Logger) (types.Context, error) {
			instanceID, _ := job.Parameters["instance_id"].(string)
			if instanceID == "" {
				return nil, fmt.Errorf("heart.shutdown: missing instance_id")
			}
			inst, err := instances.Get(instanceID)
			if err != nil {
				return nil, fmt.Errorf("heart.shutdown: %w", err)
			}
			if inst.State != types.InstanceStopped {
				if err := runtime.Stop(context.Background(), inst); err != nil {
					return nil, fmt.Errorf("heart.shutdown: %w", err)
				}
				if err := instances.SetState(instanceID, types.InstanceStopped); err != nil {
					return nil, fmt.Errorf("heart.shutdown: %w", err)
				}
			}
			logger.Info().Str("instance_id", instanceID).Msg("instance stopped")
			return types.Context{
				"instances": map[string]interface{}{instanceID: string(types.InstanceStopped)},
			}, nil
		},
		Extend: func(job *types.Job, store jobstore.Store, logger zerolog.Logger) error {
			instanceID, _ := job.Parameters["instance_id"].(string)
			cleanup, _ := job.Parameters["cleanup_instance"].(bool)
			_, err := store.CreateJob(jobstore.CreateJobSpec{
				BodyType: RoutingUpdateRemove,
				Title:    "Remove route",
				ParentID: job.JobID,
				Parameters: types.Context{
					"instance_id":      instanceID,
					"cleanup_instance": cleanup,
				},
			})
			if err != nil {
				return fmt.Errorf("heart.shutdown: create routing.update: %w", err)
			}
			return nil
		},
	}
}
