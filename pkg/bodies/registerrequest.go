package bodies

import (
	"context"
	"fmt"

	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
)

// NewRegisterRequest builds coordinate.register_request (spec §4.5 table):
// it asks the placement plugin which heart nodes are eligible to run the
// given application instance type, then pivots into select_locations with
// that candidate list seeded into context.
func NewRegisterRequest(store jobstore.Store, plugin PlacementPlugin) *ChainBody {
	return &ChainBody{
		Store: store,
		Work: func(job *types.Job, logger zerolog.Logger) (types.Context, error) {
			typeID, _ := job.Parameters["application_instance_type_id"].(string)
			if typeID == "" {
				return nil, fmt.Errorf("register_request: missing application_instance_type_id")
			}
			candidates, err := plugin.CandidateNodes(context.Background(), typeID)
			if err != nil {
				return nil, fmt.Errorf("register_request: placement plugin: %w", err)
			}
			if len(candidates) == 0 {
				return nil, fmt.Errorf("register_request: no candidate nodes for type %s", typeID)
			}
			logger.Info().Str("type_id", typeID).Int("candidates", len(candidates)).Msg("candidate nodes resolved")
			return types.Context{"candidate_nodes": candidates}, nil
		},
		Extend: func(job *types.Job, store jobstore.Store, logger zerolog.Logger) error {
			candidates := stringSlice(job.Context["candidate_nodes"])
			typeID, _ := job.Parameters["application_instance_type_id"].(string)
			_, err := store.CreateJob(jobstore.CreateJobSpec{
				BodyType: CoordinateSelectLocations,
				Title:    "Select instance location",
				ParentID: job.JobID,
				Parameters: types.Context{
					"application_instance_type_id": typeID,
					"candidate_nodes":               candidates,
				},
			})
			if err != nil {
				return fmt.Errorf("register_request: create select_locations: %w", err)
			}
			return nil
		},
	}
}
