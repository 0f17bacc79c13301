package bodies

import (
	"fmt"

	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
)

// RegisterRootParams is the parameter schema for
// paasmaker.job.coordinate.register_root.
type RegisterRootParams struct {
	ApplicationInstanceTypeID string `json:"application_instance_type_id" validate:"required"`
}

// NewRegisterRoot builds the register-root pivot (spec §2, §4.5 table): a
// noop pivot whose single child is register_request; register_request in
// turn creates select_locations beneath itself once it has produced
// candidate_nodes.
func NewRegisterRoot() *PivotBody {
	return &PivotBody{
		Extend: func(job *types.Job, store jobstore.Store, logger zerolog.Logger) error {
			typeID, _ := job.Parameters["application_instance_type_id"].(string)
			if typeID == "" {
				return fmt.Errorf("register_root: missing application_instance_type_id")
			}
			_, err := store.CreateJob(jobstore.CreateJobSpec{
				BodyType: CoordinateRegisterRequest,
				Title:    "Find candidate nodes",
				ParentID: job.JobID,
				Parameters: types.Context{
					"application_instance_type_id": typeID,
				},
			})
			if err != nil {
				return fmt.Errorf("register_root: create register_request: %w", err)
			}
			return nil
		},
	}
}
