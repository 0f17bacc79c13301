package plugins

import (
	"context"
	"fmt"

	"github.com/cuemby/pacemaker/pkg/placement"
	"github.com/cuemby/pacemaker/pkg/types"
)

// TagPlacement is a PlacementPlugin that resolves an application instance
// type to every active heart node whose tags declare it eligible, the way
// spec scenario 1 tags a node `{runtimes: {shell: ['1']}}` for instance
// type 1. The tag key is fixed ("runtime_types") and its value is a
// comma-separated list of eligible instance type ids, since pkg/types.Node
// carries flat string tags rather than nested structures.
type TagPlacement struct {
	registry *placement.Registry
}

// NewTagPlacement builds a TagPlacement over the shared node registry.
func NewTagPlacement(registry *placement.Registry) *TagPlacement {
	return &TagPlacement{registry: registry}
}

const tagRuntimeTypes = "runtime_types"

// CandidateNodes implements PlacementPlugin.
func (t *TagPlacement) CandidateNodes(ctx context.Context, applicationInstanceTypeID string) ([]string, error) {
	var candidates []string
	for _, node := range t.registry.Active(types.RoleHeart) {
		if nodeAcceptsType(node, applicationInstanceTypeID) {
			candidates = append(candidates, node.UUID)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no heart node tagged for instance type %s", applicationInstanceTypeID)
	}
	return candidates, nil
}

func nodeAcceptsType(node *types.Node, typeID string) bool {
	tags, ok := node.Tags[tagRuntimeTypes]
	if !ok || tags == "" {
		return false
	}
	for _, t := range splitCSV(tags) {
		if t == typeID {
			return true
		}
	}
	return false
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
