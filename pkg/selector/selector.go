// Package selector implements the Runnable Selector (spec §4.3): it walks
// an armed job tree and reports the frontier of jobs eligible for dispatch.
package selector

import (
	"sort"

	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/log"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
)

// Selector computes the runnable frontier across every armed tree in the
// store, honoring a per-node concurrency cap.
type Selector struct {
	store           jobstore.Store
	logger          zerolog.Logger
	nodeConcurrency int
}

// New creates a Selector backed by store, capping concurrent RUNNING jobs
// per node at nodeConcurrency.
func New(store jobstore.Store, nodeConcurrency int) *Selector {
	if nodeConcurrency <= 0 {
		nodeConcurrency = 4
	}
	return &Selector{
		store:           store,
		logger:          log.WithComponent("selector"),
		nodeConcurrency: nodeConcurrency,
	}
}

// childrenAllSuccess reports whether every child of job (by looking them up
// in tree) is SUCCESS. A job with no children vacuously satisfies this.
func childrenAllSuccess(jobID string, byParent map[string][]*types.Job) bool {
	for _, child := range byParent[jobID] {
		if child.State != types.JobSuccess {
			return false
		}
	}
	return true
}

// Frontier returns the WAITING jobs in rootID's tree whose children are all
// SUCCESS (spec §4.3), tie-broken by TimeCreated then JobID, filtered so no
// more than nodeConcurrency of the returned jobs target the same node once
// running[node] already-in-flight counts are taken into account.
func (s *Selector) Frontier(rootID string, running map[string]int) ([]*types.Job, error) {
	tree, err := s.store.Tree(rootID)
	if err != nil {
		return nil, err
	}

	byParent := make(map[string][]*types.Job, len(tree))
	for _, j := range tree {
		if j.ParentID != "" {
			byParent[j.ParentID] = append(byParent[j.ParentID], j)
		}
	}

	var candidates []*types.Job
	for _, j := range tree {
		if j.State != types.JobWaiting {
			continue
		}
		if !childrenAllSuccess(j.JobID, byParent) {
			continue
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].TimeCreated.Equal(candidates[k].TimeCreated) {
			return candidates[i].TimeCreated.Before(candidates[k].TimeCreated)
		}
		return candidates[i].JobID < candidates[k].JobID
	})

	counts := make(map[string]int, len(running))
	for node, n := range running {
		counts[node] = n
	}

	var frontier []*types.Job
	for _, j := range candidates {
		node := j.Node
		if counts[node] >= s.nodeConcurrency {
			continue
		}
		counts[node]++
		frontier = append(frontier, j)
	}

	s.logger.Debug().Str("root_id", rootID).Int("frontier_size", len(frontier)).Msg("frontier computed")
	return frontier, nil
}

// SweepArmedRoots returns the frontier across every currently armed,
// non-terminal root, useful for a dispatcher driving many trees at once.
func (s *Selector) SweepArmedRoots(running map[string]int) ([]*types.Job, error) {
	roots, err := s.store.Roots()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(running))
	for node, n := range running {
		counts[node] = n
	}

	var all []*types.Job
	for _, rootID := range roots {
		frontier, err := s.Frontier(rootID, counts)
		if err != nil {
			return nil, err
		}
		for _, j := range frontier {
			counts[j.Node]++
		}
		all = append(all, frontier...)
	}
	return all, nil
}
