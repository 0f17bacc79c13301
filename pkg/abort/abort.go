// Package abort implements the Abort & Timeout Coordinator (spec §4.9):
// cooperative abort propagation down a subtree, and a periodic node-loss
// sweep that fails in-flight work on nodes that have gone quiet. The
// per-job deadline half of §4.9 (force-fail a single dispatch past its
// timeout) lives in pkg/dispatch.Dispatcher.SweepTimeouts; this package
// owns the other two: an operator-triggered abort(job_id), and the
// cluster-wide node-loss reconciliation loop, folded into one component the
// way the teacher's pkg/reconciler ran a single periodic loop against
// pkg/manager rather than splitting per-concern loops across packages.
package abort

import (
	"fmt"
	"time"

	"github.com/cuemby/pacemaker/pkg/eventbus"
	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/log"
	"github.com/cuemby/pacemaker/pkg/metrics"
	"github.com/cuemby/pacemaker/pkg/placement"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Notifier delivers a best-effort abort_job frame to the node a job is
// running on. Implemented by pkg/dispatch.Dispatcher; declared narrowly
// here so pkg/abort never has to import pkg/bodies transitively.
type Notifier interface {
	SendAbort(nodeUUID, jobID string) error
	JobsOnNode(nodeUUID string) []string
}

// Coordinator is the Abort & Timeout Coordinator.
type Coordinator struct {
	store    jobstore.Store
	notifier Notifier
	nodes    *placement.Registry
	bus      *eventbus.Bus
	grace    time.Duration
	logger   zerolog.Logger
	cron     *cron.Cron
}

// New creates a Coordinator. grace is the node heartbeat window of spec
// §4.9 ("default 30s"); nodes is the same Registry the Dispatcher and
// placement bodies share, so a node marked lost here is immediately
// invisible to future SelectNode calls. bus publishes every state
// transition this coordinator drives directly or cascades via the Job
// Record Store's I3 rule (spec §4.7); it may be nil.
func New(store jobstore.Store, notifier Notifier, nodes *placement.Registry, grace time.Duration, bus *eventbus.Bus) *Coordinator {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Coordinator{
		store:    store,
		notifier: notifier,
		nodes:    nodes,
		bus:      bus,
		grace:    grace,
		logger:   log.WithComponent("abort"),
	}
}

// StartSweep schedules the periodic node-loss sweep on a cron spec (e.g.
// config.DefaultOrphanSweepCron), mirroring the teacher's
// Reconciler.Start/Stop pair but driven by robfig/cron rather than a bare
// time.Ticker, matching SPEC_FULL's DOMAIN STACK wiring of that library.
func (c *Coordinator) StartSweep(spec string) error {
	c.cron = cron.New()
	if _, err := c.cron.AddFunc(spec, c.SweepNodeLoss); err != nil {
		return fmt.Errorf("abort: schedule node-loss sweep: %w", err)
	}
	c.cron.Start()
	c.logger.Info().Str("spec", spec).Msg("node-loss sweep scheduled")
	return nil
}

// StopSweep stops the periodic sweep. Safe to call even if StartSweep was
// never called.
func (c *Coordinator) StopSweep() {
	if c.cron != nil {
		ctx := c.cron.Stop()
		<-ctx.Done()
	}
}

// Abort implements spec §4.9's abort(job_id):
//  1. every NEW|WAITING descendant of jobID transitions to ABORTED
//     immediately;
//  2. every RUNNING descendant gets a best-effort abort_job frame sent to
//     its owning node (cooperative; the body may or may not honor it);
//  3. jobID itself is marked ABORTED, which fans the I3 ancestor/sibling
//     cascade out through pkg/jobstore.Store.SetState.
//
// Abort of the root before its first dispatch never created rows to
// undo (spec scenario 4: "no ApplicationInstance rows created"), since a
// body transitions instance state only from its own success path.
func (c *Coordinator) Abort(jobID string) error {
	job, err := c.store.Get(jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return nil
	}

	tree, err := c.store.Tree(job.RootID)
	if err != nil {
		return fmt.Errorf("abort: load tree for %s: %w", jobID, err)
	}
	before := tree

	for _, j := range descendantsOf(jobID, tree) {
		switch j.State {
		case types.JobNew, types.JobWaiting:
			if err := c.store.SetState(j.JobID, types.JobAborted, "aborted: ancestor aborted"); err != nil {
				c.logger.Warn().Err(err).Str("job_id", j.JobID).Msg("abort: mark descendant aborted failed")
			}
		case types.JobRunning:
			if j.Node == "" {
				continue // local execution has no remote channel to notify
			}
			if err := c.notifier.SendAbort(j.Node, j.JobID); err != nil {
				c.logger.Warn().Err(err).Str("job_id", j.JobID).Str("node", j.Node).
					Msg("abort: notify failed, will force-fail on timeout instead")
			}
		}
	}

	metrics.AbortsTotal.WithLabelValues("operator").Inc()
	err = c.store.SetState(jobID, types.JobAborted, "aborted")
	eventbus.PublishTransitions(c.bus, c.store, job.RootID, before)
	return err
}

// descendantsOf returns every job in tree at or below jobID, excluding
// jobID itself (its own transition is handled by the caller).
func descendantsOf(jobID string, tree []*types.Job) []*types.Job {
	children := make(map[string][]*types.Job, len(tree))
	for _, j := range tree {
		if j.ParentID != "" {
			children[j.ParentID] = append(children[j.ParentID], j)
		}
	}

	var out []*types.Job
	var walk func(id string)
	walk = func(id string) {
		for _, child := range children[id] {
			out = append(out, child)
			walk(child.JobID)
		}
	}
	walk(jobID)
	return out
}

// SweepNodeLoss implements the node-loss half of spec §4.9: any ACTIVE node
// whose LastHeard is older than the grace window is marked INACTIVE, and
// every job currently in flight on it is force-failed with reason
// "node_lost" — which in turn cascades its tree to ABORTED via the Job
// Record Store's I3 rule, the same path Abort uses for an explicit request.
func (c *Coordinator) SweepNodeLoss() {
	now := time.Now()
	for _, node := range c.nodes.Active(types.RoleHeart) {
		if now.Sub(node.LastHeard) < c.grace {
			continue
		}
		c.logger.Warn().Str("node", node.UUID).Time("last_heard", node.LastHeard).Msg("node heartbeat grace exceeded, marking lost")
		node.State = types.NodeInactive
		c.nodes.Upsert(node)
		metrics.NodeUp.WithLabelValues(node.UUID, string(types.RoleHeart)).Set(0)

		for _, jobID := range c.notifier.JobsOnNode(node.UUID) {
			job, err := c.store.Get(jobID)
			if err != nil {
				c.logger.Warn().Err(err).Str("job_id", jobID).Msg("node-loss: load job failed")
				continue
			}
			before, _ := c.store.Tree(job.RootID)
			if err := c.store.SetState(jobID, types.JobFailed, "node_lost"); err != nil {
				c.logger.Warn().Err(err).Str("job_id", jobID).Str("node", node.UUID).Msg("node-loss: mark job failed")
				continue
			}
			eventbus.PublishTransitions(c.bus, c.store, job.RootID, before)
			metrics.AbortsTotal.WithLabelValues("node_lost").Inc()
		}
	}
}
