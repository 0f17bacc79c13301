// Package dispatch implements the Dispatcher & Node Channel (spec §4.4):
// it resolves a runnable job's target node, hands it to a local job body or
// a remote heart over pkg/rpc, tracks in-flight deadlines, and folds
// terminal results back into the Job Record Store and Context Propagator.
package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/pacemaker/pkg/bodies"
	"github.com/cuemby/pacemaker/pkg/eventbus"
	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/log"
	"github.com/cuemby/pacemaker/pkg/logpipe"
	"github.com/cuemby/pacemaker/pkg/metrics"
	"github.com/cuemby/pacemaker/pkg/rpc"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
)

// retryBackoff is the delay schedule for retrying a send that failed with
// NodeUnreachable (spec §4.4).
var retryBackoff = []time.Duration{1 * time.Second, 5 * time.Second, 25 * time.Second}

// Channel abstracts the coordinator's end of one heart node's Node Channel
// stream, serializing sends the way a single grpc.ServerStream requires.
type Channel interface {
	Send(*rpc.Frame) error
}

type inFlightEntry struct {
	jobID    string
	nodeUUID string
	deadline time.Time
	retries  int
}

// Dispatcher is the Dispatcher & Node Channel component.
type Dispatcher struct {
	store           jobstore.Store
	registry        *bodies.Registry
	coordinatorUUID string
	defaultTimeout  time.Duration
	bus             *eventbus.Bus
	pipe            *logpipe.Pipe

	logger zerolog.Logger

	mu       sync.Mutex
	channels map[string]Channel
	inFlight map[string]*inFlightEntry
}

// New creates a Dispatcher. coordinatorUUID is the node id that represents
// "local" execution (job.Node == "" is equivalent to job.Node ==
// coordinatorUUID). bus publishes every state transition the dispatcher
// drives (spec §4.7); pipe is where a locally-run body's log output is
// teed to (spec §4.6). Either may be nil, e.g. in tests that only care
// about store state.
func New(store jobstore.Store, registry *bodies.Registry, coordinatorUUID string, defaultTimeout time.Duration, bus *eventbus.Bus, pipe *logpipe.Pipe) *Dispatcher {
	return &Dispatcher{
		store:           store,
		registry:        registry,
		coordinatorUUID: coordinatorUUID,
		defaultTimeout:  defaultTimeout,
		bus:             bus,
		pipe:            pipe,
		logger:          log.WithComponent("dispatch"),
		channels:        make(map[string]Channel),
		inFlight:        make(map[string]*inFlightEntry),
	}
}

// RegisterChannel attaches the coordinator-side handle for a connected
// heart node's stream.
func (d *Dispatcher) RegisterChannel(nodeUUID string, ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[nodeUUID] = ch
}

// UnregisterChannel removes a disconnected heart node's channel.
func (d *Dispatcher) UnregisterChannel(nodeUUID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.channels, nodeUUID)
}

func (d *Dispatcher) timeoutFor(bodyType string) time.Duration {
	if t, ok := d.registry.TimeoutFor(bodyType); ok {
		return t
	}
	return d.defaultTimeout
}

func (d *Dispatcher) isLocal(node string) bool {
	return node == "" || node == d.coordinatorUUID
}

// Dispatch sends job to its target node (local execution or a remote
// Channel) and transitions it to RUNNING.
func (d *Dispatcher) Dispatch(job *types.Job) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DispatchLatency, job.BodyType)

	body, ok := d.registry.Get(job.BodyType)
	if !ok {
		return fmt.Errorf("dispatch: %w: %s", jobstore.ErrUnknownBody, job.BodyType)
	}

	if err := d.store.SetState(job.JobID, types.JobRunning, ""); err != nil {
		return err
	}
	if d.bus != nil {
		d.bus.PublishStatus(job.RootID, job.JobID, types.JobRunning, "dispatched")
	}

	d.mu.Lock()
	d.inFlight[job.JobID] = &inFlightEntry{
		jobID:    job.JobID,
		nodeUUID: job.Node,
		deadline: time.Now().Add(d.timeoutFor(job.BodyType)),
	}
	d.mu.Unlock()

	if d.isLocal(job.Node) || bodies.RequiresCoordinator(body) {
		go d.runLocal(job, body)
		return nil
	}
	return d.sendRemote(job, 0)
}

func (d *Dispatcher) runLocal(job *types.Job, body bodies.Body) {
	logger := log.WithJobID(job.JobID)
	if d.pipe != nil {
		pipeWriter := &logpipe.Writer{Pipe: d.pipe, JobID: job.JobID}
		logger = logger.Output(zerolog.MultiLevelWriter(logger, pipeWriter))
	}
	onSuccess := func(output types.Context, summary string) { d.completeSuccess(job, output, summary) }
	onFailure := func(summary string) { d.completeFailure(job, summary) }
	body.Start(job, logger, onSuccess, onFailure)
}

func (d *Dispatcher) sendRemote(job *types.Job, attempt int) error {
	d.mu.Lock()
	ch, ok := d.channels[job.Node]
	d.mu.Unlock()

	if !ok {
		return d.retryOrFail(job, attempt, fmt.Errorf("dispatch: node %s: %w", job.Node, ErrNodeUnreachable))
	}

	frame := &rpc.Frame{
		Type:     rpc.FrameStartJob,
		JobID:    job.JobID,
		BodyType: job.BodyType,
		Params:   job.Parameters,
		Context:  job.Context,
	}
	if err := ch.Send(frame); err != nil {
		return d.retryOrFail(job, attempt, fmt.Errorf("dispatch: send to %s: %w", job.Node, err))
	}
	return nil
}

func (d *Dispatcher) retryOrFail(job *types.Job, attempt int, sendErr error) error {
	if attempt >= len(retryBackoff) {
		d.logger.Error().Err(sendErr).Str("job_id", job.JobID).Msg("dispatch exhausted retries")
		before, _ := d.store.Tree(job.RootID)
		if err := d.store.SetState(job.JobID, types.JobFailed, "dispatch_failed"); err != nil {
			return err
		}
		eventbus.PublishTransitions(d.bus, d.store, job.RootID, before)
		return nil
	}
	delay := retryBackoff[attempt]
	metrics.DispatchRetries.Inc()
	d.logger.Warn().Err(sendErr).Str("job_id", job.JobID).Dur("retry_in", delay).Msg("node unreachable, retrying")
	time.AfterFunc(delay, func() {
		if err := d.sendRemote(job, attempt+1); err != nil {
			d.logger.Error().Err(err).Str("job_id", job.JobID).Msg("retry dispatch failed")
		}
	})
	return nil
}

// completeSuccess applies the Context Propagator rule: job's output is
// merged into its parent's context, job is marked SUCCESS, and — because a
// body may have extended the tree beneath itself before finishing — the
// parent is finalized too if this was its last outstanding child.
func (d *Dispatcher) completeSuccess(job *types.Job, output types.Context, summary string) {
	d.clearInFlight(job.JobID)
	before, _ := d.store.Tree(job.RootID)
	if err := d.store.SetState(job.JobID, types.JobSuccess, summary); err != nil {
		d.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("duplicate or illegal success report")
		return
	}
	eventbus.PublishTransitions(d.bus, d.store, job.RootID, before)
	if output != nil && job.ParentID != "" {
		if err := d.store.AppendContext(job.ParentID, output); err != nil {
			d.logger.Error().Err(err).Str("job_id", job.ParentID).Msg("context merge failed")
		}
	}
	d.tryFinalizeParent(job.ParentID)
}

// completeTerminal drives job to a non-SUCCESS terminal state, publishing
// every transition the Job Record Store's I3 cascade makes along with it
// (spec §4.7).
func (d *Dispatcher) completeTerminal(job *types.Job, state types.JobState, summary string) {
	d.clearInFlight(job.JobID)
	before, _ := d.store.Tree(job.RootID)
	if err := d.store.SetState(job.JobID, state, summary); err != nil {
		d.logger.Warn().Err(err).Str("job_id", job.JobID).Str("state", string(state)).Msg("duplicate or illegal terminal report")
		return
	}
	eventbus.PublishTransitions(d.bus, d.store, job.RootID, before)
}

func (d *Dispatcher) completeFailure(job *types.Job, summary string) {
	d.completeTerminal(job, types.JobFailed, summary)
}

// completeAborted records a heart-reported abort as ABORTED rather than
// folding it into FAILED, preserving the distinction spec §4.9 step 2
// relies on.
func (d *Dispatcher) completeAborted(job *types.Job, summary string) {
	d.completeTerminal(job, types.JobAborted, summary)
}

// tryFinalizeParent completes a RUNNING pivot job once every child it has
// created has reached SUCCESS, bubbling the same completion up the tree.
func (d *Dispatcher) tryFinalizeParent(jobID string) {
	if jobID == "" {
		return
	}
	job, err := d.store.Get(jobID)
	if err != nil || job.State != types.JobRunning {
		return
	}
	children, err := d.store.Children(jobID)
	if err != nil || len(children) == 0 {
		return
	}
	for _, c := range children {
		if c.State != types.JobSuccess {
			return
		}
	}
	d.completeSuccess(job, job.Context, "children complete")
}

// HandleRemoteResult applies a job_result frame received from a heart node.
func (d *Dispatcher) HandleRemoteResult(jobID string, terminalState types.JobState, summary string, output types.Context) error {
	job, err := d.store.Get(jobID)
	if err != nil {
		return err
	}
	switch terminalState {
	case types.JobSuccess:
		d.completeSuccess(job, output, summary)
	case types.JobAborted:
		d.completeAborted(job, summary)
	default:
		d.completeFailure(job, summary)
	}
	return nil
}

func (d *Dispatcher) clearInFlight(jobID string) {
	d.mu.Lock()
	delete(d.inFlight, jobID)
	d.mu.Unlock()
}

// SendAbort delivers a best-effort abort_job frame to the node a job is
// believed to be running on, for the Abort & Timeout Coordinator (spec
// §4.9). A missing channel (node not connected) is reported, not panicked.
func (d *Dispatcher) SendAbort(nodeUUID, jobID string) error {
	d.mu.Lock()
	ch, ok := d.channels[nodeUUID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("dispatch: no channel for node %s", nodeUUID)
	}
	return ch.Send(&rpc.Frame{Type: rpc.FrameAbortJob, JobID: jobID})
}

// JobsOnNode returns the job ids currently in flight on nodeUUID, for the
// node-loss sweep to fail and cascade.
func (d *Dispatcher) JobsOnNode(nodeUUID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for id, e := range d.inFlight {
		if e.nodeUUID == nodeUUID {
			out = append(out, id)
		}
	}
	return out
}

// RunningCounts returns the number of currently in-flight jobs per node,
// for the Selector's concurrency cap.
func (d *Dispatcher) RunningCounts() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts := make(map[string]int, len(d.inFlight))
	for _, e := range d.inFlight {
		counts[e.nodeUUID]++
	}
	return counts
}

// SweepTimeouts force-fails any in-flight job past its deadline and sends a
// best-effort abort_job frame to its node.
func (d *Dispatcher) SweepTimeouts() {
	now := time.Now()
	var expired []*inFlightEntry

	d.mu.Lock()
	for id, e := range d.inFlight {
		if now.After(e.deadline) {
			expired = append(expired, e)
			delete(d.inFlight, id)
		}
	}
	d.mu.Unlock()

	for _, e := range expired {
		d.logger.Warn().Str("job_id", e.jobID).Str("node", e.nodeUUID).Msg("job dispatch timed out")
		job, err := d.store.Get(e.jobID)
		if err != nil {
			d.logger.Error().Err(err).Str("job_id", e.jobID).Msg("failed to load timed-out job")
			continue
		}
		before, _ := d.store.Tree(job.RootID)
		if err := d.store.SetState(e.jobID, types.JobFailed, "timeout"); err != nil {
			d.logger.Error().Err(err).Str("job_id", e.jobID).Msg("failed to mark job timed out")
			continue
		}
		eventbus.PublishTransitions(d.bus, d.store, job.RootID, before)
		d.tryFinalizeParent(job.ParentID)

		d.mu.Lock()
		ch, ok := d.channels[e.nodeUUID]
		d.mu.Unlock()
		if ok {
			_ = ch.Send(&rpc.Frame{Type: rpc.FrameAbortJob, JobID: e.jobID})
		}
	}
}
