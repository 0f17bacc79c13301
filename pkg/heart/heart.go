// Package heart implements the heart side of the Dispatcher & Node Channel
// (spec §4.4): a long-lived client that dials the coordinator, keeps a
// heartbeat flowing so the Abort & Timeout Coordinator's node-loss sweep
// (pkg/abort) sees it as live, and executes whatever job bodies the
// coordinator dispatches to it through its own Job Body Registry, reporting
// terminal results back over the same stream.
//
// Composition bodies (PivotBody, ChainBody) always run in the coordinator
// process because they mutate the Job Record Store directly
// (bodies.RequiresCoordinator); what a heart executes are leaf bodies a
// deployment registers for node-local work. Grounded on the teacher's
// pkg/worker.Worker connection loop (dial once, read frames until the
// stream drops, reconnect with backoff) and health_monitor.go's heartbeat
// ticker, generalized from a container runtime client to a job executor.
package heart

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/pacemaker/pkg/bodies"
	"github.com/cuemby/pacemaker/pkg/log"
	"github.com/cuemby/pacemaker/pkg/rpc"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// reconnectBackoff mirrors pkg/dispatch's NodeUnreachable retry schedule.
var reconnectBackoff = []time.Duration{1 * time.Second, 5 * time.Second, 25 * time.Second}

// Heart is the heart-side agent. One Heart per node process.
type Heart struct {
	nodeUUID string
	registry *bodies.Registry
	logger   zerolog.Logger

	heartbeatInterval time.Duration

	mu      sync.Mutex
	running map[string]bool
}

// New creates a Heart that executes bodies out of registry when the
// coordinator dispatches them to nodeUUID.
func New(nodeUUID string, registry *bodies.Registry) *Heart {
	return &Heart{
		nodeUUID:          nodeUUID,
		registry:          registry,
		logger:            log.WithComponent("heart").With().Str("node", nodeUUID).Logger(),
		heartbeatInterval: 10 * time.Second,
		running:           make(map[string]bool),
	}
}

// Run dials coordinatorAddr and services its Node Channel stream until ctx
// is canceled, reconnecting with backoff whenever the stream drops.
func (h *Heart) Run(ctx context.Context, coordinatorAddr string) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := h.connectAndServe(ctx, coordinatorAddr)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := reconnectBackoff[attempt%len(reconnectBackoff)]
		attempt++
		h.logger.Warn().Err(err).Dur("retry_in", delay).Msg("node channel disconnected, reconnecting")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Heart) connectAndServe(ctx context.Context, addr string) error {
	dialOpts := append(rpc.DialOptions(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return fmt.Errorf("heart: dial %s: %w", addr, err)
	}
	defer conn.Close()

	client := rpc.NewNodeChannelClient(conn)
	stream, err := client.Channel(ctx)
	if err != nil {
		return fmt.Errorf("heart: open channel: %w", err)
	}

	stop := make(chan struct{})
	go h.heartbeatLoop(stream, stop)
	defer close(stop)

	h.logger.Info().Str("addr", addr).Msg("node channel connected")
	for {
		frame, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("heart: recv: %w", err)
		}
		h.handle(stream, frame)
	}
}

func (h *Heart) heartbeatLoop(stream rpc.NodeChannel_ChannelClient, stop chan struct{}) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	send := func() bool {
		return stream.Send(&rpc.Frame{Type: rpc.FrameHeartbeat, NodeUUID: h.nodeUUID}) == nil
	}
	if !send() {
		return
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

func (h *Heart) handle(stream rpc.NodeChannel_ChannelClient, frame *rpc.Frame) {
	switch frame.Type {
	case rpc.FrameStartJob:
		h.startJob(stream, frame)
	case rpc.FrameAbortJob:
		h.logger.Info().Str("job_id", frame.JobID).
			Msg("abort requested; body finishes cooperatively or is force-failed by the coordinator's timeout sweep")
	}
}

func (h *Heart) startJob(stream rpc.NodeChannel_ChannelClient, frame *rpc.Frame) {
	body, ok := h.registry.Get(frame.BodyType)
	if !ok {
		h.reportResult(stream, frame.JobID, types.JobFailed, "unknown body: "+frame.BodyType, nil)
		return
	}

	h.mu.Lock()
	h.running[frame.JobID] = true
	h.mu.Unlock()

	job := &types.Job{
		JobID:      frame.JobID,
		BodyType:   frame.BodyType,
		Parameters: frame.Params,
		Context:    frame.Context,
		Node:       h.nodeUUID,
	}
	logger := log.WithJobID(frame.JobID)

	onSuccess := func(output types.Context, summary string) {
		h.finishJob(frame.JobID)
		h.reportResult(stream, frame.JobID, types.JobSuccess, summary, output)
	}
	onFailure := func(summary string) {
		h.finishJob(frame.JobID)
		h.reportResult(stream, frame.JobID, types.JobFailed, summary, nil)
	}
	go body.Start(job, logger, onSuccess, onFailure)
}

func (h *Heart) finishJob(jobID string) {
	h.mu.Lock()
	delete(h.running, jobID)
	h.mu.Unlock()
}

// InFlight reports how many bodies this heart is currently executing.
func (h *Heart) InFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.running)
}

func (h *Heart) reportResult(stream rpc.NodeChannel_ChannelClient, jobID string, state types.JobState, summary string, output types.Context) {
	frame := &rpc.Frame{
		Type:          rpc.FrameJobResult,
		JobID:         jobID,
		TerminalState: state,
		Summary:       summary,
		Output:        output,
	}
	if err := stream.Send(frame); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to report job result")
	}
}
