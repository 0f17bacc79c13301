// Package coordinator wires the Job Record Store, Job Body Registry,
// Runnable Selector, Dispatcher, Abort & Timeout Coordinator, Status Bus,
// Log Pipe, and Streaming API Facade into one running process (spec §1:
// "the pacemaker is the single coordinator"). It is the generalized
// replacement for the teacher's pkg/manager.Manager, which wired a raft FSM
// and a cluster of mTLS-authenticated services into one node process; here
// there is one coordinator and any number of dependent heart nodes talking
// to it over the Node Channel.
package coordinator

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/pacemaker/pkg/abort"
	"github.com/cuemby/pacemaker/pkg/auth"
	"github.com/cuemby/pacemaker/pkg/bodies"
	"github.com/cuemby/pacemaker/pkg/config"
	"github.com/cuemby/pacemaker/pkg/dispatch"
	"github.com/cuemby/pacemaker/pkg/eventbus"
	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/log"
	"github.com/cuemby/pacemaker/pkg/logpipe"
	"github.com/cuemby/pacemaker/pkg/metrics"
	"github.com/cuemby/pacemaker/pkg/placement"
	"github.com/cuemby/pacemaker/pkg/plugins"
	"github.com/cuemby/pacemaker/pkg/router"
	"github.com/cuemby/pacemaker/pkg/rpc"
	"github.com/cuemby/pacemaker/pkg/selector"
	"github.com/cuemby/pacemaker/pkg/stream"
	"github.com/cuemby/pacemaker/pkg/types"
	bolt "go.etcd.io/bbolt"
	"google.golang.org/grpc"
	"github.com/rs/zerolog"
)

// Coordinator is the assembled process. Use New to build one from Config,
// then Run to serve the Node Channel and Streaming API Facade until ctx is
// canceled.
type Coordinator struct {
	cfg *config.Config

	Store      jobstore.Store
	Registry   *bodies.Registry
	Nodes      *placement.Registry
	Allocator  *placement.Allocator
	Instances  *placement.InstanceStore
	Router     *router.Client
	Bus        *eventbus.Bus
	Pipe       *logpipe.Pipe
	Issuer     *auth.Issuer
	Dispatcher *dispatch.Dispatcher
	Selector   *selector.Selector
	Abort      *abort.Coordinator
	Stream     *stream.Server

	portDB     *bolt.DB
	grpcServer *grpc.Server
	logger     zerolog.Logger

	driveStop chan struct{}
}

// New wires every subsystem over cfg. Command templates for the reference
// ShellRuntime and an optional FetchFunc for DirPackage let the caller (e.g.
// cmd/pacemaker) plug in a runtime without pkg/coordinator importing a
// concrete deployment's specifics.
func New(cfg *config.Config, shellCommands map[string]string, fetch plugins.FetchFunc) (*Coordinator, error) {
	registry := bodies.NewRegistry()
	store, err := jobstore.NewBoltStore(cfg.DataDir, registry)
	if err != nil {
		return nil, fmt.Errorf("coordinator: job store: %w", err)
	}

	nodes := placement.NewRegistry()
	alloc, err := placement.NewAllocator(cfg.DataDir, nodes, cfg.PortRangeLow, cfg.PortRangeHigh)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("coordinator: placement allocator: %w", err)
	}
	instances, err := placement.NewInstanceStore(alloc.DB())
	if err != nil {
		store.Close()
		alloc.Close()
		return nil, fmt.Errorf("coordinator: instance store: %w", err)
	}

	var routerClient *router.Client
	if cfg.RouterAddr != "" {
		routerClient, err = router.New(cfg.RouterAddr, cfg.RouterDB)
		if err != nil {
			store.Close()
			alloc.Close()
			return nil, fmt.Errorf("coordinator: router client: %w", err)
		}
	}

	bus := eventbus.New(64)
	pipe := logpipe.New(cfg.DataDir)
	issuer := auth.NewIssuer(cfg.AuthSecret)

	dispatcher := dispatch.New(store, registry, cfg.NodeUUID, cfg.JobTimeout, bus, pipe)

	placementPlugin := plugins.NewTagPlacement(nodes)
	packagePlugin := plugins.NewDirPackage(cfg.DataDir, fetch)
	runtimePlugin := plugins.NewShellRuntime(shellCommands)

	registerBodies(registry, cfg, store, nodes, alloc, instances, routerClient, placementPlugin, packagePlugin, runtimePlugin)

	sel := selector.New(store, cfg.NodeConcurrency)
	abortCoord := abort.New(store, dispatcher, nodes, cfg.NodeLossGrace, bus)
	streamSrv := stream.New(bus, pipe, store, issuer)

	c := &Coordinator{
		cfg:        cfg,
		Store:      store,
		Registry:   registry,
		Nodes:      nodes,
		Allocator:  alloc,
		Instances:  instances,
		Router:     routerClient,
		Bus:        bus,
		Pipe:       pipe,
		Issuer:     issuer,
		Dispatcher: dispatcher,
		Selector:   sel,
		Abort:      abortCoord,
		Stream:     streamSrv,
		portDB:     alloc.DB(),
		logger:     log.WithComponent("coordinator").With().Str("node", cfg.NodeUUID).Logger(),
	}
	return c, nil
}

func registerBodies(
	registry *bodies.Registry,
	cfg *config.Config,
	store jobstore.Store,
	nodes *placement.Registry,
	alloc *placement.Allocator,
	instances *placement.InstanceStore,
	routerClient *router.Client,
	placementPlugin bodies.PlacementPlugin,
	packagePlugin bodies.PackagePlugin,
	runtimePlugin bodies.RuntimePlugin,
) {
	timeoutOpt := func(bodyType string) []bodies.Option {
		for _, bt := range cfg.BodyTimeouts {
			if bt.Body == bodyType {
				return []bodies.Option{bodies.WithTimeout(bt.Timeout)}
			}
		}
		return nil
	}
	withStore := func(p *bodies.PivotBody) *bodies.PivotBody {
		p.Store = store
		return p
	}

	registry.Register(bodies.CoordinateRegisterRoot, withStore(bodies.NewRegisterRoot()),
		append([]bodies.Option{bodies.WithParamSchema(&bodies.RegisterRootParams{})}, timeoutOpt(bodies.CoordinateRegisterRoot)...)...)
	registry.Register(bodies.CoordinateRegisterRequest, bodies.NewRegisterRequest(store, placementPlugin), timeoutOpt(bodies.CoordinateRegisterRequest)...)
	registry.Register(bodies.CoordinateSelectLocations, &bodies.SelectLocations{Placement: alloc, Instances: instances},
		append([]bodies.Option{bodies.WithParamSchema(&bodies.SelectLocationsParams{})}, timeoutOpt(bodies.CoordinateSelectLocations)...)...)
	registry.Register(bodies.CoordinateStartupRoot, withStore(bodies.NewStartupRoot(instances)),
		append([]bodies.Option{bodies.WithParamSchema(&bodies.StartupRootParams{})}, timeoutOpt(bodies.CoordinateStartupRoot)...)...)
	registry.Register(bodies.CoordinateShutdownRoot, withStore(bodies.NewShutdownRoot(instances)),
		append([]bodies.Option{bodies.WithParamSchema(&bodies.ShutdownRootParams{})}, timeoutOpt(bodies.CoordinateShutdownRoot)...)...)
	registry.Register(bodies.CoordinateDeregisterRoot, withStore(bodies.NewDeregisterRoot(instances)),
		append([]bodies.Option{bodies.WithParamSchema(&bodies.DeregisterRootParams{})}, timeoutOpt(bodies.CoordinateDeregisterRoot)...)...)

	registry.Register(bodies.HeartPreStartup, bodies.NewHeartPreStartup(store, instances, packagePlugin), timeoutOpt(bodies.HeartPreStartup)...)
	registry.Register(bodies.HeartStartup, bodies.NewHeartStartup(store, instances, runtimePlugin), timeoutOpt(bodies.HeartStartup)...)
	registry.Register(bodies.HeartShutdown, bodies.NewHeartShutdown(store, instances, runtimePlugin), timeoutOpt(bodies.HeartShutdown)...)

	registry.Register(bodies.RoutingUpdateAdd, &bodies.RoutingUpdate{
		Instances: instances, Placement: alloc, Nodes: nodes, Router: routerAdapter{routerClient}, Add: true,
	}, timeoutOpt(bodies.RoutingUpdateAdd)...)
	registry.Register(bodies.RoutingUpdateRemove, &bodies.RoutingUpdate{
		Instances: instances, Placement: alloc, Nodes: nodes, Router: routerAdapter{routerClient}, Add: false,
	}, timeoutOpt(bodies.RoutingUpdateRemove)...)
}

// routerAdapter lets a nil *router.Client (no router configured, e.g. in a
// single-node demo) satisfy bodies.RouterService as a no-op rather than
// forcing every deployment to run Redis.
type routerAdapter struct{ client *router.Client }

func (r routerAdapter) Add(ctx context.Context, key, hostPort string) error {
	if r.client == nil {
		return nil
	}
	return r.client.Add(ctx, key, hostPort)
}

func (r routerAdapter) Remove(ctx context.Context, key, hostPort string) error {
	if r.client == nil {
		return nil
	}
	return r.client.Remove(ctx, key, hostPort)
}

// Channel implements rpc.NodeChannelServer: one call per connected heart
// node's stream, for the lifetime of that connection.
func (c *Coordinator) Channel(stream rpc.NodeChannel_ChannelServer) error {
	var nodeUUID string
	defer func() {
		if nodeUUID != "" {
			c.Dispatcher.UnregisterChannel(nodeUUID)
			c.logger.Info().Str("node", nodeUUID).Msg("node channel disconnected")
		}
	}()

	for {
		frame, err := stream.Recv()
		if err != nil {
			return err
		}
		switch frame.Type {
		case rpc.FrameHeartbeat:
			nodeUUID = frame.NodeUUID
			c.Dispatcher.RegisterChannel(nodeUUID, stream)
			c.touchNode(nodeUUID)
		case rpc.FrameJobResult:
			if err := c.Dispatcher.HandleRemoteResult(frame.JobID, frame.TerminalState, frame.Summary, frame.Output); err != nil {
				c.logger.Warn().Err(err).Str("job_id", frame.JobID).Msg("apply remote result failed")
			}
		}
	}
}

func (c *Coordinator) touchNode(nodeUUID string) {
	node, ok := c.Nodes.Get(nodeUUID)
	if !ok {
		node = &types.Node{UUID: nodeUUID, Roles: []types.NodeRole{types.RoleHeart}}
	}
	node.State = types.NodeActive
	node.LastHeard = time.Now()
	c.Nodes.Upsert(node)
	metrics.NodeUp.WithLabelValues(nodeUUID, string(types.RoleHeart)).Set(1)
}

// Run serves the Node Channel gRPC listener and the Streaming API Facade,
// and drives the selector/dispatch/abort loops, until ctx is canceled.
func (c *Coordinator) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", c.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("coordinator: listen %s: %w", c.cfg.BindAddr, err)
	}
	c.grpcServer = grpc.NewServer(rpc.ServerCodecOption())
	rpc.RegisterNodeChannelServer(c.grpcServer, c)

	errCh := make(chan error, 2)
	go func() {
		c.logger.Info().Str("addr", c.cfg.BindAddr).Msg("node channel listening")
		errCh <- c.grpcServer.Serve(lis)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", c.Stream.HandleWS)
	mux.Handle("/metrics", c.Metrics())
	mux.Handle("/", c.AdminHandler())
	httpSrv := &http.Server{Addr: c.cfg.StreamAddr, Handler: mux}
	go func() {
		c.logger.Info().Str("addr", c.cfg.StreamAddr).Msg("stream facade listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if err := c.Abort.StartSweep(c.cfg.OrphanSweepCron); err != nil {
		return err
	}

	c.driveStop = make(chan struct{})
	go c.driveLoop()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			c.logger.Error().Err(err).Msg("listener failed")
		}
	}

	close(c.driveStop)
	c.Abort.StopSweep()
	c.grpcServer.GracefulStop()
	_ = httpSrv.Close()
	return nil
}

// driveLoop periodically computes the runnable frontier across every armed
// tree and dispatches it, and sweeps expired in-flight deadlines — the
// coordinator's equivalent of the teacher's reconciler tick.
func (c *Coordinator) driveLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.driveStop:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Coordinator) tick() {
	frontier, err := c.Selector.SweepArmedRoots(c.Dispatcher.RunningCounts())
	if err != nil {
		c.logger.Error().Err(err).Msg("frontier sweep failed")
		return
	}
	for _, job := range frontier {
		if err := c.Dispatcher.Dispatch(job); err != nil {
			c.logger.Error().Err(err).Str("job_id", job.JobID).Msg("dispatch failed")
			continue
		}
	}
	c.Dispatcher.SweepTimeouts()
}

// CreateRoot creates and arms a root job of bodyType with the given
// parameters, publishing the new-job event for any active subscriber.
func (c *Coordinator) CreateRoot(bodyType string, params types.Context, title string) (string, error) {
	rootID, err := c.Store.CreateJob(jobstore.CreateJobSpec{BodyType: bodyType, Title: title, Parameters: params})
	if err != nil {
		return "", err
	}
	if err := c.Store.Arm(rootID); err != nil {
		return "", err
	}
	tree, _ := c.Store.Tree(rootID)
	c.Bus.PublishNewJob(rootID, rootID, tree)
	return rootID, nil
}

// Metrics returns a handler exposing the process's Prometheus metrics.
func (c *Coordinator) Metrics() http.Handler {
	return metrics.Handler()
}

// Close releases every owned resource. Run must have returned first.
func (c *Coordinator) Close() error {
	if c.Router != nil {
		_ = c.Router.Close()
	}
	_ = c.Allocator.Close()
	_ = c.Pipe.Close()
	return c.Store.Close()
}
