package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/pacemaker/pkg/bodies"
	"github.com/cuemby/pacemaker/pkg/config"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.RouterAddr = ""
	cfg.NodeUUID = "coordinator-1"
	cfg.BindAddr = "127.0.0.1:0"
	cfg.StreamAddr = "127.0.0.1:0"

	c, err := New(cfg, map[string]string{"demo": "true %(port)d"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRegisterAndStartupTreeRunsToCompletion(t *testing.T) {
	c := newTestCoordinator(t)

	c.Nodes.Upsert(&types.Node{
		UUID:      "heart-1",
		Roles:     []types.NodeRole{types.RoleHeart},
		Tags:      map[string]string{"runtime_types": "demo"},
		State:     types.NodeActive,
		LastHeard: time.Now(),
	})

	rootID, err := c.CreateRoot(bodies.CoordinateRegisterRoot, types.Context{
		"application_instance_type_id": "demo",
	}, "Register demo instance")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		root, err := c.Store.Get(rootID)
		require.NoError(t, err)
		c.tick()
		return root.State == types.JobSuccess
	}, 5*time.Second, 20*time.Millisecond)

	tree, err := c.Store.Tree(rootID)
	require.NoError(t, err)
	var sawSelectLocations bool
	for _, j := range tree {
		if j.BodyType == bodies.CoordinateSelectLocations {
			sawSelectLocations = true
			require.Equal(t, types.JobSuccess, j.State)
		}
	}
	require.True(t, sawSelectLocations)

	root, err := c.Store.Get(rootID)
	require.NoError(t, err)
	instanceID, _ := root.Context["instance_id"].(string)
	require.NotEmpty(t, instanceID)

	inst, err := c.Instances.Get(instanceID)
	require.NoError(t, err)
	require.Equal(t, types.InstanceRegistered, inst.State)

	startupRoot, err := c.CreateRoot(bodies.CoordinateStartupRoot, types.Context{
		"instance_id": instanceID,
	}, "Start demo instance")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		root, err := c.Store.Get(startupRoot)
		require.NoError(t, err)
		c.tick()
		return root.State == types.JobSuccess
	}, 5*time.Second, 20*time.Millisecond)

	inst, err = c.Instances.Get(instanceID)
	require.NoError(t, err)
	require.Equal(t, types.InstanceRunning, inst.State)
}

func TestRunServesUntilCanceled(t *testing.T) {
	c := newTestCoordinator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))
}
