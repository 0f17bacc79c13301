package abort

import (
	"testing"
	"time"

	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/placement"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAllRegistry struct{}

func (allowAllRegistry) Exists(string) bool                   { return true }
func (allowAllRegistry) Validate(string, types.Context) error { return nil }

func newStore(t *testing.T) jobstore.Store {
	t.Helper()
	s, err := jobstore.NewBoltStore(t.TempDir(), allowAllRegistry{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeNotifier struct {
	aborted []string
	onNode  map[string][]string
}

func (f *fakeNotifier) SendAbort(nodeUUID, jobID string) error {
	f.aborted = append(f.aborted, jobID)
	return nil
}

func (f *fakeNotifier) JobsOnNode(nodeUUID string) []string {
	return f.onNode[nodeUUID]
}

func TestAbortCollapsesWaitingDescendants(t *testing.T) {
	store := newStore(t)
	rootID, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "root"})
	require.NoError(t, err)
	childID, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "child", ParentID: rootID})
	require.NoError(t, err)
	require.NoError(t, store.Arm(rootID))

	c := New(store, &fakeNotifier{}, placement.NewRegistry(), 0, nil)
	require.NoError(t, c.Abort(rootID))

	root, err := store.Get(rootID)
	require.NoError(t, err)
	child, err := store.Get(childID)
	require.NoError(t, err)
	assert.Equal(t, types.JobAborted, root.State)
	assert.Equal(t, types.JobAborted, child.State)
}

func TestAbortNotifiesRunningDescendants(t *testing.T) {
	store := newStore(t)
	rootID, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "root"})
	require.NoError(t, err)
	childID, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "child", ParentID: rootID, Node: "heart-1"})
	require.NoError(t, err)
	require.NoError(t, store.Arm(rootID))
	require.NoError(t, store.SetState(childID, types.JobRunning, ""))

	notifier := &fakeNotifier{}
	c := New(store, notifier, placement.NewRegistry(), 0, nil)
	require.NoError(t, c.Abort(rootID))

	assert.Contains(t, notifier.aborted, childID)
	// The RUNNING child is only force-terminated by SweepTimeouts / the
	// eventual (possibly discarded) result, not by Abort itself.
	child, err := store.Get(childID)
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, child.State)
}

func TestAbortOnTerminalRootIsNoop(t *testing.T) {
	store := newStore(t)
	rootID, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "root"})
	require.NoError(t, err)
	require.NoError(t, store.Arm(rootID))
	require.NoError(t, store.SetState(rootID, types.JobRunning, ""))
	require.NoError(t, store.SetState(rootID, types.JobSuccess, ""))

	c := New(store, &fakeNotifier{}, placement.NewRegistry(), 0, nil)
	require.NoError(t, c.Abort(rootID))

	root, err := store.Get(rootID)
	require.NoError(t, err)
	assert.Equal(t, types.JobSuccess, root.State)
}

func TestSweepNodeLossFailsInFlightJobs(t *testing.T) {
	store := newStore(t)
	rootID, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "root"})
	require.NoError(t, err)
	childID, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "child", ParentID: rootID, Node: "heart-1"})
	require.NoError(t, err)
	require.NoError(t, store.Arm(rootID))
	require.NoError(t, store.SetState(childID, types.JobRunning, ""))

	registry := placement.NewRegistry()
	registry.Upsert(&types.Node{
		UUID:      "heart-1",
		Roles:     []types.NodeRole{types.RoleHeart},
		State:     types.NodeActive,
		LastHeard: time.Now().Add(-time.Hour),
	})

	notifier := &fakeNotifier{onNode: map[string][]string{"heart-1": {childID}}}
	c := New(store, notifier, registry, 30*time.Second, nil)
	c.SweepNodeLoss()

	child, err := store.Get(childID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, child.State)

	node, ok := registry.Get("heart-1")
	require.True(t, ok)
	assert.Equal(t, types.NodeInactive, node.State)
}
