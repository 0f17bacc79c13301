package dispatch

import (
	"testing"
	"time"

	"github.com/cuemby/pacemaker/pkg/bodies"
	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// leafBody immediately reports success or failure and signals done.
type leafBody struct {
	fail   bool
	output types.Context
	done   chan struct{}
}

func (b *leafBody) Start(job *types.Job, logger zerolog.Logger, onSuccess bodies.SuccessFunc, onFailure bodies.FailureFunc) {
	if b.fail {
		onFailure("leaf failed")
	} else {
		onSuccess(b.output, "leaf done")
	}
	close(b.done)
}

// pivotBody extends the tree with one child and waits for it.
type pivotBody struct {
	store      jobstore.Store
	childBody  string
	done       chan struct{}
}

func (b *pivotBody) Start(job *types.Job, logger zerolog.Logger, onSuccess bodies.SuccessFunc, onFailure bodies.FailureFunc) {
	_, err := b.store.CreateJob(jobstore.CreateJobSpec{
		BodyType: b.childBody,
		Title:    "child",
		ParentID: job.JobID,
	})
	if err != nil {
		onFailure(err.Error())
	}
	close(b.done)
}

func waitClosed(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for body to run")
	}
}

func TestDispatchLocalLeafSuccess(t *testing.T) {
	reg := bodies.NewRegistry()
	store, err := jobstore.NewBoltStore(t.TempDir(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	done := make(chan struct{})
	reg.Register("test.leaf", &leafBody{output: types.Context{"k": "v"}, done: done})

	rootID, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "test.leaf"})
	require.NoError(t, err)
	require.NoError(t, store.Arm(rootID))

	d := New(store, reg, "coordinator-1", 5*time.Minute, nil, nil)
	job, err := store.Get(rootID)
	require.NoError(t, err)
	require.NoError(t, d.Dispatch(job))

	waitClosed(t, done)
	// give the dispatcher's goroutine a moment to apply the completion.
	require.Eventually(t, func() bool {
		j, _ := store.Get(rootID)
		return j.State == types.JobSuccess
	}, time.Second, 10*time.Millisecond)
}

func TestDispatchPivotFinalizesOnChildSuccess(t *testing.T) {
	reg := bodies.NewRegistry()
	store, err := jobstore.NewBoltStore(t.TempDir(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pivotDone := make(chan struct{})
	leafDone := make(chan struct{})
	reg.Register("test.pivot", &pivotBody{store: store, childBody: "test.leaf", done: pivotDone})
	reg.Register("test.leaf", &leafBody{output: types.Context{"instance-1": "RUNNING"}, done: leafDone})

	rootID, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "test.pivot"})
	require.NoError(t, err)
	require.NoError(t, store.Arm(rootID))

	d := New(store, reg, "coordinator-1", 5*time.Minute, nil, nil)
	job, err := store.Get(rootID)
	require.NoError(t, err)
	require.NoError(t, d.Dispatch(job))
	waitClosed(t, pivotDone)

	// Now the child exists and is WAITING; dispatch it directly as the
	// coordinator's scheduling loop would.
	children, err := store.Children(rootID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.NoError(t, d.Dispatch(children[0]))
	waitClosed(t, leafDone)

	require.Eventually(t, func() bool {
		j, _ := store.Get(rootID)
		return j.State == types.JobSuccess
	}, time.Second, 10*time.Millisecond)

	root, err := store.Get(rootID)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", root.Context["instance-1"])
}

func TestDispatchUnknownBody(t *testing.T) {
	reg := bodies.NewRegistry()
	reg.Register("test.known", &leafBody{done: make(chan struct{})})
	store, err := jobstore.NewBoltStore(t.TempDir(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d := New(store, reg, "coordinator-1", 5*time.Minute, nil, nil)
	err = d.Dispatch(&types.Job{JobID: "nope", BodyType: "test.unregistered"})
	assert.Error(t, err)
}
