package selector

import (
	"testing"

	"github.com/cuemby/pacemaker/pkg/jobstore"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAllRegistry struct{}

func (allowAllRegistry) Exists(string) bool                      { return true }
func (allowAllRegistry) Validate(string, types.Context) error    { return nil }

func newStore(t *testing.T) jobstore.Store {
	t.Helper()
	s, err := jobstore.NewBoltStore(t.TempDir(), allowAllRegistry{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFrontierOnlyLeafWithSuccessfulChildren(t *testing.T) {
	store := newStore(t)
	rootID, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "root"})
	require.NoError(t, err)
	childID, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "child", ParentID: rootID})
	require.NoError(t, err)
	require.NoError(t, store.Arm(rootID))

	sel := New(store, 4)
	frontier, err := sel.Frontier(rootID, nil)
	require.NoError(t, err)

	// Root is WAITING but has a non-SUCCESS child, so only the child is runnable.
	require.Len(t, frontier, 1)
	assert.Equal(t, childID, frontier[0].JobID)

	require.NoError(t, store.SetState(childID, types.JobRunning, ""))
	require.NoError(t, store.SetState(childID, types.JobSuccess, ""))

	frontier, err = sel.Frontier(rootID, nil)
	require.NoError(t, err)
	require.Len(t, frontier, 1)
	assert.Equal(t, rootID, frontier[0].JobID)
}

func TestFrontierRespectsNodeConcurrency(t *testing.T) {
	store := newStore(t)
	rootID, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "root"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "leaf", ParentID: rootID, Node: "heart-1"})
		require.NoError(t, err)
	}
	require.NoError(t, store.Arm(rootID))

	sel := New(store, 2)
	frontier, err := sel.Frontier(rootID, nil)
	require.NoError(t, err)
	assert.Len(t, frontier, 2)
}

func TestFrontierTieBreakByTimeThenID(t *testing.T) {
	store := newStore(t)
	rootID, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "root"})
	require.NoError(t, err)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := store.CreateJob(jobstore.CreateJobSpec{BodyType: "leaf", ParentID: rootID})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, store.Arm(rootID))

	sel := New(store, 100)
	frontier, err := sel.Frontier(rootID, nil)
	require.NoError(t, err)
	require.Len(t, frontier, 3)
	// jobs created back to back may share a TimeCreated; the frontier must
	// still be ordered by TimeCreated, then JobID.
	var got []string
	for _, j := range frontier {
		got = append(got, j.JobID)
	}
	assert.ElementsMatch(t, ids, got)
	for i := 1; i < len(frontier); i++ {
		a, b := frontier[i-1], frontier[i]
		assert.True(t, a.TimeCreated.Before(b.TimeCreated) ||
			(a.TimeCreated.Equal(b.TimeCreated) && a.JobID < b.JobID))
	}
}
