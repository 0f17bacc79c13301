package jobstore

import (
	"errors"
	"testing"

	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	known map[string]bool
}

func (f *fakeRegistry) Exists(bodyType string) bool { return f.known[bodyType] }

func (f *fakeRegistry) Validate(bodyType string, parameters types.Context) error {
	if bodyType == "test.requires_name" {
		if _, ok := parameters["name"]; !ok {
			return errors.New("missing required field: name")
		}
	}
	return nil
}

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	reg := &fakeRegistry{known: map[string]bool{
		"test.root":           true,
		"test.child":          true,
		"test.requires_name":  true,
	}}
	s, err := NewBoltStore(t.TempDir(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateJobRootAndChild(t *testing.T) {
	s := newTestStore(t)

	rootID, err := s.CreateJob(CreateJobSpec{BodyType: "test.root", Title: "root"})
	require.NoError(t, err)

	childID, err := s.CreateJob(CreateJobSpec{BodyType: "test.child", Title: "child", ParentID: rootID})
	require.NoError(t, err)

	root, err := s.Get(rootID)
	require.NoError(t, err)
	assert.Equal(t, types.JobNew, root.State)
	assert.Equal(t, rootID, root.RootID)
	assert.True(t, root.IsRoot())

	child, err := s.Get(childID)
	require.NoError(t, err)
	assert.Equal(t, rootID, child.RootID)
	assert.Equal(t, rootID, child.ParentID)

	children, err := s.Children(rootID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, childID, children[0].JobID)

	tree, err := s.Tree(rootID)
	require.NoError(t, err)
	assert.Len(t, tree, 2)
}

func TestCreateJobUnknownBody(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateJob(CreateJobSpec{BodyType: "test.nonexistent"})
	assert.ErrorIs(t, err, ErrUnknownBody)
}

func TestCreateJobSchemaInvalid(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateJob(CreateJobSpec{BodyType: "test.requires_name", Parameters: types.Context{}})
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestCreateJobParentTerminal(t *testing.T) {
	s := newTestStore(t)
	rootID, err := s.CreateJob(CreateJobSpec{BodyType: "test.root"})
	require.NoError(t, err)
	require.NoError(t, s.Arm(rootID))
	require.NoError(t, s.SetState(rootID, types.JobRunning, ""))
	require.NoError(t, s.SetState(rootID, types.JobSuccess, ""))

	_, err = s.CreateJob(CreateJobSpec{BodyType: "test.child", ParentID: rootID})
	assert.ErrorIs(t, err, ErrParentTerminal)
}

func TestArmIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	rootID, err := s.CreateJob(CreateJobSpec{BodyType: "test.root"})
	require.NoError(t, err)
	childID, err := s.CreateJob(CreateJobSpec{BodyType: "test.child", ParentID: rootID})
	require.NoError(t, err)

	require.NoError(t, s.Arm(rootID))
	require.NoError(t, s.Arm(rootID)) // second arm is a no-op, not an error

	child, err := s.Get(childID)
	require.NoError(t, err)
	assert.Equal(t, types.JobWaiting, child.State)
}

func TestSetStateMonotonicity(t *testing.T) {
	s := newTestStore(t)
	rootID, err := s.CreateJob(CreateJobSpec{BodyType: "test.root"})
	require.NoError(t, err)
	require.NoError(t, s.Arm(rootID))
	require.NoError(t, s.SetState(rootID, types.JobRunning, ""))
	require.NoError(t, s.SetState(rootID, types.JobSuccess, "done"))

	// P1: no transition out of a terminal state.
	err = s.SetState(rootID, types.JobRunning, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestSetStateDuplicateDeliveryIsIgnored(t *testing.T) {
	s := newTestStore(t)
	rootID, err := s.CreateJob(CreateJobSpec{BodyType: "test.root"})
	require.NoError(t, err)
	require.NoError(t, s.Arm(rootID))
	require.NoError(t, s.SetState(rootID, types.JobRunning, ""))
	require.NoError(t, s.SetState(rootID, types.JobSuccess, "first"))

	// A duplicate report of the same terminal state must not error.
	err = s.SetState(rootID, types.JobSuccess, "second")
	assert.NoError(t, err)

	job, err := s.Get(rootID)
	require.NoError(t, err)
	assert.Equal(t, "first", job.Summary)
}

func TestSetStateFailureCollapsesTree(t *testing.T) {
	s := newTestStore(t)
	rootID, err := s.CreateJob(CreateJobSpec{BodyType: "test.root"})
	require.NoError(t, err)
	childA, err := s.CreateJob(CreateJobSpec{BodyType: "test.child", ParentID: rootID})
	require.NoError(t, err)
	childB, err := s.CreateJob(CreateJobSpec{BodyType: "test.child", ParentID: rootID})
	require.NoError(t, err)

	require.NoError(t, s.Arm(rootID))
	require.NoError(t, s.SetState(childA, types.JobRunning, ""))
	require.NoError(t, s.SetState(childA, types.JobFailed, "boom"))

	// I3: ancestor and sibling both collapse to ABORTED, not FAILED.
	root, err := s.Get(rootID)
	require.NoError(t, err)
	assert.Equal(t, types.JobAborted, root.State)

	sibling, err := s.Get(childB)
	require.NoError(t, err)
	assert.Equal(t, types.JobAborted, sibling.State)

	failed, err := s.Get(childA)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, failed.State)
}

func TestAppendContextMerge(t *testing.T) {
	s := newTestStore(t)
	rootID, err := s.CreateJob(CreateJobSpec{
		BodyType:    "test.root",
		ContextSeed: types.Context{"a": 1},
	})
	require.NoError(t, err)

	require.NoError(t, s.AppendContext(rootID, types.Context{"b": 2}))
	job, err := s.Get(rootID)
	require.NoError(t, err)
	assert.Equal(t, types.Context{"a": 1, "b": 2}, job.Context)
}

func TestRootsOnlyListsArmedNonTerminal(t *testing.T) {
	s := newTestStore(t)
	unarmed, err := s.CreateJob(CreateJobSpec{BodyType: "test.root"})
	require.NoError(t, err)
	armed, err := s.CreateJob(CreateJobSpec{BodyType: "test.root"})
	require.NoError(t, err)
	done, err := s.CreateJob(CreateJobSpec{BodyType: "test.root"})
	require.NoError(t, err)

	require.NoError(t, s.Arm(armed))
	require.NoError(t, s.Arm(done))
	require.NoError(t, s.SetState(done, types.JobRunning, ""))
	require.NoError(t, s.SetState(done, types.JobSuccess, ""))

	roots, err := s.Roots()
	require.NoError(t, err)
	assert.Contains(t, roots, armed)
	assert.NotContains(t, roots, unarmed)
	assert.NotContains(t, roots, done)
}

func TestReplayAfterRestart(t *testing.T) {
	dir := t.TempDir()
	reg := &fakeRegistry{known: map[string]bool{"test.root": true}}

	s1, err := NewBoltStore(dir, reg)
	require.NoError(t, err)
	rootID, err := s1.CreateJob(CreateJobSpec{BodyType: "test.root", Title: "root"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewBoltStore(dir, reg)
	require.NoError(t, err)
	t.Cleanup(func() { s2.Close() })

	job, err := s2.Get(rootID)
	require.NoError(t, err)
	assert.Equal(t, "root", job.Title)
}
