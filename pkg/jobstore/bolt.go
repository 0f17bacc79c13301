package jobstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/pacemaker/pkg/jobcontext"
	"github.com/cuemby/pacemaker/pkg/log"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketJobs = []byte("jobs")

// BoltStore is the bbolt-backed Job Record Store. It keeps a full
// in-memory projection of every job (indexed by id, by parent, and by
// root) for fast frontier/tree reads, and replays that projection from
// bbolt on restart so a process crash never loses tree state.
type BoltStore struct {
	db       *bolt.DB
	registry BodyRegistry

	mu       sync.RWMutex
	jobs     map[string]*types.Job
	children map[string][]string // parent_id -> child job ids, insertion order
	byRoot   map[string][]string // root_id -> job ids, insertion order
}

// NewBoltStore opens (or creates) the jobs database under dataDir and
// replays any persisted jobs into the in-memory projection.
func NewBoltStore(dataDir string, registry BodyRegistry) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "jobs.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("jobstore: open database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketJobs)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobstore: create bucket: %w", err)
	}

	s := &BoltStore{
		db:       db,
		registry: registry,
		jobs:     make(map[string]*types.Job),
		children: make(map[string][]string),
		byRoot:   make(map[string][]string),
	}
	if err := s.replay(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) replay() error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("jobstore: replay %s: %w", k, err)
			}
			s.indexLocked(&job)
			return nil
		})
	})
}

// indexLocked inserts job into the in-memory maps. Caller must hold s.mu
// for writing (or be single-threaded at startup).
func (s *BoltStore) indexLocked(job *types.Job) {
	if _, exists := s.jobs[job.JobID]; !exists {
		if job.ParentID != "" {
			s.children[job.ParentID] = append(s.children[job.ParentID], job.JobID)
		}
		s.byRoot[job.RootID] = append(s.byRoot[job.RootID], job.JobID)
	}
	s.jobs[job.JobID] = job
}

func (s *BoltStore) persistLocked(job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobstore: marshal job %s: %w", job.JobID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Put([]byte(job.JobID), data)
	})
}

// CreateJob implements Store.CreateJob.
func (s *BoltStore) CreateJob(spec CreateJobSpec) (string, error) {
	if !s.registry.Exists(spec.BodyType) {
		return "", fmt.Errorf("jobstore: body %q: %w", spec.BodyType, ErrUnknownBody)
	}
	if err := s.registry.Validate(spec.BodyType, spec.Parameters); err != nil {
		return "", fmt.Errorf("jobstore: %v: %w", err, ErrSchemaInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var rootID string
	if spec.ParentID != "" {
		parent, ok := s.jobs[spec.ParentID]
		if !ok {
			return "", fmt.Errorf("jobstore: parent %q: %w", spec.ParentID, ErrNotFound)
		}
		if parent.State.Terminal() {
			return "", fmt.Errorf("jobstore: parent %q: %w", spec.ParentID, ErrParentTerminal)
		}
		if parent.JobID == parent.ParentID {
			return "", fmt.Errorf("jobstore: parent %q: %w", spec.ParentID, ErrCycleDetected)
		}
		rootID = parent.RootID
	}

	jobID := uuid.NewString()
	if rootID == "" {
		rootID = jobID
	}

	seed := spec.ContextSeed
	if seed == nil {
		seed = types.Context{}
	}

	job := &types.Job{
		JobID:       jobID,
		RootID:      rootID,
		ParentID:    spec.ParentID,
		BodyType:    spec.BodyType,
		Parameters:  spec.Parameters,
		Context:     seed.Clone(),
		Node:        spec.Node,
		Title:       spec.Title,
		State:       types.JobNew,
		TimeCreated: time.Now(),
	}
	if parent, ok := s.jobs[spec.ParentID]; ok {
		job.Armed = parent.Armed
		if job.Armed {
			job.State = types.JobWaiting
		}
	}

	s.indexLocked(job)
	if err := s.persistLocked(job); err != nil {
		return "", err
	}
	log.WithComponent("jobstore").Debug().
		Str("job_id", jobID).Str("root_id", rootID).Str("body_type", spec.BodyType).
		Msg("job created")
	return jobID, nil
}

// Get implements Store.Get.
func (s *BoltStore) Get(jobID string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("jobstore: %q: %w", jobID, ErrNotFound)
	}
	cp := *job
	return &cp, nil
}

// Children implements Store.Children.
func (s *BoltStore) Children(jobID string) ([]*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.children[jobID]
	out := make([]*types.Job, 0, len(ids))
	for _, id := range ids {
		cp := *s.jobs[id]
		out = append(out, &cp)
	}
	return out, nil
}

// Tree implements Store.Tree.
func (s *BoltStore) Tree(rootID string) ([]*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byRoot[rootID]
	out := make([]*types.Job, 0, len(ids))
	for _, id := range ids {
		cp := *s.jobs[id]
		out = append(out, &cp)
	}
	return out, nil
}

// legalTransition reports whether old -> next is allowed by I2, with the
// special case that any non-terminal state may move to ABORTED (I3).
func legalTransition(old, next types.JobState) bool {
	if old.Terminal() {
		return false
	}
	if next == types.JobAborted {
		return true
	}
	switch old {
	case types.JobNew:
		return next == types.JobWaiting
	case types.JobWaiting:
		return next == types.JobRunning
	case types.JobRunning:
		return next == types.JobSuccess || next == types.JobFailed
	}
	return false
}

// SetState implements Store.SetState, enforcing I2 monotonicity, the
// DuplicateDelivery rule of §4.4 (repeat of the same terminal state is
// silently ignored), and the I3 cascade: a FAILED or ABORTED transition
// aborts every non-terminal ancestor and every NEW or WAITING job in the
// tree (see collapseTreeLocked).
func (s *BoltStore) SetState(jobID string, newState types.JobState, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("jobstore: %q: %w", jobID, ErrNotFound)
	}

	if job.State.Terminal() {
		if job.State == newState {
			// DuplicateDelivery: re-report of the same terminal state is a
			// no-op, not an error.
			return nil
		}
		return fmt.Errorf("jobstore: job %q: %s -> %s: %w", jobID, job.State, newState, ErrIllegalTransition)
	}

	if !legalTransition(job.State, newState) {
		return fmt.Errorf("jobstore: job %q: %s -> %s: %w", jobID, job.State, newState, ErrIllegalTransition)
	}

	now := time.Now()
	job.State = newState
	if summary != "" {
		job.Summary = summary
	}
	switch newState {
	case types.JobRunning:
		job.TimeStarted = now
	case types.JobSuccess, types.JobFailed, types.JobAborted:
		job.TimeFinished = now
	}
	if err := s.persistLocked(job); err != nil {
		return err
	}

	if newState == types.JobFailed || newState == types.JobAborted {
		if err := s.collapseTreeLocked(job.JobID, job.RootID, now); err != nil {
			return err
		}
	}
	return nil
}

// collapseTreeLocked applies I3 after jobID became FAILED or ABORTED: every
// non-terminal ancestor of jobID and every NEW or WAITING job in rootID's
// tree become ABORTED. Other RUNNING jobs keep running until their own
// result or deadline. Caller must hold s.mu.
func (s *BoltStore) collapseTreeLocked(jobID, rootID string, at time.Time) error {
	ancestors := make(map[string]bool)
	for p, ok := s.jobs[s.jobs[jobID].ParentID]; ok; p, ok = s.jobs[p.ParentID] {
		ancestors[p.JobID] = true
	}
	for _, id := range s.byRoot[rootID] {
		j := s.jobs[id]
		if j.State.Terminal() {
			continue
		}
		if j.State == types.JobRunning && !ancestors[id] {
			continue
		}
		j.State = types.JobAborted
		j.TimeFinished = at
		if j.Summary == "" {
			j.Summary = "aborted: tree collapsed after sibling/ancestor failure"
		}
		if err := s.persistLocked(j); err != nil {
			return err
		}
	}
	return nil
}

// AppendContext implements Store.AppendContext.
func (s *BoltStore) AppendContext(jobID string, fragment types.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("jobstore: %q: %w", jobID, ErrNotFound)
	}
	job.Context = jobcontext.Merge(job.Context, fragment)
	return s.persistLocked(job)
}

// Arm implements Store.Arm. Arming an already-armed or terminal root is a
// no-op (SPEC_FULL Open Question 3).
func (s *BoltStore) Arm(rootID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, ok := s.jobs[rootID]
	if !ok {
		return fmt.Errorf("jobstore: %q: %w", rootID, ErrNotFound)
	}
	if root.Armed || root.State.Terminal() {
		return nil
	}
	for _, id := range s.byRoot[rootID] {
		j := s.jobs[id]
		j.Armed = true
		if j.State == types.JobNew {
			j.State = types.JobWaiting
		}
		if err := s.persistLocked(j); err != nil {
			return err
		}
	}
	return nil
}

// Roots implements Store.Roots.
func (s *BoltStore) Roots() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byRoot))
	for rootID := range s.byRoot {
		root, ok := s.jobs[rootID]
		if !ok || !root.Armed || root.State.Terminal() {
			continue
		}
		out = append(out, rootID)
	}
	return out, nil
}

// Close implements Store.Close.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
