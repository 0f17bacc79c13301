package placement

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/pacemaker/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketInstances = []byte("placement_instances")

// InstanceStore is the narrow write interface onto the application-instance
// projection (spec §3: "the job manager treats them as opaque identifiers
// and performs state transitions via the instance service"). It is backed
// by the same Allocator database so instance rows and their port
// reservations persist together.
type InstanceStore struct {
	db *bolt.DB

	mu        sync.RWMutex
	instances map[string]*types.Instance
}

// NewInstanceStore opens the instance bucket in the given bbolt database
// and replays any previously persisted instances.
func NewInstanceStore(db *bolt.DB) (*InstanceStore, error) {
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketInstances)
		return err
	}); err != nil {
		return nil, fmt.Errorf("placement: create instance bucket: %w", err)
	}

	s := &InstanceStore{db: db, instances: make(map[string]*types.Instance)}
	if err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var inst types.Instance
			if err := json.Unmarshal(v, &inst); err != nil {
				return err
			}
			s.instances[inst.InstanceID] = &inst
			return nil
		})
	}); err != nil {
		return nil, fmt.Errorf("placement: replay instances: %w", err)
	}
	return s, nil
}

func (s *InstanceStore) persist(inst *types.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("placement: marshal instance %s: %w", inst.InstanceID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).Put([]byte(inst.InstanceID), data)
	})
}

// Create persists a new instance row, typically in InstanceRegistered state
// (spec §4.5 coordinate.select_locations: "Allocate port, persist instance
// records as REGISTERED").
func (s *InstanceStore) Create(inst *types.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(inst); err != nil {
		return err
	}
	cp := *inst
	s.instances[inst.InstanceID] = &cp
	return nil
}

// Get returns the instance with the given id.
func (s *InstanceStore) Get(instanceID string) (*types.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("placement: instance %q not found", instanceID)
	}
	cp := *inst
	return &cp, nil
}

// SetState transitions an instance's state and persists the change. This is
// the sole write path heart.startup/heart.shutdown use to move an instance
// between REGISTERED, RUNNING, and STOPPED (SPEC_FULL Open Question 1).
func (s *InstanceStore) SetState(instanceID string, state types.InstanceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return fmt.Errorf("placement: instance %q not found", instanceID)
	}
	inst.State = state
	return s.persist(inst)
}

// Delete removes an instance row, e.g. after coordinate.deregister_root
// tears down its routing and process.
func (s *InstanceStore) Delete(instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, instanceID)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).Delete([]byte(instanceID))
	})
}
