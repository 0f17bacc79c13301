// Package placement answers the register-root tree's two scheduling
// questions: which heart node should run a new instance (candidate
// filtering plus least-loaded selection, following the teacher's
// pkg/scheduler round-robin-by-count idiom), and which port on that node
// the instance gets (a persisted allocator over the configured range).
package placement

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cuemby/pacemaker/pkg/log"
	"github.com/cuemby/pacemaker/pkg/types"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// Registry tracks the nodes known to the coordinator, refreshed by
// heartbeats. It is the placement-time view of the cluster; it does not own
// node health decisions (that is pkg/abort's node-loss sweep).
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*types.Node
}

// NewRegistry creates an empty node Registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*types.Node)}
}

// Upsert records or refreshes a node's last-known state.
func (r *Registry) Upsert(node *types.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[node.UUID] = node
}

// Remove drops a node, e.g. after node-loss reconciliation retires it.
func (r *Registry) Remove(uuid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, uuid)
}

// Get returns the node with the given UUID.
func (r *Registry) Get(uuid string) (*types.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[uuid]
	return n, ok
}

// Active returns every node with the given role in NodeActive state,
// matching the teacher's filterSchedulableNodes shape.
func (r *Registry) Active(role types.NodeRole) []*types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*types.Node
	for _, n := range r.nodes {
		if n.State == types.NodeActive && n.HasRole(role) {
			out = append(out, n)
		}
	}
	return out
}

// All returns every node the Registry has ever heard from, regardless of
// role or state, for operator-facing listings (e.g. `pacemaker node-list`).
func (r *Registry) All() []*types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

var bucketPorts = []byte("placement_ports")

// Allocator picks a node and a port for a new instance. Port allocations
// are durable across restarts, backed by the same bbolt idiom as
// pkg/jobstore.
type Allocator struct {
	registry *Registry
	db       *bolt.DB
	low      int
	high     int
	logger   zerolog.Logger

	mu        sync.Mutex
	allocated map[string]map[int]bool // nodeUUID -> port -> in use
}

// NewAllocator opens (or creates) the placement database under dataDir and
// replays any previously allocated ports.
func NewAllocator(dataDir string, registry *Registry, low, high int) (*Allocator, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "placement.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("placement: open db: %w", err)
	}

	a := &Allocator{
		registry:  registry,
		db:        db,
		low:       low,
		high:      high,
		logger:    log.WithComponent("placement"),
		allocated: make(map[string]map[int]bool),
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketPorts)
		if err != nil {
			return fmt.Errorf("placement: create bucket: %w", err)
		}
		return b.ForEach(func(k, v []byte) error {
			nodeUUID, port := splitPortKey(k)
			if a.allocated[nodeUUID] == nil {
				a.allocated[nodeUUID] = make(map[int]bool)
			}
			a.allocated[nodeUUID][port] = true
			return nil
		})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// Close closes the underlying database.
func (a *Allocator) Close() error {
	return a.db.Close()
}

// DB returns the underlying bbolt handle so the instance store can share
// the same file rather than opening a second one.
func (a *Allocator) DB() *bolt.DB {
	return a.db
}

// SelectNode picks the active node with the given role that has the fewest
// allocated ports (least-loaded), mirroring the teacher's selectNode.
func (a *Allocator) SelectNode(role types.NodeRole) (*types.Node, error) {
	candidates := a.registry.Active(role)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("placement: no active %s nodes available", role)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var selected *types.Node
	min := -1
	for _, n := range candidates {
		count := len(a.allocated[n.UUID])
		if min == -1 || count < min {
			min = count
			selected = n
		}
	}
	return selected, nil
}

// AllocatePort reserves the lowest free port in range for nodeUUID and
// persists the reservation.
func (a *Allocator) AllocatePort(nodeUUID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	used := a.allocated[nodeUUID]
	for port := a.low; port <= a.high; port++ {
		if used != nil && used[port] {
			continue
		}
		if err := a.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketPorts).Put(portKey(nodeUUID, port), []byte{1})
		}); err != nil {
			return 0, fmt.Errorf("placement: persist port allocation: %w", err)
		}
		if a.allocated[nodeUUID] == nil {
			a.allocated[nodeUUID] = make(map[int]bool)
		}
		a.allocated[nodeUUID][port] = true
		a.logger.Debug().Str("node", nodeUUID).Int("port", port).Msg("allocated port")
		return port, nil
	}
	return 0, fmt.Errorf("placement: no free port for node %s in range %d-%d", nodeUUID, a.low, a.high)
}

// ReleasePort frees a previously allocated port, e.g. during deregistration.
func (a *Allocator) ReleasePort(nodeUUID string, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPorts).Delete(portKey(nodeUUID, port))
	}); err != nil {
		return fmt.Errorf("placement: release port: %w", err)
	}
	delete(a.allocated[nodeUUID], port)
	return nil
}

func portKey(nodeUUID string, port int) []byte {
	key := make([]byte, len(nodeUUID)+1+4)
	copy(key, nodeUUID)
	key[len(nodeUUID)] = '|'
	binary.BigEndian.PutUint32(key[len(nodeUUID)+1:], uint32(port))
	return key
}

func splitPortKey(key []byte) (string, int) {
	sep := len(key) - 4 - 1
	nodeUUID := string(key[:sep])
	port := int(binary.BigEndian.Uint32(key[sep+1:]))
	return nodeUUID, port
}
