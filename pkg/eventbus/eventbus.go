// Package eventbus implements the Status Bus (spec §4.7): publishes typed
// job lifecycle events to subscribers indexed by root_id (every descendant)
// or by job_id (a single job), the way the teacher's pkg/events.Broker
// fans cluster events out to subscriber channels, generalized to the two
// index keys the spec requires instead of one global topic.
package eventbus

import (
	"sync"
	"time"

	"github.com/cuemby/pacemaker/pkg/types"
)

// Kind is one of the four event kinds spec §4.7 names.
type Kind string

const (
	KindNewJob     Kind = "new"
	KindTree       Kind = "tree"
	KindStatus     Kind = "status"
	KindSubscribed Kind = "subscribed"
)

// Event is a single Status Bus delivery.
type Event struct {
	Kind Kind
	Time time.Time

	RootID string
	JobID  string

	// State/Summary are populated for KindStatus.
	State   types.JobState
	Summary string

	// Tree is populated for KindNewJob/KindTree: a snapshot of every job in
	// the affected root's tree, so a reconnecting subscriber can rebuild
	// state without a replayed backlog (spec §4.7: "subscribers that miss
	// events can rebuild from tree(root_id) on reconnect").
	Tree []*types.Job
}

// Subscriber is a channel a caller reads delivered events from.
type Subscriber chan Event

// Bus is the Status Bus: best-effort in-order delivery per topic, no
// backlog beyond what the Job Record Store itself persists.
type Bus struct {
	mu        sync.RWMutex
	byRoot    map[string]map[Subscriber]bool
	byJob     map[string]map[Subscriber]bool
	subBuffer int
}

// New creates an empty Bus. subBuffer bounds how many undelivered events a
// slow subscriber may queue before new events are dropped for it, mirroring
// the teacher's per-subscriber buffered channel.
func New(subBuffer int) *Bus {
	if subBuffer <= 0 {
		subBuffer = 64
	}
	return &Bus{
		byRoot:    make(map[string]map[Subscriber]bool),
		byJob:     make(map[string]map[Subscriber]bool),
		subBuffer: subBuffer,
	}
}

// SubscribeRoot subscribes to every event for rootID's tree (spec: "indexed
// by root_id (receives all descendants' events)").
func (b *Bus) SubscribeRoot(rootID string) Subscriber {
	sub := make(Subscriber, b.subBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.byRoot[rootID] == nil {
		b.byRoot[rootID] = make(map[Subscriber]bool)
	}
	b.byRoot[rootID][sub] = true
	return sub
}

// SubscribeJob subscribes to events for a single job only.
func (b *Bus) SubscribeJob(jobID string) Subscriber {
	sub := make(Subscriber, b.subBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.byJob[jobID] == nil {
		b.byJob[jobID] = make(map[Subscriber]bool)
	}
	b.byJob[jobID][sub] = true
	return sub
}

// UnsubscribeRoot removes sub from rootID's subscriber set and closes it.
func (b *Bus) UnsubscribeRoot(rootID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.byRoot[rootID]; ok && subs[sub] {
		delete(subs, sub)
		close(sub)
	}
}

// UnsubscribeJob removes sub from jobID's subscriber set and closes it.
func (b *Bus) UnsubscribeJob(jobID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.byJob[jobID]; ok && subs[sub] {
		delete(subs, sub)
		close(sub)
	}
}

// Publish delivers ev to every subscriber of its RootID and, if set, its
// JobID. Delivery is best-effort: a full subscriber channel drops the
// event rather than blocking the publisher (spec §4.7).
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.byRoot[ev.RootID] {
		select {
		case sub <- ev:
		default:
		}
	}
	if ev.JobID == "" {
		return
	}
	for sub := range b.byJob[ev.JobID] {
		select {
		case sub <- ev:
		default:
		}
	}
}

// PublishStatus is a convenience wrapper for the common status transition
// event.
func (b *Bus) PublishStatus(rootID, jobID string, state types.JobState, summary string) {
	b.Publish(Event{Kind: KindStatus, RootID: rootID, JobID: jobID, State: state, Summary: summary})
}

// PublishNewJob announces a freshly created job along with its tree
// snapshot.
func (b *Bus) PublishNewJob(rootID, jobID string, tree []*types.Job) {
	b.Publish(Event{Kind: KindNewJob, RootID: rootID, JobID: jobID, Tree: tree})
}

// PublishTree announces a full tree snapshot for rootID, used on
// subscribe/reconnect.
func (b *Bus) PublishTree(rootID string, tree []*types.Job) {
	b.Publish(Event{Kind: KindTree, RootID: rootID, Tree: tree})
}

// TreeReader is the narrow slice of jobstore.Store that PublishTransitions
// needs, declared here so pkg/eventbus never imports pkg/jobstore.
type TreeReader interface {
	Tree(rootID string) ([]*types.Job, error)
}

// PublishTransitions diffs store's current tree for rootID against a
// before snapshot and publishes a status event for every job whose state
// changed since, plus one fresh tree snapshot. Callers that drive
// jobstore.Store.SetState directly use this to surface terminal
// transitions the Job Record Store's own I3 cascade makes silently — a
// FAILED or ABORTED call can collapse sibling/ancestor jobs the caller
// never touched directly (spec §4.7). bus may be nil (no-op), matching
// every other Bus call site in this tree.
func PublishTransitions(bus *Bus, store TreeReader, rootID string, before []*types.Job) {
	if bus == nil {
		return
	}
	after, err := store.Tree(rootID)
	if err != nil {
		return
	}
	prev := make(map[string]types.JobState, len(before))
	for _, j := range before {
		prev[j.JobID] = j.State
	}
	for _, j := range after {
		if prev[j.JobID] != j.State {
			bus.PublishStatus(rootID, j.JobID, j.State, j.Summary)
		}
	}
	bus.PublishTree(rootID, after)
}
