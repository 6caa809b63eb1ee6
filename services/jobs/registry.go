package jobs

import (
	"sync"
	"time"
)

type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// defaultTerminalRetention bounds how many completed/failed entries are kept
// for observability before the oldest are evicted.
const defaultTerminalRetention = 1000

type jobEntry struct {
	JobID     string
	Queue     string
	State     JobState
	UpdatedAt time.Time
}

// Registry tracks job state per idempotency key in process. The scheduler
// runs on a single elected leader, so it observes every enqueue it makes;
// the queue itself stays durable in RabbitMQ, this is only the dedup view.
type Registry struct {
	mu                sync.RWMutex
	entries           map[string]*jobEntry
	terminalOrder     []string
	terminalRetention int
}

func NewRegistry() *Registry {
	return &Registry{
		entries:           make(map[string]*jobEntry),
		terminalRetention: defaultTerminalRetention,
	}
}

func (r *Registry) MarkWaiting(queue, key, jobID string) {
	r.mark(queue, key, jobID, JobStateWaiting)
}

func (r *Registry) MarkActive(queue, key, jobID string) {
	r.mark(queue, key, jobID, JobStateActive)
}

func (r *Registry) MarkCompleted(queue, key, jobID string) {
	r.mark(queue, key, jobID, JobStateCompleted)
}

func (r *Registry) MarkFailed(queue, key, jobID string) {
	r.mark(queue, key, jobID, JobStateFailed)
}

// InFlight reports whether a job under this key is waiting or active. The
// scheduler skips re-enqueueing entities whose prior job is still in flight.
func (r *Registry) InFlight(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[key]
	if !ok {
		return false
	}
	return entry.State == JobStateWaiting || entry.State == JobStateActive
}

// State returns the tracked state and whether the key is known at all.
func (r *Registry) State(key string) (JobState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[key]
	if !ok {
		return "", false
	}
	return entry.State, true
}

// Remove drops a key, used by the scheduler to clear a terminal entry before
// re-adding a recurring job.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, key)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) mark(queue, key, jobID string, state JobState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		entry = &jobEntry{Queue: queue}
		r.entries[key] = entry
	}
	entry.JobID = jobID
	entry.State = state
	entry.UpdatedAt = time.Now()

	if state == JobStateCompleted || state == JobStateFailed {
		r.terminalOrder = append(r.terminalOrder, key)
		r.evictTerminal()
	}
}

// evictTerminal drops the oldest terminal entries past the retention bound.
// Caller holds the write lock. Keys whose entry went back in flight since
// they were recorded terminal are skipped.
func (r *Registry) evictTerminal() {
	for len(r.terminalOrder) > r.terminalRetention {
		key := r.terminalOrder[0]
		r.terminalOrder = r.terminalOrder[1:]

		entry, ok := r.entries[key]
		if !ok {
			continue
		}
		if entry.State == JobStateCompleted || entry.State == JobStateFailed {
			delete(r.entries, key)
		}
	}
}
