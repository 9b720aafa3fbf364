package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskTerminal = errors.New("task already in a terminal state")
)

// entry wraps a task with its own lock so that mutating one task never
// blocks reads or writes on another. The Registry lock only guards the map.
type entry struct {
	mu   sync.Mutex
	task Task
}

// Registry is the single source of truth for in-flight and finished tasks.
// Records live in process memory only; a terminal task survives until some
// request consumes it or the janitor sweeps it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	ttl time.Duration
}

// New creates a Registry. terminalTTL bounds how long an unconsumed terminal
// task may linger before StartJanitor sweeps it; zero disables sweeping.
func New(terminalTTL time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		ttl:     terminalTTL,
	}
}

// Create allocates a fresh task in the processing state and returns a snapshot.
// The id doubles as the notification channel name, so it must be unguessable.
func (r *Registry) Create(kind Kind) Task {
	now := time.Now().UTC()
	t := Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		State:     StateProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	r.entries[t.ID] = &entry{task: t}
	r.mu.Unlock()
	return t.Clone()
}

// Get returns a snapshot of the task, if present.
func (r *Registry) Get(id string) (Task, bool) {
	e := r.lookup(id)
	if e == nil {
		return Task{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone(), true
}

// AppendDiagnostic records a non-fatal warning on a still-processing task.
func (r *Registry) AppendDiagnostic(id, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil
	}
	e := r.lookup(id)
	if e == nil {
		return ErrTaskNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.Terminal() {
		return ErrTaskTerminal
	}
	e.task.Diagnostics = append(e.task.Diagnostics, note)
	e.task.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete moves the task to its completed terminal state. Terminal states are
// immutable: a second terminal transition is rejected.
func (r *Registry) Complete(id, result string) error {
	return r.finish(id, StateCompleted, result)
}

// Fail moves the task to its error terminal state with a user-readable message.
func (r *Registry) Fail(id, message string) error {
	return r.finish(id, StateError, message)
}

func (r *Registry) finish(id string, state State, result string) error {
	e := r.lookup(id)
	if e == nil {
		return ErrTaskNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.Terminal() {
		return ErrTaskTerminal
	}
	e.task.State = state
	e.task.Result = result
	e.task.UpdatedAt = time.Now().UTC()
	return nil
}

// Consume atomically removes and returns the task. When two requests race to
// consume the same id, exactly one receives the record; the other gets false
// and must treat the task as absent, not as an error.
func (r *Registry) Consume(id string) (Task, bool) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return Task{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone(), true
}

// Len reports the number of registered tasks. Used by metrics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// StartJanitor sweeps terminal tasks that nobody consumed within the TTL.
// A superseded submission leaves its task unconsumed forever otherwise.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweepExpired()
			}
		}
	}()
}

func (r *Registry) sweepExpired() {
	now := time.Now().UTC()
	var expired []string

	r.mu.RLock()
	for id, e := range r.entries {
		e.mu.Lock()
		if e.task.Terminal() && now.Sub(e.task.UpdatedAt) > r.ttl {
			expired = append(expired, id)
		}
		e.mu.Unlock()
	}
	r.mu.RUnlock()

	if len(expired) == 0 {
		return
	}
	r.mu.Lock()
	for _, id := range expired {
		delete(r.entries, id)
	}
	r.mu.Unlock()
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}
