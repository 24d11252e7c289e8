package host

import (
	"fmt"
	"sync"
	"time"

	"github.com/catapultcase/JunctionRelay-Collectors/pkg/discovery"
	"github.com/catapultcase/JunctionRelay-Collectors/pkg/protocol"
	"github.com/catapultcase/JunctionRelay-Collectors/pkg/supervisor"
)

// State represents the lifecycle state of a running collector.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFailed   State = "failed"
	StateStopped  State = "stopped"
)

// Record tracks one running collector.
type Record struct {
	Plugin     discovery.Plugin
	Supervisor *supervisor.Supervisor
	Metadata   *protocol.CollectorMetadata
	State      State
	StartedAt  time.Time
	ErrorCount int
	LastError  error
	// SessionToken is the active persistent-session token, when one is open.
	SessionToken string
}

// Registry tracks running collectors keyed by collectorName.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Register adds a collector record.
func (r *Registry) Register(name string, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[name]; exists {
		return fmt.Errorf("collector %s already registered", name)
	}
	r.records[name] = record
	return nil
}

// Get retrieves a collector by name.
func (r *Registry) Get(name string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, exists := r.records[name]
	return record, exists
}

// GetAll returns all registered collectors.
func (r *Registry) GetAll() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*Record, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, record)
	}
	return records
}

// Update applies a mutation to a collector record under the lock.
func (r *Registry) Update(name string, updater func(*Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[name]
	if !exists {
		return fmt.Errorf("collector %s not found", name)
	}
	updater(record)
	return nil
}

// UpdateState sets a collector's state.
func (r *Registry) UpdateState(name string, state State) error {
	return r.Update(name, func(record *Record) {
		record.State = state
	})
}

// RecordError counts a failure against a collector.
func (r *Registry) RecordError(name string, err error) error {
	return r.Update(name, func(record *Record) {
		record.ErrorCount++
		record.LastError = err
	})
}

// Remove deletes a collector record.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[name]; !exists {
		return fmt.Errorf("collector %s not found", name)
	}
	delete(r.records, name)
	return nil
}
