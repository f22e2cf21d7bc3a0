package authflow

import (
	"errors"
	"sync"
)

// MemoryFlowRepo is a thread-safe in-memory implementation of FlowRepo.
// Pending flows do not survive a process restart; use FileFlowRepo when the
// callback may arrive in a fresh invocation.
type MemoryFlowRepo struct {
	mu    sync.RWMutex
	flows map[string]*PendingFlow
}

// NewMemoryFlowRepo creates a new in-memory flow repository.
func NewMemoryFlowRepo() *MemoryFlowRepo {
	return &MemoryFlowRepo{
		flows: make(map[string]*PendingFlow),
	}
}

// Upsert stores or replaces the pending flow for a correlation state.
func (r *MemoryFlowRepo) Upsert(state string, flow *PendingFlow) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if flow == nil {
		return errors.New("flow cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Store a copy to prevent external modifications
	flowCopy := *flow
	r.flows[state] = &flowCopy
	return nil
}

// Get retrieves the pending flow for a correlation state.
func (r *MemoryFlowRepo) Get(state string) (*PendingFlow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flow, exists := r.flows[state]
	if !exists {
		return nil, errors.New("state not found")
	}

	// Return a copy to prevent external modifications
	flowCopy := *flow
	return &flowCopy, nil
}

// Delete removes the pending flow for a correlation state.
func (r *MemoryFlowRepo) Delete(state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.flows, state)
	return nil
}
