package authflow

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

const flowFileName = "pending_flows.json"

// FileFlowRepo persists pending flows in a JSON file so a redirect begun in
// one process invocation can resume in a later one. Flows are few and
// short-lived, so the whole map is rewritten on every change. An unreadable
// or corrupt file counts as having no pending flows.
type FileFlowRepo struct {
	mu   sync.Mutex
	path string
}

// NewFileFlowRepo creates a flow repository backed by a file under dir.
func NewFileFlowRepo(dir string) (*FileFlowRepo, error) {
	if dir == "" {
		return nil, errors.New("[NewFileFlowRepo] dir is required")
	}
	return &FileFlowRepo{path: filepath.Join(dir, flowFileName)}, nil
}

// Upsert stores or replaces the pending flow for a correlation state.
func (r *FileFlowRepo) Upsert(state string, flow *PendingFlow) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if flow == nil {
		return errors.New("flow cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	flows := r.read()
	flows[state] = *flow
	return r.write(flows)
}

// Get retrieves the pending flow for a correlation state.
func (r *FileFlowRepo) Get(state string) (*PendingFlow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flow, exists := r.read()[state]
	if !exists {
		return nil, errors.New("state not found")
	}
	return &flow, nil
}

// Delete removes the pending flow for a correlation state.
func (r *FileFlowRepo) Delete(state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	flows := r.read()
	if _, exists := flows[state]; !exists {
		return nil
	}
	delete(flows, state)
	return r.write(flows)
}

func (r *FileFlowRepo) read() map[string]PendingFlow {
	flows := make(map[string]PendingFlow)
	data, err := os.ReadFile(r.path)
	if err != nil {
		return flows
	}
	if err := json.Unmarshal(data, &flows); err != nil {
		return make(map[string]PendingFlow)
	}
	return flows
}

func (r *FileFlowRepo) write(flows map[string]PendingFlow) error {
	data, err := json.Marshal(flows)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o600)
}
