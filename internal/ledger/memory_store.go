package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
// Same transition semantics as the Postgres store, guarded by one mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*InvocationRecord
	pending map[string]map[string]any // record id → retained original request
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*InvocationRecord),
		pending: make(map[string]map[string]any),
	}
}

func (s *MemoryStore) Create(_ context.Context, rec *InvocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("Create: duplicate record id %s", rec.ID)
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*InvocationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListPending(_ context.Context, tenantID string) ([]*InvocationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*InvocationRecord
	for _, rec := range s.records {
		if rec.TenantID == tenantID && rec.State == StatePendingApproval {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (s *MemoryStore) BeginExecution(_ context.Context, tenantID, id, approverID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.TenantID != tenantID || rec.State != StatePendingApproval {
		return false, nil
	}
	rec.State = StateExecuting
	if approverID != "" {
		now := time.Now().UTC()
		rec.ApproverID = approverID
		rec.ApprovedAt = &now
	}
	return true, nil
}

func (s *MemoryStore) Resolve(_ context.Context, tenantID, id string, state State, sanitizedResponse map[string]any, errMsg string) error {
	if state != StateSuccess && state != StateError {
		return fmt.Errorf("Resolve: invalid terminal state %q", state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.TenantID != tenantID {
		return ErrNotFound
	}
	if rec.State != StateExecuting {
		return fmt.Errorf("Resolve: record %s is %s, not executing", id, rec.State)
	}
	now := time.Now().UTC()
	rec.State = state
	rec.SanitizedResponse = sanitizedResponse
	rec.ErrorMessage = errMsg
	rec.ResolvedAt = &now
	delete(s.pending, id)
	return nil
}

func (s *MemoryStore) Reject(_ context.Context, tenantID, id, approverID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.TenantID != tenantID || rec.State != StatePendingApproval {
		return false, nil
	}
	now := time.Now().UTC()
	rec.State = StateError
	rec.ErrorMessage = "rejected: " + reason
	rec.ApproverID = approverID
	rec.ResolvedAt = &now
	delete(s.pending, id)
	return true, nil
}

func (s *MemoryStore) SavePending(_ context.Context, tenantID, id string, original map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.TenantID != tenantID {
		return ErrNotFound
	}
	s.pending[id] = original
	return nil
}

func (s *MemoryStore) TakePending(_ context.Context, tenantID, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.TenantID != tenantID {
		return nil, ErrNotFound
	}
	original, ok := s.pending[id]
	if !ok {
		return nil, fmt.Errorf("TakePending: no retained payload for record %s", id)
	}
	delete(s.pending, id)
	return original, nil
}
