// Package store persists approval requests. Stores are pure I/O: every state
// transition is decided by the models and the service, and the store only
// enforces optimistic versioning and the one-pending-request-per-target rule.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"accessgate/internal/approval/models"
	id "accessgate/pkg/domain"
	"accessgate/pkg/platform/sentinel"
)

type pendingKey struct {
	requestedBy string
	targetType  models.TargetType
	targetID    string
}

func pendingKeyOf(r *models.ApprovalRequest) pendingKey {
	return pendingKey{requestedBy: r.RequestedBy, targetType: r.TargetType, targetID: r.TargetID}
}

// InMemoryStore keeps requests in a map guarded by a RWMutex. Values are
// cloned on the way in and out so callers never share state with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[id.ApprovalID]*models.ApprovalRequest
	pending  map[pendingKey]id.ApprovalID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[id.ApprovalID]*models.ApprovalRequest),
		pending:  make(map[pendingKey]id.ApprovalID),
	}
}

// Create inserts a new request at version 1. A second pending request for
// the same requester and target yields sentinel.ErrAlreadyUsed.
func (s *InMemoryStore) Create(_ context.Context, req *models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	if req.Status == models.StatusPending {
		if _, exists := s.pending[pendingKeyOf(req)]; exists {
			return sentinel.ErrAlreadyUsed
		}
		s.pending[pendingKeyOf(req)] = req.ID
	}
	req.Version = 1
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, requestID id.ApprovalID) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return req.Clone(), nil
}

// FindPending returns the pending request for the requester and target.
func (s *InMemoryStore) FindPending(_ context.Context, requestedBy string, targetType models.TargetType, targetID string) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	requestID, ok := s.pending[pendingKey{requestedBy: requestedBy, targetType: targetType, targetID: targetID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.requests[requestID].Clone(), nil
}

// Update replaces the stored request when its version still equals
// expectedVersion, bumping req.Version on success. A stale version yields
// sentinel.ErrConflict.
func (s *InMemoryStore) Update(_ context.Context, req *models.ApprovalRequest, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[req.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}

	if current.Status == models.StatusPending && req.Status != models.StatusPending {
		delete(s.pending, pendingKeyOf(current))
	}
	req.Version = expectedVersion + 1
	s.requests[req.ID] = req.Clone()
	return nil
}

// List returns matching requests, newest first.
func (s *InMemoryStore) List(_ context.Context, filter models.ListFilter) ([]*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ApprovalRequest, 0, len(s.requests))
	for _, req := range s.requests {
		if matches(req, filter) {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Stats counts requests matching filter by status and type.
func (s *InMemoryStore) Stats(_ context.Context, filter models.ListFilter) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.NewStats()
	for _, req := range s.requests {
		if matches(req, filter) {
			stats.Add(req.Status, req.ApprovalType)
		}
	}
	return stats, nil
}

// ListExpirable returns up to limit pending or approved requests whose
// deadline is before now, oldest deadline first.
func (s *InMemoryStore) ListExpirable(_ context.Context, now time.Time, limit int) ([]*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ApprovalRequest
	for _, req := range s.requests {
		if req.ShouldExpire(now) {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiryDeadline.Before(out[j].ExpiryDeadline)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(req *models.ApprovalRequest, filter models.ListFilter) bool {
	if filter.Status != "" && req.Status != filter.Status {
		return false
	}
	if filter.RequestedBy != "" && req.RequestedBy != filter.RequestedBy {
		return false
	}
	if filter.ApprovalType != "" && req.ApprovalType != filter.ApprovalType {
		return false
	}
	if filter.ApprovedBy != "" && !req.HasApproved(filter.ApprovedBy) {
		return false
	}
	return true
}
