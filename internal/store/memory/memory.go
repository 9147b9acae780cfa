// Package memory is an in-process store.Store. It backs TOPOSYNC_STORE=memory
// and the reconciler tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrSnakeDoc/toposync/internal/domain"
	"github.com/MrSnakeDoc/toposync/internal/store"
)

// Store keeps endpoints, credentials and records behind one RWMutex, so a
// Commit is atomic with respect to every reader.
type Store struct {
	mu          sync.RWMutex
	endpoints   map[string]*domain.Endpoint                  // ID -> Endpoint
	credentials map[string]domain.TrustCredential            // endpoint ID -> credential
	records     map[string]map[domain.ServiceRecord]struct{} // endpoint ID -> record set

	// FailCommit, when set, is consulted before every Commit.
	FailCommit func(endpointID string) error
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		endpoints:   make(map[string]*domain.Endpoint),
		credentials: make(map[string]domain.TrustCredential),
		records:     make(map[string]map[domain.ServiceRecord]struct{}),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// SaveEndpoint adds or updates a single endpoint
func (s *Store) SaveEndpoint(_ context.Context, ep domain.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.endpoints[ep.ID]; ok {
		ep.Available = existing.Available
		ep.UpdatedAt = existing.UpdatedAt
	} else {
		ep.Available = false
	}
	s.endpoints[ep.ID] = &ep
	return nil
}

// GetEndpoint retrieves an endpoint by ID
func (s *Store) GetEndpoint(_ context.Context, id string) (*domain.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("endpoint %s: %w", id, store.ErrNotFound)
	}
	cp := *ep
	return &cp, nil
}

// ListEndpoints returns all endpoints sorted by ID
func (s *Store) ListEndpoints(context.Context) ([]domain.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	endpoints := make([]domain.Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		endpoints = append(endpoints, *ep)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].ID < endpoints[j].ID })
	return endpoints, nil
}

// GetCredential returns nil when the endpoint has no credential
func (s *Store) GetCredential(_ context.Context, endpointID string) (*domain.TrustCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[endpointID]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

// SaveCredential replaces the credential of an endpoint
func (s *Store) SaveCredential(_ context.Context, cred domain.TrustCredential) error {
	if cred.EndpointID == "" {
		return errors.New("credential without endpoint id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials[cred.EndpointID] = cred
	return nil
}

// Commit applies availability and record inserts under the write lock.
func (s *Store) Commit(_ context.Context, c store.Commit) (store.CommitResult, error) {
	for _, rec := range c.Records {
		if rec.EndpointID != c.EndpointID {
			return store.CommitResult{}, fmt.Errorf("record for %s committed under %s", rec.EndpointID, c.EndpointID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCommit != nil {
		if err := s.FailCommit(c.EndpointID); err != nil {
			return store.CommitResult{}, err
		}
	}

	ep, ok := s.endpoints[c.EndpointID]
	if !ok {
		return store.CommitResult{}, fmt.Errorf("endpoint %s: %w", c.EndpointID, store.ErrNotFound)
	}

	result := store.CommitResult{AvailabilityChanged: ep.Available != c.Available}
	ep.Available = c.Available
	ep.UpdatedAt = c.At

	if len(c.Records) > 0 {
		set, ok := s.records[c.EndpointID]
		if !ok {
			set = make(map[domain.ServiceRecord]struct{}, len(c.Records))
			s.records[c.EndpointID] = set
		}
		for _, rec := range c.Records {
			if _, exists := set[rec]; exists {
				continue
			}
			set[rec] = struct{}{}
			result.Inserted++
		}
	}
	return result, nil
}

// ListRecords returns the records of one endpoint in key order
func (s *Store) ListRecords(_ context.Context, endpointID string) ([]domain.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.records[endpointID]
	records := make([]domain.ServiceRecord, 0, len(set))
	for rec := range set {
		records = append(records, rec)
	}
	domain.SortRecords(records)
	return records, nil
}

// Count returns the number of stored records across all endpoints
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, set := range s.records {
		n += len(set)
	}
	return n
}
