// Package store defines the persistence contract of the reconciler and the
// admin surface. Backends live in store/redis and store/memory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrSnakeDoc/toposync/internal/domain"
)

// ErrNotFound is returned when an endpoint does not exist.
var ErrNotFound = errors.New("not found")

// Commit is the unit of work for one endpoint in one sweep. Records is nil
// when the fetch failed; the availability write still happens.
type Commit struct {
	EndpointID string
	Available  bool
	Records    []domain.ServiceRecord
	At         time.Time
}

// CommitResult reports what a Commit actually changed.
type CommitResult struct {
	Inserted            int
	AvailabilityChanged bool
}

// Changed reports whether the commit modified persisted state.
func (r CommitResult) Changed() bool {
	return r.Inserted > 0 || r.AvailabilityChanged
}

// EndpointStore holds the endpoint registry.
type EndpointStore interface {
	ListEndpoints(ctx context.Context) ([]domain.Endpoint, error)
	GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error)
	// SaveEndpoint upserts the descriptive fields and keeps any existing
	// availability flag.
	SaveEndpoint(ctx context.Context, ep domain.Endpoint) error
}

// CredentialStore holds per-endpoint trust material.
type CredentialStore interface {
	// GetCredential returns (nil, nil) when the endpoint has none.
	GetCredential(ctx context.Context, endpointID string) (*domain.TrustCredential, error)
	SaveCredential(ctx context.Context, cred domain.TrustCredential) error
}

// RecordStore holds service records, insert-only.
type RecordStore interface {
	// Commit writes availability and inserts the missing records of one
	// endpoint atomically: either both land or neither does.
	Commit(ctx context.Context, c Commit) (CommitResult, error)
	ListRecords(ctx context.Context, endpointID string) ([]domain.ServiceRecord, error)
}

// Store is the full backend contract.
type Store interface {
	EndpointStore
	CredentialStore
	RecordStore
	Ping(ctx context.Context) error
}
