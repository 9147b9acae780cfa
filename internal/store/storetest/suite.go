// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/toposync/internal/domain"
	"github.com/MrSnakeDoc/toposync/internal/store"
)

// Run exercises a backend. factory must return an empty store.
func Run(t *testing.T, factory func(t *testing.T) store.Store) {
	t.Run("SaveEndpointKeepsAvailability", func(t *testing.T) { testSaveEndpoint(t, factory(t)) })
	t.Run("CredentialAbsentIsNil", func(t *testing.T) { testCredentials(t, factory(t)) })
	t.Run("CommitIsIdempotent", func(t *testing.T) { testCommitIdempotent(t, factory(t)) })
	t.Run("CommitAvailabilityOnly", func(t *testing.T) { testCommitAvailability(t, factory(t)) })
	t.Run("RecordsArePartitionedByEndpoint", func(t *testing.T) { testPartition(t, factory(t)) })
}

func endpoint(id string) domain.Endpoint {
	return domain.Endpoint{ID: id, URI: "http://" + id + ".example/api", Kind: domain.KindDirect}
}

func rec(endpointID, sni, ip string, port int) domain.ServiceRecord {
	return domain.ServiceRecord{ServerName: sni, ServiceIP: ip, ServicePort: port, EndpointID: endpointID}
}

func testSaveEndpoint(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.SaveEndpoint(ctx, endpoint("a")))
	got, err := s.GetEndpoint(ctx, "a")
	require.NoError(t, err)
	assert.False(t, got.Available, "new endpoints start unavailable")

	_, err = s.Commit(ctx, store.Commit{EndpointID: "a", Available: true, At: time.Now()})
	require.NoError(t, err)

	updated := endpoint("a")
	updated.URI = "http://a.example/v2"
	require.NoError(t, s.SaveEndpoint(ctx, updated))

	got, err = s.GetEndpoint(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "http://a.example/v2", got.URI)
	assert.True(t, got.Available, "re-importing an endpoint keeps its availability")

	list, err := s.ListEndpoints(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = s.GetEndpoint(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	assert.Error(t, s.SaveEndpoint(ctx, domain.Endpoint{ID: "bad", URI: "ftp://x"}))
}

func testCredentials(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveEndpoint(ctx, endpoint("a")))

	cred, err := s.GetCredential(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.NoError(t, s.SaveCredential(ctx, domain.TrustCredential{
		EndpointID:     "a",
		CARoot:         []byte("ca"),
		ClientBundle:   []byte("bundle"),
		BundlePassword: "pw",
	}))
	cred, err = s.GetCredential(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, []byte("ca"), cred.CARoot)
	assert.Equal(t, []byte("bundle"), cred.ClientBundle)
	assert.Equal(t, "pw", cred.BundlePassword)
}

func testCommitIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveEndpoint(ctx, endpoint("a")))

	records := []domain.ServiceRecord{
		rec("a", "x.example", "10.0.0.1", 443),
		rec("a", "empty", "10.1.1.1", 8080),
	}

	first, err := s.Commit(ctx, store.Commit{EndpointID: "a", Available: true, Records: records, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	assert.True(t, first.AvailabilityChanged)
	assert.True(t, first.Changed())

	second, err := s.Commit(ctx, store.Commit{EndpointID: "a", Available: true, Records: records, At: time.Now()})
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.False(t, second.AvailabilityChanged)
	assert.False(t, second.Changed())

	grown := append(records, rec("a", "y.example", "10.0.0.2", 80))
	third, err := s.Commit(ctx, store.Commit{EndpointID: "a", Available: true, Records: grown, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 1, third.Inserted)

	stored, err := s.ListRecords(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func testCommitAvailability(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveEndpoint(ctx, endpoint("a")))

	_, err := s.Commit(ctx, store.Commit{
		EndpointID: "a", Available: true, At: time.Now(),
		Records: []domain.ServiceRecord{rec("a", "x.example", "10.0.0.1", 443)},
	})
	require.NoError(t, err)

	down, err := s.Commit(ctx, store.Commit{EndpointID: "a", Available: false, At: time.Now()})
	require.NoError(t, err)
	assert.True(t, down.AvailabilityChanged)
	assert.Zero(t, down.Inserted)

	stillDown, err := s.Commit(ctx, store.Commit{EndpointID: "a", Available: false, At: time.Now()})
	require.NoError(t, err)
	assert.False(t, stillDown.Changed())

	got, err := s.GetEndpoint(ctx, "a")
	require.NoError(t, err)
	assert.False(t, got.Available)

	stored, err := s.ListRecords(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, stored, 1, "records survive an outage")
}

func testPartition(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveEndpoint(ctx, endpoint("a")))
	require.NoError(t, s.SaveEndpoint(ctx, endpoint("b")))

	same := func(id string) []domain.ServiceRecord {
		return []domain.ServiceRecord{rec(id, "shared.example", "10.0.0.1", 443)}
	}
	ra, err := s.Commit(ctx, store.Commit{EndpointID: "a", Available: true, Records: same("a"), At: time.Now()})
	require.NoError(t, err)
	rb, err := s.Commit(ctx, store.Commit{EndpointID: "b", Available: true, Records: same("b"), At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 1, ra.Inserted)
	assert.Equal(t, 1, rb.Inserted, "the endpoint id is part of the record key")

	_, err = s.Commit(ctx, store.Commit{EndpointID: "a", Available: true, Records: same("b"), At: time.Now()})
	assert.Error(t, err, "a record may only be committed under its own endpoint")
}
