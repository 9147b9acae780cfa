package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/toposync/internal/domain"
	"github.com/MrSnakeDoc/toposync/internal/store"
)

// Store is the Redis backend of store.Store.
type Store struct {
	client *redis.Client
}

var _ store.Store = (*Store)(nil)

// NewStore creates a new Redis store
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
	}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SaveEndpoint upserts an endpoint. A new endpoint starts unavailable; an
// existing availability flag is left untouched.
func (s *Store) SaveEndpoint(ctx context.Context, ep domain.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	key := EndpointKey(ep.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldID, ep.ID,
			fieldURI, ep.URI,
			fieldKind, string(ep.Kind),
			fieldSourceIP, ep.SourceIP,
		)
		pipe.HSetNX(ctx, key, fieldAvailable, formatBool(false))
		pipe.SAdd(ctx, KeyAllEndpoints, ep.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save endpoint %s: %w", ep.ID, err)
	}
	return nil
}

// GetEndpoint retrieves an endpoint by ID
func (s *Store) GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error) {
	fields, err := s.client.HGetAll(ctx, EndpointKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("endpoint %s: %w", id, store.ErrNotFound)
	}
	return decodeEndpoint(id, fields)
}

// ListEndpoints returns every registered endpoint, sorted by ID.
func (s *Store) ListEndpoints(ctx context.Context) ([]domain.Endpoint, error) {
	ids, err := s.client.SMembers(ctx, KeyAllEndpoints).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint IDs: %w", err)
	}
	if len(ids) == 0 {
		// The index is gone (evicted, flushed by hand): rebuild it from the hashes.
		ids, err = s.rebuildIndex(ctx)
		if err != nil {
			return nil, err
		}
	}
	if len(ids) == 0 {
		return []domain.Endpoint{}, nil
	}
	sort.Strings(ids)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, EndpointKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load endpoints: %w", err)
	}

	endpoints := make([]domain.Endpoint, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			// Index entry without a hash: skip it
			continue
		}
		ep, err := decodeEndpoint(id, fields)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *ep)
	}
	return endpoints, nil
}

// rebuildIndex scans the endpoint hashes and restores KeyAllEndpoints.
func (s *Store) rebuildIndex(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, KeyPrefixEndpoint+"*", 100).Iterator()
	for iter.Next(ctx) {
		id, err := ExtractEndpointID(iter.Val())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan endpoint keys: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := s.client.SAdd(ctx, KeyAllEndpoints, members...).Err(); err != nil {
		return nil, fmt.Errorf("failed to rebuild endpoint index: %w", err)
	}
	return ids, nil
}

func decodeEndpoint(id string, fields map[string]string) (*domain.Endpoint, error) {
	kind, err := domain.ParseTransportKind(fields[fieldKind])
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", id, err)
	}

	ep := &domain.Endpoint{
		ID:        id,
		URI:       fields[fieldURI],
		Kind:      kind,
		SourceIP:  fields[fieldSourceIP],
		Available: parseBool(fields[fieldAvailable]),
	}
	if ts := fields[fieldUpdatedAt]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ep.UpdatedAt = t
		}
	}
	return ep, nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
