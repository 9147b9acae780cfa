package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/toposync/internal/domain"
	"github.com/MrSnakeDoc/toposync/internal/store"
)

// maxCommitRetries bounds optimistic-lock retries of one commit.
const maxCommitRetries = 5

// Commit writes the availability flag and inserts missing records of one
// endpoint in a single MULTI/EXEC, guarded by WATCH on the endpoint hash.
//
// Records are stored as canonical JSON set members, so SADD is the
// idempotent insert and its reply is the number of new records.
func (s *Store) Commit(ctx context.Context, c store.Commit) (store.CommitResult, error) {
	members, err := encodeRecords(c.EndpointID, c.Records)
	if err != nil {
		return store.CommitResult{}, err
	}

	key := EndpointKey(c.EndpointID)
	var result store.CommitResult

	txf := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("endpoint %s: %w", c.EndpointID, store.ErrNotFound)
		}

		prev, err := tx.HGet(ctx, key, fieldAvailable).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		var added *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldAvailable, formatBool(c.Available),
				fieldUpdatedAt, c.At.UTC().Format(time.RFC3339Nano),
			)
			if len(members) > 0 {
				added = pipe.SAdd(ctx, RecordsKey(c.EndpointID), members...)
			}
			return nil
		})
		if err != nil {
			return err
		}

		result = store.CommitResult{AvailabilityChanged: parseBool(prev) != c.Available}
		if added != nil {
			result.Inserted = int(added.Val())
		}
		return nil
	}

	for i := 0; i < maxCommitRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return store.CommitResult{}, fmt.Errorf("failed to commit endpoint %s: %w", c.EndpointID, err)
		}
	}
	return store.CommitResult{}, fmt.Errorf("failed to commit endpoint %s: %w", c.EndpointID, err)
}

// ListRecords returns the records of one endpoint in key order.
func (s *Store) ListRecords(ctx context.Context, endpointID string) ([]domain.ServiceRecord, error) {
	members, err := s.client.SMembers(ctx, RecordsKey(endpointID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}

	records := make([]domain.ServiceRecord, 0, len(members))
	for _, m := range members {
		var rec domain.ServiceRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, rec)
	}
	domain.SortRecords(records)
	return records, nil
}

func encodeRecords(endpointID string, records []domain.ServiceRecord) ([]interface{}, error) {
	if len(records) == 0 {
		return nil, nil
	}

	members := make([]interface{}, 0, len(records))
	for _, rec := range records {
		if rec.EndpointID != endpointID {
			return nil, fmt.Errorf("record for %s committed under %s", rec.EndpointID, endpointID)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal record: %w", err)
		}
		members = append(members, string(data))
	}
	sort.Slice(members, func(i, j int) bool { return members[i].(string) < members[j].(string) })
	return members, nil
}
