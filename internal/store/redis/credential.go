package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/toposync/internal/domain"
)

// GetCredential returns the trust credential of an endpoint, or nil when it
// has none.
func (s *Store) GetCredential(ctx context.Context, endpointID string) (*domain.TrustCredential, error) {
	fields, err := s.client.HGetAll(ctx, CredentialKey(endpointID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	return &domain.TrustCredential{
		EndpointID:     endpointID,
		CARoot:         []byte(fields[fieldCARoot]),
		ClientBundle:   []byte(fields[fieldClientBundle]),
		BundlePassword: fields[fieldBundlePassword],
	}, nil
}

// SaveCredential replaces the credential of an endpoint.
func (s *Store) SaveCredential(ctx context.Context, cred domain.TrustCredential) error {
	if cred.EndpointID == "" {
		return errors.New("credential without endpoint id")
	}

	key := CredentialKey(cred.EndpointID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldCARoot, cred.CARoot,
			fieldClientBundle, cred.ClientBundle,
			fieldBundlePassword, cred.BundlePassword,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save credential %s: %w", cred.EndpointID, err)
	}
	return nil
}
