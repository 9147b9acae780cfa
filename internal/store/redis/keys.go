package redis

import "fmt"

const (
	// KeyPrefixEndpoint is the prefix for endpoint hashes
	KeyPrefixEndpoint = "toposync:endpoint:"
	// KeyPrefixCredential is the prefix for credential hashes
	KeyPrefixCredential = "toposync:credential:"
	// KeyPrefixRecords is the prefix for per-endpoint record sets
	KeyPrefixRecords = "toposync:records:"
	// KeyAllEndpoints is the key for the set of all endpoint IDs
	KeyAllEndpoints = "toposync:endpoints:all"
)

// Hash fields of an endpoint.
const (
	fieldID        = "id"
	fieldURI       = "uri"
	fieldKind      = "kind"
	fieldSourceIP  = "source_ip"
	fieldAvailable = "available"
	fieldUpdatedAt = "updated_at"
)

// Hash fields of a credential.
const (
	fieldCARoot         = "ca_root"
	fieldClientBundle   = "client_bundle"
	fieldBundlePassword = "bundle_password"
)

// EndpointKey returns the Redis key for an endpoint by ID
func EndpointKey(id string) string {
	return KeyPrefixEndpoint + id
}

// CredentialKey returns the Redis key for an endpoint credential
func CredentialKey(endpointID string) string {
	return KeyPrefixCredential + endpointID
}

// RecordsKey returns the key of the record set of one endpoint
func RecordsKey(endpointID string) string {
	return KeyPrefixRecords + endpointID
}

// ExtractEndpointID extracts the endpoint ID from a Redis key
func ExtractEndpointID(key string) (string, error) {
	if len(key) <= len(KeyPrefixEndpoint) || key[:len(KeyPrefixEndpoint)] != KeyPrefixEndpoint {
		return "", fmt.Errorf("invalid endpoint key: %s", key)
	}
	return key[len(KeyPrefixEndpoint):], nil
}
