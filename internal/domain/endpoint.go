package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TransportKind tells how an endpoint publishes its topology.
type TransportKind string

const (
	// KindDirect endpoints serve their own topology at {uri}/services.
	KindDirect TransportKind = "direct"
	// KindVirtual endpoints front several origins and need the caller's
	// source IP to pick one: {uri}/services?from_ip={source_ip}.
	KindVirtual TransportKind = "virtual"
)

// ParseTransportKind accepts the symbolic names as well as the legacy
// numeric codes (0 = direct, 1 = virtual).
func ParseTransportKind(s string) (TransportKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct", "0":
		return KindDirect, nil
	case "virtual", "1":
		return KindVirtual, nil
	default:
		return "", fmt.Errorf("unknown transport kind %q", s)
	}
}

// Endpoint is a remote target polled for topology information.
//
// Endpoints are provisioned outside the sweep. The reconciler only ever
// writes Available (and UpdatedAt alongside it).
type Endpoint struct {
	ID        string        `json:"id"`
	URI       string        `json:"uri"`
	Kind      TransportKind `json:"kind"`
	SourceIP  string        `json:"source_ip,omitempty"`
	Available bool          `json:"available"`

	// UpdatedAt is the time of the last availability write.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Validate checks the fields a fetch depends on.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("endpoint id is empty")
	}
	u, err := url.Parse(e.URI)
	if err != nil {
		return fmt.Errorf("endpoint %s: invalid uri: %w", e.ID, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint %s: unsupported scheme %q", e.ID, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %s: uri has no host", e.ID)
	}
	if e.Kind == KindVirtual && strings.TrimSpace(e.SourceIP) == "" {
		return fmt.Errorf("endpoint %s: virtual endpoint requires source_ip", e.ID)
	}
	return nil
}

// Scheme returns the lower-cased URI scheme, or "" when the URI is unusable.
func (e Endpoint) Scheme() string {
	u, err := url.Parse(e.URI)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// RequiresTLS reports whether the endpoint is reached over https.
func (e Endpoint) RequiresTLS() bool {
	return e.Scheme() == "https"
}
