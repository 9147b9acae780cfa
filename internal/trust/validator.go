package trust

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/MrSnakeDoc/toposync/internal/logger"
)

var (
	// ErrUnknownToken is returned by the handshake hook when the token was
	// never registered, was already consumed, or was purged.
	ErrUnknownToken = errors.New("trust: no anchor registered for connection token")
	// ErrRejected is returned by the handshake hook when the private chain
	// evaluation does not satisfy Acceptable.
	ErrRejected = errors.New("trust: server certificate rejected")
)

// PlatformErrors is the coarse verdict of the standard verification pass
// (system roots, host name) before the per-endpoint decision.
type PlatformErrors uint8

const (
	PlatformNone             PlatformErrors = 0
	PlatformCertNotAvailable PlatformErrors = 1 << (iota - 1)
	PlatformNameMismatch
	PlatformChainErrors
)

func (p PlatformErrors) String() string {
	if p == PlatformNone {
		return "none"
	}
	var out string
	add := func(s string) {
		if out != "" {
			out += "|"
		}
		out += s
	}
	if p&PlatformCertNotAvailable != 0 {
		add("cert_not_available")
	}
	if p&PlatformNameMismatch != 0 {
		add("name_mismatch")
	}
	if p&PlatformChainErrors != 0 {
		add("chain_errors")
	}
	return out
}

type registration struct {
	caRoot       *x509.Certificate
	registeredAt time.Time
}

// Validator correlates TLS handshakes with the trust anchor registered for
// the fetch that started them.
//
// Each fetch draws a fresh token, registers its endpoint's CA root under
// it, and binds VerifyConnection(token, host) into the tls.Config of that single
// connection. The entry is removed on first lookup, so a token can decide
// at most one handshake; tokens that are never used are dropped by
// PurgeBefore at the end of the sweep.
type Validator struct {
	mu      sync.Mutex
	pending map[string]registration

	clock       clock.Clock
	systemRoots *x509.CertPool
	useSystem   bool
	logger      logger.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock replaces the wall clock (tests use clock.NewMock()).
func WithClock(c clock.Clock) Option {
	return func(v *Validator) { v.clock = c }
}

// WithSystemRoots sets the pool used for the platform pass. A nil pool
// disables it: every handshake then goes through the private chain.
func WithSystemRoots(pool *x509.CertPool) Option {
	return func(v *Validator) {
		v.systemRoots = pool
		v.useSystem = pool != nil
	}
}

// NewValidator creates a Validator that uses the host's system roots for the
// platform pass unless WithSystemRoots says otherwise.
func NewValidator(log logger.Logger, opts ...Option) *Validator {
	v := &Validator{
		pending: make(map[string]registration),
		clock:   clock.New(),
		logger:  log,
	}
	if pool, err := x509.SystemCertPool(); err == nil {
		v.systemRoots = pool
		v.useSystem = true
	} else {
		log.Warn("system cert pool unavailable, platform pass disabled", logger.Error(err))
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewToken returns a fresh connection token.
func (v *Validator) NewToken() string {
	return uuid.NewString()
}

// Register stores caRoot as the only anchor for the connection identified
// by token. It must be called before the connection is attempted. A token
// is never overwritten.
func (v *Validator) Register(token string, caRoot *x509.Certificate) error {
	if token == "" {
		return fmt.Errorf("trust: empty token")
	}
	if caRoot == nil {
		return fmt.Errorf("trust: nil ca root for token %s", token)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.pending[token]; exists {
		return fmt.Errorf("trust: token %s already registered", token)
	}
	v.pending[token] = registration{caRoot: caRoot, registeredAt: v.clock.Now()}
	return nil
}

// Validate decides one handshake. The registration for token is consumed
// whatever the outcome.
func (v *Validator) Validate(token string, peer Peer, platform PlatformErrors) bool {
	return v.decide(token, peer, platform) == nil
}

func (v *Validator) decide(token string, peer Peer, platform PlatformErrors) error {
	reg, ok := v.consume(token)
	if !ok {
		v.logger.Warn("handshake with unknown connection token",
			logger.String("token", token),
			logger.String("server_name", peer.ServerName))
		return ErrUnknownToken
	}

	if platform == PlatformNone {
		return nil
	}
	if peer.Leaf() == nil {
		return fmt.Errorf("%w: no server certificate presented", ErrRejected)
	}

	statuses := EvaluateChain(peer, reg.caRoot, v.platformRoots(), v.clock.Now())
	if !Acceptable(statuses) {
		v.logger.Warn("server certificate rejected by private chain",
			logger.String("server_name", peer.ServerName),
			logger.String("subject", peer.Leaf().Subject.String()),
			logger.String("platform_errors", platform.String()),
			logger.String("chain_status", StatusList(statuses)))
		return fmt.Errorf("%w: chain status [%s]", ErrRejected, StatusList(statuses))
	}

	v.logger.Debug("server certificate accepted on registered anchor",
		logger.String("server_name", peer.ServerName),
		logger.String("chain_status", StatusList(statuses)))
	return nil
}

// consume removes and returns the registration for token.
func (v *Validator) consume(token string) (registration, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	reg, ok := v.pending[token]
	if ok {
		delete(v.pending, token)
	}
	return reg, ok
}

// Classify runs the platform pass: is a certificate present, does it match
// the requested name, and does it chain to a system root.
func (v *Validator) Classify(peer Peer) PlatformErrors {
	leaf := peer.Leaf()
	if leaf == nil {
		return PlatformCertNotAvailable
	}

	var errs PlatformErrors
	if peer.ServerName != "" {
		if err := leaf.VerifyHostname(peer.ServerName); err != nil {
			errs |= PlatformNameMismatch
		}
	}
	if !verifiesWith(leaf, peer, v.platformRoots(), v.clock.Now()) {
		errs |= PlatformChainErrors
	}
	return errs
}

func (v *Validator) platformRoots() *x509.CertPool {
	if !v.useSystem {
		return nil
	}
	return v.systemRoots
}

// VerifyConnection returns the tls.Config hook for the one connection
// identified by token. The config must also set InsecureSkipVerify so the
// hook replaces default chain validation.
//
// host is the name the certificate must match. It is checked even when the
// handshake carried no SNI, which is the case for IP literal endpoints; an
// empty host falls back to the negotiated server name.
func (v *Validator) VerifyConnection(token, host string) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		name := host
		if name == "" {
			name = cs.ServerName
		}
		peer := Peer{ServerName: name, Certificates: cs.PeerCertificates}
		return v.decide(token, peer, v.Classify(peer))
	}
}

// Forget drops the registration for token without deciding anything. The
// fetcher calls it once its connection attempt is over.
func (v *Validator) Forget(token string) {
	v.consume(token)
}

// PurgeBefore drops every registration made at or before t and returns how
// many were dropped.
func (v *Validator) PurgeBefore(t time.Time) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := 0
	for token, reg := range v.pending {
		if !reg.registeredAt.After(t) {
			delete(v.pending, token)
			n++
		}
	}
	return n
}

// Pending returns the number of registrations not yet consumed.
func (v *Validator) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}
