package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrSnakeDoc/toposync/internal/domain"
	"github.com/MrSnakeDoc/toposync/internal/logger"
	"github.com/MrSnakeDoc/toposync/internal/trust"
	"github.com/MrSnakeDoc/toposync/internal/utils"
	"github.com/MrSnakeDoc/toposync/internal/version"
)

const (
	// DefaultTimeout bounds one fetch, handshake included.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxBodyBytes caps the topology body read from an endpoint.
	DefaultMaxBodyBytes = 8 << 20

	servicesPath = "/services"
	fromIPParam  = "from_ip"
)

// Options tunes a Fetcher.
type Options struct {
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Fetcher retrieves topology documents. Plain and system-trust requests go
// through the shared client; every mutual-TLS request gets a transport of
// its own whose verification hook is bound to a single connection token.
type Fetcher struct {
	shared    *http.Client
	base      *http.Transport
	validator *trust.Validator
	materials *trust.MaterialCache
	logger    logger.Logger
	timeout   time.Duration
	maxBody   int64
}

// NewTransport builds the transport shared by plain fetches and cloned for
// mutual-TLS fetches.
func NewTransport(timeout time.Duration) *http.Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: timeout,
		MaxIdleConns:        32,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// New creates a Fetcher. transport may be nil.
func New(
	transport *http.Transport,
	validator *trust.Validator,
	materials *trust.MaterialCache,
	log logger.Logger,
	opts Options,
) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if transport == nil {
		transport = NewTransport(opts.Timeout)
	}

	return &Fetcher{
		shared:    &http.Client{Transport: transport},
		base:      transport,
		validator: validator,
		materials: materials,
		logger:    log,
		timeout:   opts.Timeout,
		maxBody:   opts.MaxBodyBytes,
	}
}

// ServicesURL returns {uri}/services, plus ?from_ip={source_ip} for virtual
// endpoints whatever the scheme.
func ServicesURL(ep domain.Endpoint) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ep.URI))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint uri: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint uri %q is not absolute", ep.URI)
	}

	u.Path = strings.TrimRight(u.Path, "/") + servicesPath
	u.RawPath = ""

	if ep.Kind == domain.KindVirtual {
		q := u.Query()
		q.Set(fromIPParam, ep.SourceIP)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Fetch retrieves and parses the topology of ep. cred may be nil.
//
// Every failure comes back as *Error; nothing panics or leaks past this
// call, and the connection token registered for a mutual-TLS attempt is
// released before returning.
func (f *Fetcher) Fetch(ctx context.Context, ep domain.Endpoint, cred *domain.TrustCredential) (*domain.TopologyDocument, error) {
	target, err := ServicesURL(ep)
	if err != nil {
		return nil, newError(KindTransport, ep.ID, err)
	}

	client, release, err := f.clientFor(ep, cred, expectedHost(target))
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, newError(KindTransport, ep.ID, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "toposync/"+version.Version)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, newError(classifyRoundTrip(err), ep.ID, err)
	}
	defer utils.DrainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newError(KindTransport, ep.ID, fmt.Errorf("%w: %s", ErrStatus, resp.Status))
	}

	doc, err := domain.ParseTopology(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, newError(KindParse, ep.ID, err)
	}

	f.logger.Debug("fetched topology",
		logger.String("endpoint_id", ep.ID),
		logger.String("url", target),
		logger.Int("elements", len(doc.Elements)),
		logger.Duration("elapsed", time.Since(start)))

	return doc, nil
}

// expectedHost is the name the server certificate must carry: the URL host
// without port or brackets, IP literals included.
func expectedHost(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// clientFor picks the transport for ep. The returned release func must be
// called once the request is over.
func (f *Fetcher) clientFor(ep domain.Endpoint, cred *domain.TrustCredential, host string) (*http.Client, func(), error) {
	noop := func() {}

	if !ep.RequiresTLS() {
		return f.shared, noop, nil
	}

	if cred.Empty() {
		if ep.Kind == domain.KindVirtual {
			// Virtual endpoints without a credential fall back to system trust.
			return f.shared, noop, nil
		}
		return nil, noop, newError(KindCredentialMissing, ep.ID, ErrCredentialMissing)
	}

	material, err := f.materials.Load(cred)
	if err != nil {
		return nil, noop, newError(KindCredentialInvalid, ep.ID, err)
	}

	token := f.validator.NewToken()
	if err := f.validator.Register(token, material.CARoot); err != nil {
		return nil, noop, newError(KindValidation, ep.ID, err)
	}

	transport := f.base.Clone()
	transport.DisableKeepAlives = true
	transport.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		Certificates:       []tls.Certificate{material.Client},
		InsecureSkipVerify: true, //nolint:gosec // replaced by the token-bound VerifyConnection hook
		VerifyConnection:   f.validator.VerifyConnection(token, host),
	}

	client := &http.Client{
		Transport: transport,
		// A redirect would need a second handshake on a spent token.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	release := func() {
		f.validator.Forget(token)
		transport.CloseIdleConnections()
	}
	return client, release, nil
}
