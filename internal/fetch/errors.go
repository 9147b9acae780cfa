package fetch

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/toposync/internal/trust"
)

// Kind classifies why a fetch produced no document.
type Kind string

const (
	KindNone              Kind = ""
	KindTransport         Kind = "transport"
	KindValidation        Kind = "validation"
	KindCredentialMissing Kind = "credential_missing"
	KindCredentialInvalid Kind = "credential_invalid"
	KindParse             Kind = "parse"
)

var (
	// ErrCredentialMissing means an https endpoint has no TrustCredential.
	// It is an expected configuration state, not a fault.
	ErrCredentialMissing = errors.New("no trust credential for tls endpoint")
	// ErrStatus wraps non-2xx responses.
	ErrStatus = errors.New("unexpected response status")
)

// Error is returned for every fetch that yields no document.
type Error struct {
	Kind       Kind
	EndpointID string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.EndpointID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, or KindTransport for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransport
}

func newError(kind Kind, endpointID string, err error) *Error {
	return &Error{Kind: kind, EndpointID: endpointID, Err: err}
}

// classifyRoundTrip separates certificate failures from plain transport
// failures. Both are recovered the same way; only the log differs.
func classifyRoundTrip(err error) Kind {
	if errors.Is(err, trust.ErrRejected) || errors.Is(err, trust.ErrUnknownToken) {
		return KindValidation
	}

	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return KindValidation
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return KindValidation
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return KindValidation
	}
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) {
		return KindValidation
	}
	return KindTransport
}
