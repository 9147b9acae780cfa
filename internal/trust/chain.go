package trust

import (
	"crypto/x509"
	"errors"
	"strings"
	"time"
)

// ChainStatus is one finding of a private chain evaluation. An evaluation
// yields a list of findings; see Acceptable for the policy applied to it.
type ChainStatus int

const (
	StatusNoError ChainStatus = iota
	// StatusUntrustedRoot means the chain terminates at the registered
	// anchor, which is not in any system store. Expected for private CAs.
	StatusUntrustedRoot
	StatusPartialChain
	StatusNotTimeValid
	StatusNotValidForUsage
	StatusInvalidBasicConstraints
	StatusInvalidNameConstraints
	StatusChainTooLong
	StatusNameMismatch
	StatusNotSignatureValid
	StatusUnknown
)

var statusNames = map[ChainStatus]string{
	StatusNoError:                 "no_error",
	StatusUntrustedRoot:           "untrusted_root",
	StatusPartialChain:            "partial_chain",
	StatusNotTimeValid:            "not_time_valid",
	StatusNotValidForUsage:        "not_valid_for_usage",
	StatusInvalidBasicConstraints: "invalid_basic_constraints",
	StatusInvalidNameConstraints:  "invalid_name_constraints",
	StatusChainTooLong:            "chain_too_long",
	StatusNameMismatch:            "name_mismatch",
	StatusNotSignatureValid:       "not_signature_valid",
	StatusUnknown:                 "unknown",
}

func (s ChainStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// StatusList renders statuses for logs.
func StatusList(statuses []ChainStatus) string {
	if len(statuses) == 0 {
		return "none"
	}
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

// Acceptable is the fail-closed policy for a self-issued root: at most one
// status, and that status is either NoError or UntrustedRoot. Everything
// else, including any combination of two statuses, is rejected.
func Acceptable(statuses []ChainStatus) bool {
	switch len(statuses) {
	case 0:
		return true
	case 1:
		return statuses[0] == StatusNoError || statuses[0] == StatusUntrustedRoot
	default:
		return false
	}
}

// Peer is what a handshake exposes about the server: the certificates it
// presented (leaf first) and the name the client asked for.
type Peer struct {
	ServerName   string
	Certificates []*x509.Certificate
}

// Leaf returns the server certificate, or nil when none was presented.
func (p Peer) Leaf() *x509.Certificate {
	if len(p.Certificates) == 0 {
		return nil
	}
	return p.Certificates[0]
}

func (p Peer) intermediates() *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range p.Certificates[1:] {
		pool.AddCert(c)
	}
	return pool
}

// EvaluateChain builds a private chain for peer with caRoot as the only
// anchor. Revocation is never consulted. systemRoots may be nil; when it is
// set and the chain also verifies against it, the root is considered
// trusted and no UntrustedRoot status is reported.
func EvaluateChain(peer Peer, caRoot *x509.Certificate, systemRoots *x509.CertPool, now time.Time) []ChainStatus {
	leaf := peer.Leaf()
	if leaf == nil || caRoot == nil {
		return []ChainStatus{StatusPartialChain}
	}

	var statuses []ChainStatus
	at := now
	if !validAt(now, caRoot, peer.Certificates...) {
		statuses = append(statuses, StatusNotTimeValid)
		// Keep evaluating inside the validity overlap so other defects
		// still show up next to the time status.
		if mid, ok := validityOverlap(caRoot, peer.Certificates...); ok {
			at = mid
		}
	}

	roots := x509.NewCertPool()
	roots.AddCert(caRoot)
	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: peer.intermediates(),
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	if _, err := leaf.Verify(opts); err != nil {
		if s := classifyVerifyError(err); s != StatusNotTimeValid || !contains(statuses, StatusNotTimeValid) {
			statuses = append(statuses, s)
		}
	} else if !verifiesWith(leaf, peer, systemRoots, at) {
		statuses = append(statuses, StatusUntrustedRoot)
	}

	if peer.ServerName != "" {
		if err := leaf.VerifyHostname(peer.ServerName); err != nil {
			statuses = append(statuses, StatusNameMismatch)
		}
	}

	return statuses
}

func verifiesWith(leaf *x509.Certificate, peer Peer, roots *x509.CertPool, at time.Time) bool {
	if roots == nil {
		return false
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: peer.intermediates(),
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	return err == nil
}

func classifyVerifyError(err error) ChainStatus {
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return StatusPartialChain
	}

	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) {
		switch invalid.Reason {
		case x509.Expired:
			return StatusNotTimeValid
		case x509.NotAuthorizedToSign:
			return StatusInvalidBasicConstraints
		case x509.TooManyIntermediates, x509.TooManyConstraints:
			return StatusChainTooLong
		case x509.IncompatibleUsage, x509.CANotAuthorizedForExtKeyUsage:
			return StatusNotValidForUsage
		case x509.CANotAuthorizedForThisName, x509.UnconstrainedName:
			return StatusInvalidNameConstraints
		case x509.NameMismatch:
			return StatusNameMismatch
		default:
			return StatusUnknown
		}
	}

	var insecure x509.InsecureAlgorithmError
	if errors.As(err, &insecure) {
		return StatusNotSignatureValid
	}
	var constraint x509.ConstraintViolationError
	if errors.As(err, &constraint) {
		return StatusNotSignatureValid
	}
	return StatusUnknown
}

func validAt(now time.Time, root *x509.Certificate, certs ...*x509.Certificate) bool {
	for _, c := range append([]*x509.Certificate{root}, certs...) {
		if now.Before(c.NotBefore) || now.After(c.NotAfter) {
			return false
		}
	}
	return true
}

// validityOverlap returns a point inside every certificate's validity window.
func validityOverlap(root *x509.Certificate, certs ...*x509.Certificate) (time.Time, bool) {
	start, end := root.NotBefore, root.NotAfter
	for _, c := range certs {
		if c.NotBefore.After(start) {
			start = c.NotBefore
		}
		if c.NotAfter.Before(end) {
			end = c.NotAfter
		}
	}
	if start.After(end) {
		return time.Time{}, false
	}
	return start.Add(end.Sub(start) / 2), true
}

func contains(statuses []ChainStatus, s ChainStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}
