package trust

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/pkcs12"

	"github.com/MrSnakeDoc/toposync/internal/domain"
)

// DefaultMaterialCacheSize bounds the number of parsed credentials kept.
const DefaultMaterialCacheSize = 256

// Material is a TrustCredential parsed into what a TLS dial needs.
type Material struct {
	CARoot *x509.Certificate
	Client tls.Certificate
}

// ParseCARoot decodes the first certificate of a PEM document. Raw DER is
// accepted as well.
func ParseCARoot(data []byte) (*x509.Certificate, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("ca root is empty")
	}

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ca root: %w", err)
		}
		return cert, nil
	}

	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("ca root is neither PEM nor DER: %w", err)
	}
	return cert, nil
}

// LoadClientCertificate decodes a client bundle: PEM (certificate and key
// blocks), base64 encoded PKCS#12, or raw PKCS#12.
func LoadClientCertificate(bundle []byte, password string) (tls.Certificate, error) {
	bundle = bytes.TrimSpace(bundle)
	if len(bundle) == 0 {
		return tls.Certificate{}, fmt.Errorf("client bundle is empty")
	}

	if bytes.Contains(bundle, []byte("-----BEGIN")) {
		cert, err := tls.X509KeyPair(bundle, bundle)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to parse PEM client bundle: %w", err)
		}
		return withLeaf(cert)
	}

	raw := bundle
	if decoded, err := base64.StdEncoding.DecodeString(string(stripWhitespace(bundle))); err == nil {
		raw = decoded
	}

	blocks, err := pkcs12.ToPEM(raw, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to decode PKCS#12 client bundle: %w", err)
	}
	var pemData []byte
	for _, b := range blocks {
		pemData = append(pemData, pem.EncodeToMemory(b)...)
	}
	cert, err := tls.X509KeyPair(pemData, pemData)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to build client certificate from PKCS#12: %w", err)
	}
	return withLeaf(cert)
}

func withLeaf(cert tls.Certificate) (tls.Certificate, error) {
	if cert.Leaf != nil || len(cert.Certificate) == 0 {
		return cert, nil
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse client leaf: %w", err)
	}
	cert.Leaf = leaf
	return cert, nil
}

func stripWhitespace(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case ' ', '\n', '\r', '\t':
			continue
		}
		out = append(out, c)
	}
	return out
}

// MaterialCache parses credentials once and keeps the result keyed by a
// digest of the raw material, so a rotated credential is parsed again.
type MaterialCache struct {
	entries *lru.Cache[[sha256.Size]byte, *Material]
}

// NewMaterialCache creates a cache holding up to size parsed credentials.
func NewMaterialCache(size int) (*MaterialCache, error) {
	if size <= 0 {
		size = DefaultMaterialCacheSize
	}
	c, err := lru.New[[sha256.Size]byte, *Material](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create material cache: %w", err)
	}
	return &MaterialCache{entries: c}, nil
}

// Load returns the parsed material for cred.
func (c *MaterialCache) Load(cred *domain.TrustCredential) (*Material, error) {
	if cred == nil {
		return nil, fmt.Errorf("credential is nil")
	}

	key := digest(cred)
	if m, ok := c.entries.Get(key); ok {
		return m, nil
	}

	root, err := ParseCARoot(cred.CARoot)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", cred.EndpointID, err)
	}
	client, err := LoadClientCertificate(cred.ClientBundle, cred.BundlePassword)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", cred.EndpointID, err)
	}

	m := &Material{CARoot: root, Client: client}
	c.entries.Add(key, m)
	return m, nil
}

// Len returns the number of cached entries.
func (c *MaterialCache) Len() int {
	return c.entries.Len()
}

func digest(cred *domain.TrustCredential) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(cred.EndpointID))
	h.Write([]byte{0})
	h.Write(cred.CARoot)
	h.Write([]byte{0})
	h.Write(cred.ClientBundle)
	h.Write([]byte{0})
	h.Write([]byte(cred.BundlePassword))

	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
