package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrSnakeDoc/toposync/internal/domain"
)

// Entry is one mapped endpoint with its optional credential.
type Entry struct {
	Endpoint   domain.Endpoint
	Credential *domain.TrustCredential
}

// Mapper converts catalog specs to domain entities
type Mapper struct {
	baseDir  string
	readFile func(string) ([]byte, error)
}

// NewMapper creates a mapper resolving relative paths against baseDir
func NewMapper(baseDir string) *Mapper {
	return &Mapper{baseDir: baseDir, readFile: os.ReadFile}
}

// Map validates every spec and loads referenced files. It fails on the
// first invalid entry so a broken catalog never half-applies.
func (m *Mapper) Map(c *Catalog) ([]Entry, error) {
	entries := make([]Entry, 0, len(c.Endpoints))
	seen := make(map[string]bool, len(c.Endpoints))

	for i, spec := range c.Endpoints {
		id := strings.TrimSpace(spec.ID)
		if seen[id] {
			return nil, fmt.Errorf("endpoint %d: duplicate id %q", i, id)
		}
		seen[id] = true

		kind, err := domain.ParseTransportKind(spec.Kind)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", id, err)
		}

		ep := domain.Endpoint{
			ID:       id,
			URI:      strings.TrimSpace(spec.URI),
			Kind:     kind,
			SourceIP: strings.TrimSpace(spec.SourceIP),
		}
		if err := ep.Validate(); err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", id, err)
		}

		entry := Entry{Endpoint: ep}
		if spec.Credential != nil {
			cred, err := m.credential(id, spec.Credential)
			if err != nil {
				return nil, fmt.Errorf("endpoint %q: %w", id, err)
			}
			entry.Credential = cred
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (m *Mapper) credential(id string, spec *CredentialSpec) (*domain.TrustCredential, error) {
	ca, err := m.inlineOrFile(spec.CA, spec.CAFile)
	if err != nil {
		return nil, fmt.Errorf("ca root: %w", err)
	}
	bundle, err := m.inlineOrFile(spec.Bundle, spec.BundleFile)
	if err != nil {
		return nil, fmt.Errorf("client bundle: %w", err)
	}
	password := spec.Password
	if password == "" && spec.PasswordFile != "" {
		raw, err := m.readFile(m.resolve(spec.PasswordFile))
		if err != nil {
			return nil, fmt.Errorf("bundle password: %w", err)
		}
		password = strings.TrimRight(string(raw), "\r\n")
	}

	if len(ca) == 0 || len(bundle) == 0 {
		return nil, fmt.Errorf("credential needs both a ca root and a client bundle")
	}

	return &domain.TrustCredential{
		EndpointID:     id,
		CARoot:         ca,
		ClientBundle:   bundle,
		BundlePassword: password,
	}, nil
}

func (m *Mapper) inlineOrFile(inline, file string) ([]byte, error) {
	if strings.TrimSpace(inline) != "" {
		return []byte(inline), nil
	}
	if file == "" {
		return nil, nil
	}
	return m.readFile(m.resolve(file))
}

func (m *Mapper) resolve(path string) string {
	if filepath.IsAbs(path) || m.baseDir == "" {
		return path
	}
	return filepath.Join(m.baseDir, path)
}
