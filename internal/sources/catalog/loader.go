package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader handles loading and parsing of the catalog file
type Loader struct {
	filePath string
}

// NewLoader creates a new catalog loader
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Path returns the catalog file path.
func (l *Loader) Path() string { return l.filePath }

// Dir returns the directory relative credential paths are resolved against.
func (l *Loader) Dir() string { return filepath.Dir(l.filePath) }

// Load reads the file, expands ${VAR} references from the environment and
// parses it. Unknown keys are rejected.
func (l *Loader) Load() (*Catalog, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(expandEnv(data))
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return &Catalog{}, nil
		}
		return nil, fmt.Errorf("failed to parse catalog yaml: %w", err)
	}
	return &c, nil
}

// expandEnv replaces ${VAR} and $VAR with environment values.
// Example: password: ${EDGE_P12_PASSWORD}
func expandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
