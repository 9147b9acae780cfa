package catalog

// Catalog is the top-level structure of the provisioning file.
type Catalog struct {
	Endpoints []EndpointSpec `yaml:"endpoints"`
}

// EndpointSpec describes one endpoint and, for TLS endpoints, where its
// trust material lives.
type EndpointSpec struct {
	ID         string          `yaml:"id"`
	URI        string          `yaml:"uri"`
	Kind       string          `yaml:"kind,omitempty"`
	SourceIP   string          `yaml:"source_ip,omitempty"`
	Credential *CredentialSpec `yaml:"credential,omitempty"`
}

// CredentialSpec points at the CA root and client bundle of an endpoint.
// Inline values win over files. Relative paths are resolved against the
// catalog file's directory.
type CredentialSpec struct {
	CAFile       string `yaml:"ca_file,omitempty"`
	CA           string `yaml:"ca,omitempty"`
	BundleFile   string `yaml:"bundle_file,omitempty"`
	Bundle       string `yaml:"bundle,omitempty"`
	Password     string `yaml:"password,omitempty"`
	PasswordFile string `yaml:"password_file,omitempty"`
}
