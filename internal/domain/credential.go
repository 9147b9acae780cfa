package domain

// TrustCredential holds the per-endpoint trust material.
//
// CARoot is the only anchor used to validate the endpoint's server
// certificate; it is never added to a shared pool. ClientBundle is either a
// base64 encoded PKCS#12 archive or a PEM block pair (certificate + key).
type TrustCredential struct {
	EndpointID     string
	CARoot         []byte
	ClientBundle   []byte
	BundlePassword string
}

// Empty reports whether the credential carries no usable material.
func (c *TrustCredential) Empty() bool {
	return c == nil || (len(c.CARoot) == 0 && len(c.ClientBundle) == 0)
}
