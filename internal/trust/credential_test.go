package trust

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/toposync/internal/domain"
	"github.com/MrSnakeDoc/toposync/internal/trust/trusttest"
)

func TestParseCARoot(t *testing.T) {
	ca := trusttest.NewCA(t, "root")

	fromPEM, err := ParseCARoot(ca.PEM())
	require.NoError(t, err)
	assert.True(t, fromPEM.Equal(ca.Cert))

	fromDER, err := ParseCARoot(ca.Cert.Raw)
	require.NoError(t, err)
	assert.True(t, fromDER.Equal(ca.Cert))

	_, err = ParseCARoot(nil)
	assert.Error(t, err)

	_, err = ParseCARoot([]byte("definitely not a certificate"))
	assert.Error(t, err)
}

func TestLoadClientCertificate_PEM(t *testing.T) {
	ca := trusttest.NewCA(t, "root")
	client := ca.ClientCert(t, "sweeper")

	cert, err := LoadClientCertificate(trusttest.PEMBundle(t, client), "")
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Equal(t, "sweeper", cert.Leaf.Subject.CommonName)
}

func TestLoadClientCertificate_Garbage(t *testing.T) {
	_, err := LoadClientCertificate(nil, "")
	assert.Error(t, err)

	notP12 := []byte(base64.StdEncoding.EncodeToString([]byte("not a pkcs12 archive")))
	_, err = LoadClientCertificate(notP12, "secret")
	assert.Error(t, err)
}

func TestMaterialCache(t *testing.T) {
	ca := trusttest.NewCA(t, "root")
	cache, err := NewMaterialCache(4)
	require.NoError(t, err)

	cred := &domain.TrustCredential{
		EndpointID:   "ep-1",
		CARoot:       ca.PEM(),
		ClientBundle: trusttest.PEMBundle(t, ca.ClientCert(t, "sweeper")),
	}

	first, err := cache.Load(cred)
	require.NoError(t, err)
	second, err := cache.Load(cred)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.Len())

	rotated := *cred
	rotated.ClientBundle = trusttest.PEMBundle(t, ca.ClientCert(t, "sweeper-2"))
	third, err := cache.Load(&rotated)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, "sweeper-2", third.Client.Leaf.Subject.CommonName)
	assert.Equal(t, 2, cache.Len())

	broken := *cred
	broken.CARoot = []byte("nope")
	_, err = cache.Load(&broken)
	assert.Error(t, err)

	_, err = cache.Load(nil)
	assert.Error(t, err)
}
