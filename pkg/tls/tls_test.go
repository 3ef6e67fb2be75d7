package tls

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfigAutoGenerateAndClientTrust(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Enabled:      true,
		CertFile:     filepath.Join(dir, "certs", "server.crt"),
		KeyFile:      filepath.Join(dir, "certs", "server.key"),
		AutoGenerate: true,
	}

	serverTLS, err := ServerConfig(cfg)
	require.NoError(t, err)
	require.Len(t, serverTLS.Certificates, 1)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "online")
	}))
	srv.TLS = serverTLS
	srv.StartTLS()
	defer srv.Close()

	// The self-signed cert is its own CA
	clientTLS, err := LoadClientTLSConfig("", "", cfg.CertFile)
	require.NoError(t, err)

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: clientTLS}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "online", string(body))
}

func TestLoadTLSConfigRequiresCAForClientAuth(t *testing.T) {
	dir := t.TempDir()
	cert, key := filepath.Join(dir, "c.pem"), filepath.Join(dir, "k.pem")
	require.NoError(t, GenerateSelfSignedCert(cert, key, "physician", "10.0.0.5", "sim.internal"))

	_, err := LoadTLSConfig(cert, key, "", true)
	assert.Error(t, err)

	c, err := LoadTLSConfig(cert, key, cert, true)
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, c.ClientAuth)
}

func TestLoadTLSConfigMissingFiles(t *testing.T) {
	_, err := LoadTLSConfig("/nonexistent/c.pem", "/nonexistent/k.pem", "", false)
	assert.Error(t, err)
}
