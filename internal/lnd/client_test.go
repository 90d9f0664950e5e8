package lnd

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"boltcard-withdraw-server/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

// --- macaroonCredential tests ---

func TestMacaroonCredential_GetRequestMetadata(t *testing.T) {
	cred := macaroonCredential{macaroon: "abcdef1234567890"}

	metadata, err := cred.GetRequestMetadata(context.Background(), "localhost:10009")
	require.NoError(t, err)
	assert.Equal(t, "abcdef1234567890", metadata["macaroon"])
	assert.Len(t, metadata, 1, "metadata should only contain 'macaroon' key")
}

func TestMacaroonCredential_RequireTransportSecurity(t *testing.T) {
	cred := macaroonCredential{macaroon: "test"}
	assert.True(t, cred.RequireTransportSecurity(), "macaroon credentials must require TLS")
}

// --- NewClient error cases (no real LND needed) ---

func TestNewClient_InvalidTLSCertPath(t *testing.T) {
	cfg := Config{
		TLSCertPath:  "/nonexistent/path/tls.cert",
		MacaroonPath: "/nonexistent/path/admin.macaroon",
		GRPCHost:     "localhost",
		GRPCPort:     "10009",
	}

	client, err := NewClient(cfg)
	assert.Nil(t, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tls cert")
}

func TestNewClient_InvalidMacaroonPath(t *testing.T) {
	tmpDir := t.TempDir()
	certPath := filepath.Join(tmpDir, "tls.cert")

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	err = os.WriteFile(certPath, certPEM, 0644)
	require.NoError(t, err)

	cfg := Config{
		TLSCertPath:  certPath,
		MacaroonPath: "/nonexistent/path/admin.macaroon",
		GRPCHost:     "localhost",
		GRPCPort:     "10009",
	}

	client, err := NewClient(cfg)
	assert.Nil(t, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "macaroon")
}

// --- Result type tests ---

func TestPaymentResult_Fields(t *testing.T) {
	result := PaymentResult{
		Status:   PaymentSucceeded,
		Preimage: "def456",
		FeeMsats: 10,
	}

	assert.Equal(t, "def456", result.Preimage)
	assert.Equal(t, int64(10), result.FeeMsats)
	assert.Equal(t, PaymentSucceeded, result.Status)
}

func TestNodeInfo_Fields(t *testing.T) {
	info := NodeInfo{
		Alias:         "boltcard-withdraw-server",
		PubKey:        "03abc...",
		SyncedToChain: true,
		SyncedToGraph: true,
		BlockHeight:   800000,
	}

	assert.Equal(t, "boltcard-withdraw-server", info.Alias)
	assert.True(t, info.SyncedToChain)
	assert.True(t, info.SyncedToGraph)
	assert.Equal(t, uint32(800000), info.BlockHeight)
}

// --- Client zero value test ---

func TestClient_ZeroValue(t *testing.T) {
	client := &Client{}
	assert.NotNil(t, client)
}

func TestClient_ImplementsLightningDispatcher(t *testing.T) {
	var _ LightningDispatcher = (*Client)(nil)
	var _ LightningDispatcher = (*MockDispatcher)(nil)
}
