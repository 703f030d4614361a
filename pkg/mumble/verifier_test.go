package mumble

import (
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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSignedDER(t *testing.T, cn string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

func TestLoadPinnedCertPEM(t *testing.T) {
	der := selfSignedDER(t, "mumble.example.com")
	path := filepath.Join(t.TempDir(), "server.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{
		Type: "CERTIFICATE", Bytes: der,
	}), 0o600))

	got, err := loadPinnedCert(path)
	require.NoError(t, err)
	assert.Equal(t, der, got)
}

func TestLoadPinnedCertRawDER(t *testing.T) {
	der := selfSignedDER(t, "mumble.example.com")
	path := filepath.Join(t.TempDir(), "server.der")
	require.NoError(t, os.WriteFile(path, der, 0o600))

	got, err := loadPinnedCert(path)
	require.NoError(t, err)
	assert.Equal(t, der, got)
}

func TestLoadPinnedCertRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))

	_, err := loadPinnedCert(path)
	assert.Error(t, err)
}

func TestPinnedVerifier(t *testing.T) {
	pinned := selfSignedDER(t, "mumble.example.com")
	other := selfSignedDER(t, "mumble.example.com")
	verify := pinnedVerifier(pinned)

	assert.NoError(t, verify([][]byte{pinned}, nil))

	// Same subject, different key: still rejected. Only the exact
	// bytes the operator pinned are trusted.
	assert.ErrorIs(t, verify([][]byte{other}, nil), ErrCertMismatch)

	assert.ErrorIs(t, verify(nil, nil), ErrNoPeerCert)
}

func TestNewTLSConfigModes(t *testing.T) {
	plain, err := newTLSConfig("mumble.example.com", nil, "")
	require.NoError(t, err)
	assert.False(t, plain.InsecureSkipVerify)
	assert.Nil(t, plain.VerifyPeerCertificate)

	pinned, err := newTLSConfig("", selfSignedDER(t, "x"), "")
	require.NoError(t, err)
	assert.True(t, pinned.InsecureSkipVerify)
	assert.NotNil(t, pinned.VerifyPeerCertificate)
}
