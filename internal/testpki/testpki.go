// Package testpki generates throwaway ECDSA P-256 certificate material for
// tests across this module. It is test-only scaffolding, not part of the
// credential reload core.
package testpki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// CA is a self-signed root usable as a trust anchor in tests.
type CA struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
	DER  []byte
}

// NewCA generates a fresh self-signed CA certificate.
func NewCA(t *testing.T, commonName string) *CA {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &CA{Cert: cert, Key: key, DER: der}
}

// PEM returns the CA certificate as a single CERTIFICATE PEM block, the
// format the trust-anchors file is expected to be in.
func (ca *CA) PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.DER})
}

// Leaf is an end-entity certificate issued by a CA, plus its DER-encoded
// private key.
type Leaf struct {
	Cert   *x509.Certificate
	Key    *ecdsa.PrivateKey
	DER    []byte
	KeyDER []byte
}

// IssueLeaf generates a fresh ECDSA P-256 leaf certificate signed by ca.
func (ca *CA) IssueLeaf(t *testing.T, commonName string) *Leaf {
	t.Helper()
	return ca.issueLeaf(t, commonName, big.NewInt(2))
}

// IssueLeafWithSerial is IssueLeaf with an explicit serial number, useful
// when a test needs two distinguishable leaves issued by the same CA.
func (ca *CA) IssueLeafWithSerial(t *testing.T, commonName string, serial int64) *Leaf {
	t.Helper()
	return ca.issueLeaf(t, commonName, big.NewInt(serial))
}

func (ca *CA) issueLeaf(t *testing.T, commonName string, serial *big.Int) *Leaf {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{commonName},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	return &Leaf{Cert: cert, Key: key, DER: der, KeyDER: keyDER}
}

// UnrelatedKeyDER generates a PKCS#8-encoded ECDSA P-256 key unrelated to
// any issued leaf, useful for exercising the key/certificate mismatch path.
func UnrelatedKeyDER(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return der
}
