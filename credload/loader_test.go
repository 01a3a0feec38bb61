package credload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/exoscale/credreload/credpath"
	"github.com/exoscale/credreload/internal/testpki"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTriple(t *testing.T, dir string, ca *testpki.CA, leaf *testpki.Leaf) credpath.Triple {
	t.Helper()
	triple := credpath.Triple{
		TrustAnchors:  filepath.Join(dir, "anchors.pem"),
		EndEntityCert: filepath.Join(dir, "leaf.der"),
		PrivateKey:    filepath.Join(dir, "key.p8"),
	}
	require.NoError(t, os.WriteFile(triple.TrustAnchors, ca.PEM(), 0o600))
	require.NoError(t, os.WriteFile(triple.EndEntityCert, leaf.DER, 0o600))
	require.NoError(t, os.WriteFile(triple.PrivateKey, leaf.KeyDER, 0o600))
	return triple
}

func TestLoader_Load_Success(t *testing.T) {
	dir := t.TempDir()
	ca := testpki.NewCA(t, "root")
	leaf := ca.IssueLeaf(t, "workload.example.net")
	triple := writeTriple(t, dir, ca, leaf)

	cfg, err := New(triple, nil).Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, leaf.Cert.SerialNumber, cfg.Resolver.Chain().Leaf().SerialNumber)
}

func TestLoader_Load_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	triple := credpath.Triple{
		TrustAnchors:  filepath.Join(dir, "anchors.pem"),
		EndEntityCert: filepath.Join(dir, "leaf.der"),
		PrivateKey:    filepath.Join(dir, "key.p8"),
	}

	_, err := New(triple, nil).Load(context.Background())
	require.Error(t, err)
	var ioErr *IoError
	assert.ErrorAs(t, err, &ioErr)
}

func TestLoader_Load_SequentialFileCreation(t *testing.T) {
	dir := t.TempDir()
	ca := testpki.NewCA(t, "root")
	leaf := ca.IssueLeaf(t, "workload.example.net")

	triple := credpath.Triple{
		TrustAnchors:  filepath.Join(dir, "anchors.pem"),
		EndEntityCert: filepath.Join(dir, "leaf.der"),
		PrivateKey:    filepath.Join(dir, "key.p8"),
	}
	loader := New(triple, nil)

	_, err := loader.Load(context.Background())
	require.Error(t, err)

	require.NoError(t, os.WriteFile(triple.TrustAnchors, ca.PEM(), 0o600))
	_, err = loader.Load(context.Background())
	require.Error(t, err)

	require.NoError(t, os.WriteFile(triple.EndEntityCert, leaf.DER, 0o600))
	_, err = loader.Load(context.Background())
	require.Error(t, err)

	require.NoError(t, os.WriteFile(triple.PrivateKey, leaf.KeyDER, 0o600))
	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestLoader_Load_RewriteWithValidContentsProducesNewGeneration(t *testing.T) {
	dir := t.TempDir()
	ca := testpki.NewCA(t, "root")
	firstLeaf := ca.IssueLeafWithSerial(t, "workload.example.net", 10)
	triple := writeTriple(t, dir, ca, firstLeaf)
	loader := New(triple, nil)

	first, err := loader.Load(context.Background())
	require.NoError(t, err)

	secondLeaf := ca.IssueLeafWithSerial(t, "workload.example.net", 11)
	require.NoError(t, os.WriteFile(triple.EndEntityCert, secondLeaf.DER, 0o600))
	require.NoError(t, os.WriteFile(triple.PrivateKey, secondLeaf.KeyDER, 0o600))

	second, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.Resolver.ContentHash(), second.Resolver.ContentHash())
	assert.Equal(t, secondLeaf.Cert.SerialNumber, second.Resolver.Chain().Leaf().SerialNumber)
}

func TestLoader_Load_RewriteWithInvalidKeyFails(t *testing.T) {
	dir := t.TempDir()
	ca := testpki.NewCA(t, "root")
	leaf := ca.IssueLeaf(t, "workload.example.net")
	triple := writeTriple(t, dir, ca, leaf)
	loader := New(triple, nil)

	_, err := loader.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(triple.PrivateKey, []byte("not a key at all"), 0o600))

	_, err = loader.Load(context.Background())
	require.Error(t, err)
	var keyErr *InvalidPrivateKeyError
	assert.ErrorAs(t, err, &keyErr)
}

func TestLoader_Load_RacingWriteOfMismatchedKeyYieldsInvalidPrivateKey(t *testing.T) {
	// Simulates the external writer updating the key file between the
	// Loader's cert read and key read: the attempt should fail cleanly as
	// InvalidPrivateKey rather than publish a torn bundle, and it should
	// fail at the key-validation step specifically, not earlier.
	dir := t.TempDir()
	ca := testpki.NewCA(t, "root")
	leaf := ca.IssueLeaf(t, "workload.example.net")
	triple := writeTriple(t, dir, ca, leaf)

	unrelatedKey := testpki.UnrelatedKeyDER(t)
	require.NoError(t, os.WriteFile(triple.PrivateKey, unrelatedKey, 0o600))

	_, err := New(triple, nil).Load(context.Background())
	require.Error(t, err)
	var keyErr *InvalidPrivateKeyError
	assert.ErrorAs(t, err, &keyErr)
}

func TestLoader_Load_UntrustedCertFails(t *testing.T) {
	dir := t.TempDir()
	ca := testpki.NewCA(t, "root")
	other := testpki.NewCA(t, "other")
	leaf := other.IssueLeaf(t, "workload.example.net")
	triple := writeTriple(t, dir, ca, leaf)

	_, err := New(triple, nil).Load(context.Background())
	require.Error(t, err)
	var certErr *EndEntityCertError
	assert.ErrorAs(t, err, &certErr)
}

func TestLoader_Load_EmptyTrustAnchorsFails(t *testing.T) {
	dir := t.TempDir()
	ca := testpki.NewCA(t, "root")
	leaf := ca.IssueLeaf(t, "workload.example.net")
	triple := writeTriple(t, dir, ca, leaf)
	require.NoError(t, os.WriteFile(triple.TrustAnchors, []byte("not pem at all"), 0o600))

	_, err := New(triple, nil).Load(context.Background())
	require.Error(t, err)
	var anchorsErr *TrustAnchorsError
	assert.ErrorAs(t, err, &anchorsErr)
}

func TestLoader_Load_IsPureGivenIdenticalInputs(t *testing.T) {
	dir := t.TempDir()
	ca := testpki.NewCA(t, "root")
	leaf := ca.IssueLeaf(t, "workload.example.net")
	triple := writeTriple(t, dir, ca, leaf)

	fixedNow := time.Now()
	loader := New(triple, func() time.Time { return fixedNow })

	first, err := loader.Load(context.Background())
	require.NoError(t, err)
	second, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Resolver.ContentHash(), second.Resolver.ContentHash())
}

func TestLoader_Load_ExpiredAtValidationTimeFails(t *testing.T) {
	dir := t.TempDir()
	ca := testpki.NewCA(t, "root")
	leaf := ca.IssueLeaf(t, "workload.example.net")
	triple := writeTriple(t, dir, ca, leaf)

	farFuture := time.Now().Add(365 * 24 * time.Hour)
	loader := New(triple, func() time.Time { return farFuture })

	_, err := loader.Load(context.Background())
	require.Error(t, err)
	var certErr *EndEntityCertError
	assert.ErrorAs(t, err, &certErr)
}
