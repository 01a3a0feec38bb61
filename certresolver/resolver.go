// Package certresolver holds validated X.509 identity material and answers
// the handshake-time question a TLS stack asks: which certificate chain and
// signing capability should be presented. It performs no I/O and knows
// nothing about where its inputs came from; credload is responsible for
// reading, parsing and validating file contents into the types this package
// exposes.
package certresolver

import (
	"crypto"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"
)

// TrustAnchors is an ordered, nonempty list of certificates serving as
// issuers of last resort for path validation.
type TrustAnchors struct {
	certs []*x509.Certificate
	pool  *x509.CertPool
}

// ParseTrustAnchors decodes pemBytes as a sequence of concatenated
// CERTIFICATE PEM blocks. It fails if the input contains no certificate
// block, or if any block fails to parse as an X.509 certificate.
func ParseTrustAnchors(pemBytes []byte) (*TrustAnchors, error) {
	pool := x509.NewCertPool()
	var certs []*x509.Certificate

	rest := pemBytes
	index := 0
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("certificate %d: %w", index, err)
		}
		certs = append(certs, cert)
		pool.AddCert(cert)
		index++
	}

	if len(certs) == 0 {
		return nil, fmt.Errorf("no CERTIFICATE PEM blocks found")
	}

	return &TrustAnchors{certs: certs, pool: pool}, nil
}

// Certificates returns the parsed trust anchors in file order.
func (t *TrustAnchors) Certificates() []*x509.Certificate {
	return append([]*x509.Certificate(nil), t.certs...)
}

// Pool returns the trust anchors as a *x509.CertPool, suitable for
// tls.Config.RootCAs or tls.Config.ClientCAs.
func (t *TrustAnchors) Pool() *x509.CertPool {
	return t.pool.Clone()
}

// EndEntityChain is the leaf certificate bound to the service identity, and
// a reserved slot for intermediates. The current core never populates
// intermediates: it assumes the leaf chains directly to a trust anchor.
type EndEntityChain struct {
	leaf          *x509.Certificate
	intermediates []*x509.Certificate
	der           []byte
}

// ParseEndEntityCert decodes der as a single X.509v3 certificate.
func ParseEndEntityCert(der []byte) (*EndEntityChain, error) {
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &EndEntityChain{leaf: leaf, der: der}, nil
}

// Leaf returns the end-entity certificate.
func (c *EndEntityChain) Leaf() *x509.Certificate {
	return c.leaf
}

// Verify checks that the leaf certificate chains to at least one of
// anchors' certificates under standard X.509 path validation at now.
func (c *EndEntityChain) Verify(anchors *TrustAnchors, now time.Time) error {
	opts := x509.VerifyOptions{
		Roots:         anchors.pool,
		CurrentTime:   now,
		Intermediates: intermediatesPool(c.intermediates),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	_, err := c.leaf.Verify(opts)
	return err
}

func intermediatesPool(certs []*x509.Certificate) *x509.CertPool {
	if len(certs) == 0 {
		return nil
	}
	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c)
	}
	return pool
}

// PrivateKey is a signing key parsed from PKCS#8 DER.
type PrivateKey struct {
	signer crypto.Signer
}

// ParsePrivateKeyPKCS8 decodes der as a PKCS#8 PrivateKeyInfo.
func ParsePrivateKeyPKCS8(der []byte) (*PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("parsed key of type %T does not implement crypto.Signer", key)
	}
	return &PrivateKey{signer: signer}, nil
}

// MatchesPublicKey reports whether the key's public half equals pub.
func (k *PrivateKey) MatchesPublicKey(pub crypto.PublicKey) bool {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	ours, ok := k.signer.Public().(equaler)
	if !ok {
		return false
	}
	return ours.Equal(pub)
}

// CertResolver holds a validated end-entity chain and matching private key,
// and answers the handshake-time "what should I present?" question the TLS
// stack asks. It is immutable once built: a new CertResolver is constructed
// for every validated snapshot rather than mutating one in place.
//
// The current policy does not branch on SNI or on requested signature
// schemes: it returns the single configured chain for every request. This
// is the extension point where future SNI-based selection would live.
type CertResolver struct {
	chain *EndEntityChain
	key   *PrivateKey
	cert  *tls.Certificate
}

// NewCertResolver builds a resolver from an already-validated chain and a
// private key known to match the chain's leaf public key.
func NewCertResolver(chain *EndEntityChain, key *PrivateKey) *CertResolver {
	return &CertResolver{
		chain: chain,
		key:   key,
		cert: &tls.Certificate{
			Certificate: [][]byte{chain.der},
			PrivateKey:  key.signer,
			Leaf:        chain.leaf,
		},
	}
}

// GetCertificate implements the signature tls.Config.GetCertificate wants.
func (r *CertResolver) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.cert, nil
}

// GetClientCertificate implements the signature
// tls.Config.GetClientCertificate wants.
func (r *CertResolver) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return r.cert, nil
}

// Chain returns the resolver's end-entity chain.
func (r *CertResolver) Chain() *EndEntityChain {
	return r.chain
}

// ContentHash returns the SHA-256 digest of the end-entity certificate's DER
// encoding, letting callers correlate a published generation with the exact
// file contents it was built from.
func (r *CertResolver) ContentHash() [32]byte {
	return sha256.Sum256(r.chain.der)
}

// CommonConfig is the validated bundle the Snapshot Loader produces: an
// owned CertResolver plus the trust anchors it was validated against.
// Immutable once constructed and safe to share by reference across any
// number of subscribers.
type CommonConfig struct {
	Resolver     *CertResolver
	TrustAnchors *TrustAnchors
}
