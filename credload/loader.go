// Package credload implements the Snapshot Loader: given a credpath.Triple,
// attempt a full read, parse and cross-validation of the three credential
// files as one atomic attempt. A Loader either produces a fully validated
// certresolver.CommonConfig or fails with one of the typed errors in this
// package; it never produces a partial value.
package credload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/exoscale/credreload/certresolver"
	"github.com/exoscale/credreload/credpath"
)

// Clock abstracts the wall-clock read used for X.509 path validation so
// tests can exercise expiry behavior deterministically.
type Clock func() time.Time

// Loader reads and validates one credpath.Triple. It is stateless and safe
// to reuse across attempts: every call to Load is an independent, from-disk
// read with no memory of previous attempts.
type Loader struct {
	paths credpath.Triple
	now   Clock
}

// New builds a Loader for paths. now defaults to time.Now.
func New(paths credpath.Triple, now Clock) *Loader {
	if now == nil {
		now = time.Now
	}
	return &Loader{paths: paths, now: now}
}

// Load performs the six-step validation algorithm: read all three files,
// parse the trust anchors, validate the end-entity certificate against them,
// parse and cross-check the private key, and construct a CertResolver.
//
// The private key is validated after the certificate, deliberately: a
// caller debugging a misconfiguration sees the more common certificate-level
// error first, and the parsed key is not held in memory until it is needed.
func (l *Loader) Load(ctx context.Context) (*certresolver.CommonConfig, error) {
	anchorsBytes, err := readFile(ctx, l.paths.TrustAnchors)
	if err != nil {
		return nil, &IoError{Path: l.paths.TrustAnchors, Cause: err}
	}

	leafBytes, err := readFile(ctx, l.paths.EndEntityCert)
	if err != nil {
		return nil, &IoError{Path: l.paths.EndEntityCert, Cause: err}
	}

	keyBytes, err := readFile(ctx, l.paths.PrivateKey)
	if err != nil {
		return nil, &IoError{Path: l.paths.PrivateKey, Cause: err}
	}

	anchors, err := certresolver.ParseTrustAnchors(anchorsBytes)
	if err != nil {
		return nil, &TrustAnchorsError{Detail: err.Error(), Cause: err}
	}

	chain, err := certresolver.ParseEndEntityCert(leafBytes)
	if err != nil {
		return nil, &EndEntityCertError{Detail: err.Error(), Cause: err}
	}
	if err := chain.Verify(anchors, l.now()); err != nil {
		return nil, &EndEntityCertError{Detail: "does not chain to a trusted anchor", Cause: err}
	}

	key, err := certresolver.ParsePrivateKeyPKCS8(keyBytes)
	if err != nil {
		return nil, &InvalidPrivateKeyError{Detail: "unparseable PKCS#8 key", Cause: err}
	}
	if !key.MatchesPublicKey(chain.Leaf().PublicKey) {
		return nil, &InvalidPrivateKeyError{Detail: "key does not match end-entity certificate"}
	}

	resolver := certresolver.NewCertResolver(chain, key)
	return &certresolver.CommonConfig{Resolver: resolver, TrustAnchors: anchors}, nil
}

// readFile reads path to completion, retrying the read loop on EINTR. Other
// I/O errors, including a missing file, are returned to the caller as-is.
func readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	for {
		_, err := io.Copy(&buf, f)
		if err == nil {
			break
		}
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		return nil, err
	}
	return buf.Bytes(), nil
}
