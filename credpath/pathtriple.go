// Package credpath describes the filesystem inputs to the credential
// hot-reload core: the three paths a CommonConfig is loaded from.
package credpath

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Triple is the input specification for the credential reload core: three
// absolute filesystem paths. It is immutable after construction; none of the
// paths need exist yet when a Triple is built.
type Triple struct {
	// TrustAnchors is the path to a file of concatenated PEM-encoded X.509
	// certificates serving as issuers of last resort.
	TrustAnchors string `validate:"existsoremptypath"`
	// EndEntityCert is the path to a single DER-encoded X.509v3 leaf
	// certificate.
	EndEntityCert string `validate:"existsoremptypath"`
	// PrivateKey is the path to a DER-encoded PKCS#8 PrivateKeyInfo whose
	// public key matches EndEntityCert's SPKI.
	PrivateKey string `validate:"existsoremptypath"`
}

// Paths returns the three paths in a fixed, stable order. Watchers and
// loaders iterate this order so that log output and error messages are
// deterministic.
func (t Triple) Paths() [3]string {
	return [3]string{t.TrustAnchors, t.EndEntityCert, t.PrivateKey}
}

// IsZero reports whether none of the three paths are set, i.e. the process
// was configured to run without TLS credentials at all ("plaintext mode").
func (t Triple) IsZero() bool {
	return t.TrustAnchors == "" && t.EndEntityCert == "" && t.PrivateKey == ""
}

func (t Triple) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("trust-anchors", t.TrustAnchors)
	enc.AddString("end-entity-cert", t.EndEntityCert)
	enc.AddString("private-key", t.PrivateKey)
	return nil
}

// Config is the construction-time parameterization of the credential reload
// core: the path triple plus the watcher's poll interval. It is the only
// input the core takes; everything else (CLI, env, logging sinks, the
// concrete TLS stack) is owned by surrounding collaborators.
type Config struct {
	// Triple holds the three credential paths. A zero Triple means the
	// process runs in plaintext/no-TLS mode.
	Triple Triple
	// PollInterval is the polling backend's stat cadence. The
	// kernel-notification backend does not use it: it coalesces events over
	// a fixed window instead.
	PollInterval time.Duration `default:"1s" validate:"min=0"`
	// Backend selects which watcher implementation to use. "auto" prefers
	// the kernel-notification backend and falls back to polling if it
	// cannot be registered.
	Backend string `default:"auto" validate:"oneof=auto poll notify"`
}

func (c *Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if c == nil {
		return nil
	}
	if err := enc.AddObject("paths", c.Triple); err != nil {
		return err
	}
	enc.AddDuration("poll-interval", c.PollInterval)
	enc.AddString("backend", c.Backend)
	return nil
}
