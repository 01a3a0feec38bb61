package credbroadcast

import (
	"crypto/tls"

	"github.com/exoscale/credreload/certresolver"
)

// ClientConfig is the dialing-side view of a validated CommonConfig:
// enough to present a client certificate and to validate the peer's
// certificate against the same trust anchors.
type ClientConfig struct {
	Resolver     *certresolver.CertResolver
	TrustAnchors *certresolver.TrustAnchors
}

// TLSConfig builds a *tls.Config suitable for outbound connections.
func (c *ClientConfig) TLSConfig(opts Options) *tls.Config {
	return &tls.Config{
		GetClientCertificate: c.Resolver.GetClientCertificate,
		RootCAs:              c.TrustAnchors.Pool(),
		MinVersion:           opts.minVersion(),
		MaxVersion:           opts.maxVersion(),
	}
}

// ServerConfig is the accepting-side view of a validated CommonConfig. The
// server view does not require client certificates; mutual TLS, if wanted,
// is enforced by a higher layer that knows the relevant client trust policy.
type ServerConfig struct {
	Resolver     *certresolver.CertResolver
	TrustAnchors *certresolver.TrustAnchors
}

// TLSConfig builds a *tls.Config suitable for accepting inbound connections.
func (c *ServerConfig) TLSConfig(opts Options) *tls.Config {
	return &tls.Config{
		GetCertificate: c.Resolver.GetCertificate,
		ClientAuth:     tls.NoClientCert,
		MinVersion:     opts.minVersion(),
		MaxVersion:     opts.maxVersion(),
	}
}

func newViews(cfg *certresolver.CommonConfig) (*ClientConfig, *ServerConfig) {
	client := &ClientConfig{Resolver: cfg.Resolver, TrustAnchors: cfg.TrustAnchors}
	server := &ServerConfig{Resolver: cfg.Resolver, TrustAnchors: cfg.TrustAnchors}
	return client, server
}
