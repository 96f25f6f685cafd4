// Package security implements the spec's SecurityProfile (component G):
// resolution of OCPP security profiles 0-3 into the concrete transport
// and authentication credentials a charge point or gateway connection
// uses. It generalizes the teacher's
// internal/domain/connection.SecurityProfile struct (a passive data
// holder) into an active resolver with an optional Vault-backed
// credential source.
package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/charging-platform/charge-point-gateway/internal/config"
)

// Profile enumerates the four OCPP security profiles.
type Profile int

const (
	// ProfileUnsecured: plain WS, no client auth, no server auth.
	ProfileUnsecured Profile = 0
	// ProfileBasicAuth: plain WS, HTTP Basic Auth, no TLS.
	ProfileBasicAuth Profile = 1
	// ProfileTLSBasicAuth: WSS, server-authenticated TLS, HTTP Basic Auth.
	ProfileTLSBasicAuth Profile = 2
	// ProfileTLSClientCertAuth: WSS, mutual TLS, no Basic Auth.
	ProfileTLSClientCertAuth Profile = 3
)

func (p Profile) String() string {
	switch p {
	case ProfileUnsecured:
		return "unsecured"
	case ProfileBasicAuth:
		return "basic-auth"
	case ProfileTLSBasicAuth:
		return "tls-basic-auth"
	case ProfileTLSClientCertAuth:
		return "tls-client-cert-auth"
	default:
		return "unknown"
	}
}

// Credentials is the resolved bundle of transport and auth material for
// a given profile, ready to hand to a websocket dialer or listener.
type Credentials struct {
	Profile        Profile
	RequiresTLS    bool
	RequiresBasic  bool
	RequiresClientCert bool

	TLSConfig *tls.Config

	BasicAuthUsername string
	BasicAuthPassword string
}

// CredentialSource resolves the raw secret material (certs, keys,
// passwords) a Resolver assembles into tls.Config/Basic-Auth values.
// The default implementation reads from the filesystem per
// config.SecurityConfig; VaultCredentialSource reads from Vault.
type CredentialSource interface {
	CertKeyPair(ctx context.Context) (certPEM, keyPEM []byte, err error)
	CACert(ctx context.Context) ([]byte, error)
	BasicAuthPassword(ctx context.Context) (string, error)
}

// FileCredentialSource reads cert/key/password material from the
// filesystem paths and config values the teacher already carries in
// SecurityConfig.
type FileCredentialSource struct {
	cfg config.SecurityConfig
}

// NewFileCredentialSource builds the default, Vault-free credential
// source.
func NewFileCredentialSource(cfg config.SecurityConfig) *FileCredentialSource {
	return &FileCredentialSource{cfg: cfg}
}

func (f *FileCredentialSource) CertKeyPair(ctx context.Context) ([]byte, []byte, error) {
	if f.cfg.CertFile == "" || f.cfg.KeyFile == "" {
		return nil, nil, fmt.Errorf("security: cert_file/key_file not configured")
	}
	cert, err := os.ReadFile(f.cfg.CertFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read cert file: %w", err)
	}
	key, err := os.ReadFile(f.cfg.KeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read key file: %w", err)
	}
	return cert, key, nil
}

func (f *FileCredentialSource) CACert(ctx context.Context) ([]byte, error) {
	if f.cfg.CACertFile == "" {
		return nil, nil
	}
	return os.ReadFile(f.cfg.CACertFile)
}

func (f *FileCredentialSource) BasicAuthPassword(ctx context.Context) (string, error) {
	return f.cfg.Password, nil
}

// Resolver maps a configured security profile to assembled Credentials.
type Resolver struct {
	cfg    config.SecurityConfig
	source CredentialSource
}

// New builds a Resolver. When cfg.Vault.Enabled, source should be a
// *VaultCredentialSource; otherwise a *FileCredentialSource.
func New(cfg config.SecurityConfig, source CredentialSource) *Resolver {
	return &Resolver{cfg: cfg, source: source}
}

// CredentialsFor resolves the given profile into usable Credentials.
// Per spec §4.G, profile selection and credential material are
// resolved independently: the profile determines WHICH fields are
// required, the CredentialSource supplies their values.
func (r *Resolver) CredentialsFor(ctx context.Context, profile Profile) (Credentials, error) {
	creds := Credentials{Profile: profile}

	switch profile {
	case ProfileUnsecured:
		// no transport or auth requirements
	case ProfileBasicAuth:
		creds.RequiresBasic = true
	case ProfileTLSBasicAuth:
		creds.RequiresTLS = true
		creds.RequiresBasic = true
	case ProfileTLSClientCertAuth:
		creds.RequiresTLS = true
		creds.RequiresClientCert = true
	default:
		return Credentials{}, fmt.Errorf("security: unknown profile %d", profile)
	}

	if creds.RequiresBasic {
		password, err := r.source.BasicAuthPassword(ctx)
		if err != nil {
			return Credentials{}, fmt.Errorf("resolve basic auth password: %w", err)
		}
		creds.BasicAuthUsername = r.cfg.Username
		creds.BasicAuthPassword = password
	}

	if creds.RequiresTLS {
		tlsConfig, err := r.buildTLSConfig(ctx, creds.RequiresClientCert)
		if err != nil {
			return Credentials{}, err
		}
		creds.TLSConfig = tlsConfig
	}

	return creds, nil
}

func (r *Resolver) buildTLSConfig(ctx context.Context, requireClientCert bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	caPEM, err := r.source.CACert(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve CA certificate: %w", err)
	}
	if len(caPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("security: failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
		tlsConfig.ClientCAs = pool
	}

	if requireClientCert {
		certPEM, keyPEM, err := r.source.CertKeyPair(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve client certificate: %w", err)
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}
