package security

import (
	"context"
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/charging-platform/charge-point-gateway/internal/config"
)

// VaultCredentialSource resolves cert/key/password material from a
// Vault KV secret instead of the filesystem, for deployments where the
// security profile's credentials are rotated out-of-band.
type VaultCredentialSource struct {
	client     *vaultapi.Client
	secretPath string
}

// NewVaultCredentialSource builds a Vault-backed CredentialSource from
// SecurityConfig.Vault.
func NewVaultCredentialSource(cfg config.VaultConfig) (*VaultCredentialSource, error) {
	vcfg := vaultapi.DefaultConfig()
	vcfg.Address = cfg.Addr
	client, err := vaultapi.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &VaultCredentialSource{client: client, secretPath: cfg.SecretPath}, nil
}

func (v *VaultCredentialSource) readField(ctx context.Context, field string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.secretPath)
	if err != nil {
		return "", fmt.Errorf("read vault secret %q: %w", v.secretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault secret %q not found", v.secretPath)
	}

	// KV v2 nests the actual fields under "data"; fall back to the
	// top level for KV v1 mounts.
	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[field]
	if !ok {
		return "", fmt.Errorf("vault secret %q missing field %q", v.secretPath, field)
	}
	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("vault secret %q field %q is not a string", v.secretPath, field)
	}
	return str, nil
}

func (v *VaultCredentialSource) CertKeyPair(ctx context.Context) ([]byte, []byte, error) {
	cert, err := v.readField(ctx, "certificate")
	if err != nil {
		return nil, nil, err
	}
	key, err := v.readField(ctx, "private_key")
	if err != nil {
		return nil, nil, err
	}
	return []byte(cert), []byte(key), nil
}

func (v *VaultCredentialSource) CACert(ctx context.Context) ([]byte, error) {
	ca, err := v.readField(ctx, "ca_certificate")
	if err != nil {
		// A missing CA override is not fatal — the system cert pool
		// is used as the fallback.
		return nil, nil
	}
	return []byte(ca), nil
}

func (v *VaultCredentialSource) BasicAuthPassword(ctx context.Context) (string, error) {
	return v.readField(ctx, "password")
}
