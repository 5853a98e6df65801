package secrets

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// VaultConfig configures a VaultProvider. VAULT_ADDR, VAULT_TOKEN and
// VAULT_NAMESPACE override the corresponding fields.
type VaultConfig struct {
	Address       string
	Token         string
	Namespace     string
	Timeout       time.Duration // Default: 5s.
	TLSSkipVerify bool
}

// VaultProvider resolves references from HashiCorp Vault KV v2.
// Reference format: "vault://secret/data/tubechat#anthropic_api_key", where
// the path is the full KV v2 API path and the field after # is required.
type VaultProvider struct {
	address   string
	token     string
	namespace string
	client    *http.Client
}

// NewVaultProvider creates a Vault KV v2 secret provider using token auth.
func NewVaultProvider(cfg VaultConfig) (*VaultProvider, error) {
	if env := os.Getenv("VAULT_ADDR"); env != "" {
		cfg.Address = env
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required (set secrets.vault.address or VAULT_ADDR)")
	}
	if env := os.Getenv("VAULT_TOKEN"); env != "" {
		cfg.Token = env
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("vault token is required (set secrets.vault.token or VAULT_TOKEN)")
	}
	if env := os.Getenv("VAULT_NAMESPACE"); env != "" {
		cfg.Namespace = env
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &VaultProvider{
		address:   strings.TrimRight(cfg.Address, "/"),
		token:     cfg.Token,
		namespace: cfg.Namespace,
		client:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}, nil
}

func (p *VaultProvider) Scheme() string { return "vault" }

func (p *VaultProvider) Resolve(ctx context.Context, ref string) (string, error) {
	raw, ok := strings.CutPrefix(ref, "vault://")
	if !ok {
		return "", fmt.Errorf("%w: vault provider only handles vault:// references, got %q", ErrSecretNotFound, ref)
	}
	path, field, _ := strings.Cut(raw, "#")
	if path == "" {
		return "", fmt.Errorf("%w: empty vault path", ErrSecretNotFound)
	}
	if field == "" {
		return "", fmt.Errorf("%w: vault reference %q has no #field selector", ErrSecretNotFound, ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v1/%s", p.address, path), nil)
	if err != nil {
		return "", fmt.Errorf("building vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.token)
	if p.namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.namespace)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading vault response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: vault path %q not found", ErrSecretNotFound, path)
	case resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("vault access denied for path %q (check token permissions)", path)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("vault returned status %d for path %q", resp.StatusCode, path)
	}

	// KV v2 envelope: {"data": {"data": {...}, "metadata": {...}}}
	value := gjson.GetBytes(body, "data.data."+gjson.Escape(field))
	switch {
	case !value.Exists():
		return "", fmt.Errorf("%w: field %q not found in vault path %q", ErrSecretNotFound, field, path)
	case value.Type != gjson.String:
		return "", fmt.Errorf("vault field %q in path %q is not a string", field, path)
	}
	return value.String(), nil
}
