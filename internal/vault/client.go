// Package vault loads broker credentials from HashiCorp Vault. When Vault is
// disabled the config-supplied credentials pass through unchanged.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"kite-trading-bot/config"
)

// BrokerCredentials are the secrets a broker adapter needs for a session.
type BrokerCredentials struct {
	APIKey      string `json:"api_key"`
	APISecret   string `json:"api_secret"`
	AccessToken string `json:"access_token"`
	ClientID    string `json:"client_id"`
}

// Client wraps the Vault API client for KV v2 reads.
type Client struct {
	client *api.Client
	cfg    config.VaultConfig
}

// NewClient creates a Vault client. A disabled config returns a client whose
// reads report vault-disabled so callers fall back to config credentials.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{cfg: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, cfg: cfg}, nil
}

// Enabled reports whether Vault reads are active.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled
}

// GetBrokerCredentials reads the broker secrets from the configured KV v2
// path.
func (c *Client) GetBrokerCredentials(ctx context.Context) (*BrokerCredentials, error) {
	if !c.cfg.Enabled {
		return nil, fmt.Errorf("vault is disabled")
	}

	kv := c.client.KVv2(c.cfg.MountPath)
	secret, err := kv.Get(ctx, c.cfg.SecretPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read broker credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("broker credentials not found at %s/%s", c.cfg.MountPath, c.cfg.SecretPath)
	}

	return &BrokerCredentials{
		APIKey:      getString(secret.Data, "api_key"),
		APISecret:   getString(secret.Data, "api_secret"),
		AccessToken: getString(secret.Data, "access_token"),
		ClientID:    getString(secret.Data, "client_id"),
	}, nil
}

// StoreBrokerCredentials writes broker secrets, used by the daily session
// refresh once a new access token is obtained.
func (c *Client) StoreBrokerCredentials(ctx context.Context, creds *BrokerCredentials) error {
	if !c.cfg.Enabled {
		return fmt.Errorf("vault is disabled")
	}

	kv := c.client.KVv2(c.cfg.MountPath)
	_, err := kv.Put(ctx, c.cfg.SecretPath, map[string]interface{}{
		"api_key":      creds.APIKey,
		"api_secret":   creds.APISecret,
		"access_token": creds.AccessToken,
		"client_id":    creds.ClientID,
	})
	if err != nil {
		return fmt.Errorf("failed to store broker credentials in vault: %w", err)
	}
	return nil
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
