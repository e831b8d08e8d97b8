package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// secretTimeout bounds a single secret lookup during config load.
const secretTimeout = 15 * time.Second

// resolveVault reads a key from a Vault KV secret. ref is "path#key", for
// example "secret/data/schemashift/target#password". VAULT_ADDR and
// VAULT_TOKEN must be set; VAULT_NAMESPACE is honoured when present.
func resolveVault(ref string) (string, error) {
	path, key, ok := strings.Cut(ref, "#")
	if !ok || path == "" || key == "" {
		return "", fmt.Errorf("invalid Vault reference %q: expected path#key", ref)
	}

	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		return "", fmt.Errorf("VAULT_ADDR environment variable not set")
	}
	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		return "", fmt.Errorf("VAULT_TOKEN environment variable not set")
	}

	cfg := api.DefaultConfig()
	cfg.Address = addr
	cfg.Timeout = secretTimeout

	client, err := api.NewClient(cfg)
	if err != nil {
		return "", fmt.Errorf("creating Vault client: %w", err)
	}
	client.SetToken(token)
	if ns := os.Getenv("VAULT_NAMESPACE"); ns != "" {
		client.SetNamespace(ns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), secretTimeout)
	defer cancel()

	secret, err := client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("reading Vault secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no Vault secret at %s", path)
	}

	// KV v2 nests the payload under "data"
	data := secret.Data
	if inner, ok := data["data"].(map[string]interface{}); ok {
		data = inner
	}

	switch v := data[key].(type) {
	case string:
		return v, nil
	case nil:
		return "", fmt.Errorf("key %q not found in Vault secret %s", key, path)
	default:
		return "", fmt.Errorf("Vault secret %s key %q is %T, not a string", path, key, v)
	}
}
