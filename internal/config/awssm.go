package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// resolveAWSSecretsManager reads a secret from AWS Secrets Manager. ref is
// the secret name or ARN, optionally followed by "#key" to pick one field
// of a JSON secret such as the ones RDS generates.
func resolveAWSSecretsManager(ref string) (string, error) {
	name, key, _ := strings.Cut(ref, "#")

	ctx, cancel := context.WithTimeout(context.Background(), secretTimeout)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("loading AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("getting secret %q: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %q has no string value (binary secrets not supported)", name)
	}
	if key == "" {
		return *out.SecretString, nil
	}
	return jsonField(*out.SecretString, key)
}

// jsonField extracts one string field from a JSON object secret.
func jsonField(secret, key string) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(secret), &fields); err != nil {
		return "", fmt.Errorf("secret is not a JSON object: %w", err)
	}
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("secret key %q is not a string", key)
	}
	return s, nil
}
