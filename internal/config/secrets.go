package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
)

// SecretFetcher retrieves a secret string by name
type SecretFetcher interface {
	GetSecretValue(ctx context.Context, secretName string) (string, error)
}

// SecretsManager reads secrets from AWS Secrets Manager
type SecretsManager struct {
	svc secretsmanageriface.SecretsManagerAPI
}

// NewSecretsManager creates a Secrets Manager client for the region
func NewSecretsManager(region string) (*SecretsManager, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create AWS session: %w", err)
	}
	return &SecretsManager{svc: secretsmanager.New(sess)}, nil
}

// GetSecretValue retrieves a secret from AWS Secrets Manager
func (s *SecretsManager) GetSecretValue(ctx context.Context, secretName string) (string, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	}

	result, err := s.svc.GetSecretValueWithContext(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret %s: %w", secretName, err)
	}

	// Secrets Manager can store secrets as SecretString or SecretBinary
	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s is stored as binary, expected string", secretName)
	}
	return *result.SecretString, nil
}

// ResolveSecrets fills the price API key and database DSN from Secrets Manager
// when they are absent from the environment and a secrets prefix is configured.
func ResolveSecrets(ctx context.Context, cfg *Config, fetcher SecretFetcher) error {
	if cfg.Secrets.Prefix == "" {
		return nil
	}
	prefix := strings.TrimRight(cfg.Secrets.Prefix, "/")

	if cfg.Prices.APIKey == "" {
		key, err := fetcher.GetSecretValue(ctx, prefix+"/coinmarketcap-api-key")
		if err != nil {
			return fmt.Errorf("failed to get CoinMarketCap API key: %w", err)
		}
		cfg.Prices.APIKey = strings.TrimSpace(key)
	}

	if cfg.Database.Driver == "mysql" && !strings.Contains(cfg.Database.DSN, "@") {
		raw, err := fetcher.GetSecretValue(ctx, prefix+"/db-dsn")
		if err != nil {
			return fmt.Errorf("failed to get database DSN: %w", err)
		}
		dsn, err := dsnFromSecret(raw)
		if err != nil {
			return err
		}
		cfg.Database.DSN = dsn
	}
	return nil
}

// dsnFromSecret accepts either a bare DSN or a JSON secret with a "dsn" key
func dsnFromSecret(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	secretMap, err := ParseJSONSecret(raw)
	if err != nil {
		return "", err
	}
	dsn, ok := secretMap["dsn"].(string)
	if !ok || dsn == "" {
		return "", fmt.Errorf("database secret has no \"dsn\" field")
	}
	return dsn, nil
}

// ParseJSONSecret parses a JSON secret into a map
func ParseJSONSecret(secretString string) (map[string]interface{}, error) {
	var secretMap map[string]interface{}
	if err := json.Unmarshal([]byte(secretString), &secretMap); err != nil {
		return nil, fmt.Errorf("failed to parse JSON secret: %w", err)
	}
	return secretMap, nil
}
