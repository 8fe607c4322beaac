// Package secrets resolves runtime secrets (captcha secret, password
// pepper) from an external store. Vault is tried first, then AWS Secrets
// Manager, then plain environment variables as the development fallback.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
)

var ErrProviderUnavailable = errors.New("secrets provider unavailable")

type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

type Adapter struct {
	primary    Provider
	fallback   Provider
	failClosed bool
}

func NewAdapter(ctx context.Context) (*Adapter, error) {
	var primary Provider
	if vaultAddr := os.Getenv("VAULT_ADDR"); vaultAddr != "" {
		if vp, err := newVaultProvider(ctx); err == nil {
			primary = vp
		}
	}
	if primary == nil {
		if awsRegion := os.Getenv("AWS_REGION"); awsRegion != "" {
			if ap, err := newAWSProvider(ctx); err == nil {
				primary = ap
			}
		}
	}
	failClosed := os.Getenv("SECRETS_FAIL_CLOSED") == "true"
	a := &Adapter{
		primary:    primary,
		fallback:   envProvider{},
		failClosed: failClosed,
	}
	if failClosed {
		a.fallback = nil
		if primary == nil {
			return nil, fmt.Errorf("SECRETS_FAIL_CLOSED=true but no provider available (checked Vault, AWS Secrets Manager)")
		}
	}
	return a, nil
}

func (a *Adapter) GetSecret(ctx context.Context, key string) (string, error) {
	if a.primary != nil {
		val, err := a.primary.GetSecret(ctx, key)
		if err == nil && val != "" {
			return val, nil
		}
		if a.failClosed {
			return "", fmt.Errorf("get secret %s failed (fail-closed): %w", key, err)
		}
	}
	if a.fallback != nil {
		return a.fallback.GetSecret(ctx, key)
	}
	return "", ErrProviderUnavailable
}

/* ---------- Vault ---------- */

type vaultProvider struct {
	client     *vault.Client
	secretPath string
}

func newVaultProvider(ctx context.Context) (*vaultProvider, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = os.Getenv("VAULT_ADDR")
	cfg.Timeout = 5 * time.Second
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if tokenFile := os.Getenv("VAULT_TOKEN_FILE"); tokenFile != "" {
		tokenBytes, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read VAULT_TOKEN_FILE: %w", err)
		}
		client.SetToken(strings.TrimSpace(string(tokenBytes)))
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Sys().HealthWithContext(healthCtx); err != nil {
		return nil, fmt.Errorf("vault health check failed: %w", err)
	}
	secretPath := os.Getenv("VAULT_SECRET_PATH")
	if secretPath == "" {
		secretPath = "secret/data/dapim"
	}
	return &vaultProvider{client: client, secretPath: secretPath}, nil
}

func (v *vaultProvider) GetSecret(ctx context.Context, key string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.secretPath)
	if err != nil {
		return "", errors.Wrap(err, "vault read")
	}
	if secret == nil || secret.Data == nil {
		return "", errors.New("vault secret not found")
	}
	data := secret.Data
	// KV v2 nests the payload under "data".
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}
	val, ok := data[key].(string)
	if !ok || val == "" {
		return "", fmt.Errorf("vault key %s not found", key)
	}
	return val, nil
}

/* ---------- AWS Secrets Manager ---------- */

type awsProvider struct {
	client   *secretsmanager.Client
	secretID string
}

func newAWSProvider(ctx context.Context) (*awsProvider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	secretID := os.Getenv("AWS_SECRET_ID")
	if secretID == "" {
		secretID = "dapim/app"
	}
	return &awsProvider{
		client:   secretsmanager.NewFromConfig(awsCfg),
		secretID: secretID,
	}, nil
}

func (a *awsProvider) GetSecret(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &a.secretID,
	})
	if err != nil {
		return "", errors.Wrap(err, "secretsmanager get")
	}
	if out.SecretString == nil {
		return "", errors.New("secret has no string payload")
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &values); err != nil {
		return "", errors.Wrap(err, "decode secret payload")
	}
	val, ok := values[key]
	if !ok || val == "" {
		return "", fmt.Errorf("secret key %s not found", key)
	}
	return val, nil
}

/* ---------- environment fallback ---------- */

type envProvider struct{}

func (envProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if val := os.Getenv(key); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("env key %s not set", key)
}
