// Package secrets resolves the hub access token from the environment or a secret store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// ErrTokenNotFound is returned when no token is configured or the secret is empty.
var ErrTokenNotFound = errors.New("hub token not found")

// TokenSource returns the hub access token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// EnvSource serves a token already read from the environment by config.Load.
type EnvSource struct {
	Value string
}

// Token implements TokenSource.
func (s EnvSource) Token(context.Context) (string, error) {
	if s.Value == "" {
		return "", fmt.Errorf("%w: set HUB_TOKEN, HF_TOKEN or TOKEN", ErrTokenNotFound)
	}

	return s.Value, nil
}

// accessFunc reads the payload of one secret version.
type accessFunc func(ctx context.Context, name string) ([]byte, error)

// SecretManagerSource reads the token from a Google Cloud Secret Manager secret version,
// e.g. "projects/p/secrets/hub-token/versions/latest".
type SecretManagerSource struct {
	name   string
	access accessFunc
	close  func() error
}

// NewSecretManagerSource opens a Secret Manager client using application default credentials.
func NewSecretManagerSource(ctx context.Context, name string) (*SecretManagerSource, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	access := func(ctx context.Context, name string) ([]byte, error) {
		resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		if err != nil {
			return nil, err
		}

		return resp.GetPayload().GetData(), nil
	}

	return &SecretManagerSource{name: name, access: access, close: client.Close}, nil
}

// Token implements TokenSource.
func (s *SecretManagerSource) Token(ctx context.Context) (string, error) {
	data, err := s.access(ctx, s.name)
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", s.name, err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%w: secret %s is empty", ErrTokenNotFound, s.name)
	}

	return token, nil
}

// Close releases the underlying client.
func (s *SecretManagerSource) Close() error {
	if s.close == nil {
		return nil
	}

	return s.close()
}

// Resolve reads the hub token from Secret Manager when secretName is set, otherwise from envToken.
func Resolve(ctx context.Context, envToken, secretName string) (token string, err error) {
	var source TokenSource = EnvSource{Value: envToken}

	if secretName != "" {
		sm, openErr := NewSecretManagerSource(ctx, secretName)
		if openErr != nil {
			return "", openErr
		}

		defer func() {
			if closeErr := sm.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("failed to close secret manager client: %w", closeErr)
			}
		}()

		source = sm
	}

	return source.Token(ctx)
}
