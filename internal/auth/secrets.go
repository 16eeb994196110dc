package auth

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
)

// SecretAccessor is the subset of the Secret Manager client used by SecretLoader.
type SecretAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// SecretLoader loads secrets from Google Secret Manager.
type SecretLoader struct {
	client    SecretAccessor
	projectID string
}

// NewSecretLoader creates a SecretLoader with a Secret Manager client.
func NewSecretLoader(ctx context.Context, projectID string) (*SecretLoader, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}
	return NewSecretLoaderWithClient(client, projectID), nil
}

// NewSecretLoaderWithClient creates a SecretLoader on an existing accessor.
func NewSecretLoaderWithClient(client SecretAccessor, projectID string) *SecretLoader {
	return &SecretLoader{
		client:    client,
		projectID: projectID,
	}
}

// Close closes the secret manager client.
func (l *SecretLoader) Close() error {
	return l.client.Close()
}

// GetSecret retrieves the latest version of a secret.
func (l *SecretLoader) GetSecret(ctx context.Context, secretID string) (string, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", l.projectID, secretID),
	}

	result, err := l.client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", secretID, err)
	}
	return string(result.GetPayload().GetData()), nil
}

// LoadOAuthConfig loads the OAuth client from three secrets.
func (l *SecretLoader) LoadOAuthConfig(ctx context.Context, clientIDSecret, clientSecretSecret, redirectURISecret string) (*OAuthConfig, error) {
	clientID, err := l.GetSecret(ctx, clientIDSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to load client ID: %w", err)
	}

	clientSecret, err := l.GetSecret(ctx, clientSecretSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to load client secret: %w", err)
	}

	redirectURI, err := l.GetSecret(ctx, redirectURISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to load redirect URI: %w", err)
	}

	return &OAuthConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		Scopes:       DefaultScopes,
	}, nil
}
