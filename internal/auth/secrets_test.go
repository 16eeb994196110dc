package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
)

type mockSecretAccessor struct {
	secrets  map[string]string
	requests []string
	closed   bool
}

func (m *mockSecretAccessor) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	m.requests = append(m.requests, req.GetName())
	value, ok := m.secrets[req.GetName()]
	if !ok {
		return nil, errors.New("secret not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (m *mockSecretAccessor) Close() error {
	m.closed = true
	return nil
}

func TestSecretLoader_LoadOAuthConfig(t *testing.T) {
	accessor := &mockSecretAccessor{secrets: map[string]string{
		"projects/p1/secrets/client-id/versions/latest":     "id-123",
		"projects/p1/secrets/client-secret/versions/latest": "secret-456",
		"projects/p1/secrets/redirect/versions/latest":      "https://dash.example.com/auth/google/callback",
	}}
	loader := NewSecretLoaderWithClient(accessor, "p1")

	config, err := loader.LoadOAuthConfig(context.Background(), "client-id", "client-secret", "redirect")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.ClientID != "id-123" || config.ClientSecret != "secret-456" {
		t.Errorf("unexpected config: %+v", config)
	}
	if config.RedirectURI != "https://dash.example.com/auth/google/callback" {
		t.Errorf("unexpected redirect %s", config.RedirectURI)
	}
	if len(accessor.requests) != 3 {
		t.Errorf("expected 3 secret reads, got %d", len(accessor.requests))
	}

	if err := loader.Close(); err != nil || !accessor.closed {
		t.Errorf("expected close to reach the client, got %v", err)
	}
}

func TestSecretLoader_MissingSecret(t *testing.T) {
	accessor := &mockSecretAccessor{secrets: map[string]string{
		"projects/p1/secrets/client-id/versions/latest": "id-123",
	}}
	loader := NewSecretLoaderWithClient(accessor, "p1")

	_, err := loader.LoadOAuthConfig(context.Background(), "client-id", "client-secret", "redirect")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "client secret") {
		t.Errorf("expected error to name the missing value, got %v", err)
	}
}
