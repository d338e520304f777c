package service

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// SecretResolver reads a secret value by its full resource name, used to pull
// the moderation API key from GCP Secret Manager instead of the environment.
type SecretResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
	Close() error
}

type secretManagerResolver struct {
	client *secretmanager.Client
}

func NewSecretManagerResolver(ctx context.Context, opts ...option.ClientOption) (SecretResolver, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &secretManagerResolver{client: client}, nil
}

// Resolve accesses a secret version, e.g.
// projects/my-project/secrets/openai-api-key/versions/latest.
func (r *secretManagerResolver) Resolve(ctx context.Context, name string) (string, error) {
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	return string(resp.Payload.Data), nil
}

func (r *secretManagerResolver) Close() error {
	return r.client.Close()
}
