package webhook

import (
	"context"
	"fmt"
)

// SecretProvider resolves the signing secret of a tenant.
type SecretProvider interface {
	Secret(ctx context.Context, tenantID string) ([]byte, error)
}

// SecretProviderFunc is an adapter to use a plain function as a
// SecretProvider.
type SecretProviderFunc func(ctx context.Context, tenantID string) ([]byte, error)

// Secret implements SecretProvider.
func (f SecretProviderFunc) Secret(ctx context.Context, tenantID string) ([]byte, error) {
	return f(ctx, tenantID)
}

// StaticSecrets serves secrets from a fixed map, falling back to Default
// for tenants without an entry.
type StaticSecrets struct {
	Tenants map[string]string
	Default string
}

// Secret implements SecretProvider.
func (s StaticSecrets) Secret(_ context.Context, tenantID string) ([]byte, error) {
	if v, ok := s.Tenants[tenantID]; ok && v != "" {
		return []byte(v), nil
	}
	if s.Default != "" {
		return []byte(s.Default), nil
	}
	return nil, fmt.Errorf("webhook: no signing secret for tenant %q", tenantID)
}
