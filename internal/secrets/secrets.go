// Package secrets resolves credential references found in configuration
// values. A value such as "env://ANTHROPIC_API_KEY" or
// "vault://secret/data/tubechat#youtube_api_key" is replaced by the secret it
// points to before any client is built; plain values are left untouched.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSecretNotFound is returned when a credential reference cannot be resolved.
var ErrSecretNotFound = errors.New("secret not found")

// Provider resolves opaque credential references into secret material.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Resolve returns the raw secret for ref. Returns ErrSecretNotFound if
	// the reference cannot be resolved by this provider.
	Resolve(ctx context.Context, ref string) (string, error)

	// Scheme is the reference prefix handled, without "://" (e.g. "env").
	Scheme() string
}

// IsReference reports whether v looks like a credential reference with one
// of the known schemes.
func IsReference(v string) bool {
	scheme, _, ok := strings.Cut(v, "://")
	return ok && (scheme == "env" || scheme == "vault")
}

// Resolver dispatches references to the provider registered for their scheme.
type Resolver struct {
	providers map[string]Provider
}

// NewResolver creates a Resolver over the given providers.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Scheme()] = p
	}
	return r
}

// Resolve returns the secret for ref.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, _, ok := strings.Cut(ref, "://")
	if !ok {
		return "", fmt.Errorf("%w: %q is not a reference", ErrSecretNotFound, ref)
	}
	p, ok := r.providers[scheme]
	if !ok {
		return "", fmt.Errorf("%w: no provider configured for %s:// references", ErrSecretNotFound, scheme)
	}
	return p.Resolve(ctx, ref)
}

// Field names a configuration value that may hold a reference.
type Field struct {
	Name  string // Config key, used in error messages.
	Value *string
}

// ResolveFields replaces every referenced field value in place. Fields with
// plain values are skipped. The error names the first field that failed.
func (r *Resolver) ResolveFields(ctx context.Context, fields ...Field) (int, error) {
	resolved := 0
	for _, f := range fields {
		if f.Value == nil || !IsReference(*f.Value) {
			continue
		}
		v, err := r.Resolve(ctx, *f.Value)
		if err != nil {
			return resolved, fmt.Errorf("%s: %w", f.Name, err)
		}
		*f.Value = v
		resolved++
	}
	return resolved, nil
}
