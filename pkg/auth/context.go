// Package auth defines the Principal contract CORE code depends on.
// Verifying a JWT and populating a Principal is the Gateway transport
// layer's job (out of scope per spec.md §1) — this package only carries
// the already-authenticated identity through request-scoped context.
package auth

import (
	"context"
	"errors"
)

// Principal is the authenticated caller of a request.
type Principal interface {
	GetID() string
	GetTenantID() string
	GetRoles() []string
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches a Principal to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal previously attached to ctx.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return nil, errors.New("auth: no principal in context")
	}
	return p, nil
}

// GetTenantID is a convenience accessor for the caller's tenant.
func GetTenantID(ctx context.Context) (string, error) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return "", err
	}
	return p.GetTenantID(), nil
}

type correlationKey contextKey

const corrIDKey correlationKey = "correlation_id"

// WithCorrelationID attaches a correlation ID (propagated from the original
// submission, per spec.md §4.2's approval-resumption rule) to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrIDKey, id)
}

// CorrelationID retrieves the correlation ID from ctx, or "" if absent.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(corrIDKey).(string)
	return id
}
