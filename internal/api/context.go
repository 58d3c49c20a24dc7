package api

import (
	"context"
	"errors"
)

// ownerContextKey is the context key for the authenticated owner id.
type ownerContextKey struct{}

// ErrNoOwnerInContext indicates the request carries no authenticated owner.
var ErrNoOwnerInContext = errors.New("no owner in context")

// WithOwner returns a new context with the owner id attached.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, owner)
}

// OwnerFromContext extracts the owner id from the context.
// Returns ErrNoOwnerInContext if not present or empty.
func OwnerFromContext(ctx context.Context) (string, error) {
	owner, ok := ctx.Value(ownerContextKey{}).(string)
	if !ok || owner == "" {
		return "", ErrNoOwnerInContext
	}
	return owner, nil
}

// MustOwnerFromContext extracts the owner id or panics.
// Use only behind AuthMiddleware.
func MustOwnerFromContext(ctx context.Context) string {
	owner, err := OwnerFromContext(ctx)
	if err != nil {
		panic("owner not in context: middleware misconfiguration")
	}
	return owner
}
