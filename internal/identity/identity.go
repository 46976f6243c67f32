// Package identity carries the verified caller from the transport layer to
// the services. Services receive an Identity as an explicit argument; the
// context is only used between the auth middleware and the handlers.
package identity

import (
	"context"

	"github.com/google/uuid"
)

// Identity is an authenticated user.
type Identity struct {
	UserID   uuid.UUID
	FullName string
}

// IsZero reports whether no user is set.
func (i Identity) IsZero() bool {
	return i.UserID == uuid.Nil
}

// Owns reports whether ownerID is this user.
func (i Identity) Owns(ownerID uuid.UUID) bool {
	return i.UserID == ownerID
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok || id.IsZero() {
		return Identity{}, false
	}
	return id, true
}
