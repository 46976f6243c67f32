// internal/membership/service.go
package membership

import (
	"context"
	"time"

	"github.com/google/uuid"

	"booknet/internal/identity"
)

// Service defines the interface for the membership service.
type Service interface {
	Register(ctx context.Context, req RegistrationRequest) error
	Activate(ctx context.Context, code string) error
	Authenticate(ctx context.Context, req AuthenticationRequest) (*AuthenticationResponse, error)
}

// Repository persists users and activation codes. Lookups fail with apperr
// NotFound; CreateUser fails with apperr Conflict on a taken email.
type Repository interface {
	CreateUser(ctx context.Context, u *User) error
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	// DeleteUser removes the user together with its activation codes.
	DeleteUser(ctx context.Context, id uuid.UUID) error
	SaveToken(ctx context.Context, t *ActivationToken) error
	FindToken(ctx context.Context, code string) (*ActivationToken, error)
	DeleteToken(ctx context.Context, code string) error
	// ActivateUser enables the user and stamps the code as validated.
	ActivateUser(ctx context.Context, userID uuid.UUID, code string, at time.Time) error
}

// Notifier delivers activation codes.
type Notifier interface {
	SendActivationCode(to, name, code string, validFor time.Duration) error
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(id identity.Identity) (string, error)
}
