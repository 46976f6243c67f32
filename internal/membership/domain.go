// internal/membership/domain.go
package membership

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"booknet/internal/apperr"
)

const (
	minPasswordLength  = 8
	activationCodeSize = 6
	activationValidity = 15 * time.Minute
)

// User is a registered account.
type User struct {
	ID           uuid.UUID `db:"id"`
	FirstName    string    `db:"first_name"`
	LastName     string    `db:"last_name"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	PasswordSalt string    `db:"password_salt"`
	Enabled      bool      `db:"enabled"`
	Locked       bool      `db:"locked"`
	CreatedAt    time.Time `db:"created_at"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// ActivationToken is a one-time code mailed to a new user.
type ActivationToken struct {
	Code        string     `db:"code"`
	UserID      uuid.UUID  `db:"user_id"`
	CreatedAt   time.Time  `db:"created_at"`
	ExpiresAt   time.Time  `db:"expires_at"`
	ValidatedAt *time.Time `db:"validated_at"`
}

// Expired reports whether the code can no longer be used at now.
func (t *ActivationToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Used reports whether the code already activated its account.
func (t *ActivationToken) Used() bool {
	return t.ValidatedAt != nil
}

// RegistrationRequest is the sign-up payload.
type RegistrationRequest struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Validate normalizes the request and rejects malformed input.
func (r *RegistrationRequest) Validate() error {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))

	switch {
	case r.FirstName == "":
		return apperr.Invalid("Firstname is mandatory")
	case r.LastName == "":
		return apperr.Invalid("Lastname is mandatory")
	case r.Email == "":
		return apperr.Invalid("Email is mandatory")
	case len(r.Password) < minPasswordLength:
		return apperr.Invalid("Password should be %d characters long minimum", minPasswordLength)
	}
	if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
		return apperr.Invalid("Email is not well formatted")
	}
	return nil
}

// AuthenticationRequest is the login payload.
type AuthenticationRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthenticationResponse carries the issued bearer token.
type AuthenticationResponse struct {
	Token string `json:"token"`
}
