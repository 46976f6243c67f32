package membership

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"booknet/internal/apperr"
)

type fakeRepo struct {
	mu     sync.Mutex
	users  map[uuid.UUID]User
	tokens map[string]ActivationToken

	// saveTokenErr fails the next SaveToken call.
	saveTokenErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:  make(map[uuid.UUID]User),
		tokens: make(map[string]ActivationToken),
	}
}

func (r *fakeRepo) CreateUser(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return apperr.Conflict("An account with this email already exists")
		}
	}
	r.users[u.ID] = *u
	return nil
}

func (r *fakeRepo) FindUserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, apperr.NotFound("user not found")
}

func (r *fakeRepo) FindUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return &u, nil
}

func (r *fakeRepo) DeleteUser(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	for code, t := range r.tokens {
		if t.UserID == id {
			delete(r.tokens, code)
		}
	}
	return nil
}

func (r *fakeRepo) SaveToken(_ context.Context, t *ActivationToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.saveTokenErr; err != nil {
		r.saveTokenErr = nil
		return err
	}
	if _, ok := r.tokens[t.Code]; ok {
		return apperr.Conflict("activation code already in use")
	}
	r.tokens[t.Code] = *t
	return nil
}

func (r *fakeRepo) FindToken(_ context.Context, code string) (*ActivationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[code]
	if !ok {
		return nil, apperr.NotFound("activation code not found")
	}
	return &t, nil
}

func (r *fakeRepo) DeleteToken(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, code)
	return nil
}

func (r *fakeRepo) ActivateUser(_ context.Context, userID uuid.UUID, code string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tokens[code]
	if t.ValidatedAt != nil {
		return apperr.Invalid("Activation code was already used")
	}
	u := r.users[userID]
	u.Enabled = true
	r.users[userID] = u
	t.ValidatedAt = &at
	r.tokens[code] = t
	return nil
}
