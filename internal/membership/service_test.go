package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"booknet/internal/apperr"
	"booknet/internal/auth"
	"booknet/internal/identity"
)

type sentCode struct {
	to, name, code string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentCode
}

func (n *recordingNotifier) SendActivationCode(to, name, code string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentCode{to: to, name: name, code: code})
	return nil
}

func (n *recordingNotifier) last(t *testing.T) sentCode {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1]
}

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	svc      *service
	repo     *fakeRepo
	notifier *recordingNotifier
	tokens   *auth.TokenIssuer
	clock    time.Time
}

func newFixture(t *testing.T, ratePerMinute int) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newFakeRepo(),
		notifier: &recordingNotifier{},
		tokens:   auth.NewTokenIssuer(testSecret, time.Hour),
		clock:    time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, f.notifier, f.tokens, zap.NewNop(), ratePerMinute).(*service)
	f.svc.now = func() time.Time { return f.clock }
	codes := 0
	f.svc.newCode = func(n int) (string, error) {
		codes++
		return fmt.Sprintf("%0*d", n, codes), nil
	}
	return f
}

func validRegistration() RegistrationRequest {
	return RegistrationRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "Ada@Example.com",
		Password:  "analytical-engine",
	}
}

func TestRegisterCreatesDisabledUserAndSendsCode(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.svc.Register(ctx, validRegistration()))

	user, err := f.repo.FindUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, user.Enabled)
	assert.False(t, user.Locked)
	assert.NotEqual(t, "analytical-engine", user.PasswordHash)

	sent := f.notifier.last(t)
	assert.Equal(t, "ada@example.com", sent.to)
	assert.Equal(t, "Ada Lovelace", sent.name)
	assert.Len(t, sent.code, activationCodeSize)

	token, err := f.repo.FindToken(ctx, sent.code)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(activationValidity), token.ExpiresAt)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, validRegistration()))

	err := f.svc.Register(ctx, validRegistration())
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, 0)

	tests := map[string]func(*RegistrationRequest){
		"blank first name": func(r *RegistrationRequest) { r.FirstName = " " },
		"missing last name": func(r *RegistrationRequest) { r.LastName = "" },
		"bad email":         func(r *RegistrationRequest) { r.Email = "not-an-email" },
		"display name email": func(r *RegistrationRequest) {
			r.Email = "Ada <ada@example.com>"
		},
		"short password": func(r *RegistrationRequest) { r.Password = "short" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			req := validRegistration()
			mutate(&req)
			assert.ErrorIs(t, f.svc.Register(context.Background(), req), apperr.ErrInvalid)
		})
	}
}

func TestRegisterRetriesCodeCollision(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.repo.tokens["000001"] = ActivationToken{Code: "000001"}

	require.NoError(t, f.svc.Register(ctx, validRegistration()))
	assert.Equal(t, "000002", f.notifier.last(t).code)
}

func TestRegisterRollsBackWhenCodeCannotBeStored(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.repo.saveTokenErr = errors.New("connection reset")

	err := f.svc.Register(ctx, validRegistration())
	require.Error(t, err)
	_, err = f.repo.FindUserByEmail(ctx, "ada@example.com")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, f.svc.Register(ctx, validRegistration()))
	code := f.notifier.last(t).code
	require.NoError(t, f.svc.Activate(ctx, code))
}

func TestActivateEnablesAccount(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, validRegistration()))
	code := f.notifier.last(t).code

	f.clock = f.clock.Add(10 * time.Minute)
	require.NoError(t, f.svc.Activate(ctx, code))

	user, err := f.repo.FindUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, user.Enabled)

	err = f.svc.Activate(ctx, code)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestActivateUnknownCode(t *testing.T) {
	f := newFixture(t, 0)

	assert.ErrorIs(t, f.svc.Activate(context.Background(), "999999"), apperr.ErrInvalid)
	assert.ErrorIs(t, f.svc.Activate(context.Background(), ""), apperr.ErrInvalid)
}

func TestActivateExpiredCodeIssuesNewOne(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, validRegistration()))
	old := f.notifier.last(t).code

	f.clock = f.clock.Add(activationValidity + time.Second)
	err := f.svc.Activate(ctx, old)
	assert.ErrorIs(t, err, apperr.ErrExpired)

	fresh := f.notifier.last(t).code
	assert.NotEqual(t, old, fresh)

	_, err = f.repo.FindToken(ctx, old)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, f.svc.Activate(ctx, old), apperr.ErrInvalid)

	require.NoError(t, f.svc.Activate(ctx, fresh))
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, validRegistration()))
	creds := AuthenticationRequest{Email: "ada@example.com", Password: "analytical-engine"}

	_, err := f.svc.Authenticate(ctx, creds)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied, "disabled account")

	require.NoError(t, f.svc.Activate(ctx, f.notifier.last(t).code))

	resp, err := f.svc.Authenticate(ctx, AuthenticationRequest{Email: " ADA@example.com ", Password: creds.Password})
	require.NoError(t, err)
	who, err := f.tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", who.FullName)
	assert.NotEqual(t, identity.Identity{}, who)

	_, err = f.svc.Authenticate(ctx, AuthenticationRequest{Email: creds.Email, Password: "wrong-password"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = f.svc.Authenticate(ctx, AuthenticationRequest{Email: "nobody@example.com", Password: "whatever1"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestAuthenticateLockedAccount(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, validRegistration()))
	user, err := f.repo.FindUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	user.Enabled, user.Locked = true, true
	f.repo.users[user.ID] = *user

	_, err = f.svc.Authenticate(ctx, AuthenticationRequest{Email: "ada@example.com", Password: "analytical-engine"})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	assert.Equal(t, "User account is locked", apperr.Message(err))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	creds := AuthenticationRequest{Email: "nobody@example.com", Password: "whatever1"}

	for i := 0; i < 2; i++ {
		_, err := f.svc.Authenticate(ctx, creds)
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	}
	_, err := f.svc.Authenticate(ctx, creds)
	assert.ErrorIs(t, err, apperr.ErrThrottled)
	assert.ErrorIs(t, f.svc.Register(ctx, validRegistration()), apperr.ErrThrottled)
}

func TestRateLimitActivation(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	require.NoError(t, f.svc.Register(ctx, validRegistration()))
	code := f.notifier.last(t).code

	for i := 0; i < 50; i++ {
		err := f.svc.Activate(ctx, fmt.Sprintf("%06d", 900000+i))
		assert.ErrorIs(t, err, apperr.ErrThrottled)
	}
	assert.ErrorIs(t, f.svc.Activate(ctx, code), apperr.ErrThrottled)

	user, err := f.repo.FindUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, user.Enabled)
}
