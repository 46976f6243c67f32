// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"booknet/internal/apperr"
	"booknet/internal/identity"
)

const codeAttempts = 3

// service implements the Service interface.
type service struct {
	repo        Repository
	notifier    Notifier
	tokens      TokenIssuer
	log         *zap.Logger
	tracer      trace.Tracer
	rateLimiter *rate.Limiter
	now         func() time.Time
	newCode     func(n int) (string, error)
}

// NewService creates a new membership service instance. Registration,
// activation and authentication share one limiter allowing ratePerMinute
// requests; zero disables throttling.
func NewService(repo Repository, notifier Notifier, tokens TokenIssuer, log *zap.Logger, ratePerMinute int) Service {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), ratePerMinute)
	}
	return &service{
		repo:        repo,
		notifier:    notifier,
		tokens:      tokens,
		log:         log,
		tracer:      otel.Tracer("booknet/membership"),
		rateLimiter: limiter,
		now:         func() time.Time { return time.Now().UTC() },
		newCode:     generateCode,
	}
}

// Register creates a disabled account and mails its activation code.
func (s *service) Register(ctx context.Context, req RegistrationRequest) error {
	ctx, span := s.tracer.Start(ctx, "membership.register")
	defer span.End()

	if !s.rateLimiter.Allow() {
		return apperr.Throttled("rate limit exceeded")
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if _, err := s.repo.FindUserByEmail(ctx, req.Email); err == nil {
		return apperr.Conflict("An account with this email already exists")
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("failed to look up email: %w", err)
	}

	passwordHash, salt, err := hashPassword(req.Password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:           uuid.New(),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		PasswordHash: passwordHash,
		PasswordSalt: salt,
		CreatedAt:    s.now(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return err
	}

	if err := s.sendActivation(ctx, user); err != nil {
		// Leave no disabled account without a code behind; the email can register again.
		if delErr := s.repo.DeleteUser(ctx, user.ID); delErr != nil {
			s.log.Error("failed to roll back registration", zap.Stringer("user_id", user.ID), zap.Error(delErr))
		}
		return err
	}

	s.log.Info("user registered", zap.Stringer("user_id", user.ID))
	return nil
}

// Activate enables the account the code was issued for. An expired code is
// replaced by a freshly mailed one and reported as Expired.
func (s *service) Activate(ctx context.Context, code string) error {
	ctx, span := s.tracer.Start(ctx, "membership.activate")
	defer span.End()

	if !s.rateLimiter.Allow() {
		return apperr.Throttled("rate limit exceeded")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return apperr.Invalid("Invalid activation code")
	}

	token, err := s.repo.FindToken(ctx, code)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Invalid("Invalid activation code")
	}
	if err != nil {
		return fmt.Errorf("failed to load activation code: %w", err)
	}
	if token.Used() {
		return apperr.Invalid("Activation code was already used")
	}

	now := s.now()
	if token.Expired(now) {
		user, err := s.repo.FindUserByID(ctx, token.UserID)
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		// Issue the replacement first so a failure never leaves the user without a code.
		if err := s.sendActivation(ctx, user); err != nil {
			return err
		}
		if err := s.repo.DeleteToken(ctx, token.Code); err != nil {
			return fmt.Errorf("failed to delete expired code: %w", err)
		}
		return apperr.Expired("Activation code has expired. A new code has been sent to the same email address")
	}

	if err := s.repo.ActivateUser(ctx, token.UserID, token.Code, now); err != nil {
		return fmt.Errorf("failed to activate account: %w", err)
	}

	s.log.Info("account activated", zap.Stringer("user_id", token.UserID))
	return nil
}

// Authenticate checks the credentials and issues a session token.
func (s *service) Authenticate(ctx context.Context, req AuthenticationRequest) (*AuthenticationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "membership.authenticate")
	defer span.End()

	if !s.rateLimiter.Allow() {
		return nil, apperr.Throttled("rate limit exceeded")
	}

	user, err := s.repo.FindUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Unauthorized("Bad credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(req.Password, user.PasswordSalt, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		s.log.Warn("authentication rejected", zap.Stringer("user_id", user.ID))
		return nil, apperr.Unauthorized("Bad credentials")
	}
	if user.Locked {
		return nil, apperr.PermissionDenied("User account is locked")
	}
	if !user.Enabled {
		return nil, apperr.PermissionDenied("User account is disabled")
	}

	token, err := s.tokens.Issue(identity.Identity{UserID: user.ID, FullName: user.FullName()})
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &AuthenticationResponse{Token: token}, nil
}

// sendActivation stores a new code for user and hands it to the notifier.
func (s *service) sendActivation(ctx context.Context, user *User) error {
	var token *ActivationToken
	for attempt := 0; ; attempt++ {
		code, err := s.newCode(activationCodeSize)
		if err != nil {
			return err
		}
		now := s.now()
		token = &ActivationToken{
			Code:      code,
			UserID:    user.ID,
			CreatedAt: now,
			ExpiresAt: now.Add(activationValidity),
		}
		err = s.repo.SaveToken(ctx, token)
		if err == nil {
			break
		}
		// Codes are short, so a collision with a live code is possible.
		if !errors.Is(err, apperr.ErrConflict) || attempt+1 >= codeAttempts {
			return fmt.Errorf("failed to save activation code: %w", err)
		}
	}

	if err := s.notifier.SendActivationCode(user.Email, user.FullName(), token.Code, activationValidity); err != nil {
		return fmt.Errorf("failed to send activation email: %w", err)
	}
	return nil
}
