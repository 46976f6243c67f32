// internal/membership/repository.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"booknet/internal/apperr"
	"booknet/internal/db"
)

const uniqueViolation = "23505"

// PostgresRepository stores users and activation codes in PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(conn *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

const userColumns = `id, first_name, last_name, email, password_hash, password_salt, enabled, locked, created_at`

func (r *PostgresRepository) CreateUser(ctx context.Context, u *User) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :first_name, :last_name, :email, :password_hash, :password_salt, :enabled, :locked, :created_at)
	`, u)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.KindConflict, "An account with this email already exists", err)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *PostgresRepository) FindUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PostgresRepository) getUser(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	if err := r.db.GetContext(ctx, &u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (r *PostgresRepository) SaveToken(ctx context.Context, t *ActivationToken) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO activation_tokens (code, user_id, created_at, expires_at, validated_at)
		VALUES (:code, :user_id, :created_at, :expires_at, :validated_at)
	`, t)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.KindConflict, "activation code already in use", err)
		}
		return fmt.Errorf("insert activation token: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindToken(ctx context.Context, code string) (*ActivationToken, error) {
	var t ActivationToken
	err := r.db.GetContext(ctx, &t, `
		SELECT code, user_id, created_at, expires_at, validated_at
		FROM activation_tokens
		WHERE code = $1
	`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("activation code not found")
		}
		return nil, fmt.Errorf("get activation token: %w", err)
	}
	return &t, nil
}

func (r *PostgresRepository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteToken(ctx context.Context, code string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM activation_tokens WHERE code = $1`, code); err != nil {
		return fmt.Errorf("delete activation token: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ActivateUser(ctx context.Context, userID uuid.UUID, code string, at time.Time) error {
	return db.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET enabled = TRUE WHERE id = $1`, userID); err != nil {
			return fmt.Errorf("enable user: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE activation_tokens SET validated_at = $1
			WHERE code = $2 AND validated_at IS NULL
		`, at, code)
		if err != nil {
			return fmt.Errorf("validate activation token: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("validate activation token: %w", err)
		} else if n == 0 {
			return apperr.Invalid("Activation code was already used")
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
