// internal/circulation/repository.go
package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"booknet/internal/apperr"
	"booknet/internal/db"
	"booknet/internal/eventstore"
	"booknet/internal/paging"
)

var dialect = goqu.Dialect("postgres")

const uniqueViolation = "23505"

// PostgresRepository stores loans in PostgreSQL. Every write appends the
// matching loan event in the same transaction.
type PostgresRepository struct {
	db     *sqlx.DB
	events *eventstore.Store
}

func NewPostgresRepository(conn *sqlx.DB, events *eventstore.Store) *PostgresRepository {
	return &PostgresRepository{db: conn, events: events}
}

const loanColumns = `id, book_id, borrower_id, returned, return_approved, version, created_at`

func (r *PostgresRepository) HasOpenLoan(ctx context.Context, bookID, borrowerID uuid.UUID) (bool, error) {
	var open bool
	err := r.db.GetContext(ctx, &open, `
		SELECT EXISTS (
			SELECT 1 FROM loans
			WHERE book_id = $1 AND borrower_id = $2 AND NOT return_approved
		)
	`, bookID, borrowerID)
	if err != nil {
		return false, fmt.Errorf("check open loan: %w", err)
	}
	return open, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (*Loan, error) {
	return r.get(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
}

func (r *PostgresRepository) FindBorrowed(ctx context.Context, bookID, borrowerID uuid.UUID) (*Loan, error) {
	return r.get(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE book_id = $1 AND borrower_id = $2 AND NOT returned AND NOT return_approved
	`, bookID, borrowerID)
}

func (r *PostgresRepository) FindReturned(ctx context.Context, bookID uuid.UUID) (*Loan, error) {
	return r.get(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE book_id = $1 AND returned AND NOT return_approved
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, bookID)
}

func (r *PostgresRepository) get(ctx context.Context, query string, args ...any) (*Loan, error) {
	var l Loan
	if err := r.db.GetContext(ctx, &l, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("no matching loan")
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return &l, nil
}

func (r *PostgresRepository) Create(ctx context.Context, l *Loan, actor uuid.UUID) error {
	l.Version = 1
	return db.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO loans (`+loanColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, l.ID, l.BookID, l.BorrowerID, l.Returned, l.ReturnApproved, l.Version, l.CreatedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return apperr.Wrap(apperr.KindConflict, "The requested book is already borrowed", err)
			}
			return fmt.Errorf("insert loan: %w", err)
		}
		return r.appendEvent(ctx, tx, l, EventBookBorrowed, actor, 0)
	})
}

// Update writes the loan flags when the stored version still matches
// l.Version, then bumps l.Version.
func (r *PostgresRepository) Update(ctx context.Context, l *Loan, eventType string, actor uuid.UUID) error {
	return db.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE loans
			SET returned = $1, return_approved = $2, version = version + 1
			WHERE id = $3 AND version = $4
		`, l.Returned, l.ReturnApproved, l.ID, l.Version)
		if err != nil {
			return fmt.Errorf("update loan: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update loan: %w", err)
		}
		if n == 0 {
			return apperr.Conflict("loan was modified concurrently")
		}

		if err := r.appendEvent(ctx, tx, l, eventType, actor, l.Version); err != nil {
			return err
		}
		l.Version++
		return nil
	})
}

func (r *PostgresRepository) ListBorrowed(ctx context.Context, borrowerID uuid.UUID, page paging.Request) ([]BorrowedBook, int64, error) {
	return r.list(ctx, page, goqu.I("l.borrower_id").Eq(borrowerID))
}

func (r *PostgresRepository) ListReturned(ctx context.Context, ownerID uuid.UUID, page paging.Request) ([]BorrowedBook, int64, error) {
	return r.list(ctx, page, goqu.I("b.owner_id").Eq(ownerID))
}

func (r *PostgresRepository) list(ctx context.Context, page paging.Request, where exp.Expression) ([]BorrowedBook, int64, error) {
	base := dialect.From(goqu.T("loans").As("l")).
		Prepared(true).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Where(where)

	countQuery, countArgs, err := base.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int64
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count loans: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	query, args, err := base.
		Select(
			goqu.I("l.id").As("loan_id"),
			goqu.I("l.book_id"),
			goqu.I("b.title"),
			goqu.I("b.author_name"),
			goqu.I("b.isbn"),
			goqu.I("l.returned"),
			goqu.I("l.return_approved"),
			goqu.I("l.created_at"),
		).
		Order(goqu.I("l.created_at").Desc(), goqu.I("l.id").Desc()).
		Limit(uint(page.Size)).
		Offset(uint(page.Offset())).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	var rows []BorrowedBook
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list loans: %w", err)
	}
	return rows, total, nil
}

func (r *PostgresRepository) History(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error) {
	return r.events.Load(ctx, r.db, loanID)
}

func (r *PostgresRepository) appendEvent(ctx context.Context, tx *sqlx.Tx, l *Loan, eventType string, actor uuid.UUID, expected int) error {
	event, err := eventstore.NewEvent(eventType, LoanEvent{
		LoanID:     l.ID,
		BookID:     l.BookID,
		BorrowerID: l.BorrowerID,
		State:      l.State(),
	}, map[string]string{"actor": actor.String()})
	if err != nil {
		return err
	}
	if err := r.events.Append(ctx, tx, l.ID, eventstore.AggregateLoan, expected, []eventstore.Event{event}); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return apperr.Wrap(apperr.KindConflict, "loan was modified concurrently", err)
		}
		return fmt.Errorf("append %s: %w", eventType, err)
	}
	return nil
}
