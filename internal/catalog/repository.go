// internal/catalog/repository.go
package catalog

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

	"booknet/internal/apperr"
	"booknet/internal/db"
	"booknet/internal/eventstore"
	"booknet/internal/paging"
)

var dialect = goqu.Dialect("postgres")

// PostgresRepository stores books in PostgreSQL and records each change in
// the event log within the same transaction.
type PostgresRepository struct {
	db     *sqlx.DB
	events *eventstore.Store
}

func NewPostgresRepository(conn *sqlx.DB, events *eventstore.Store) *PostgresRepository {
	return &PostgresRepository{db: conn, events: events}
}

func (r *PostgresRepository) Insert(ctx context.Context, b *Book) error {
	b.Version = 1
	return db.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO books (id, title, author_name, isbn, synopsis, owner_id, shareable, archived, cover, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, b.ID, b.Title, b.AuthorName, b.ISBN, b.Synopsis, b.OwnerID, b.Shareable, b.Archived, b.Cover, b.Version, b.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert book: %w", err)
		}
		return r.appendEvent(ctx, tx, b, EventBookAdded, b.OwnerID, 0)
	})
}

func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (*Book, error) {
	query, args, err := bookSelect().Where(goqu.I("b.id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}

	var b Book
	if err := r.db.GetContext(ctx, &b, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("No book found with ID %s", id)
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &b, nil
}

// Update writes the mutable flags when the stored version still matches
// b.Version, then bumps b.Version.
func (r *PostgresRepository) Update(ctx context.Context, b *Book, eventType string, actor uuid.UUID) error {
	return db.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE books
			SET shareable = $1, archived = $2, cover = $3, version = version + 1
			WHERE id = $4 AND version = $5
		`, b.Shareable, b.Archived, b.Cover, b.ID, b.Version)
		if err != nil {
			return fmt.Errorf("update book: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update book: %w", err)
		}
		if n == 0 {
			return apperr.Conflict("book was modified concurrently")
		}

		if err := r.appendEvent(ctx, tx, b, eventType, actor, b.Version); err != nil {
			return err
		}
		b.Version++
		return nil
	})
}

func (r *PostgresRepository) ListDisplayable(ctx context.Context, viewer uuid.UUID, page paging.Request) ([]Book, int64, error) {
	return r.list(ctx, page,
		goqu.I("b.archived").IsFalse(),
		goqu.I("b.shareable").IsTrue(),
		goqu.I("b.owner_id").Neq(viewer),
	)
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, owner uuid.UUID, page paging.Request) ([]Book, int64, error) {
	return r.list(ctx, page, goqu.I("b.owner_id").Eq(owner))
}

func (r *PostgresRepository) list(ctx context.Context, page paging.Request, where ...exp.Expression) ([]Book, int64, error) {
	countQuery, countArgs, err := dialect.From(goqu.T("books").As("b")).
		Prepared(true).
		Select(goqu.COUNT("*")).
		Where(where...).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int64
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	query, args, err := bookSelect().
		Where(where...).
		Order(goqu.I("b.created_at").Desc(), goqu.I("b.id").Desc()).
		Limit(uint(page.Size)).
		Offset(uint(page.Offset())).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	var books []Book
	if err := r.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list books: %w", err)
	}
	return books, total, nil
}

func (r *PostgresRepository) appendEvent(ctx context.Context, tx *sqlx.Tx, b *Book, eventType string, actor uuid.UUID, expected int) error {
	event, err := eventstore.NewEvent(eventType, BookChangedEvent{
		ID:        b.ID,
		OwnerID:   b.OwnerID,
		Shareable: b.Shareable,
		Archived:  b.Archived,
		Cover:     b.Cover,
	}, map[string]string{"actor": actor.String()})
	if err != nil {
		return err
	}
	if err := r.events.Append(ctx, tx, b.ID, eventstore.AggregateBook, expected, []eventstore.Event{event}); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return apperr.Wrap(apperr.KindConflict, "book was modified concurrently", err)
		}
		return fmt.Errorf("append %s: %w", eventType, err)
	}
	return nil
}

func bookSelect() *goqu.SelectDataset {
	return dialect.From(goqu.T("books").As("b")).
		Prepared(true).
		Select(
			goqu.I("b.id"),
			goqu.I("b.title"),
			goqu.I("b.author_name"),
			goqu.I("b.isbn"),
			goqu.I("b.synopsis"),
			goqu.I("b.owner_id"),
			goqu.L("u.first_name || ' ' || u.last_name").As("owner_name"),
			goqu.I("b.shareable"),
			goqu.I("b.archived"),
			goqu.I("b.cover"),
			goqu.I("b.version"),
			goqu.I("b.created_at"),
		).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("b.owner_id"))))
}
