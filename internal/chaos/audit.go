// internal/chaos/audit.go
package chaos

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresAuditor runs the consistency queries against the live schema.
type PostgresAuditor struct {
	db *sqlx.DB
}

func NewPostgresAuditor(db *sqlx.DB) *PostgresAuditor {
	return &PostgresAuditor{db: db}
}

func (a *PostgresAuditor) DuplicateOpenLoans(ctx context.Context) (int, error) {
	var n int
	err := a.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM (
			SELECT book_id, borrower_id FROM loans
			WHERE NOT return_approved
			GROUP BY book_id, borrower_id
			HAVING COUNT(*) > 1
		) AS duplicates
	`)
	if err != nil {
		return 0, fmt.Errorf("count duplicate open loans: %w", err)
	}
	return n, nil
}

func (a *PostgresAuditor) VersionDrift(ctx context.Context) (int, error) {
	var n int
	err := a.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM (
			SELECT id, version FROM loans
			UNION ALL
			SELECT id, version FROM books
		) AS a
		WHERE a.version <> (
			SELECT COALESCE(MAX(e.version), 0) FROM events e WHERE e.aggregate_id = a.id
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("count version drift: %w", err)
	}
	return n, nil
}
