// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"booknet/internal/catalog"
	"booknet/internal/eventstore"
	"booknet/internal/identity"
	"booknet/internal/paging"
)

// Service defines the interface for the circulation service.
type Service interface {
	Borrow(ctx context.Context, caller identity.Identity, bookID uuid.UUID) (uuid.UUID, error)
	Return(ctx context.Context, caller identity.Identity, bookID uuid.UUID) (uuid.UUID, error)
	ApproveReturn(ctx context.Context, caller identity.Identity, bookID uuid.UUID) (uuid.UUID, error)
	ListBorrowed(ctx context.Context, caller identity.Identity, page paging.Request) (paging.Response[BorrowedBookResponse], error)
	ListReturned(ctx context.Context, caller identity.Identity, page paging.Request) (paging.Response[BorrowedBookResponse], error)
	History(ctx context.Context, caller identity.Identity, loanID uuid.UUID) ([]HistoryEntry, error)
}

// Repository persists loans.
//
// FindBorrowed and FindReturned fail with apperr NotFound when no loan
// matches. Create fails with apperr Conflict when the borrower already holds
// an open loan of the book; Update does the same when the stored version
// moved.
type Repository interface {
	HasOpenLoan(ctx context.Context, bookID, borrowerID uuid.UUID) (bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Loan, error)
	FindBorrowed(ctx context.Context, bookID, borrowerID uuid.UUID) (*Loan, error)
	FindReturned(ctx context.Context, bookID uuid.UUID) (*Loan, error)
	Create(ctx context.Context, l *Loan, actor uuid.UUID) error
	Update(ctx context.Context, l *Loan, eventType string, actor uuid.UUID) error
	ListBorrowed(ctx context.Context, borrowerID uuid.UUID, page paging.Request) ([]BorrowedBook, int64, error)
	ListReturned(ctx context.Context, ownerID uuid.UUID, page paging.Request) ([]BorrowedBook, int64, error)
	History(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error)
}

// BookFinder loads the book a loan refers to.
type BookFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*catalog.Book, error)
}
