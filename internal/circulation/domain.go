// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"
)

// State is the position of a loan in its lifecycle.
type State string

const (
	StateBorrowed State = "BORROWED"
	StateReturned State = "RETURNED"
	StateClosed   State = "CLOSED"
)

// Loan records one borrowing of a book.
type Loan struct {
	ID             uuid.UUID `db:"id"`
	BookID         uuid.UUID `db:"book_id"`
	BorrowerID     uuid.UUID `db:"borrower_id"`
	Returned       bool      `db:"returned"`
	ReturnApproved bool      `db:"return_approved"`
	Version        int       `db:"version"`
	CreatedAt      time.Time `db:"created_at"`
}

// State derives the lifecycle position from the two flags.
func (l *Loan) State() State {
	switch {
	case l.ReturnApproved:
		return StateClosed
	case l.Returned:
		return StateReturned
	default:
		return StateBorrowed
	}
}

// Open reports whether the owner has not yet approved the return.
func (l *Loan) Open() bool {
	return !l.ReturnApproved
}

// BorrowedBook is a loan joined with the book it refers to.
type BorrowedBook struct {
	LoanID         uuid.UUID `db:"loan_id"`
	BookID         uuid.UUID `db:"book_id"`
	Title          string    `db:"title"`
	AuthorName     string    `db:"author_name"`
	ISBN           string    `db:"isbn"`
	Returned       bool      `db:"returned"`
	ReturnApproved bool      `db:"return_approved"`
	CreatedAt      time.Time `db:"created_at"`
}

// BorrowedBookResponse is the public view of a loan.
type BorrowedBookResponse struct {
	LoanID         uuid.UUID `json:"loan_id"`
	BookID         uuid.UUID `json:"book_id"`
	Title          string    `json:"title"`
	AuthorName     string    `json:"author_name"`
	ISBN           string    `json:"isbn"`
	Returned       bool      `json:"returned"`
	ReturnApproved bool      `json:"return_approved"`
}

func ToResponse(b BorrowedBook) BorrowedBookResponse {
	return BorrowedBookResponse{
		LoanID:         b.LoanID,
		BookID:         b.BookID,
		Title:          b.Title,
		AuthorName:     b.AuthorName,
		ISBN:           b.ISBN,
		Returned:       b.Returned,
		ReturnApproved: b.ReturnApproved,
	}
}

// Event types recorded for loans.
const (
	EventBookBorrowed   = "BookBorrowed"
	EventBookReturned   = "BookReturned"
	EventReturnApproved = "ReturnApproved"
)

// LoanEvent is the payload of every loan event.
type LoanEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	BookID     uuid.UUID `json:"book_id"`
	BorrowerID uuid.UUID `json:"borrower_id"`
	State      State     `json:"state"`
}

// HistoryEntry is one step in the life of a loan.
type HistoryEntry struct {
	Version   int       `json:"version"`
	EventType string    `json:"event_type"`
	State     State     `json:"state"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
