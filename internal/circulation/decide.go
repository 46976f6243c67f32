// internal/circulation/decide.go
package circulation

import (
	"booknet/internal/apperr"
	"booknet/internal/catalog"
	"booknet/internal/identity"
)

// Transition rules. Each function sees only the facts the service loaded
// and answers with the typed failure of the first unmet precondition.

func decideBorrow(book *catalog.Book, caller identity.Identity, hasOpenLoan bool) error {
	if !book.Borrowable() {
		return apperr.PermissionDenied("The requested book cannot be borrowed since it is archived or not shareable")
	}
	if caller.Owns(book.OwnerID) {
		return apperr.PermissionDenied("You cannot borrow your own book")
	}
	if hasOpenLoan {
		return apperr.Conflict("The requested book is already borrowed")
	}
	return nil
}

// decideReturn checks a return by the borrower. loan is the caller's open,
// not yet returned loan of the book, or nil.
func decideReturn(book *catalog.Book, caller identity.Identity, loan *Loan) error {
	if !book.Borrowable() {
		return apperr.PermissionDenied("The requested book is archived or not shareable")
	}
	if caller.Owns(book.OwnerID) {
		return apperr.PermissionDenied("You cannot borrow or return your own book")
	}
	if loan == nil || loan.State() != StateBorrowed || loan.BorrowerID != caller.UserID {
		return apperr.PermissionDenied("You did not borrow this book")
	}
	return nil
}

// decideApprove checks an approval by the owner. loan is a returned but not
// yet approved loan of the book, or nil.
func decideApprove(book *catalog.Book, caller identity.Identity, loan *Loan) error {
	if !book.Borrowable() {
		return apperr.PermissionDenied("The requested book is archived or not shareable")
	}
	if !caller.Owns(book.OwnerID) {
		return apperr.PermissionDenied("You cannot approve the return of a book you do not own")
	}
	if loan == nil || loan.State() != StateReturned {
		return apperr.PermissionDenied("The book is not returned yet. You cannot approve its return")
	}
	return nil
}
