// Package memstore provides in-memory repositories with the same contract
// as the PostgreSQL ones, for service and HTTP tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"booknet/internal/apperr"
	"booknet/internal/catalog"
	"booknet/internal/circulation"
	"booknet/internal/eventstore"
	"booknet/internal/membership"
	"booknet/internal/paging"
)

// Store holds every table. Books, Loans and Users are views over it.
type Store struct {
	mu     sync.Mutex
	users  map[uuid.UUID]membership.User
	tokens map[string]membership.ActivationToken
	books  map[uuid.UUID]catalog.Book
	loans  map[uuid.UUID]circulation.Loan
	events map[uuid.UUID][]eventstore.Event
	seq    int64
}

func New() *Store {
	return &Store{
		users:  make(map[uuid.UUID]membership.User),
		tokens: make(map[string]membership.ActivationToken),
		books:  make(map[uuid.UUID]catalog.Book),
		loans:  make(map[uuid.UUID]circulation.Loan),
		events: make(map[uuid.UUID][]eventstore.Event),
	}
}

func (s *Store) Books() *Books { return &Books{s} }
func (s *Store) Loans() *Loans { return &Loans{s} }
func (s *Store) Users() *Users { return &Users{s} }

// appendEvent must be called with mu held.
func (s *Store) appendEvent(aggregateID uuid.UUID, aggregateType, eventType string, data any, actor uuid.UUID) error {
	event, err := eventstore.NewEvent(eventType, data, map[string]string{"actor": actor.String()})
	if err != nil {
		return err
	}
	s.seq++
	event.ID = s.seq
	event.AggregateID = aggregateID
	event.AggregateType = aggregateType
	event.Version = len(s.events[aggregateID]) + 1
	event.CreatedAt = time.Now().UTC()
	s.events[aggregateID] = append(s.events[aggregateID], event)
	return nil
}

// Events returns a copy of the recorded events of an aggregate.
func (s *Store) Events(aggregateID uuid.UUID) []eventstore.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]eventstore.Event(nil), s.events[aggregateID]...)
}

func page[T any](items []T, req paging.Request) ([]T, int64) {
	total := int64(len(items))
	start := req.Offset()
	if start >= len(items) {
		return nil, total
	}
	end := start + req.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], total
}

// Books implements catalog.Repository and circulation.BookFinder.
type Books struct{ s *Store }

func (b *Books) Insert(_ context.Context, book *catalog.Book) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	if _, ok := b.s.books[book.ID]; ok {
		return apperr.Conflict("book already exists")
	}
	book.Version = 1
	b.s.books[book.ID] = *book
	return b.s.appendEvent(book.ID, eventstore.AggregateBook, catalog.EventBookAdded, changed(book), book.OwnerID)
}

func (b *Books) FindByID(_ context.Context, id uuid.UUID) (*catalog.Book, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	book, ok := b.s.books[id]
	if !ok {
		return nil, apperr.NotFound("No book found with ID %s", id)
	}
	book.OwnerName = b.s.ownerName(book.OwnerID, book.OwnerName)
	return &book, nil
}

func (b *Books) Update(_ context.Context, book *catalog.Book, eventType string, actor uuid.UUID) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	stored, ok := b.s.books[book.ID]
	if !ok {
		return apperr.NotFound("No book found with ID %s", book.ID)
	}
	if stored.Version != book.Version {
		return apperr.Conflict("book was modified concurrently")
	}
	stored.Shareable = book.Shareable
	stored.Archived = book.Archived
	stored.Cover = book.Cover
	stored.Version++
	b.s.books[book.ID] = stored
	book.Version = stored.Version
	return b.s.appendEvent(book.ID, eventstore.AggregateBook, eventType, changed(book), actor)
}

func (b *Books) ListDisplayable(_ context.Context, viewer uuid.UUID, req paging.Request) ([]catalog.Book, int64, error) {
	match := func(book catalog.Book) bool { return book.Borrowable() && book.OwnerID != viewer }
	return b.list(req, match), b.count(match), nil
}

func (b *Books) ListByOwner(_ context.Context, owner uuid.UUID, req paging.Request) ([]catalog.Book, int64, error) {
	match := func(book catalog.Book) bool { return book.OwnerID == owner }
	return b.list(req, match), b.count(match), nil
}

func (b *Books) list(req paging.Request, match func(catalog.Book) bool) []catalog.Book {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	var out []catalog.Book
	for _, book := range b.s.books {
		if match(book) {
			book.OwnerName = b.s.ownerName(book.OwnerID, book.OwnerName)
			out = append(out, book)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	items, _ := page(out, req)
	return items
}

func (b *Books) count(match func(catalog.Book) bool) int64 {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	var n int64
	for _, book := range b.s.books {
		if match(book) {
			n++
		}
	}
	return n
}

// ownerName must be called with mu held.
func (s *Store) ownerName(ownerID uuid.UUID, fallback string) string {
	if u, ok := s.users[ownerID]; ok {
		return u.FullName()
	}
	return fallback
}

func changed(b *catalog.Book) catalog.BookChangedEvent {
	return catalog.BookChangedEvent{
		ID:        b.ID,
		OwnerID:   b.OwnerID,
		Shareable: b.Shareable,
		Archived:  b.Archived,
		Cover:     b.Cover,
	}
}

// Loans implements circulation.Repository.
type Loans struct{ s *Store }

func (l *Loans) HasOpenLoan(_ context.Context, bookID, borrowerID uuid.UUID) (bool, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.openLoan(bookID, borrowerID), nil
}

// openLoan must be called with mu held.
func (s *Store) openLoan(bookID, borrowerID uuid.UUID) bool {
	for _, loan := range s.loans {
		if loan.BookID == bookID && loan.BorrowerID == borrowerID && loan.Open() {
			return true
		}
	}
	return false
}

func (l *Loans) FindByID(_ context.Context, id uuid.UUID) (*circulation.Loan, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	loan, ok := l.s.loans[id]
	if !ok {
		return nil, apperr.NotFound("no matching loan")
	}
	return &loan, nil
}

func (l *Loans) FindBorrowed(_ context.Context, bookID, borrowerID uuid.UUID) (*circulation.Loan, error) {
	return l.first(func(loan circulation.Loan) bool {
		return loan.BookID == bookID && loan.BorrowerID == borrowerID && loan.State() == circulation.StateBorrowed
	})
}

func (l *Loans) FindReturned(_ context.Context, bookID uuid.UUID) (*circulation.Loan, error) {
	return l.first(func(loan circulation.Loan) bool {
		return loan.BookID == bookID && loan.State() == circulation.StateReturned
	})
}

func (l *Loans) first(match func(circulation.Loan) bool) (*circulation.Loan, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	var found *circulation.Loan
	for _, loan := range l.s.loans {
		if !match(loan) {
			continue
		}
		if found == nil || loan.CreatedAt.Before(found.CreatedAt) {
			loan := loan
			found = &loan
		}
	}
	if found == nil {
		return nil, apperr.NotFound("no matching loan")
	}
	return found, nil
}

func (l *Loans) Create(_ context.Context, loan *circulation.Loan, actor uuid.UUID) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if l.s.openLoan(loan.BookID, loan.BorrowerID) {
		return apperr.Conflict("The requested book is already borrowed")
	}
	loan.Version = 1
	l.s.loans[loan.ID] = *loan
	return l.s.appendEvent(loan.ID, eventstore.AggregateLoan, circulation.EventBookBorrowed, loanEvent(loan), actor)
}

func (l *Loans) Update(_ context.Context, loan *circulation.Loan, eventType string, actor uuid.UUID) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	stored, ok := l.s.loans[loan.ID]
	if !ok {
		return apperr.NotFound("no matching loan")
	}
	if stored.Version != loan.Version {
		return apperr.Conflict("loan was modified concurrently")
	}
	loan.Version++
	l.s.loans[loan.ID] = *loan
	return l.s.appendEvent(loan.ID, eventstore.AggregateLoan, eventType, loanEvent(loan), actor)
}

func (l *Loans) ListBorrowed(_ context.Context, borrowerID uuid.UUID, req paging.Request) ([]circulation.BorrowedBook, int64, error) {
	items, total := l.list(req, func(loan circulation.Loan, _ catalog.Book) bool { return loan.BorrowerID == borrowerID })
	return items, total, nil
}

func (l *Loans) ListReturned(_ context.Context, ownerID uuid.UUID, req paging.Request) ([]circulation.BorrowedBook, int64, error) {
	items, total := l.list(req, func(_ circulation.Loan, book catalog.Book) bool { return book.OwnerID == ownerID })
	return items, total, nil
}

func (l *Loans) list(req paging.Request, match func(circulation.Loan, catalog.Book) bool) ([]circulation.BorrowedBook, int64) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	var out []circulation.BorrowedBook
	for _, loan := range l.s.loans {
		book := l.s.books[loan.BookID]
		if !match(loan, book) {
			continue
		}
		out = append(out, circulation.BorrowedBook{
			LoanID:         loan.ID,
			BookID:         loan.BookID,
			Title:          book.Title,
			AuthorName:     book.AuthorName,
			ISBN:           book.ISBN,
			Returned:       loan.Returned,
			ReturnApproved: loan.ReturnApproved,
			CreatedAt:      loan.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].LoanID.String() > out[j].LoanID.String()
	})
	return page(out, req)
}

func (l *Loans) History(_ context.Context, loanID uuid.UUID) ([]eventstore.Event, error) {
	return l.s.Events(loanID), nil
}

func loanEvent(l *circulation.Loan) circulation.LoanEvent {
	return circulation.LoanEvent{
		LoanID:     l.ID,
		BookID:     l.BookID,
		BorrowerID: l.BorrowerID,
		State:      l.State(),
	}
}

// Users implements membership.Repository.
type Users struct{ s *Store }

func (u *Users) CreateUser(_ context.Context, user *membership.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	for _, existing := range u.s.users {
		if existing.Email == user.Email {
			return apperr.Conflict("An account with this email already exists")
		}
	}
	u.s.users[user.ID] = *user
	return nil
}

func (u *Users) FindUserByEmail(_ context.Context, email string) (*membership.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	for _, user := range u.s.users {
		if user.Email == email {
			return &user, nil
		}
	}
	return nil, apperr.NotFound("user not found")
}

func (u *Users) FindUserByID(_ context.Context, id uuid.UUID) (*membership.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	user, ok := u.s.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return &user, nil
}

func (u *Users) SaveToken(_ context.Context, t *membership.ActivationToken) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	if _, ok := u.s.tokens[t.Code]; ok {
		return apperr.Conflict("activation code already in use")
	}
	u.s.tokens[t.Code] = *t
	return nil
}

func (u *Users) FindToken(_ context.Context, code string) (*membership.ActivationToken, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	t, ok := u.s.tokens[code]
	if !ok {
		return nil, apperr.NotFound("activation code not found")
	}
	return &t, nil
}

func (u *Users) DeleteUser(_ context.Context, id uuid.UUID) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	delete(u.s.users, id)
	for code, t := range u.s.tokens {
		if t.UserID == id {
			delete(u.s.tokens, code)
		}
	}
	return nil
}

func (u *Users) DeleteToken(_ context.Context, code string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	delete(u.s.tokens, code)
	return nil
}

func (u *Users) ActivateUser(_ context.Context, userID uuid.UUID, code string, at time.Time) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	t, ok := u.s.tokens[code]
	if !ok || t.ValidatedAt != nil {
		return apperr.Invalid("Activation code was already used")
	}
	user, ok := u.s.users[userID]
	if !ok {
		return apperr.NotFound("user not found")
	}
	user.Enabled = true
	u.s.users[userID] = user
	t.ValidatedAt = &at
	u.s.tokens[code] = t
	return nil
}

// Tokens returns the activation codes issued to userID.
func (u *Users) Tokens(userID uuid.UUID) []membership.ActivationToken {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	var out []membership.ActivationToken
	for _, t := range u.s.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// PutUser stores a user directly, bypassing registration.
func (u *Users) PutUser(user membership.User) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	u.s.users[user.ID] = user
}

// PutToken stores an activation code directly.
func (u *Users) PutToken(t membership.ActivationToken) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	u.s.tokens[t.Code] = t
}

var (
	_ catalog.Repository     = (*Books)(nil)
	_ circulation.BookFinder = (*Books)(nil)
	_ circulation.Repository = (*Loans)(nil)
	_ membership.Repository  = (*Users)(nil)
)

// DuplicateOpenLoans counts (book, borrower) pairs holding more than one
// loan whose return is not approved.
func (s *Store) DuplicateOpenLoans(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type pair struct{ book, borrower uuid.UUID }
	open := make(map[pair]int)
	for _, l := range s.loans {
		if !l.ReturnApproved {
			open[pair{l.BookID, l.BorrowerID}]++
		}
	}
	n := 0
	for _, c := range open {
		if c > 1 {
			n++
		}
	}
	return n, nil
}

// VersionDrift counts books and loans whose version differs from their
// number of recorded events.
func (s *Store) VersionDrift(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, b := range s.books {
		if b.Version != len(s.events[id]) {
			n++
		}
	}
	for id, l := range s.loans {
		if l.Version != len(s.events[id]) {
			n++
		}
	}
	return n, nil
}
