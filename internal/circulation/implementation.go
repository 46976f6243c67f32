// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"booknet/internal/apperr"
	"booknet/internal/identity"
	"booknet/internal/paging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	transitionBorrow  = "borrow"
	transitionReturn  = "return"
	transitionApprove = "approve"
)

// service implements the Service interface.
type service struct {
	loans       Repository
	books       BookFinder
	log         *zap.Logger
	tracer      trace.Tracer
	transitions metric.Int64Counter
	now         func() time.Time
}

// NewService creates a new circulation service instance.
func NewService(loans Repository, books BookFinder, log *zap.Logger) Service {
	s := &service{
		loans:  loans,
		books:  books,
		log:    log,
		tracer: otel.Tracer("booknet/circulation"),
		now:    func() time.Time { return time.Now().UTC() },
	}

	counter, err := otel.Meter("booknet/circulation").Int64Counter(
		"booknet.loan.transitions",
		metric.WithDescription("Loan state transitions by outcome"),
	)
	if err != nil {
		log.Warn("failed to create loan transition counter", zap.Error(err))
	}
	s.transitions = counter
	return s
}

// Borrow opens a loan of bookID for the caller.
func (s *service) Borrow(ctx context.Context, caller identity.Identity, bookID uuid.UUID) (loanID uuid.UUID, err error) {
	ctx, span := s.start(ctx, transitionBorrow, caller, bookID)
	defer func() { s.finish(ctx, span, transitionBorrow, err) }()

	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		return uuid.Nil, err
	}
	// The ownership and flag checks come before the loan lookup.
	if err := decideBorrow(book, caller, false); err != nil {
		return uuid.Nil, err
	}
	open, err := s.loans.HasOpenLoan(ctx, bookID, caller.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to check open loans: %w", err)
	}
	if err := decideBorrow(book, caller, open); err != nil {
		return uuid.Nil, err
	}

	loan := &Loan{
		ID:         uuid.New(),
		BookID:     bookID,
		BorrowerID: caller.UserID,
		CreatedAt:  s.now(),
	}
	if err := s.loans.Create(ctx, loan, caller.UserID); err != nil {
		return uuid.Nil, err
	}

	s.log.Info("book borrowed",
		zap.Stringer("loan_id", loan.ID),
		zap.Stringer("book_id", bookID),
		zap.Stringer("borrower_id", caller.UserID),
	)
	return loan.ID, nil
}

// Return marks the caller's current loan of bookID as returned.
func (s *service) Return(ctx context.Context, caller identity.Identity, bookID uuid.UUID) (loanID uuid.UUID, err error) {
	ctx, span := s.start(ctx, transitionReturn, caller, bookID)
	defer func() { s.finish(ctx, span, transitionReturn, err) }()

	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		return uuid.Nil, err
	}
	loan, err := s.lookup(s.loans.FindBorrowed(ctx, bookID, caller.UserID))
	if err != nil {
		return uuid.Nil, err
	}
	if err := decideReturn(book, caller, loan); err != nil {
		return uuid.Nil, err
	}

	loan.Returned = true
	if err := s.loans.Update(ctx, loan, EventBookReturned, caller.UserID); err != nil {
		return uuid.Nil, err
	}

	s.log.Info("book returned", zap.Stringer("loan_id", loan.ID), zap.Stringer("book_id", bookID))
	return loan.ID, nil
}

// ApproveReturn closes a returned loan of one of the caller's books.
func (s *service) ApproveReturn(ctx context.Context, caller identity.Identity, bookID uuid.UUID) (loanID uuid.UUID, err error) {
	ctx, span := s.start(ctx, transitionApprove, caller, bookID)
	defer func() { s.finish(ctx, span, transitionApprove, err) }()

	book, err := s.books.FindByID(ctx, bookID)
	if err != nil {
		return uuid.Nil, err
	}
	loan, err := s.lookup(s.loans.FindReturned(ctx, bookID))
	if err != nil {
		return uuid.Nil, err
	}
	if err := decideApprove(book, caller, loan); err != nil {
		return uuid.Nil, err
	}

	loan.ReturnApproved = true
	if err := s.loans.Update(ctx, loan, EventReturnApproved, caller.UserID); err != nil {
		return uuid.Nil, err
	}

	s.log.Info("return approved", zap.Stringer("loan_id", loan.ID), zap.Stringer("book_id", bookID))
	return loan.ID, nil
}

// ListBorrowed pages through the caller's loans.
func (s *service) ListBorrowed(ctx context.Context, caller identity.Identity, page paging.Request) (paging.Response[BorrowedBookResponse], error) {
	if err := page.Validate(); err != nil {
		return paging.Response[BorrowedBookResponse]{}, err
	}
	rows, total, err := s.loans.ListBorrowed(ctx, caller.UserID, page)
	if err != nil {
		return paging.Response[BorrowedBookResponse]{}, fmt.Errorf("failed to list borrowed books: %w", err)
	}
	return paging.Map(paging.New(rows, page, total), ToResponse), nil
}

// ListReturned pages through loans of books the caller owns.
func (s *service) ListReturned(ctx context.Context, caller identity.Identity, page paging.Request) (paging.Response[BorrowedBookResponse], error) {
	if err := page.Validate(); err != nil {
		return paging.Response[BorrowedBookResponse]{}, err
	}
	rows, total, err := s.loans.ListReturned(ctx, caller.UserID, page)
	if err != nil {
		return paging.Response[BorrowedBookResponse]{}, fmt.Errorf("failed to list returned books: %w", err)
	}
	return paging.Map(paging.New(rows, page, total), ToResponse), nil
}

// History returns the recorded transitions of a loan. Only the borrower and
// the book owner may read it.
func (s *service) History(ctx context.Context, caller identity.Identity, loanID uuid.UUID) ([]HistoryEntry, error) {
	loan, err := s.loans.FindByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	book, err := s.books.FindByID(ctx, loan.BookID)
	if err != nil {
		return nil, err
	}
	if loan.BorrowerID != caller.UserID && !caller.Owns(book.OwnerID) {
		return nil, apperr.PermissionDenied("You cannot view the history of this loan")
	}

	events, err := s.loans.History(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(events))
	for _, e := range events {
		var data LoanEvent
		if err := json.Unmarshal(e.EventData, &data); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", e.EventType, err)
		}
		entries = append(entries, HistoryEntry{
			Version:   e.Version,
			EventType: e.EventType,
			State:     data.State,
			Actor:     e.Metadata["actor"],
			CreatedAt: e.CreatedAt,
		})
	}
	return entries, nil
}

// lookup turns a NotFound from the repository into a nil loan so the
// decide functions report the precondition failure.
func (s *service) lookup(loan *Loan, err error) (*Loan, error) {
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load loan: %w", err)
	}
	return loan, nil
}

func (s *service) start(ctx context.Context, transition string, caller identity.Identity, bookID uuid.UUID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "circulation."+transition, trace.WithAttributes(
		attribute.String("caller.id", caller.UserID.String()),
		attribute.String("book.id", bookID.String()),
	))
}

func (s *service) finish(ctx context.Context, span trace.Span, transition string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("loan transition rejected",
			zap.String("transition", transition),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
	}
	if s.transitions != nil {
		s.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("transition", transition),
			attribute.String("outcome", outcome),
		))
	}
	span.End()
}
