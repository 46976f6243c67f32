// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"booknet/internal/apperr"
	"booknet/internal/identity"
	"booknet/internal/paging"
)

// service implements the Service interface.
type service struct {
	repo   Repository
	blobs  BlobStore
	log    *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(repo Repository, blobs BlobStore, log *zap.Logger) Service {
	return &service{
		repo:   repo,
		blobs:  blobs,
		log:    log,
		tracer: otel.Tracer("booknet/catalog"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) start(ctx context.Context, op string, caller identity.Identity, bookID uuid.UUID) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("caller.id", caller.UserID.String())}
	if bookID != uuid.Nil {
		attrs = append(attrs, attribute.String("book.id", bookID.String()))
	}
	return s.tracer.Start(ctx, "catalog."+op, trace.WithAttributes(attrs...))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Create lists a new book owned by the caller.
func (s *service) Create(ctx context.Context, caller identity.Identity, req BookRequest) (id uuid.UUID, err error) {
	ctx, span := s.start(ctx, "create", caller, uuid.Nil)
	defer func() { end(span, err) }()

	if err := req.Validate(); err != nil {
		return uuid.Nil, err
	}

	book := &Book{
		ID:         uuid.New(),
		Title:      req.Title,
		AuthorName: req.AuthorName,
		ISBN:       req.ISBN,
		Synopsis:   req.Synopsis,
		OwnerID:    caller.UserID,
		OwnerName:  caller.FullName,
		Shareable:  req.Shareable,
		CreatedAt:  s.now(),
	}
	if err := s.repo.Insert(ctx, book); err != nil {
		return uuid.Nil, fmt.Errorf("failed to save book: %w", err)
	}

	s.log.Info("book created", zap.Stringer("book_id", book.ID), zap.Stringer("owner_id", caller.UserID))
	return book.ID, nil
}

// Get returns a single book.
func (s *service) Get(ctx context.Context, id uuid.UUID) (*BookResponse, error) {
	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToResponse(*book)
	return &resp, nil
}

// ListDisplayable returns borrowable books owned by someone else.
func (s *service) ListDisplayable(ctx context.Context, caller identity.Identity, page paging.Request) (paging.Response[BookResponse], error) {
	if err := page.Validate(); err != nil {
		return paging.Response[BookResponse]{}, err
	}
	books, total, err := s.repo.ListDisplayable(ctx, caller.UserID, page)
	if err != nil {
		return paging.Response[BookResponse]{}, fmt.Errorf("failed to list displayable books: %w", err)
	}
	return paging.Map(paging.New(books, page, total), ToResponse), nil
}

// ListByOwner returns the caller's own books.
func (s *service) ListByOwner(ctx context.Context, caller identity.Identity, page paging.Request) (paging.Response[BookResponse], error) {
	if err := page.Validate(); err != nil {
		return paging.Response[BookResponse]{}, err
	}
	books, total, err := s.repo.ListByOwner(ctx, caller.UserID, page)
	if err != nil {
		return paging.Response[BookResponse]{}, fmt.Errorf("failed to list owned books: %w", err)
	}
	return paging.Map(paging.New(books, page, total), ToResponse), nil
}

// ToggleShareable flips the shareable flag of one of the caller's books.
func (s *service) ToggleShareable(ctx context.Context, caller identity.Identity, id uuid.UUID) (_ uuid.UUID, err error) {
	ctx, span := s.start(ctx, "toggle_shareable", caller, id)
	defer func() { end(span, err) }()

	book, err := s.ownedBook(ctx, caller, id, "You cannot update others books shareable status")
	if err != nil {
		return uuid.Nil, err
	}
	book.Shareable = !book.Shareable
	if err := s.repo.Update(ctx, book, EventShareableToggled, caller.UserID); err != nil {
		return uuid.Nil, fmt.Errorf("failed to update shareable status: %w", err)
	}

	s.log.Info("book shareable toggled", zap.Stringer("book_id", id), zap.Bool("shareable", book.Shareable))
	return id, nil
}

// ToggleArchived flips the archived flag of one of the caller's books.
func (s *service) ToggleArchived(ctx context.Context, caller identity.Identity, id uuid.UUID) (_ uuid.UUID, err error) {
	ctx, span := s.start(ctx, "toggle_archived", caller, id)
	defer func() { end(span, err) }()

	book, err := s.ownedBook(ctx, caller, id, "You cannot update others books archived status")
	if err != nil {
		return uuid.Nil, err
	}
	book.Archived = !book.Archived
	if err := s.repo.Update(ctx, book, EventArchivedToggled, caller.UserID); err != nil {
		return uuid.Nil, fmt.Errorf("failed to update archived status: %w", err)
	}

	s.log.Info("book archived toggled", zap.Stringer("book_id", id), zap.Bool("archived", book.Archived))
	return id, nil
}

// UploadCover stores a cover image and attaches it to the book.
func (s *service) UploadCover(ctx context.Context, caller identity.Identity, id uuid.UUID, filename string, r io.Reader) (err error) {
	ctx, span := s.start(ctx, "upload_cover", caller, id)
	defer func() { end(span, err) }()

	book, err := s.ownedBook(ctx, caller, id, "You cannot upload a cover for others books")
	if err != nil {
		return err
	}

	handle, err := s.blobs.Save(ctx, caller.UserID, filename, r)
	if err != nil {
		return err
	}
	book.Cover = handle
	if err := s.repo.Update(ctx, book, EventCoverAttached, caller.UserID); err != nil {
		if rmErr := s.blobs.Remove(ctx, handle); rmErr != nil {
			s.log.Warn("failed to remove unattached cover", zap.String("handle", handle), zap.Error(rmErr))
		}
		return fmt.Errorf("failed to attach cover: %w", err)
	}
	return nil
}

// Cover opens the stored cover of a book.
func (s *service) Cover(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if book.Cover == "" {
		return nil, apperr.NotFound("book %s has no cover", id)
	}
	return s.blobs.Open(ctx, book.Cover)
}

func (s *service) ownedBook(ctx context.Context, caller identity.Identity, id uuid.UUID, deny string) (*Book, error) {
	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.Owns(book.OwnerID) {
		return nil, apperr.PermissionDenied(deny)
	}
	return book, nil
}
