// internal/catalog/service.go
package catalog

import (
	"context"
	"io"

	"github.com/google/uuid"

	"booknet/internal/identity"
	"booknet/internal/paging"
)

// Service defines the interface for the catalog service.
type Service interface {
	Create(ctx context.Context, caller identity.Identity, req BookRequest) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*BookResponse, error)
	ListDisplayable(ctx context.Context, caller identity.Identity, page paging.Request) (paging.Response[BookResponse], error)
	ListByOwner(ctx context.Context, caller identity.Identity, page paging.Request) (paging.Response[BookResponse], error)
	ToggleShareable(ctx context.Context, caller identity.Identity, id uuid.UUID) (uuid.UUID, error)
	ToggleArchived(ctx context.Context, caller identity.Identity, id uuid.UUID) (uuid.UUID, error)
	UploadCover(ctx context.Context, caller identity.Identity, id uuid.UUID, filename string, r io.Reader) error
	Cover(ctx context.Context, id uuid.UUID) (io.ReadCloser, error)
}

// Repository persists books. FindByID fails with apperr NotFound and Update
// with apperr Conflict when the stored version moved.
type Repository interface {
	Insert(ctx context.Context, b *Book) error
	FindByID(ctx context.Context, id uuid.UUID) (*Book, error)
	Update(ctx context.Context, b *Book, eventType string, actor uuid.UUID) error
	ListDisplayable(ctx context.Context, viewer uuid.UUID, page paging.Request) ([]Book, int64, error)
	ListByOwner(ctx context.Context, owner uuid.UUID, page paging.Request) ([]Book, int64, error)
}

// BlobStore keeps cover images.
type BlobStore interface {
	Save(ctx context.Context, ownerID uuid.UUID, filename string, r io.Reader) (string, error)
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
	Remove(ctx context.Context, handle string) error
}
