// internal/catalog/domain.go
package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"booknet/internal/apperr"
)

// Book is a title listed by its owner.
type Book struct {
	ID         uuid.UUID `db:"id"`
	Title      string    `db:"title"`
	AuthorName string    `db:"author_name"`
	ISBN       string    `db:"isbn"`
	Synopsis   string    `db:"synopsis"`
	OwnerID    uuid.UUID `db:"owner_id"`
	OwnerName  string    `db:"owner_name"`
	Shareable  bool      `db:"shareable"`
	Archived   bool      `db:"archived"`
	Cover      string    `db:"cover"`
	Version    int       `db:"version"`
	CreatedAt  time.Time `db:"created_at"`
}

// Borrowable reports whether others may borrow or return the book.
func (b *Book) Borrowable() bool {
	return b.Shareable && !b.Archived
}

// BookRequest is the payload for listing a new book.
type BookRequest struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
	ISBN       string `json:"isbn"`
	Synopsis   string `json:"synopsis"`
	Shareable  bool   `json:"shareable"`
}

// Validate trims the request and rejects missing fields.
func (r *BookRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	r.AuthorName = strings.TrimSpace(r.AuthorName)
	r.ISBN = strings.TrimSpace(r.ISBN)
	r.Synopsis = strings.TrimSpace(r.Synopsis)

	switch {
	case r.Title == "":
		return apperr.Invalid("title is required")
	case r.AuthorName == "":
		return apperr.Invalid("author name is required")
	case r.ISBN == "":
		return apperr.Invalid("isbn is required")
	}
	return nil
}

// BookResponse is the public view of a book.
type BookResponse struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	AuthorName string    `json:"author_name"`
	ISBN       string    `json:"isbn"`
	Synopsis   string    `json:"synopsis"`
	OwnerID    uuid.UUID `json:"owner_id"`
	Owner      string    `json:"owner"`
	Shareable  bool      `json:"shareable"`
	Archived   bool      `json:"archived"`
	HasCover   bool      `json:"has_cover"`
	CreatedAt  time.Time `json:"created_at"`
}

// ToResponse maps a book to its public view.
func ToResponse(b Book) BookResponse {
	return BookResponse{
		ID:         b.ID,
		Title:      b.Title,
		AuthorName: b.AuthorName,
		ISBN:       b.ISBN,
		Synopsis:   b.Synopsis,
		OwnerID:    b.OwnerID,
		Owner:      b.OwnerName,
		Shareable:  b.Shareable,
		Archived:   b.Archived,
		HasCover:   b.Cover != "",
		CreatedAt:  b.CreatedAt,
	}
}

// Event types recorded for books.
const (
	EventBookAdded        = "BookAdded"
	EventShareableToggled = "ShareableToggled"
	EventArchivedToggled  = "ArchivedToggled"
	EventCoverAttached    = "CoverAttached"
)

// BookChangedEvent is the payload of every book event.
type BookChangedEvent struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Shareable bool      `json:"shareable"`
	Archived  bool      `json:"archived"`
	Cover     string    `json:"cover,omitempty"`
}
