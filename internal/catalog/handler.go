// internal/catalog/handler.go
package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"booknet/internal/apperr"
	"booknet/internal/httpio"
	"booknet/internal/identity"
	"booknet/internal/paging"
)

type Handler struct {
	service       Service
	log           *zap.Logger
	maxCoverBytes int64
}

func NewHandler(service Service, log *zap.Logger, maxCoverBytes int64) *Handler {
	return &Handler{service: service, log: log, maxCoverBytes: maxCoverBytes}
}

// Routes mounts the book endpoints. The router is expected to sit behind the
// bearer middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/books", h.handleCreate)
	r.Get("/books", h.handleListDisplayable)
	r.Get("/books/owner", h.handleListByOwner)
	r.Get("/books/{id}", h.handleGet)
	r.Patch("/books/shareable/{id}", h.handleToggleShareable)
	r.Patch("/books/archived/{id}", h.handleToggleArchived)
	r.Post("/books/cover/{id}", h.handleUploadCover)
	r.Get("/books/cover/{id}", h.handleCover)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller, err := httpio.Caller(r)
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	var req BookRequest
	if err := httpio.Decode(r, &req); err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	id, err := h.service.Create(r.Context(), caller, req)
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	httpio.JSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpio.PathUUID(r, "id")
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	book, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	httpio.JSON(w, http.StatusOK, book)
}

func (h *Handler) handleListDisplayable(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.ListDisplayable)
}

func (h *Handler) handleListByOwner(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.ListByOwner)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context, caller identity.Identity, page paging.Request) (paging.Response[BookResponse], error)) {
	caller, err := httpio.Caller(r)
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}
	page, err := paging.FromQuery(r.URL.Query())
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	resp, err := fetch(r.Context(), caller, page)
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	httpio.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleToggleShareable(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.service.ToggleShareable)
}

func (h *Handler) handleToggleArchived(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.service.ToggleArchived)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, caller identity.Identity, id uuid.UUID) (uuid.UUID, error)) {
	caller, err := httpio.Caller(r)
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}
	id, err := httpio.PathUUID(r, "id")
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	bookID, err := apply(r.Context(), caller, id)
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	httpio.JSON(w, http.StatusOK, map[string]string{"id": bookID.String()})
}

func (h *Handler) handleUploadCover(w http.ResponseWriter, r *http.Request) {
	caller, err := httpio.Caller(r)
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}
	id, err := httpio.PathUUID(r, "id")
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	// Leave room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxCoverBytes+1<<20)
	file, header, err := r.FormFile("file")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpio.Error(w, h.log, apperr.Invalid("cover exceeds %d bytes", h.maxCoverBytes))
		return
	}
	if err != nil {
		httpio.Error(w, h.log, apperr.Invalid("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	if err := h.service.UploadCover(r.Context(), caller, id, header.Filename, file); err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleCover(w http.ResponseWriter, r *http.Request) {
	id, err := httpio.PathUUID(r, "id")
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	rc, err := h.service.Cover(r.Context(), id)
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn("cover stream interrupted", zap.Stringer("book_id", id), zap.Error(err))
	}
}
