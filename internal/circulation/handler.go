// internal/circulation/handler.go
package circulation

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"booknet/internal/httpio"
	"booknet/internal/identity"
	"booknet/internal/paging"
)

type Handler struct {
	service Service
	log     *zap.Logger
}

func NewHandler(service Service, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// Routes mounts the loan endpoints behind the bearer middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books/borrowed", h.handleListBorrowed)
	r.Get("/books/returned", h.handleListReturned)
	r.Post("/books/borrow/{id}", h.handleBorrow)
	r.Patch("/books/borrow/return/{id}", h.handleReturn)
	r.Patch("/books/borrow/return/approve/{id}", h.handleApprove)
	r.Get("/loans/{id}/history", h.handleHistory)
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, http.StatusCreated, h.service.Borrow)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, http.StatusOK, h.service.Return)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, http.StatusOK, h.service.ApproveReturn)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, status int, apply func(context.Context, identity.Identity, uuid.UUID) (uuid.UUID, error)) {
	caller, err := httpio.Caller(r)
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}
	bookID, err := httpio.PathUUID(r, "id")
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	loanID, err := apply(r.Context(), caller, bookID)
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	httpio.JSON(w, status, map[string]string{"id": loanID.String()})
}

func (h *Handler) handleListBorrowed(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.ListBorrowed)
}

func (h *Handler) handleListReturned(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.ListReturned)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, fetch func(context.Context, identity.Identity, paging.Request) (paging.Response[BorrowedBookResponse], error)) {
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

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	caller, err := httpio.Caller(r)
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}
	loanID, err := httpio.PathUUID(r, "id")
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	entries, err := h.service.History(r.Context(), caller, loanID)
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	httpio.JSON(w, http.StatusOK, entries)
}
