// internal/membership/handler.go
package membership

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"booknet/internal/httpio"
)

type Handler struct {
	service Service
	log     *zap.Logger
}

func NewHandler(service Service, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// Routes mounts the public account endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Get("/auth/activate-account", h.handleActivate)
	r.Post("/auth/authenticate", h.handleAuthenticate)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegistrationRequest
	if err := httpio.Decode(r, &req); err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	if err := h.service.Register(r.Context(), req); err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Activate(r.Context(), r.URL.Query().Get("token")); err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthenticationRequest
	if err := httpio.Decode(r, &req); err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	resp, err := h.service.Authenticate(r.Context(), req)
	if err != nil {
		httpio.Error(w, h.log, err)
		return
	}

	httpio.JSON(w, http.StatusOK, resp)
}
