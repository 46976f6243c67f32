// Package httpio holds the JSON request and response helpers shared by the
// HTTP handlers, including the mapping from apperr kinds to status codes.
package httpio

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"booknet/internal/apperr"
	"booknet/internal/identity"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusOf maps an error to its HTTP status.
func StatusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExpired:
		return http.StatusGone
	case apperr.KindInvalid:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindThrottled:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes err as an ErrorResponse. Unclassified errors are logged and
// answered with a generic message.
func Error(w http.ResponseWriter, log *zap.Logger, err error) {
	status := StatusOf(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		JSON(w, status, ErrorResponse{Error: "internal", Message: "internal server error"})
		return
	}
	JSON(w, status, ErrorResponse{Error: string(apperr.KindOf(err)), Message: apperr.Message(err)})
}

// Unauthorized answers a request that carried no usable credentials.
func Unauthorized(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusUnauthorized, ErrorResponse{
		Error:   string(apperr.KindUnauthorized),
		Message: "missing or invalid bearer token",
	})
}

// Decode reads a JSON body into v.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Invalid("malformed request body")
	}
	return nil
}

// PathUUID parses the named route parameter.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Invalid("invalid %s", name)
	}
	return id, nil
}

// Caller returns the identity set by the auth middleware.
func Caller(r *http.Request) (identity.Identity, error) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		return identity.Identity{}, apperr.Unauthorized("missing identity")
	}
	return id, nil
}
