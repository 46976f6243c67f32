package httpio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"booknet/internal/apperr"
	"booknet/internal/identity"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.NotFound("x"), http.StatusNotFound},
		{apperr.PermissionDenied("x"), http.StatusForbidden},
		{apperr.Conflict("x"), http.StatusConflict},
		{apperr.Expired("x"), http.StatusGone},
		{apperr.Invalid("x"), http.StatusBadRequest},
		{apperr.Unauthorized("x"), http.StatusUnauthorized},
		{apperr.Throttled("x"), http.StatusTooManyRequests},
		{fmt.Errorf("wrapped: %w", apperr.Conflict("x")), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), tt.err.Error())
	}
}

func TestErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, zap.NewNop(), errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq")
	assert.JSONEq(t, `{"error":"internal","message":"internal server error"}`, rec.Body.String())
}

func TestErrorWritesKindAndMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, zap.NewNop(), apperr.PermissionDenied("You cannot borrow your own book"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"permission_denied","message":"You cannot borrow your own book"}`, rec.Body.String())
}

func TestDecodeRejectsMalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	var v map[string]string
	assert.ErrorIs(t, Decode(req, &v), apperr.ErrInvalid)
}

func TestPathUUID(t *testing.T) {
	id := uuid.New()
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id.String())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	got, err := PathUUID(req, "id")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	rctx.URLParams = chi.RouteParams{}
	rctx.URLParams.Add("id", "not-a-uuid")
	_, err = PathUUID(req, "id")
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestCaller(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := Caller(req)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	who := identity.Identity{UserID: uuid.New(), FullName: "Ada Lovelace"}
	req = req.WithContext(identity.WithIdentity(req.Context(), who))
	got, err := Caller(req)
	require.NoError(t, err)
	assert.Equal(t, who, got)
}
