package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/evansmunsha/testforpay-sub001/internal/gateway"
	"github.com/evansmunsha/testforpay-sub001/internal/middleware"
	"github.com/evansmunsha/testforpay-sub001/internal/repository"
	"github.com/evansmunsha/testforpay-sub001/internal/services"
)

type errorResponse struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps a domain error onto an HTTP status. Anything unknown is a 500.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrIneligible),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrNoDestination),
		errors.Is(err, gateway.ErrUnsupportedCurrency),
		errors.Is(err, gateway.ErrRejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// WriteError writes err with its mapped status. Internal errors are logged
// and replaced by a generic message.
func WriteError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error(op+" failed", "error", err)
		WriteJSON(w, status, errorResponse{Error: op + " failed"})
		return
	}
	WriteJSON(w, status, errorResponse{Error: err.Error()})
}

// Caller returns the authenticated user id, writing 401 when absent.
func Caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil || p.UserID == uuid.Nil {
		WriteJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return uuid.Nil, false
	}
	return p.UserID, true
}

// PathID parses the {name} path segment as a UUID, writing 400 when malformed.
func PathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
