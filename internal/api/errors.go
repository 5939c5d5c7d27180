package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/wakala/loanengine/internal/domain"
)

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientCollateral):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		h.writeError(w, status, "internal error")
		return
	}
	h.writeError(w, status, err.Error())
}
