package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/keyserver/internal/api/response"
	"github.com/kiranshivaraju/keyserver/internal/license"
)

// Validator is the part of the registry the public validate endpoint needs.
type Validator interface {
	Validate(ctx context.Context, key string) (license.Result, error)
}

type validateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
}

type validateResponse struct {
	Valid     bool       `json:"valid"`
	Reason    string     `json:"reason,omitempty"`
	Message   string     `json:"message"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewValidateHandler returns an http.HandlerFunc for POST /api/validate.
// Verdicts are written without the data envelope.
func NewValidateHandler(svc Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		details, err := decode(w, r, &req)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if details != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "license_key is required", details)
			return
		}

		res, err := svc.Validate(r.Context(), req.LicenseKey)
		if err != nil {
			switch {
			case errors.Is(err, license.ErrInvalidInput):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "license_key is required", nil)
			default:
				slog.ErrorContext(r.Context(), "validate license failed", "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		out := validateResponse{
			Valid:   res.Valid,
			Message: res.Message(),
		}
		if res.Valid {
			out.ExpiresAt = res.ExpiresAt
		} else {
			out.Reason = string(res.Reason)
		}
		response.Raw(w, http.StatusOK, out)
	}
}
