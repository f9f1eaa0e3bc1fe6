package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/keyserver/internal/api/response"
	"github.com/kiranshivaraju/keyserver/internal/license"
	"github.com/kiranshivaraju/keyserver/pkg/models"
)

// LicenseAdmin defines the registry operations behind the admin routes.
type LicenseAdmin interface {
	Create(ctx context.Context, p license.CreateParams) (*models.License, error)
	Get(ctx context.Context, key string) (*models.License, error)
	List(ctx context.Context) ([]*models.License, error)
	Revoke(ctx context.Context, key string) error
	Activate(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error
}

type createLicenseRequest struct {
	ExpiresAt *string `json:"expires_at" validate:"omitempty,expiry"`
	Notes     *string `json:"notes" validate:"omitempty,max=1000"`
}

type mutationResponse struct {
	OK         bool   `json:"ok"`
	LicenseKey string `json:"license_key"`
	Active     *bool  `json:"active,omitempty"`
}

// NewCreateLicenseHandler returns an http.HandlerFunc for POST /api/licenses.
func NewCreateLicenseHandler(svc LicenseAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createLicenseRequest
		details, err := decode(w, r, &req)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if details != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid license attributes", details)
			return
		}

		var params license.CreateParams
		if req.ExpiresAt != nil && *req.ExpiresAt != "" {
			t, err := parseExpiry(*req.ExpiresAt)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"expires_at must be an RFC3339 timestamp or a YYYY-MM-DD date", nil)
				return
			}
			params.ExpiresAt = &t
		}
		if req.Notes != nil && *req.Notes != "" {
			params.Notes = req.Notes
		}

		l, err := svc.Create(r.Context(), params)
		if err != nil {
			internalError(w, r, "create license failed", err)
			return
		}
		response.Created(w, l)
	}
}

// NewListLicensesHandler returns an http.HandlerFunc for GET /api/licenses.
func NewListLicensesHandler(svc LicenseAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		licenses, err := svc.List(r.Context())
		if err != nil {
			internalError(w, r, "list licenses failed", err)
			return
		}
		if licenses == nil {
			licenses = []*models.License{}
		}
		response.Collection(w, licenses, response.CollectionMeta{Total: len(licenses)})
	}
}

// NewGetLicenseHandler returns an http.HandlerFunc for GET /api/licenses/{key}.
func NewGetLicenseHandler(svc LicenseAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := svc.Get(r.Context(), chi.URLParam(r, "key"))
		if err != nil {
			writeLicenseError(w, r, "get license failed", err)
			return
		}
		response.JSON(w, l)
	}
}

// NewRevokeLicenseHandler returns an http.HandlerFunc for POST /api/licenses/{key}/revoke.
func NewRevokeLicenseHandler(svc LicenseAdmin) http.HandlerFunc {
	return newSetActiveHandler(svc.Revoke, false)
}

// NewActivateLicenseHandler returns an http.HandlerFunc for POST /api/licenses/{key}/activate.
func NewActivateLicenseHandler(svc LicenseAdmin) http.HandlerFunc {
	return newSetActiveHandler(svc.Activate, true)
}

func newSetActiveHandler(op func(context.Context, string) error, active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if err := op(r.Context(), key); err != nil {
			writeLicenseError(w, r, "update license failed", err)
			return
		}
		response.JSON(w, mutationResponse{OK: true, LicenseKey: key, Active: &active})
	}
}

// NewDeleteLicenseHandler returns an http.HandlerFunc for DELETE /api/licenses/{key}.
func NewDeleteLicenseHandler(svc LicenseAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if err := svc.Delete(r.Context(), key); err != nil {
			writeLicenseError(w, r, "delete license failed", err)
			return
		}
		response.JSON(w, mutationResponse{OK: true, LicenseKey: key})
	}
}

func writeLicenseError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if errors.Is(err, license.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "License not found", nil)
		return
	}
	internalError(w, r, msg, err)
}

func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.ErrorContext(r.Context(), msg, "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
