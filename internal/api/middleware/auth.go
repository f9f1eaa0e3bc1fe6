package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/kiranshivaraju/keyserver/internal/api/response"
	"github.com/kiranshivaraju/keyserver/internal/config"
	"golang.org/x/crypto/bcrypt"
)

const adminRealm = `Basic realm="Admin Panel"`

var (
	ErrUnauthorized       = errors.New("invalid admin credentials")
	ErrAdminNotConfigured = errors.New("admin credentials not configured")
)

// AdminAuth gates the admin API behind HTTP Basic auth. With no secret
// configured it refuses every request.
type AdminAuth struct {
	username     []byte
	passwordHash []byte
}

// AdminAuthOption configures NewAdminAuth.
type AdminAuthOption func(*adminAuthOptions)

type adminAuthOptions struct {
	cost int
}

// WithBcryptCost sets the cost used to hash a plaintext ADMIN_PASSWORD.
func WithBcryptCost(cost int) AdminAuthOption {
	return func(o *adminAuthOptions) { o.cost = cost }
}

// NewAdminAuth builds the gate from config. A plaintext password is hashed
// once here so requests are only ever compared against a bcrypt hash.
func NewAdminAuth(cfg config.AdminConfig, opts ...AdminAuthOption) (*AdminAuth, error) {
	o := adminAuthOptions{cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(&o)
	}

	a := &AdminAuth{username: []byte(cfg.Username)}
	switch {
	case cfg.PasswordHash != "":
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("parse admin password hash: %w", err)
		}
		a.passwordHash = []byte(cfg.PasswordHash)
	case cfg.Password != "":
		h, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), o.cost)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
		a.passwordHash = h
	}
	return a, nil
}

// Configured reports whether a secret is set. A nil *AdminAuth is unconfigured.
func (a *AdminAuth) Configured() bool {
	return a != nil && len(a.passwordHash) > 0
}

// Verify checks the request's Basic credentials.
func (a *AdminAuth) Verify(r *http.Request) error {
	if !a.Configured() {
		return ErrAdminNotConfigured
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return ErrUnauthorized
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), a.username) == 1
	passErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(pass))
	if !userOK || passErr != nil {
		return ErrUnauthorized
	}
	return nil
}

// Require rejects requests that fail Verify before they reach next.
func (a *AdminAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := a.Verify(r)
		switch {
		case errors.Is(err, ErrAdminNotConfigured):
			response.Error(w, http.StatusServiceUnavailable,
				"ADMIN_NOT_CONFIGURED", "Admin credentials are not configured", nil)
			return
		case err != nil:
			w.Header().Set("WWW-Authenticate", adminRealm)
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Authentication required", nil)
			return
		}

		user, _, _ := r.BasicAuth()
		next.ServeHTTP(w, r.WithContext(setAdminUser(r.Context(), user)))
	})
}
