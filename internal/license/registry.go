// Package license owns the license lifecycle: key generation, validation and
// administrative state changes. All state lives in the injected store.Store.
package license

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/keyserver/internal/metrics"
	"github.com/kiranshivaraju/keyserver/internal/store"
	"github.com/kiranshivaraju/keyserver/pkg/models"
)

const (
	defaultKeyAttempts = 3
	// validation re-reads the record this many times when a concurrent
	// mutation invalidates the conditional usage update
	maxValidateAttempts = 3
)

// Reason explains a negative validation verdict.
type Reason string

const (
	ReasonNotFound Reason = "not found"
	ReasonRevoked  Reason = "revoked"
	ReasonExpired  Reason = "expired"
)

// Result is the outcome of Validate.
type Result struct {
	Valid     bool
	Reason    Reason
	ExpiresAt *time.Time
}

// Message is the human-readable form of the verdict.
func (r Result) Message() string {
	if r.Valid {
		return "ok"
	}
	return "license " + string(r.Reason)
}

// CreateParams are the optional attributes of a new license.
type CreateParams struct {
	ExpiresAt *time.Time
	Notes     *string
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithRandom sets the entropy source for key generation.
func WithRandom(src io.Reader) Option {
	return func(r *Registry) { r.random = src }
}

// WithKeyAttempts bounds how many keys Create tries before giving up on
// duplicate-key errors.
func WithKeyAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.keyAttempts = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry implements the license operations on top of a Store.
type Registry struct {
	store       store.Store
	now         func() time.Time
	random      io.Reader
	keyAttempts int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewRegistry creates a Registry backed by s.
func NewRegistry(s store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:       s,
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		keyAttempts: defaultKeyAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping checks that the backing store is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Create issues a new active license with a freshly generated key.
func (r *Registry) Create(ctx context.Context, p CreateParams) (*models.License, error) {
	var expiresAt *time.Time
	if p.ExpiresAt != nil {
		t := p.ExpiresAt.UTC()
		expiresAt = &t
	}

	now := r.now()
	for attempt := 1; ; attempt++ {
		key, err := GenerateKey(r.random)
		if err != nil {
			return nil, fmt.Errorf("create license: %w", err)
		}

		l := &models.License{
			Key:       key,
			Active:    true,
			CreatedAt: now,
			ExpiresAt: expiresAt,
			Notes:     p.Notes,
		}
		err = r.store.CreateLicense(ctx, l)
		if err == nil {
			r.metrics.ObserveMutation("create")
			r.logger.InfoContext(ctx, "license created", "license_key", key, "expires_at", expiresAt)
			return l, nil
		}
		if errors.Is(err, store.ErrDuplicateKey) && attempt < r.keyAttempts {
			r.metrics.ObserveKeyCollision()
			r.logger.WarnContext(ctx, "generated license key collided, retrying", "attempt", attempt)
			continue
		}
		return nil, fmt.Errorf("create license: %w", err)
	}
}

// Validate checks key and, when it is valid, counts the use. Negative
// verdicts are returned as a Result, not as an error. Revocation is
// reported ahead of expiry, and nothing is written unless the verdict is valid.
func (r *Registry) Validate(ctx context.Context, key string) (Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{}, fmt.Errorf("%w: license key is required", ErrInvalidInput)
	}
	// No stored key can match a malformed one.
	if !ValidKeyFormat(key) {
		return r.verdict(Result{Reason: ReasonNotFound}), nil
	}

	for attempt := 0; attempt < maxValidateAttempts; attempt++ {
		l, err := r.store.GetLicense(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return r.verdict(Result{Reason: ReasonNotFound}), nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("validate license: %w", err)
		}

		now := r.now()
		if res, ok := evaluate(l, now); !ok {
			return r.verdict(res), nil
		}

		// The store re-checks active/expiry in the same atomic step, so a
		// revoke or delete racing this call can't be counted as a use.
		err = r.store.RecordUsage(ctx, key, now)
		if err == nil {
			return r.verdict(Result{Valid: true, ExpiresAt: l.ExpiresAt}), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Result{}, fmt.Errorf("validate license: %w", err)
		}
	}
	return Result{}, fmt.Errorf("validate license %s: %w", key, ErrConcurrentUpdate)
}

func evaluate(l *models.License, now time.Time) (Result, bool) {
	if !l.Active {
		return Result{Reason: ReasonRevoked, ExpiresAt: l.ExpiresAt}, false
	}
	if l.ExpiredAt(now) {
		return Result{Reason: ReasonExpired, ExpiresAt: l.ExpiresAt}, false
	}
	return Result{Valid: true, ExpiresAt: l.ExpiresAt}, true
}

func (r *Registry) verdict(res Result) Result {
	outcome := "valid"
	if !res.Valid {
		outcome = string(res.Reason)
	}
	r.metrics.ObserveValidation(outcome)
	return res
}

// Get returns a single license.
func (r *Registry) Get(ctx context.Context, key string) (*models.License, error) {
	l, err := r.store.GetLicense(ctx, key)
	if err != nil {
		return nil, r.wrap("get license", err)
	}
	return l, nil
}

// List returns all licenses, most recently created first.
func (r *Registry) List(ctx context.Context) ([]*models.License, error) {
	licenses, err := r.store.ListLicenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return licenses, nil
}

// Revoke deactivates a license. Revoking an already revoked license succeeds.
func (r *Registry) Revoke(ctx context.Context, key string) error {
	return r.setActive(ctx, key, false, "revoke")
}

// Activate reactivates a license. Activating an active license succeeds.
func (r *Registry) Activate(ctx context.Context, key string) error {
	return r.setActive(ctx, key, true, "activate")
}

func (r *Registry) setActive(ctx context.Context, key string, active bool, op string) error {
	if err := r.store.SetActive(ctx, key, active); err != nil {
		return r.wrap(op+" license", err)
	}
	r.metrics.ObserveMutation(op)
	r.logger.InfoContext(ctx, "license "+op+"d", "license_key", key)
	return nil
}

// Delete removes a license permanently.
func (r *Registry) Delete(ctx context.Context, key string) error {
	if err := r.store.DeleteLicense(ctx, key); err != nil {
		return r.wrap("delete license", err)
	}
	r.metrics.ObserveMutation("delete")
	r.logger.InfoContext(ctx, "license deleted", "license_key", key)
	return nil
}

// wrap maps store.ErrNotFound to ErrNotFound and annotates everything else.
func (r *Registry) wrap(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
