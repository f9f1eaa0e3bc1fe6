package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/keyserver/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All license persistence goes through here.
// Implementations must be safe for concurrent use.
type Store interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateLicense(ctx context.Context, l *models.License) error
	GetLicense(ctx context.Context, key string) (*models.License, error)
	// ListLicenses returns every license, newest created_at first, ties by key ascending.
	ListLicenses(ctx context.Context) ([]*models.License, error)

	// RecordUsage increments usage_count and sets last_used_at in a single atomic
	// step, but only if the license exists, is active and has not expired at `at`.
	// Returns ErrNotFound when no license satisfied those conditions.
	RecordUsage(ctx context.Context, key string, at time.Time) error

	SetActive(ctx context.Context, key string, active bool) error
	DeleteLicense(ctx context.Context, key string) error
}

// Drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)
