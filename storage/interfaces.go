package storage

import (
	"context"
	"errors"
	"time"

	"provider-directory/models"
)

// ErrNotFound is returned when no provider exists for a composite key.
var ErrNotFound = errors.New("storage: provider not found")

// Store is the interface the refresh pipeline and the read paths use to
// reach durable provider storage.
type Store interface {
	// SeedCategories replaces the category table with the fixed taxonomy
	// in a single transaction.
	SeedCategories(ctx context.Context) error

	// ClearProviders removes all provider rows ahead of a full replace.
	ClearProviders(ctx context.Context) error

	// InsertProviderBatch persists one batch of providers as a single
	// transaction.
	InsertProviderBatch(ctx context.Context, batch []*models.Provider) error

	// ProviderPage reads one page of the provider set in stable key order.
	ProviderPage(ctx context.Context, offset, limit int) ([]*models.Provider, error)

	// ProviderByKey returns the provider with the given composite key, or
	// ErrNotFound.
	ProviderByKey(ctx context.Context, key models.ProviderKey) (*models.Provider, error)

	// RecordUpdate sets the singleton ledger row to the given date,
	// creating it on the very first successful cycle.
	RecordUpdate(ctx context.Context, date time.Time) error

	// LastUpdate returns the ledger date, or the zero time when no cycle
	// has ever succeeded.
	LastUpdate(ctx context.Context) (time.Time, error)

	Close() error
}
