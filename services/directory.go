package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"provider-directory/models"
	"provider-directory/storage"
)

// Directory serves provider detail lookups against live storage. Lookups
// are unaffected by a running refresh cycle; only the snapshot download
// path is gated.
type Directory struct {
	store  storage.Store
	logger logrus.FieldLogger
}

// NewDirectory creates a Directory over the given store.
func NewDirectory(store storage.Store, logger logrus.FieldLogger) *Directory {
	return &Directory{
		store:  store,
		logger: logger.WithField("component", "directory"),
	}
}

// Detail returns the full record for one composite key, or
// storage.ErrNotFound.
func (d *Directory) Detail(ctx context.Context, key models.ProviderKey) (*models.Provider, error) {
	return d.store.ProviderByKey(ctx, key)
}

// Details resolves every key in input order. The call fails as a whole if
// any single key is missing; there is no partial-results mode.
func (d *Directory) Details(ctx context.Context, keys []models.ProviderKey) ([]*models.Provider, error) {
	providers := make([]*models.Provider, 0, len(keys))
	for _, key := range keys {
		p, err := d.store.ProviderByKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("key (%d,%d): %w", key.LocationID, key.InstitutionID, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}
