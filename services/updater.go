package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"provider-directory/metrics"
	"provider-directory/models"
	"provider-directory/snapshot"
	"provider-directory/storage"
)

// ErrEmptyDataset is returned when the upstream feed parses to zero
// records. An empty feed is always an upstream failure, never "zero
// providers is valid"; nothing is persisted or published.
var ErrEmptyDataset = errors.New("services: upstream feed contained no providers")

type fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

type parser interface {
	Parse(raw []byte) ([]*models.Provider, error)
}

type snapshotBuilder interface {
	Build(ctx context.Context, label string) (string, error)
}

// Updater orchestrates one full refresh cycle: fetch, parse, category
// seed, batched persist, ledger update, snapshot build, publish. Cycles
// are single-flight; a trigger arriving while one runs is rejected.
type Updater struct {
	fetcher   fetcher
	parser    parser
	store     storage.Store
	builder   snapshotBuilder
	gate      *snapshot.Gate
	metrics   *metrics.Metrics
	batchSize int
	logger    logrus.FieldLogger

	// cycleMu spans the whole cycle, not individual steps, so two cycles
	// can never interleave mid-way.
	cycleMu sync.Mutex
}

// NewUpdater wires the refresh orchestrator.
func NewUpdater(fetcher fetcher, parser parser, store storage.Store, builder snapshotBuilder,
	gate *snapshot.Gate, m *metrics.Metrics, batchSize int, logger logrus.FieldLogger) *Updater {
	return &Updater{
		fetcher:   fetcher,
		parser:    parser,
		store:     store,
		builder:   builder,
		gate:      gate,
		metrics:   m,
		batchSize: batchSize,
		logger:    logger.WithField("component", "updater"),
	}
}

// Run executes one refresh cycle and returns a status message. A second
// concurrent trigger gets snapshot.ErrUpdateInProgress immediately rather
// than queuing. The updating flag is lowered on every exit path.
func (u *Updater) Run(ctx context.Context) (string, error) {
	if !u.cycleMu.TryLock() {
		return "", snapshot.ErrUpdateInProgress
	}
	defer u.cycleMu.Unlock()

	u.gate.BeginUpdate()
	defer u.gate.EndUpdate()

	start := time.Now()
	msg, err := u.cycle(ctx)
	u.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		u.metrics.CyclesTotal.WithLabelValues("error").Inc()
		u.logger.WithError(err).Error("refresh cycle failed")
		return "", err
	}

	u.metrics.CyclesTotal.WithLabelValues("success").Inc()
	u.logger.Info(msg)
	return msg, nil
}

func (u *Updater) cycle(ctx context.Context) (string, error) {
	u.logger.Info("refresh cycle starting")

	raw, err := u.fetcher.Fetch(ctx)
	if err != nil {
		return "", err
	}

	providers, err := u.parser.Parse(raw)
	if err != nil {
		return "", err
	}
	if len(providers) == 0 {
		return "", ErrEmptyDataset
	}

	u.logger.Infof("parsed %d provider records", len(providers))

	// Categories must be durably visible before any provider batch that
	// references them.
	if err := u.store.SeedCategories(ctx); err != nil {
		return "", err
	}

	if err := u.persist(ctx, providers); err != nil {
		return "", err
	}

	now := time.Now()
	if err := u.store.RecordUpdate(ctx, now); err != nil {
		return "", err
	}

	label := snapshot.UpdateLabel(now)
	path, err := u.builder.Build(ctx, label)
	if err != nil {
		return "", err
	}

	if info, err := os.Stat(path); err == nil {
		u.metrics.SnapshotBytes.Set(float64(info.Size()))
	}
	u.metrics.ProvidersPersisted.Set(float64(len(providers)))

	// Swap first, delete the prior archive after: never delete-before-replace.
	old := u.gate.Publish(path)
	if old != "" && old != path {
		if err := os.Remove(old); err != nil {
			u.logger.WithError(err).Warnf("could not remove previous snapshot %s", old)
		}
	}

	return fmt.Sprintf("refresh complete: %d providers, snapshot %s",
		len(providers), filepath.Base(path)), nil
}

// persist replaces the provider set: clear, then insert in contiguous
// batches, each one transaction. A batch failure aborts the cycle;
// batches already committed stay committed.
func (u *Updater) persist(ctx context.Context, providers []*models.Provider) error {
	if err := u.store.ClearProviders(ctx); err != nil {
		return err
	}

	batches := partition(providers, u.batchSize)
	for i, batch := range batches {
		if err := u.store.InsertProviderBatch(ctx, batch); err != nil {
			return fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
		}
		u.logger.Debugf("persisted batch %d/%d (%d records)", i+1, len(batches), len(batch))
	}
	return nil
}

// partition splits records into ⌈N/size⌉ contiguous batches covering
// every index exactly once. A count that is an exact multiple of size
// yields full batches only, no empty trailing one.
func partition(providers []*models.Provider, size int) [][]*models.Provider {
	if size <= 0 || len(providers) == 0 {
		return nil
	}

	batches := make([][]*models.Provider, 0, (len(providers)+size-1)/size)
	for start := 0; start < len(providers); start += size {
		end := start + size
		if end > len(providers) {
			end = len(providers)
		}
		batches = append(batches, providers[start:end])
	}
	return batches
}

// Status reports the last successful update label and whether a cycle is
// currently running.
type Status struct {
	LastUpdate string `json:"lastUpdate"`
	Updating   bool   `json:"updating"`
}

// Status answers the "when was data last refreshed" query. The label is
// empty when no cycle has ever succeeded.
func (u *Updater) Status(ctx context.Context) (*Status, error) {
	date, err := u.store.LastUpdate(ctx)
	if err != nil {
		return nil, err
	}

	s := &Status{Updating: u.gate.Updating()}
	if !date.IsZero() {
		s.LastUpdate = snapshot.UpdateLabel(date)
	}
	return s, nil
}
