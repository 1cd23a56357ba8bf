package snapshot

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"provider-directory/models"
)

// WriteError reports a failed snapshot build. The previously published
// archive stays untouched; the cycle fails.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string { return fmt.Sprintf("snapshot: write %s: %v", e.Path, e.Err) }

func (e *WriteError) Unwrap() error { return e.Err }

// entryName is the single entry inside every snapshot archive.
const entryName = "providers.json"

// UpdateLabel derives the date label embedded in the archive filename.
func UpdateLabel(date time.Time) string {
	return date.Format("2006-1-2")
}

// Filename returns the archive filename for an update label.
func Filename(label string) string {
	return fmt.Sprintf("providers-%s.zip", label)
}

// pageReader is the slice of the store the builder needs: paged reads of
// the full provider set.
type pageReader interface {
	ProviderPage(ctx context.Context, offset, limit int) ([]*models.Provider, error)
}

// Builder re-reads the persisted provider set in bounded pages and
// serializes the simplified projection into a single-entry zip archive.
type Builder struct {
	store    pageReader
	dir      string
	pageSize int
	logger   logrus.FieldLogger
}

// NewBuilder creates a Builder writing archives into dir, paging through
// storage pageSize records at a time.
func NewBuilder(store pageReader, dir string, pageSize int, logger logrus.FieldLogger) *Builder {
	return &Builder{
		store:    store,
		dir:      dir,
		pageSize: pageSize,
		logger:   logger.WithField("component", "snapshot"),
	}
}

// Build assembles the snapshot for the given update label and returns the
// path of the fully written archive. The archive is written to a temp
// file and renamed into place, so a failure never leaves a torn file at
// the final path and never touches the previously published archive.
func (b *Builder) Build(ctx context.Context, label string) (string, error) {
	summaries, err := b.collect(ctx)
	if err != nil {
		return "", err
	}

	final := filepath.Join(b.dir, Filename(label))
	if err := b.write(final, summaries); err != nil {
		return "", err
	}

	b.logger.Infof("snapshot %s written with %d providers", filepath.Base(final), len(summaries))
	return final, nil
}

// collect pages through the provider set, projecting each record and
// de-duplicating by composite key while preserving insertion order.
func (b *Builder) collect(ctx context.Context) ([]*models.ProviderSummary, error) {
	seen := make(map[models.ProviderKey]struct{})
	summaries := make([]*models.ProviderSummary, 0)

	for offset := 0; ; offset += b.pageSize {
		page, err := b.store.ProviderPage(ctx, offset, b.pageSize)
		if err != nil {
			return nil, &WriteError{Path: b.dir, Err: err}
		}
		if len(page) == 0 {
			break
		}

		for _, p := range page {
			key := p.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			summaries = append(summaries, p.Summary())
		}

		if len(page) < b.pageSize {
			break
		}
	}

	return summaries, nil
}

func (b *Builder) write(final string, summaries []*models.ProviderSummary) error {
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return &WriteError{Path: b.dir, Err: err}
	}

	tmp := final + ".tmp"
	if err := b.writeArchive(tmp, summaries); err != nil {
		_ = os.Remove(tmp)
		return &WriteError{Path: tmp, Err: err}
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return &WriteError{Path: final, Err: err}
	}
	return nil
}

func (b *Builder) writeArchive(path string, summaries []*models.ProviderSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(f)
	entry, err := zw.Create(entryName)
	if err != nil {
		_ = f.Close()
		return err
	}

	if err := json.NewEncoder(entry).Encode(summaries); err != nil {
		_ = f.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
