package snapshot

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"provider-directory/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// sliceStore serves pages from an in-memory slice.
type sliceStore struct {
	providers []*models.Provider
}

func (s *sliceStore) ProviderPage(_ context.Context, offset, limit int) ([]*models.Provider, error) {
	if offset >= len(s.providers) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.providers) {
		end = len(s.providers)
	}
	return s.providers[offset:end], nil
}

func makeProviders(n int) []*models.Provider {
	providers := make([]*models.Provider, 0, n)
	for i := 0; i < n; i++ {
		providers = append(providers, &models.Provider{
			LocationID:    int64(i + 1),
			InstitutionID: 1,
			Title:         fmt.Sprintf("Provider %d", i+1),
			Categories:    []models.Category{models.CategoryDentist},
		})
	}
	return providers
}

func readArchive(t *testing.T, path string) []*models.ProviderSummary {
	t.Helper()

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()

	if len(zr.File) != 1 || zr.File[0].Name != "providers.json" {
		t.Fatalf("expected single providers.json entry, got %v", zr.File)
	}

	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("open entry: %v", err)
	}
	defer rc.Close()

	var summaries []*models.ProviderSummary
	if err := json.NewDecoder(rc).Decode(&summaries); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	return summaries
}

func TestBuilderWritesArchive(t *testing.T) {
	dir := t.TempDir()
	store := &sliceStore{providers: makeProviders(7)}
	b := NewBuilder(store, dir, 3, testLogger())

	path, err := b.Build(context.Background(), "2026-8-2")
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if filepath.Base(path) != "providers-2026-8-2.zip" {
		t.Errorf("archive name = %s; want providers-2026-8-2.zip", filepath.Base(path))
	}

	summaries := readArchive(t, path)
	if len(summaries) != 7 {
		t.Fatalf("archive holds %d summaries; want 7", len(summaries))
	}
	if summaries[0].Title != "Provider 1" || summaries[0].Category[0] != "dentist" {
		t.Errorf("projection mismatch: %+v", summaries[0])
	}
}

func TestBuilderDeduplicatesPreservingOrder(t *testing.T) {
	providers := makeProviders(3)
	providers = append(providers, providers[0], providers[1])
	store := &sliceStore{providers: providers}
	b := NewBuilder(store, t.TempDir(), 2, testLogger())

	path, err := b.Build(context.Background(), "2026-8-2")
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}

	summaries := readArchive(t, path)
	if len(summaries) != 3 {
		t.Fatalf("archive holds %d summaries; want 3 after dedup", len(summaries))
	}
	for i, s := range summaries {
		if s.LocationID != int64(i+1) {
			t.Errorf("summary %d has locationId %d; insertion order not preserved", i, s.LocationID)
		}
	}
}

func TestBuilderFailureLeavesNoFinalFile(t *testing.T) {
	dir := t.TempDir()
	// Make the snapshot dir path an existing file so creation fails.
	blocked := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder(&sliceStore{providers: makeProviders(1)}, blocked, 10, testLogger())
	_, err := b.Build(context.Background(), "2026-8-2")

	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected WriteError, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(blocked, Filename("2026-8-2"))); statErr == nil {
		t.Error("final archive must not exist after a failed build")
	}
}

func TestUpdateLabel(t *testing.T) {
	date := time.Date(2026, 8, 2, 2, 0, 0, 0, time.UTC)
	if got := UpdateLabel(date); got != "2026-8-2" {
		t.Errorf("UpdateLabel = %q; want %q", got, "2026-8-2")
	}
	if got := Filename(UpdateLabel(date)); got != "providers-2026-8-2.zip" {
		t.Errorf("Filename = %q", got)
	}
}
