package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"provider-directory/models"
)

// PersistenceError reports a failed storage write during a refresh cycle.
// Batches committed before the failure stay committed; the snapshot, not
// raw storage, is the surface readers rely on.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

// ledgerDateLayout is the persisted form of the ledger date.
const ledgerDateLayout = "2006-01-02"

// SQLStore persists providers, the category taxonomy and the update
// ledger through database/sql. Production runs on PostgreSQL; tests run
// the same code against in-memory SQLite.
type SQLStore struct {
	db *sql.DB
}

// Open connects to PostgreSQL, runs schema migrations, and returns a
// ready-to-use SQLStore.
func Open(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: ping failed after retries: %w", err)
	}

	return New(db)
}

// New wraps an open database handle and runs schema migrations. The DDL
// is portable across PostgreSQL and SQLite.
func New(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS providers (
			location_id      BIGINT NOT NULL,
			institution_id   BIGINT NOT NULL,
			title            TEXT   NOT NULL,
			street           TEXT   NOT NULL DEFAULT '',
			house_number     TEXT   NOT NULL DEFAULT '',
			city             TEXT   NOT NULL DEFAULT '',
			postal_code      TEXT   NOT NULL DEFAULT '',
			categories       TEXT   NOT NULL DEFAULT '',
			specialization   TEXT   NOT NULL DEFAULT '',
			lat              DOUBLE PRECISION NOT NULL DEFAULT 0,
			lng              DOUBLE PRECISION NOT NULL DEFAULT 0,
			institution_type TEXT   NOT NULL DEFAULT '',
			phone            TEXT   NOT NULL DEFAULT '',
			fax              TEXT   NOT NULL DEFAULT '',
			email            TEXT   NOT NULL DEFAULT '',
			website          TEXT   NOT NULL DEFAULT '',
			ico              TEXT   NOT NULL DEFAULT '',
			care_form        TEXT   NOT NULL DEFAULT '',
			care_type        TEXT   NOT NULL DEFAULT '',
			substitute       TEXT   NOT NULL DEFAULT '',
			PRIMARY KEY (location_id, institution_id)
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			value TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS update_ledger (
			id          SMALLINT PRIMARY KEY,
			last_update TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_providers_city ON providers(city)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SeedCategories replaces the full category set with the fixed taxonomy
// in one transaction. Idempotent; runs at the start of every cycle.
func (s *SQLStore) SeedCategories(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "seed categories", Err: err}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM categories"); err != nil {
		_ = tx.Rollback()
		return &PersistenceError{Op: "seed categories", Err: err}
	}

	for _, c := range models.Taxonomy() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO categories (value) VALUES ($1)", string(c)); err != nil {
			_ = tx.Rollback()
			return &PersistenceError{Op: "seed categories", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "seed categories", Err: err}
	}
	return nil
}

// ClearProviders deletes all provider rows ahead of a full replace.
func (s *SQLStore) ClearProviders(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM providers"); err != nil {
		return &PersistenceError{Op: "clear providers", Err: err}
	}
	return nil
}

const providerColumns = `location_id, institution_id, title, street, house_number,
	city, postal_code, categories, specialization, lat, lng,
	institution_type, phone, fax, email, website, ico, care_form, care_type, substitute`

const providerFieldCount = 20

// InsertProviderBatch persists one batch as a single transaction using a
// multi-row VALUES insert. Duplicate composite keys within the feed are
// dropped on conflict.
func (s *SQLStore) InsertProviderBatch(ctx context.Context, batch []*models.Provider) error {
	if len(batch) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*providerFieldCount)

	for idx, p := range batch {
		base := idx * providerFieldCount
		placeholders := make([]string, providerFieldCount)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")

		valueArgs = append(valueArgs,
			p.LocationID, p.InstitutionID, p.Title, p.Street, p.HouseNumber,
			p.City, p.PostalCode, models.JoinCategories(p.Categories), p.Specialization, p.Lat, p.Lng,
			p.InstitutionType, p.PhoneNumber, p.Fax, p.Email, p.Website, p.Ico,
			p.CareForm, p.CareType, p.Substitute)
	}

	query := fmt.Sprintf(`
		INSERT INTO providers (%s)
		VALUES %s
		ON CONFLICT (location_id, institution_id) DO NOTHING
	`, providerColumns, strings.Join(valueStrings, ","))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "insert batch", Err: err}
	}
	if _, err := tx.ExecContext(ctx, query, valueArgs...); err != nil {
		_ = tx.Rollback()
		return &PersistenceError{Op: "insert batch", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "insert batch", Err: err}
	}
	return nil
}

// ProviderPage reads one page of the provider set ordered by composite key.
func (s *SQLStore) ProviderPage(ctx context.Context, offset, limit int) ([]*models.Provider, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM providers
		ORDER BY location_id, institution_id
		LIMIT $1 OFFSET $2
	`, providerColumns), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: provider page: %w", err)
	}
	defer rows.Close()

	var providers []*models.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// ProviderByKey returns the provider for the composite key, or ErrNotFound.
func (s *SQLStore) ProviderByKey(ctx context.Context, key models.ProviderKey) (*models.Provider, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM providers
		WHERE location_id = $1 AND institution_id = $2
	`, providerColumns), key.LocationID, key.InstitutionID)

	p, err := scanProvider(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: provider by key: %w", err)
	}
	return p, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanProvider(row scannable) (*models.Provider, error) {
	p := &models.Provider{}
	var categories string

	err := row.Scan(
		&p.LocationID, &p.InstitutionID, &p.Title, &p.Street, &p.HouseNumber,
		&p.City, &p.PostalCode, &categories, &p.Specialization, &p.Lat, &p.Lng,
		&p.InstitutionType, &p.PhoneNumber, &p.Fax, &p.Email, &p.Website, &p.Ico,
		&p.CareForm, &p.CareType, &p.Substitute,
	)
	if err != nil {
		return nil, err
	}

	p.Categories = models.SplitCategories(categories)
	return p, nil
}

// RecordUpdate sets the singleton ledger row to the given date inside one
// transaction: created on the very first successful cycle, updated on
// every later one. Any failure rolls the ledger back untouched.
func (s *SQLStore) RecordUpdate(ctx context.Context, date time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "record update", Err: err}
	}

	var existing string
	err = tx.QueryRowContext(ctx, "SELECT last_update FROM update_ledger WHERE id = 1").Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			"INSERT INTO update_ledger (id, last_update) VALUES (1, $1)",
			date.Format(ledgerDateLayout))
	case err == nil:
		_, err = tx.ExecContext(ctx,
			"UPDATE update_ledger SET last_update = $1 WHERE id = 1",
			date.Format(ledgerDateLayout))
	}
	if err != nil {
		_ = tx.Rollback()
		return &PersistenceError{Op: "record update", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "record update", Err: err}
	}
	return nil
}

// LastUpdate returns the ledger date; the zero time means no cycle has
// ever succeeded.
func (s *SQLStore) LastUpdate(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT last_update FROM update_ledger WHERE id = 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: last update: %w", err)
	}

	date, err := time.Parse(ledgerDateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: parse ledger date %q: %w", raw, err)
	}
	return date, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
