package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/plugkit/core/bundle"
)

// ErrBundleNotFound is returned when a bundle record does not exist.
var ErrBundleNotFound = errors.New("bundle record not found")

// BundleStore implements bundle.Store using SQLite.
type BundleStore struct {
	db *DB
}

// NewBundleStore creates a new bundle store.
func NewBundleStore(db *DB) *BundleStore {
	return &BundleStore{db: db}
}

// Record upserts a loaded-bundle record. Upsert semantics let a restart
// re-record bundles reloaded from the bundle directory.
func (s *BundleStore) Record(ctx context.Context, rec bundle.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bundles (name, version, namespace, path, digest, interfaces, components, loaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			namespace = excluded.namespace,
			path = excluded.path,
			digest = excluded.digest,
			interfaces = excluded.interfaces,
			components = excluded.components,
			loaded_at = excluded.loaded_at`,
		rec.Name, rec.Version, rec.Namespace, rec.Path, rec.Digest,
		rec.Interfaces, rec.Components, rec.LoadedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record bundle %q: %w", rec.Name, err)
	}
	return nil
}

// Delete removes a bundle record.
func (s *BundleStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bundles WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete bundle %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrBundleNotFound, name)
	}
	return nil
}

// Get retrieves a bundle record by name.
func (s *BundleStore) Get(ctx context.Context, name string) (bundle.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, version, namespace, path, digest, interfaces, components, loaded_at
		 FROM bundles WHERE name = ?`, name)

	rec, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return bundle.Record{}, fmt.Errorf("%w: %s", ErrBundleNotFound, name)
		}
		return bundle.Record{}, err
	}
	return rec, nil
}

// List returns all bundle records ordered by name.
func (s *BundleStore) List(ctx context.Context) ([]bundle.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, version, namespace, path, digest, interfaces, components, loaded_at
		 FROM bundles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []bundle.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (bundle.Record, error) {
	var rec bundle.Record
	var loadedAt string

	err := scan(&rec.Name, &rec.Version, &rec.Namespace, &rec.Path, &rec.Digest,
		&rec.Interfaces, &rec.Components, &loadedAt)
	if err != nil {
		return bundle.Record{}, err
	}

	rec.LoadedAt, _ = time.Parse(time.RFC3339, loadedAt)
	return rec, nil
}
