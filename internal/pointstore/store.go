// Package pointstore keeps named point datasets in SQLite so sessions can
// be clustered from stored data.
package pointstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/geocluster/internal/cluster"
)

var (
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrDatasetExists   = errors.New("dataset already exists")
)

// Store is a SQLite point dataset store.
type Store struct {
	*sql.DB
	path string
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Open opens or creates the database at path and applies pending
// migrations. ":memory:" gives a private in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Dataset describes a stored point set.
type Dataset struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Points    int       `json:"points"`
}

// CreateDataset stores points under name. source records where they came
// from. Payloads are stored as JSON.
func (s *Store) CreateDataset(ctx context.Context, name, source string, points []cluster.Point) (*Dataset, error) {
	if name == "" {
		return nil, errors.New("dataset name must not be empty")
	}
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets WHERE name = ?`, name).Scan(&exists); err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, fmt.Errorf("%q: %w", name, ErrDatasetExists)
	}

	ds := &Dataset{
		ID:        uuid.NewString(),
		Name:      name,
		Source:    source,
		CreatedAt: time.Unix(time.Now().Unix(), 0),
		Points:    len(points),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO datasets (dataset_id, name, source, created_unix, point_count) VALUES (?, ?, ?, ?, ?)`,
		ds.ID, ds.Name, ds.Source, ds.CreatedAt.Unix(), ds.Points,
	); err != nil {
		return nil, fmt.Errorf("insert dataset: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO points (dataset_id, seq, lat, lng, payload) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	for i, p := range points {
		var payload sql.NullString
		if p.Payload != nil {
			b, err := json.Marshal(p.Payload)
			if err != nil {
				return nil, fmt.Errorf("point %d: encode payload: %w", i, err)
			}
			payload = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, ds.ID, i, p.Lat, p.Lng, payload); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ds, nil
}

// GetDataset returns the metadata of the named dataset.
func (s *Store) GetDataset(ctx context.Context, name string) (*Dataset, error) {
	row := s.QueryRowContext(ctx,
		`SELECT dataset_id, name, source, created_unix, point_count FROM datasets WHERE name = ?`, name)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", name, ErrDatasetNotFound)
	}
	return ds, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDataset(row scanner) (*Dataset, error) {
	var ds Dataset
	var created int64
	if err := row.Scan(&ds.ID, &ds.Name, &ds.Source, &created, &ds.Points); err != nil {
		return nil, err
	}
	ds.CreatedAt = time.Unix(created, 0)
	return &ds, nil
}

// ListDatasets returns every dataset ordered by name.
func (s *Store) ListDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT dataset_id, name, source, created_unix, point_count FROM datasets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	datasets := []Dataset{}
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, *ds)
	}
	return datasets, rows.Err()
}

// LoadDataset returns the points of the named dataset in insertion order.
func (s *Store) LoadDataset(ctx context.Context, name string) ([]cluster.Point, error) {
	ds, err := s.GetDataset(ctx, name)
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx,
		`SELECT lat, lng, payload FROM points WHERE dataset_id = ? ORDER BY seq`, ds.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]cluster.Point, 0, ds.Points)
	for rows.Next() {
		var lat, lng float64
		var payload sql.NullString
		if err := rows.Scan(&lat, &lng, &payload); err != nil {
			return nil, err
		}
		var v any
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &v); err != nil {
				return nil, fmt.Errorf("point %d: decode payload: %w", len(points), err)
			}
		}
		points = append(points, cluster.NewPoint(lat, lng, v))
	}
	return points, rows.Err()
}

// DeleteDataset removes the named dataset and its points.
func (s *Store) DeleteDataset(ctx context.Context, name string) error {
	res, err := s.ExecContext(ctx, `DELETE FROM datasets WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%q: %w", name, ErrDatasetNotFound)
	}
	return nil
}
