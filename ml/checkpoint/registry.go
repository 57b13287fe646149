// Package checkpoint keeps a history of saved model checkpoints in a sqlite database so the
// newest checkpoint for an architecture can be found again.
package checkpoint

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when no checkpoint matches a query.
var ErrNotFound = errors.New("no checkpoint recorded")

// Record describes one saved checkpoint.
type Record struct {
	ID              string
	ArchitectureKey string
	Path            string
	Loss            float64
	Accuracy        float64
	CreatedAt       time.Time
}

// Registry is a sqlite backed checkpoint history.
type Registry struct {
	db  *sql.DB
	clk clock.Clock
}

// Open opens (creating when needed) the registry database at path. Use ":memory:" for a
// throwaway registry.
func Open(ctx context.Context, path string) (*Registry, error) {
	return OpenWithClock(ctx, path, clock.New())
}

// OpenWithClock is Open with the clock used to timestamp records that carry none.
func OpenWithClock(ctx context.Context, path string, clk clock.Clock) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening checkpoint registry %q", path)
	}
	// an in-memory database only lives as long as its one connection
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "creating checkpoint registry schema"), db.Close())
	}
	return &Registry{db: db, clk: clk}, nil
}

// Record stores rec. A missing ID is filled with a new UUID and a zero CreatedAt with the
// current time; the stored record is returned.
func (r *Registry) Record(ctx context.Context, rec Record) (Record, error) {
	if rec.ArchitectureKey == "" || rec.Path == "" {
		return Record{}, errors.New("checkpoint record needs an architecture key and a path")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.clk.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, architecture_key, path, loss, accuracy, created_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ArchitectureKey, rec.Path, rec.Loss, rec.Accuracy, rec.CreatedAt.UnixNano())
	if err != nil {
		return Record{}, errors.Wrapf(err, "recording checkpoint %s", rec.ID)
	}
	return rec, nil
}

// Latest returns the newest checkpoint for key, or ErrNotFound.
func (r *Registry) Latest(ctx context.Context, key string) (Record, error) {
	recs, err := r.query(ctx, key, 1)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, errors.Wrapf(ErrNotFound, "for architecture %q", key)
	}
	return recs[0], nil
}

// List returns every checkpoint for key, newest first. An empty key lists all architectures.
func (r *Registry) List(ctx context.Context, key string) ([]Record, error) {
	return r.query(ctx, key, -1)
}

func (r *Registry) query(ctx context.Context, key string, limit int) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, architecture_key, path, loss, accuracy, created_unix_nanos
		FROM checkpoints
		WHERE ? = '' OR architecture_key = ?
		ORDER BY created_unix_nanos DESC
		LIMIT ?
	`, key, key, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying checkpoints")
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var created int64
		if err := rows.Scan(&rec.ID, &rec.ArchitectureKey, &rec.Path, &rec.Loss, &rec.Accuracy, &created); err != nil {
			return nil, errors.Wrap(err, "reading checkpoint row")
		}
		rec.CreatedAt = time.Unix(0, created)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}
