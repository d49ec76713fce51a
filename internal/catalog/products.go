// Package catalog exposes read-only product lookups. Product management is a
// separate CRUD surface; the engine only needs names and units for messages
// and snapshots.
package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrProductNotFound indicates an unknown product id.
var ErrProductNotFound = errors.New("product not found")

// Product carries the read-only attributes the engine consumes.
type Product struct {
	ID   int64
	Name string
	Unit string
}

// Repository reads the product catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a catalog repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns one product.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, name, unit FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Unit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &p, nil
}

// NamesByID returns a name lookup for the given product ids.
func (r *Repository) NamesByID(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[int64]string, len(ids))
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}
