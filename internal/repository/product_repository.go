package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/zyliufeng123/zhiguan-system/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type productRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository wires a catalog repository backed by pgxpool.
func NewProductRepository(pool *pgxpool.Pool) ProductRepository {
	return &productRepository{pool: pool}
}

func (r *productRepository) GetByNormalizedName(ctx context.Context, key string) (domain.Product, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT id, name, COALESCE(normalized_name, ''), created_at
		 FROM products
		 WHERE normalized_name = $1`,
		key,
	)

	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.NormalizedName, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, ErrNotFound
		}
		return domain.Product{}, fmt.Errorf("failed to get product by key: %w", err)
	}
	return p, nil
}

// CreateOrFetch relies on the unique index over normalized_name: a
// concurrent insert of the same key resolves to the winner's row instead
// of erroring. The no-op DO UPDATE makes RETURNING yield the existing row.
func (r *productRepository) CreateOrFetch(ctx context.Context, name, normalizedName string) (domain.Product, error) {
	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO products (name, normalized_name)
		 VALUES ($1, $2)
		 ON CONFLICT (normalized_name)
		 DO UPDATE SET normalized_name = EXCLUDED.normalized_name
		 RETURNING id, name, COALESCE(normalized_name, ''), created_at`,
		name,
		normalizedName,
	)

	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.NormalizedName, &p.CreatedAt); err != nil {
		return domain.Product{}, fmt.Errorf("failed to create or fetch product: %w", err)
	}
	return p, nil
}

func (r *productRepository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT id, name, COALESCE(normalized_name, ''), created_at
		 FROM products
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

func (r *productRepository) Search(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(
		ctx,
		`SELECT id, name, COALESCE(normalized_name, ''), created_at
		 FROM products
		 WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR normalized_name ILIKE '%' || $1 || '%'
		 ORDER BY id
		 LIMIT $2`,
		query,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

func scanProducts(rows pgx.Rows) ([]domain.Product, error) {
	products := []domain.Product{}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.NormalizedName, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}
