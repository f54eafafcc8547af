package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/zyliufeng123/zhiguan-system/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type priceRepository struct {
	pool *pgxpool.Pool
}

// NewPriceRepository wires a price record repository backed by pgxpool.
func NewPriceRepository(pool *pgxpool.Pool) PriceRepository {
	return &priceRepository{pool: pool}
}

func (r *priceRepository) Find(ctx context.Context, productID int64, company, month string) (domain.PriceRec, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT id, product_id, company, month, price, quantity, price_type, source, created_at
		 FROM price_records
		 WHERE product_id = $1 AND company = $2 AND month = $3`,
		productID,
		company,
		month,
	)

	rec, err := scanPrice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PriceRec{}, ErrNotFound
		}
		return domain.PriceRec{}, fmt.Errorf("failed to find price record: %w", err)
	}
	return rec, nil
}

func (r *priceRepository) Insert(ctx context.Context, rec domain.PriceRec) (domain.PriceRec, error) {
	var quantity any
	if rec.Quantity != nil {
		quantity = rec.Quantity.String()
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO price_records (product_id, company, month, price, quantity, price_type, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, product_id, company, month, price, quantity, price_type, source, created_at`,
		rec.ProductID,
		rec.Company,
		rec.Month,
		rec.Price.String(),
		quantity,
		rec.PriceType,
		rec.Source,
	)

	inserted, err := scanPrice(row)
	if err != nil {
		return domain.PriceRec{}, fmt.Errorf("failed to insert price record: %w", err)
	}
	return inserted, nil
}

func (r *priceRepository) Update(ctx context.Context, id int64, upd PriceUpdate) error {
	var quantity any
	if upd.Quantity != nil {
		quantity = upd.Quantity.String()
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE price_records
		 SET price = $2, quantity = $3, price_type = $4, source = $5, created_at = now()
		 WHERE id = $1`,
		id,
		upd.Price.String(),
		quantity,
		upd.PriceType,
		upd.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to update price record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *priceRepository) ListByProduct(ctx context.Context, productID int64) ([]domain.PriceRec, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT id, product_id, company, month, price, quantity, price_type, source, created_at
		 FROM price_records
		 WHERE product_id = $1
		 ORDER BY month DESC, company`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list price records: %w", err)
	}
	defer rows.Close()

	records := []domain.PriceRec{}
	for rows.Next() {
		rec, scanErr := scanPrice(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan price record: %w", scanErr)
		}
		records = append(records, rec)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate price records: %w", rowsErr)
	}
	return records, nil
}

func scanPrice(row pgx.Row) (domain.PriceRec, error) {
	var (
		rec      domain.PriceRec
		price    pgtype.Numeric
		quantity pgtype.Numeric
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ProductID,
		&rec.Company,
		&rec.Month,
		&price,
		&quantity,
		&rec.PriceType,
		&rec.Source,
		&rec.CreatedAt,
	); err != nil {
		return domain.PriceRec{}, err
	}

	var err error
	rec.Price, err = numericToDecimal(price)
	if err != nil {
		return domain.PriceRec{}, err
	}
	if quantity.Valid {
		q, qErr := numericToDecimal(quantity)
		if qErr != nil {
			return domain.PriceRec{}, qErr
		}
		rec.Quantity = &q
	}
	return rec, nil
}

func numericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, nil
	}
	value, err := n.Value()
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read numeric: %w", err)
	}
	s, ok := value.(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected numeric driver value %T", value)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse numeric %q: %w", s, err)
	}
	return d, nil
}
