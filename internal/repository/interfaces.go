package repository

import (
	"context"
	"errors"

	"github.com/zyliufeng123/zhiguan-system/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ProductRepository defines catalog access for canonical products.
type ProductRepository interface {
	GetByNormalizedName(ctx context.Context, key string) (domain.Product, error)
	// CreateOrFetch inserts a product for the given raw name and key, or
	// returns the existing product when the key is already taken. Atomic:
	// concurrent callers with the same key observe the same product.
	CreateOrFetch(ctx context.Context, name, normalizedName string) (domain.Product, error)
	// List returns the full catalog in insertion order, for similarity
	// scans.
	List(ctx context.Context) ([]domain.Product, error)
	Search(ctx context.Context, query string, limit int) ([]domain.Product, error)
}

// PriceUpdate carries the replacement fields for an overwrite.
type PriceUpdate struct {
	Price     decimal.Decimal
	Quantity  *decimal.Decimal
	PriceType string
	Source    string
}

// PriceRepository defines access to quoted price records.
type PriceRepository interface {
	Find(ctx context.Context, productID int64, company, month string) (domain.PriceRec, error)
	Insert(ctx context.Context, rec domain.PriceRec) (domain.PriceRec, error)
	Update(ctx context.Context, id int64, upd PriceUpdate) error
	ListByProduct(ctx context.Context, productID int64) ([]domain.PriceRec, error)
}

// TaskRepository persists import task state and per-row error records.
type TaskRepository interface {
	Create(ctx context.Context, task domain.ImportTask) error
	Get(ctx context.Context, id uuid.UUID) (domain.ImportTask, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	SetTotal(ctx context.Context, id uuid.UUID, total int) error
	// UpdateProgress checkpoints the running counters.
	UpdateProgress(ctx context.Context, id uuid.UUID, success, failed, skipped int) error
	Complete(ctx context.Context, id uuid.UUID, success, failed, skipped int) error
	Fail(ctx context.Context, id uuid.UUID, message string) error
	RecordError(ctx context.Context, e domain.ImportError) error
	// ListErrors returns at most limit records ordered by ascending row
	// number.
	ListErrors(ctx context.Context, id uuid.UUID, limit int) ([]domain.ImportError, error)
}
