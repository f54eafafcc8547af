package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPriceType is applied when a value group does not name one.
const DefaultPriceType = "bid"

// PriceRec is one price quoted by a company for a product in a given
// month. Logical uniqueness is (ProductID, Company, Month); the store
// backs this with a constraint, the conflict policy decides what happens
// when an import collides with it.
type PriceRec struct {
	ID        int64            `json:"id"`
	ProductID int64            `json:"product_id"`
	Company   string           `json:"company"`
	Month     string           `json:"month"` // YYYY-MM
	Price     decimal.Decimal  `json:"price"`
	Quantity  *decimal.Decimal `json:"quantity,omitempty"`
	PriceType string           `json:"price_type"`
	Source    string           `json:"source"`
	CreatedAt time.Time        `json:"created_at"`
}
