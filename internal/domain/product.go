package domain

import "time"

// Product is the canonical catalog record a raw imported label resolves to.
// NormalizedName is the deterministic, cleaned form of the name used for
// matching; it is unique across the catalog.
type Product struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	CreatedAt      time.Time `json:"created_at"`
}
