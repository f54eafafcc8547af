package domain

import (
	"errors"
	"strings"
)

// ConflictMode is the policy applied when an imported value collides with
// an existing price for the same (product, company, month).
type ConflictMode string

const (
	ConflictSkip      ConflictMode = "skip"
	ConflictOverwrite ConflictMode = "overwrite"
)

// ParseConflictMode folds any unrecognized value to skip. That fallback is
// deliberate, not an error.
func ParseConflictMode(s string) ConflictMode {
	if ConflictMode(strings.ToLower(strings.TrimSpace(s))) == ConflictOverwrite {
		return ConflictOverwrite
	}
	return ConflictSkip
}

// ValueGroup maps one source column to the company whose price it carries.
type ValueGroup struct {
	Column    string `json:"column"`
	Company   string `json:"partner"`
	PriceType string `json:"value_type,omitempty"`
}

// Mapping describes how the columns of an uploaded table map onto the
// canonical import schema.
type Mapping struct {
	NameColumn     string       `json:"name_column"`
	DateColumn     string       `json:"date_column,omitempty"`
	QuantityColumn string       `json:"quantity_column,omitempty"`
	ValueGroups    []ValueGroup `json:"value_groups"`
}

var (
	ErrMappingNameColumn  = errors.New("mapping must name a product column")
	ErrMappingValueGroups = errors.New("mapping must include at least one value column group")
)

// Validate rejects mappings that cannot drive an import. Groups missing a
// column or company are tolerated here and skipped at processing time,
// but at least one usable group must exist.
func (m Mapping) Validate() error {
	if strings.TrimSpace(m.NameColumn) == "" {
		return ErrMappingNameColumn
	}
	usable := 0
	for _, g := range m.ValueGroups {
		if strings.TrimSpace(g.Column) != "" && strings.TrimSpace(g.Company) != "" {
			usable++
		}
	}
	if usable == 0 {
		return ErrMappingValueGroups
	}
	return nil
}
