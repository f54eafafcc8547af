package importer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/zyliufeng123/zhiguan-system/internal/catalog"
	"github.com/zyliufeng123/zhiguan-system/internal/domain"
	"github.com/zyliufeng123/zhiguan-system/internal/repository"
)

// PreviewRequest describes a dry run over a staged file.
type PreviewRequest struct {
	DataRef       string
	Mapping       domain.Mapping
	ConflictMode  domain.ConflictMode
	FallbackMonth string
	Limit         int
}

// PreviewValue is one parsed value group of a previewed row. Conflict is
// set when an existing record holds the same (product, company, month) and
// the chosen mode would not overwrite it.
type PreviewValue struct {
	Column   string `json:"column"`
	Company  string `json:"partner"`
	Price    string `json:"price"`
	Conflict bool   `json:"conflict"`
}

// PreviewRow reports what the import would do with one source row.
type PreviewRow struct {
	RowNo          int                 `json:"row_no"`
	Name           string              `json:"name"`
	NormalizedName string              `json:"normalized_name"`
	Month          string              `json:"month,omitempty"`
	Matches        []catalog.Candidate `json:"matches"`
	Values         []PreviewValue      `json:"values"`
	Excluded       bool                `json:"excluded"`
}

// PreviewResult returns the dry-run sample back to the caller.
type PreviewResult struct {
	TotalRows int          `json:"total_rows"`
	Rows      []PreviewRow `json:"rows"`
}

// Preview parses the staged file and runs normalization, matching, and
// period resolution over the first rows without writing anything.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (PreviewResult, error) {
	if err := req.Mapping.Validate(); err != nil {
		return PreviewResult{}, err
	}

	fileName, rc, err := s.source.Open(req.DataRef)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("failed to resolve data reference %q: %w", req.DataRef, err)
	}
	payload, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return PreviewResult{}, fmt.Errorf("failed to read staged file: %w", err)
	}

	tbl, err := parseTable(fileName, payload)
	if err != nil {
		return PreviewResult{}, err
	}
	bind, err := bindMapping(tbl, req.Mapping)
	if err != nil {
		return PreviewResult{}, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultPreviewLimit
	}

	result := PreviewResult{TotalRows: len(tbl.rows), Rows: []PreviewRow{}}
	for i, row := range tbl.rows {
		if i >= limit {
			break
		}
		preview, err := s.previewRow(ctx, tbl, row, i+1, bind, req)
		if err != nil {
			return PreviewResult{}, err
		}
		result.Rows = append(result.Rows, preview)
	}
	return result, nil
}

func (s *Service) previewRow(ctx context.Context, tbl table, row []string, rowNo int, bind binding, req PreviewRequest) (PreviewRow, error) {
	preview := PreviewRow{
		RowNo:   rowNo,
		Name:    tbl.cell(row, bind.nameCol),
		Matches: []catalog.Candidate{},
		Values:  []PreviewValue{},
	}
	if preview.Name == "" {
		preview.Excluded = true
		return preview, nil
	}

	preview.NormalizedName = catalog.Normalize(preview.Name)
	matches, err := s.matcher.Match(ctx, preview.NormalizedName, catalog.DefaultThreshold, catalog.DefaultLimit)
	if err != nil {
		return PreviewRow{}, err
	}
	preview.Matches = matches
	preview.Month = catalog.ResolvePeriod(tbl.cell(row, bind.dateCol), req.FallbackMonth)

	for _, g := range bind.groups {
		price, ok := parseLenientDecimal(tbl.cell(row, g.col))
		if !ok {
			continue
		}
		value := PreviewValue{Column: g.label, Company: g.company, Price: price.String()}
		if len(matches) > 0 && preview.Month != "" && req.ConflictMode != domain.ConflictOverwrite {
			_, findErr := s.prices.Find(ctx, matches[0].ProductID, g.company, preview.Month)
			if findErr == nil {
				value.Conflict = true
			} else if !errors.Is(findErr, repository.ErrNotFound) {
				return PreviewRow{}, findErr
			}
		}
		preview.Values = append(preview.Values, value)
	}
	return preview, nil
}
