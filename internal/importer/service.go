package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zyliufeng123/zhiguan-system/internal/catalog"
	"github.com/zyliufeng123/zhiguan-system/internal/domain"
	"github.com/zyliufeng123/zhiguan-system/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// checkpointInterval is how many rows pass between progress writes.
	// The final row always checkpoints.
	checkpointInterval = 100

	// maxStatusErrors caps the error list returned to pollers.
	maxStatusErrors = 100

	defaultPreviewLimit = 20
)

// Source resolves an opaque data reference to a readable staged file.
type Source interface {
	Open(ref string) (fileName string, r io.ReadCloser, err error)
}

// Service drives the import pipeline: it validates submissions, schedules
// them onto the worker pool, and runs the per-row
// normalize/match/resolve/write loop.
type Service struct {
	products repository.ProductRepository
	prices   repository.PriceRepository
	tasks    repository.TaskRepository
	matcher  catalog.Matcher
	source   Source
	runner   *Runner
	logger   *zap.Logger
}

// NewService wires the orchestrator. A nil logger is replaced with a nop.
func NewService(
	products repository.ProductRepository,
	prices repository.PriceRepository,
	tasks repository.TaskRepository,
	matcher catalog.Matcher,
	source Source,
	runner *Runner,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		products: products,
		prices:   prices,
		tasks:    tasks,
		matcher:  matcher,
		source:   source,
		runner:   runner,
		logger:   logger,
	}
}

// SubmitRequest describes one import job.
type SubmitRequest struct {
	DataRef       string
	Mapping       domain.Mapping
	ConflictMode  domain.ConflictMode
	FallbackMonth string
}

// Submit validates the request, persists the task in pending state, and
// schedules execution. Validation failures surface synchronously and no
// task is created. The returned task is immediately pollable.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (domain.ImportTask, error) {
	if err := req.Mapping.Validate(); err != nil {
		return domain.ImportTask{}, err
	}

	fileName, rc, err := s.source.Open(req.DataRef)
	if err != nil {
		return domain.ImportTask{}, fmt.Errorf("failed to resolve data reference %q: %w", req.DataRef, err)
	}
	rc.Close()

	task := domain.ImportTask{
		ID:       uuid.New(),
		FileName: fileName,
		Status:   domain.TaskPending,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return domain.ImportTask{}, err
	}

	s.runner.Submit(func() {
		// The request context dies with the HTTP call; the task does not.
		s.execute(context.Background(), task.ID, req)
	})

	s.logger.Info("import task submitted",
		zap.String("task_id", task.ID.String()),
		zap.String("file", fileName),
		zap.String("conflict_mode", string(req.ConflictMode)),
	)
	return task, nil
}

// Status returns the pollable view of a task: counters plus the first
// errors ordered by row number.
type Status struct {
	TaskID       uuid.UUID            `json:"task_id"`
	Status       domain.TaskStatus    `json:"status"`
	Total        int                  `json:"total"`
	Success      int                  `json:"success"`
	Failed       int                  `json:"failed"`
	Skipped      int                  `json:"skipped"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Errors       []domain.ImportError `json:"errors"`
}

func (s *Service) Status(ctx context.Context, id uuid.UUID) (Status, error) {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	rowErrors, err := s.tasks.ListErrors(ctx, id, maxStatusErrors)
	if err != nil {
		return Status{}, err
	}
	if len(rowErrors) > maxStatusErrors {
		rowErrors = rowErrors[:maxStatusErrors]
	}
	return Status{
		TaskID:       task.ID,
		Status:       task.Status,
		Total:        task.Total,
		Success:      task.Success,
		Failed:       task.Failed,
		Skipped:      task.Skipped,
		ErrorMessage: task.ErrorMessage,
		Errors:       rowErrors,
	}, nil
}

// execute is the task-level failure boundary: any error escaping the row
// loop marks the task failed with the captured message. Rows already
// written stay written.
func (s *Service) execute(ctx context.Context, taskID uuid.UUID, req SubmitRequest) {
	if err := s.tasks.MarkProcessing(ctx, taskID); err != nil {
		s.logger.Error("failed to mark task processing",
			zap.String("task_id", taskID.String()), zap.Error(err))
		return
	}

	if err := s.runImport(ctx, taskID, req); err != nil {
		s.logger.Error("import task failed",
			zap.String("task_id", taskID.String()), zap.Error(err))
		if failErr := s.tasks.Fail(ctx, taskID, err.Error()); failErr != nil {
			s.logger.Error("failed to mark task failed",
				zap.String("task_id", taskID.String()), zap.Error(failErr))
		}
		return
	}

	s.logger.Info("import task completed", zap.String("task_id", taskID.String()))
}

// binding resolves the mapping's column labels against one concrete table.
type binding struct {
	nameCol int
	dateCol int
	qtyCol  int
	groups  []boundGroup
}

type boundGroup struct {
	label     string
	col       int
	company   string
	priceType string
}

func bindMapping(tbl table, m domain.Mapping) (binding, error) {
	b := binding{
		nameCol: tbl.column(m.NameColumn),
		dateCol: -1,
		qtyCol:  -1,
	}
	if b.nameCol < 0 {
		return binding{}, fmt.Errorf("product column %q not present in file", m.NameColumn)
	}
	if m.DateColumn != "" {
		b.dateCol = tbl.column(m.DateColumn)
	}
	if m.QuantityColumn != "" {
		b.qtyCol = tbl.column(m.QuantityColumn)
	}
	for _, g := range m.ValueGroups {
		if strings.TrimSpace(g.Column) == "" || strings.TrimSpace(g.Company) == "" {
			continue
		}
		col := tbl.column(g.Column)
		if col < 0 {
			continue
		}
		priceType := strings.TrimSpace(g.PriceType)
		if priceType == "" {
			priceType = domain.DefaultPriceType
		}
		b.groups = append(b.groups, boundGroup{
			label:     g.Column,
			col:       col,
			company:   strings.TrimSpace(g.Company),
			priceType: priceType,
		})
	}
	if len(b.groups) == 0 {
		return binding{}, errors.New("no mapped value column is present in file")
	}
	return b, nil
}

func (s *Service) runImport(ctx context.Context, taskID uuid.UUID, req SubmitRequest) error {
	fileName, rc, err := s.source.Open(req.DataRef)
	if err != nil {
		return fmt.Errorf("failed to resolve data reference %q: %w", req.DataRef, err)
	}
	payload, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("failed to read staged file: %w", err)
	}

	tbl, err := parseTable(fileName, payload)
	if err != nil {
		return err
	}

	bind, err := bindMapping(tbl, req.Mapping)
	if err != nil {
		return err
	}

	total := len(tbl.rows)
	if err := s.tasks.SetTotal(ctx, taskID, total); err != nil {
		return err
	}

	var success, failed, skipped int
	for i, row := range tbl.rows {
		rowNo := i + 1

		res := s.processRow(ctx, taskID, tbl, row, bind, req)
		switch res.outcome {
		case rowWritten:
			success++
		case rowFailed:
			failed++
			s.recordRowError(ctx, taskID, rowNo, tbl, row, res.err)
		case rowExcluded:
			// neither counter moves
		}
		skipped += res.skipped

		if rowNo%checkpointInterval == 0 || rowNo == total {
			if err := s.tasks.UpdateProgress(ctx, taskID, success, failed, skipped); err != nil {
				return err
			}
		}
	}

	return s.tasks.Complete(ctx, taskID, success, failed, skipped)
}

type rowOutcome int

const (
	rowWritten rowOutcome = iota
	rowExcluded
	rowFailed
)

// rowResult is the tagged outcome of one row. skipped counts values that
// collided with an existing record under skip mode.
type rowResult struct {
	outcome rowOutcome
	err     error
	skipped int
}

func failRow(err error) rowResult {
	return rowResult{outcome: rowFailed, err: err}
}

// processRow is the per-row failure boundary. A blank product name
// excludes the row from both counters; so does a row whose values all
// parsed but never triggered a write.
func (s *Service) processRow(ctx context.Context, taskID uuid.UUID, tbl table, row []string, bind binding, req SubmitRequest) rowResult {
	name := tbl.cell(row, bind.nameCol)
	if name == "" {
		return rowResult{outcome: rowExcluded}
	}

	key := catalog.Normalize(name)
	productID, err := s.resolveProduct(ctx, name, key)
	if err != nil {
		return failRow(err)
	}

	month := catalog.ResolvePeriod(tbl.cell(row, bind.dateCol), req.FallbackMonth)
	if month == "" {
		month = time.Now().Format("2006-01")
	}

	var quantity *decimal.Decimal
	if bind.qtyCol >= 0 {
		if q, ok := parseLenientDecimal(tbl.cell(row, bind.qtyCol)); ok {
			quantity = &q
		}
	}

	wrote := false
	skipped := 0
	for _, g := range bind.groups {
		price, ok := parseLenientDecimal(tbl.cell(row, g.col))
		if !ok {
			// unparsable or empty value skips this group only
			continue
		}
		if price.Sign() <= 0 {
			return failRow(fmt.Errorf("column %q: price must be positive, got %s", g.label, price))
		}

		existing, err := s.prices.Find(ctx, productID, g.company, month)
		var existingRec *domain.PriceRec
		if err == nil {
			existingRec = &existing
		} else if !errors.Is(err, repository.ErrNotFound) {
			return failRow(err)
		}

		switch ResolveConflict(existingRec, req.ConflictMode) {
		case ActionInsert:
			rec := domain.PriceRec{
				ProductID: productID,
				Company:   g.company,
				Month:     month,
				Price:     price,
				Quantity:  quantity,
				PriceType: g.priceType,
				Source:    "import " + taskID.String(),
			}
			if _, err := s.prices.Insert(ctx, rec); err != nil {
				return failRow(err)
			}
			wrote = true
		case ActionUpdate:
			upd := repository.PriceUpdate{
				Price:     price,
				Quantity:  quantity,
				PriceType: g.priceType,
				Source:    "overwritten " + time.Now().Format("2006-01-02"),
			}
			if err := s.prices.Update(ctx, existing.ID, upd); err != nil {
				return failRow(err)
			}
			wrote = true
		case ActionSkip:
			skipped++
		}
	}

	if wrote {
		return rowResult{outcome: rowWritten, skipped: skipped}
	}
	return rowResult{outcome: rowExcluded, skipped: skipped}
}

// resolveProduct attaches the row to the best catalog match, creating the
// product when nothing scores above the threshold. Creation is an atomic
// insert-or-fetch, so two rows racing on the same key converge.
func (s *Service) resolveProduct(ctx context.Context, rawName, key string) (int64, error) {
	matches, err := s.matcher.Match(ctx, key, catalog.DefaultThreshold, catalog.DefaultLimit)
	if err != nil {
		return 0, err
	}
	if len(matches) > 0 {
		return matches[0].ProductID, nil
	}
	p, err := s.products.CreateOrFetch(ctx, rawName, key)
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (s *Service) recordRowError(ctx context.Context, taskID uuid.UUID, rowNo int, tbl table, row []string, rowErr error) {
	raw, err := json.Marshal(tbl.rowMap(row))
	if err != nil {
		raw = nil
	}
	record := domain.ImportError{
		TaskID:       taskID,
		RowNo:        rowNo,
		RawRow:       string(raw),
		ErrorMessage: rowErr.Error(),
	}
	if err := s.tasks.RecordError(ctx, record); err != nil {
		s.logger.Warn("failed to record row error",
			zap.String("task_id", taskID.String()),
			zap.Int("row_no", rowNo),
			zap.Error(err),
		)
	}
}

// parseLenientDecimal strips everything except digits, a single decimal
// point, and a leading minus sign before parsing. Returns false for empty
// or unparsable values.
func parseLenientDecimal(raw string) (decimal.Decimal, bool) {
	var b strings.Builder
	seenDot := false
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' && !seenDot:
			seenDot = true
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	switch cleaned {
	case "", "-", ".", "-.":
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
