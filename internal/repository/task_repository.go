package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/zyliufeng123/zhiguan-system/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type taskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository wires an import task repository backed by pgxpool.
func NewTaskRepository(pool *pgxpool.Pool) TaskRepository {
	return &taskRepository{pool: pool}
}

func (r *taskRepository) Create(ctx context.Context, task domain.ImportTask) error {
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO import_tasks (id, file_name, status)
		 VALUES ($1, $2, $3)`,
		task.ID,
		task.FileName,
		string(task.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to create import task: %w", err)
	}
	return nil
}

func (r *taskRepository) Get(ctx context.Context, id uuid.UUID) (domain.ImportTask, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT id, file_name, status, total, success, failed, skipped,
		        COALESCE(error_message, ''), created_at, updated_at
		 FROM import_tasks
		 WHERE id = $1`,
		id,
	)

	var (
		task   domain.ImportTask
		status string
	)
	if err := row.Scan(
		&task.ID,
		&task.FileName,
		&status,
		&task.Total,
		&task.Success,
		&task.Failed,
		&task.Skipped,
		&task.ErrorMessage,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportTask{}, ErrNotFound
		}
		return domain.ImportTask{}, fmt.Errorf("failed to get import task: %w", err)
	}
	task.Status = domain.TaskStatus(status)
	return task, nil
}

func (r *taskRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.exec(
		ctx,
		`UPDATE import_tasks SET status = $2, updated_at = now() WHERE id = $1`,
		id,
		string(domain.TaskProcessing),
	)
}

func (r *taskRepository) SetTotal(ctx context.Context, id uuid.UUID, total int) error {
	return r.exec(
		ctx,
		`UPDATE import_tasks SET total = $2, updated_at = now() WHERE id = $1`,
		id,
		total,
	)
}

func (r *taskRepository) UpdateProgress(ctx context.Context, id uuid.UUID, success, failed, skipped int) error {
	return r.exec(
		ctx,
		`UPDATE import_tasks SET success = $2, failed = $3, skipped = $4, updated_at = now() WHERE id = $1`,
		id,
		success,
		failed,
		skipped,
	)
}

func (r *taskRepository) Complete(ctx context.Context, id uuid.UUID, success, failed, skipped int) error {
	return r.exec(
		ctx,
		`UPDATE import_tasks
		 SET status = $2, success = $3, failed = $4, skipped = $5, updated_at = now()
		 WHERE id = $1`,
		id,
		string(domain.TaskCompleted),
		success,
		failed,
		skipped,
	)
}

func (r *taskRepository) Fail(ctx context.Context, id uuid.UUID, message string) error {
	return r.exec(
		ctx,
		`UPDATE import_tasks SET status = $2, error_message = $3, updated_at = now() WHERE id = $1`,
		id,
		string(domain.TaskFailed),
		message,
	)
}

func (r *taskRepository) RecordError(ctx context.Context, e domain.ImportError) error {
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO import_errors (task_id, row_no, raw_row, error_message)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (task_id, row_no) DO NOTHING`,
		e.TaskID,
		e.RowNo,
		e.RawRow,
		e.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to record import error: %w", err)
	}
	return nil
}

func (r *taskRepository) ListErrors(ctx context.Context, id uuid.UUID, limit int) ([]domain.ImportError, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(
		ctx,
		`SELECT task_id, row_no, raw_row, error_message, created_at
		 FROM import_errors
		 WHERE task_id = $1
		 ORDER BY row_no
		 LIMIT $2`,
		id,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list import errors: %w", err)
	}
	defer rows.Close()

	result := []domain.ImportError{}
	for rows.Next() {
		var (
			e         domain.ImportError
			createdAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(&e.TaskID, &e.RowNo, &e.RawRow, &e.ErrorMessage, &createdAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan import error: %w", scanErr)
		}
		if createdAt.Valid {
			e.CreatedAt = createdAt.Time
		}
		result = append(result, e)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate import errors: %w", rowsErr)
	}
	return result, nil
}

func (r *taskRepository) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update import task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
