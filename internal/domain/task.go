package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of an import task. The only legal
// transitions are pending -> processing -> completed and
// processing -> failed.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// ImportTask is one asynchronous execution of the import pipeline over one
// staged data source. Success + Failed never exceeds Total while the task
// is processing; rows with no usable value are excluded from both counters.
type ImportTask struct {
	ID           uuid.UUID  `json:"id"`
	FileName     string     `json:"file_name"`
	Status       TaskStatus `json:"status"`
	Total        int        `json:"total"`
	Success      int        `json:"success"`
	Failed       int        `json:"failed"`
	Skipped      int        `json:"skipped"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ImportError is a recorded, non-fatal failure to process a single input
// row. Entries are append-only and ordered by RowNo.
type ImportError struct {
	TaskID       uuid.UUID `json:"task_id"`
	RowNo        int       `json:"row_no"`
	RawRow       string    `json:"raw_row"`
	ErrorMessage string    `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}
