package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Execution represents a single execution attempt of a scheduled
// transaction. Every attempt produces a record, so a retried failure
// leaves a visible trail.
type Execution struct {
	ID            string  `json:"id"`
	TransactionID int64   `json:"transaction_id"`
	Status        string  `json:"status"` // "running", "completed", "failed"
	StartedAt     string  `json:"started_at"`             // RFC3339 timestamp
	CompletedAt   *string `json:"completed_at,omitempty"` // null while running
	DurationMs    *int    `json:"duration_ms,omitempty"`
	ResultSummary *string `json:"result_summary,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// NewExecution starts an execution record for the given transaction.
func NewExecution(transactionID int64) *Execution {
	now := time.Now().UTC().Format(time.RFC3339)
	return &Execution{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		Status:        ExecutionStatusRunning,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Complete marks the execution finished with the given outcome.
func (e *Execution) Complete(status string, resultSummary, errorMessage *string) {
	now := time.Now().UTC()
	e.Status = status
	completedAt := now.Format(time.RFC3339)
	e.CompletedAt = &completedAt
	if started, err := time.Parse(time.RFC3339, e.StartedAt); err == nil {
		ms := int(now.Sub(started).Milliseconds())
		e.DurationMs = &ms
	}
	e.ResultSummary = resultSummary
	e.ErrorMessage = errorMessage
	e.UpdatedAt = now.Format(time.RFC3339)
}
