// Package event provides lifecycle notifications for scheduled
// transactions. Subscribers observe transitions without being on the
// scheduler's critical path.
package event

import (
	"time"
)

// Kind identifies a lifecycle transition.
type Kind string

const (
	KindScheduled Kind = "scheduled"
	KindExecuted  Kind = "executed"
	KindFailed    Kind = "failed"
	KindCancelled Kind = "cancelled"
	KindExpired   Kind = "expired"
)

// Event describes one lifecycle transition of a scheduled transaction.
type Event struct {
	Kind          Kind      `json:"kind"`
	TransactionID int64     `json:"transaction_id"`
	OwnerID       string    `json:"owner_id"`
	ToolName      string    `json:"tool_name"`
	Timestamp     time.Time `json:"timestamp"`

	// ExecutionID links to the execution record for executed/failed events.
	ExecutionID string `json:"execution_id,omitempty"`

	// Error carries the failure message for failed events.
	Error string `json:"error,omitempty"`
}
