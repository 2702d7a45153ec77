package schedule

import (
	"encoding/json"
	"sort"
	"time"
)

// Status is the lifecycle state of a scheduled transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing" // transient, never persisted
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Transaction is a persisted scheduled transaction. Parameters and
// Metadata are stored as raw JSON; validation of Parameters happens in
// the executor against the tool's category.
type Transaction struct {
	ID             int64
	OwnerID        string
	Category       string
	ToolName       string
	Parameters     json.RawMessage
	Schedule       Config
	Status         Status
	CreatedAt      time.Time
	NextExecution  *time.Time
	LastExecution  *time.Time
	ExecutionCount int
	MaxExecutions  *int
	ConditionChecks int
	ErrorMessage   *string
	Metadata       json.RawMessage
	UpdatedAt      time.Time
}

// schedulableTools is the allow-list of tools that may be scheduled,
// mapped to their validation category. Anything absent is rejected at
// submission time.
var schedulableTools = map[string]string{
	"smart_buy":           "buy",
	"smart_sell":          "sell",
	"jupiter_swap":        "swap",
	"transfer_sol":        "transfer",
	"pump_fun_buy":        "buy",
	"pump_fun_sell":       "sell",
	"aster_open_long":     "futures_long",
	"aster_close_position": "futures_close",
}

// IsSchedulable reports whether the named tool may be scheduled.
func IsSchedulable(toolName string) bool {
	_, ok := schedulableTools[toolName]
	return ok
}

// CategoryForTool maps a tool name to its validation category, or
// "unknown" for tools outside the allow-list.
func CategoryForTool(toolName string) string {
	if cat, ok := schedulableTools[toolName]; ok {
		return cat
	}
	return "unknown"
}

// AllowedTools returns the schedulable tool names in sorted order.
func AllowedTools() []string {
	names := make([]string, 0, len(schedulableTools))
	for name := range schedulableTools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
