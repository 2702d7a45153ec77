package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/solagent/txsched/errors"
	"github.com/solagent/txsched/internal/timeexpr"
	"github.com/solagent/txsched/schedule"
	"github.com/solagent/txsched/tool"
)

// The adapter tools expose scheduling to an agent through the same
// tool interface the scheduled trading tools use. They are not
// schedulable themselves; the allow-list keeps an agent from
// scheduling a schedule.
//
// Owner scoping is implicit: the embedding session binds its owner to
// the invocation context with WithOwner, and the tools never accept an
// owner from their input payload. An agent cannot name another owner's
// transactions.

type ownerContextKey struct{}

// WithOwner binds the calling owner to ctx for the adapter tools.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, ownerID)
}

// OwnerFromContext returns the owner bound to ctx, if any.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerContextKey{}).(string)
	return owner, ok && owner != ""
}

const errNoOwner = "no owner bound to the session context"

// ScheduleToolInput is the request payload for schedule_transaction.
// ExecuteAt accepts natural language ("in 30 minutes", "tomorrow at
// 9am") and is used when no explicit schedule config is given.
type ScheduleToolInput struct {
	ToolName       string          `json:"tool_name"`
	Parameters     json.RawMessage `json:"parameters"`
	ExecuteAt      string          `json:"execute_at,omitempty"`
	ScheduleType   schedule.Type   `json:"schedule_type,omitempty"`
	ScheduleConfig json.RawMessage `json:"schedule_config,omitempty"`
	MaxExecutions  *int            `json:"max_executions,omitempty"`
}

// ScheduleToolOutput confirms a scheduled transaction.
type ScheduleToolOutput struct {
	TransactionID int64      `json:"transaction_id"`
	Status        string     `json:"status"`
	NextExecution *time.Time `json:"next_execution,omitempty"`
}

// ScheduleTool submits new scheduled transactions.
type ScheduleTool struct {
	service *Service
}

func NewScheduleTool(service *Service) *ScheduleTool {
	return &ScheduleTool{service: service}
}

func (t *ScheduleTool) Name() string { return "schedule_transaction" }

func (t *ScheduleTool) Invoke(ctx context.Context, params json.RawMessage) (*tool.Result, error) {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		return &tool.Result{Err: errNoOwner}, nil
	}

	var input ScheduleToolInput
	if err := json.Unmarshal(params, &input); err != nil {
		return &tool.Result{Err: "invalid schedule_transaction input"}, nil
	}

	req := ScheduleRequest{
		OwnerID:       owner,
		ToolName:      input.ToolName,
		Parameters:    input.Parameters,
		ScheduleType:  input.ScheduleType,
		MaxExecutions: input.MaxExecutions,
	}

	if input.ScheduleType == "" || (input.ScheduleType == schedule.TypeOnce && len(input.ScheduleConfig) == 0) {
		// Natural-language one-shot: resolve the expression, falling
		// back to one minute out when it cannot be understood.
		executeAt := timeexpr.Resolve(input.ExecuteAt, time.Now().UTC())
		cfg, err := json.Marshal(schedule.OnceConfig{ExecuteAt: executeAt})
		if err != nil {
			return nil, errors.Wrap(err, "failed to build once config")
		}
		req.ScheduleType = schedule.TypeOnce
		req.ScheduleConfig = cfg
	} else {
		req.ScheduleConfig = input.ScheduleConfig
	}

	txn, err := t.service.Schedule(req)
	if err != nil {
		if errors.IsInvalidRequestError(err) || errors.Is(err, errors.ErrNotSchedulable) {
			return &tool.Result{Err: err.Error()}, nil
		}
		return nil, err
	}

	return marshalResult(ScheduleToolOutput{
		TransactionID: txn.ID,
		Status:        string(txn.Status),
		NextExecution: txn.NextExecution,
	})
}

// ListToolInput is the request payload for list_scheduled_transactions.
type ListToolInput struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ListedTransaction is the agent-facing view of a transaction.
type ListedTransaction struct {
	TransactionID  int64           `json:"transaction_id"`
	ToolName       string          `json:"tool_name"`
	Category       string          `json:"category"`
	Parameters     json.RawMessage `json:"parameters"`
	ScheduleType   schedule.Type   `json:"schedule_type"`
	Status         string          `json:"status"`
	NextExecution  *time.Time      `json:"next_execution,omitempty"`
	LastExecution  *time.Time      `json:"last_execution,omitempty"`
	ExecutionCount int             `json:"execution_count"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
}

// ListTool lists an owner's scheduled transactions.
type ListTool struct {
	service *Service
}

func NewListTool(service *Service) *ListTool {
	return &ListTool{service: service}
}

func (t *ListTool) Name() string { return "list_scheduled_transactions" }

func (t *ListTool) Invoke(ctx context.Context, params json.RawMessage) (*tool.Result, error) {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		return &tool.Result{Err: errNoOwner}, nil
	}

	var input ListToolInput
	if err := json.Unmarshal(params, &input); err != nil {
		return &tool.Result{Err: "invalid list_scheduled_transactions input"}, nil
	}

	var status *schedule.Status
	if input.Status != "" {
		st := schedule.Status(input.Status)
		status = &st
	}

	txns, err := t.service.List(owner, status, input.Limit, input.Offset)
	if err != nil {
		return nil, err
	}

	listed := make([]ListedTransaction, 0, len(txns))
	for _, txn := range txns {
		listed = append(listed, ListedTransaction{
			TransactionID:  txn.ID,
			ToolName:       txn.ToolName,
			Category:       txn.Category,
			Parameters:     txn.Parameters,
			ScheduleType:   txn.Schedule.Type,
			Status:         string(txn.Status),
			NextExecution:  txn.NextExecution,
			LastExecution:  txn.LastExecution,
			ExecutionCount: txn.ExecutionCount,
			ErrorMessage:   txn.ErrorMessage,
		})
	}

	return marshalResult(map[string]interface{}{
		"transactions": listed,
		"count":        len(listed),
	})
}

// CancelToolInput is the request payload for cancel_scheduled_transaction.
type CancelToolInput struct {
	TransactionID int64 `json:"transaction_id"`
}

// CancelTool cancels a pending scheduled transaction.
type CancelTool struct {
	service *Service
}

func NewCancelTool(service *Service) *CancelTool {
	return &CancelTool{service: service}
}

func (t *CancelTool) Name() string { return "cancel_scheduled_transaction" }

func (t *CancelTool) Invoke(ctx context.Context, params json.RawMessage) (*tool.Result, error) {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		return &tool.Result{Err: errNoOwner}, nil
	}

	var input CancelToolInput
	if err := json.Unmarshal(params, &input); err != nil {
		return &tool.Result{Err: "invalid cancel_scheduled_transaction input"}, nil
	}

	if err := t.service.Cancel(input.TransactionID, owner); err != nil {
		if errors.IsNotFoundError(err) || errors.IsInvalidRequestError(err) {
			return &tool.Result{Err: err.Error()}, nil
		}
		return nil, err
	}

	return marshalResult(map[string]interface{}{
		"transaction_id": input.TransactionID,
		"cancelled":      true,
	})
}

// RegisterTools adds the adapter tools to a registry.
func RegisterTools(registry *tool.Registry, service *Service) {
	registry.Register(NewScheduleTool(service))
	registry.Register(NewListTool(service))
	registry.Register(NewCancelTool(service))
}

func marshalResult(payload interface{}) (*tool.Result, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal tool result")
	}
	return &tool.Result{Payload: data}, nil
}
