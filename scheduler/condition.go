package scheduler

import (
	"context"
	"encoding/json"
)

// ConditionEvaluator answers whether a conditional schedule's condition
// currently holds. Implementations query whatever market data or chain
// state the condition type needs.
//
// An error means the condition could not be evaluated; the scheduler
// treats that as not satisfied and the check still counts against the
// schedule's check budget.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, conditionType string, params json.RawMessage) (bool, error)
}

// ConditionFunc adapts a function to the ConditionEvaluator interface.
type ConditionFunc func(ctx context.Context, conditionType string, params json.RawMessage) (bool, error)

func (f ConditionFunc) Evaluate(ctx context.Context, conditionType string, params json.RawMessage) (bool, error) {
	return f(ctx, conditionType, params)
}
