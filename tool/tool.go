// Package tool defines the execution surface scheduled transactions run
// against. The scheduler never knows how a tool does its work; it only
// invokes registered tools by name with raw JSON parameters.
package tool

import (
	"context"
	"encoding/json"
)

// Tool is a named operation that a scheduled transaction can invoke.
//
// Invoke returns (result, nil) for a completed invocation, including
// invocations that failed at the business level; those carry a non-empty
// result.Err. A non-nil error means the invocation itself could not run
// (transport failure, timeout) and is eligible for retry.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, params json.RawMessage) (*Result, error)
}

// Result is the outcome of a tool invocation.
type Result struct {
	// Payload is the tool's JSON output, if any.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Err is a business-level failure message. Empty means success.
	Err string `json:"error,omitempty"`
}

// Success reports whether the invocation succeeded at the business level.
func (r *Result) Success() bool {
	return r != nil && r.Err == ""
}

// Func adapts a plain function to the Tool interface.
type Func struct {
	ToolName string
	Fn       func(ctx context.Context, params json.RawMessage) (*Result, error)
}

func (f Func) Name() string { return f.ToolName }

func (f Func) Invoke(ctx context.Context, params json.RawMessage) (*Result, error) {
	return f.Fn(ctx, params)
}
