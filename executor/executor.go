package executor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/solagent/txsched/errors"
	"github.com/solagent/txsched/schedule"
	"github.com/solagent/txsched/tool"
)

// Defaults for executor tuning.
const (
	DefaultTimeout    = 120 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryDelay = 5 * time.Second
	DefaultRateLimit  = rate.Limit(1) // invocations per second
	DefaultRateBurst  = 5
)

// Options tune executor behavior. Zero values take the defaults above;
// tests set RetryDelay to a small value to keep retries fast.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	RateLimit  rate.Limit
	RateBurst  int
}

// Executor invokes tools for due transactions. A single executor is
// shared by the scheduler; its rate limiter caps invocation throughput
// across all owners.
type Executor struct {
	registry   *tool.Registry
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	log        *zap.SugaredLogger
}

// New creates an executor over the given tool registry.
func New(registry *tool.Registry, opts Options, log *zap.SugaredLogger) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = DefaultRateBurst
	}

	return &Executor{
		registry:   registry,
		limiter:    rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		log:        log,
	}
}

// CanExecute runs the pre-flight checks for a transaction: the tool is
// on the allow-list, actually registered, and its parameters pass
// category validation. Pre-flight failures are permanent; the caller
// must not retry them.
func (e *Executor) CanExecute(txn *schedule.Transaction) error {
	if !schedule.IsSchedulable(txn.ToolName) {
		return errors.Wrapf(errors.ErrNotSchedulable, "tool not schedulable: %s", txn.ToolName)
	}
	if !e.registry.Has(txn.ToolName) {
		return errors.Newf("no tool registered for name: %s", txn.ToolName)
	}
	return ValidateParameters(schedule.CategoryForTool(txn.ToolName), txn.Parameters)
}

// Execute runs the transaction's tool. Transport-level failures (a
// non-nil error from Invoke) are retried up to MaxRetries times with a
// fixed delay; business-level failures come back as a completed Result
// with a non-empty Err and are never retried.
func (e *Executor) Execute(ctx context.Context, txn *schedule.Transaction) (*tool.Result, error) {
	if err := e.CanExecute(txn); err != nil {
		return nil, err
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter wait interrupted")
	}

	t := e.registry.Get(txn.ToolName)

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			e.log.Warnw("Retrying tool invocation",
				"transaction_id", txn.ID,
				"tool", txn.ToolName,
				"attempt", attempt+1,
				"error", lastErr,
			)
			select {
			case <-time.After(e.retryDelay):
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "retry wait interrupted")
			}
		}

		result, err := e.invokeOnce(ctx, t, txn)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, errors.Wrapf(lastErr, "tool invocation failed after %d attempts", e.maxRetries+1)
}

// invokeOnce runs a single invocation under the per-invocation timeout.
// A panicking tool is contained and reported as an invocation error.
func (e *Executor) invokeOnce(ctx context.Context, t tool.Tool, txn *schedule.Transaction) (result *tool.Result, err error) {
	invokeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.log.Errorw("Tool panicked during invocation",
				"transaction_id", txn.ID,
				"tool", txn.ToolName,
				"panic", r,
			)
			result = nil
			err = errors.Newf("tool %s panicked: %v", txn.ToolName, r)
		}
	}()

	result, err = t.Invoke(invokeCtx, txn.Parameters)
	if err != nil {
		if invokeCtx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrapf(errors.ErrTimeout, "tool %s timed out after %s", txn.ToolName, e.timeout)
		}
		return nil, err
	}
	if result == nil {
		return nil, errors.Newf("tool %s returned no result", txn.ToolName)
	}
	return result, nil
}
