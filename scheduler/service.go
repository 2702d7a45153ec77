// Package scheduler ties the pieces together: it persists scheduled
// transactions, polls for due work, and drives the executor through
// each transaction's lifecycle.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solagent/txsched/errors"
	"github.com/solagent/txsched/event"
	"github.com/solagent/txsched/executor"
	"github.com/solagent/txsched/schedule"
)

// DefaultPollInterval matches one sweep per minute. Due detection works
// at this granularity; a transaction scheduled for 09:00:30 runs on the
// next sweep after that instant.
const DefaultPollInterval = 60 * time.Second

// Config contains service tuning.
type Config struct {
	PollInterval time.Duration
}

// Service is the scheduled-transaction engine. One instance owns the
// poll loop; submission and cancellation are safe from any goroutine.
type Service struct {
	store     *schedule.Store
	execStore *schedule.ExecutionStore
	executor  *executor.Executor
	bus       *event.Bus
	evaluator ConditionEvaluator
	interval  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *zap.SugaredLogger

	// inflight holds IDs claimed by the current sweep. It is the
	// transient "executing" phase; rows stay pending in storage so a
	// crash never strands a transaction in a half-state.
	mu       sync.Mutex
	inflight map[int64]struct{}
}

// New creates a scheduler service. The evaluator may be nil, in which
// case conditional schedules never fire and expire on their check
// budget.
func New(ctx context.Context, store *schedule.Store, execStore *schedule.ExecutionStore, exec *executor.Executor, bus *event.Bus, evaluator ConditionEvaluator, cfg Config, log *zap.SugaredLogger) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	serviceCtx, cancel := context.WithCancel(ctx)
	return &Service{
		store:     store,
		execStore: execStore,
		executor:  exec,
		bus:       bus,
		evaluator: evaluator,
		interval:  cfg.PollInterval,
		ctx:       serviceCtx,
		cancel:    cancel,
		log:       log,
		inflight:  make(map[int64]struct{}),
	}
}

// Start begins the poll loop.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Infow("Scheduler started", "poll_interval", s.interval)
}

// Stop cancels the poll loop and waits for an in-progress sweep to
// finish.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
	s.log.Infow("Scheduler stopped")
}

// ScheduleRequest is a submission for a new scheduled transaction.
type ScheduleRequest struct {
	OwnerID        string          `json:"owner_id"`
	ToolName       string          `json:"tool_name"`
	Parameters     json.RawMessage `json:"parameters"`
	ScheduleType   schedule.Type   `json:"schedule_type"`
	ScheduleConfig json.RawMessage `json:"schedule_config"`
	MaxExecutions  *int            `json:"max_executions,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// Schedule validates and persists a new scheduled transaction.
// Validation happens at submission so a doomed transaction is rejected
// immediately rather than failing silently at execution time.
func (s *Service) Schedule(req ScheduleRequest) (*schedule.Transaction, error) {
	if req.OwnerID == "" {
		return nil, errors.NewInvalidRequestError("owner_id is required")
	}
	if req.MaxExecutions != nil && *req.MaxExecutions <= 0 {
		return nil, errors.NewInvalidRequestError("max_executions must be positive")
	}

	cfg, err := schedule.ParseConfig(req.ScheduleType, req.ScheduleConfig)
	if err != nil {
		return nil, err
	}

	txn := &schedule.Transaction{
		OwnerID:       req.OwnerID,
		Category:      schedule.CategoryForTool(req.ToolName),
		ToolName:      req.ToolName,
		Parameters:    req.Parameters,
		Schedule:      cfg,
		Status:        schedule.StatusPending,
		MaxExecutions: req.MaxExecutions,
		Metadata:      req.Metadata,
	}

	if err := s.executor.CanExecute(txn); err != nil {
		return nil, err
	}

	next, err := initialNextExecution(cfg, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	txn.NextExecution = next

	if _, err := s.store.Create(txn); err != nil {
		return nil, err
	}

	s.log.Infow("Transaction scheduled",
		"transaction_id", txn.ID,
		"owner_id", txn.OwnerID,
		"tool", txn.ToolName,
		"schedule_type", cfg.Type,
		"next_execution", txn.NextExecution,
	)
	s.publish(event.Event{
		Kind:          event.KindScheduled,
		TransactionID: txn.ID,
		OwnerID:       txn.OwnerID,
		ToolName:      txn.ToolName,
		Timestamp:     time.Now().UTC(),
	})
	return txn, nil
}

// initialNextExecution computes the first due time for a freshly
// submitted schedule.
func initialNextExecution(cfg schedule.Config, now time.Time) (*time.Time, error) {
	switch cfg.Type {
	case schedule.TypeOnce:
		at := cfg.Once.ExecuteAt.UTC()
		return &at, nil

	case schedule.TypeRecurring:
		first := FirstOccurrence(cfg.Recurring, now)
		if first == nil {
			return nil, errors.NewInvalidRequestError("schedule window ends before the first execution")
		}
		return first, nil

	case schedule.TypeConditional:
		// First condition check on the next sweep.
		return &now, nil
	}
	return nil, errors.NewInvalidRequestError("unknown schedule type: %s", cfg.Type)
}

// Get retrieves a transaction owned by the given owner.
func (s *Service) Get(id int64, ownerID string) (*schedule.Transaction, error) {
	txn, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if txn.OwnerID != ownerID {
		// Do not leak other owners' transactions.
		return nil, errors.NewNotFoundError("scheduled transaction not found: %d", id)
	}
	return txn, nil
}

// List returns an owner's transactions, optionally filtered by status.
func (s *Service) List(ownerID string, status *schedule.Status, limit, offset int) ([]*schedule.Transaction, error) {
	return s.store.ListByOwner(ownerID, status, limit, offset)
}

// History returns the execution records for a transaction the owner
// can see.
func (s *Service) History(id int64, ownerID string, limit int) ([]*schedule.Execution, error) {
	if _, err := s.Get(id, ownerID); err != nil {
		return nil, err
	}
	return s.execStore.ListExecutions(id, limit)
}

// Cancel cancels a pending transaction. Cancelling anything already
// terminal is an error, not a silent success; the caller learns the
// transaction already ran (or failed, or was cancelled before).
func (s *Service) Cancel(id int64, ownerID string) error {
	changed, err := s.store.Cancel(id, ownerID)
	if err != nil {
		return err
	}
	if changed {
		s.log.Infow("Transaction cancelled", "transaction_id", id, "owner_id", ownerID)
		s.publish(event.Event{
			Kind:          event.KindCancelled,
			TransactionID: id,
			OwnerID:       ownerID,
			Timestamp:     time.Now().UTC(),
		})
		return nil
	}

	txn, err := s.Get(id, ownerID)
	if err != nil {
		return err
	}
	return errors.NewInvalidRequestError("transaction is %s, only pending transactions can be cancelled", txn.Status)
}

func (s *Service) publish(evt event.Event) {
	if s.bus != nil {
		s.bus.Publish(evt)
	}
}
