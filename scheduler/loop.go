package scheduler

import (
	"fmt"
	"time"

	"github.com/solagent/txsched/errors"
	"github.com/solagent/txsched/event"
	"github.com/solagent/txsched/schedule"
	"github.com/solagent/txsched/tool"
)

// resultSummaryLimit keeps execution summaries readable in listings.
const resultSummaryLimit = 500

// run is the poll loop. One sweep per interval; an immediate first
// sweep picks up work that was already due at startup.
func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// A failed sweep sits out the following tick so a struggling
	// store is not hammered every interval.
	backoff := !s.sweep(time.Now().UTC())
	for {
		select {
		case <-s.ctx.Done():
			return
		case tickTime := <-ticker.C:
			if backoff {
				backoff = false
				continue
			}
			backoff = !s.sweep(tickTime.UTC())
		}
	}
}

// sweep processes everything due at now and reports whether the due
// set could be listed. Concurrent sweeps (or an overlapping manual
// sweep in tests) coordinate through the inflight set so no
// transaction executes twice.
func (s *Service) sweep(now time.Time) bool {
	due, err := s.store.ListDue(s.ctx, now)
	if err != nil {
		if s.ctx.Err() == nil {
			s.log.Warnw("Sweep failed to list due transactions", "error", err)
		}
		return false
	}

	for _, txn := range due {
		select {
		case <-s.ctx.Done():
			return true
		default:
		}

		if !s.claim(txn.ID) {
			continue
		}
		s.processDue(txn, now)
		s.release(txn.ID)
	}
	return true
}

func (s *Service) claim(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Service) release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// processDue drives one due transaction: conditional schedules get a
// condition check first, everything else executes.
func (s *Service) processDue(txn *schedule.Transaction, now time.Time) {
	if txn.Schedule.Type == schedule.TypeConditional {
		if !s.conditionSatisfied(txn, now) {
			return
		}
	}
	s.execute(txn, now)
}

// conditionSatisfied evaluates a conditional transaction's condition
// and handles the bookkeeping of an unsatisfied check: the counter
// advances, the next check is scheduled, and a schedule out of budget
// expires.
func (s *Service) conditionSatisfied(txn *schedule.Transaction, now time.Time) bool {
	cfg := txn.Schedule.Conditional

	satisfied := false
	if s.evaluator != nil {
		ok, err := s.evaluator.Evaluate(s.ctx, cfg.ConditionType, cfg.ConditionParams)
		if err != nil {
			s.log.Warnw("Condition evaluation failed",
				"transaction_id", txn.ID,
				"condition_type", cfg.ConditionType,
				"error", err,
			)
		}
		satisfied = ok && err == nil
	}
	if satisfied {
		return true
	}

	checks := txn.ConditionChecks + 1
	if cfg.MaxChecks != nil && checks >= *cfg.MaxChecks {
		if err := s.store.MarkExpired(txn.ID); err != nil {
			s.logLifecycleError("expire", txn.ID, err)
			return false
		}
		s.log.Infow("Conditional transaction expired",
			"transaction_id", txn.ID,
			"condition_type", cfg.ConditionType,
			"checks", checks,
		)
		s.publish(event.Event{
			Kind:          event.KindExpired,
			TransactionID: txn.ID,
			OwnerID:       txn.OwnerID,
			ToolName:      txn.ToolName,
			Timestamp:     now,
		})
		return false
	}

	nextCheck := now.Add(time.Duration(cfg.PollIntervalSeconds) * time.Second)
	if err := s.store.RecordConditionCheck(txn.ID, checks, nextCheck); err != nil {
		s.logLifecycleError("record condition check", txn.ID, err)
	}
	return false
}

// execute runs one execution attempt and records its outcome.
func (s *Service) execute(txn *schedule.Transaction, now time.Time) {
	execution := schedule.NewExecution(txn.ID)
	if err := s.execStore.CreateExecution(execution); err != nil {
		// Execution history is best effort; the attempt still runs.
		s.log.Errorw("Failed to create execution record",
			"transaction_id", txn.ID,
			"error", err,
		)
	}

	s.log.Infow("Executing scheduled transaction",
		"transaction_id", txn.ID,
		"execution_id", execution.ID,
		"owner_id", txn.OwnerID,
		"tool", txn.ToolName,
	)

	result, err := s.executor.Execute(s.ctx, txn)
	executionCount := txn.ExecutionCount + 1
	completedAt := time.Now().UTC()

	if err != nil || !result.Success() {
		msg := resultError(result, err)
		execution.Complete(schedule.ExecutionStatusFailed, nil, &msg)
		s.finishExecution(execution)

		if markErr := s.store.MarkFailed(txn.ID, msg, completedAt, executionCount); markErr != nil {
			s.logLifecycleError("mark failed", txn.ID, markErr)
			return
		}
		s.log.Warnw("Scheduled transaction failed",
			"transaction_id", txn.ID,
			"execution_id", execution.ID,
			"tool", txn.ToolName,
			"error", msg,
		)
		s.publish(event.Event{
			Kind:          event.KindFailed,
			TransactionID: txn.ID,
			OwnerID:       txn.OwnerID,
			ToolName:      txn.ToolName,
			Timestamp:     completedAt,
			ExecutionID:   execution.ID,
			Error:         msg,
		})
		return
	}

	summary := summarize(result)
	execution.Complete(schedule.ExecutionStatusCompleted, &summary, nil)
	s.finishExecution(execution)

	status, next := s.afterSuccess(txn, executionCount, completedAt)
	if markErr := s.store.MarkExecuted(txn.ID, status, completedAt, next, executionCount); markErr != nil {
		s.logLifecycleError("mark executed", txn.ID, markErr)
		return
	}

	s.log.Infow("Scheduled transaction executed",
		"transaction_id", txn.ID,
		"execution_id", execution.ID,
		"tool", txn.ToolName,
		"execution_count", executionCount,
		"next_execution", next,
	)
	s.publish(event.Event{
		Kind:          event.KindExecuted,
		TransactionID: txn.ID,
		OwnerID:       txn.OwnerID,
		ToolName:      txn.ToolName,
		Timestamp:     completedAt,
		ExecutionID:   execution.ID,
	})
}

// afterSuccess decides the post-execution state: recurring schedules
// with budget and an open window stay pending with a new occurrence,
// everything else finishes as executed.
func (s *Service) afterSuccess(txn *schedule.Transaction, executionCount int, executedAt time.Time) (schedule.Status, *time.Time) {
	if txn.Schedule.Type != schedule.TypeRecurring {
		return schedule.StatusExecuted, nil
	}
	if txn.MaxExecutions != nil && executionCount >= *txn.MaxExecutions {
		return schedule.StatusExecuted, nil
	}
	next := NextOccurrence(txn.Schedule.Recurring, executedAt)
	if next == nil {
		return schedule.StatusExecuted, nil
	}
	return schedule.StatusPending, next
}

func (s *Service) finishExecution(execution *schedule.Execution) {
	if err := s.execStore.UpdateExecution(execution); err != nil {
		s.log.Errorw("Failed to update execution record",
			"execution_id", execution.ID,
			"error", err,
		)
	}
}

// logLifecycleError distinguishes the benign case, a transaction
// cancelled while its attempt was running, from real storage failures.
func (s *Service) logLifecycleError(op string, id int64, err error) {
	if errors.IsNotFoundError(err) {
		s.log.Infow("Transaction no longer pending, dropping lifecycle update",
			"op", op,
			"transaction_id", id,
		)
		return
	}
	s.log.Errorw("Failed to update transaction lifecycle",
		"op", op,
		"transaction_id", id,
		"error", err,
	)
}

func resultError(result *tool.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	return result.Err
}

func summarize(result *tool.Result) string {
	if len(result.Payload) == 0 {
		return "completed"
	}
	summary := string(result.Payload)
	if len(summary) > resultSummaryLimit {
		summary = fmt.Sprintf("%s... (%d bytes)", summary[:resultSummaryLimit], len(result.Payload))
	}
	return summary
}
