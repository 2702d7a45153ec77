package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/solagent/txsched/errors"
	"github.com/solagent/txsched/event"
	"github.com/solagent/txsched/executor"
	txtesting "github.com/solagent/txsched/internal/testing"
	"github.com/solagent/txsched/internal/util"
	"github.com/solagent/txsched/schedule"
	"github.com/solagent/txsched/tool"
)

const testMint = "So11111111111111111111111111111111111111112"

type testHarness struct {
	service  *Service
	store    *schedule.Store
	registry *tool.Registry
	bus      *event.Bus
	events   <-chan event.Event
}

// newHarness builds a service on an in-memory database. The poll loop
// is never started; tests drive sweeps directly for determinism.
func newHarness(t *testing.T, evaluator ConditionEvaluator) *testHarness {
	t.Helper()

	database := txtesting.CreateTestDB(t)
	store := schedule.NewStore(database)
	execStore := schedule.NewExecutionStore(database)
	registry := tool.NewRegistry()
	log := zap.NewNop().Sugar()

	exec := executor.New(registry, executor.Options{
		RetryDelay: time.Millisecond,
		RateLimit:  rate.Inf,
	}, log)

	bus := event.NewBus(log)
	t.Cleanup(bus.Close)
	events, unsub := bus.Subscribe()
	t.Cleanup(unsub)

	service := New(context.Background(), store, execStore, exec, bus, evaluator, Config{PollInterval: time.Minute}, log)
	t.Cleanup(service.Stop)

	return &testHarness{
		service:  service,
		store:    store,
		registry: registry,
		bus:      bus,
		events:   events,
	}
}

func (h *testHarness) registerCountingTool(name string, result *tool.Result, invokeErr error) *atomic.Int32 {
	var calls atomic.Int32
	h.registry.Register(tool.Func{
		ToolName: name,
		Fn: func(ctx context.Context, params json.RawMessage) (*tool.Result, error) {
			calls.Add(1)
			return result, invokeErr
		},
	})
	return &calls
}

func (h *testHarness) waitEvent(t *testing.T, kind event.Kind) event.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-h.events:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func onceRequest(owner string, executeAt time.Time) ScheduleRequest {
	cfg, _ := json.Marshal(schedule.OnceConfig{ExecuteAt: executeAt})
	return ScheduleRequest{
		OwnerID:        owner,
		ToolName:       "smart_buy",
		Parameters:     []byte(`{"mint":"` + testMint + `","amount_sol":0.5}`),
		ScheduleType:   schedule.TypeOnce,
		ScheduleConfig: cfg,
	}
}

func TestOnceExecutesExactlyOnce(t *testing.T) {
	h := newHarness(t, nil)
	calls := h.registerCountingTool("smart_buy", &tool.Result{Payload: []byte(`{"signature":"abc"}`)}, nil)

	now := time.Now().UTC()
	txn, err := h.service.Schedule(onceRequest("user-1", now))
	require.NoError(t, err)
	require.NotNil(t, txn.NextExecution)

	h.service.sweep(now.Add(time.Second))
	assert.Equal(t, int32(1), calls.Load())

	got, err := h.store.Get(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusExecuted, got.Status)
	assert.Nil(t, got.NextExecution)
	assert.Equal(t, 1, got.ExecutionCount)
	require.NotNil(t, got.LastExecution)

	evt := h.waitEvent(t, event.KindExecuted)
	assert.Equal(t, txn.ID, evt.TransactionID)
	assert.NotEmpty(t, evt.ExecutionID)

	// Later sweeps find nothing; the transaction never runs again.
	h.service.sweep(now.Add(time.Hour))
	assert.Equal(t, int32(1), calls.Load())

	history, err := h.service.History(txn.ID, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, schedule.ExecutionStatusCompleted, history[0].Status)
}

func TestOverdueTransactionStillExecutes(t *testing.T) {
	h := newHarness(t, nil)
	calls := h.registerCountingTool("smart_buy", &tool.Result{}, nil)

	// Scheduled for two hours ago, as if the daemon was down.
	now := time.Now().UTC()
	txn, err := h.service.Schedule(onceRequest("user-1", now.Add(-2*time.Hour)))
	require.NoError(t, err)

	h.service.sweep(now)
	assert.Equal(t, int32(1), calls.Load())

	got, err := h.store.Get(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusExecuted, got.Status)
}

func TestScheduleRejections(t *testing.T) {
	h := newHarness(t, nil)
	h.registerCountingTool("smart_buy", &tool.Result{}, nil)

	now := time.Now().UTC()

	req := onceRequest("", now)
	_, err := h.service.Schedule(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner_id is required")

	req = onceRequest("user-1", now)
	req.ToolName = "get_balance"
	_, err = h.service.Schedule(req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotSchedulable))

	req = onceRequest("user-1", now)
	req.Parameters = []byte(`{"mint":"` + testMint + `","amount_sol":5000}`)
	_, err = h.service.Schedule(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount_sol exceeds maximum limit of 1000 SOL")

	req = onceRequest("user-1", now)
	req.MaxExecutions = util.Ptr(0)
	_, err = h.service.Schedule(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_executions must be positive")

	// Nothing was persisted for the rejected submissions.
	txns, err := h.service.List("user-1", nil, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestRecurringStopsAtMaxExecutions(t *testing.T) {
	h := newHarness(t, nil)
	calls := h.registerCountingTool("smart_buy", &tool.Result{}, nil)

	cfg, err := json.Marshal(schedule.RecurringConfig{Frequency: schedule.FrequencyHourly})
	require.NoError(t, err)

	txn, err := h.service.Schedule(ScheduleRequest{
		OwnerID:        "user-1",
		ToolName:       "smart_buy",
		Parameters:     []byte(`{"mint":"` + testMint + `","amount_sol":0.1}`),
		ScheduleType:   schedule.TypeRecurring,
		ScheduleConfig: cfg,
		MaxExecutions:  util.Ptr(2),
	})
	require.NoError(t, err)
	require.NotNil(t, txn.NextExecution)

	// First occurrence, about an hour out.
	h.service.sweep(txn.NextExecution.Add(time.Second))
	assert.Equal(t, int32(1), calls.Load())

	got, err := h.store.Get(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusPending, got.Status)
	assert.Equal(t, 1, got.ExecutionCount)
	require.NotNil(t, got.NextExecution, "recurring transaction must be rescheduled")

	// Second occurrence exhausts the budget.
	h.service.sweep(got.NextExecution.Add(time.Second))
	assert.Equal(t, int32(2), calls.Load())

	got, err = h.store.Get(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusExecuted, got.Status)
	assert.Equal(t, 2, got.ExecutionCount)
	assert.Nil(t, got.NextExecution)

	// No third run, ever.
	h.service.sweep(time.Now().UTC().Add(48 * time.Hour))
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecutionFailureMarksFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.registerCountingTool("smart_buy", &tool.Result{Err: "insufficient balance"}, nil)

	now := time.Now().UTC()
	txn, err := h.service.Schedule(onceRequest("user-1", now))
	require.NoError(t, err)

	h.service.sweep(now.Add(time.Second))

	got, err := h.store.Get(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusFailed, got.Status)
	assert.Nil(t, got.NextExecution)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "insufficient balance", *got.ErrorMessage)

	evt := h.waitEvent(t, event.KindFailed)
	assert.Equal(t, "insufficient balance", evt.Error)

	history, err := h.service.History(txn.ID, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, schedule.ExecutionStatusFailed, history[0].Status)
}

func TestConditionalExecutesWhenSatisfied(t *testing.T) {
	var checks atomic.Int32
	evaluator := ConditionFunc(func(ctx context.Context, conditionType string, params json.RawMessage) (bool, error) {
		return checks.Add(1) >= 3, nil
	})

	h := newHarness(t, evaluator)
	calls := h.registerCountingTool("smart_buy", &tool.Result{}, nil)

	cfg, err := json.Marshal(schedule.ConditionalConfig{
		ConditionType:       "price_above",
		ConditionParams:     []byte(`{"mint":"` + testMint + `","threshold":250}`),
		PollIntervalSeconds: 60,
		MaxChecks:           util.Ptr(10),
	})
	require.NoError(t, err)

	txn, err := h.service.Schedule(ScheduleRequest{
		OwnerID:        "user-1",
		ToolName:       "smart_buy",
		Parameters:     []byte(`{"mint":"` + testMint + `","amount_sol":0.1}`),
		ScheduleType:   schedule.TypeConditional,
		ScheduleConfig: cfg,
	})
	require.NoError(t, err)

	now := time.Now().UTC()

	// Two unsatisfied checks bump the counter and reschedule.
	h.service.sweep(now.Add(time.Second))
	h.service.sweep(now.Add(2 * time.Minute))
	assert.Equal(t, int32(0), calls.Load())

	got, err := h.store.Get(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusPending, got.Status)
	assert.Equal(t, 2, got.ConditionChecks)

	// Third check satisfies the condition and executes.
	h.service.sweep(now.Add(4 * time.Minute))
	assert.Equal(t, int32(1), calls.Load())

	got, err = h.store.Get(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusExecuted, got.Status)
	assert.Nil(t, got.NextExecution)
}

func TestConditionalExpiresAtMaxChecks(t *testing.T) {
	evaluator := ConditionFunc(func(ctx context.Context, conditionType string, params json.RawMessage) (bool, error) {
		return false, nil
	})

	h := newHarness(t, evaluator)
	calls := h.registerCountingTool("smart_buy", &tool.Result{}, nil)

	cfg, err := json.Marshal(schedule.ConditionalConfig{
		ConditionType:       "price_above",
		PollIntervalSeconds: 60,
		MaxChecks:           util.Ptr(2),
	})
	require.NoError(t, err)

	txn, err := h.service.Schedule(ScheduleRequest{
		OwnerID:        "user-1",
		ToolName:       "smart_buy",
		Parameters:     []byte(`{"mint":"` + testMint + `","amount_sol":0.1}`),
		ScheduleType:   schedule.TypeConditional,
		ScheduleConfig: cfg,
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	h.service.sweep(now.Add(time.Second))
	h.service.sweep(now.Add(2 * time.Minute))

	got, err := h.store.Get(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusExpired, got.Status)
	assert.Nil(t, got.NextExecution)
	assert.Equal(t, int32(0), calls.Load())

	evt := h.waitEvent(t, event.KindExpired)
	assert.Equal(t, txn.ID, evt.TransactionID)
}

func TestConditionEvaluatorErrorCountsAsCheck(t *testing.T) {
	evaluator := ConditionFunc(func(ctx context.Context, conditionType string, params json.RawMessage) (bool, error) {
		return true, errors.New("price feed unavailable")
	})

	h := newHarness(t, evaluator)
	calls := h.registerCountingTool("smart_buy", &tool.Result{}, nil)

	cfg, err := json.Marshal(schedule.ConditionalConfig{
		ConditionType:       "price_above",
		PollIntervalSeconds: 60,
	})
	require.NoError(t, err)

	txn, err := h.service.Schedule(ScheduleRequest{
		OwnerID:        "user-1",
		ToolName:       "smart_buy",
		Parameters:     []byte(`{"mint":"` + testMint + `","amount_sol":0.1}`),
		ScheduleType:   schedule.TypeConditional,
		ScheduleConfig: cfg,
	})
	require.NoError(t, err)

	h.service.sweep(time.Now().UTC().Add(time.Second))

	// An evaluator error never triggers execution.
	assert.Equal(t, int32(0), calls.Load())

	got, err := h.store.Get(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusPending, got.Status)
	assert.Equal(t, 1, got.ConditionChecks)
}

func TestNoDoubleExecutionUnderConcurrentSweeps(t *testing.T) {
	h := newHarness(t, nil)

	var calls atomic.Int32
	h.registry.Register(tool.Func{
		ToolName: "smart_buy",
		Fn: func(ctx context.Context, params json.RawMessage) (*tool.Result, error) {
			calls.Add(1)
			time.Sleep(50 * time.Millisecond) // hold the claim across the overlap
			return &tool.Result{}, nil
		},
	})

	now := time.Now().UTC()
	_, err := h.service.Schedule(onceRequest("user-1", now))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.service.sweep(now.Add(time.Second))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "overlapping sweeps must not double-execute")
}

func TestCancelSemantics(t *testing.T) {
	h := newHarness(t, nil)
	calls := h.registerCountingTool("smart_buy", &tool.Result{}, nil)

	now := time.Now().UTC()
	txn, err := h.service.Schedule(onceRequest("user-1", now.Add(time.Hour)))
	require.NoError(t, err)

	// Wrong owner sees not-found, not someone else's transaction.
	err = h.service.Cancel(txn.ID, "user-2")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	require.NoError(t, h.service.Cancel(txn.ID, "user-1"))
	evt := h.waitEvent(t, event.KindCancelled)
	assert.Equal(t, txn.ID, evt.TransactionID)

	// Cancelling again reports the current state instead of pretending
	// success.
	err = h.service.Cancel(txn.ID, "user-1")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Contains(t, err.Error(), "transaction is cancelled")

	err = h.service.Cancel(9999, "user-1")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	// A cancelled transaction never executes.
	h.service.sweep(now.Add(2 * time.Hour))
	assert.Equal(t, int32(0), calls.Load())
}

func TestGetAndListOwnerScoping(t *testing.T) {
	h := newHarness(t, nil)
	h.registerCountingTool("smart_buy", &tool.Result{}, nil)

	now := time.Now().UTC()
	mine, err := h.service.Schedule(onceRequest("user-1", now.Add(time.Hour)))
	require.NoError(t, err)
	_, err = h.service.Schedule(onceRequest("user-2", now.Add(time.Hour)))
	require.NoError(t, err)

	got, err := h.service.Get(mine.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)

	_, err = h.service.Get(mine.ID, "user-2")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	txns, err := h.service.List("user-1", nil, 50, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, mine.ID, txns[0].ID)

	_, err = h.service.History(mine.ID, "user-2", 10)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, nil)
	calls := h.registerCountingTool("smart_buy", &tool.Result{}, nil)

	now := time.Now().UTC()
	_, err := h.service.Schedule(onceRequest("user-1", now.Add(-time.Minute)))
	require.NoError(t, err)

	// The loop's immediate first sweep picks up the overdue row.
	h.service.Start()
	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.service.Stop()
}

func TestSweepReportsStoreFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	log := zap.NewNop().Sugar()
	exec := executor.New(tool.NewRegistry(), executor.Options{RateLimit: rate.Inf}, log)
	service := New(context.Background(), schedule.NewStore(mockDB), schedule.NewExecutionStore(mockDB),
		exec, nil, nil, Config{}, log)
	t.Cleanup(service.Stop)

	// The loop sits out one tick after this before sweeping again.
	assert.False(t, service.sweep(time.Now().UTC()))

	h := newHarness(t, nil)
	assert.True(t, h.service.sweep(time.Now().UTC()))
}
