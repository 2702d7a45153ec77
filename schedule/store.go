package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/solagent/txsched/errors"
)

const transactionColumns = `
	id, owner_id, category, tool_name, parameters,
	schedule_type, schedule_config, status,
	created_at, next_execution, last_execution,
	execution_count, max_executions, condition_checks,
	error_message, metadata, updated_at
`

// Store handles persistence of scheduled transactions.
type Store struct {
	db *sql.DB
}

// NewStore creates a new transaction store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new transaction and assigns its ID from the rowid.
func (s *Store) Create(txn *Transaction) (int64, error) {
	query := `
		INSERT INTO scheduled_transactions (
			owner_id, category, tool_name, parameters,
			schedule_type, schedule_config, status,
			created_at, next_execution, last_execution,
			execution_count, max_executions, condition_checks,
			error_message, metadata, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	configJSON, err := txn.Schedule.MarshalVariant()
	if err != nil {
		return 0, errors.Wrap(err, "failed to serialize schedule config")
	}

	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now
	if txn.Status == "" {
		txn.Status = StatusPending
	}

	var nextExecution interface{}
	if txn.NextExecution != nil {
		nextExecution = txn.NextExecution.UTC().Format(time.RFC3339)
	}
	var lastExecution interface{}
	if txn.LastExecution != nil {
		lastExecution = txn.LastExecution.UTC().Format(time.RFC3339)
	}
	var maxExecutions interface{}
	if txn.MaxExecutions != nil {
		maxExecutions = *txn.MaxExecutions
	}
	var errorMessage interface{}
	if txn.ErrorMessage != nil {
		errorMessage = *txn.ErrorMessage
	}
	var metadata interface{}
	if len(txn.Metadata) > 0 {
		metadata = string(txn.Metadata)
	}

	res, err := s.db.Exec(query,
		txn.OwnerID,
		txn.Category,
		txn.ToolName,
		string(txn.Parameters),
		string(txn.Schedule.Type),
		string(configJSON),
		string(txn.Status),
		txn.CreatedAt.Format(time.RFC3339),
		nextExecution,
		lastExecution,
		txn.ExecutionCount,
		maxExecutions,
		txn.ConditionChecks,
		errorMessage,
		metadata,
		txn.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create scheduled transaction")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read inserted transaction id")
	}
	txn.ID = id
	return id, nil
}

// Get retrieves a transaction by ID.
func (s *Store) Get(id int64) (*Transaction, error) {
	query := `SELECT` + transactionColumns + `FROM scheduled_transactions WHERE id = ?`

	txn, err := scanTransaction(s.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("scheduled transaction not found: %d", id)
		}
		return nil, errors.Wrapf(err, "failed to get scheduled transaction %d", id)
	}
	return txn, nil
}

// ListDue returns pending transactions whose next_execution has passed,
// oldest first. Limited to 100 rows per poll so one sweep cannot
// monopolize the executor.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*Transaction, error) {
	query := `SELECT` + transactionColumns + `
		FROM scheduled_transactions
		WHERE status = ? AND next_execution IS NOT NULL AND next_execution <= ?
		ORDER BY next_execution ASC
		LIMIT 100
	`

	rows, err := s.db.QueryContext(ctx, query, StatusPending, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query due transactions")
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// ListByOwner returns an owner's transactions, newest first. A nil
// status returns all states. Limit defaults to 50 and caps at 200.
func (s *Store) ListByOwner(ownerID string, status *Status, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT` + transactionColumns + `
		FROM scheduled_transactions
		WHERE owner_id = ?
	`
	args := []interface{}{ownerID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list transactions for owner %s", ownerID)
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// Cancel marks a pending transaction cancelled. The owner filter makes
// cancellation owner-scoped, and the status filter makes it a no-op on
// anything already terminal. Returns true only when a row changed.
func (s *Store) Cancel(id int64, ownerID string) (bool, error) {
	query := `
		UPDATE scheduled_transactions
		SET status = ?, next_execution = NULL, updated_at = ?
		WHERE id = ? AND owner_id = ? AND status = ?
	`

	res, err := s.db.Exec(query,
		StatusCancelled,
		time.Now().UTC().Format(time.RFC3339),
		id,
		ownerID,
		StatusPending,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to cancel scheduled transaction %d", id)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows > 0, nil
}

// MarkExecuted records a successful execution attempt. A non-nil
// nextExecution keeps the transaction pending for its next occurrence;
// nil finishes it with the given terminal status.
//
// Like all lifecycle updates, this only applies while the row is still
// pending. A cancellation that lands mid-execution therefore sticks.
func (s *Store) MarkExecuted(id int64, status Status, executedAt time.Time, nextExecution *time.Time, executionCount int) error {
	query := `
		UPDATE scheduled_transactions
		SET status = ?, last_execution = ?, next_execution = ?,
		    execution_count = ?, error_message = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`

	var next interface{}
	if nextExecution != nil {
		next = nextExecution.UTC().Format(time.RFC3339)
	}

	res, err := s.db.Exec(query,
		string(status),
		executedAt.UTC().Format(time.RFC3339),
		next,
		executionCount,
		time.Now().UTC().Format(time.RFC3339),
		id,
		StatusPending,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to mark transaction %d executed", id)
	}
	return requireRow(res, id)
}

// MarkFailed finishes a transaction with status failed and records the
// failure message.
func (s *Store) MarkFailed(id int64, errMsg string, failedAt time.Time, executionCount int) error {
	query := `
		UPDATE scheduled_transactions
		SET status = ?, last_execution = ?, next_execution = NULL,
		    execution_count = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	res, err := s.db.Exec(query,
		StatusFailed,
		failedAt.UTC().Format(time.RFC3339),
		executionCount,
		errMsg,
		time.Now().UTC().Format(time.RFC3339),
		id,
		StatusPending,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to mark transaction %d failed", id)
	}
	return requireRow(res, id)
}

// MarkExpired finishes a conditional transaction whose condition never
// held within its check budget.
func (s *Store) MarkExpired(id int64) error {
	query := `
		UPDATE scheduled_transactions
		SET status = ?, next_execution = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`

	res, err := s.db.Exec(query, StatusExpired, time.Now().UTC().Format(time.RFC3339), id, StatusPending)
	if err != nil {
		return errors.Wrapf(err, "failed to mark transaction %d expired", id)
	}
	return requireRow(res, id)
}

// RecordConditionCheck bumps the condition check counter and reschedules
// the next check.
func (s *Store) RecordConditionCheck(id int64, checks int, nextCheck time.Time) error {
	query := `
		UPDATE scheduled_transactions
		SET condition_checks = ?, next_execution = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	res, err := s.db.Exec(query,
		checks,
		nextCheck.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id,
		StatusPending,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record condition check for transaction %d", id)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id int64) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("scheduled transaction not found or no longer pending: %d", id)
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var txn Transaction
	var parameters, scheduleType, scheduleConfig, status string
	var createdAt, updatedAt string
	var nextExecution, lastExecution, errorMessage, metadata sql.NullString
	var maxExecutions sql.NullInt64

	err := row.Scan(
		&txn.ID,
		&txn.OwnerID,
		&txn.Category,
		&txn.ToolName,
		&parameters,
		&scheduleType,
		&scheduleConfig,
		&status,
		&createdAt,
		&nextExecution,
		&lastExecution,
		&txn.ExecutionCount,
		&maxExecutions,
		&txn.ConditionChecks,
		&errorMessage,
		&metadata,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.Parameters = []byte(parameters)
	txn.Status = Status(status)

	txn.Schedule, err = ParseConfig(Type(scheduleType), []byte(scheduleConfig))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse schedule config for transaction %d", txn.ID)
	}

	txn.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for transaction %d", txn.ID)
	}
	txn.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for transaction %d", txn.ID)
	}
	if nextExecution.Valid {
		t, err := time.Parse(time.RFC3339, nextExecution.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse next_execution for transaction %d", txn.ID)
		}
		txn.NextExecution = &t
	}
	if lastExecution.Valid {
		t, err := time.Parse(time.RFC3339, lastExecution.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse last_execution for transaction %d", txn.ID)
		}
		txn.LastExecution = &t
	}
	if maxExecutions.Valid {
		n := int(maxExecutions.Int64)
		txn.MaxExecutions = &n
	}
	if errorMessage.Valid {
		txn.ErrorMessage = &errorMessage.String
	}
	if metadata.Valid {
		txn.Metadata = []byte(metadata.String)
	}

	return &txn, nil
}
