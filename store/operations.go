package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const operationColumns = `id, type, cluster_id, status, requested_by, approved_by, payload_json, result_json, error_message, created_at, updated_at`

// allowedTransitions is the monotone status lattice from spec section 3:
// pending -> {approved, cancelled}; approved -> {executing, failed};
// executing -> {complete, partial, failed}. approved -> failed is the
// engine's execution-time policy rejection. Reverse transitions are
// forbidden and every other pair is simply absent from this map.
var allowedTransitions = map[OperationStatus]map[OperationStatus]bool{
	StatusPending:   {StatusApproved: true, StatusCancelled: true},
	StatusApproved:  {StatusExecuting: true, StatusFailed: true},
	StatusExecuting: {StatusComplete: true, StatusPartial: true, StatusFailed: true},
}

func (s *Store) scanOperation(row interface{ Scan(...any) error }) (Operation, error) {
	var op Operation
	if err := row.Scan(&op.ID, &op.Type, &op.ClusterID, &op.Status, &op.RequestedBy, &op.ApprovedBy,
		&op.PayloadJSON, &op.ResultJSON, &op.ErrorMessage, &op.CreatedAt, &op.UpdatedAt); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// CreateOperation persists a new operation in status pending.
func (s *Store) CreateOperation(ctx context.Context, opType OperationType, clusterID int64, requestedBy, payloadJSON string) (Operation, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (type, cluster_id, status, requested_by, payload_json)
		VALUES (?, ?, ?, ?, ?)`,
		string(opType), clusterID, string(StatusPending), strings.TrimSpace(requestedBy), payloadJSON)
	if err != nil {
		return Operation{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Operation{}, err
	}
	return s.GetOperationByID(ctx, id)
}

// GetOperationByID looks up an operation by its primary key.
func (s *Store) GetOperationByID(ctx context.Context, id int64) (Operation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = ?`, id)
	op, err := s.scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Operation{}, notFoundf("operation %d not found", id)
	}
	return op, err
}

// ListOperations returns the most recently created operations, newest
// first, bounded by limit.
func (s *Store) ListOperations(ctx context.Context, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+operationColumns+` FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Operation
	for rows.Next() {
		op, err := s.scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// updateOperationStatusLocked performs the validated transition inside a
// caller-owned transaction-free update (a single UPDATE statement); it is
// shared by UpdateOperationStatus, SetOperationApproved, and
// SetOperationResult so the lattice is enforced in exactly one place.
func (s *Store) updateOperationStatusLocked(ctx context.Context, id int64, newStatus OperationStatus, approvedBy, resultJSON, errorMessage *string) (Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.GetOperationByID(ctx, id)
	if err != nil {
		return Operation{}, err
	}
	allowed := allowedTransitions[current.Status]
	if !allowed[newStatus] {
		return Operation{}, conflictf("operation %d cannot transition %s -> %s", id, current.Status, newStatus)
	}
	query := `UPDATE operations SET status = ?, updated_at = CURRENT_TIMESTAMP`
	args := []any{string(newStatus)}
	if approvedBy != nil {
		query += `, approved_by = ?`
		args = append(args, *approvedBy)
	}
	if resultJSON != nil {
		query += `, result_json = ?`
		args = append(args, *resultJSON)
	}
	if errorMessage != nil {
		query += `, error_message = ?`
		args = append(args, *errorMessage)
	}
	query += ` WHERE id = ?`
	args = append(args, id)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return Operation{}, err
	}
	return s.GetOperationByID(ctx, id)
}

// UpdateOperationStatus performs a bare status transition, used by the
// engine's approved->executing step and by cancellation.
func (s *Store) UpdateOperationStatus(ctx context.Context, id int64, newStatus OperationStatus, errorMessage string) (Operation, error) {
	var errMsgPtr *string
	if errorMessage != "" {
		errMsgPtr = &errorMessage
	}
	return s.updateOperationStatusLocked(ctx, id, newStatus, nil, nil, errMsgPtr)
}

// SetOperationApproved transitions pending -> approved, recording who
// approved it.
func (s *Store) SetOperationApproved(ctx context.Context, id int64, approvedBy string) (Operation, error) {
	approvedBy = strings.TrimSpace(approvedBy)
	return s.updateOperationStatusLocked(ctx, id, StatusApproved, &approvedBy, nil, nil)
}

// SetOperationResult performs the terminal executing -> {complete, partial,
// failed} transition, recording the result payload and, if present, an
// error summary.
func (s *Store) SetOperationResult(ctx context.Context, id int64, status OperationStatus, resultJSON, errorMessage string) (Operation, error) {
	var errMsgPtr *string
	if errorMessage != "" {
		errMsgPtr = &errorMessage
	}
	return s.updateOperationStatusLocked(ctx, id, status, nil, &resultJSON, errMsgPtr)
}

// CancelOperation transitions pending -> cancelled.
func (s *Store) CancelOperation(ctx context.Context, id int64) (Operation, error) {
	return s.updateOperationStatusLocked(ctx, id, StatusCancelled, nil, nil, nil)
}

// GetLatestClusterOperationAgeSec reports how many seconds have elapsed
// since the most recent terminal operation on clusterID, excluding
// excludeOperationID (the operation currently being evaluated, so a
// re-entrant cooldown check at execution time does not see itself). Returns
// (0, false) if no terminal operation exists yet.
func (s *Store) GetLatestClusterOperationAgeSec(ctx context.Context, clusterID int64, excludeOperationID int64) (float64, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT updated_at FROM operations
		WHERE cluster_id = ? AND id != ? AND status IN (?, ?, ?, ?)
		ORDER BY updated_at DESC LIMIT 1`,
		clusterID, excludeOperationID, string(StatusComplete), string(StatusPartial), string(StatusFailed), string(StatusCancelled))
	var updatedAt sql.NullTime
	if err := row.Scan(&updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if !updatedAt.Valid {
		return 0, false, nil
	}
	return nowFunc().Sub(updatedAt.Time).Seconds(), true, nil
}

// nowFunc is a package-level clock indirection so tests can override the
// notion of "now" used by cooldown age calculations without threading a
// Clock through every store method.
var nowFunc = defaultNow
