package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brightclass/steward/internal/catalog"
)

// PostgresStore persists invocation records in the tool_invocations table
// and retained request payloads in tool_invocation_payloads. State
// transitions use conditional UPDATEs on the current state so concurrent
// approvers cannot both win.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, rec *InvocationRecord) error {
	reqJSON, err := json.Marshal(rec.SanitizedRequest)
	if err != nil {
		return fmt.Errorf("Create: marshal request: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_invocations (
			id, tenant_id, actor_id, tool_key, risk_level, state,
			sanitized_request, requested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.TenantID, nullable(rec.ActorID), rec.ToolKey,
		string(rec.RiskLevel), string(rec.State), string(reqJSON), rec.RequestedAt)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*InvocationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, actor_id, tool_key, risk_level, state,
		       sanitized_request, sanitized_response, error_message,
		       requested_at, resolved_at, approver_id, approved_at
		FROM tool_invocations
		WHERE id = $1
	`, id)

	var (
		rec        InvocationRecord
		actorID    sql.NullString
		reqJSON    sql.NullString
		respJSON   sql.NullString
		errMsg     sql.NullString
		resolvedAt sql.NullTime
		approverID sql.NullString
		approvedAt sql.NullTime
		risk       string
		state      string
	)
	err := row.Scan(
		&rec.ID, &rec.TenantID, &actorID, &rec.ToolKey, &risk, &state,
		&reqJSON, &respJSON, &errMsg,
		&rec.RequestedAt, &resolvedAt, &approverID, &approvedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	rec.RiskLevel = catalog.RiskLevel(risk)
	rec.State = State(state)
	rec.ActorID = actorID.String
	rec.ErrorMessage = errMsg.String
	rec.ApproverID = approverID.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		rec.ResolvedAt = &t
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		rec.ApprovedAt = &t
	}
	if reqJSON.Valid && reqJSON.String != "" {
		if err := json.Unmarshal([]byte(reqJSON.String), &rec.SanitizedRequest); err != nil {
			return nil, fmt.Errorf("Get: unmarshal request: %w", err)
		}
	}
	if respJSON.Valid && respJSON.String != "" {
		if err := json.Unmarshal([]byte(respJSON.String), &rec.SanitizedResponse); err != nil {
			return nil, fmt.Errorf("Get: unmarshal response: %w", err)
		}
	}
	return &rec, nil
}

func (s *PostgresStore) ListPending(ctx context.Context, tenantID string) ([]*InvocationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM tool_invocations
		WHERE tenant_id = $1 AND state = $2
		ORDER BY requested_at ASC
	`, tenantID, string(StatePendingApproval))
	if err != nil {
		return nil, fmt.Errorf("ListPending: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListPending: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListPending: %w", err)
	}

	out := make([]*InvocationRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *PostgresStore) BeginExecution(ctx context.Context, tenantID, id, approverID string) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if approverID != "" {
		res, err = s.db.ExecContext(ctx, `
			UPDATE tool_invocations
			SET state = $1, approver_id = $2, approved_at = $3
			WHERE id = $4 AND tenant_id = $5 AND state = $6
		`, string(StateExecuting), approverID, time.Now().UTC(),
			id, tenantID, string(StatePendingApproval))
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE tool_invocations
			SET state = $1
			WHERE id = $2 AND tenant_id = $3 AND state = $4
		`, string(StateExecuting), id, tenantID, string(StatePendingApproval))
	}
	if err != nil {
		return false, fmt.Errorf("BeginExecution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("BeginExecution: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, tenantID, id string, state State, sanitizedResponse map[string]any, errMsg string) error {
	if state != StateSuccess && state != StateError {
		return fmt.Errorf("Resolve: invalid terminal state %q", state)
	}

	var respJSON any
	if sanitizedResponse != nil {
		b, err := json.Marshal(sanitizedResponse)
		if err != nil {
			return fmt.Errorf("Resolve: marshal response: %w", err)
		}
		respJSON = string(b)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tool_invocations
		SET state = $1, sanitized_response = $2, error_message = $3, resolved_at = $4
		WHERE id = $5 AND tenant_id = $6 AND state = $7
	`, string(state), respJSON, nullable(errMsg), time.Now().UTC(),
		id, tenantID, string(StateExecuting))
	if err != nil {
		return fmt.Errorf("Resolve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Resolve: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("Resolve: record %s not in executing state", id)
	}

	s.dropPayload(ctx, tenantID, id)
	return nil
}

func (s *PostgresStore) Reject(ctx context.Context, tenantID, id, approverID, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tool_invocations
		SET state = $1, error_message = $2, approver_id = $3, resolved_at = $4
		WHERE id = $5 AND tenant_id = $6 AND state = $7
	`, string(StateError), "rejected: "+reason, approverID, time.Now().UTC(),
		id, tenantID, string(StatePendingApproval))
	if err != nil {
		return false, fmt.Errorf("Reject: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Reject: %w", err)
	}
	if n != 1 {
		return false, nil
	}

	s.dropPayload(ctx, tenantID, id)
	return true, nil
}

func (s *PostgresStore) SavePending(ctx context.Context, tenantID, id string, original map[string]any) error {
	payload, err := json.Marshal(original)
	if err != nil {
		return fmt.Errorf("SavePending: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_invocation_payloads (invocation_id, tenant_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, id, tenantID, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("SavePending: %w", err)
	}
	return nil
}

func (s *PostgresStore) TakePending(ctx context.Context, tenantID, id string) (map[string]any, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM tool_invocation_payloads
		WHERE invocation_id = $1 AND tenant_id = $2
		RETURNING payload
	`, id, tenantID)

	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("TakePending: no retained payload for record %s", id)
		}
		return nil, fmt.Errorf("TakePending: %w", err)
	}

	var original map[string]any
	if err := json.Unmarshal([]byte(payload), &original); err != nil {
		return nil, fmt.Errorf("TakePending: unmarshal: %w", err)
	}
	return original, nil
}

// dropPayload removes a retained payload after resolution. Best-effort:
// the audit transition has already committed and must not be rolled back
// for payload cleanup.
func (s *PostgresStore) dropPayload(ctx context.Context, tenantID, id string) {
	_, _ = s.db.ExecContext(ctx, `
		DELETE FROM tool_invocation_payloads
		WHERE invocation_id = $1 AND tenant_id = $2
	`, id, tenantID)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
