package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/copydesk/internal/filter"
	"github.com/pitabwire/copydesk/model"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const workflowColumns = `id, style_id, brand, title, status, writer, editor, assignee,
	admin, create_process, is_published, is_quick_fix, last_update_ts, last_updated_by,
	last_write_complete_ts, last_edit_complete_ts, create_ts`

const entryColumns = `id, workflow_id, change_log, audit_type, created_by, create_ts, snapshot`

// PgStore is a PostgreSQL-backed WorkflowStore and AuditStore using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// FindOne returns the first matching record in default order.
func (s *PgStore) FindOne(ctx context.Context, pred filter.Predicate) (model.Workflow, error) {
	wfs, err := s.FindMany(ctx, pred, FindOptions{Take: 1})
	if err != nil {
		return model.Workflow{}, err
	}
	if len(wfs) == 0 {
		return model.Workflow{}, model.NewNotFoundError("workflow not found")
	}
	return wfs[0], nil
}

// FindMany returns matching records ordered and paged by opts.
func (s *PgStore) FindMany(ctx context.Context, pred filter.Predicate, opts FindOptions) ([]model.Workflow, error) {
	var b sqlBuilder
	where, err := b.whereClause(pred)
	if err != nil {
		return nil, err
	}
	order, err := orderClause(opts.OrderBy)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM workflows WHERE %s ORDER BY %s", workflowColumns, where, order)
	if opts.Take > 0 {
		query += " LIMIT " + b.arg(opts.Take)
	}
	if opts.Skip > 0 {
		query += " OFFSET " + b.arg(opts.Skip)
	}

	return s.queryWorkflows(ctx, query, b.args...)
}

// Count returns the number of matching records.
func (s *PgStore) Count(ctx context.Context, pred filter.Predicate) (int, error) {
	var b sqlBuilder
	where, err := b.whereClause(pred)
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM workflows WHERE "+where, b.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count workflows: %w", err)
	}
	return n, nil
}

// Create inserts a new record.
func (s *PgStore) Create(ctx context.Context, wf model.Workflow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflows (`+workflowColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17
		)`,
		wf.ID, wf.StyleID, wf.Brand, wf.Title, string(wf.Status), wf.Writer, wf.Editor, wf.Assignee,
		wf.Admin, string(wf.CreateProcess), wf.IsPublished, wf.IsQuickFix, wf.LastUpdateTs, wf.LastUpdatedBy,
		wf.LastWriteCompleteTs, wf.LastEditCompleteTs, wf.CreateTs,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == "workflows_style_id_key" {
				return model.NewDuplicateStyleError(wf.StyleID)
			}
			return model.NewConflictError(fmt.Sprintf("workflow %q already exists", wf.ID))
		}
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// Update applies u to one record and returns the stored result.
func (s *PgStore) Update(ctx context.Context, id string, u model.WorkflowUpdate) (model.Workflow, error) {
	if u.IsEmpty() {
		return s.FindOne(ctx, idPredicate(id))
	}

	var b sqlBuilder
	set := b.setClause(u)
	query := fmt.Sprintf("UPDATE workflows SET %s WHERE id = %s RETURNING %s", set, b.arg(id), workflowColumns)

	wf, err := scanWorkflow(s.pool.QueryRow(ctx, query, b.args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Workflow{}, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}
	if err != nil {
		return model.Workflow{}, fmt.Errorf("update workflow: %w", err)
	}
	return wf, nil
}

// UpdateMany applies u to every matching record.
func (s *PgStore) UpdateMany(ctx context.Context, pred filter.Predicate, u model.WorkflowUpdate) (int, error) {
	if u.IsEmpty() {
		return 0, nil
	}

	var b sqlBuilder
	set := b.setClause(u)
	where, err := b.whereClause(pred)
	if err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf("UPDATE workflows SET %s WHERE %s", set, where), b.args...)
	if err != nil {
		return 0, fmt.Errorf("update workflows: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Delete removes a record. Audit entries go with it through the foreign
// key's ON DELETE CASCADE.
func (s *PgStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}
	return nil
}

// Distinct returns the sorted distinct values of field among matches.
func (s *PgStore) Distinct(ctx context.Context, pred filter.Predicate, field string) ([]string, error) {
	if !DistinctFields[field] {
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("field %q does not support distinct values", field))
	}
	col := columns[field]

	var b sqlBuilder
	where, err := b.whereClause(pred)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT DISTINCT %[1]s FROM workflows WHERE %[2]s AND %[1]s IS NOT NULL AND %[1]s <> '' ORDER BY %[1]s",
		col, where)
	rows, err := s.pool.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("query distinct %s: %w", field, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct %s: %w", field, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// AppendEntry records a new audit entry.
func (s *PgStore) AppendEntry(ctx context.Context, entry model.WorkflowAuditEntry) error {
	changeJSON, err := model.EncodeChangeLog(entry.ChangeLog)
	if err != nil {
		return fmt.Errorf("marshal change log: %w", err)
	}
	var snapshotJSON []byte
	if entry.Snapshot != nil {
		if snapshotJSON, err = json.Marshal(entry.Snapshot); err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_audit_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.WorkflowID, changeJSON, string(entry.AuditType),
		entry.CreatedBy, entry.CreateTs, snapshotJSON,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListEntries returns the entries of a workflow, newest first.
func (s *PgStore) ListEntries(ctx context.Context, workflowID string, skip, take int) ([]model.WorkflowAuditEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM workflow_audit_entries
		WHERE workflow_id = $1
		ORDER BY create_ts DESC, seq DESC`
	args := []any{workflowID}
	if take > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, take)
	}
	if skip > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, skip)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []model.WorkflowAuditEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountEntries returns the number of entries of a workflow.
func (s *PgStore) CountEntries(ctx context.Context, workflowID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM workflow_audit_entries WHERE workflow_id = $1`, workflowID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// GetEntry returns one entry of a workflow.
func (s *PgStore) GetEntry(ctx context.Context, workflowID, entryID string) (model.WorkflowAuditEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entryColumns+`
		FROM workflow_audit_entries
		WHERE id = $1 AND workflow_id = $2`,
		entryID, workflowID,
	)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowAuditEntry{}, model.NewNotFoundError(
			fmt.Sprintf("audit entry %q not found", entryID),
		)
	}
	return e, err
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// queryWorkflows executes a query and returns workflow records.
func (s *PgStore) queryWorkflows(ctx context.Context, query string, args ...any) ([]model.Workflow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	wfs := []model.Workflow{}
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		wfs = append(wfs, wf)
	}
	return wfs, rows.Err()
}

func scanWorkflow(row pgx.Row) (model.Workflow, error) {
	var wf model.Workflow
	var status, createProcess string
	err := row.Scan(
		&wf.ID, &wf.StyleID, &wf.Brand, &wf.Title, &status, &wf.Writer, &wf.Editor, &wf.Assignee,
		&wf.Admin, &createProcess, &wf.IsPublished, &wf.IsQuickFix, &wf.LastUpdateTs, &wf.LastUpdatedBy,
		&wf.LastWriteCompleteTs, &wf.LastEditCompleteTs, &wf.CreateTs,
	)
	if err != nil {
		return model.Workflow{}, err
	}
	wf.Status = model.Status(status)
	wf.CreateProcess = model.CreateProcess(createProcess)
	wf.LastUpdateTs = wf.LastUpdateTs.UTC()
	wf.CreateTs = wf.CreateTs.UTC()
	if wf.LastWriteCompleteTs != nil {
		wf.LastWriteCompleteTs = model.TimePtr(wf.LastWriteCompleteTs.UTC())
	}
	if wf.LastEditCompleteTs != nil {
		wf.LastEditCompleteTs = model.TimePtr(wf.LastEditCompleteTs.UTC())
	}
	return wf, nil
}

func scanEntry(row pgx.Row) (model.WorkflowAuditEntry, error) {
	var e model.WorkflowAuditEntry
	var auditType string
	var changeJSON, snapshotJSON []byte
	if err := row.Scan(&e.ID, &e.WorkflowID, &changeJSON, &auditType, &e.CreatedBy, &e.CreateTs, &snapshotJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan audit entry: %w", err)
	}
	e.AuditType = model.AuditType(auditType)
	e.CreateTs = e.CreateTs.UTC()
	if changeJSON != nil {
		log, err := model.DecodeChangeLog(changeJSON)
		if err != nil {
			return e, fmt.Errorf("unmarshal change log: %w", err)
		}
		e.ChangeLog = log
	}
	if snapshotJSON != nil {
		if err := json.Unmarshal(snapshotJSON, &e.Snapshot); err != nil {
			return e, fmt.Errorf("unmarshal snapshot: %w", err)
		}
	}
	return e, nil
}
