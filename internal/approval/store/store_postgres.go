package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"accessgate/internal/approval/models"
	id "accessgate/pkg/domain"
	"accessgate/pkg/platform/sentinel"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

const selectColumns = `id, requested_by, approval_type, target_type, target_id, justification,
	status, expiry_deadline, approvals, data_access, audit_trail, created_at, updated_at, version`

// PostgresStore persists approval requests in PostgreSQL. Approvals, the
// access record and the audit trail live in JSONB columns; the version
// column guards every update.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema files in name order. Every statement
// is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, req *models.ApprovalRequest) error {
	approvals, access, audit, err := encodeCollections(req)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO approval_requests (
			id, requested_by, approval_type, target_type, target_id, justification,
			status, expiry_deadline, approvals, approver_ids, data_access, audit_trail,
			created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)
	`
	_, err = s.db.ExecContext(ctx, query,
		req.ID.String(),
		req.RequestedBy,
		string(req.ApprovalType),
		string(req.TargetType),
		req.TargetID,
		req.Justification,
		string(req.Status),
		req.ExpiryDeadline,
		approvals,
		pq.Array(req.ApproverIDs()),
		access,
		audit,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert approval request: %w", err)
	}
	req.Version = 1
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.ApprovalID) (*models.ApprovalRequest, error) {
	query := `SELECT ` + selectColumns + ` FROM approval_requests WHERE id = $1`
	req, err := scanRequest(s.db.QueryRowContext(ctx, query, requestID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find approval request: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) FindPending(ctx context.Context, requestedBy string, targetType models.TargetType, targetID string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + selectColumns + `
		FROM approval_requests
		WHERE requested_by = $1 AND target_type = $2 AND target_id = $3 AND status = 'pending'`
	req, err := scanRequest(s.db.QueryRowContext(ctx, query, requestedBy, string(targetType), targetID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find pending approval request: %w", err)
	}
	return req, nil
}

// Update writes req when the stored version equals expectedVersion.
func (s *PostgresStore) Update(ctx context.Context, req *models.ApprovalRequest, expectedVersion int64) error {
	approvals, access, audit, err := encodeCollections(req)
	if err != nil {
		return err
	}
	query := `
		UPDATE approval_requests
		SET status = $2,
			approvals = $3,
			approver_ids = $4,
			data_access = $5,
			audit_trail = $6,
			updated_at = $7,
			version = version + 1
		WHERE id = $1 AND version = $8
	`
	result, err := s.db.ExecContext(ctx, query,
		req.ID.String(),
		string(req.Status),
		approvals,
		pq.Array(req.ApproverIDs()),
		access,
		audit,
		req.UpdatedAt,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update approval request rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM approval_requests WHERE id = $1)`, req.ID.String(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("check approval request exists: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	req.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter models.ListFilter) ([]*models.ApprovalRequest, error) {
	where, args := filterClause(filter)
	query := `SELECT ` + selectColumns + ` FROM approval_requests` + where + ` ORDER BY created_at DESC, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (s *PostgresStore) Stats(ctx context.Context, filter models.ListFilter) (models.Stats, error) {
	where, args := filterClause(filter)
	query := `SELECT status, approval_type, COUNT(*) FROM approval_requests` + where + ` GROUP BY status, approval_type`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return models.Stats{}, fmt.Errorf("approval stats: %w", err)
	}
	defer rows.Close()

	stats := models.NewStats()
	for rows.Next() {
		var status, approvalType string
		var count int
		if err := rows.Scan(&status, &approvalType, &count); err != nil {
			return models.Stats{}, fmt.Errorf("scan approval stats: %w", err)
		}
		stats.AddCount(models.Status(status), models.Type(approvalType), count)
	}
	if err := rows.Err(); err != nil {
		return models.Stats{}, fmt.Errorf("iterate approval stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*models.ApprovalRequest, error) {
	query := `SELECT ` + selectColumns + `
		FROM approval_requests
		WHERE status IN ('pending', 'approved') AND expiry_deadline < $1
		ORDER BY expiry_deadline
		LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expirable approval requests: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func filterClause(filter models.ListFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(column, value string) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}
	if filter.RequestedBy != "" {
		add("requested_by", filter.RequestedBy)
	}
	if filter.ApprovalType != "" {
		add("approval_type", string(filter.ApprovalType))
	}
	if filter.ApprovedBy != "" {
		args = append(args, filter.ApprovedBy)
		conds = append(conds, fmt.Sprintf("$%d = ANY(approver_ids)", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.ApprovalRequest, error) {
	var (
		req                          models.ApprovalRequest
		rawID                        string
		approvalType, targetType     string
		status                       string
		approvals, access, auditJSON []byte
	)
	if err := row.Scan(
		&rawID,
		&req.RequestedBy,
		&approvalType,
		&targetType,
		&req.TargetID,
		&req.Justification,
		&status,
		&req.ExpiryDeadline,
		&approvals,
		&access,
		&auditJSON,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.Version,
	); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse approval id %q: %w", rawID, err)
	}
	req.ID = id.ApprovalID(parsed)
	req.ApprovalType = models.Type(approvalType)
	req.TargetType = models.TargetType(targetType)
	req.Status = models.Status(status)

	if err := json.Unmarshal(approvals, &req.Approvals); err != nil {
		return nil, fmt.Errorf("decode approvals: %w", err)
	}
	if len(access) > 0 {
		var record models.DataAccessRecord
		if err := json.Unmarshal(access, &record); err != nil {
			return nil, fmt.Errorf("decode data access record: %w", err)
		}
		req.DataAccessRecord = &record
	}
	if err := json.Unmarshal(auditJSON, &req.AuditTrail); err != nil {
		return nil, fmt.Errorf("decode audit trail: %w", err)
	}
	return &req, nil
}

func collect(rows *sql.Rows) ([]*models.ApprovalRequest, error) {
	var out []*models.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approval requests: %w", err)
	}
	return out, nil
}

// encodeCollections renders the JSONB columns as text; lib/pq would send a
// []byte parameter as bytea.
func encodeCollections(req *models.ApprovalRequest) (approvals string, access sql.NullString, audit string, err error) {
	list := req.Approvals
	if list == nil {
		list = []models.Approval{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return "", access, "", fmt.Errorf("encode approvals: %w", err)
	}
	approvals = string(raw)

	if req.DataAccessRecord != nil {
		raw, err := json.Marshal(req.DataAccessRecord)
		if err != nil {
			return "", access, "", fmt.Errorf("encode data access record: %w", err)
		}
		access = sql.NullString{String: string(raw), Valid: true}
	}

	trail := req.AuditTrail
	if trail == nil {
		trail = []models.AuditEntry{}
	}
	raw, err = json.Marshal(trail)
	if err != nil {
		return "", access, "", fmt.Errorf("encode audit trail: %w", err)
	}
	return approvals, access, string(raw), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
