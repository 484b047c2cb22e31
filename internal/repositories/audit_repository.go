package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"neighbourhood-chat/internal/models"
)

// AuditRepository appends administrative audit entries.
type AuditRepository interface {
	AppendAudit(ctx context.Context, entry models.AuditEntry) error
	ListAudit(ctx context.Context, targetType, targetID string) ([]models.AuditEntry, error)
}

// AuditRepo is a sqlx implementation of AuditRepository.
type AuditRepo struct {
	db *sqlx.DB
}

// NewAuditRepo constructs an AuditRepo.
func NewAuditRepo(db *sqlx.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO audit_entries (id, admin_id, action, target_type, target_id, reason, details, created_at)
        VALUES (:id, :admin_id, :action, :target_type, :target_id, :reason, :details, :created_at)`, entry)
	return err
}

// ListAudit returns the entries of one target, oldest first.
func (r *AuditRepo) ListAudit(ctx context.Context, targetType, targetID string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := r.db.SelectContext(ctx, &entries, `SELECT id, admin_id, action, target_type, target_id, reason, details, created_at
        FROM audit_entries WHERE target_type=$1 AND target_id=$2 ORDER BY created_at`, targetType, targetID)
	return entries, err
}
