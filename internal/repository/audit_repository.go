package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/admission-portal-api/internal/models"
)

// AuditRepository writes and reads the audit trail.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateAuditLog stores an audit log entry.
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	prepareAudit(log)
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at)
	VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// List returns the newest audit entries matching filter.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error) {
	query := `SELECT id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at
	FROM audit_logs WHERE ($1 = '' OR resource = $1) AND ($2 = '' OR resource_id = $2)
	ORDER BY created_at DESC LIMIT $3`
	logs := make([]models.AuditLog, 0)
	if err := r.db.SelectContext(ctx, &logs, query, filter.Resource, filter.ResourceID, auditLimit(filter.Limit)); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}

// MemoryAuditStore keeps audit entries in process.
type MemoryAuditStore struct {
	mu   sync.Mutex
	logs []models.AuditLog
}

// NewMemoryAuditStore builds an empty audit trail.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// CreateAuditLog appends an entry.
func (s *MemoryAuditStore) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	prepareAudit(log)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *log)
	return nil
}

// List returns the newest entries matching filter.
func (s *MemoryAuditStore) List(_ context.Context, filter models.AuditFilter) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := auditLimit(filter.Limit)
	out := make([]models.AuditLog, 0)
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.logs[i]
		if filter.Resource != "" && entry.Resource != filter.Resource {
			continue
		}
		if filter.ResourceID != "" && (entry.ResourceID == nil || *entry.ResourceID != filter.ResourceID) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func prepareAudit(log *models.AuditLog) {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
}

func auditLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
