package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eventpass/server/internal/model"
)

// SecurityLogRepo persists audit records delivered by the audit queue
type SecurityLogRepo interface {
	Insert(ctx context.Context, l model.SecurityLog) error
}

type securityLogRepo struct {
	db *sql.DB
}

// NewSecurityLogRepo creates a new SecurityLogRepo instance
func NewSecurityLogRepo(db *sql.DB) SecurityLogRepo {
	return &securityLogRepo{db: db}
}

// Insert appends one audit record
func (r *securityLogRepo) Insert(ctx context.Context, l model.SecurityLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO security_logs (event_type, user_id, email, ip, user_agent, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, l.EventType, l.UserID, l.Email, l.IP, l.UserAgent, l.Detail, l.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert security log: %w", err)
	}
	return nil
}
