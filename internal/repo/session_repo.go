package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eventpass/server/internal/model"
	"github.com/google/uuid"
)

// NewSession holds the fields of a session about to be inserted
type NewSession struct {
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	IP        *string
	UserAgent *string
}

// SessionRepo defines the interface for refresh session repository operations
type SessionRepo interface {
	ReplaceForUser(ctx context.Context, s NewSession) (model.Session, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (model.Session, error)
	Revoke(ctx context.Context, sessionID uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteExpiredOrRevoked(ctx context.Context, now time.Time) (int64, error)
	CountLive(ctx context.Context, userID uuid.UUID, now time.Time) (int, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

const sessionColumns = `id, user_id, token_hash, created_at, expires_at, revoked, revoked_at, ip, user_agent`

func scanSession(row rowScanner) (model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.TokenHash,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.Revoked,
		&s.RevokedAt,
		&s.IP,
		&s.UserAgent,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, err
	}
	return s, nil
}

// ReplaceForUser revokes every live session of the user and inserts the new one in a single transaction.
// A per-user advisory lock serializes concurrent logins so at most one session stays unrevoked.
func (r *sessionRepo) ReplaceForUser(ctx context.Context, ns NewSession) (model.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Blocks until we hold the lock; released on COMMIT/ROLLBACK.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(2, hashtext($1))`, ns.UserID.String()); err != nil {
		return model.Session{}, fmt.Errorf("advisory lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET revoked = TRUE, revoked_at = now()
		WHERE user_id = $1 AND revoked = FALSE
	`, ns.UserID); err != nil {
		return model.Session{}, fmt.Errorf("revoke existing sessions: %w", err)
	}

	s, err := scanSession(tx.QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, token_hash, expires_at, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+sessionColumns,
		ns.UserID, ns.TokenHash, ns.ExpiresAt, ns.IP, ns.UserAgent,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Session{}, fmt.Errorf("insert session: %w", ErrConflict)
		}
		return model.Session{}, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Session{}, fmt.Errorf("commit: %w", err)
	}
	return s, nil
}

// FindByTokenHash returns the session regardless of revocation or expiry
func (r *sessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (model.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`,
		tokenHash,
	))
	if err != nil {
		return model.Session{}, fmt.Errorf("find session: %w", err)
	}
	return s, nil
}

// Revoke marks the session revoked; revoking a revoked or missing session is a no-op
func (r *sessionRepo) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked = TRUE, revoked_at = now()
		WHERE id = $1 AND revoked = FALSE
	`, sessionID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes all live sessions for a user and returns how many changed
func (r *sessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked = TRUE, revoked_at = now()
		WHERE user_id = $1 AND revoked = FALSE
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions for user: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeleteExpiredOrRevoked removes dead sessions and returns the number deleted
func (r *sessionRepo) DeleteExpiredOrRevoked(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE revoked = TRUE OR expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// CountLive returns the number of unrevoked, unexpired sessions of the user
func (r *sessionRepo) CountLive(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2
	`, userID, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count live sessions: %w", err)
	}
	return n, nil
}
