package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eventpass/server/internal/model"
	"github.com/google/uuid"
)

// NewUser holds the fields required to register a user
type NewUser struct {
	Email        string
	Name         string
	PasswordHash string
	Role         model.Role
	HasProfile   bool
}

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	Create(ctx context.Context, u NewUser) (model.User, error)
	CompleteProfile(ctx context.Context, id uuid.UUID, name string) (model.User, error)
	IncrementTempPasswordUsage(ctx context.Context, id uuid.UUID) (newUsage int, err error)
	Suspend(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	SetTemporaryPassword(ctx context.Context, id uuid.UUID, hash string, at time.Time) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, email, name, password_hash, role, account_status, has_profile,
	temp_password_hash, temp_password_usage, temp_password_created_at,
	suspended_at, suspend_reason, deleted_at, created_at`

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	var role, status string
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&role,
		&status,
		&u.HasProfile,
		&u.TempPasswordHash,
		&u.TempPasswordUsage,
		&u.TempPasswordCreatedAt,
		&u.SuspendedAt,
		&u.SuspendReason,
		&u.DeletedAt,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, err
	}
	u.Role = model.Role(role)
	u.AccountStatus = model.AccountStatus(status)
	return u, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return model.User{}, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email, case-insensitively
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email),
	))
	if err != nil {
		return model.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// Create inserts a new active user
func (r *userRepo) Create(ctx context.Context, nu NewUser) (model.User, error) {
	role := nu.Role
	if role == "" {
		role = model.RoleStudent
	}
	u, err := scanUser(r.db.QueryRowContext(ctx, `
		INSERT INTO users (email, name, password_hash, role, has_profile)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		strings.TrimSpace(nu.Email), nu.Name, nu.PasswordHash, string(role), nu.HasProfile,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("insert user: %w", ErrConflict)
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// CompleteProfile stores the display name and marks the profile complete
func (r *userRepo) CompleteProfile(ctx context.Context, id uuid.UUID, name string) (model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `
		UPDATE users SET name = $2, has_profile = TRUE
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+userColumns,
		id, name,
	))
	if err != nil {
		return model.User{}, fmt.Errorf("complete profile: %w", err)
	}
	return u, nil
}

// IncrementTempPasswordUsage atomically bumps the temporary password counter and returns the new value.
func (r *userRepo) IncrementTempPasswordUsage(ctx context.Context, id uuid.UUID) (int, error) {
	var usage int
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET temp_password_usage = temp_password_usage + 1
		WHERE id = $1 AND temp_password_hash IS NOT NULL
		RETURNING temp_password_usage
	`, id).Scan(&usage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("increment temp password usage: %w", ErrNotFound)
		}
		return 0, fmt.Errorf("increment temp password usage: %w", err)
	}
	return usage, nil
}

// Suspend marks the account suspended with a reason and timestamp
func (r *userRepo) Suspend(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET account_status = 'SUSPENDED', suspend_reason = $2, suspended_at = $3
		WHERE id = $1
	`, id, reason, at)
	if err != nil {
		return fmt.Errorf("suspend user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("suspend user: %w", ErrNotFound)
	}
	return nil
}

// SetTemporaryPassword stores an administrator-issued temporary credential and zeroes its counter
func (r *userRepo) SetTemporaryPassword(ctx context.Context, id uuid.UUID, hash string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET temp_password_hash = $2, temp_password_usage = 0, temp_password_created_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`, id, hash, at)
	if err != nil {
		return fmt.Errorf("set temporary password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("set temporary password: %w", ErrNotFound)
	}
	return nil
}

// UpdatePassword sets a permanent password, clearing any temporary credential and its counter
func (r *userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2,
		    temp_password_hash = NULL,
		    temp_password_usage = 0,
		    temp_password_created_at = NULL
		WHERE id = $1
	`, id, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("update password: %w", ErrNotFound)
	}
	return nil
}
