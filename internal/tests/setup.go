package tests

import (
	"context"
	"database/sql"
	"fmt"
)

// TruncateTables truncates every application table for a clean test state.
func TruncateTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "TRUNCATE TABLE attendances, sessions, security_logs, events, users RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

// PromoteUser changes a user's role directly in the database.
func PromoteUser(ctx context.Context, db *sql.DB, email, role string) error {
	res, err := db.ExecContext(ctx, "UPDATE users SET role = $1 WHERE lower(email) = lower($2)", role, email)
	if err != nil {
		return fmt.Errorf("promote user: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("promote user: %s not found", email)
	}
	return nil
}
