package auth

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/eventpass/server/internal/model"
	"github.com/eventpass/server/internal/repo"
	"github.com/google/uuid"
)

// TempPasswordThreshold is the number of temporary-password logins allowed before lockout.
const TempPasswordThreshold = 3

const lockoutReason = "temporary password used more than 3 times without being changed"

// LockoutState is the temporary-credential state of an account
type LockoutState string

const (
	StateNormal     LockoutState = "NORMAL"
	StateTempActive LockoutState = "TEMP_ACTIVE"
	StateLocked     LockoutState = "LOCKED"
)

// State derives the lockout state from the user row
func State(u model.User) LockoutState {
	switch {
	case u.AccountStatus == model.AccountSuspended:
		return StateLocked
	case u.TempPasswordHash != nil:
		return StateTempActive
	}
	return StateNormal
}

// TempResult describes a login attempt checked against the temporary credential
type TempResult struct {
	Matched      bool
	Usage        int
	FinalWarning bool
}

// LockoutGuard drives the temporary-password usage counter
type LockoutGuard struct {
	users  repo.UserRepo
	hasher PasswordHasher
	now    func() time.Time
}

// NewLockoutGuard creates a new lockout guard
func NewLockoutGuard(users repo.UserRepo, hasher PasswordHasher) *LockoutGuard {
	return &LockoutGuard{users: users, hasher: hasher, now: time.Now}
}

// CheckTemporary matches plaintext against the user's temporary credential. On a match the usage
// counter is incremented atomically; crossing the threshold suspends the account and returns
// ErrAccountLocked even though the password was correct.
func (g *LockoutGuard) CheckTemporary(ctx context.Context, user model.User, plaintext string) (TempResult, error) {
	if user.TempPasswordHash == nil || !g.hasher.Verify(*user.TempPasswordHash, plaintext) {
		return TempResult{}, nil
	}

	usage, err := g.users.IncrementTempPasswordUsage(ctx, user.ID)
	if err != nil {
		return TempResult{}, fmt.Errorf("record temporary password use: %w", err)
	}

	if usage > TempPasswordThreshold {
		if err := g.users.Suspend(ctx, user.ID, lockoutReason, g.now().UTC()); err != nil {
			return TempResult{}, fmt.Errorf("suspend account: %w", err)
		}
		log.Printf("lockout: user %s suspended after %d temporary password logins", user.ID, usage)
		return TempResult{Matched: true, Usage: usage}, ErrAccountLocked
	}

	return TempResult{
		Matched:      true,
		Usage:        usage,
		FinalWarning: usage == TempPasswordThreshold,
	}, nil
}

// OnPasswordChanged stores the new permanent hash, clearing the temporary credential and its counter
func (g *LockoutGuard) OnPasswordChanged(ctx context.Context, userID uuid.UUID, newHash string) error {
	if err := g.users.UpdatePassword(ctx, userID, newHash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}
