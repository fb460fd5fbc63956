package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/eventpass/server/internal/apperr"
	"github.com/eventpass/server/internal/audit"
	"github.com/eventpass/server/internal/model"
	"github.com/eventpass/server/internal/ratelimit"
	"github.com/eventpass/server/internal/repo"
	"github.com/google/uuid"
)

const (
	minPasswordLength  = 8
	tempPasswordLength = 12
	maxNameLength      = 120
)

// RegisterInput is the registration request
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// LoginResult is returned by a successful login. MustChangePassword is set when the temporary
// credential was used; FinalWarning when that was its last allowed use.
type LoginResult struct {
	*IssuedSession
	User               model.User
	FinalWarning       bool
	MustChangePassword bool
	TempUsage          int
}

// AuthService orchestrates registration, login, logout and password changes
type AuthService struct {
	users    repo.UserRepo
	sessions *SessionManager
	guard    *LockoutGuard
	hasher   PasswordHasher
	limiter  ratelimit.Limiter
	audit    *audit.Recorder
}

// NewAuthService creates a new auth service
func NewAuthService(
	users repo.UserRepo,
	sessions *SessionManager,
	guard *LockoutGuard,
	hasher PasswordHasher,
	limiter ratelimit.Limiter,
	recorder *audit.Recorder,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		guard:    guard,
		hasher:   hasher,
		limiter:  limiter,
		audit:    recorder,
	}
}

// Sessions returns the session manager used by the service
func (s *AuthService) Sessions() *SessionManager { return s.sessions }

// Register creates a student account and signs it in
func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta ClientMeta) (*LoginResult, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)

	fields := map[string]string{}
	if !validEmail(in.Email) {
		fields["email"] = "must be a valid email address"
	}
	if msg := checkPassword(in.Password); msg != "" {
		fields["password"] = msg
	}
	if len(in.Name) > maxNameLength {
		fields["name"] = fmt.Sprintf("must be at most %d characters", maxNameLength)
	}
	if len(fields) > 0 {
		return nil, apperr.Invalid(fields)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, repo.NewUser{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		Role:         model.RoleStudent,
		HasProfile:   in.Name != "",
	})
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	issued, err := s.sessions.CreateSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.Register, &user.ID, user.Email, meta, "")
	return &LoginResult{IssuedSession: issued, User: user}, nil
}

// Login authenticates by permanent or temporary password and creates a session.
// The login rate limit is keyed by email and checked before any credential work.
func (s *AuthService) Login(ctx context.Context, email, password string, meta ClientMeta) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Invalid(map[string]string{"email": "required", "password": "required"})
	}

	if res := s.limiter.Check(ctx, email); !res.Allowed {
		s.record(ctx, audit.LoginFailure, nil, email, meta, "rate limited")
		return nil, &ratelimit.ExceededError{Result: res}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.record(ctx, audit.LoginFailure, nil, email, meta, "unknown email")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.DeletedAt != nil {
		s.record(ctx, audit.LoginFailure, &user.ID, email, meta, "deleted account")
		return nil, ErrInvalidCredentials
	}
	if user.AccountStatus == model.AccountSuspended {
		s.record(ctx, audit.LoginFailure, &user.ID, email, meta, "account suspended")
		return nil, ErrAccountSuspended
	}

	result := &LoginResult{User: user}
	if !s.hasher.Verify(user.PasswordHash, password) {
		temp, err := s.guard.CheckTemporary(ctx, user, password)
		if errors.Is(err, ErrAccountLocked) {
			s.record(ctx, audit.AccountLocked, &user.ID, email, meta, fmt.Sprintf("temporary password used %d times", temp.Usage))
			return nil, ErrAccountLocked
		}
		if err != nil {
			return nil, err
		}
		if !temp.Matched {
			s.record(ctx, audit.LoginFailure, &user.ID, email, meta, "bad password")
			return nil, ErrInvalidCredentials
		}
		result.MustChangePassword = true
		result.FinalWarning = temp.FinalWarning
		result.TempUsage = temp.Usage
	}

	issued, err := s.sessions.CreateSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	result.IssuedSession = issued

	detail := ""
	if result.MustChangePassword {
		detail = fmt.Sprintf("temporary password use %d of %d", result.TempUsage, TempPasswordThreshold)
	}
	s.record(ctx, audit.LoginSuccess, &user.ID, email, meta, detail)
	return result, nil
}

// Logout revokes the session holding refreshToken. Unknown tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, meta ClientMeta) error {
	if refreshToken == "" {
		return nil
	}
	session, err := s.sessions.RevokeByToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	var userID *uuid.UUID
	if session != nil {
		userID = &session.UserID
	}
	s.record(ctx, audit.Logout, userID, "", meta, "")
	return nil
}

// ChangePassword replaces the user's password after checking the current permanent or temporary
// one, resets the lockout counter, revokes every session and signs the user in again.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string, meta ClientMeta) (*IssuedSession, error) {
	if msg := checkPassword(next); msg != "" {
		return nil, apperr.Invalid(map[string]string{"newPassword": msg})
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.CanSignIn() {
		return nil, ErrAccountSuspended
	}

	currentOK := s.hasher.Verify(user.PasswordHash, current)
	if !currentOK && user.TempPasswordHash != nil {
		currentOK = s.hasher.Verify(*user.TempPasswordHash, current)
	}
	if !currentOK {
		s.record(ctx, audit.LoginFailure, &user.ID, user.Email, meta, "password change with wrong current password")
		return nil, ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return nil, err
	}
	if err := s.guard.OnPasswordChanged(ctx, user.ID, hash); err != nil {
		return nil, err
	}

	issued, err := s.sessions.CreateSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.PasswordChange, &user.ID, user.Email, meta, "")
	return issued, nil
}

// IssueTemporaryPassword sets a fresh temporary credential on the user and returns it in plain text
// for the administrator to hand over.
func (s *AuthService) IssueTemporaryPassword(ctx context.Context, adminID, userID uuid.UUID, meta ClientMeta) (string, error) {
	plain, err := GenerateTemporaryPassword(tempPasswordLength)
	if err != nil {
		return "", err
	}
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return "", err
	}
	if err := s.users.SetTemporaryPassword(ctx, userID, hash, time.Now().UTC()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", apperr.New(apperr.NotFound, "user not found")
		}
		return "", err
	}
	s.record(ctx, audit.TempPasswordIssued, &userID, "", meta, "issued by "+adminID.String())
	return plain, nil
}

// CompleteProfile stores the display name and returns the user with a new access token whose
// claims carry the completed profile flag.
func (s *AuthService) CompleteProfile(ctx context.Context, userID uuid.UUID, name string) (model.User, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return model.User{}, "", apperr.Invalid(map[string]string{"name": fmt.Sprintf("must be 1 to %d characters", maxNameLength)})
	}
	user, err := s.users.CompleteProfile(ctx, userID, name)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, "", ErrInvalidSession
		}
		return model.User{}, "", err
	}
	token, err := s.sessions.IssueAccessToken(user)
	if err != nil {
		return model.User{}, "", err
	}
	return user, token, nil
}

// Me returns the current user for the session check endpoint
func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, ErrInvalidSession
		}
		return model.User{}, err
	}
	if !user.CanSignIn() {
		return model.User{}, ErrAccountSuspended
	}
	return user, nil
}

func (s *AuthService) record(ctx context.Context, t audit.Type, userID *uuid.UUID, email string, meta ClientMeta, detail string) {
	if s.audit == nil {
		log.Printf("audit: recorder not configured, dropping %s", t)
		return
	}
	s.audit.Record(ctx, audit.Event{
		Type:      t,
		UserID:    userID,
		Email:     email,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Detail:    detail,
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func checkPassword(p string) string {
	if len(p) < minPasswordLength {
		return fmt.Sprintf("must be at least %d characters", minPasswordLength)
	}
	if len(p) > 72 {
		return "must be at most 72 bytes"
	}
	return ""
}
