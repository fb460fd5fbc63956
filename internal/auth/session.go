package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/eventpass/server/internal/model"
	"github.com/eventpass/server/internal/repo"
	"github.com/google/uuid"
)

const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// ClientMeta is optional request metadata stored with a session
type ClientMeta struct {
	IP        string
	UserAgent string
}

// IssuedSession is the result of a successful login or registration
type IssuedSession struct {
	Session          model.Session
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionManager issues, rotates and revokes sessions under a single-session-per-user policy
type SessionManager struct {
	codec      *TokenCodec
	sessions   repo.SessionRepo
	users      repo.UserRepo
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewSessionManager creates a new session manager; zero TTLs fall back to the defaults
func NewSessionManager(
	codec *TokenCodec,
	sessions repo.SessionRepo,
	users repo.UserRepo,
	accessTTL, refreshTTL time.Duration,
) *SessionManager {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	return &SessionManager{
		codec:      codec,
		sessions:   sessions,
		users:      users,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// AccessTTL returns the access token lifetime
func (m *SessionManager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL returns the refresh token lifetime
func (m *SessionManager) RefreshTTL() time.Duration { return m.refreshTTL }

// CreateSession revokes every live session of the user and stores a new one in the same transaction,
// then issues the access token bound to the same claims.
func (m *SessionManager) CreateSession(ctx context.Context, user model.User, meta ClientMeta) (*IssuedSession, error) {
	if !user.CanSignIn() {
		return nil, ErrAccountSuspended
	}

	claims := ClaimsForUser(user)
	now := m.now()

	refreshToken, err := m.codec.Issue(claims, KindRefresh, m.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	accessToken, err := m.codec.Issue(claims, KindAccess, m.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	refreshExpiresAt := now.Add(m.refreshTTL)
	session, err := m.sessions.ReplaceForUser(ctx, repo.NewSession{
		UserID:    user.ID,
		TokenHash: HashRefreshToken(refreshToken),
		ExpiresAt: refreshExpiresAt,
		IP:        optional(meta.IP),
		UserAgent: optional(meta.UserAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	return &IssuedSession{
		Session:          session,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  now.Add(m.accessTTL),
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// ValidateRefreshToken returns the live session stored for token. Expired sessions are
// soft-revoked before ErrInvalidSession is returned.
func (m *SessionManager) ValidateRefreshToken(ctx context.Context, token string) (*model.Session, error) {
	s, err := m.sessions.FindByTokenHash(ctx, HashRefreshToken(token))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	if s.Revoked {
		return nil, ErrInvalidSession
	}
	if !m.now().Before(s.ExpiresAt) {
		if err := m.sessions.Revoke(ctx, s.ID); err != nil {
			log.Printf("sessions: soft revoke of expired session %s failed: %v", s.ID, err)
		}
		return nil, ErrInvalidSession
	}
	return &s, nil
}

// Refresh exchanges a refresh token for a new access token built from the user's current row
func (m *SessionManager) Refresh(ctx context.Context, token string) (string, error) {
	claims, err := m.codec.Verify(token)
	if err != nil {
		return "", ErrInvalidSession
	}
	if claims.Type != KindRefresh {
		return "", ErrInvalidSession
	}

	session, err := m.ValidateRefreshToken(ctx, token)
	if err != nil {
		return "", err
	}
	if session.UserID != claims.UserID {
		return "", ErrInvalidSession
	}

	user, err := m.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrInvalidSession
		}
		return "", fmt.Errorf("load user: %w", err)
	}
	if !user.CanSignIn() {
		if _, err := m.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
			log.Printf("sessions: revoke sessions of suspended user %s failed: %v", user.ID, err)
		}
		return "", ErrAccountSuspended
	}

	accessToken, err := m.codec.Issue(ClaimsForUser(user), KindAccess, m.accessTTL)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	return accessToken, nil
}

// Authenticate verifies an access token. Refresh tokens are rejected with ErrWrongTokenKind.
func (m *SessionManager) Authenticate(token string) (*Claims, error) {
	claims, err := m.codec.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Type != KindAccess {
		return nil, ErrWrongTokenKind
	}
	return claims, nil
}

// Revoke revokes one session; revoking an already revoked session succeeds
func (m *SessionManager) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	return m.sessions.Revoke(ctx, sessionID)
}

// RevokeByToken revokes the session holding token, if any
func (m *SessionManager) RevokeByToken(ctx context.Context, token string) (*model.Session, error) {
	s, err := m.sessions.FindByTokenHash(ctx, HashRefreshToken(token))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	if err := m.sessions.Revoke(ctx, s.ID); err != nil {
		return nil, err
	}
	return &s, nil
}

// RevokeAll revokes every live session of the user
func (m *SessionManager) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	_, err := m.sessions.RevokeAllForUser(ctx, userID)
	return err
}

// SweepExpired deletes expired or revoked sessions and returns how many were removed
func (m *SessionManager) SweepExpired(ctx context.Context) (int64, error) {
	return m.sessions.DeleteExpiredOrRevoked(ctx, m.now())
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IssueAccessToken mints a fresh access token for the user's current row
func (m *SessionManager) IssueAccessToken(user model.User) (string, error) {
	return m.codec.Issue(ClaimsForUser(user), KindAccess, m.accessTTL)
}
