package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eventpass/server/internal/model"
	"github.com/eventpass/server/internal/repo"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var testHasher = NewBcryptHasher(bcrypt.MinCost)

type fakeUsers struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*model.User
	calls map[string]int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[uuid.UUID]*model.User{}, calls: map[string]int{}}
}

func (f *fakeUsers) add(u model.User) model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = model.RoleStudent
	}
	if u.AccountStatus == "" {
		u.AccountStatus = model.AccountActive
	}
	f.byID[u.ID] = &u
	return u
}

func (f *fakeUsers) get(id uuid.UUID) model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.byID[id]
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return model.User{}, fmt.Errorf("get user: %w", repo.ErrNotFound)
	}
	return *u, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if strings.EqualFold(u.Email, email) {
			return *u, nil
		}
	}
	return model.User{}, fmt.Errorf("get user: %w", repo.ErrNotFound)
}

func (f *fakeUsers) Create(_ context.Context, nu repo.NewUser) (model.User, error) {
	f.mu.Lock()
	for _, u := range f.byID {
		if strings.EqualFold(u.Email, nu.Email) {
			f.mu.Unlock()
			return model.User{}, fmt.Errorf("insert user: %w", repo.ErrConflict)
		}
	}
	f.mu.Unlock()
	return f.add(model.User{
		Email:        nu.Email,
		Name:         nu.Name,
		PasswordHash: nu.PasswordHash,
		Role:         nu.Role,
		HasProfile:   nu.HasProfile,
		CreatedAt:    time.Now(),
	}), nil
}

func (f *fakeUsers) CompleteProfile(_ context.Context, id uuid.UUID, name string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return model.User{}, repo.ErrNotFound
	}
	u.Name, u.HasProfile = name, true
	return *u, nil
}

func (f *fakeUsers) IncrementTempPasswordUsage(_ context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok || u.TempPasswordHash == nil {
		return 0, repo.ErrNotFound
	}
	u.TempPasswordUsage++
	return u.TempPasswordUsage, nil
}

func (f *fakeUsers) Suspend(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return repo.ErrNotFound
	}
	f.calls["suspend"]++
	u.AccountStatus = model.AccountSuspended
	u.SuspendReason = &reason
	u.SuspendedAt = &at
	return nil
}

func (f *fakeUsers) SetTemporaryPassword(_ context.Context, id uuid.UUID, hash string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return repo.ErrNotFound
	}
	u.TempPasswordHash = &hash
	u.TempPasswordUsage = 0
	u.TempPasswordCreatedAt = &at
	return nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return repo.ErrNotFound
	}
	u.PasswordHash = hash
	u.TempPasswordHash = nil
	u.TempPasswordUsage = 0
	u.TempPasswordCreatedAt = nil
	return nil
}

// fakeSessions mirrors the transactional replace with a mutex
type fakeSessions struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{rows: map[uuid.UUID]*model.Session{}}
}

func (f *fakeSessions) ReplaceForUser(_ context.Context, ns repo.NewSession) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, s := range f.rows {
		if s.TokenHash == ns.TokenHash {
			return model.Session{}, repo.ErrConflict
		}
	}
	for _, s := range f.rows {
		if s.UserID == ns.UserID && !s.Revoked {
			s.Revoked = true
			s.RevokedAt = &now
		}
	}
	s := &model.Session{
		ID:        uuid.New(),
		UserID:    ns.UserID,
		TokenHash: ns.TokenHash,
		ExpiresAt: ns.ExpiresAt,
		CreatedAt: now,
		IP:        ns.IP,
		UserAgent: ns.UserAgent,
	}
	f.rows[s.ID] = s
	return *s, nil
}

func (f *fakeSessions) FindByTokenHash(_ context.Context, hash string) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.TokenHash == hash {
			return *s, nil
		}
	}
	return model.Session{}, fmt.Errorf("find session: %w", repo.ErrNotFound)
}

func (f *fakeSessions) Revoke(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.rows[id]; ok && !s.Revoked {
		now := time.Now()
		s.Revoked = true
		s.RevokedAt = &now
	}
	return nil
}

func (f *fakeSessions) RevokeAllForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.rows {
		if s.UserID == userID && !s.Revoked {
			s.Revoked = true
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) DeleteExpiredOrRevoked(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.rows {
		if s.Revoked || !now.Before(s.ExpiresAt) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) CountLive(_ context.Context, userID uuid.UUID, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.rows {
		if s.UserID == userID && !s.Revoked && now.Before(s.ExpiresAt) {
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) setExpiry(id uuid.UUID, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id].ExpiresAt = at
}

func (f *fakeSessions) byID(id uuid.UUID) model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}
