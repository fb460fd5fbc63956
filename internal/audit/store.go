package audit

import (
	"context"

	"github.com/eventpass/server/internal/model"
	"github.com/eventpass/server/internal/repo"
)

// RepoStore saves consumed events as security_logs rows
type RepoStore struct {
	logs repo.SecurityLogRepo
}

// NewRepoStore creates a Store backed by the security log repository
func NewRepoStore(logs repo.SecurityLogRepo) *RepoStore {
	return &RepoStore{logs: logs}
}

// Save inserts e
func (s *RepoStore) Save(ctx context.Context, e Event) error {
	return s.logs.Insert(ctx, model.SecurityLog{
		EventType:  string(e.Type),
		UserID:     e.UserID,
		Email:      nonEmpty(e.Email),
		IP:         nonEmpty(e.IP),
		UserAgent:  nonEmpty(e.UserAgent),
		Detail:     nonEmpty(e.Detail),
		OccurredAt: e.At,
	})
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Publish lets RepoStore act as a Sink that writes straight to the database when no broker
// is configured
func (s *RepoStore) Publish(ctx context.Context, e Event) error {
	return s.Save(ctx, e)
}
