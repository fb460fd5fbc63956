package checkin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eventpass/server/internal/auth"
	"github.com/eventpass/server/internal/model"
	"github.com/eventpass/server/internal/ratelimit"
	"github.com/eventpass/server/internal/repo"
	"github.com/google/uuid"
)

type stubIdentity map[string]*auth.Claims

func (s stubIdentity) Authenticate(token string) (*auth.Claims, error) {
	c, ok := s[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return c, nil
}

type allowAll struct{}

func (allowAll) Check(context.Context, string) ratelimit.Result {
	return ratelimit.Result{Allowed: true, Limit: 100, Remaining: 99}
}

type fakeEvents struct {
	mu     sync.Mutex
	events map[uuid.UUID]*model.Event
	err    error
	// codeErr fails short code lookups
	codeErr error
}

func newFakeEvents(events ...model.Event) *fakeEvents {
	f := &fakeEvents{events: map[uuid.UUID]*model.Event{}}
	for i := range events {
		e := events[i]
		f.events[e.ID] = &e
	}
	return f
}

func (f *fakeEvents) GetByID(_ context.Context, id uuid.UUID) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Event{}, f.err
	}
	e, ok := f.events[id]
	if !ok {
		return model.Event{}, fmt.Errorf("get event: %w", repo.ErrNotFound)
	}
	return *e, nil
}

func (f *fakeEvents) GetByShortCode(_ context.Context, code string) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.ShortCode != nil && *e.ShortCode == code {
			return *e, nil
		}
	}
	return model.Event{}, repo.ErrNotFound
}

func (f *fakeEvents) Create(_ context.Context, ne repo.NewEvent) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &model.Event{ID: uuid.New(), Title: ne.Title, StartAt: ne.StartAt, EndAt: ne.EndAt, Status: model.EventActive}
	f.events[e.ID] = e
	return *e, nil
}

func (f *fakeEvents) UpdateQRPayload(_ context.Context, id uuid.UUID, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return repo.ErrNotFound
	}
	e.QRPayload = &payload
	return nil
}

func (f *fakeEvents) SetShortCode(_ context.Context, id uuid.UUID, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.ShortCode != nil && *e.ShortCode == code && e.ID != id {
			return repo.ErrConflict
		}
	}
	e, ok := f.events[id]
	if !ok {
		return repo.ErrNotFound
	}
	e.ShortCode = &code
	return nil
}

func (f *fakeEvents) ShortCodeExists(_ context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codeErr != nil {
		return false, f.codeErr
	}
	for _, e := range f.events {
		if e.ShortCode != nil && *e.ShortCode == code {
			return true, nil
		}
	}
	return false, nil
}

type attendanceKey struct{ event, user uuid.UUID }

// fakeAttendance enforces the (event, user) uniqueness like the table constraint
type fakeAttendance struct {
	mu   sync.Mutex
	rows map[attendanceKey]model.Attendance
	// existsHook runs after Exists, before the lock is retaken by Create
	existsHook func()
}

func newFakeAttendance() *fakeAttendance {
	return &fakeAttendance{rows: map[attendanceKey]model.Attendance{}}
}

func (f *fakeAttendance) Exists(_ context.Context, eventID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	_, ok := f.rows[attendanceKey{eventID, userID}]
	f.mu.Unlock()
	if f.existsHook != nil {
		f.existsHook()
	}
	return ok, nil
}

func (f *fakeAttendance) Create(_ context.Context, na repo.NewAttendance) (model.Attendance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := attendanceKey{na.EventID, na.UserID}
	if _, ok := f.rows[k]; ok {
		return model.Attendance{}, fmt.Errorf("insert attendance: %w", repo.ErrConflict)
	}
	a := model.Attendance{
		ID:        uuid.New(),
		EventID:   na.EventID,
		UserID:    na.UserID,
		CheckInAt: na.CheckInAt,
		Status:    model.VerificationPending,
		Lat:       na.Lat,
		Lng:       na.Lng,
		DistanceM: na.DistanceM,
		CreatedAt: time.Now(),
	}
	f.rows[k] = a
	return a, nil
}

func (f *fakeAttendance) CountForEvent(_ context.Context, eventID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k := range f.rows {
		if k.event == eventID {
			n++
		}
	}
	return n, nil
}
