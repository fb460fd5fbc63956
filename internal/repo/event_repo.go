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

// NewEvent holds the fields of an event about to be inserted
type NewEvent struct {
	Title              string
	StartAt            time.Time
	EndAt              time.Time
	CheckInBufferMins  int
	CheckOutBufferMins int
	VenueLat           float64
	VenueLng           float64
	GeofenceRadiusM    float64
}

// EventRepo defines the interface for event repository operations
type EventRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Event, error)
	GetByShortCode(ctx context.Context, code string) (model.Event, error)
	Create(ctx context.Context, e NewEvent) (model.Event, error)
	UpdateQRPayload(ctx context.Context, id uuid.UUID, payload string) error
	SetShortCode(ctx context.Context, id uuid.UUID, code string) error
	ShortCodeExists(ctx context.Context, code string) (bool, error)
}

type eventRepo struct {
	db *sql.DB
}

// NewEventRepo creates a new EventRepo instance
func NewEventRepo(db *sql.DB) EventRepo {
	return &eventRepo{db: db}
}

const eventColumns = `id, title, start_at, end_at, check_in_buffer_mins, check_out_buffer_mins,
	status, venue_lat, venue_lng, geofence_radius_m, qr_payload, short_code, created_at`

func scanEvent(row rowScanner) (model.Event, error) {
	var e model.Event
	var status string
	err := row.Scan(
		&e.ID,
		&e.Title,
		&e.StartAt,
		&e.EndAt,
		&e.CheckInBufferMins,
		&e.CheckOutBufferMins,
		&status,
		&e.VenueLat,
		&e.VenueLng,
		&e.GeofenceRadiusM,
		&e.QRPayload,
		&e.ShortCode,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Event{}, ErrNotFound
		}
		return model.Event{}, err
	}
	e.Status = model.EventStatus(status)
	return e, nil
}

// GetByID retrieves an event by ID
func (r *eventRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Event, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// GetByShortCode retrieves an event by its cleaned short code
func (r *eventRepo) GetByShortCode(ctx context.Context, code string) (model.Event, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE short_code = $1`, code))
	if err != nil {
		return model.Event{}, fmt.Errorf("get event by short code: %w", err)
	}
	return e, nil
}

// Create inserts a new active event
func (r *eventRepo) Create(ctx context.Context, ne NewEvent) (model.Event, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `
		INSERT INTO events (title, start_at, end_at, check_in_buffer_mins, check_out_buffer_mins,
		                    venue_lat, venue_lng, geofence_radius_m)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+eventColumns,
		ne.Title, ne.StartAt, ne.EndAt, ne.CheckInBufferMins, ne.CheckOutBufferMins,
		ne.VenueLat, ne.VenueLng, ne.GeofenceRadiusM,
	))
	if err != nil {
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// UpdateQRPayload replaces the stored QR payload snapshot
func (r *eventRepo) UpdateQRPayload(ctx context.Context, id uuid.UUID, payload string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE events SET qr_payload = $2 WHERE id = $1`, id, payload)
	if err != nil {
		return fmt.Errorf("update qr payload: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("update qr payload: %w", ErrNotFound)
	}
	return nil
}

// SetShortCode assigns the short entry code; a code held by another event yields ErrConflict
func (r *eventRepo) SetShortCode(ctx context.Context, id uuid.UUID, code string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE events SET short_code = $2 WHERE id = $1`, id, code)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("set short code: %w", ErrConflict)
		}
		return fmt.Errorf("set short code: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("set short code: %w", ErrNotFound)
	}
	return nil
}

// ShortCodeExists reports whether any event already uses code
func (r *eventRepo) ShortCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE short_code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("short code exists: %w", err)
	}
	return exists, nil
}
